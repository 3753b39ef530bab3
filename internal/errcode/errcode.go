// Package errcode defines the stable error codes callers branch on and maps
// portal message text onto them.
package errcode

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidParams    Code = "INVALID_PARAMS"
	AuthFailed       Code = "AUTH_FAILED"
	CaptchaExhausted Code = "AUTH_CAPTCHA_EXHAUSTED"
	OTPRejected      Code = "AUTH_OTP_REJECTED"
	OTPUnavailable   Code = "AUTH_OTP_UNAVAILABLE"
	SessionExpired   Code = "SESSION_EXPIRED"

	TripSearchFailed      Code = "TRIP_SEARCH_FAILED"
	TripNotFound          Code = "TRIP_NOT_FOUND"
	TripCapacityExhausted Code = "TRIP_CAPACITY_EXHAUSTED"

	InsufficientPassengers Code = "RESERVATION_INSUFFICIENT_PASSENGERS"
	PassengerDuplicate     Code = "RESERVATION_PASSENGER_DUPLICATE"
	PassengerInvalid       Code = "RESERVATION_PASSENGER_INVALID"
	ReservationFailed      Code = "RESERVATION_CREATE_FAILED"
	UnknownState           Code = "RESERVATION_UNKNOWN_STATE"
	ReceiptFetchFailed     Code = "RECEIPT_FETCH_FAILED"
	ReservationNotFound    Code = "RESERVATION_NOT_FOUND"

	Transient Code = "TRANSIENT_FAILURE"
)

type Category string

const (
	CategoryTransient     Category = "transient"
	CategoryBusiness      Category = "business"
	CategoryIndeterminate Category = "indeterminate"
	CategoryContract      Category = "contract"
)

// Category groups a code into the four failure families.
func (c Code) Category() Category {
	switch c {
	case InvalidParams:
		return CategoryContract
	case UnknownState:
		return CategoryIndeterminate
	case TripNotFound, TripCapacityExhausted, InsufficientPassengers,
		PassengerDuplicate, PassengerInvalid, ReservationFailed,
		ReservationNotFound, SessionExpired, OTPRejected:
		return CategoryBusiness
	}
	return CategoryTransient
}

// Error carries a code, the portal or local message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or Transient
// for any other non-nil error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Transient
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
