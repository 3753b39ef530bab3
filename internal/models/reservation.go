package models

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"atabat-scraper/internal/digits"
	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/jalali"
)

// PassengerInput is one traveller submitted to the registration form.
type PassengerInput struct {
	NationalID string `json:"nationalId" bson:"nationalId"`
	Birthdate  string `json:"birthdate" bson:"birthdate"`
	Phone      string `json:"phone" bson:"phone"`
}

// Validation messages mirror the portal's own wording so callers see the
// same text whether a value was rejected locally or by the portal.
const (
	MsgNationalIDLength = "کد ملی باید ۱۰ رقم باشد"
	MsgBirthdateInvalid = "تاریخ تولد معتبر نیست"
	MsgPhoneInvalid     = "شماره تلفن معتبر نیست"
	MsgCapacityFull     = "ظرفیت سفر تکمیل شده است"
	MsgDuplicate        = "کد ملی قبلا ثبت شده است"
)

var (
	nationalIDPattern = regexp.MustCompile(`^\d{10}$`)
	phonePattern      = regexp.MustCompile(`^09\d{9}$`)
)

// Normalize trims the fields and converts localized digits.
func (p PassengerInput) Normalize() PassengerInput {
	return PassengerInput{
		NationalID: digits.ToEnglish(strings.TrimSpace(p.NationalID)),
		Birthdate:  digits.ToEnglish(strings.TrimSpace(p.Birthdate)),
		Phone:      digits.ToEnglish(strings.TrimSpace(p.Phone)),
	}
}

// Validate checks a normalized passenger. The returned error carries
// PassengerInvalid and the user-facing message.
func (p PassengerInput) Validate() error {
	if !nationalIDPattern.MatchString(p.NationalID) {
		return errcode.New(errcode.PassengerInvalid, MsgNationalIDLength)
	}
	if !jalali.Valid(p.Birthdate) {
		return errcode.New(errcode.PassengerInvalid, MsgBirthdateInvalid)
	}
	if !phonePattern.MatchString(p.Phone) {
		return errcode.New(errcode.PassengerInvalid, MsgPhoneInvalid)
	}
	return nil
}

// PrepareRoster normalizes passengers and rejects an empty or malformed list,
// or one naming the same national ID twice, before any portal work.
func PrepareRoster(passengers []PassengerInput) ([]PassengerInput, *ReservationOutcome) {
	if len(passengers) == 0 {
		out := Failed(errcode.InvalidParams, "at least one passenger is required")
		return nil, &out
	}
	seen := map[string]bool{}
	normalized := make([]PassengerInput, 0, len(passengers))
	for _, in := range passengers {
		ps := in.Normalize()
		if err := ps.Validate(); err != nil {
			msg := err.Error()
			var e *errcode.Error
			if errors.As(err, &e) {
				msg = e.Message
			}
			out := Failed(errcode.PassengerInvalid, msg)
			out.PassengerResults = []PassengerResult{{NationalID: ps.NationalID, Message: msg, Code: out.Code}}
			return nil, &out
		}
		if seen[ps.NationalID] {
			out := Failed(errcode.PassengerDuplicate, MsgDuplicate)
			out.DuplicateNationalID = ps.NationalID
			return nil, &out
		}
		seen[ps.NationalID] = true
		normalized = append(normalized, ps)
	}
	return normalized, nil
}

// PassengerResult is the outcome of adding one passenger.
type PassengerResult struct {
	NationalID string       `json:"nationalId" bson:"nationalId"`
	Success    bool         `json:"success" bson:"success"`
	Message    string       `json:"message,omitempty" bson:"message,omitempty"`
	Code       errcode.Code `json:"code,omitempty" bson:"code,omitempty"`
}

// ReservationOutcome is what a create-reservation attempt resolves to.
// Failures are values here, never errors.
type ReservationOutcome struct {
	Success                bool              `json:"success"`
	ExternalReservationID  string            `json:"externalReservationId,omitempty"`
	Code                   errcode.Code      `json:"code,omitempty"`
	Message                string            `json:"message,omitempty"`
	Warning                string            `json:"warning,omitempty"`
	RequiredPassengerCount int               `json:"requiredPassengerCount,omitempty"`
	DuplicateNationalID    string            `json:"duplicateNationalId,omitempty"`
	PassengerResults       []PassengerResult `json:"passengerResults,omitempty"`
}

// Failed builds an unsuccessful outcome.
func Failed(code errcode.Code, message string) ReservationOutcome {
	return ReservationOutcome{Code: code, Message: message}
}

type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusPaid      ReservationStatus = "paid"
	StatusCancelled ReservationStatus = "cancelled"
)

// Reservation is the booking application's record of a portal reservation.
type Reservation struct {
	ID              string            `json:"id" bson:"_id"`
	ExternalResID   string            `json:"externalResId" bson:"externalResId"`
	Status          ReservationStatus `json:"status" bson:"status"`
	TripSnapshot    TripRecord        `json:"tripSnapshot" bson:"tripSnapshot"`
	Passengers      []PassengerInput  `json:"passengers" bson:"passengers"`
	ReceiptData     *ReceiptRecord    `json:"receiptData,omitempty" bson:"receiptData,omitempty"`
	LastValidatedAt *time.Time        `json:"lastValidatedAt,omitempty" bson:"lastValidatedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt" bson:"updatedAt"`
}

// ValidationUpdate is the read-time side effect of an existence check.
type ValidationUpdate struct {
	Status          *ReservationStatus `json:"status,omitempty" bson:"status,omitempty"`
	LastValidatedAt time.Time          `json:"lastValidatedAt" bson:"lastValidatedAt"`
}
