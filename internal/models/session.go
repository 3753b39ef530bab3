package models

import "time"

// Cookie is the persisted form of a browser cookie.
type Cookie struct {
	Name     string  `json:"name" bson:"name"`
	Value    string  `json:"value" bson:"value"`
	Domain   string  `json:"domain" bson:"domain"`
	Path     string  `json:"path" bson:"path"`
	Expires  float64 `json:"expires" bson:"expires"`
	HTTPOnly bool    `json:"httpOnly" bson:"httpOnly"`
	Secure   bool    `json:"secure" bson:"secure"`
	SameSite string  `json:"sameSite,omitempty" bson:"sameSite,omitempty"`
}

// SessionState is the persisted portal session record.
type SessionState struct {
	CookiesData        []Cookie   `json:"cookiesData" bson:"cookiesData"`
	CookiesExpireAt    *time.Time `json:"cookiesExpireAt,omitempty" bson:"cookiesExpireAt,omitempty"`
	LastAuthAt         *time.Time `json:"lastAuthAt,omitempty" bson:"lastAuthAt,omitempty"`
	CurrentOTP         string     `json:"currentOTP,omitempty" bson:"currentOTP,omitempty"`
	OTPLastUpdated     *time.Time `json:"otpLastUpdated,omitempty" bson:"otpLastUpdated,omitempty"`
	CaptchaMaxAttempts int        `json:"captchaMaxAttempts,omitempty" bson:"captchaMaxAttempts,omitempty"`
}

// CookieLifetime is the advisory validity window recorded after login.
const CookieLifetime = 24 * time.Hour

// RefreshResult is the scheduled OTP refresh output.
type RefreshResult struct {
	Success bool   `json:"success"`
	NewOTP  string `json:"newOTP,omitempty"`
	Error   string `json:"error,omitempty"`
}
