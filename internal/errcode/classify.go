package errcode

import (
	"regexp"
	"strings"

	"atabat-scraper/internal/digits"
)

// The portal only reports failures as Persian prose, so classification is
// substring matching. A wording change on the portal degrades to
// ReservationFailed rather than to a wrong code.
var (
	duplicatePhrases = []string{"قبلا ثبت", "قبلاً ثبت", "تکراری"}
	invalidPhrases   = []string{"مطابقت ندارد", "نامعتبر", "معتبر نیست", "صحیح نمی باشد", "صحیح نمیباشد", "اشتباه", "باید ۱۰ رقم", "باید 10 رقم"}
	expiredPhrases   = []string{"منقضی", "مجددا وارد", "مجدداً وارد"}
)

var nationalIDPattern = regexp.MustCompile(`\d{10}`)

var normalizer = strings.NewReplacer(
	"ي", "ی",
	"ك", "ک",
	"\u200c", " ",
	"\u200f", "",
)

func normalize(message string) string {
	return strings.Join(strings.Fields(normalizer.Replace(message)), " ")
}

// Classify maps a portal message to a code. An empty message yields "".
func Classify(message string) Code {
	msg := normalize(message)
	if msg == "" {
		return ""
	}
	switch {
	case containsAny(msg, duplicatePhrases):
		return PassengerDuplicate
	case strings.Contains(msg, "ظرفیت") && (strings.Contains(msg, "تکمیل") || strings.Contains(msg, "کافی نیست") || strings.Contains(msg, "پر شده")):
		return TripCapacityExhausted
	case containsAny(msg, expiredPhrases):
		return SessionExpired
	case containsAny(msg, invalidPhrases):
		return PassengerInvalid
	}
	return ReservationFailed
}

// IsFailureText reports whether message names a known failure phrase.
func IsFailureText(message string) bool {
	c := Classify(message)
	return c != "" && c != ReservationFailed
}

// ExtractNationalID returns the first 10-digit run in message, after
// normalizing localized digits.
func ExtractNationalID(message string) string {
	return nationalIDPattern.FindString(digits.ToEnglish(message))
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
