// Package digits converts Persian and Arabic-Indic numerals to ASCII.
package digits

import (
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var toASCII = runes.Map(func(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	}
	return r
})

// ToEnglish replaces every Persian or Arabic-Indic digit in s with its ASCII
// counterpart. Other characters are kept as is.
func ToEnglish(s string) string {
	out, _, err := transform.String(toASCII, s)
	if err != nil {
		return s
	}
	return out
}

// OnlyDigits keeps the ASCII digits of s after normalization.
func OnlyDigits(s string) string {
	s = ToEnglish(s)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
