package bale

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"atabat-scraper/internal/digits"
)

// Message format: "*سازمان حج و زیارت* کد موقت امروز شما برای ورود به سامانه 12345 .می باشد"
var otpPattern = regexp.MustCompile(`سامانه\s+(\d+)\s*\.?\s*می`)

var spaces = strings.NewReplacer("\u00a0", " ", "\u200c", " ", "\u200f", "")

// ParseMessages returns the text of every message item, oldest first.
func ParseMessages(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find(selMessage).Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

// ExtractOTP pulls the code out of one operator message.
func ExtractOTP(text string) string {
	m := otpPattern.FindStringSubmatch(digits.ToEnglish(spaces.Replace(text)))
	if m == nil {
		return ""
	}
	return m[1]
}

// LatestOTP scans messages newest-first for one from sender carrying a code.
func LatestOTP(messages []string, sender string) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if !strings.Contains(messages[i], sender) {
			continue
		}
		if otp := ExtractOTP(messages[i]); otp != "" {
			return otp
		}
	}
	return ""
}
