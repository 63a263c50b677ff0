package service

import (
	"regexp"
	"strings"
)

const CountryCode = "254"

var (
	nonDigits    = regexp.MustCompile(`\D`)
	phonePattern = regexp.MustCompile(`^254[7-9][0-9]{8}$`)
)

// NormalizePhone rewrites a phone number to international form: non-digits
// are dropped, a leading trunk zero becomes the country code, and the country
// code is prepended when missing. It is pure and idempotent.
func NormalizePhone(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if strings.HasPrefix(digits, "0") {
		return CountryCode + digits[1:]
	}
	if !strings.HasPrefix(digits, CountryCode) {
		return CountryCode + digits
	}
	return digits
}

// ValidatePhone normalizes raw and checks it against the carrier pattern.
func ValidatePhone(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrMissingPhone
	}
	phone := NormalizePhone(raw)
	if !phonePattern.MatchString(phone) {
		return "", ErrInvalidPhone
	}
	return phone, nil
}
