// Package phone canonicalizes destination addresses into the digits-only
// international form the gateway expects ("6281234567890", no '+').
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// Normalize returns the digits-only international form of raw, or "" when
// raw holds no digits. Numbers written in national format (leading 0) are
// expanded with defaultRegion, e.g. "0812-3456-7890" in "ID".
func Normalize(raw, defaultRegion string) string {
	raw = strings.TrimSpace(raw)
	digits := Digits(raw)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		return digits
	}
	if strings.HasPrefix(digits, "00") {
		return strings.TrimLeft(digits, "0")
	}
	if digits[0] == '0' && defaultRegion != "" {
		num, err := phonenumbers.Parse(raw, strings.ToUpper(defaultRegion))
		if err != nil {
			return digits
		}
		return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+")
	}
	return digits
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
