package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/immigration-portal/pkg/domain"
)

// SanitizeName trims a person or organisation name, drops control
// characters and collapses runs of whitespace to a single space.
// Escaping is left to whatever renders the value.
func SanitizeName(name string) string {
	return strings.Join(strings.Fields(stripControl(name, false)), " ")
}

// SanitizeText cleans free text such as notification bodies and audit
// reasons. Line breaks and tabs survive; other control characters do not.
func SanitizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(stripControl(text, true))
}

// ValidateStringLength checks value against min and max measured in
// characters. A zero bound is not enforced.
func ValidateStringLength(field, value string, min, max int) error {
	n := utf8.RuneCountInString(value)
	if min > 0 && n < min {
		if min == 1 {
			return domain.Validation("%s is required", field)
		}
		return domain.Validation("%s must be at least %d characters long", field, min)
	}
	if max > 0 && n > max {
		return domain.Validation("%s must be at most %d characters long", field, max)
	}
	return nil
}

func stripControl(s string, keepLines bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case keepLines && (r == '\n' || r == '\t'):
			return r
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
