package auth

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/tendant/immigration-portal/pkg/domain"
)

// Throwaway inbox providers refused when BlockDisposable is set.
var disposableDomains = map[string]bool{
	"tempmail.com":      true,
	"10minutemail.com":  true,
	"guerrillamail.com": true,
	"mailinator.com":    true,
	"throwaway.email":   true,
	"yopmail.com":       true,
	"trashmail.com":     true,
}

// Stricter than RFC 5322: no quoted local parts, no IP literals.
var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+$`)

const maxEmailLength = 254 // RFC 5321

// EmailRules controls how strictly account and contact addresses are checked.
type EmailRules struct {
	Strict          bool
	BlockDisposable bool
}

// Check validates email and returns it normalized. field names the input in
// error messages.
func (r EmailRules) Check(field, email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", domain.Validation("%s is required", field)
	}
	if len(normalized) > maxEmailLength {
		return "", domain.Validation("%s is too long (max %d characters)", field, maxEmailLength)
	}

	// A display name ("Ana <ana@example.com>") parses but is not an address.
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", domain.Validation("%s is not a valid email address", field)
	}
	if r.Strict && !emailRegex.MatchString(normalized) {
		return "", domain.Validation("%s is not a valid email address", field)
	}
	if r.BlockDisposable && disposableDomains[emailDomain(normalized)] {
		return "", domain.Validation("disposable email addresses are not allowed")
	}
	return normalized, nil
}

// CheckOptional is Check for fields that may be left blank.
func (r EmailRules) CheckOptional(field, email string) (string, error) {
	if strings.TrimSpace(email) == "" {
		return "", nil
	}
	return r.Check(field, email)
}

// NormalizeEmail normalizes an email address by lowercasing and trimming.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func emailDomain(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return email[at+1:]
}
