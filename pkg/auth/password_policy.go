package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/immigration-portal/internal/config"
	"github.com/tendant/immigration-portal/pkg/domain"
)

// MaxPasswordLength bounds the input handed to the password hasher.
const MaxPasswordLength = 128

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// NewPasswordPolicy creates a PasswordPolicy from config.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        cfg.MinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
	}
}

type passwordRule struct {
	enabled bool
	want    string
	ok      func(string) bool
}

func (p *PasswordPolicy) rules() []passwordRule {
	return []passwordRule{
		{p.MinLength > 0, fmt.Sprintf("at least %d characters", p.MinLength), func(s string) bool {
			return utf8.RuneCountInString(s) >= p.MinLength
		}},
		{p.RequireUppercase, "an uppercase letter", containsRune(unicode.IsUpper)},
		{p.RequireLowercase, "a lowercase letter", containsRune(unicode.IsLower)},
		{p.RequireNumber, "a number", containsRune(unicode.IsDigit)},
		{p.RequireSpecial, "a special character", containsRune(isSpecial)},
	}
}

// ValidatePassword checks password against the policy and reports every
// unmet requirement in a single validation error. Length is counted in
// characters so names in any script count the same.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	if len(password) > MaxPasswordLength {
		return domain.Validation("password must be at most %d bytes long", MaxPasswordLength)
	}

	var missing []string
	for _, rule := range p.rules() {
		if rule.enabled && !rule.ok(password) {
			missing = append(missing, rule.want)
		}
	}
	if len(missing) > 0 {
		return domain.Validation("password must contain %s", strings.Join(missing, ", "))
	}
	return nil
}

func containsRune(pred func(rune) bool) func(string) bool {
	return func(s string) bool {
		return strings.IndexFunc(s, pred) >= 0
	}
}

func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}
