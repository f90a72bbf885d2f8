package models

import (
	"regexp"
	"strings"

	"contactguard/internal/blindindex"
	dErrors "contactguard/pkg/domain-errors"
)

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidatePhone accepts the empty value (absence is legal) or anything that
// normalizes to the canonical 7-prefixed 11-digit form.
func ValidatePhone(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	digits := blindindex.NormalizePhone(value)
	if len(digits) != 11 || !strings.HasPrefix(digits, "7") {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid phone format").With(dErrors.MetaFields, "phone")
	}
	return nil
}

// ValidateEmail accepts the empty value or a syntactically plausible address
// of at most 254 characters.
func ValidateEmail(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	s := strings.ToLower(strings.TrimSpace(value))
	if len(s) > 254 || !emailRe.MatchString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid email format").With(dErrors.MetaFields, "email")
	}
	return nil
}

// ValidateMessengerID accepts the empty value, an "@username" of 2–32
// characters, or a numeric id of at most 20 digits.
func ValidateMessengerID(value string) error {
	s := strings.TrimSpace(value)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "@") {
		if len(s) < 2 || len(s) > 32 {
			return dErrors.New(dErrors.CodeInvalidInput, "invalid messenger id format").With(dErrors.MetaFields, "messenger_id")
		}
		return nil
	}
	if len(s) > 20 {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid messenger id format").With(dErrors.MetaFields, "messenger_id")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return dErrors.New(dErrors.CodeInvalidInput, "invalid messenger id format").With(dErrors.MetaFields, "messenger_id")
		}
	}
	return nil
}
