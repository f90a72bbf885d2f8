// Package blindindex derives deterministic equality-search tokens from
// contact field values. A token is HMAC-SHA256(pepper, normalized value) in
// hex: equal normalized values always produce equal tokens, so lookups work
// without ever decrypting, and the pepper keeps tokens one-way.
package blindindex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Kind selects the per-field normalization applied before hashing.
type Kind string

const (
	KindPhone     Kind = "phone"
	KindEmail     Kind = "email"
	KindMessenger Kind = "messenger_id"
)

// MatchOrder is the reconciler's documented match precedence: first supplied
// index that hits an existing record wins. Kept in one place so the
// tie-break stays explicit and testable.
var MatchOrder = []Kind{KindPhone, KindEmail, KindMessenger}

// Deriver computes blind index tokens. A Deriver without a pepper is valid
// but disabled: indexing is then off system-wide, which is an accepted
// configuration state, not an error.
type Deriver struct {
	pepper []byte
}

// NewDeriver builds a Deriver from the configured pepper. Empty pepper
// disables indexing.
func NewDeriver(pepper string) *Deriver {
	if pepper == "" {
		return &Deriver{}
	}
	return &Deriver{pepper: []byte(pepper)}
}

// Enabled reports whether a pepper is configured.
func (d *Deriver) Enabled() bool { return len(d.pepper) > 0 }

// Derive returns the token for a raw field value. ok is false when indexing
// is disabled or the value normalizes to empty; absence is never indexed.
func (d *Deriver) Derive(kind Kind, raw string) (token string, ok bool) {
	if !d.Enabled() {
		return "", false
	}
	n := Normalize(kind, raw)
	if n == "" {
		return "", false
	}
	mac := hmac.New(sha256.New, d.pepper)
	mac.Write([]byte(n))
	return hex.EncodeToString(mac.Sum(nil)), true
}

// Normalize folds a raw value into its canonical form for the given kind.
// Logically identical inputs in any surface form must normalize identically;
// this carries the no-false-negatives invariant for blind index equality.
func Normalize(kind Kind, raw string) string {
	switch kind {
	case KindPhone:
		return NormalizePhone(raw)
	case KindEmail:
		return normalizeEmail(raw)
	case KindMessenger:
		return strings.TrimSpace(raw)
	default:
		return ""
	}
}

// NormalizePhone reduces a phone string to its canonical digit form:
// digits only, leading "8" on an 11-digit number becomes "7", a bare
// 10-digit number gets a "7" prefix, capped at 11 digits. Exported because
// field validation shares the same canonical form.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if strings.HasPrefix(digits, "8") && len(digits) >= 11 {
		digits = "7" + digits[1:]
	} else if len(digits) == 10 {
		digits = "7" + digits
	}
	if len(digits) > 11 {
		digits = digits[:11]
	}
	return digits
}

func normalizeEmail(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(s, " ", "")
}
