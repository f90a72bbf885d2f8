// Package domain holds typed identifiers shared across the registry core.
// Distinct types keep a unit id from ever being passed where a subject id is
// expected; the compiler enforces it.
package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "contactguard/pkg/domain-errors"
)

// UnitID is the stable external registry identifier of a housing unit
// (cadastral-style, e.g. "77:01:0001001:101"). Units are never deleted and
// the id never changes once created.
type UnitID string

// unitIDPattern is the strict external-registry-id form. Free text matching
// it exactly is resolved by direct lookup.
var unitIDPattern = regexp.MustCompile(`^\d{2}:\d{2}:\d{6,7}:\d+$`)

// ParseUnitID validates the strict external registry id form.
func ParseUnitID(s string) (UnitID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unit id cannot be empty")
	}
	if !unitIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unit id does not match registry format")
	}
	return UnitID(s), nil
}

// IsUnitID reports whether s is exactly the strict registry id form.
func IsUnitID(s string) bool { return unitIDPattern.MatchString(s) }

func (u UnitID) String() string { return string(u) }

// SubjectID identifies a stored contact entry (subject record).
type SubjectID uuid.UUID

// NewSubjectID returns a fresh random subject id.
func NewSubjectID() SubjectID { return SubjectID(uuid.New()) }

// ParseSubjectID rejects empty, malformed, and nil UUIDs.
func ParseSubjectID(s string) (SubjectID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SubjectID{}, dErrors.New(dErrors.CodeInvalidInput, "subject id must be a valid UUID")
	}
	if u == uuid.Nil {
		return SubjectID{}, dErrors.New(dErrors.CodeInvalidInput, "subject id cannot be the nil UUID")
	}
	return SubjectID(u), nil
}

func (s SubjectID) String() string { return uuid.UUID(s).String() }

// IsZero reports whether the id is unset.
func (s SubjectID) IsZero() bool { return uuid.UUID(s) == uuid.Nil }

// CanaryID identifies an issued watermark record.
type CanaryID uuid.UUID

// NewCanaryID returns a fresh random canary id.
func NewCanaryID() CanaryID { return CanaryID(uuid.New()) }

// ParseCanaryID rejects empty and malformed UUIDs.
func ParseCanaryID(s string) (CanaryID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CanaryID{}, dErrors.New(dErrors.CodeInvalidInput, "canary id must be a valid UUID")
	}
	return CanaryID(u), nil
}

func (c CanaryID) String() string { return uuid.UUID(c).String() }

// OperatorID identifies the operator an export or view is attributed to.
// Operators are managed by a sibling subsystem; here it is an opaque handle.
type OperatorID string

func (o OperatorID) String() string { return string(o) }
