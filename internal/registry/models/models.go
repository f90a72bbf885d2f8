// Package models defines the registry aggregates: housing units, subject
// records with encrypted contact fields and blind indexes, preference
// records, and the small read-only structures around them.
package models

import (
	"time"

	id "contactguard/pkg/domain"
)

// Unit is a physical premise identified by a stable external registry id.
// Units are created on first reference by import or resolver lookup and are
// never deleted; the id is stable for the system's lifetime.
type Unit struct {
	ID               id.UnitID
	Area             *float64
	Entrance         string
	Floor            *int
	Type             string
	Number           string // raw designator as supplied
	NormalizedNumber string // unitnum.Normalize(Number)
	CreatedAt        time.Time
}

// SubjectStatus is the validation state of a subject record.
type SubjectStatus string

const (
	// StatusPending counts against the per-unit pending ceiling.
	StatusPending SubjectStatus = "pending"
	// StatusValidated locks self-service preference edits.
	StatusValidated SubjectStatus = "validated"
	// StatusInactive records hold no decryptable PII: ciphertexts and
	// indexes are cleared together when a record is deactivated.
	StatusInactive SubjectStatus = "inactive"
)

// SubjectRecord is a stored contact entry for one unit. Contact values are
// ciphertexts; the matching blind index token is written and cleared together
// with each ciphertext, never independently.
type SubjectRecord struct {
	ID     id.SubjectID
	UnitID id.UnitID

	IsOwner bool

	PhoneEnc     string
	EmailEnc     string
	MessengerEnc string
	// HonorificEnc holds the encrypted "how to address" display name. It is
	// never indexed: nobody searches by honorific.
	HonorificEnc string

	PhoneIdx     string
	EmailIdx     string
	MessengerIdx string

	Status SubjectStatus
	// Provenance names the channel that produced the record (web, bot,
	// import).
	Provenance string
	// Origin is the submitting source address, when known.
	Origin string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasIndex reports whether the record holds a token for the given field.
func (r *SubjectRecord) HasIndex(field string) bool {
	switch field {
	case "phone":
		return r.PhoneIdx != ""
	case "email":
		return r.EmailIdx != ""
	case "messenger_id":
		return r.MessengerIdx != ""
	}
	return false
}

// Index returns the stored token for the given field.
func (r *SubjectRecord) Index(field string) string {
	switch field {
	case "phone":
		return r.PhoneIdx
	case "email":
		return r.EmailIdx
	case "messenger_id":
		return r.MessengerIdx
	}
	return ""
}

// PreferenceRecord is 1:1 with a subject record and holds the vote and
// amenity-preference answers. It is upserted by the reconciler only, never
// created independently.
type PreferenceRecord struct {
	SubjectID id.SubjectID
	// Stance is the barrier-installation position: "for", "against",
	// "abstain", or "" when never answered.
	Stance string
	// VoteFormat is "in_person", "remote", "any", or "".
	VoteFormat string
	// Registered reports registration on the remote-voting platform; nil
	// when never answered.
	Registered *bool
	UpdatedAt  time.Time
}

// Alias is one curated row of the directory mapping surface spellings of a
// unit type to its canonical name and short form. Read-only here; a sibling
// admin surface curates it.
type Alias struct {
	CanonicalType string
	ShortForm     string
	Surface       string
}

// UnrecognizedInput is a resolver miss kept for curation. Text is truncated
// before storage and the caller is identified only by a pseudonymous
// fingerprint, never raw identity.
type UnrecognizedInput struct {
	Text              string
	CallerFingerprint string
	CreatedAt         time.Time
}

// MaxUnrecognizedText caps the stored length of logged unrecognized input.
const MaxUnrecognizedText = 200
