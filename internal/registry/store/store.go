// Package store defines the persistence ports for the registry core and
// ships two implementations: an in-memory one for unit tests and wiring
// without infrastructure, and a PostgreSQL one for production. Both enforce
// the same sentinel-error contract.
package store

import (
	"context"

	"contactguard/internal/blindindex"
	"contactguard/internal/registry/models"
	id "contactguard/pkg/domain"
)

// UnitStore persists housing units and answers the resolver's equality
// queries. Units are never deleted.
type UnitStore interface {
	FindByID(ctx context.Context, unitID id.UnitID) (*models.Unit, error)
	// FindByTypeNumber matches on canonical type and normalized number.
	FindByTypeNumber(ctx context.Context, unitType, normalizedNumber string) ([]*models.Unit, error)
	// FindByTypeRawNumber matches on canonical type and the raw designator,
	// case-insensitively.
	FindByTypeRawNumber(ctx context.Context, unitType, rawNumber string) ([]*models.Unit, error)
	// FindByNumber matches the normalized number across all types.
	FindByNumber(ctx context.Context, normalizedNumber string) ([]*models.Unit, error)
	// FindByRawNumber matches the raw designator case-insensitively across
	// all types.
	FindByRawNumber(ctx context.Context, rawNumber string) ([]*models.Unit, error)
	// ListByEntrance returns every unit of one entrance (canary scope).
	ListByEntrance(ctx context.Context, entrance string) ([]*models.Unit, error)
	// List returns every known unit (fuzzy scoring corpus; the directory is
	// small and curated).
	List(ctx context.Context) ([]*models.Unit, error)
	// CreateIfAbsent inserts the unit unless its id already exists. Creating
	// is idempotent: an existing id is not an error and is left untouched.
	CreateIfAbsent(ctx context.Context, unit *models.Unit) error
}

// Enrichment carries the field additions applied to an existing subject
// record. A nil field is left unchanged. Ciphertext and token always travel
// together.
type Enrichment struct {
	Phone     *EncryptedField
	Email     *EncryptedField
	Messenger *EncryptedField
	Honorific *string // ciphertext; honorifics carry no index
}

// EncryptedField pairs a ciphertext with its blind index token.
type EncryptedField struct {
	Cipher string
	Token  string
}

// Empty reports whether the enrichment changes nothing.
func (e Enrichment) Empty() bool {
	return e.Phone == nil && e.Email == nil && e.Messenger == nil && e.Honorific == nil
}

// SubjectStore persists subject records. FindByIndex is the only search
// path: equality on blind index tokens, never on plaintext.
type SubjectStore interface {
	FindByID(ctx context.Context, subjectID id.SubjectID) (*models.SubjectRecord, error)
	// FindByIndex returns the first non-inactive record on the unit whose
	// stored token for the kind equals token, or sentinel.ErrNotFound.
	FindByIndex(ctx context.Context, unitID id.UnitID, kind blindindex.Kind, token string) (*models.SubjectRecord, error)
	Insert(ctx context.Context, record *models.SubjectRecord) error
	// Enrich applies field additions and bumps the update timestamp.
	Enrich(ctx context.Context, subjectID id.SubjectID, enrichment Enrichment) error
	// Touch bumps the update timestamp without changing fields.
	Touch(ctx context.Context, subjectID id.SubjectID) error
	CountPending(ctx context.Context, unitID id.UnitID) (int, error)
	// MarkValidated transitions pending -> validated (privileged review).
	MarkValidated(ctx context.Context, subjectID id.SubjectID) error
	// Deactivate sets status inactive and clears all ciphertexts and blind
	// indexes in the same write, so an inactive record holds no decryptable
	// PII.
	Deactivate(ctx context.Context, subjectID id.SubjectID) error
}

// PreferenceStore persists the 1:1 preference record of a subject.
type PreferenceStore interface {
	Get(ctx context.Context, subjectID id.SubjectID) (*models.PreferenceRecord, error)
	Upsert(ctx context.Context, record *models.PreferenceRecord) error
}

// AliasStore reads the curated alias directory.
type AliasStore interface {
	List(ctx context.Context) ([]models.Alias, error)
}

// UnrecognizedStore records resolver misses for later curation. Writes are
// best-effort; callers log failures and move on.
type UnrecognizedStore interface {
	Log(ctx context.Context, input models.UnrecognizedInput) error
}
