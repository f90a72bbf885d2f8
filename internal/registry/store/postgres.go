package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"contactguard/internal/blindindex"
	"contactguard/internal/registry/models"
	id "contactguard/pkg/domain"
	"contactguard/pkg/platform/sentinel"
	"contactguard/pkg/platform/tx"
	"contactguard/pkg/requestcontext"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the embedded schema. Integration tests bootstrap
// throwaway databases with it; deployments run real migrations.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx so every store method joins a
// surrounding transaction when one travels in the context.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func runner(ctx context.Context, db *sql.DB) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return db
}

const unitColumns = "id, area, entrance, floor, unit_type, number, normalized_number, created_at"

// PostgresUnits is the PostgreSQL UnitStore.
type PostgresUnits struct {
	db *sql.DB
}

func NewPostgresUnits(db *sql.DB) *PostgresUnits { return &PostgresUnits{db: db} }

func (s *PostgresUnits) FindByID(ctx context.Context, unitID id.UnitID) (*models.Unit, error) {
	row := runner(ctx, s.db).QueryRowContext(ctx,
		"SELECT "+unitColumns+" FROM units WHERE id = $1", unitID.String())
	return scanUnit(row)
}

func (s *PostgresUnits) FindByTypeNumber(ctx context.Context, unitType, normalizedNumber string) ([]*models.Unit, error) {
	return s.query(ctx,
		"SELECT "+unitColumns+" FROM units WHERE unit_type = $1 AND normalized_number = $2 ORDER BY created_at",
		unitType, normalizedNumber)
}

func (s *PostgresUnits) FindByTypeRawNumber(ctx context.Context, unitType, rawNumber string) ([]*models.Unit, error) {
	return s.query(ctx,
		"SELECT "+unitColumns+" FROM units WHERE unit_type = $1 AND LOWER(number) = LOWER($2) ORDER BY created_at",
		unitType, rawNumber)
}

func (s *PostgresUnits) FindByNumber(ctx context.Context, normalizedNumber string) ([]*models.Unit, error) {
	return s.query(ctx,
		"SELECT "+unitColumns+" FROM units WHERE normalized_number = $1 ORDER BY created_at", normalizedNumber)
}

func (s *PostgresUnits) FindByRawNumber(ctx context.Context, rawNumber string) ([]*models.Unit, error) {
	return s.query(ctx,
		"SELECT "+unitColumns+" FROM units WHERE LOWER(number) = LOWER($1) ORDER BY created_at", rawNumber)
}

func (s *PostgresUnits) ListByEntrance(ctx context.Context, entrance string) ([]*models.Unit, error) {
	return s.query(ctx,
		"SELECT "+unitColumns+" FROM units WHERE entrance = $1 ORDER BY created_at", entrance)
}

func (s *PostgresUnits) List(ctx context.Context) ([]*models.Unit, error) {
	return s.query(ctx, "SELECT "+unitColumns+" FROM units ORDER BY created_at")
}

func (s *PostgresUnits) CreateIfAbsent(ctx context.Context, unit *models.Unit) error {
	_, err := runner(ctx, s.db).ExecContext(ctx,
		`INSERT INTO units (id, area, entrance, floor, unit_type, number, normalized_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		unit.ID.String(), unit.Area, unit.Entrance, unit.Floor,
		unit.Type, unit.Number, unit.NormalizedNumber, requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	return nil
}

func (s *PostgresUnits) query(ctx context.Context, q string, args ...any) ([]*models.Unit, error) {
	rows, err := runner(ctx, s.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()
	var out []*models.Unit
	for rows.Next() {
		u, err := scanUnitRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func scanUnit(row *sql.Row) (*models.Unit, error) {
	var u models.Unit
	var uid string
	err := row.Scan(&uid, &u.Area, &u.Entrance, &u.Floor, &u.Type, &u.Number, &u.NormalizedNumber, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan unit: %w", err)
	}
	u.ID = id.UnitID(uid)
	return &u, nil
}

func scanUnitRows(rows *sql.Rows) (*models.Unit, error) {
	var u models.Unit
	var uid string
	if err := rows.Scan(&uid, &u.Area, &u.Entrance, &u.Floor, &u.Type, &u.Number, &u.NormalizedNumber, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan unit: %w", err)
	}
	u.ID = id.UnitID(uid)
	return &u, nil
}

const subjectColumns = `id, unit_id, is_owner, phone_enc, email_enc, messenger_enc, honorific_enc,
	phone_idx, email_idx, messenger_idx, status, provenance, origin, created_at, updated_at`

var indexColumnByKind = map[blindindex.Kind]string{
	blindindex.KindPhone:     "phone_idx",
	blindindex.KindEmail:     "email_idx",
	blindindex.KindMessenger: "messenger_idx",
}

// PostgresSubjects is the PostgreSQL SubjectStore.
type PostgresSubjects struct {
	db *sql.DB
}

func NewPostgresSubjects(db *sql.DB) *PostgresSubjects { return &PostgresSubjects{db: db} }

func (s *PostgresSubjects) FindByID(ctx context.Context, subjectID id.SubjectID) (*models.SubjectRecord, error) {
	row := runner(ctx, s.db).QueryRowContext(ctx,
		"SELECT "+subjectColumns+" FROM subjects WHERE id = $1", subjectID.String())
	return scanSubject(row.Scan)
}

func (s *PostgresSubjects) FindByIndex(ctx context.Context, unitID id.UnitID, kind blindindex.Kind, token string) (*models.SubjectRecord, error) {
	col, ok := indexColumnByKind[kind]
	if !ok || token == "" {
		return nil, sentinel.ErrNotFound
	}
	row := runner(ctx, s.db).QueryRowContext(ctx,
		"SELECT "+subjectColumns+" FROM subjects WHERE unit_id = $1 AND "+col+" = $2 AND status <> 'inactive' ORDER BY created_at LIMIT 1",
		unitID.String(), token)
	return scanSubject(row.Scan)
}

func (s *PostgresSubjects) Insert(ctx context.Context, record *models.SubjectRecord) error {
	now := requestcontext.Now(ctx)
	_, err := runner(ctx, s.db).ExecContext(ctx,
		`INSERT INTO subjects (id, unit_id, is_owner, phone_enc, email_enc, messenger_enc, honorific_enc,
		                       phone_idx, email_idx, messenger_idx, status, provenance, origin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		record.ID.String(), record.UnitID.String(), record.IsOwner,
		record.PhoneEnc, record.EmailEnc, record.MessengerEnc, record.HonorificEnc,
		record.PhoneIdx, record.EmailIdx, record.MessengerIdx,
		string(record.Status), record.Provenance, record.Origin, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

func (s *PostgresSubjects) Enrich(ctx context.Context, subjectID id.SubjectID, enrichment Enrichment) error {
	set := "updated_at = $2"
	args := []any{subjectID.String(), requestcontext.Now(ctx)}
	add := func(cipherCol, tokenCol string, f *EncryptedField) {
		if f == nil {
			return
		}
		args = append(args, f.Cipher)
		set += fmt.Sprintf(", %s = $%d", cipherCol, len(args))
		args = append(args, f.Token)
		set += fmt.Sprintf(", %s = $%d", tokenCol, len(args))
	}
	add("phone_enc", "phone_idx", enrichment.Phone)
	add("email_enc", "email_idx", enrichment.Email)
	add("messenger_enc", "messenger_idx", enrichment.Messenger)
	if enrichment.Honorific != nil {
		args = append(args, *enrichment.Honorific)
		set += fmt.Sprintf(", honorific_enc = $%d", len(args))
	}

	res, err := runner(ctx, s.db).ExecContext(ctx, "UPDATE subjects SET "+set+" WHERE id = $1", args...)
	if err != nil {
		return fmt.Errorf("enrich subject: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresSubjects) Touch(ctx context.Context, subjectID id.SubjectID) error {
	res, err := runner(ctx, s.db).ExecContext(ctx,
		"UPDATE subjects SET updated_at = $2 WHERE id = $1",
		subjectID.String(), requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("touch subject: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresSubjects) CountPending(ctx context.Context, unitID id.UnitID) (int, error) {
	var n int
	err := runner(ctx, s.db).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM subjects WHERE unit_id = $1 AND status = 'pending'",
		unitID.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

func (s *PostgresSubjects) MarkValidated(ctx context.Context, subjectID id.SubjectID) error {
	res, err := runner(ctx, s.db).ExecContext(ctx,
		"UPDATE subjects SET status = 'validated', updated_at = $2 WHERE id = $1 AND status = 'pending'",
		subjectID.String(), requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("mark validated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either absent or not pending; let the caller disambiguate.
		if _, ferr := s.FindByID(ctx, subjectID); ferr != nil {
			return ferr
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresSubjects) Deactivate(ctx context.Context, subjectID id.SubjectID) error {
	// Ciphertexts and indexes clear in one statement: the invariant that
	// they are written and cleared together holds even mid-crash.
	res, err := runner(ctx, s.db).ExecContext(ctx,
		`UPDATE subjects SET phone_enc = '', email_enc = '', messenger_enc = '', honorific_enc = '',
		        phone_idx = '', email_idx = '', messenger_idx = '', status = 'inactive', updated_at = $2
		 WHERE id = $1`,
		subjectID.String(), requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("deactivate subject: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanSubject(scan func(...any) error) (*models.SubjectRecord, error) {
	var r models.SubjectRecord
	var sid, uid, status string
	err := scan(&sid, &uid, &r.IsOwner, &r.PhoneEnc, &r.EmailEnc, &r.MessengerEnc, &r.HonorificEnc,
		&r.PhoneIdx, &r.EmailIdx, &r.MessengerIdx, &status, &r.Provenance, &r.Origin, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan subject: %w", err)
	}
	parsed, err := id.ParseSubjectID(sid)
	if err != nil {
		return nil, err
	}
	r.ID = parsed
	r.UnitID = id.UnitID(uid)
	r.Status = models.SubjectStatus(status)
	return &r, nil
}

// PostgresPreferences is the PostgreSQL PreferenceStore.
type PostgresPreferences struct {
	db *sql.DB
}

func NewPostgresPreferences(db *sql.DB) *PostgresPreferences { return &PostgresPreferences{db: db} }

func (s *PostgresPreferences) Get(ctx context.Context, subjectID id.SubjectID) (*models.PreferenceRecord, error) {
	var p models.PreferenceRecord
	var sid string
	err := runner(ctx, s.db).QueryRowContext(ctx,
		"SELECT subject_id, stance, vote_format, registered, updated_at FROM preferences WHERE subject_id = $1",
		subjectID.String()).Scan(&sid, &p.Stance, &p.VoteFormat, &p.Registered, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	parsed, err := id.ParseSubjectID(sid)
	if err != nil {
		return nil, err
	}
	p.SubjectID = parsed
	return &p, nil
}

func (s *PostgresPreferences) Upsert(ctx context.Context, record *models.PreferenceRecord) error {
	_, err := runner(ctx, s.db).ExecContext(ctx,
		`INSERT INTO preferences (subject_id, stance, vote_format, registered, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subject_id) DO UPDATE
		 SET stance = EXCLUDED.stance, vote_format = EXCLUDED.vote_format,
		     registered = EXCLUDED.registered, updated_at = EXCLUDED.updated_at`,
		record.SubjectID.String(), record.Stance, record.VoteFormat, record.Registered,
		requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// PostgresAliases reads the curated alias directory.
type PostgresAliases struct {
	db *sql.DB
}

func NewPostgresAliases(db *sql.DB) *PostgresAliases { return &PostgresAliases{db: db} }

func (s *PostgresAliases) List(ctx context.Context) ([]models.Alias, error) {
	rows, err := runner(ctx, s.db).QueryContext(ctx,
		"SELECT canonical_type, short_form, surface FROM unit_type_aliases")
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()
	var out []models.Alias
	for rows.Next() {
		var a models.Alias
		if err := rows.Scan(&a.CanonicalType, &a.ShortForm, &a.Surface); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PostgresUnrecognized persists resolver misses.
type PostgresUnrecognized struct {
	db *sql.DB
}

func NewPostgresUnrecognized(db *sql.DB) *PostgresUnrecognized { return &PostgresUnrecognized{db: db} }

func (s *PostgresUnrecognized) Log(ctx context.Context, input models.UnrecognizedInput) error {
	_, err := runner(ctx, s.db).ExecContext(ctx,
		"INSERT INTO unrecognized_inputs (input_text, caller_fingerprint, created_at) VALUES ($1, $2, $3)",
		input.Text, input.CallerFingerprint, requestcontext.Now(ctx))
	if err != nil {
		return fmt.Errorf("log unrecognized input: %w", err)
	}
	return nil
}
