package canary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"

	id "contactguard/pkg/domain"
	"contactguard/pkg/platform/sentinel"
	"contactguard/pkg/platform/tx"
	"contactguard/pkg/requestcontext"
)

// Store persists watermarks. Insert returns sentinel.ErrConflict when a
// watermark for the same (operator, scope) already exists; Get returns
// sentinel.ErrNotFound when none does.
type Store interface {
	Insert(ctx context.Context, w *Watermark) error
	Get(ctx context.Context, operator id.OperatorID, scope string) (*Watermark, error)
}

type scopeKey struct {
	operator id.OperatorID
	scope    string
}

// MemoryStore is the in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[scopeKey]*Watermark
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[scopeKey]*Watermark)}
}

func (s *MemoryStore) Insert(ctx context.Context, w *Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey{operator: w.Operator, scope: w.Scope}
	if _, exists := s.items[key]; exists {
		return sentinel.ErrConflict
	}
	cp := *w
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = requestcontext.Now(ctx)
	}
	s.items[key] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, operator id.OperatorID, scope string) (*Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.items[scopeKey{operator: operator, scope: scope}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *w
	return &cp, nil
}

// PostgresStore is the PostgreSQL Store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func runner(ctx context.Context, db *sql.DB) querier {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return db
}

func (s *PostgresStore) Insert(ctx context.Context, w *Watermark) error {
	_, err := runner(ctx, s.db).ExecContext(ctx,
		`INSERT INTO canaries (id, operator_id, scope, unit_id, phone, messenger_id, honorific, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID.String(), w.Operator.String(), w.Scope, w.UnitID.String(),
		w.Phone, w.MessengerID, w.Honorific, requestcontext.Now(ctx))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert canary: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, operator id.OperatorID, scope string) (*Watermark, error) {
	row := runner(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, operator_id, scope, unit_id, phone, messenger_id, honorific, created_at
		 FROM canaries WHERE operator_id = $1 AND scope = $2`,
		operator.String(), scope)

	var w Watermark
	var canaryID, operatorID, unitID string
	err := row.Scan(&canaryID, &operatorID, &w.Scope, &unitID, &w.Phone, &w.MessengerID, &w.Honorific, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get canary: %w", err)
	}
	if w.ID, err = id.ParseCanaryID(canaryID); err != nil {
		return nil, fmt.Errorf("get canary: %w", err)
	}
	w.Operator = id.OperatorID(operatorID)
	w.UnitID = id.UnitID(unitID)
	return &w, nil
}
