package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"contactguard/pkg/platform/tx"
)

// PostgresPublisher writes events to the audit_events table. When a
// transaction travels in the context the event joins it, so an audit row is
// committed or rolled back with the operation it describes.
type PostgresPublisher struct {
	db *sql.DB
}

func NewPostgresPublisher(db *sql.DB) *PostgresPublisher {
	return &PostgresPublisher{db: db}
}

func (p *PostgresPublisher) Emit(ctx context.Context, event Event) error {
	detail, err := json.Marshal(map[string]string{
		"outcome":     event.Outcome,
		"reason":      event.Reason,
		"fingerprint": event.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	var runner interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	} = p.db
	if t, ok := tx.From(ctx); ok {
		runner = t
	}

	_, err = runner.ExecContext(ctx,
		`INSERT INTO audit_events (category, action, actor, unit_id, subject_id, request_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(event.Category), string(event.Action), event.Operator.String(),
		event.UnitID.String(), event.SubjectID, event.RequestID, detail, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (p *PostgresPublisher) Close() error { return nil }
