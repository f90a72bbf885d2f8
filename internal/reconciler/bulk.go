package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"contactguard/internal/registry/models"
	"contactguard/internal/unitnum"
	"contactguard/pkg/audit"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
)

// BulkMode selects what a bulk load is allowed to touch.
type BulkMode string

const (
	// ModeFull creates missing units from row data and then reconciles
	// contacts.
	ModeFull BulkMode = "full"
	// ModeContactsOnly reconciles contacts against existing units only; an
	// unknown unit rejects the row.
	ModeContactsOnly BulkMode = "contacts_only"
)

// Row is one record from a bulk file, already extracted from whatever format
// by the row-producer. Field parsing mechanics stay with the producer; this
// package owns the semantics.
type Row struct {
	UnitID     string
	Area       *float64
	Entrance   string
	Floor      *int
	UnitType   string
	UnitNumber string

	Fields Fields

	// Raw surface answers; normalized here before storage.
	IsOwner    string
	Stance     string
	VoteFormat string
}

// RowSource yields parsed rows one at a time. Next returns false when the
// source is exhausted.
type RowSource interface {
	Next(ctx context.Context) (Row, bool, error)
}

// SliceSource is a RowSource over an in-memory slice.
type SliceSource struct {
	rows []Row
	pos  int
}

func NewSliceSource(rows []Row) *SliceSource { return &SliceSource{rows: rows} }

func (s *SliceSource) Next(_ context.Context) (Row, bool, error) {
	if s.pos >= len(s.rows) {
		return Row{}, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}

// RowError reports one rejected row. Row numbering starts at 2: row 1 is the
// file header.
type RowError struct {
	Row     int
	Message string
}

// Report summarizes one bulk load.
type Report struct {
	Accepted int
	Rejected int
	Errors   []RowError
}

// BulkLoad processes a row source. Every row reconciles through the same
// collision and quota checks as a single submission; each row is its own
// transaction, so one bad row never rolls back the rest of the file.
func (s *Service) BulkLoad(ctx context.Context, mode BulkMode, src RowSource) (*Report, error) {
	ctx, span := s.tracer.Start(ctx, "reconciler.BulkLoad",
		trace.WithAttributes(attribute.String("bulk.mode", string(mode))))
	defer span.End()

	report := &Report{}
	rowNum := 1

	for {
		row, ok, err := src.Next(ctx)
		if err != nil {
			return report, fmt.Errorf("read row source: %w", err)
		}
		if !ok {
			break
		}
		rowNum++

		if err := s.loadRow(ctx, mode, row); err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, RowError{Row: rowNum, Message: rowMessage(err)})
			s.metrics.IncrementBulkRow(string(mode), "rejected")
			continue
		}
		report.Accepted++
		s.metrics.IncrementBulkRow(string(mode), "accepted")
	}

	s.emit(ctx, audit.Event{
		Action:  audit.ActionBulkImportFinished,
		Outcome: fmt.Sprintf("accepted=%d rejected=%d", report.Accepted, report.Rejected),
	})
	span.SetAttributes(
		attribute.Int("bulk.accepted", report.Accepted),
		attribute.Int("bulk.rejected", report.Rejected))
	s.log.Info("bulk load finished",
		zap.String("mode", string(mode)),
		zap.Int("accepted", report.Accepted),
		zap.Int("rejected", report.Rejected))
	return report, nil
}

func (s *Service) loadRow(ctx context.Context, mode BulkMode, row Row) error {
	unitID, err := id.ParseUnitID(row.UnitID)
	if err != nil {
		return err
	}

	if mode == ModeFull {
		if err := s.ensureUnit(ctx, unitID, row); err != nil {
			return err
		}
		// A row without contact data just carries the unit.
		if !row.Fields.HasContact() {
			return nil
		}
	}

	isOwner := true
	if v := normalizeBool(row.IsOwner); v != nil {
		isOwner = *v
	}

	_, err = s.Reconcile(ctx, Request{
		UnitID: unitID,
		Fields: row.Fields,
		Preferences: Preferences{
			Stance:     NormalizeStance(row.Stance),
			VoteFormat: NormalizeVoteFormat(row.VoteFormat),
		},
		IsOwner:    isOwner,
		Provenance: "import",
	})
	return err
}

// ensureUnit creates the unit on first reference. Creation is idempotent; a
// unit id seen again later in the same file is left untouched.
func (s *Service) ensureUnit(ctx context.Context, unitID id.UnitID, row Row) error {
	number := strings.TrimSpace(row.UnitNumber)
	normalized := unitnum.Normalize(number)
	if normalized == "" {
		normalized = strings.ToLower(number)
	}
	return s.units.CreateIfAbsent(ctx, &models.Unit{
		ID:               unitID,
		Area:             row.Area,
		Entrance:         strings.TrimSpace(row.Entrance),
		Floor:            row.Floor,
		Type:             strings.TrimSpace(row.UnitType),
		Number:           number,
		NormalizedNumber: normalized,
	})
}

func rowMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		if fields := de.Meta[dErrors.MetaFields]; fields != "" {
			return fmt.Sprintf("%s (%s)", de.Message, fields)
		}
		return de.Message
	}
	return err.Error()
}

// NormalizeStance folds surface answers ("за", "against", "воздержался") to
// the stored stance vocabulary. Unrecognized input folds to empty, which
// leaves any stored answer unchanged.
func NormalizeStance(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "for", "за", "да":
		return "for"
	case "against", "против", "нет":
		return "against"
	case "abstain", "undecided", "воздержался", "воздержалась", "воздержались", "не определен":
		return "abstain"
	case ClearSentinel:
		return ClearSentinel
	default:
		return ""
	}
}

// NormalizeVoteFormat folds surface answers to the stored vote format
// vocabulary.
func NormalizeVoteFormat(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in_person", "очно", "бумага", "бумажный", "на бумаге", "paper":
		return "in_person"
	case "remote", "дистанционно", "электронно", "электронный", "electronic":
		return "remote"
	case "any", "любой", "не определен", "undecided":
		return "any"
	case ClearSentinel:
		return ClearSentinel
	default:
		return ""
	}
}

func normalizeBool(raw string) *bool {
	v := true
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "да":
		return &v
	case "0", "false", "no", "нет":
		v = false
		return &v
	default:
		return nil
	}
}
