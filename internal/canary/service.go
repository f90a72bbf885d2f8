package canary

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"contactguard/internal/canary/metrics"
	"contactguard/internal/registry/store"
	"contactguard/pkg/audit"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
	"contactguard/pkg/platform/sentinel"
	"contactguard/pkg/requestcontext"
)

// Service issues watermarks.
type Service struct {
	units    store.UnitStore
	canaries Store
	audit    audit.Publisher
	metrics  *metrics.Metrics
	log      *zap.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(pub audit.Publisher) Option {
	return func(s *Service) { s.audit = pub }
}

func New(units store.UnitStore, canaries Store, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		units:    units,
		canaries: canaries,
		audit:    audit.NopPublisher{},
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueOrGet returns the watermark for (operator, scope), fabricating and
// persisting one on first call. Repeat calls return the stored record
// unchanged; a duplicate-key race on first issuance resolves by re-fetching
// the winner, so a scope never holds two watermarks.
func (s *Service) IssueOrGet(ctx context.Context, operator id.OperatorID, scope string) (*Watermark, error) {
	if strings.TrimSpace(string(operator)) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "operator id is required")
	}
	if strings.TrimSpace(scope) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "scope is required")
	}

	existing, err := s.canaries.Get(ctx, operator, scope)
	if err == nil {
		s.metrics.IncrementIssued("reused")
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	w, err := s.fabricate(ctx, operator, scope)
	if err != nil {
		return nil, err
	}

	if err := s.canaries.Insert(ctx, w); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Lost the first-issuance race; the stored record wins.
			s.metrics.IncrementIssued("reused")
			return s.canaries.Get(ctx, operator, scope)
		}
		return nil, err
	}

	s.metrics.IncrementIssued("issued")
	s.emit(ctx, w)
	s.log.Info("watermark issued",
		zap.String("operator", operator.String()),
		zap.String("scope", scope),
		zap.String("unit_id", w.UnitID.String()))
	return w, nil
}

// fabricate picks one real unit uniformly at random within scope and attaches
// fabricated contact values.
func (s *Service) fabricate(ctx context.Context, operator id.OperatorID, scope string) (*Watermark, error) {
	units, err := s.units.ListByEntrance(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "scope %q holds no units", scope)
	}
	pick, err := randomInt(len(units))
	if err != nil {
		return nil, err
	}

	phone, err := fabricatePhone()
	if err != nil {
		return nil, err
	}
	messengerID, err := fabricateMessengerID()
	if err != nil {
		return nil, err
	}
	honorific, err := fabricateHonorific()
	if err != nil {
		return nil, err
	}

	return &Watermark{
		ID:          id.NewCanaryID(),
		Operator:    operator,
		Scope:       scope,
		UnitID:      units[pick].ID,
		Phone:       phone,
		MessengerID: messengerID,
		Honorific:   honorific,
	}, nil
}

func (s *Service) emit(ctx context.Context, w *Watermark) {
	if s.audit == nil {
		return
	}
	event := audit.Event{
		Category:  audit.ActionCanaryIssued.Category(),
		Action:    audit.ActionCanaryIssued,
		Timestamp: requestcontext.Now(ctx),
		UnitID:    w.UnitID,
		Operator:  w.Operator,
		Outcome:   "issued",
		Reason:    w.Scope,
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		s.log.Warn("audit emit failed", zap.Error(err))
	}
}
