package governor

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"contactguard/internal/governor/metrics"
	"contactguard/internal/registry/store"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
	"contactguard/pkg/requestcontext"
)

const (
	// DefaultPendingCeiling caps pending subject records per unit.
	DefaultPendingCeiling = 10
	// DefaultRateLimit caps admitted submissions per caller per window.
	DefaultRateLimit = 10
	// DefaultRateWindow is the sliding window length.
	DefaultRateWindow = time.Hour
)

// Service answers the two gating questions before a reconcile is allowed to
// do any real work.
type Service struct {
	subjects store.SubjectStore
	window   Window
	ceiling  int
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithPendingCeiling overrides the per-unit pending ceiling.
func WithPendingCeiling(n int) Option { return func(s *Service) { s.ceiling = n } }

// WithMetrics attaches governor metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func New(subjects store.SubjectStore, window Window, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		subjects: subjects,
		window:   window,
		ceiling:  DefaultPendingCeiling,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CountPending returns the number of pending subject records on a unit.
func (s *Service) CountPending(ctx context.Context, unitID id.UnitID) (int, error) {
	return s.subjects.CountPending(ctx, unitID)
}

// CheckPending refuses once the unit's pending count is at or above the
// ceiling. Runs inside the reconcile transaction so the read and the
// subsequent insert are one isolated sequence.
func (s *Service) CheckPending(ctx context.Context, unitID id.UnitID) error {
	n, err := s.subjects.CountPending(ctx, unitID)
	if err != nil {
		return err
	}
	if n >= s.ceiling {
		s.metrics.IncrementRejection("quota")
		return dErrors.Newf(dErrors.CodeQuotaExceeded,
			"unit already has %d unvalidated records (limit %d)", n, s.ceiling)
	}
	return nil
}

// CheckRate admits one submission for the caller key (source address or
// messenger-id blind index) or refuses with a retry-after hint.
func (s *Service) CheckRate(ctx context.Context, callerKey string) error {
	if callerKey == "" || s.window == nil {
		return nil
	}
	allowed, retryAfter, err := s.window.Admit(ctx, callerKey, requestcontext.Now(ctx))
	if err != nil {
		// The window is a best-effort control: an unreachable backing store
		// must not take submissions down with it.
		s.log.Warn("rate window check failed, admitting", zap.Error(err))
		return nil
	}
	if !allowed {
		s.metrics.IncrementRejection("rate")
		seconds := int(retryAfter.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		return dErrors.New(dErrors.CodeRateLimited, "submission rate limit exceeded").
			With(dErrors.MetaRetryAfter, strconv.Itoa(seconds))
	}
	s.metrics.IncrementAdmitted()
	return nil
}
