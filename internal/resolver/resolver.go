// Package resolver turns free-text unit references ("кв. 15", "оф 5Б", a
// bare registry id) into candidate units with confidence scores. It combines
// a curated alias directory, the unit number normalizer, and a fuzzy
// fallback, and records unresolvable inputs for later curation.
package resolver

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"contactguard/internal/registry/models"
	"contactguard/internal/registry/store"
	"contactguard/internal/resolver/metrics"
	"contactguard/internal/unitnum"
	id "contactguard/pkg/domain"
	"contactguard/pkg/platform/sentinel"
	"contactguard/pkg/requestcontext"
)

// MaxInputLength is the default hard cap on resolvable input. Longer text is
// rejected without lookups or logging.
const MaxInputLength = 100

// typeNumberRe splits a leading type word from the rest of the input. The
// input is lowercased before matching.
var typeNumberRe = regexp.MustCompile(`^([а-яёa-z/.()-]+)\s*[.:,]?\s*(.+)$`)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	nonDesignator = regexp.MustCompile(`[^0-9a-zа-яё]`)
)

// Match is one resolution candidate.
type Match struct {
	UnitID id.UnitID
	// Display is the full human-readable form, e.g. "квартира 15".
	Display string
	// ShortDisplay uses the directory's short form, e.g. "кв 15".
	ShortDisplay string
	// Confidence is 1.0 for exact type matches, 0.9 for number-only matches,
	// and score/100 for fuzzy ones.
	Confidence float64
}

// Service resolves free text to units. All lookups are equality queries plus
// an optional in-memory fuzzy pass; no plaintext contact data is involved.
type Service struct {
	units        store.UnitStore
	unrecognized store.UnrecognizedStore
	aliases      *Directory
	scorer       Scorer

	maxInput   int
	fuzzyFloor float64

	metrics *metrics.Metrics
	log     *zap.Logger
}

// Option configures optional Service behavior.
type Option func(*Service)

// WithMaxInput overrides the input length cap.
func WithMaxInput(n int) Option { return func(s *Service) { s.maxInput = n } }

// WithFuzzyFloor overrides the minimum fuzzy score (0..100) kept as a
// candidate.
func WithFuzzyFloor(f float64) Option { return func(s *Service) { s.fuzzyFloor = f } }

// WithMetrics attaches resolver metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func New(units store.UnitStore, unrecognized store.UnrecognizedStore, aliases *Directory, scorer Scorer, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		units:        units,
		unrecognized: unrecognized,
		aliases:      aliases,
		scorer:       scorer,
		maxInput:     MaxInputLength,
		fuzzyFloor:   55,
		log:          log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve maps raw free text to up to five candidate units in descending
// confidence. An empty result with a nil error means the input was
// unrecognized (and, unless rejected outright, logged for curation).
func (s *Service) Resolve(ctx context.Context, raw string) ([]Match, error) {
	start := requestcontext.Now(ctx)
	defer func() {
		s.metrics.ObserveResolveLatency(requestcontext.Now(ctx).Sub(start))
	}()

	if raw == "" || len([]rune(raw)) > s.maxInput {
		s.metrics.IncrementOutcome("rejected")
		return nil, nil
	}

	dir, err := s.aliases.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	normalized := normalizeInput(raw)

	if id.IsUnitID(normalized) {
		return s.resolveRegistryID(ctx, dir, normalized, raw)
	}

	resolvedType, numberPart := s.splitTypeNumber(dir, normalized)

	if numberPart == "" {
		numberPart = nonDesignator.ReplaceAllString(normalized, "")
		if numberPart == "" {
			s.logUnrecognized(ctx, raw)
			s.metrics.IncrementOutcome("unrecognized")
			return nil, nil
		}
	}

	normNumber := unitnum.Normalize(numberPart)
	if normNumber == "" {
		normNumber = numberPart
	}

	units, confidence, err := s.queryLadder(ctx, resolvedType, normNumber, numberPart)
	if err != nil {
		return nil, err
	}
	if len(units) > 0 {
		s.metrics.IncrementOutcome("equality")
		return s.toMatches(dir, units, confidence), nil
	}

	fuzzy, err := s.fuzzyCandidates(ctx, dir, normalized)
	if err != nil {
		return nil, err
	}
	if len(fuzzy) > 0 {
		s.metrics.IncrementOutcome("fuzzy")
		return fuzzy, nil
	}

	s.logUnrecognized(ctx, raw)
	s.metrics.IncrementOutcome("unrecognized")
	return nil, nil
}

func (s *Service) resolveRegistryID(ctx context.Context, dir *Snapshot, normalized, raw string) ([]Match, error) {
	unit, err := s.units.FindByID(ctx, id.UnitID(normalized))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logUnrecognized(ctx, raw)
			s.metrics.IncrementOutcome("unrecognized")
			return nil, nil
		}
		return nil, err
	}
	s.metrics.IncrementOutcome("registry_id")
	return s.toMatches(dir, []*models.Unit{unit}, 1.0), nil
}

// splitTypeNumber recognizes a leading type word against the alias
// directory: an exact alias first, then bidirectional prefix containment
// ("кварти" matches "квартира" and vice versa).
func (s *Service) splitTypeNumber(dir *Snapshot, normalized string) (resolvedType, numberPart string) {
	m := typeNumberRe.FindStringSubmatch(normalized)
	if m == nil {
		return "", ""
	}
	typeWord := strings.TrimRight(strings.TrimSpace(m[1]), ".")
	rest := strings.TrimSpace(m[2])

	if canonical, ok := dir.Exact(typeWord); ok {
		return canonical, rest
	}
	if canonical, ok := dir.Containment(typeWord); ok {
		return canonical, rest
	}
	return "", ""
}

// queryLadder runs the equality queries in order. With a recognized type the
// match is certain; a bare number across all types is near-certain.
func (s *Service) queryLadder(ctx context.Context, resolvedType, normNumber, rawNumber string) ([]*models.Unit, float64, error) {
	if resolvedType != "" {
		units, err := s.units.FindByTypeNumber(ctx, resolvedType, normNumber)
		if err != nil {
			return nil, 0, err
		}
		if len(units) == 0 {
			units, err = s.units.FindByTypeRawNumber(ctx, resolvedType, rawNumber)
			if err != nil {
				return nil, 0, err
			}
		}
		return units, 1.0, nil
	}

	units, err := s.units.FindByNumber(ctx, normNumber)
	if err != nil {
		return nil, 0, err
	}
	if len(units) == 0 {
		units, err = s.units.FindByRawNumber(ctx, rawNumber)
		if err != nil {
			return nil, 0, err
		}
	}
	return units, 0.9, nil
}

func (s *Service) fuzzyCandidates(ctx context.Context, dir *Snapshot, normalized string) ([]Match, error) {
	if s.scorer == nil {
		s.log.Warn("fuzzy scorer not configured, fuzzy search disabled")
		return nil, nil
	}

	units, err := s.units.List(ctx)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		unit  *models.Unit
		score float64
	}
	var candidates []candidate
	for _, u := range units {
		target := strings.ToLower(u.Type + " " + u.Number)
		score := s.scorer.Score(normalized, target)
		if score >= s.fuzzyFloor {
			candidates = append(candidates, candidate{unit: u, score: score})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		m := s.toMatch(dir, c.unit, math.Round(c.score)/100)
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Service) toMatches(dir *Snapshot, units []*models.Unit, confidence float64) []Match {
	if len(units) > 5 {
		units = units[:5]
	}
	out := make([]Match, 0, len(units))
	for _, u := range units {
		out = append(out, s.toMatch(dir, u, confidence))
	}
	return out
}

func (s *Service) toMatch(dir *Snapshot, u *models.Unit, confidence float64) Match {
	return Match{
		UnitID:       u.ID,
		Display:      u.Type + " " + u.Number,
		ShortDisplay: dir.ShortFor(u.Type) + " " + u.Number,
		Confidence:   confidence,
	}
}

// logUnrecognized records a miss best-effort; a failed write never fails the
// resolution itself.
func (s *Service) logUnrecognized(ctx context.Context, raw string) {
	text := raw
	if runes := []rune(text); len(runes) > models.MaxUnrecognizedText {
		text = string(runes[:models.MaxUnrecognizedText])
	}
	err := s.unrecognized.Log(ctx, models.UnrecognizedInput{
		Text:              text,
		CallerFingerprint: requestcontext.CallerFingerprint(ctx),
	})
	if err != nil {
		s.log.Warn("failed to log unrecognized input", zap.Error(err))
	}
}

func normalizeInput(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "ё", "е")
	return whitespaceRe.ReplaceAllString(s, " ")
}
