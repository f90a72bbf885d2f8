package canary_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"contactguard/internal/canary"
	"contactguard/internal/registry/models"
	"contactguard/internal/registry/store"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
	"contactguard/pkg/platform/sentinel"
)

type CanarySuite struct {
	suite.Suite
	units     *store.MemoryUnits
	canaries  *canary.MemoryStore
	svc       *canary.Service
	scopeUnit map[id.UnitID]bool
}

func TestCanarySuite(t *testing.T) {
	suite.Run(t, new(CanarySuite))
}

func (s *CanarySuite) SetupTest() {
	s.units = store.NewMemoryUnits()
	s.canaries = canary.NewMemoryStore()
	s.svc = canary.New(s.units, s.canaries, zap.NewNop())

	s.scopeUnit = make(map[id.UnitID]bool)
	for i, unitID := range []id.UnitID{
		"77:01:0001001:101", "77:01:0001001:102", "77:01:0001001:103",
	} {
		s.Require().NoError(s.units.CreateIfAbsent(context.Background(), &models.Unit{
			ID: unitID, Entrance: "1", Type: "квартира", Number: string(rune('1' + i)),
		}))
		s.scopeUnit[unitID] = true
	}
	// A unit outside the scope must never carry the watermark.
	s.Require().NoError(s.units.CreateIfAbsent(context.Background(), &models.Unit{
		ID: "77:01:0001001:201", Entrance: "2", Type: "квартира", Number: "21",
	}))
}

func (s *CanarySuite) TestIssueIsIdempotentPerOperatorScope() {
	first, err := s.svc.IssueOrGet(context.Background(), "operator-a", "1")
	s.Require().NoError(err)
	s.True(s.scopeUnit[first.UnitID], "unit must come from the requested scope")

	second, err := s.svc.IssueOrGet(context.Background(), "operator-a", "1")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(first.Phone, second.Phone)
	s.Equal(first.MessengerID, second.MessengerID)
	s.Equal(first.Honorific, second.Honorific)
	s.Equal(first.UnitID, second.UnitID)
}

func (s *CanarySuite) TestDistinctOperatorsGetDistinctWatermarks() {
	a, err := s.svc.IssueOrGet(context.Background(), "operator-a", "1")
	s.Require().NoError(err)
	b, err := s.svc.IssueOrGet(context.Background(), "operator-b", "1")
	s.Require().NoError(err)

	s.NotEqual(a.ID, b.ID)
	s.NotEqual(a.Phone, b.Phone)
	s.NotEqual(a.MessengerID, b.MessengerID)
}

func (s *CanarySuite) TestFabricatedValuesPassRealShapeChecks() {
	w, err := s.svc.IssueOrGet(context.Background(), "operator-a", "1")
	s.Require().NoError(err)

	s.NoError(models.ValidatePhone(w.Phone))
	s.NoError(models.ValidateMessengerID(w.MessengerID))
	s.NotEmpty(w.Honorific)
}

func (s *CanarySuite) TestHonorificCarriesLatinHomoglyph() {
	w, err := s.svc.IssueOrGet(context.Background(), "operator-a", "1")
	s.Require().NoError(err)

	// At least one Latin "a" or "e" hides among the Cyrillic letters. Strict
	// byte comparison separates the watermark from any genuinely typed name.
	var hasLatin bool
	for _, r := range w.Honorific {
		if r == 'a' || r == 'e' {
			hasLatin = true
			break
		}
	}
	s.True(hasLatin, "honorific %q must carry a Latin homoglyph", w.Honorific)
}

func (s *CanarySuite) TestEmptyScopeRejected() {
	_, err := s.svc.IssueOrGet(context.Background(), "operator-a", "basement-9")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.svc.IssueOrGet(context.Background(), "", "1")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *CanarySuite) TestInsertRaceResolvesToStoredWatermark() {
	race := &racingStore{MemoryStore: s.canaries}
	svc := canary.New(s.units, race, zap.NewNop())

	w, err := svc.IssueOrGet(context.Background(), "operator-a", "1")
	s.Require().NoError(err)

	// The loser of the duplicate-key race returns the winner's record.
	stored, err := s.canaries.Get(context.Background(), "operator-a", "1")
	s.Require().NoError(err)
	s.Equal(stored.ID, w.ID)
	s.Equal(stored.Phone, w.Phone)
}

// racingStore simulates a concurrent first issuance: the first Insert finds a
// competitor already committed.
type racingStore struct {
	*canary.MemoryStore
	raced bool
}

func (r *racingStore) Insert(ctx context.Context, w *canary.Watermark) error {
	if !r.raced {
		r.raced = true
		competitor := *w
		competitor.ID = id.NewCanaryID()
		competitor.Phone = "+79160000000"
		if err := r.MemoryStore.Insert(ctx, &competitor); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	return r.MemoryStore.Insert(ctx, w)
}
