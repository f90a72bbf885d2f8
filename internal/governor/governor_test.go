package governor_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"contactguard/internal/governor"
	"contactguard/internal/registry/models"
	"contactguard/internal/registry/store"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
	"contactguard/pkg/requestcontext"
)

func TestMemoryWindowSliding(t *testing.T) {
	w := governor.NewMemoryWindow(3, time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		allowed, _, err := w.Admit(ctx, "caller", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := w.Admit(ctx, "caller", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, allowed)
	// Oldest event at base leaves the window at base+1h.
	assert.Equal(t, 55*time.Minute, retryAfter)

	// A different caller has its own budget.
	allowed, _, err = w.Admit(ctx, "other", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, allowed)

	// After the oldest event expires, one slot opens.
	allowed, _, err = w.Admit(ctx, "caller", base.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryWindowSweepsIdleKeys(t *testing.T) {
	w := governor.NewMemoryWindow(3, time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// One-shot callers that never come back.
	for i := 0; i < 20; i++ {
		_, _, err := w.Admit(ctx, "drive-by-"+strconv.Itoa(i), base)
		require.NoError(t, err)
	}
	assert.Equal(t, 20, w.TrackedKeys())

	// A later admit past the window sweeps the expired keys out, not just the
	// one being touched.
	_, _, err := w.Admit(ctx, "steady", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, w.TrackedKeys())
}

func TestMemoryWindowConcurrentAccess(t *testing.T) {
	w := governor.NewMemoryWindow(50, time.Hour)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	admitted := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, _, err := w.Admit(ctx, "caller-"+strconv.Itoa(n%4), now)
			require.NoError(t, err)
			admitted[n] = ok
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range admitted {
		if ok {
			count++
		}
	}
	// 4 caller keys with 25 events each, all under the limit of 50.
	assert.Equal(t, 100, count)
}

type GovernorSuite struct {
	suite.Suite
	subjects *store.MemorySubjects
	svc      *governor.Service
}

func TestGovernorSuite(t *testing.T) {
	suite.Run(t, new(GovernorSuite))
}

func (s *GovernorSuite) SetupTest() {
	s.subjects = store.NewMemorySubjects()
	s.svc = governor.New(s.subjects, governor.NewMemoryWindow(2, time.Hour), zap.NewNop(),
		governor.WithPendingCeiling(3))
}

func (s *GovernorSuite) seedPending(unitID id.UnitID, n int) {
	for i := 0; i < n; i++ {
		err := s.subjects.Insert(context.Background(), &models.SubjectRecord{
			ID:       id.NewSubjectID(),
			UnitID:   unitID,
			PhoneIdx: "tok-" + strconv.Itoa(i),
			Status:   models.StatusPending,
		})
		s.Require().NoError(err)
	}
}

func (s *GovernorSuite) TestCheckPendingUnderCeiling() {
	uid := id.UnitID("77:01:0001001:101")
	s.seedPending(uid, 2)
	s.NoError(s.svc.CheckPending(context.Background(), uid))
}

func (s *GovernorSuite) TestCheckPendingAtCeiling() {
	uid := id.UnitID("77:01:0001001:101")
	s.seedPending(uid, 3)

	err := s.svc.CheckPending(context.Background(), uid)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeQuotaExceeded))
}

func (s *GovernorSuite) TestValidatedRecordsDoNotCount() {
	uid := id.UnitID("77:01:0001001:101")
	s.seedPending(uid, 3)

	recs := s.subjects.All()
	s.Require().NoError(s.subjects.MarkValidated(context.Background(), recs[0].ID))

	s.NoError(s.svc.CheckPending(context.Background(), uid))
}

func (s *GovernorSuite) TestCheckRateRetryAfter() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), base)

	s.NoError(s.svc.CheckRate(ctx, "203.0.113.7"))
	s.NoError(s.svc.CheckRate(ctx, "203.0.113.7"))

	err := s.svc.CheckRate(ctx, "203.0.113.7")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
	s.Equal("3600", dErrors.MetaValue(err, dErrors.MetaRetryAfter))
}

func (s *GovernorSuite) TestEmptyCallerKeySkipsRateCheck() {
	for i := 0; i < 5; i++ {
		s.NoError(s.svc.CheckRate(context.Background(), ""))
	}
}
