package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"contactguard/internal/blindindex"
	"contactguard/internal/registry/models"
	id "contactguard/pkg/domain"
	"contactguard/pkg/platform/sentinel"
	"contactguard/pkg/requestcontext"
)

type MemoryStoreSuite struct {
	suite.Suite
	units    *MemoryUnits
	subjects *MemorySubjects
	prefs    *MemoryPreferences
	ctx      context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.units = NewMemoryUnits()
	s.subjects = NewMemorySubjects()
	s.prefs = NewMemoryPreferences()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) newUnit(uid, unitType, number string) *models.Unit {
	return &models.Unit{
		ID:               id.UnitID(uid),
		Type:             unitType,
		Number:           number,
		NormalizedNumber: number,
	}
}

func (s *MemoryStoreSuite) TestUnitCreationAndLookups() {
	s.Run("creates and finds unit by id", func() {
		u := s.newUnit("77:01:0001001:101", "Apartment", "15")
		s.Require().NoError(s.units.CreateIfAbsent(s.ctx, u))

		found, err := s.units.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal("Apartment", found.Type)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.units.FindByID(s.ctx, id.UnitID("77:01:0001001:999"))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("creating an existing id is a no-op", func() {
		u := s.newUnit("77:01:0001001:102", "Apartment", "16")
		s.Require().NoError(s.units.CreateIfAbsent(s.ctx, u))

		changed := *u
		changed.Type = "Office"
		s.Require().NoError(s.units.CreateIfAbsent(s.ctx, &changed))

		found, err := s.units.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal("Apartment", found.Type, "existing unit stays untouched")
	})

	s.Run("raw number lookup is case-insensitive", func() {
		u := s.newUnit("77:01:0001001:103", "Office", "7B")
		s.Require().NoError(s.units.CreateIfAbsent(s.ctx, u))

		byRaw, err := s.units.FindByTypeRawNumber(s.ctx, "Office", "7b")
		s.Require().NoError(err)
		s.Len(byRaw, 1)
	})
}

func (s *MemoryStoreSuite) seedSubject(uid string, phoneIdx string) *models.SubjectRecord {
	r := &models.SubjectRecord{
		ID:       id.NewSubjectID(),
		UnitID:   id.UnitID(uid),
		PhoneEnc: "ct-phone",
		PhoneIdx: phoneIdx,
		Status:   models.StatusPending,
	}
	s.Require().NoError(s.subjects.Insert(s.ctx, r))
	return r
}

func (s *MemoryStoreSuite) TestSubjectIndexLookup() {
	s.Run("finds by matching token", func() {
		r := s.seedSubject("77:01:0001001:110", "tok-1")
		found, err := s.subjects.FindByIndex(s.ctx, r.UnitID, blindindex.KindPhone, "tok-1")
		s.Require().NoError(err)
		s.Equal(r.ID, found.ID)
	})

	s.Run("empty token never matches", func() {
		s.seedSubject("77:01:0001001:111", "")
		_, err := s.subjects.FindByIndex(s.ctx, id.UnitID("77:01:0001001:111"), blindindex.KindPhone, "")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("inactive records are invisible to index search", func() {
		r := s.seedSubject("77:01:0001001:112", "tok-2")
		s.Require().NoError(s.subjects.Deactivate(s.ctx, r.ID))

		_, err := s.subjects.FindByIndex(s.ctx, r.UnitID, blindindex.KindPhone, "tok-2")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestDeactivateClearsEverything() {
	r := s.seedSubject("77:01:0001001:120", "tok-3")
	s.Require().NoError(s.subjects.Deactivate(s.ctx, r.ID))

	got, err := s.subjects.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInactive, got.Status)
	s.Empty(got.PhoneEnc)
	s.Empty(got.PhoneIdx)
	s.Empty(got.EmailEnc)
	s.Empty(got.MessengerIdx)
}

func (s *MemoryStoreSuite) TestCountPending() {
	uid := "77:01:0001001:130"
	s.seedSubject(uid, "t1")
	s.seedSubject(uid, "t2")
	validated := s.seedSubject(uid, "t3")
	s.Require().NoError(s.subjects.MarkValidated(s.ctx, validated.ID))

	n, err := s.subjects.CountPending(s.ctx, id.UnitID(uid))
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *MemoryStoreSuite) TestEnrichBumpsTimestamp() {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, base)

	r := &models.SubjectRecord{
		ID:       id.NewSubjectID(),
		UnitID:   id.UnitID("77:01:0001001:140"),
		PhoneEnc: "ct",
		PhoneIdx: "tok",
		Status:   models.StatusPending,
	}
	s.Require().NoError(s.subjects.Insert(ctx, r))

	later := requestcontext.WithTime(s.ctx, base.Add(time.Hour))
	s.Require().NoError(s.subjects.Enrich(later, r.ID, Enrichment{
		Email: &EncryptedField{Cipher: "ct-email", Token: "tok-email"},
	}))

	got, err := s.subjects.FindByID(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Equal("ct-email", got.EmailEnc)
	s.Equal("tok-email", got.EmailIdx)
	s.Equal("ct", got.PhoneEnc, "existing fields untouched")
	s.Equal(base.Add(time.Hour), got.UpdatedAt)
}

func (s *MemoryStoreSuite) TestPreferences() {
	sid := id.NewSubjectID()

	_, err := s.prefs.Get(s.ctx, sid)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	reg := true
	s.Require().NoError(s.prefs.Upsert(s.ctx, &models.PreferenceRecord{
		SubjectID: sid, Stance: "for", VoteFormat: "remote", Registered: &reg,
	}))

	got, err := s.prefs.Get(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("for", got.Stance)
	s.Require().NotNil(got.Registered)
	s.True(*got.Registered)
}
