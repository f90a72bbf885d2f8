package reconciler_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"contactguard/internal/blindindex"
	"contactguard/internal/governor"
	"contactguard/internal/reconciler"
	"contactguard/internal/registry/models"
	"contactguard/internal/registry/store"
	"contactguard/internal/vault"
	"contactguard/pkg/audit"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
)

const testUnit = id.UnitID("77:01:0001001:101")

type ReconcilerSuite struct {
	suite.Suite
	units    *store.MemoryUnits
	subjects *store.MemorySubjects
	prefs    *store.MemoryPreferences
	vault    *vault.Vault
	deriver  *blindindex.Deriver
	events   *audit.MemoryPublisher
	svc      *reconciler.Service
}

func TestReconcilerSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerSuite))
}

func (s *ReconcilerSuite) SetupTest() {
	s.units = store.NewMemoryUnits()
	s.subjects = store.NewMemorySubjects()
	s.prefs = store.NewMemoryPreferences()
	s.events = audit.NewMemoryPublisher()

	v, err := vault.New(context.Background(),
		vault.StaticKeySource("0123456789abcdef0123456789abcdef"), zap.NewNop())
	s.Require().NoError(err)
	s.vault = v
	s.deriver = blindindex.NewDeriver("test-pepper")

	quota := governor.New(s.subjects, nil, zap.NewNop(), governor.WithPendingCeiling(3))

	s.svc = reconciler.New(reconciler.Config{
		Units:       s.units,
		Subjects:    s.subjects,
		Preferences: s.prefs,
		Vault:       s.vault,
		Deriver:     s.deriver,
		Tx:          reconciler.NewShardedTx(),
		Quota:       quota,
		Escalation:  []string{"@board_chat", "office@complex.example"},
		Audit:       s.events,
		Logger:      zap.NewNop(),
	})

	s.Require().NoError(s.units.CreateIfAbsent(context.Background(), &models.Unit{
		ID: testUnit, Type: "квартира", Number: "15", NormalizedNumber: "15",
	}))
}

func (s *ReconcilerSuite) reconcile(req reconciler.Request) (*reconciler.Outcome, error) {
	if req.UnitID == "" {
		req.UnitID = testUnit
	}
	return s.svc.Reconcile(context.Background(), req)
}

func (s *ReconcilerSuite) TestNewSubmissionCreatesPendingRecord() {
	out, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{
			Phone:     "+7 916 123-45-67",
			Email:     "Resident@Example.com",
			Honorific: "Мария Петровна",
		},
		IsOwner:    true,
		Provenance: "web",
	})
	s.Require().NoError(err)
	s.True(out.Created)
	s.False(out.SubjectID.IsZero())

	rec, err := s.subjects.FindByID(context.Background(), out.SubjectID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, rec.Status)
	s.True(rec.IsOwner)
	s.Equal("web", rec.Provenance)

	// Ciphertext and token written together, decryptable back to the input.
	wantToken, _ := s.deriver.Derive(blindindex.KindPhone, "+7 916 123-45-67")
	s.Equal(wantToken, rec.PhoneIdx)
	s.Equal("+7 916 123-45-67", s.vault.Decrypt(rec.PhoneEnc))
	s.Equal("Мария Петровна", s.vault.Decrypt(rec.HonorificEnc))
	s.NotEmpty(rec.EmailIdx)
	s.Empty(rec.MessengerIdx)
}

func (s *ReconcilerSuite) TestResubmissionIsIdempotent() {
	// Same phone in two surface forms hits the same blind index.
	first, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+7 916 123-45-67"},
	})
	s.Require().NoError(err)
	s.True(first.Created)

	second, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "89161234567"},
	})
	s.Require().NoError(err)
	s.False(second.Created)
	s.Equal(first.SubjectID, second.SubjectID)
	s.Empty(second.Enriched)
	s.Len(s.subjects.All(), 1)

	// The stored ciphertext keeps the original surface form.
	rec, err := s.subjects.FindByID(context.Background(), first.SubjectID)
	s.Require().NoError(err)
	s.Equal("+7 916 123-45-67", s.vault.Decrypt(rec.PhoneEnc))
}

func (s *ReconcilerSuite) TestEnrichmentAddsOnlyMissingFields() {
	first, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567"},
	})
	s.Require().NoError(err)

	out, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "89161234567", Email: "new@example.com"},
	})
	s.Require().NoError(err)
	s.Equal(first.SubjectID, out.SubjectID)
	s.Equal([]string{"email"}, out.Enriched)

	rec, err := s.subjects.FindByID(context.Background(), first.SubjectID)
	s.Require().NoError(err)
	s.Equal("new@example.com", s.vault.Decrypt(rec.EmailEnc))
	s.NotEmpty(rec.EmailIdx)
	// The phone field was already populated and stays untouched.
	s.Equal("+79161234567", s.vault.Decrypt(rec.PhoneEnc))
}

func (s *ReconcilerSuite) TestCollisionRejectsWithZeroWrites() {
	first, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567", Email: "a@example.com"},
	})
	s.Require().NoError(err)

	before, err := s.subjects.FindByID(context.Background(), first.SubjectID)
	s.Require().NoError(err)

	// Same phone, contradicting email.
	_, err = s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "89161234567", Email: "b@example.com"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCollision))
	s.Equal("email", dErrors.MetaValue(err, dErrors.MetaFields))

	// Zero writes: no new record, the matched one byte-identical.
	s.Len(s.subjects.All(), 1)
	after, err := s.subjects.FindByID(context.Background(), first.SubjectID)
	s.Require().NoError(err)
	s.Equal(before, after)
}

func (s *ReconcilerSuite) TestMatchPrecedencePhoneBeforeEmail() {
	// Record A holds only a phone, record B only an email.
	a, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567"},
	})
	s.Require().NoError(err)
	b, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Email: "b@example.com"},
	})
	s.Require().NoError(err)
	s.NotEqual(a.SubjectID, b.SubjectID)

	// A submission matching A by phone and B by email lands on A: phone
	// precedence is explicit, not an iteration accident.
	out, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "89161234567", Email: "b@example.com"},
	})
	s.Require().NoError(err)
	s.Equal(a.SubjectID, out.SubjectID)
}

func (s *ReconcilerSuite) TestQuotaRejectsAtCeiling() {
	for i := 0; i < 3; i++ {
		_, err := s.reconcile(reconciler.Request{
			Fields: reconciler.Fields{Phone: "+7916123456" + strconv.Itoa(i)},
		})
		s.Require().NoError(err)
	}

	_, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79169999999"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeQuotaExceeded))
	s.Len(s.subjects.All(), 3)
}

func (s *ReconcilerSuite) TestValidatedRecordLocksPreferenceEdits() {
	out, err := s.reconcile(reconciler.Request{
		Fields:      reconciler.Fields{Phone: "+79161234567"},
		Preferences: reconciler.Preferences{Stance: "for"},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Validate(context.Background(), out.SubjectID))

	_, err = s.reconcile(reconciler.Request{
		Fields:      reconciler.Fields{Phone: "89161234567"},
		Preferences: reconciler.Preferences{Stance: "against"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeLocked))
	s.Equal("@board_chat,office@complex.example", dErrors.MetaValue(err, dErrors.MetaEscalation))

	// The stored answer is untouched.
	pref, err := s.prefs.Get(context.Background(), out.SubjectID)
	s.Require().NoError(err)
	s.Equal("for", pref.Stance)
}

func (s *ReconcilerSuite) TestValidatedRecordStillAcceptsContactEnrichment() {
	out, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567"},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Validate(context.Background(), out.SubjectID))

	enriched, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "89161234567", Email: "late@example.com"},
	})
	s.Require().NoError(err)
	s.Equal(out.SubjectID, enriched.SubjectID)
	s.Equal([]string{"email"}, enriched.Enriched)
}

func (s *ReconcilerSuite) TestPreferenceMergeSemantics() {
	yes := true
	out, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567"},
		Preferences: reconciler.Preferences{
			Stance: "for", VoteFormat: "remote", Registered: &yes,
		},
	})
	s.Require().NoError(err)

	// Empty answers leave stored values unchanged.
	_, err = s.reconcile(reconciler.Request{
		Fields:      reconciler.Fields{Phone: "89161234567"},
		Preferences: reconciler.Preferences{VoteFormat: "in_person"},
	})
	s.Require().NoError(err)

	pref, err := s.prefs.Get(context.Background(), out.SubjectID)
	s.Require().NoError(err)
	s.Equal("for", pref.Stance)
	s.Equal("in_person", pref.VoteFormat)
	s.Require().NotNil(pref.Registered)
	s.True(*pref.Registered)

	// The clear sentinel erases an answer.
	_, err = s.reconcile(reconciler.Request{
		Fields:      reconciler.Fields{Phone: "89161234567"},
		Preferences: reconciler.Preferences{Stance: reconciler.ClearSentinel},
	})
	s.Require().NoError(err)

	pref, err = s.prefs.Get(context.Background(), out.SubjectID)
	s.Require().NoError(err)
	s.Empty(pref.Stance)
	s.Equal("in_person", pref.VoteFormat)
}

func (s *ReconcilerSuite) TestUnknownUnitRejectsImmediately() {
	_, err := s.reconcile(reconciler.Request{
		UnitID: id.UnitID("99:09:0009009:999"),
		Fields: reconciler.Fields{Phone: "+79161234567"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Empty(s.subjects.All())
}

func (s *ReconcilerSuite) TestNoContactFieldsRejected() {
	_, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Honorific: "Иван Иванович"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ReconcilerSuite) TestMalformedFieldRejected() {
	_, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "12345"},
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	s.Equal("phone", dErrors.MetaValue(err, dErrors.MetaFields))
}

func (s *ReconcilerSuite) TestDeactivateWipesRecord() {
	out, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567", Email: "a@example.com"},
	})
	s.Require().NoError(err)
	s.Require().NoError(s.svc.Deactivate(context.Background(), out.SubjectID))

	rec, err := s.subjects.FindByID(context.Background(), out.SubjectID)
	s.Require().NoError(err)
	s.Equal(models.StatusInactive, rec.Status)
	s.Empty(rec.PhoneEnc)
	s.Empty(rec.PhoneIdx)
	s.Empty(rec.EmailEnc)
	s.Empty(rec.EmailIdx)

	// An inactive record is invisible to index search: the same phone now
	// creates a fresh record.
	again, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567"},
	})
	s.Require().NoError(err)
	s.True(again.Created)
	s.NotEqual(out.SubjectID, again.SubjectID)
}

func (s *ReconcilerSuite) TestAuditTrail() {
	out, err := s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "+79161234567", Email: "a@example.com"},
	})
	s.Require().NoError(err)

	_, err = s.reconcile(reconciler.Request{
		Fields: reconciler.Fields{Phone: "89161234567", Email: "b@example.com"},
	})
	s.Require().Error(err)

	events := s.events.Events()
	s.Require().Len(events, 2)
	s.Equal(audit.ActionSubjectCreated, events[0].Action)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal(out.SubjectID.String(), events[0].SubjectID)
	s.Equal(audit.ActionCollisionRejected, events[1].Action)
	s.Equal("email", events[1].Reason)
}
