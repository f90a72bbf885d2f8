// Package reconciler implements the write path for contact data: it finds,
// creates, or enriches a subject record for a unit from raw contact fields,
// detecting identity collisions and enforcing quota and lock rules. Every
// reconcile runs inside one transaction; no partial write is observable.
package reconciler

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"contactguard/internal/blindindex"
	"contactguard/internal/reconciler/metrics"
	"contactguard/internal/registry/models"
	"contactguard/internal/registry/store"
	"contactguard/internal/vault"
	"contactguard/pkg/audit"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
	"contactguard/pkg/platform/sentinel"
	"contactguard/pkg/requestcontext"
)

// ClearSentinel is the explicit deletion marker for preference answers. An
// empty answer means "leave unchanged"; the sentinel means "clear".
const ClearSentinel = "-"

// Fields carries the raw contact values of one submission. Empty means
// absent.
type Fields struct {
	Phone     string
	Email     string
	Messenger string
	// Honorific is the "how to address" display name. Stored encrypted, never
	// indexed.
	Honorific string
}

// Value returns the raw value for an indexable kind.
func (f Fields) Value(kind blindindex.Kind) string {
	switch kind {
	case blindindex.KindPhone:
		return f.Phone
	case blindindex.KindEmail:
		return f.Email
	case blindindex.KindMessenger:
		return f.Messenger
	}
	return ""
}

// HasContact reports whether at least one indexable field is supplied.
func (f Fields) HasContact() bool {
	return strings.TrimSpace(f.Phone) != "" ||
		strings.TrimSpace(f.Email) != "" ||
		strings.TrimSpace(f.Messenger) != ""
}

// Preferences carries the vote and amenity answers of one submission. Empty
// string and nil mean "leave unchanged"; ClearSentinel clears a field.
type Preferences struct {
	Stance     string
	VoteFormat string
	Registered *bool
}

// Empty reports whether the submission carries no preference answers at all.
func (p Preferences) Empty() bool {
	return p.Stance == "" && p.VoteFormat == "" && p.Registered == nil
}

// Request is one reconcile call.
type Request struct {
	UnitID      id.UnitID
	Fields      Fields
	Preferences Preferences
	IsOwner     bool
	// Provenance names the submitting channel: "web", "bot", "import".
	Provenance string
}

// Outcome reports an accepted reconcile.
type Outcome struct {
	SubjectID id.SubjectID
	// Created is true for a new record, false for a match.
	Created bool
	// Enriched lists the field names newly populated on an existing record.
	Enriched []string
}

// Quota is the governor's pending-ceiling gate, checked inside the
// transaction before any crypto work.
type Quota interface {
	CheckPending(ctx context.Context, unitID id.UnitID) error
}

// Config wires a Service.
type Config struct {
	Units       store.UnitStore
	Subjects    store.SubjectStore
	Preferences store.PreferenceStore
	Vault       *vault.Vault
	Deriver     *blindindex.Deriver
	Tx          StoreTx
	Quota       Quota
	// Escalation is the contact list returned with a locked outcome.
	Escalation []string
	Audit      audit.Publisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Service reconciles incoming contact submissions against stored subject
// records.
type Service struct {
	units      store.UnitStore
	subjects   store.SubjectStore
	prefs      store.PreferenceStore
	vault      *vault.Vault
	deriver    *blindindex.Deriver
	tx         StoreTx
	quota      Quota
	escalation []string
	audit      audit.Publisher
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	log        *zap.Logger
}

func New(cfg Config) *Service {
	pub := cfg.Audit
	if pub == nil {
		pub = audit.NopPublisher{}
	}
	return &Service{
		units:      cfg.Units,
		subjects:   cfg.Subjects,
		prefs:      cfg.Preferences,
		vault:      cfg.Vault,
		deriver:    cfg.Deriver,
		tx:         cfg.Tx,
		quota:      cfg.Quota,
		escalation: cfg.Escalation,
		audit:      pub,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("contactguard/reconciler"),
		log:        cfg.Logger,
	}
}

// Reconcile processes one submission. It never auto-creates units: an unknown
// unit id is an immediate error, and the bulk loader is the only path that
// creates units.
func (s *Service) Reconcile(ctx context.Context, req Request) (*Outcome, error) {
	start := requestcontext.Now(ctx)
	ctx, span := s.tracer.Start(ctx, "reconciler.Reconcile",
		trace.WithAttributes(attribute.String("unit_id", req.UnitID.String())))
	defer span.End()

	outcome, err := s.reconcile(ctx, req)
	s.metrics.ObserveReconcileLatency(requestcontext.Now(ctx).Sub(start))
	if err != nil {
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.recordRejection(ctx, req, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("created", outcome.Created))
	s.recordAcceptance(ctx, req, outcome)
	return outcome, nil
}

func (s *Service) reconcile(ctx context.Context, req Request) (*Outcome, error) {
	if !req.Fields.HasContact() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one contact field required").
			With(dErrors.MetaFields, "phone,email,messenger_id")
	}
	if err := models.ValidatePhone(req.Fields.Phone); err != nil {
		return nil, err
	}
	if err := models.ValidateEmail(req.Fields.Email); err != nil {
		return nil, err
	}
	if err := models.ValidateMessengerID(req.Fields.Messenger); err != nil {
		return nil, err
	}

	var outcome *Outcome
	err := s.tx.RunInTx(ctx, req.UnitID.String(), func(ctx context.Context) error {
		if _, err := s.units.FindByID(ctx, req.UnitID); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodeNotFound, "unit not found")
			}
			return err
		}

		// Quota gates before index derivation and encryption: refusal must
		// stay cheap.
		if err := s.quota.CheckPending(ctx, req.UnitID); err != nil {
			return err
		}

		tokens := s.deriveTokens(req.Fields)

		existing, matchedVia, err := s.findExisting(ctx, req.UnitID, tokens)
		if err != nil {
			return err
		}

		if existing != nil {
			if conflicts := collisions(existing, matchedVia, tokens); len(conflicts) > 0 {
				return dErrors.Newf(dErrors.CodeCollision,
					"matched existing record via %s, but %s contradicts the stored value",
					matchedVia, strings.Join(conflicts, ", ")).
					With(dErrors.MetaFields, strings.Join(conflicts, ","))
			}
			out, err := s.enrichExisting(ctx, existing, req, tokens)
			if err != nil {
				return err
			}
			outcome = out
			return nil
		}

		out, err := s.insertNew(ctx, req, tokens)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// deriveTokens computes blind index tokens for the supplied fields. Disabled
// indexing or empty values simply yield no token.
func (s *Service) deriveTokens(fields Fields) map[blindindex.Kind]string {
	tokens := make(map[blindindex.Kind]string, len(blindindex.MatchOrder))
	for _, kind := range blindindex.MatchOrder {
		if token, ok := s.deriver.Derive(kind, fields.Value(kind)); ok {
			tokens[kind] = token
		}
	}
	return tokens
}

// findExisting searches the unit's records by each supplied token in match
// precedence order. The first hit wins; the order is deliberate and pinned by
// tests, not an accident of iteration.
func (s *Service) findExisting(ctx context.Context, unitID id.UnitID, tokens map[blindindex.Kind]string) (*models.SubjectRecord, blindindex.Kind, error) {
	for _, kind := range blindindex.MatchOrder {
		token, ok := tokens[kind]
		if !ok {
			continue
		}
		record, err := s.subjects.FindByIndex(ctx, unitID, kind, token)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, "", err
		}
		return record, kind, nil
	}
	return nil, "", nil
}

// collisions returns supplied fields whose stored index on the matched record
// disagrees with the newly supplied value. The matched field itself cannot
// conflict; a field the record does not hold yet is enrichment, not conflict.
func collisions(existing *models.SubjectRecord, matchedVia blindindex.Kind, tokens map[blindindex.Kind]string) []string {
	var conflicts []string
	for _, kind := range blindindex.MatchOrder {
		if kind == matchedVia {
			continue
		}
		token, ok := tokens[kind]
		if !ok {
			continue
		}
		stored := existing.Index(string(kind))
		if stored != "" && stored != token {
			conflicts = append(conflicts, string(kind))
		}
	}
	return conflicts
}

func (s *Service) insertNew(ctx context.Context, req Request, tokens map[blindindex.Kind]string) (*Outcome, error) {
	record := &models.SubjectRecord{
		ID:         id.NewSubjectID(),
		UnitID:     req.UnitID,
		IsOwner:    req.IsOwner,
		Status:     models.StatusPending,
		Provenance: req.Provenance,
		Origin:     requestcontext.ClientIP(ctx),
	}

	var err error
	if record.PhoneEnc, err = s.vault.Encrypt(req.Fields.Phone); err != nil {
		return nil, err
	}
	if record.EmailEnc, err = s.vault.Encrypt(req.Fields.Email); err != nil {
		return nil, err
	}
	if record.MessengerEnc, err = s.vault.Encrypt(req.Fields.Messenger); err != nil {
		return nil, err
	}
	if record.HonorificEnc, err = s.vault.Encrypt(req.Fields.Honorific); err != nil {
		return nil, err
	}
	record.PhoneIdx = tokens[blindindex.KindPhone]
	record.EmailIdx = tokens[blindindex.KindEmail]
	record.MessengerIdx = tokens[blindindex.KindMessenger]

	if err := s.subjects.Insert(ctx, record); err != nil {
		return nil, err
	}
	if !req.Preferences.Empty() {
		if err := s.upsertPreferences(ctx, record.ID, req.Preferences); err != nil {
			return nil, err
		}
	}
	return &Outcome{SubjectID: record.ID, Created: true}, nil
}

func (s *Service) enrichExisting(ctx context.Context, existing *models.SubjectRecord, req Request, tokens map[blindindex.Kind]string) (*Outcome, error) {
	// A validated record's answers are frozen for self-service; the caller
	// gets the escalation contacts instead of a write.
	if existing.Status == models.StatusValidated && !req.Preferences.Empty() {
		return nil, dErrors.New(dErrors.CodeLocked, "record is validated; preference changes require review").
			With(dErrors.MetaEscalation, strings.Join(s.escalation, ","))
	}

	enrichment, enriched, err := s.buildEnrichment(existing, req.Fields, tokens)
	if err != nil {
		return nil, err
	}

	if enrichment.Empty() {
		if err := s.subjects.Touch(ctx, existing.ID); err != nil {
			return nil, err
		}
	} else {
		if err := s.subjects.Enrich(ctx, existing.ID, enrichment); err != nil {
			return nil, err
		}
	}

	if !req.Preferences.Empty() {
		if err := s.upsertPreferences(ctx, existing.ID, req.Preferences); err != nil {
			return nil, err
		}
	}
	return &Outcome{SubjectID: existing.ID, Enriched: enriched}, nil
}

// buildEnrichment encrypts only fields the existing record does not already
// hold. Populated fields are append-only on this path; privileged review is
// the only overwrite route.
func (s *Service) buildEnrichment(existing *models.SubjectRecord, fields Fields, tokens map[blindindex.Kind]string) (store.Enrichment, []string, error) {
	var enrichment store.Enrichment
	var enriched []string

	add := func(kind blindindex.Kind, raw, storedCipher string, dst **store.EncryptedField) error {
		if strings.TrimSpace(raw) == "" || storedCipher != "" {
			return nil
		}
		cipher, err := s.vault.Encrypt(raw)
		if err != nil {
			return err
		}
		*dst = &store.EncryptedField{Cipher: cipher, Token: tokens[kind]}
		enriched = append(enriched, string(kind))
		return nil
	}

	if err := add(blindindex.KindPhone, fields.Phone, existing.PhoneEnc, &enrichment.Phone); err != nil {
		return enrichment, nil, err
	}
	if err := add(blindindex.KindEmail, fields.Email, existing.EmailEnc, &enrichment.Email); err != nil {
		return enrichment, nil, err
	}
	if err := add(blindindex.KindMessenger, fields.Messenger, existing.MessengerEnc, &enrichment.Messenger); err != nil {
		return enrichment, nil, err
	}
	if strings.TrimSpace(fields.Honorific) != "" && existing.HonorificEnc == "" {
		cipher, err := s.vault.Encrypt(fields.Honorific)
		if err != nil {
			return enrichment, nil, err
		}
		enrichment.Honorific = &cipher
		enriched = append(enriched, "honorific")
	}
	return enrichment, enriched, nil
}

// upsertPreferences merges the new answers into the stored record. An empty
// answer keeps the stored value; the clear sentinel erases it.
func (s *Service) upsertPreferences(ctx context.Context, subjectID id.SubjectID, prefs Preferences) error {
	current, err := s.prefs.Get(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return err
		}
		current = &models.PreferenceRecord{SubjectID: subjectID}
	}

	current.Stance = mergeAnswer(current.Stance, prefs.Stance)
	current.VoteFormat = mergeAnswer(current.VoteFormat, prefs.VoteFormat)
	if prefs.Registered != nil {
		current.Registered = prefs.Registered
	}
	return s.prefs.Upsert(ctx, current)
}

func mergeAnswer(stored, supplied string) string {
	switch supplied {
	case "":
		return stored
	case ClearSentinel:
		return ""
	default:
		return supplied
	}
}

// Validate is the privileged review transition pending -> validated.
func (s *Service) Validate(ctx context.Context, subjectID id.SubjectID) error {
	err := s.subjects.MarkValidated(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "subject record not found")
		}
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "record is not pending")
		}
		return err
	}
	s.emit(ctx, audit.Event{
		Action:    audit.ActionSubjectConfirmed,
		SubjectID: subjectID.String(),
		Outcome:   "accepted",
	})
	return nil
}

// Deactivate retires a record, wiping ciphertexts and indexes in the same
// write.
func (s *Service) Deactivate(ctx context.Context, subjectID id.SubjectID) error {
	err := s.subjects.Deactivate(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "subject record not found")
		}
		return err
	}
	s.emit(ctx, audit.Event{
		Action:    audit.ActionSubjectDeactivated,
		SubjectID: subjectID.String(),
		Outcome:   "accepted",
	})
	return nil
}

func (s *Service) recordAcceptance(ctx context.Context, req Request, outcome *Outcome) {
	action := audit.ActionSubjectConfirmed
	result := "confirmed"
	switch {
	case outcome.Created:
		action, result = audit.ActionSubjectCreated, "created"
	case len(outcome.Enriched) > 0:
		action, result = audit.ActionSubjectEnriched, "enriched"
	}
	s.metrics.IncrementOutcome(result)
	s.emit(ctx, audit.Event{
		Action:    action,
		UnitID:    req.UnitID,
		SubjectID: outcome.SubjectID.String(),
		Outcome:   "accepted",
		Reason:    strings.Join(outcome.Enriched, ","),
	})
}

func (s *Service) recordRejection(ctx context.Context, req Request, err error) {
	code := dErrors.CodeOf(err)
	switch code {
	case dErrors.CodeCollision:
		s.metrics.IncrementOutcome("collision")
		s.emit(ctx, audit.Event{
			Action:  audit.ActionCollisionRejected,
			UnitID:  req.UnitID,
			Outcome: "rejected",
			Reason:  dErrors.MetaValue(err, dErrors.MetaFields),
		})
	case dErrors.CodeQuotaExceeded:
		s.metrics.IncrementOutcome("quota")
		s.emit(ctx, audit.Event{
			Action:  audit.ActionQuotaRejected,
			UnitID:  req.UnitID,
			Outcome: "rejected",
		})
	case dErrors.CodeLocked:
		s.metrics.IncrementOutcome("locked")
	default:
		s.metrics.IncrementOutcome("rejected")
	}
}

// emit publishes best-effort: a failed audit write is logged, never
// propagated into the contact operation.
func (s *Service) emit(ctx context.Context, event audit.Event) {
	event.Category = event.Action.Category()
	event.Timestamp = requestcontext.Now(ctx)
	event.Fingerprint = requestcontext.CallerFingerprint(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	if err := s.audit.Emit(ctx, event); err != nil {
		s.log.Warn("audit emit failed", zap.String("action", string(event.Action)), zap.Error(err))
	}
}
