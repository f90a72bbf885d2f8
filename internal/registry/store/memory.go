package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"contactguard/internal/blindindex"
	"contactguard/internal/registry/models"
	id "contactguard/pkg/domain"
	"contactguard/pkg/platform/sentinel"
	"contactguard/pkg/requestcontext"
)

// MemoryUnits is the in-memory UnitStore.
type MemoryUnits struct {
	mu    sync.RWMutex
	units map[id.UnitID]*models.Unit
	order []id.UnitID
}

func NewMemoryUnits() *MemoryUnits {
	return &MemoryUnits{units: make(map[id.UnitID]*models.Unit)}
}

func (s *MemoryUnits) FindByID(_ context.Context, unitID id.UnitID) (*models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[unitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryUnits) FindByTypeNumber(_ context.Context, unitType, normalizedNumber string) ([]*models.Unit, error) {
	return s.filter(func(u *models.Unit) bool {
		return u.Type == unitType && u.NormalizedNumber == normalizedNumber
	}), nil
}

func (s *MemoryUnits) FindByTypeRawNumber(_ context.Context, unitType, rawNumber string) ([]*models.Unit, error) {
	return s.filter(func(u *models.Unit) bool {
		return u.Type == unitType && strings.EqualFold(u.Number, rawNumber)
	}), nil
}

func (s *MemoryUnits) FindByNumber(_ context.Context, normalizedNumber string) ([]*models.Unit, error) {
	return s.filter(func(u *models.Unit) bool {
		return u.NormalizedNumber == normalizedNumber
	}), nil
}

func (s *MemoryUnits) FindByRawNumber(_ context.Context, rawNumber string) ([]*models.Unit, error) {
	return s.filter(func(u *models.Unit) bool {
		return strings.EqualFold(u.Number, rawNumber)
	}), nil
}

func (s *MemoryUnits) ListByEntrance(_ context.Context, entrance string) ([]*models.Unit, error) {
	return s.filter(func(u *models.Unit) bool {
		return u.Entrance == entrance
	}), nil
}

func (s *MemoryUnits) List(_ context.Context) ([]*models.Unit, error) {
	return s.filter(func(*models.Unit) bool { return true }), nil
}

func (s *MemoryUnits) CreateIfAbsent(ctx context.Context, unit *models.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[unit.ID]; exists {
		return nil
	}
	cp := *unit
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = requestcontext.Now(ctx)
	}
	s.units[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *MemoryUnits) filter(keep func(*models.Unit) bool) []*models.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Unit
	for _, uid := range s.order {
		if u := s.units[uid]; keep(u) {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out
}

// MemorySubjects is the in-memory SubjectStore.
type MemorySubjects struct {
	mu       sync.RWMutex
	subjects map[id.SubjectID]*models.SubjectRecord
	order    []id.SubjectID
}

func NewMemorySubjects() *MemorySubjects {
	return &MemorySubjects{subjects: make(map[id.SubjectID]*models.SubjectRecord)}
}

func (s *MemorySubjects) FindByID(_ context.Context, subjectID id.SubjectID) (*models.SubjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.subjects[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemorySubjects) FindByIndex(_ context.Context, unitID id.UnitID, kind blindindex.Kind, token string) (*models.SubjectRecord, error) {
	if token == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sid := range s.order {
		r := s.subjects[sid]
		if r.UnitID != unitID || r.Status == models.StatusInactive {
			continue
		}
		if r.Index(string(kind)) == token {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemorySubjects) Insert(ctx context.Context, record *models.SubjectRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subjects[record.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *record
	now := requestcontext.Now(ctx)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	s.subjects[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	return nil
}

func (s *MemorySubjects) Enrich(ctx context.Context, subjectID id.SubjectID, enrichment Enrichment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.subjects[subjectID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if enrichment.Phone != nil {
		r.PhoneEnc, r.PhoneIdx = enrichment.Phone.Cipher, enrichment.Phone.Token
	}
	if enrichment.Email != nil {
		r.EmailEnc, r.EmailIdx = enrichment.Email.Cipher, enrichment.Email.Token
	}
	if enrichment.Messenger != nil {
		r.MessengerEnc, r.MessengerIdx = enrichment.Messenger.Cipher, enrichment.Messenger.Token
	}
	if enrichment.Honorific != nil {
		r.HonorificEnc = *enrichment.Honorific
	}
	r.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

func (s *MemorySubjects) Touch(ctx context.Context, subjectID id.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.subjects[subjectID]
	if !ok {
		return sentinel.ErrNotFound
	}
	r.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

func (s *MemorySubjects) CountPending(_ context.Context, unitID id.UnitID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.subjects {
		if r.UnitID == unitID && r.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *MemorySubjects) MarkValidated(ctx context.Context, subjectID id.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.subjects[subjectID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if r.Status != models.StatusPending {
		return sentinel.ErrInvalidState
	}
	r.Status = models.StatusValidated
	r.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

func (s *MemorySubjects) Deactivate(ctx context.Context, subjectID id.SubjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.subjects[subjectID]
	if !ok {
		return sentinel.ErrNotFound
	}
	// PII and indexes clear together; an inactive record must hold nothing
	// decryptable and nothing searchable.
	r.PhoneEnc, r.EmailEnc, r.MessengerEnc, r.HonorificEnc = "", "", "", ""
	r.PhoneIdx, r.EmailIdx, r.MessengerIdx = "", "", ""
	r.Status = models.StatusInactive
	r.UpdatedAt = requestcontext.Now(ctx)
	return nil
}

// All returns every record in insertion order (test helper).
func (s *MemorySubjects) All() []*models.SubjectRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SubjectRecord, 0, len(s.order))
	for _, sid := range s.order {
		cp := *s.subjects[sid]
		out = append(out, &cp)
	}
	return out
}

// MemoryPreferences is the in-memory PreferenceStore.
type MemoryPreferences struct {
	mu    sync.RWMutex
	prefs map[id.SubjectID]*models.PreferenceRecord
}

func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{prefs: make(map[id.SubjectID]*models.PreferenceRecord)}
}

func (s *MemoryPreferences) Get(_ context.Context, subjectID id.SubjectID) (*models.PreferenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[subjectID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	if p.Registered != nil {
		v := *p.Registered
		cp.Registered = &v
	}
	return &cp, nil
}

func (s *MemoryPreferences) Upsert(ctx context.Context, record *models.PreferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	if record.Registered != nil {
		v := *record.Registered
		cp.Registered = &v
	}
	cp.UpdatedAt = requestcontext.Now(ctx)
	s.prefs[cp.SubjectID] = &cp
	return nil
}

// MemoryAliases is a fixed in-memory AliasStore for tests and wiring without
// a database.
type MemoryAliases struct {
	mu      sync.RWMutex
	aliases []models.Alias
}

func NewMemoryAliases(aliases ...models.Alias) *MemoryAliases {
	return &MemoryAliases{aliases: aliases}
}

func (s *MemoryAliases) List(_ context.Context) ([]models.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Alias, len(s.aliases))
	copy(out, s.aliases)
	return out, nil
}

// Replace swaps the directory contents (test hook for reload behavior).
func (s *MemoryAliases) Replace(aliases []models.Alias) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases = make([]models.Alias, len(aliases))
	copy(s.aliases, aliases)
}

// MemoryUnrecognized collects resolver misses in memory.
type MemoryUnrecognized struct {
	mu      sync.Mutex
	entries []models.UnrecognizedInput
}

func NewMemoryUnrecognized() *MemoryUnrecognized {
	return &MemoryUnrecognized{}
}

func (s *MemoryUnrecognized) Log(ctx context.Context, input models.UnrecognizedInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if input.CreatedAt.IsZero() {
		input.CreatedAt = requestcontext.Now(ctx)
	}
	s.entries = append(s.entries, input)
	return nil
}

// Entries returns a snapshot sorted by creation time (test helper).
func (s *MemoryUnrecognized) Entries() []models.UnrecognizedInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UnrecognizedInput, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
