package resolver

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"contactguard/internal/registry/models"
	"contactguard/internal/registry/store"
)

type aliasTarget struct {
	canonicalType string
	shortForm     string
}

// Snapshot is one loaded view of the alias directory. Lookups on a snapshot
// never touch the store, so all queries of a single resolution see the same
// directory state.
type Snapshot struct {
	byAlias     map[string]aliasTarget
	order       []string // alias keys in directory order, for deterministic scans
	shortByType map[string]string
}

// Exact returns the canonical type for an exact alias match.
func (s *Snapshot) Exact(word string) (string, bool) {
	t, ok := s.byAlias[word]
	return t.canonicalType, ok
}

// Containment returns the canonical type of the first alias that is a prefix
// of word, or of which word is a prefix. Directory order breaks ties.
func (s *Snapshot) Containment(word string) (string, bool) {
	for _, key := range s.order {
		if strings.HasPrefix(word, key) || strings.HasPrefix(key, word) {
			return s.byAlias[key].canonicalType, true
		}
	}
	return "", false
}

// ShortFor returns the short display form of a canonical type, falling back
// to the type itself.
func (s *Snapshot) ShortFor(canonicalType string) string {
	if short, ok := s.shortByType[canonicalType]; ok && short != "" {
		return short
	}
	return canonicalType
}

// Directory caches the curated alias table. The first Snapshot call loads it;
// concurrent first calls collapse into one store read. Reload discards the
// cache after admin edits.
type Directory struct {
	store store.AliasStore

	group singleflight.Group

	mu      sync.RWMutex
	current *Snapshot
}

func NewDirectory(aliases store.AliasStore) *Directory {
	return &Directory{store: aliases}
}

// Snapshot returns the cached directory view, loading it on first use.
func (d *Directory) Snapshot(ctx context.Context) (*Snapshot, error) {
	d.mu.RLock()
	snap := d.current
	d.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}

	v, err, _ := d.group.Do("load", func() (any, error) {
		return d.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Reload replaces the cache with a fresh read of the directory.
func (d *Directory) Reload(ctx context.Context) error {
	_, err := d.load(ctx)
	return err
}

func (d *Directory) load(ctx context.Context) (*Snapshot, error) {
	rows, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	snap := buildSnapshot(rows)

	d.mu.Lock()
	d.current = snap
	d.mu.Unlock()
	return snap, nil
}

func buildSnapshot(rows []models.Alias) *Snapshot {
	snap := &Snapshot{
		byAlias:     make(map[string]aliasTarget, len(rows)),
		shortByType: make(map[string]string),
	}
	for _, row := range rows {
		key := strings.ToLower(strings.TrimSpace(row.Surface))
		if key == "" {
			continue
		}
		if _, dup := snap.byAlias[key]; !dup {
			snap.order = append(snap.order, key)
		}
		snap.byAlias[key] = aliasTarget{canonicalType: row.CanonicalType, shortForm: row.ShortForm}
		snap.shortByType[row.CanonicalType] = row.ShortForm
	}
	return snap
}
