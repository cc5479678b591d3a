// Package gallery holds the in-memory set of enrolled faces that probes are
// matched against.
//
// The gallery publishes immutable snapshots through an atomic pointer, so
// matching never waits for a reload or an enrollment. Writers (Load, Upsert,
// Refresh) are serialized among themselves.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/sirupsen/logrus"
)

// ErrSourceUnavailable is returned when a reload could not produce a usable
// snapshot. The previous snapshot stays in place.
var ErrSourceUnavailable = errors.New("gallery source unavailable")

// Source is the storage the gallery is rebuilt from.
type Source interface {
	LoadIdentitiesWithEmbeddings(ctx context.Context) ([]database.EnrolledIdentity, error)
}

// Entry is one enrolled identity and its current embedding.
type Entry struct {
	Identity  database.Identity
	Embedding embedding.Embedding
}

// Candidate is an entry together with its distance to a probe.
type Candidate struct {
	Entry    Entry
	Distance float64
}

// Snapshot is an immutable, ordered view of the gallery.
type Snapshot struct {
	entries  []Entry
	pos      map[string]int
	loadedAt time.Time
}

var emptySnapshot = &Snapshot{pos: map[string]int{}}

// Len returns the number of entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// At returns the entry at position i in insertion order.
func (s *Snapshot) At(i int) Entry { return s.entries[i] }

// Get returns the entry for an identity ID.
func (s *Snapshot) Get(id string) (Entry, bool) {
	i, ok := s.pos[id]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Position returns the insertion-order position of id, or -1.
func (s *Snapshot) Position(id string) int {
	if i, ok := s.pos[id]; ok {
		return i
	}
	return -1
}

// Entries returns a copy of the entries in insertion order.
func (s *Snapshot) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// LoadedAt returns when the snapshot was last rebuilt from the source.
// Zero if it was never loaded.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Gallery is the owned, explicitly passed cache of enrolled faces.
type Gallery struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[Snapshot]
	index   *index
	source  Source
	log     logrus.FieldLogger
}

// New creates an empty gallery backed by source. source may be nil when the
// gallery is only fed through Load and Upsert.
func New(source Source, log logrus.FieldLogger) *Gallery {
	if log == nil {
		log = logrus.StandardLogger()
	}
	g := &Gallery{
		index:  newIndex(),
		source: source,
		log:    log.WithField("component", "gallery"),
	}
	g.current.Store(emptySnapshot)
	return g
}

// Snapshot returns the current snapshot. It never blocks.
func (g *Gallery) Snapshot() *Snapshot {
	return g.current.Load()
}

// Len returns the number of entries in the current snapshot.
func (g *Gallery) Len() int {
	return g.Snapshot().Len()
}

// Get returns the current entry for an identity ID.
func (g *Gallery) Get(id string) (Entry, bool) {
	return g.Snapshot().Get(id)
}

// Load replaces the whole gallery. Entries without an embedding, or with an
// embedding of the wrong dimension, are skipped. If nothing usable remains the
// gallery is left unchanged and ErrSourceUnavailable is returned.
// Duplicate IDs keep the first position and the last embedding.
func (g *Gallery) Load(entries []Entry) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.load(entries)
}

// load builds and publishes a snapshot. g.mu must be held.
func (g *Gallery) load(entries []Entry) (int, error) {
	built := make([]Entry, 0, len(entries))
	pos := make(map[string]int, len(entries))
	skipped := 0

	for _, e := range entries {
		if len(e.Embedding) == 0 {
			skipped++
			continue
		}
		if err := e.Embedding.Validate(); err != nil {
			g.log.WithFields(logrus.Fields{
				"identity_id": e.Identity.ID,
				"error":       err,
			}).Warn("Skipping identity with unusable embedding")
			skipped++
			continue
		}
		e.Embedding = e.Embedding.Clone()
		if i, dup := pos[e.Identity.ID]; dup {
			built[i] = e
			continue
		}
		pos[e.Identity.ID] = len(built)
		built = append(built, e)
	}

	if len(built) == 0 {
		return 0, fmt.Errorf("%w: no enrolled faces in source (%d skipped)", ErrSourceUnavailable, skipped)
	}

	g.index.rebuild(built)
	g.current.Store(&Snapshot{entries: built, pos: pos, loadedAt: time.Now()})

	g.log.WithFields(logrus.Fields{
		"identities": len(built),
		"skipped":    skipped,
	}).Info("Gallery loaded")
	return len(built), nil
}

// Upsert inserts or replaces the embedding for identity.ID without a full
// reload. An existing entry keeps its position.
func (g *Gallery) Upsert(identity database.Identity, e embedding.Embedding) error {
	if strings.TrimSpace(identity.ID) == "" {
		return errors.New("identity ID is required")
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("upsert %s: %w", identity.ID, err)
	}
	e = e.Clone()

	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.current.Load()
	next := &Snapshot{loadedAt: old.loadedAt}
	entry := Entry{Identity: identity, Embedding: e}

	if i, ok := old.pos[identity.ID]; ok {
		next.entries = make([]Entry, len(old.entries))
		copy(next.entries, old.entries)
		next.entries[i] = entry
		next.pos = old.pos // key set unchanged, map is never mutated after publish
	} else {
		next.entries = make([]Entry, len(old.entries), len(old.entries)+1)
		copy(next.entries, old.entries)
		next.entries = append(next.entries, entry)
		next.pos = make(map[string]int, len(old.pos)+1)
		for k, v := range old.pos {
			next.pos[k] = v
		}
		next.pos[identity.ID] = len(next.entries) - 1
	}

	g.index.put(identity.ID, e)
	g.current.Store(next)
	return nil
}

// Refresh rebuilds the gallery from its source. On a failed or empty read the
// stale snapshot is kept and the returned error wraps ErrSourceUnavailable.
// Writers wait for the read to finish, so an Upsert issued meanwhile is
// applied on top of the refreshed snapshot.
func (g *Gallery) Refresh(ctx context.Context) error {
	if g.source == nil {
		return fmt.Errorf("%w: no source configured", ErrSourceUnavailable)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	rows, err := g.source.LoadIdentitiesWithEmbeddings(ctx)
	if err != nil {
		g.log.WithError(err).Warn("Gallery refresh failed, keeping previous snapshot")
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = Entry{Identity: r.Identity, Embedding: embedding.Embedding(r.Embedding)}
	}

	if _, err := g.load(entries); err != nil {
		g.log.WithError(err).Warn("Gallery refresh returned nothing usable, keeping previous snapshot")
		return err
	}
	return nil
}

// Nearest returns up to k entries near probe using the approximate index,
// with exact distances, closest first. Ties keep snapshot order.
func (g *Gallery) Nearest(probe embedding.Embedding, k int) []Candidate {
	if k <= 0 || len(probe) != embedding.Dim {
		return nil
	}

	snap := g.Snapshot()
	ids := g.index.search(probe, k)

	out := make([]Candidate, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entry, ok := snap.Get(id)
		if !ok {
			continue
		}
		out = append(out, Candidate{Entry: entry, Distance: embedding.Distance(probe, entry.Embedding)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return snap.Position(out[i].Entry.Identity.ID) < snap.Position(out[j].Entry.Identity.ID)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Search returns entries whose normalized name contains the normalized query,
// or whose ID equals the query. An empty query returns every entry.
func (g *Gallery) Search(query string) []Entry {
	snap := g.Snapshot()
	q := NormalizeName(query)
	if q == "" {
		return snap.Entries()
	}

	var out []Entry
	for i := range snap.Len() {
		e := snap.At(i)
		if e.Identity.ID == strings.TrimSpace(query) || strings.Contains(NormalizeName(e.Identity.Name), q) {
			out = append(out, e)
		}
	}
	return out
}

// Indexed returns the number of identities in the approximate index.
func (g *Gallery) Indexed() int {
	return g.index.count()
}
