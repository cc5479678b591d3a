package matcher

import (
	"fmt"
	"math"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

func axis(i int, v float32) embedding.Embedding {
	e := make(embedding.Embedding, embedding.Dim)
	e[i] = v
	return e
}

func entry(id string, e embedding.Embedding) gallery.Entry {
	return gallery.Entry{
		Identity:  database.Identity{ID: id, Name: id, Role: database.RoleStudent, Branch: "ECE"},
		Embedding: e,
	}
}

func loaded(t *testing.T, entries ...gallery.Entry) *gallery.Gallery {
	t.Helper()
	g := gallery.New(nil, logging.Discard())
	if len(entries) == 0 {
		return g
	}
	if _, err := g.Load(entries); err != nil {
		t.Fatalf("load: %v", err)
	}
	return g
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestIdentify_NearestWithinTolerance(t *testing.T) {
	probe := make(embedding.Embedding, embedding.Dim)
	g := loaded(t, entry("A", axis(0, 0.3)), entry("B", axis(1, 0.5)))

	res := Identify(g.Snapshot(), probe, 0.6)
	if !res.Matched {
		t.Fatal("expected a match")
	}
	if res.Entry.Identity.ID != "A" {
		t.Errorf("expected A, got %s", res.Entry.Identity.ID)
	}
	if !approx(res.Distance, 0.3) {
		t.Errorf("expected distance 0.3, got %f", res.Distance)
	}
}

func TestIdentify_GlobalMinimumNotFirstUnderTolerance(t *testing.T) {
	probe := make(embedding.Embedding, embedding.Dim)
	// B comes first and is under tolerance, but A is closer.
	g := loaded(t, entry("B", axis(1, 0.5)), entry("A", axis(0, 0.3)))

	res := Identify(g.Snapshot(), probe, 0.6)
	if !res.Matched || res.Entry.Identity.ID != "A" {
		t.Fatalf("expected nearest entry A, got %+v", res)
	}
}

func TestIdentify_OutsideTolerance(t *testing.T) {
	probe := make(embedding.Embedding, embedding.Dim)
	g := loaded(t, entry("A", axis(0, 0.3)), entry("B", axis(1, 0.5)))

	res := Identify(g.Snapshot(), probe, 0.2)
	if res.Matched {
		t.Fatalf("expected no match, got %s", res.Entry.Identity.ID)
	}
	if !approx(res.Distance, 0.3) {
		t.Errorf("expected best distance 0.3 reported, got %f", res.Distance)
	}
}

func TestIdentify_DistanceEqualToTolerance(t *testing.T) {
	probe := make(embedding.Embedding, embedding.Dim)
	g := loaded(t, entry("A", axis(0, 0.5)))

	if res := Identify(g.Snapshot(), probe, 0.5); !res.Matched {
		t.Error("expected a match at exactly the tolerance")
	}
}

func TestIdentify_TieBreaksByPosition(t *testing.T) {
	probe := make(embedding.Embedding, embedding.Dim)
	g := loaded(t,
		entry("first", axis(0, 0.4)),
		entry("second", axis(1, 0.4)),
		entry("third", axis(2, 0.4)),
	)

	for range 10 {
		res := Identify(g.Snapshot(), probe, 0.6)
		if res.Entry.Identity.ID != "first" {
			t.Fatalf("expected lowest position to win the tie, got %s", res.Entry.Identity.ID)
		}
	}
}

func TestIdentify_IdenticalEmbeddings(t *testing.T) {
	same := axis(3, 1)
	g := loaded(t, entry("twin1", same), entry("twin2", same.Clone()))

	res := Identify(g.Snapshot(), same, 0.6)
	if !res.Matched || res.Entry.Identity.ID != "twin1" || res.Distance != 0 {
		t.Errorf("expected twin1 at distance 0, got %+v", res)
	}
}

func TestIdentify_EmptyGallery(t *testing.T) {
	g := loaded(t)
	if res := Identify(g.Snapshot(), axis(0, 1), 0.6); res.Matched {
		t.Error("expected no match on empty gallery")
	}
	if res := Identify(nil, axis(0, 1), 0.6); res.Matched {
		t.Error("expected no match on nil snapshot")
	}
}

func TestIdentify_WrongDimensionProbe(t *testing.T) {
	g := loaded(t, entry("A", axis(0, 0)))
	if res := Identify(g.Snapshot(), embedding.Embedding{0, 0}, 10); res.Matched {
		t.Error("expected no match for wrong-dimension probe")
	}
}

func TestIdentify_NonFiniteProbe(t *testing.T) {
	g := loaded(t, entry("A", axis(0, 0.3)), entry("B", axis(1, 0.5)))

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		probe := make(embedding.Embedding, embedding.Dim)
		probe[5] = float32(bad)
		if res := Identify(g.Snapshot(), probe, 0.6); res.Matched {
			t.Errorf("expected no match for component %v, got %s at %f", bad, res.Entry.Identity.ID, res.Distance)
		}
	}
}

func TestMatcher_UpsertThenIdentify(t *testing.T) {
	g := loaded(t, entry("A", axis(0, 1)))
	m := New(g, 0.6)

	fresh := axis(7, 2.5)
	if err := g.Upsert(database.Identity{ID: "B", Name: "B", Role: database.RoleTeacher, Designation: "HOD"}, fresh); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	res := m.Identify(fresh)
	if !res.Matched || res.Entry.Identity.ID != "B" || res.Distance != 0 {
		t.Fatalf("expected B at distance 0, got %+v", res)
	}
}

func TestMatcher_ReenrollReplacesOldFace(t *testing.T) {
	old := axis(0, 1)
	g := loaded(t, entry("A", old))
	m := New(g, 0.6)

	if err := g.Upsert(entry("A", axis(1, 1)).Identity, axis(1, 1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res := m.Identify(old); res.Matched {
		t.Errorf("expected old face to no longer match, got distance %f", res.Distance)
	}
}

func TestNew_DefaultTolerance(t *testing.T) {
	m := New(loaded(t), -1)
	if m.Tolerance() != DefaultTolerance {
		t.Errorf("expected default tolerance %f, got %f", DefaultTolerance, m.Tolerance())
	}
}

func TestRank(t *testing.T) {
	g := loaded(t,
		entry("far", axis(0, 3)),
		entry("near", axis(0, 1)),
		entry("mid", axis(0, 2)),
	)
	m := New(g, 0.6)

	got := m.Rank(axis(0, 1.1), 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].Entry.Identity.ID != "near" || got[1].Entry.Identity.ID != "mid" {
		t.Errorf("unexpected ranking: %s, %s", got[0].Entry.Identity.ID, got[1].Entry.Identity.ID)
	}
	if !m.Within(got[0]) || m.Within(got[1]) {
		t.Error("expected only the nearest candidate within tolerance")
	}
}

func BenchmarkIdentify(b *testing.B) {
	g := gallery.New(nil, logging.Discard())
	entries := make([]gallery.Entry, 1000)
	for i := range entries {
		e := make(embedding.Embedding, embedding.Dim)
		for j := range e {
			e[j] = float32((i*31+j*7)%97) / 97
		}
		entries[i] = entry(fmt.Sprintf("id-%04d", i), e)
	}
	if _, err := g.Load(entries); err != nil {
		b.Fatal(err)
	}
	probe := entries[500].Embedding
	snap := g.Snapshot()

	b.ResetTimer()
	for b.Loop() {
		Identify(snap, probe, DefaultTolerance)
	}
}
