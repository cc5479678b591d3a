package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

func newStatsHandler(env *testEnv, now time.Time) *StatsHandler {
	h := NewStatsHandler(env.gallery, env.ledger, env.store, logging.Discard())
	h.now = func() time.Time { return now }
	return h
}

func mark(t *testing.T, env *testEnv, id database.Identity, at time.Time) {
	t.Helper()
	d, err := env.ledger.TryMark(context.Background(), id, at)
	if err != nil || !d.Accepted {
		t.Fatalf("mark %s at %s: accepted=%v err=%v", id.ID, at, d.Accepted, err)
	}
}

func TestStatsHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddIdentity(database.Identity{ID: "S009", Name: "Pending", Role: database.RoleStudent, Branch: "ME"}, nil)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	mark(t, env, bob, day.Add(-time.Hour)) // yesterday
	mark(t, env, alice, day.Add(8*time.Hour))
	mark(t, env, bob, day.Add(9*time.Hour))
	mark(t, env, alice, day.Add(12*time.Hour)) // second mark, same person

	now := day.Add(12*time.Hour + 30*time.Second)
	h := newStatsHandler(env, now)

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)

	want := StatsResponse{
		GalleryIdentities: 2,
		StoredIdentities:  3,
		WithoutFace:       1,
		ActiveCooldowns:   1,
		AttendanceToday:   2,
		StudentsToday:     1,
		TeachersToday:     1,
		Date:              "2026-03-02",
	}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestStatsHandler_Cache(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	h := newStatsHandler(env, now)

	get := func() StatsResponse {
		recorder := httptest.NewRecorder()
		h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		assertStatusCode(t, recorder, http.StatusOK)
		var stats StatsResponse
		parseJSONResponse(t, recorder, &stats)
		return stats
	}

	if got := get().AttendanceToday; got != 0 {
		t.Fatalf("expected 0 attendance, got %d", got)
	}

	mark(t, env, alice, now)
	if got := get().AttendanceToday; got != 0 {
		t.Errorf("expected cached value 0, got %d", got)
	}

	h.InvalidateCache()
	if got := get().AttendanceToday; got != 1 {
		t.Errorf("expected 1 after invalidation, got %d", got)
	}

	mark(t, env, bob, now)
	h.now = func() time.Time { return now.Add(statsCacheTTL + time.Second) }
	if got := get().AttendanceToday; got != 2 {
		t.Errorf("expected 2 after expiry, got %d", got)
	}
}

func TestStatsHandler_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.CountError = errors.New("connection refused")
	h := newStatsHandler(env, time.Now())

	recorder := httptest.NewRecorder()
	h.Get(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, "failed to compute stats")
}
