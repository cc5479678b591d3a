package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/sirupsen/logrus"
)

const statsCacheTTL = 15 * time.Second

// statsCache holds cached stats with expiry
type statsCache struct {
	mu        sync.RWMutex
	data      *StatsResponse
	expiresAt time.Time
}

func (c *statsCache) get(now time.Time) (*StatsResponse, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || now.After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *statsCache) set(data *StatsResponse, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = now.Add(statsCacheTTL)
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = nil
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	gallery *gallery.Gallery
	ledger  *ledger.Ledger
	store   database.IdentityReader
	log     logrus.FieldLogger
	now     func() time.Time
	cache   statsCache
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(g *gallery.Gallery, l *ledger.Ledger, store database.IdentityReader, log logrus.FieldLogger) *StatsHandler {
	return &StatsHandler{gallery: g, ledger: l, store: store, log: log, now: time.Now}
}

// InvalidateCache clears the cached stats so the next request fetches fresh data
func (h *StatsHandler) InvalidateCache() {
	h.cache.invalidate()
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	GalleryIdentities int    `json:"gallery_identities"`
	StoredIdentities  int    `json:"stored_identities"`
	WithoutFace       int    `json:"identities_without_face"`
	ActiveCooldowns   int    `json:"active_cooldowns"`
	AttendanceToday   int    `json:"attendance_today"`
	StudentsToday     int    `json:"students_today"`
	TeachersToday     int    `json:"teachers_today"`
	Date              string `json:"date"`
}

func (h *StatsHandler) compute(ctx context.Context, now time.Time) (*StatsResponse, error) {
	stats := &StatsResponse{
		GalleryIdentities: h.gallery.Len(),
		ActiveCooldowns:   h.ledger.Cooldowns(now),
		Date:              now.Format(database.DateLayout),
	}

	stored, err := h.store.CountIdentities(ctx)
	if err != nil {
		return nil, err
	}
	stats.StoredIdentities = stored
	stats.WithoutFace = max(0, stored-stats.GalleryIdentities)

	today, err := h.ledger.History(ctx, database.AttendanceFilter{Date: stats.Date})
	if err != nil {
		return nil, err
	}
	// Count people, not marks.
	seen := make(map[string]struct{}, len(today))
	for _, rec := range today {
		if _, dup := seen[rec.IdentityID]; dup {
			continue
		}
		seen[rec.IdentityID] = struct{}{}
		switch rec.Role {
		case database.RoleStudent:
			stats.StudentsToday++
		case database.RoleTeacher:
			stats.TeachersToday++
		}
	}
	stats.AttendanceToday = len(seen)
	return stats, nil
}

// Get returns counts for the dashboard.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	if cached, ok := h.cache.get(now); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	stats, err := h.compute(r.Context(), now)
	if err != nil {
		h.log.WithError(err).Error("Failed to compute stats")
		respondError(w, errorStatus(err), "failed to compute stats")
		return
	}
	h.cache.set(stats, now)
	respondJSON(w, http.StatusOK, stats)
}
