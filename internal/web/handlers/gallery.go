package handlers

import (
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/sirupsen/logrus"
)

// GalleryHandler exposes gallery maintenance.
type GalleryHandler struct {
	gallery *gallery.Gallery
	metrics *metrics.Metrics
	onFresh func()
	log     logrus.FieldLogger
}

// NewGalleryHandler creates a new gallery handler. onRefresh, if set, runs
// after every successful refresh.
func NewGalleryHandler(g *gallery.Gallery, m *metrics.Metrics, onRefresh func(), log logrus.FieldLogger) *GalleryHandler {
	return &GalleryHandler{gallery: g, metrics: m, onFresh: onRefresh, log: log}
}

// GalleryStatus describes the current snapshot.
type GalleryStatus struct {
	Identities int        `json:"identities"`
	Indexed    int        `json:"indexed"`
	LoadedAt   *time.Time `json:"loaded_at,omitempty"`
	Stale      bool       `json:"stale"`
	Error      string     `json:"error,omitempty"`
}

func (h *GalleryHandler) status() GalleryStatus {
	st := GalleryStatus{Identities: h.gallery.Len(), Indexed: h.gallery.Indexed()}
	if at := h.gallery.Snapshot().LoadedAt(); !at.IsZero() {
		st.LoadedAt = &at
	}
	return st
}

// Refresh reloads the gallery from storage. On failure the previous snapshot
// keeps serving and the response says so.
func (h *GalleryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	err := h.gallery.Refresh(r.Context())
	h.metrics.RecordRefresh(err)

	st := h.status()
	if err != nil {
		h.log.WithError(err).Warn("Manual gallery refresh failed")
		st.Stale = true
		st.Error = "gallery source unavailable"
		respondJSON(w, errorStatus(err), st)
		return
	}
	if h.onFresh != nil {
		h.onFresh()
	}
	respondJSON(w, http.StatusOK, st)
}

// Status returns the current snapshot summary.
func (h *GalleryHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status())
}
