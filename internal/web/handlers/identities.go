package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/sirupsen/logrus"
)

// IdentitiesHandler lists, shows and enrolls identities.
type IdentitiesHandler struct {
	gallery   *gallery.Gallery
	enroll    *enrollment.Service
	extractor extractor.Extractor
	metrics   *metrics.Metrics
	tolerance float64
	log       logrus.FieldLogger
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(g *gallery.Gallery, enroll *enrollment.Service, ext extractor.Extractor,
	m *metrics.Metrics, tolerance float64, log logrus.FieldLogger,
) *IdentitiesHandler {
	return &IdentitiesHandler{
		gallery:   g,
		enroll:    enroll,
		extractor: ext,
		metrics:   m,
		tolerance: tolerance,
		log:       log,
	}
}

// IdentityListResponse is the body of GET /identities.
type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Count      int                `json:"count"`
	LoadedAt   *time.Time         `json:"loaded_at,omitempty"`
}

// List returns enrolled identities, optionally filtered by ?q= (name or ID).
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	entries := h.gallery.Search(r.URL.Query().Get("q"))

	resp := IdentityListResponse{Identities: make([]IdentityResponse, len(entries)), Count: len(entries)}
	for i, e := range entries {
		resp.Identities[i] = newIdentityResponse(e.Identity)
	}
	if at := h.gallery.Snapshot().LoadedAt(); !at.IsZero() {
		resp.LoadedAt = &at
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get returns one enrolled identity.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, ok := h.gallery.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	respondJSON(w, http.StatusOK, newIdentityResponse(entry.Identity))
}

// EnrollRequest is the body of POST /identities.
type EnrollRequest struct {
	enrollment.Fields
	ProbeRequest
}

// EnrollResponse is returned for accepted and rejected enrollments alike.
type EnrollResponse struct {
	enrollment.Outcome
	Similar []CandidateResponse `json:"similar,omitempty"`
}

// Enroll registers an identity, or replaces the face of an existing one.
func (h *IdentitiesHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var emb []float32
	if len(req.Embedding) > 0 || req.Image != "" {
		e, _, err := req.resolve(r.Context(), h.extractor)
		if err != nil {
			h.log.WithError(err).Warn("Face extraction failed during enrollment")
			respondError(w, http.StatusBadGateway, "face extraction failed")
			return
		}
		emb = e
	}

	outcome, err := h.enroll.Enroll(r.Context(), req.Fields, emb)
	if err != nil {
		h.metrics.RecordEnroll("error")
		h.log.WithFields(logrus.Fields{
			"identity_id": sanitizeForLog(req.ID),
			"error":       err,
		}).Error("Enrollment failed")
		respondError(w, errorStatus(err), "failed to store identity")
		return
	}

	resp := EnrollResponse{Outcome: outcome, Similar: newCandidates(outcome.Similar, h.tolerance)}
	switch {
	case !outcome.Enrolled():
		h.metrics.RecordEnroll(string(outcome.Reason))
		respondJSON(w, http.StatusUnprocessableEntity, resp)
	case outcome.Updated:
		h.metrics.RecordEnroll("updated")
		respondJSON(w, http.StatusOK, resp)
	default:
		h.metrics.RecordEnroll("enrolled")
		respondJSON(w, http.StatusCreated, resp)
	}
}
