package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/sirupsen/logrus"
)

// defaultHistoryLimit applies when ?limit is not given.
const defaultHistoryLimit = 500

// Scan statuses.
const (
	ScanMarked     = "marked"
	ScanInCooldown = "in_cooldown"
	ScanUnknown    = "unknown"
	ScanNoFace     = "no_face"
)

// AttendanceHandler marks attendance and serves the history.
type AttendanceHandler struct {
	matcher   *matcher.Matcher
	gallery   *gallery.Gallery
	ledger    *ledger.Ledger
	extractor extractor.Extractor
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(m *matcher.Matcher, g *gallery.Gallery, l *ledger.Ledger, ext extractor.Extractor,
	mt *metrics.Metrics, log logrus.FieldLogger,
) *AttendanceHandler {
	return &AttendanceHandler{
		matcher:   m,
		gallery:   g,
		ledger:    l,
		extractor: ext,
		metrics:   mt,
		log:       log,
		now:       time.Now,
	}
}

// ScanResponse is returned by scan and mark.
type ScanResponse struct {
	Status            string                     `json:"status"`
	Identity          *IdentityResponse          `json:"identity,omitempty"`
	Distance          *float64                   `json:"distance,omitempty"`
	Record            *database.AttendanceRecord `json:"record,omitempty"`
	RetryAfterSeconds int                        `json:"retry_after_seconds,omitempty"`
}

// mark runs the ledger for identity and writes the response.
func (h *AttendanceHandler) mark(w http.ResponseWriter, r *http.Request, identity database.Identity, resp ScanResponse) {
	decision, err := h.ledger.TryMark(r.Context(), identity, h.now())
	if err != nil {
		h.metrics.RecordMark("error")
		h.log.WithFields(logrus.Fields{
			"identity_id": identity.ID,
			"error":       err,
		}).Error("Failed to mark attendance")
		respondError(w, errorStatus(err), "failed to record attendance")
		return
	}

	if decision.Accepted {
		resp.Status = ScanMarked
		resp.Record = decision.Record
	} else {
		resp.Status = ScanInCooldown
		resp.RetryAfterSeconds = int(math.Ceil(decision.RetryAfter.Seconds()))
	}
	h.metrics.RecordMark(resp.Status)
	respondJSON(w, http.StatusOK, resp)
}

// Scan identifies the probe and, on a match, tries to mark attendance.
func (h *AttendanceHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ProbeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	pm, ok := identifyProbe(w, r, req, h.extractor, h.matcher, h.metrics, h.log)
	if !ok {
		return
	}
	if !pm.resp.FaceDetected {
		respondJSON(w, http.StatusOK, ScanResponse{Status: ScanNoFace})
		return
	}
	if !pm.result.Matched {
		respondJSON(w, http.StatusOK, ScanResponse{Status: ScanUnknown})
		return
	}

	h.mark(w, r, pm.result.Entry.Identity, ScanResponse{
		Identity: pm.resp.Identity,
		Distance: pm.resp.Distance,
	})
}

// MarkRequest is the body of POST /attendance/mark.
type MarkRequest struct {
	IdentityID string `json:"identity_id"`
}

// Mark records attendance for an already known identity (manual override).
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req MarkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	id := strings.TrimSpace(req.IdentityID)
	if id == "" {
		respondError(w, http.StatusBadRequest, "identity_id is required")
		return
	}

	entry, ok := h.gallery.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "identity not found")
		return
	}
	identity := newIdentityResponse(entry.Identity)
	h.mark(w, r, entry.Identity, ScanResponse{Identity: &identity})
}

// HistoryResponse is the body of GET /attendance.
type HistoryResponse struct {
	Records []database.AttendanceRecord `json:"records"`
	Count   int                         `json:"count"`
}

// parseFilter reads identity_id, date, role and limit query parameters.
func parseFilter(r *http.Request) (database.AttendanceFilter, error) {
	q := r.URL.Query()
	filter := database.AttendanceFilter{
		IdentityID: strings.TrimSpace(q.Get("identity_id")),
		Date:       strings.TrimSpace(q.Get("date")),
		Limit:      defaultHistoryLimit,
	}
	if role := q.Get("role"); role != "" {
		parsed, err := database.ParseRole(role)
		if err != nil {
			return filter, err
		}
		filter.Role = parsed
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, strconv.ErrSyntax
		}
		filter.Limit = n
	}
	return filter, filter.Validate()
}

// History returns attendance records, newest first.
func (h *AttendanceHandler) History(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}

	records, err := h.ledger.History(r.Context(), filter)
	if err != nil {
		h.log.WithError(err).Error("Failed to query attendance history")
		respondError(w, errorStatus(err), "failed to query attendance")
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Records: records, Count: len(records)})
}
