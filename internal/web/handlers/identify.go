package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/matcher"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/sirupsen/logrus"
)

// maxCandidates caps the ?top / "top" ranking size.
const maxCandidates = 50

// IdentifyHandler answers "who is this?" without recording attendance.
type IdentifyHandler struct {
	matcher    *matcher.Matcher
	extractor  extractor.Extractor
	metrics    *metrics.Metrics
	candidates int
	log        logrus.FieldLogger
}

// NewIdentifyHandler creates a new identify handler. candidates is the
// default number of ranked alternatives returned.
func NewIdentifyHandler(m *matcher.Matcher, ext extractor.Extractor, mt *metrics.Metrics,
	candidates int, log logrus.FieldLogger,
) *IdentifyHandler {
	return &IdentifyHandler{matcher: m, extractor: ext, metrics: mt, candidates: candidates, log: log}
}

// IdentifyRequest is the body of POST /identify.
type IdentifyRequest struct {
	ProbeRequest
	Top int `json:"top,omitempty"`
}

// IdentifyResponse is the body returned by POST /identify.
type IdentifyResponse struct {
	FaceDetected bool                `json:"face_detected"`
	Matched      bool                `json:"matched"`
	Identity     *IdentityResponse   `json:"identity,omitempty"`
	Distance     *float64            `json:"distance,omitempty"`
	Tolerance    float64             `json:"tolerance"`
	Candidates   []CandidateResponse `json:"candidates,omitempty"`
}

// probeMatch is the outcome of resolving and matching one probe.
type probeMatch struct {
	resp   IdentifyResponse
	result matcher.Result
	probe  embedding.Embedding
}

// identifyProbe resolves the probe and matches it. It writes the error
// response itself and returns ok=false when the caller should stop.
func identifyProbe(w http.ResponseWriter, r *http.Request, p ProbeRequest, ext extractor.Extractor,
	m *matcher.Matcher, mt *metrics.Metrics, log logrus.FieldLogger,
) (pm probeMatch, ok bool) {
	pm.resp.Tolerance = m.Tolerance()

	probe, found, err := p.resolve(r.Context(), ext)
	if errors.Is(err, errNoProbe) {
		respondError(w, http.StatusBadRequest, err.Error())
		return pm, false
	}
	if err != nil {
		log.WithError(err).Warn("Face extraction failed")
		respondError(w, http.StatusBadGateway, "face extraction failed")
		return pm, false
	}
	if !found {
		mt.RecordIdentify("no_face", 0)
		return pm, true
	}
	if err := probe.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return pm, false
	}
	pm.resp.FaceDetected = true
	pm.probe = probe

	start := time.Now()
	pm.result = m.Identify(probe)
	took := time.Since(start)

	if pm.result.Matched {
		mt.RecordIdentify("matched", took)
		id := newIdentityResponse(pm.result.Entry.Identity)
		d := pm.result.Distance
		pm.resp.Matched, pm.resp.Identity, pm.resp.Distance = true, &id, &d
	} else {
		mt.RecordIdentify("no_match", took)
	}
	return pm, true
}

// Identify matches a probe against the gallery and returns the best match
// plus ranked alternatives.
func (h *IdentifyHandler) Identify(w http.ResponseWriter, r *http.Request) {
	var req IdentifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	pm, ok := identifyProbe(w, r, req.ProbeRequest, h.extractor, h.matcher, h.metrics, h.log)
	if !ok {
		return
	}
	if pm.resp.FaceDetected {
		top := h.candidates
		if req.Top > 0 {
			top = min(req.Top, maxCandidates)
		}
		pm.resp.Candidates = newCandidates(h.matcher.Rank(pm.probe, top), h.matcher.Tolerance())
	}
	respondJSON(w, http.StatusOK, pm.resp)
}
