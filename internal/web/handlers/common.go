package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxRequestBody bounds JSON bodies, which may carry a base64 image.
const maxRequestBody = 16 << 20

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// errorStatus maps a backend error to an HTTP status. Storage outages are 503
// so clients can retry; everything else is a 500.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, database.ErrStoreUnavailable),
		errors.Is(err, ledger.ErrPersistenceFailed),
		errors.Is(err, gallery.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ProbeRequest carries a face either as a ready embedding or as an image for
// the extractor. Image is base64, optionally as a data URL.
type ProbeRequest struct {
	Embedding []float32 `json:"embedding,omitempty"`
	Image     string    `json:"image,omitempty"`
}

var errNoProbe = errors.New("either embedding or image is required")

// resolve returns the probe embedding. ok is false when the image has no face.
func (p ProbeRequest) resolve(ctx context.Context, ext extractor.Extractor) (embedding.Embedding, bool, error) {
	if len(p.Embedding) > 0 {
		return embedding.Embedding(p.Embedding), true, nil
	}
	if p.Image == "" {
		return nil, false, errNoProbe
	}
	if ext == nil {
		return nil, false, errors.New("image extraction is not configured")
	}

	data := p.Image
	if i := strings.Index(data, ";base64,"); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, false, fmt.Errorf("invalid base64 image: %w", err)
	}
	return ext.ExtractEmbedding(ctx, raw)
}

// IdentityResponse is the JSON view of an enrolled identity.
type IdentityResponse struct {
	database.Identity
	RoleTitle   string `json:"role_title"`
	Affiliation string `json:"affiliation,omitempty"`
}

func newIdentityResponse(id database.Identity) IdentityResponse {
	return IdentityResponse{Identity: id, RoleTitle: id.Role.Title(), Affiliation: id.Affiliation()}
}

// CandidateResponse is one ranked gallery entry.
type CandidateResponse struct {
	Identity IdentityResponse `json:"identity"`
	Distance float64          `json:"distance"`
	Within   bool             `json:"within_tolerance"`
}

func newCandidates(cands []gallery.Candidate, tolerance float64) []CandidateResponse {
	out := make([]CandidateResponse, len(cands))
	for i, c := range cands {
		out[i] = CandidateResponse{
			Identity: newIdentityResponse(c.Entry.Identity),
			Distance: c.Distance,
			Within:   c.Distance <= tolerance,
		}
	}
	return out
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
