package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/gallery"
	"github.com/kozaktomas/face-attendance/internal/ledger"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/matcher"
)

var (
	alice = database.Identity{ID: "S001", Name: "Alice Nováková", Role: database.RoleStudent, Branch: "CSE"}
	bob   = database.Identity{ID: "T001", Name: "Bob Smith", Role: database.RoleTeacher, Designation: "Professor"}
)

// axis returns an embedding with v at position i and zeros elsewhere.
func axis(i int, v float32) []float32 {
	e := make([]float32, embedding.Dim)
	e[i] = v
	return e
}

// fakeExtractor returns a fixed embedding for any image.
type fakeExtractor struct {
	mu    sync.Mutex
	emb   []float32
	found bool
	err   error
	calls int
}

func (f *fakeExtractor) ExtractEmbedding(ctx context.Context, image []byte) (embedding.Embedding, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	return embedding.Embedding(f.emb), f.found, nil
}

// testEnv wires the domain components over a mock store.
type testEnv struct {
	store   *mock.MockStore
	gallery *gallery.Gallery
	matcher *matcher.Matcher
	ledger  *ledger.Ledger
	enroll  *enrollment.Service
	ext     *fakeExtractor
}

// newTestEnv seeds alice at axis 0 and bob at axis 1 and loads the gallery.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logging.Discard()

	store := mock.NewMockStore()
	store.AddIdentity(alice, axis(0, 1))
	store.AddIdentity(bob, axis(1, 1))

	g := gallery.New(store, log)
	if err := g.Refresh(context.Background()); err != nil {
		t.Fatalf("failed to load gallery: %v", err)
	}

	return &testEnv{
		store:   store,
		gallery: g,
		matcher: matcher.New(g, matcher.DefaultTolerance),
		ledger:  ledger.New(store, ledger.DefaultWindow, log),
		enroll:  enrollment.NewService(store, g, matcher.DefaultTolerance, log),
		ext:     &fakeExtractor{},
	}
}

// jsonRequest builds a request with a JSON encoded body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
