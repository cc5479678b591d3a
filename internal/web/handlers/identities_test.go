package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/logging"
)

func newIdentitiesHandler(env *testEnv) *IdentitiesHandler {
	return NewIdentitiesHandler(env.gallery, env.enroll, env.ext, nil, env.matcher.Tolerance(), logging.Discard())
}

func TestIdentitiesHandler_List(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"S001", "T001"}},
		{"?q=novakova", []string{"S001"}},
		{"?q=T001", []string{"T001"}},
		{"?q=nobody", nil},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			h.List(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/identities"+tc.query, nil))

			assertStatusCode(t, recorder, http.StatusOK)

			var resp IdentityListResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Count != len(tc.want) {
				t.Fatalf("expected %d identities, got %d", len(tc.want), resp.Count)
			}
			for i, id := range tc.want {
				if resp.Identities[i].ID != id {
					t.Errorf("identity %d: expected %s, got %s", i, id, resp.Identities[i].ID)
				}
			}
			if resp.LoadedAt == nil {
				t.Error("expected loaded_at to be set")
			}
		})
	}
}

func TestIdentitiesHandler_Get(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/identities/T001", nil), map[string]string{"id": "T001"})
	h.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var resp IdentityResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Name != "Bob Smith" || resp.RoleTitle != "Teacher" || resp.Affiliation != "Professor" {
		t.Errorf("unexpected identity %+v", resp)
	}
}

func TestIdentitiesHandler_Get_NotFound(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	recorder := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/identities/X", nil), map[string]string{"id": "X"})
	h.Get(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "identity not found")
}

func TestIdentitiesHandler_Enroll_New(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	body := map[string]any{
		"id": "S002", "name": "Carol", "role": "Student", "branch": "ECE",
		"embedding": axis(2, 1),
	}
	recorder := httptest.NewRecorder()
	h.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", body))

	assertStatusCode(t, recorder, http.StatusCreated)

	var resp EnrollResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Status != enrollment.StatusEnrolled || resp.Updated {
		t.Errorf("unexpected outcome %+v", resp.Outcome)
	}
	if _, ok := env.gallery.Get("S002"); !ok {
		t.Error("expected S002 in the gallery")
	}
	if len(resp.Similar) != 0 {
		t.Errorf("expected no similar faces, got %d", len(resp.Similar))
	}
}

func TestIdentitiesHandler_Enroll_FromImage(t *testing.T) {
	env := newTestEnv(t)
	env.ext.emb, env.ext.found = axis(3, 1), true
	h := newIdentitiesHandler(env)

	body := map[string]any{
		"id": "T002", "name": "Dan", "role": "teacher", "designation": "Lecturer",
		"image": "aGVsbG8=",
	}
	recorder := httptest.NewRecorder()
	h.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", body))

	assertStatusCode(t, recorder, http.StatusCreated)
	if env.ext.calls != 1 {
		t.Errorf("expected 1 extractor call, got %d", env.ext.calls)
	}
	if got := env.store.Embedding("T002"); len(got) == 0 || got[3] != 1 {
		t.Error("expected the extracted embedding to be stored")
	}
}

func TestIdentitiesHandler_Enroll_Update(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	body := map[string]any{
		"id": "S001", "name": "Alice N.", "role": "student", "branch": "IT",
		"embedding": axis(0, 1.1),
	}
	recorder := httptest.NewRecorder()
	h.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", body))

	assertStatusCode(t, recorder, http.StatusOK)

	var resp EnrollResponse
	parseJSONResponse(t, recorder, &resp)
	if !resp.Updated {
		t.Error("expected updated=true")
	}
	if env.gallery.Len() != 2 {
		t.Errorf("expected gallery size to stay 2, got %d", env.gallery.Len())
	}
}

func TestIdentitiesHandler_Enroll_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		body   map[string]any
		reason enrollment.Reason
		field  string
	}{
		{
			name:   "no face",
			body:   map[string]any{"id": "S9", "name": "X", "role": "student", "branch": "CSE"},
			reason: enrollment.ReasonNoEmbedding,
		},
		{
			name:   "no face in image",
			body:   map[string]any{"id": "S9", "name": "X", "role": "student", "branch": "CSE", "image": "aGVsbG8="},
			reason: enrollment.ReasonNoEmbedding,
		},
		{
			name:   "missing branch",
			body:   map[string]any{"id": "S9", "name": "X", "role": "student", "embedding": axis(5, 1)},
			reason: enrollment.ReasonMissingField,
			field:  "branch",
		},
		{
			name:   "unknown role",
			body:   map[string]any{"id": "S9", "name": "X", "role": "janitor", "embedding": axis(5, 1)},
			reason: enrollment.ReasonInvalidRole,
			field:  "role",
		},
		{
			name:   "short embedding",
			body:   map[string]any{"id": "S9", "name": "X", "role": "student", "branch": "CSE", "embedding": []float32{1, 2}},
			reason: enrollment.ReasonInvalidEmbedding,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			h := newIdentitiesHandler(env)

			recorder := httptest.NewRecorder()
			h.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", tc.body))

			assertStatusCode(t, recorder, http.StatusUnprocessableEntity)

			var resp EnrollResponse
			parseJSONResponse(t, recorder, &resp)
			if resp.Status != enrollment.StatusRejected || resp.Reason != tc.reason {
				t.Errorf("expected rejection %s, got %+v", tc.reason, resp.Outcome)
			}
			if tc.field != "" && resp.Field != tc.field {
				t.Errorf("expected field %s, got %s", tc.field, resp.Field)
			}
			if env.store.UpsertCalls != 0 {
				t.Errorf("expected no store writes, got %d", env.store.UpsertCalls)
			}
		})
	}
}

func TestIdentitiesHandler_Enroll_SimilarFace(t *testing.T) {
	env := newTestEnv(t)
	h := newIdentitiesHandler(env)

	near := axis(0, 1)
	near[1] = 0.1
	body := map[string]any{"id": "S003", "name": "Eve", "role": "student", "branch": "CSE", "embedding": near}
	recorder := httptest.NewRecorder()
	h.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", body))

	assertStatusCode(t, recorder, http.StatusCreated)

	var resp EnrollResponse
	parseJSONResponse(t, recorder, &resp)
	if len(resp.Similar) == 0 || resp.Similar[0].Identity.ID != "S001" || !resp.Similar[0].Within {
		t.Errorf("expected S001 flagged as similar, got %+v", resp.Similar)
	}
}

func TestIdentitiesHandler_Enroll_Errors(t *testing.T) {
	t.Run("invalid body", func(t *testing.T) {
		h := newIdentitiesHandler(newTestEnv(t))
		recorder := httptest.NewRecorder()
		h.Enroll(recorder, httptest.NewRequest(http.MethodPost, "/api/v1/identities", nil))

		assertStatusCode(t, recorder, http.StatusBadRequest)
		assertJSONError(t, recorder, errInvalidRequestBody)
	})

	t.Run("extractor down", func(t *testing.T) {
		env := newTestEnv(t)
		env.ext.err = errors.New("connection refused")
		h := newIdentitiesHandler(env)

		body := map[string]any{"id": "S9", "name": "X", "role": "student", "branch": "CSE", "image": "aGVsbG8="}
		recorder := httptest.NewRecorder()
		h.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", body))

		assertStatusCode(t, recorder, http.StatusBadGateway)
	})

	t.Run("store failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.UpsertError = errors.New("disk full")
		h := newIdentitiesHandler(env)

		body := map[string]any{"id": "S9", "name": "X", "role": "student", "branch": "CSE", "embedding": axis(5, 1)}
		recorder := httptest.NewRecorder()
		h.Enroll(recorder, jsonRequest(t, http.MethodPost, "/api/v1/identities", body))

		assertStatusCode(t, recorder, http.StatusInternalServerError)
		assertJSONError(t, recorder, "failed to store identity")
		if _, ok := env.gallery.Get("S9"); ok {
			t.Error("expected gallery untouched after a store failure")
		}
	})
}
