//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/orchestrator"
	"github.com/ashureev/ecoplan/internal/questionflow"
	"github.com/ashureev/ecoplan/internal/store"
	"github.com/ashureev/ecoplan/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

// stubSessions fails every call with err.
type stubSessions struct {
	err        error
	persistent bool
	lastAnswer orchestrator.AnswerRequest
}

func (s *stubSessions) Start(context.Context, domain.ProjectType) (*orchestrator.StartResult, error) {
	return nil, s.err
}

func (s *stubSessions) Answer(_ context.Context, req orchestrator.AnswerRequest) (*orchestrator.StatusView, error) {
	s.lastAnswer = req
	return nil, s.err
}

func (s *stubSessions) Status(context.Context, string) (*orchestrator.StatusView, error) {
	return nil, s.err
}

func (s *stubSessions) Restart(context.Context, string) (*orchestrator.StatusView, error) {
	return nil, s.err
}

func (s *stubSessions) SaveInputs(context.Context, string, domain.Inputs) (bool, error) {
	return false, s.err
}

func (s *stubSessions) AppendMessage(context.Context, string, string, string) (bool, error) {
	return false, s.err
}

func (s *stubSessions) Messages(context.Context, string) ([]domain.StoredMessage, error) {
	return nil, s.err
}

func (s *stubSessions) Watch(context.Context, string) (<-chan *orchestrator.StatusView, error) {
	return nil, s.err
}

func (s *stubSessions) Persistent() bool { return s.persistent }

func stubRouter(s Sessions) http.Handler {
	r := chi.NewRouter()
	NewDesignHandler(NewHandler(s, nil, "", nil)).RegisterRoutes(r)
	return r
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", questionflow.Invalid("floors", "answer", "must be one of 1, 2"), http.StatusBadRequest},
		{"not found", fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound},
		{"transition", fmt.Errorf("%w: cannot restart while collecting", orchestrator.ErrInvalidTransition), http.StatusConflict},
		{"version", store.ErrVersionConflict, http.StatusConflict},
		{"queue full", worker.ErrQueueFull, http.StatusServiceUnavailable},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := stubRouter(&stubSessions{err: tt.err})
			req := httptest.NewRequest(http.MethodPost, "/api/design/restart", strings.NewReader(`{"sessionId":"s1"}`))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			var body errorBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body.Error)
			}
		})
	}
}

func TestValidationErrorCarriesFields(t *testing.T) {
	router := stubRouter(&stubSessions{err: questionflow.Invalid("plotDimensions", "width", "must be a positive number")})
	req := httptest.NewRequest(http.MethodPost, "/api/design/answer",
		strings.NewReader(`{"sessionId":"s1","questionId":"plotDimensions","answer":{"width":"-4","depth":60}}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "plotDimensions", body.QuestionID)
	assert.Equal(t, "must be a positive number", body.Fields["width"])
}

func TestAnswerDecodesValueShapes(t *testing.T) {
	s := &stubSessions{err: store.ErrNotFound}
	router := stubRouter(s)
	req := httptest.NewRequest(http.MethodPost, "/api/design/answer",
		strings.NewReader(`{"sessionId":"s1","questionId":"plotDimensions","answer":{"width":40,"depth":"60"}}`))
	router.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, domain.ValueFields, s.lastAnswer.Answer.Kind)
	assert.Equal(t, "40", s.lastAnswer.Answer.Fields["width"])
	assert.Equal(t, "60", s.lastAnswer.Answer.Fields["depth"])
}

func TestBadRequestBodies(t *testing.T) {
	tests := []struct {
		name, path, body, field string
	}{
		{"malformed json", "/api/design/start", `{"projectType":`, "body"},
		{"trailing data", "/api/design/start", `{"projectType":"residential"} {}`, "body"},
		{"missing session", "/api/design/answer", `{"questionId":"floors","answer":"1"}`, "sessionId"},
		{"missing session on restart", "/api/design/restart", `{}`, "sessionId"},
		{"missing session on inputs", "/api/design/inputs", `{"inputs":{}}`, "sessionId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := stubRouter(&stubSessions{})
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))

			require.Equal(t, http.StatusBadRequest, w.Code)
			var body errorBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Contains(t, body.Fields, tt.field)
		})
	}
}

func TestGetConfig(t *testing.T) {
	for _, persistent := range []bool{true, false} {
		w := httptest.NewRecorder()
		stubRouter(&stubSessions{persistent: persistent}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/design/config", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]bool
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, persistent, body["persistenceEnabled"])
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name   string
		checks map[string]Pinger
		code   int
		status string
	}{
		{"healthy", map[string]Pinger{"database": ok}, http.StatusOK, "healthy"},
		{"degraded", map[string]Pinger{"database": ok, "image_store": down}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHealthHandler(tt.checks, 0).RegisterHealth(r)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			assert.Equal(t, tt.code, w.Code)
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, "ok", body.Checks["api"])
		})
	}
}
