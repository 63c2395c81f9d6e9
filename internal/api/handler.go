// Package api provides HTTP handlers for the design-session API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/imagestore"
	"github.com/ashureev/ecoplan/internal/orchestrator"
	"github.com/ashureev/ecoplan/internal/questionflow"
	"github.com/ashureev/ecoplan/internal/store"
	"github.com/ashureev/ecoplan/internal/worker"
)

// maxBodyBytes bounds a request body. Survey uploads arrive inline as data
// URLs, so this is larger than any plain answer needs.
const maxBodyBytes = 16 << 20

// Sessions is the orchestrator surface the handlers call.
type Sessions interface {
	Start(ctx context.Context, projectType domain.ProjectType) (*orchestrator.StartResult, error)
	Answer(ctx context.Context, req orchestrator.AnswerRequest) (*orchestrator.StatusView, error)
	Status(ctx context.Context, sessionID string) (*orchestrator.StatusView, error)
	Restart(ctx context.Context, sessionID string) (*orchestrator.StatusView, error)
	SaveInputs(ctx context.Context, sessionID string, inputs domain.Inputs) (bool, error)
	AppendMessage(ctx context.Context, sessionID, role, content string) (bool, error)
	Messages(ctx context.Context, sessionID string) ([]domain.StoredMessage, error)
	Watch(ctx context.Context, sessionID string) (<-chan *orchestrator.StatusView, error)
	Persistent() bool
}

// Handler provides common handler utilities.
type Handler struct {
	sessions    Sessions
	images      imagestore.Store
	frontendURL string
	logger      *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(sessions Sessions, images imagestore.Store, frontendURL string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		sessions:    sessions,
		images:      images,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, errorBody{Error: message})
}

type errorBody struct {
	Error      string            `json:"error"`
	QuestionID string            `json:"questionId,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	respondError(h.logger, w, r, err)
}

// respondError maps a domain error onto a status code and body.
func respondError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var verr *questionflow.ValidationError
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusBadRequest, errorBody{Error: verr.Error(), QuestionID: verr.QuestionID, Fields: verr.Fields})
	case errors.Is(err, store.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, orchestrator.ErrInvalidTransition), errors.Is(err, store.ErrVersionConflict):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		Error(w, http.StatusServiceUnavailable, "generation queue is busy, try again shortly")
	case errors.Is(err, context.Canceled):
		// The client went away; nobody reads the body.
		w.WriteHeader(499)
	default:
		logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into v, rejecting unknown trailing data.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &questionflow.ValidationError{Fields: map[string]string{"body": fmt.Sprintf("must be at most %d bytes", tooLarge.Limit)}}
		}
		return &questionflow.ValidationError{Fields: map[string]string{"body": "invalid JSON: " + err.Error()}}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &questionflow.ValidationError{Fields: map[string]string{"body": "must contain a single JSON object"}}
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &questionflow.ValidationError{Fields: map[string]string{field: "is required"}}
	}
	return nil
}

// isDevelopment returns true if running in development mode.
func (h *Handler) isDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return h.frontendURL == "" ||
		strings.Contains(h.frontendURL, "localhost") ||
		strings.Contains(h.frontendURL, "127.0.0.1")
}
