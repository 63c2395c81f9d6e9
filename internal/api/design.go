package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/imagestore"
	"github.com/ashureev/ecoplan/internal/orchestrator"
	"github.com/go-chi/chi/v5"
)

// DesignHandler serves the design-session endpoints.
type DesignHandler struct {
	*Handler
	ws *WebSocketHandler
}

// NewDesignHandler creates the design-session handler.
func NewDesignHandler(h *Handler) *DesignHandler {
	return &DesignHandler{
		Handler: h,
		ws:      NewWebSocketHandler(h.sessions, h.frontendURL, h.isDevelopment(), h.logger),
	}
}

// RegisterRoutes mounts the design routes on r.
func (h *DesignHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/design", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/answer", h.Answer)
		r.Post("/restart", h.Restart)
		r.Post("/inputs", h.SaveInputs)
		r.Post("/message", h.AppendMessage)
		r.Get("/status/{sessionId}", h.Status)
		r.Get("/messages/{sessionId}", h.Messages)
		r.Get("/images/*", h.Image)
		r.Get("/config", h.GetConfig)
		r.Get("/ws/{sessionId}", h.ws.ServeHTTP)
	})
}

type startRequest struct {
	ProjectType domain.ProjectType `json:"projectType"`
}

// Start handles POST /api/design/start.
func (h *DesignHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.sessions.Start(r.Context(), domain.ProjectType(strings.ToLower(strings.TrimSpace(string(req.ProjectType)))))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// Answer handles POST /api/design/answer.
func (h *DesignHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.AnswerRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := required("sessionId", req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.sessions.Answer(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Restart handles POST /api/design/restart.
func (h *DesignHandler) Restart(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := required("sessionId", req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	view, err := h.sessions.Restart(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusAccepted, view)
}

// Status handles GET /api/design/status/{sessionId}.
func (h *DesignHandler) Status(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessions.Status(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, view)
}

type persistedResponse struct {
	OK        bool `json:"ok"`
	Persisted bool `json:"persisted"`
}

type inputsRequest struct {
	SessionID string        `json:"sessionId"`
	Inputs    domain.Inputs `json:"inputs"`
}

// SaveInputs handles POST /api/design/inputs.
func (h *DesignHandler) SaveInputs(w http.ResponseWriter, r *http.Request) {
	var req inputsRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := required("sessionId", req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	persisted, err := h.sessions.SaveInputs(r.Context(), req.SessionID, req.Inputs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, persistedResponse{OK: true, Persisted: persisted})
}

type messageRequest struct {
	SessionID string `json:"sessionId"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

// AppendMessage handles POST /api/design/message.
func (h *DesignHandler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := required("sessionId", req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	persisted, err := h.sessions.AppendMessage(r.Context(), req.SessionID, req.Message.Role, req.Message.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, persistedResponse{OK: true, Persisted: persisted})
}

type messagesResponse struct {
	SessionID string                 `json:"sessionId"`
	Messages  []domain.StoredMessage `json:"messages"`
}

// Messages handles GET /api/design/messages/{sessionId}.
func (h *DesignHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")
	msgs, err := h.sessions.Messages(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []domain.StoredMessage{}
	}
	JSON(w, http.StatusOK, messagesResponse{SessionID: id, Messages: msgs})
}

// Image handles GET /api/design/images/*.
func (h *DesignHandler) Image(w http.ResponseWriter, r *http.Request) {
	key, err := imagestore.CleanKey(chi.URLParam(r, "*"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid image key")
		return
	}
	rc, mimeType, err := h.images.Open(r.Context(), key)
	switch {
	case errors.Is(err, imagestore.ErrNotFound):
		Error(w, http.StatusNotFound, "image not found")
		return
	case err != nil:
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("Image copy interrupted", "key", key, "error", err)
	}
}

// GetConfig handles GET /api/design/config.
func (h *DesignHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"persistenceEnabled": h.sessions.Persistent(),
	})
}
