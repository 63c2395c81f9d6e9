package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/ashureev/ecoplan/internal/domain"
)

// Subscription receives a signal whenever its session changes. Signals
// coalesce: a slow reader sees one pending signal, not one per change.
type Subscription struct {
	C      <-chan struct{}
	Closed <-chan struct{}

	signal chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.closed) })
}

// Hub fans session changes out to watchers.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Register adds a watcher for sessionID.
func (h *Hub) Register(sessionID string) *Subscription {
	sub := &Subscription{
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	sub.C = sub.signal
	sub.Closed = sub.closed

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.active[sessionID]; !ok {
		h.active[sessionID] = make(map[*Subscription]struct{})
	}
	h.active[sessionID][sub] = struct{}{}
	h.logger.Debug("Watcher registered", "session_id", sessionID, "watchers", len(h.active[sessionID]))
	return sub
}

// Unregister removes a watcher.
func (h *Hub) Unregister(sessionID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.active[sessionID]; ok {
		if _, exists := subs[sub]; exists {
			delete(subs, sub)
			sub.close()
			if len(subs) == 0 {
				delete(h.active, sessionID)
			}
			h.logger.Debug("Watcher unregistered", "session_id", sessionID)
		}
	}
}

// Publish signals every watcher of sessionID.
func (h *Hub) Publish(sessionID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.active[sessionID] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

// Notify implements pipeline.Notifier.
func (h *Hub) Notify(p *domain.ProgressSnapshot) {
	h.Publish(p.SessionID)
}

// CloseSession ends every watch of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.active[sessionID]
	if !ok {
		return
	}
	for sub := range subs {
		sub.close()
	}
	delete(h.active, sessionID)
	h.logger.Info("Session watchers closed", "session_id", sessionID, "watchers", len(subs))
}

// CloseAll ends every watch. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for id, subs := range h.active {
		for sub := range subs {
			sub.close()
			n++
		}
		delete(h.active, id)
	}
	if n > 0 {
		h.logger.Info("All session watchers closed", "watchers", n)
	}
}

// Watchers returns the number of watchers of sessionID.
func (h *Hub) Watchers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[sessionID])
}
