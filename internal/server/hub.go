package server

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Hub owns the live side of the server: the room registry, the ingress that
// feeds it, and every goroutine serving an SSE stream or WebSocket. Shutdown
// signals all feeds to close and waits for those goroutines to finish.
type Hub struct {
	registry *chat.Registry
	ingress  *chat.Ingress
	log      *logrus.Logger

	mu       sync.Mutex
	closing  bool
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewHub wraps registry and ingress.
func NewHub(registry *chat.Registry, ingress *chat.Ingress, log *logrus.Logger) *Hub {
	return &Hub{
		registry: registry,
		ingress:  ingress,
		log:      log,
		shutdown: make(chan struct{}),
	}
}

func (h *Hub) Registry() *chat.Registry { return h.registry }

func (h *Hub) Ingress() *chat.Ingress { return h.ingress }

// enter records a transport goroutine. It fails once shutdown has begun.
func (h *Hub) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closing {
		return false
	}
	h.wg.Add(1)
	return true
}

func (h *Hub) leave() { h.wg.Done() }

// spawn runs fn on a tracked goroutine.
func (h *Hub) spawn(fn func()) bool {
	if !h.enter() {
		return false
	}
	go func() {
		defer h.leave()
		fn()
	}()
	return true
}

// ShuttingDown is closed when Shutdown starts.
func (h *Hub) ShuttingDown() <-chan struct{} { return h.shutdown }

// Shutdown closes every live feed and waits for transport goroutines to
// return, or for timeout to elapse, in which case it returns
// context.DeadlineExceeded.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.mu.Lock()
	if !h.closing {
		h.closing = true
		close(h.shutdown)
	}
	h.mu.Unlock()

	signalled := h.registry.CloseAll()
	h.log.WithField("clients", signalled).Info("Close requested for all live connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some connections may still be open")
		return context.DeadlineExceeded
	}
}
