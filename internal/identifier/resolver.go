package identifier

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tidewise/gamepad-websocket/internal/wire"
)

// Delivery activates a connection after queueing its greeting. It reports false when
// the connection no longer exists.
type Delivery interface {
	Promote(id uuid.UUID, greeting []byte) bool
}

// Resolver owns the resolved identifier and the connections waiting for it.
type Resolver struct {
	mu       sync.Mutex
	template string
	raw      string
	resolved string
	known    bool
	pending  []uuid.UUID
	delivery Delivery
}

// NewResolver validates the transform template before anything else can happen, so an
// invalid template fails at setup.
func NewResolver(template string, delivery Delivery) (*Resolver, error) {
	if err := ValidateTemplate(template); err != nil {
		return nil, err
	}
	return &Resolver{template: template, delivery: delivery}, nil
}

// SetRaw stores the raw identifier and recomputes the resolved one. The first
// resolution greets every pending connection in the order they connected and
// empties the queue. It reports whether this call was the first resolution.
func (r *Resolver) SetRaw(raw string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.raw = raw
	r.resolved = Transform(r.template, raw)
	if r.known {
		return r.resolved, false
	}
	r.known = true

	greeting, err := encodeGreeting(r.resolved)
	if err != nil {
		slog.Error("Failed to encode identifier message", "error", err)
		return r.resolved, true
	}

	pending := r.pending
	r.pending = nil
	delivered := 0
	for _, id := range pending {
		if r.delivery.Promote(id, greeting) {
			delivered++
		}
	}
	slog.Info("Device identifier resolved", "identifier", r.resolved, "raw", raw, "greeted", delivered)
	return r.resolved, true
}

// OnConnect greets the connection right away when the identifier is known and queues
// it otherwise.
func (r *Resolver) OnConnect(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known {
		r.pending = append(r.pending, id)
		return
	}

	greeting, err := encodeGreeting(r.resolved)
	if err != nil {
		slog.Error("Failed to encode identifier message", "error", err)
		return
	}
	r.delivery.Promote(id, greeting)
}

// Forget drops a connection from the pending queue, e.g. after it disconnected.
func (r *Resolver) Forget(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.pending {
		if p == id {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

// Resolved returns the resolved identifier, if any.
func (r *Resolver) Resolved() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved, r.known
}

// PendingCount returns the number of connections waiting for the identifier.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func encodeGreeting(id string) ([]byte, error) {
	data, err := wire.EncodeIdentifier(id)
	if err != nil {
		return nil, fmt.Errorf("marshal identifier message: %w", err)
	}
	return data, nil
}
