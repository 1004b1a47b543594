package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/platform/correlation"
)

const (
	maxMessageSize = 64 * 1024
	// abortGrace bounds the wait for read units after their sockets were closed.
	abortGrace = 100 * time.Millisecond
)

// Delivery is the per-connection outcome of a broadcast.
type Delivery struct {
	ID  uuid.UUID
	Err error
}

// Registry tracks every accepted connection. A connection starts pending and only
// becomes active (broadcast target, reported in statistics) once promoted.
type Registry struct {
	mu          sync.RWMutex
	clock       clockwork.Clock
	connections map[uuid.UUID]*Connection
	nextSeq     uint64
	closed      bool
	wsMetrics   *metrics.WebSocketMetrics
	onClosed    func(*Connection)
}

// New creates an empty registry.
// onClosed is called from the read unit of each connection, exactly once, after the
// connection has left the registry (whatever removed it).
func New(clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics, onClosed func(*Connection)) *Registry {
	return &Registry{
		clock:       clock,
		connections: make(map[uuid.UUID]*Connection),
		wsMetrics:   wsMetrics,
		onClosed:    onClosed,
	}
}

// Add registers an upgraded socket as a pending connection and starts its writer and
// read unit.
func (r *Registry) Add(socket *websocket.Conn) (*Connection, error) {
	id := uuid.New()
	ctx, cancel := context.WithCancel(correlation.ForConnection(context.Background(), id))
	c := &Connection{
		id:          id,
		socket:      socket,
		connectedAt: r.clock.Now(),
		remoteAddr:  socket.RemoteAddr().String(),
		ctx:         ctx,
		cancel:      cancel,
		readDone:    make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		_ = socket.Close()
		return nil, domain.ErrRegistryClosed
	}
	r.nextSeq++
	c.seq = r.nextSeq
	c.writer = newClientWriter(socket, r.clock, c.markWritten, func(err error) {
		slog.DebugContext(ctx, "Write to client failed", "connection_id", id.String(), "error", err)
		if r.wsMetrics != nil {
			r.wsMetrics.WriteFailures.Inc()
		}
	})
	r.connections[id] = c
	r.mu.Unlock()

	if r.wsMetrics != nil {
		r.wsMetrics.PendingConnections.Inc()
	}

	go r.readLoop(c)

	slog.DebugContext(ctx, "Connection added", "connection_id", id.String(), "remote_addr", c.remoteAddr)
	return c, nil
}

// Promote makes a pending connection active. The greeting, when not nil, is queued
// before the connection becomes visible to Broadcast, so it always precedes broadcast
// traffic on that connection. It reports false if the connection is gone.
func (r *Registry) Promote(id uuid.UUID, greeting []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.connections[id]
	if !ok {
		return false
	}
	if greeting != nil && !c.writer.enqueue(outbound{data: greeting}) {
		slog.WarnContext(c.ctx, "Dropped greeting for slow client", "connection_id", id.String())
	}
	if !c.active {
		c.active = true
		if r.wsMetrics != nil {
			r.wsMetrics.PendingConnections.Dec()
			r.wsMetrics.ActiveConnections.Inc()
		}
	}
	return true
}

// Send queues an uncounted message for a single connection.
func (r *Registry) Send(id uuid.UUID, msg []byte) error {
	r.mu.RLock()
	c, ok := r.connections[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", id, domain.ErrConnectionNotFound)
	}
	if !c.writer.enqueue(outbound{data: msg}) {
		return fmt.Errorf("send to %s: %w", id, domain.ErrSlowClient)
	}
	return nil
}

// Remove drops a connection and closes its socket. Removing an unknown or already
// removed connection is a no-op that reports false.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	c, ok := r.connections[id]
	wasActive := ok && c.active
	if ok {
		delete(r.connections, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if r.wsMetrics != nil {
		if wasActive {
			r.wsMetrics.ActiveConnections.Dec()
		} else {
			r.wsMetrics.PendingConnections.Dec()
		}
	}

	c.writer.stop()
	return true
}

// Broadcast queues msg on every active connection. Connections whose buffer is full
// are evicted; the others are unaffected.
func (r *Registry) Broadcast(msg []byte) []Delivery {
	targets := r.orderedConnections(true)

	deliveries := make([]Delivery, 0, len(targets))
	var slow []uuid.UUID
	for _, c := range targets {
		if c.writer.enqueue(outbound{data: msg, counted: true}) {
			deliveries = append(deliveries, Delivery{ID: c.id})
			continue
		}
		deliveries = append(deliveries, Delivery{ID: c.id, Err: domain.ErrSlowClient})
		slow = append(slow, c.id)
	}

	for _, id := range slow {
		if r.Remove(id) {
			slog.Warn("Disconnecting slow client", "connection_id", id.String())
			if r.wsMetrics != nil {
				r.wsMetrics.SlowClientsEvicted.Inc()
			}
		}
	}

	if r.wsMetrics != nil {
		r.wsMetrics.MessagesPublished.Add(float64(len(deliveries) - len(slow)))
	}
	return deliveries
}

// RecordReceived counts one inbound message for a connection, whatever its content.
func (r *Registry) RecordReceived(id uuid.UUID, payload []byte, at time.Time) bool {
	r.mu.RLock()
	c, ok := r.connections[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	c.markReceived(at)
	if r.wsMetrics != nil {
		r.wsMetrics.MessagesReceived.Inc()
		r.wsMetrics.BytesReceived.Add(float64(len(payload)))
	}
	return true
}

// Snapshot returns the statistics of every connected client, pending ones included,
// in connection order.
func (r *Registry) Snapshot() []domain.SocketStatistics {
	targets := r.orderedConnections(false)
	stats := make([]domain.SocketStatistics, 0, len(targets))
	for _, c := range targets {
		stats = append(stats, c.Statistics())
	}
	return stats
}

// Len returns the number of connected clients, pending ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// ActiveLen returns the number of connections receiving broadcasts.
func (r *Registry) ActiveLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.connections {
		if c.active {
			n++
		}
	}
	return n
}

// Shutdown closes every connection and waits until each read unit has exited or ctx
// expires. Writers are stopped concurrently; a client that cannot take its close frame
// before ctx is done has its socket closed outright. The registry accepts no
// connection afterwards.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]*Connection, 0, len(r.connections))
	for id, c := range r.connections {
		all = append(all, c)
		delete(r.connections, id)
	}
	r.mu.Unlock()

	slog.Info("Registry shutting down", "connections", len(all))

	for _, c := range all {
		go c.writer.stopGraceful(ctx, "server shutting down")
	}
	if r.wsMetrics != nil {
		r.wsMetrics.ActiveConnections.Set(0)
		r.wsMetrics.PendingConnections.Set(0)
	}

	if waitReadUnits(ctx, all) == 0 {
		slog.Info("Registry shutdown complete", "disconnected_clients", len(all))
		return nil
	}

	for _, c := range all {
		c.writer.abort()
	}
	grace, cancel := context.WithTimeout(context.Background(), abortGrace)
	defer cancel()
	if running := waitReadUnits(grace, all); running > 0 {
		return fmt.Errorf("%w: %d read units still running", domain.ErrShutdownTimeout, running)
	}

	slog.Warn("Registry shutdown deadline exceeded, remaining connections aborted", "disconnected_clients", len(all))
	return nil
}

// waitReadUnits blocks until every read unit has exited or ctx is done and returns
// how many are still running.
func waitReadUnits(ctx context.Context, conns []*Connection) int {
	for _, c := range conns {
		select {
		case <-c.readDone:
		case <-ctx.Done():
		}
	}
	running := 0
	for _, c := range conns {
		select {
		case <-c.readDone:
		default:
			running++
		}
	}
	return running
}

// orderedConnections returns the registered connections in connection order,
// only the active ones when activeOnly is set.
func (r *Registry) orderedConnections(activeOnly bool) []*Connection {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		if c.active || !activeOnly {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(targets, func(a, b *Connection) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return targets
}

// readLoop is the connection's read unit. It only touches the connection's counters.
func (r *Registry) readLoop(c *Connection) {
	defer close(c.readDone)
	defer c.cancel()

	c.socket.SetReadLimit(maxMessageSize)
	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.DebugContext(c.ctx, "Client read failed", "connection_id", c.id.String(), "error", err)
			}
			break
		}
		c.writer.updateReadDeadline()
		r.RecordReceived(c.id, payload, r.clock.Now())
	}

	r.Remove(c.id)
	if r.onClosed != nil {
		r.onClosed(c)
	}
}
