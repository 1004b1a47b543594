package registry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidewise/gamepad-websocket/internal/domain"
)

// Connection is a registered client socket together with its counters.
type Connection struct {
	id          uuid.UUID
	seq         uint64
	socket      *websocket.Conn
	connectedAt time.Time
	remoteAddr  string

	sent         atomic.Uint64
	received     atomic.Uint64
	lastReceived atomic.Int64 // unix nanoseconds, 0 while unset
	lastSent     atomic.Int64

	// guarded by Registry.mu
	active bool

	writer   *clientWriter
	ctx      context.Context
	cancel   context.CancelFunc
	readDone chan struct{}
}

func (c *Connection) ID() uuid.UUID { return c.id }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// Context is cancelled once the connection's read unit has exited.
func (c *Connection) Context() context.Context { return c.ctx }

// Done is closed when the read unit has exited.
func (c *Connection) Done() <-chan struct{} { return c.readDone }

// Statistics returns the current counters of this connection.
func (c *Connection) Statistics() domain.SocketStatistics {
	return domain.SocketStatistics{
		Sent:                c.sent.Load(),
		Received:            c.received.Load(),
		LastReceivedMessage: unixNanoTime(c.lastReceived.Load()),
		LastSentMessage:     unixNanoTime(c.lastSent.Load()),
		ConnectedAt:         c.connectedAt,
	}
}

func (c *Connection) markWritten(counted bool, at time.Time) {
	if !counted {
		return
	}
	c.sent.Add(1)
	c.lastSent.Store(at.UnixNano())
}

func (c *Connection) markReceived(at time.Time) {
	c.received.Add(1)
	c.lastReceived.Store(at.UnixNano())
}

func unixNanoTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
