package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/platform/retry"
)

const (
	clientName      = "gamepad-websocket"
	reconnectWait   = 2 * time.Second
	maxReconnects   = -1
	pingInterval    = 20 * time.Second
	connectTimeout  = 5 * time.Second
	drainTimeout    = 5 * time.Second
	handlerDeadline = 5 * time.Second
)

var ErrNotConnected = errors.New("nats: not connected")

var connectPolicy = retry.Policy{
	MaxAttempts:      5,
	InitialBackoff:   500 * time.Millisecond,
	RateLimitBackoff: 2 * time.Second,
}

// Bus is a domain.Bus backed by core NATS subjects. Topics map one to one
// onto subjects; wildcards are passed through.
type Bus struct {
	mu   sync.Mutex
	conn *natsgo.Conn
	subs []*natsgo.Subscription
}

var _ domain.Bus = (*Bus)(nil)

// Connect dials the server at url, retrying transient failures with backoff.
func Connect(ctx context.Context, url string) (*Bus, error) {
	b := &Bus{}

	p := connectPolicy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("NATS connect failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}

	conn, err := retry.Do(ctx, p, classifyConnectError, func() (*natsgo.Conn, error) {
		return natsgo.Connect(url, b.options()...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}

	b.conn = conn
	slog.Info("Connected to NATS", "url", conn.ConnectedUrlRedacted())
	return b, nil
}

func (b *Bus) options() []natsgo.Option {
	return []natsgo.Option{
		natsgo.Name(clientName),
		natsgo.MaxReconnects(maxReconnects),
		natsgo.ReconnectWait(reconnectWait),
		natsgo.PingInterval(pingInterval),
		natsgo.Timeout(connectTimeout),
		natsgo.DrainTimeout(drainTimeout),
		natsgo.DisconnectErrHandler(handleDisconnect),
		natsgo.ReconnectHandler(handleReconnect),
		natsgo.ClosedHandler(handleClosed),
		natsgo.ErrorHandler(handleError),
	}
}

// Authorization failures and malformed URLs will not heal by retrying.
func classifyConnectError(err error) retry.Action {
	switch {
	case errors.Is(err, natsgo.ErrAuthorization),
		errors.Is(err, natsgo.ErrAuthExpired),
		errors.Is(err, natsgo.ErrBadSubject):
		return retry.Stop
	default:
		return retry.Retry
	}
}

// Subscribe registers handler for topic. Each message gets a context derived
// from ctx with a bounded deadline.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil || b.conn.IsClosed() {
		return nil, ErrNotConnected
	}

	sub, err := b.conn.Subscribe(topic, func(msg *natsgo.Msg) {
		msgCtx, cancel := context.WithTimeout(ctx, handlerDeadline)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.subs = append(b.subs, sub)
	return sub, nil
}

func (b *Bus) Publish(_ context.Context, topic string, data []byte) error {
	conn := b.connection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Ping round-trips to the server, used by the readiness check.
func (b *Bus) Ping(ctx context.Context) error {
	conn := b.connection()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush failed: %w", err)
	}
	return nil
}

// Close drains pending messages for all subscriptions before closing.
func (b *Bus) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.subs = nil
	b.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("nats drain failed: %w", err)
	}
	return nil
}

func (b *Bus) connection() *natsgo.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func handleDisconnect(_ *natsgo.Conn, err error) {
	if err != nil {
		slog.Warn("NATS disconnected", "error", err)
		return
	}
	slog.Info("NATS disconnected")
}

func handleReconnect(conn *natsgo.Conn) {
	slog.Info("NATS reconnected", "url", conn.ConnectedUrlRedacted())
}

func handleClosed(_ *natsgo.Conn) {
	slog.Info("NATS connection closed")
}

func handleError(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
	if sub != nil {
		slog.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	slog.Error("NATS error", "error", err)
}
