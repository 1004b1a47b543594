package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/tidewise/gamepad-websocket/internal/domain"
)

// Bus is a domain.Bus on Redis Pub/Sub channels. Topics containing glob
// characters are subscribed with PSUBSCRIBE.
type Bus struct {
	client *Client

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

var _ domain.Bus = (*Bus)(nil)

func NewBus(client *Client) *Bus {
	return &Bus{client: client, subs: make(map[*subscription]struct{})}
}

type subscription struct {
	bus    *Bus
	ps     *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()
		<-s.done

		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
	})
	return err
}

// Subscribe waits for the server to confirm the subscription before returning,
// so messages published afterwards are not lost.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	var ps *redis.PubSub
	if isPattern(topic) {
		ps = b.client.rdb.PSubscribe(ctx, topic)
	} else {
		ps = b.client.rdb.Subscribe(ctx, topic)
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{bus: b, ps: ps, cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		msgCh := ps.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				handler(subCtx, []byte(msg.Payload))
			case <-subCtx.Done():
				return
			}
		}
	}()

	return sub, nil
}

func (b *Bus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := b.client.rdb.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

// Close ends every subscription. The underlying client is closed by its owner.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			slog.Warn("Failed to close redis subscription", "error", err)
		}
	}
	return nil
}

func isPattern(topic string) bool {
	for _, r := range topic {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}
