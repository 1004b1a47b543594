package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewise/gamepad-websocket/internal/domain"
)

type fakeSubscription struct{}

func (fakeSubscription) Unsubscribe() error { return nil }

// fakeBus delivers published messages synchronously to subscribers.
type fakeBus struct {
	mu         sync.Mutex
	handlers   map[string]domain.MessageHandler
	published  map[string][][]byte
	publishErr error
	deadlines  []time.Time
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]domain.MessageHandler), published: make(map[string][][]byte)}
}

func (b *fakeBus) Subscribe(_ context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return fakeSubscription{}, nil
}

func (b *fakeBus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.Lock()
	if b.publishErr != nil {
		b.mu.Unlock()
		return b.publishErr
	}
	b.published[topic] = append(b.published[topic], data)
	if deadline, ok := ctx.Deadline(); ok {
		b.deadlines = append(b.deadlines, deadline)
	}
	handler := b.handlers[topic]
	b.mu.Unlock()

	if handler != nil {
		handler(ctx, data)
	}
	return nil
}

func (b *fakeBus) Ping(context.Context) error { return nil }
func (b *fakeBus) Close() error               { return nil }

func (b *fakeBus) messages(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[topic]...)
}

func TestBusSink_EventPublishIsBounded(t *testing.T) {
	bus := newFakeBus()
	sink := NewBusSink(bus, "events", "")

	before := time.Now()
	sink.HandleEvent(context.Background(), domain.Event{Kind: domain.EventInputTimeout, At: time.UnixMilli(0)})

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.deadlines, 1, "publish must carry a deadline")
	assert.WithinDuration(t, before.Add(sinkTimeout), bus.deadlines[0], 500*time.Millisecond)
}

func TestBusSink_PublishesEvents(t *testing.T) {
	bus := newFakeBus()
	sink := NewBusSink(bus, "events", "")

	sink.HandleEvent(context.Background(), domain.Event{Kind: domain.EventInputTimeout, At: time.UnixMilli(0), Detail: "quiet"})

	msgs := bus.messages("events")
	require.Len(t, msgs, 1)
	var event domain.Event
	require.NoError(t, json.Unmarshal(msgs[0], &event))
	assert.Equal(t, domain.EventInputTimeout, event.Kind)
	assert.Equal(t, "quiet", event.Detail)
}

func TestBusSink_PublishesStatistics(t *testing.T) {
	bus := newFakeBus()
	sink := NewBusSink(bus, "", "stats")

	err := sink.WriteStatistics(context.Background(), domain.Statistics{
		SocketsStatistics: []domain.SocketStatistics{{Sent: 3, Received: 1}},
	})

	require.NoError(t, err)
	msgs := bus.messages("stats")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"time":"0001-01-01T00:00:00Z","sockets_statistics":[{"sent":3,"received":1,"connected_at":"0001-01-01T00:00:00Z"}]}`, string(msgs[0]))
}

func TestBusSink_EmptyTopicsDisableStreams(t *testing.T) {
	bus := newFakeBus()
	sink := NewBusSink(bus, "", "")

	sink.HandleEvent(context.Background(), domain.Event{Kind: domain.EventPublishing})
	require.NoError(t, sink.WriteStatistics(context.Background(), domain.Statistics{}))

	assert.Empty(t, bus.published)
}

func TestBusSink_StatisticsPublishError(t *testing.T) {
	bus := newFakeBus()
	bus.publishErr = errors.New("broker down")
	sink := NewBusSink(bus, "", "stats")

	err := sink.WriteStatistics(context.Background(), domain.Statistics{})

	assert.ErrorContains(t, err, "broker down")
}

func TestPublisher_SubscribeDecodesSamples(t *testing.T) {
	h := newHarness(t, defaultConfig(ModeDigital), clockwork.NewFakeClock(), false)
	bus := newFakeBus()

	_, err := h.publisher.Subscribe(context.Background(), bus, "gpio")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "gpio", []byte(`{"states":[{"data":1},{"data":0}]}`)))
	require.NoError(t, bus.Publish(context.Background(), "gpio", []byte(`garbage`)))

	require.Len(t, h.publisher.inbox, 1)
	sample := <-h.publisher.inbox
	assert.Equal(t, []bool{true, false}, sample.Digital.States)
}

func TestPublisher_StatisticsWrittenToSinks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bus := newFakeBus()
	cfg := defaultConfig(ModeDigital)

	p, err := New(cfg, clock, nil, nil, WithStatisticsSinks(NewBusSink(bus, "", "stats")))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	// cycle ticker and statistics ticker
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(cfg.StatsInterval)

	require.Eventually(t, func() bool { return len(bus.messages("stats")) == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
