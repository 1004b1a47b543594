//go:build integration

package nats

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
)

var testNATSURL string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tcnats.Run(ctx, "nats:2.10-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start nats container: %v\n", err)
		os.Exit(1)
	}

	testNATSURL, err = container.ConnectionString(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get nats url: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

func setupTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := Connect(t.Context(), testNATSURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := setupTestBus(t)

	received := make(chan []byte, 1)
	sub, err := bus.Subscribe(context.Background(), "gamepad.test", func(_ context.Context, data []byte) {
		received <- data
	})
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, bus.Ping(t.Context()))

	require.NoError(t, bus.Publish(t.Context(), "gamepad.test", []byte(`{"time":1}`)))

	select {
	case data := <-received:
		assert.JSONEq(t, `{"time":1}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := setupTestBus(t)

	received := make(chan []byte, 4)
	sub, err := bus.Subscribe(context.Background(), "gamepad.unsub", func(_ context.Context, data []byte) {
		received <- data
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Ping(t.Context()))

	require.NoError(t, bus.Publish(t.Context(), "gamepad.unsub", []byte("x")))
	require.NoError(t, bus.Ping(t.Context()))

	select {
	case <-received:
		t.Fatal("message delivered after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBus_Ping(t *testing.T) {
	bus := setupTestBus(t)
	assert.NoError(t, bus.Ping(t.Context()))
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus, err := Connect(t.Context(), testNATSURL)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	require.Eventually(t, func() bool {
		return bus.Publish(t.Context(), "gamepad.closed", []byte("x")) != nil
	}, 2*time.Second, 20*time.Millisecond)
	assert.ErrorIs(t, bus.Ping(t.Context()), ErrNotConnected)
}

func TestConnect_InvalidURLFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	_, err := Connect(ctx, "nats://127.0.0.1:1")
	assert.Error(t, err)
}
