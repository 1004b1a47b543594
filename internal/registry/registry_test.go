package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/domain"
)

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { _ = serverConn.Close() })

	return serverConn, clientConn
}

type closedRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *closedRecorder) record(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, c.ID())
}

func (r *closedRecorder) count(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.ids {
		if got == id {
			n++
		}
	}
	return n
}

func testRegistry(t *testing.T) (*Registry, *clockwork.FakeClock, *metrics.WebSocketMetrics, *closedRecorder) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	closed := &closedRecorder{}
	r := New(clock, m, closed.record)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, clock, m, closed
}

func addClient(t *testing.T, r *Registry) (*Connection, *ws.Conn) {
	t.Helper()
	server, client := newTestConnPair(t)
	c, err := r.Add(server)
	require.NoError(t, err)
	return c, client
}

func readText(t *testing.T, client *ws.Conn) string {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func expectNothing(t *testing.T, client *ws.Conn) {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, data, err := client.ReadMessage()
	require.Error(t, err, "unexpected message %q", string(data))
}

func TestRegistry_AddStartsPending(t *testing.T) {
	r, clock, m, _ := testRegistry(t)

	c, _ := addClient(t, r)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.ActiveLen())
	require.Len(t, r.Snapshot(), 1, "pending clients are reported in statistics")
	assert.Equal(t, clock.Now(), r.Snapshot()[0].ConnectedAt)
	assert.Equal(t, clock.Now(), c.ConnectedAt())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingConnections))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveConnections))
}

func TestRegistry_BroadcastSkipsPending(t *testing.T) {
	r, _, _, _ := testRegistry(t)

	active, activeClient := addClient(t, r)
	_, pendingClient := addClient(t, r)
	require.True(t, r.Promote(active.ID(), nil))

	deliveries := r.Broadcast([]byte("frame"))

	require.Len(t, deliveries, 1)
	assert.Equal(t, active.ID(), deliveries[0].ID)
	assert.NoError(t, deliveries[0].Err)
	assert.Equal(t, "frame", readText(t, activeClient))
	expectNothing(t, pendingClient)
}

func TestRegistry_GreetingPrecedesBroadcastAndIsNotCounted(t *testing.T) {
	r, clock, m, _ := testRegistry(t)

	c, client := addClient(t, r)
	require.True(t, r.Promote(c.ID(), []byte(`{"id":"js1"}`)))
	r.Broadcast([]byte("frame"))

	assert.Equal(t, `{"id":"js1"}`, readText(t, client))
	assert.Equal(t, "frame", readText(t, client))

	require.Eventually(t, func() bool {
		return r.Snapshot()[0].Sent == 1
	}, time.Second, 5*time.Millisecond)
	stats := r.Snapshot()[0]
	assert.Equal(t, clock.Now(), stats.LastSentMessage)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PendingConnections))
}

func TestRegistry_PromoteTwiceKeepsGauges(t *testing.T) {
	r, _, m, _ := testRegistry(t)

	c, _ := addClient(t, r)
	require.True(t, r.Promote(c.ID(), nil))
	require.True(t, r.Promote(c.ID(), nil))

	assert.Equal(t, 1, r.ActiveLen())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
}

func TestRegistry_PromoteUnknown(t *testing.T) {
	r, _, _, _ := testRegistry(t)
	assert.False(t, r.Promote(uuid.New(), []byte("x")))
}

func TestRegistry_ReceivedMessagesAreCounted(t *testing.T) {
	r, clock, m, _ := testRegistry(t)

	c, client := addClient(t, r)
	require.True(t, r.Promote(c.ID(), nil))

	require.NoError(t, client.WriteMessage(ws.TextMessage, []byte("anything")))
	require.NoError(t, client.WriteMessage(ws.BinaryMessage, []byte{0x01}))

	require.Eventually(t, func() bool {
		return r.Snapshot()[0].Received == 2
	}, time.Second, 5*time.Millisecond)
	stats := r.Snapshot()[0]
	assert.Equal(t, clock.Now(), stats.LastReceivedMessage)
	assert.Zero(t, stats.Sent)
	assert.True(t, stats.LastSentMessage.IsZero())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived))
}

func TestRegistry_SnapshotFollowsConnectionOrder(t *testing.T) {
	r, clock, _, _ := testRegistry(t)

	first, _ := addClient(t, r)
	clock.Advance(time.Second)
	second, _ := addClient(t, r)
	clock.Advance(time.Second)
	third, _ := addClient(t, r)

	for _, c := range []*Connection{third, first, second} {
		require.True(t, r.Promote(c.ID(), nil))
	}

	stats := r.Snapshot()
	require.Len(t, stats, 3)
	assert.Equal(t, first.ConnectedAt(), stats[0].ConnectedAt)
	assert.Equal(t, second.ConnectedAt(), stats[1].ConnectedAt)
	assert.Equal(t, third.ConnectedAt(), stats[2].ConnectedAt)
}

func TestRegistry_RemoveIsIdempotentAndNotifiesOnce(t *testing.T) {
	r, _, m, closed := testRegistry(t)

	c, _ := addClient(t, r)
	require.True(t, r.Promote(c.ID(), nil))

	assert.True(t, r.Remove(c.ID()))
	assert.False(t, r.Remove(c.ID()))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read unit did not exit")
	}
	assert.Equal(t, 1, closed.count(c.ID()))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Error(t, c.Context().Err())
}

func TestRegistry_ClientDisconnectRemovesConnection(t *testing.T) {
	r, _, _, closed := testRegistry(t)

	c, client := addClient(t, r)
	require.True(t, r.Promote(c.ID(), nil))
	_ = client.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read unit did not exit")
	}
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 1, closed.count(c.ID()))
	assert.ErrorIs(t, r.Send(c.ID(), []byte("x")), domain.ErrConnectionNotFound)
}

func TestRegistry_SendIsNotCounted(t *testing.T) {
	r, _, _, _ := testRegistry(t)

	c, client := addClient(t, r)
	require.NoError(t, r.Send(c.ID(), []byte("direct")))
	assert.Equal(t, "direct", readText(t, client))

	require.True(t, r.Promote(c.ID(), nil))
	assert.Zero(t, r.Snapshot()[0].Sent)
}

func TestRegistry_ShutdownClosesClientsAndRefusesNewOnes(t *testing.T) {
	r, _, _, closed := testRegistry(t)

	c, client := addClient(t, r)
	require.True(t, r.Promote(c.ID(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 1, closed.count(c.ID()))

	server, _ := newTestConnPair(t)
	_, err = r.Add(server)
	assert.ErrorIs(t, err, domain.ErrRegistryClosed)
}

func TestRegistry_SnapshotMixesPendingAndActiveInOrder(t *testing.T) {
	r, clock, _, _ := testRegistry(t)

	first, _ := addClient(t, r)
	clock.Advance(time.Second)
	second, _ := addClient(t, r)
	require.True(t, r.Promote(second.ID(), nil))

	stats := r.Snapshot()
	require.Len(t, stats, 2)
	assert.Equal(t, first.ConnectedAt(), stats[0].ConnectedAt)
	assert.Equal(t, second.ConnectedAt(), stats[1].ConnectedAt)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 1, r.ActiveLen())
}

func TestRegistry_SlowClientIsEvictedWithoutAffectingOthers(t *testing.T) {
	r, _, m, _ := testRegistry(t)

	stalled, _ := addClient(t, r) // never reads
	healthy, healthyClient := addClient(t, r)
	require.True(t, r.Promote(stalled.ID(), nil))
	require.True(t, r.Promote(healthy.ID(), nil))

	frame := []byte(strings.Repeat("x", 256*1024))
	broadcasts := 0
	evicted := false
	for range 1000 {
		deliveries := r.Broadcast(frame)
		broadcasts++
		for _, d := range deliveries {
			if d.ID == stalled.ID() && errors.Is(d.Err, domain.ErrSlowClient) {
				evicted = true
			}
			if d.ID == healthy.ID() {
				require.NoError(t, d.Err, "healthy client must keep receiving")
			}
		}

		require.NoError(t, healthyClient.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := healthyClient.ReadMessage()
		require.NoError(t, err)
		require.Len(t, data, len(frame))

		if evicted {
			break
		}
	}

	require.True(t, evicted, "stalled client was never evicted")
	assert.Equal(t, 1, r.ActiveLen())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SlowClientsEvicted))
	require.Eventually(t, func() bool {
		stats := r.Snapshot()
		return len(stats) == 1 && stats[0].Sent == uint64(broadcasts)
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-stalled.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("evicted client's read unit did not exit")
	}
}

func TestRegistry_ShutdownHonoursDeadlineWithStalledWriters(t *testing.T) {
	r, _, _, _ := testRegistry(t)

	frame := []byte(strings.Repeat("x", 256*1024))
	conns := make([]*Connection, 3)
	for i := range conns {
		c, _ := addClient(t, r) // clients never read
		conns[i] = c
		stalled := false
		for range 1000 {
			if errors.Is(r.Send(c.ID(), frame), domain.ErrSlowClient) {
				stalled = true
				break
			}
		}
		require.True(t, stalled, "writer never blocked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := r.Shutdown(ctx)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*time.Second)
	if err != nil {
		assert.ErrorIs(t, err, domain.ErrShutdownTimeout)
	}
	for _, c := range conns {
		select {
		case <-c.Done():
		case <-time.After(time.Second):
			t.Fatal("read unit survived shutdown")
		}
	}
}
