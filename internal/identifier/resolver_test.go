package identifier

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/tidewise/gamepad-websocket/internal/platform/errors"
)

type promotion struct {
	id       uuid.UUID
	greeting string
}

// recordingDelivery records promotions; ids listed in gone are reported missing.
type recordingDelivery struct {
	mu         sync.Mutex
	promotions []promotion
	gone       map[uuid.UUID]bool
}

func (d *recordingDelivery) Promote(id uuid.UUID, greeting []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone[id] {
		return false
	}
	d.promotions = append(d.promotions, promotion{id: id, greeting: string(greeting)})
	return true
}

func (d *recordingDelivery) ids() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(d.promotions))
	for _, p := range d.promotions {
		ids = append(ids, p.id)
	}
	return ids
}

func greetingID(t *testing.T, greeting string) string {
	t.Helper()
	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(greeting), &msg))
	require.Len(t, msg, 1)
	return msg["id"].(string)
}

func TestNewResolver_RejectsInvalidTemplate(t *testing.T) {
	r, err := NewResolver("%1_%1", &recordingDelivery{})

	require.Error(t, err)
	assert.Nil(t, r)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestResolver_PendingFlushedInConnectionOrder(t *testing.T) {
	delivery := &recordingDelivery{}
	r, err := NewResolver("", delivery)
	require.NoError(t, err)

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		r.OnConnect(id)
	}
	assert.Empty(t, delivery.ids(), "nobody is greeted before the identifier exists")
	assert.Equal(t, 4, r.PendingCount())

	resolved, first := r.SetRaw("js")

	assert.True(t, first)
	assert.Equal(t, "js", resolved)
	assert.Equal(t, ids, delivery.ids())
	assert.Zero(t, r.PendingCount())
	for _, p := range delivery.promotions {
		assert.Equal(t, "js", greetingID(t, p.greeting))
	}
}

func TestResolver_SecondResolutionDoesNotGreetAgain(t *testing.T) {
	delivery := &recordingDelivery{}
	r, err := NewResolver("", delivery)
	require.NoError(t, err)

	id := uuid.New()
	r.OnConnect(id)
	r.SetRaw("js")
	_, first := r.SetRaw("js")

	assert.False(t, first)
	assert.Equal(t, []uuid.UUID{id}, delivery.ids())
}

func TestResolver_ConnectAfterResolutionGreetsImmediately(t *testing.T) {
	delivery := &recordingDelivery{}
	r, err := NewResolver("pad-%1", delivery)
	require.NoError(t, err)

	r.SetRaw("js")
	id := uuid.New()
	r.OnConnect(id)

	require.Equal(t, []uuid.UUID{id}, delivery.ids())
	assert.Equal(t, "pad-js", greetingID(t, delivery.promotions[0].greeting))
	assert.Zero(t, r.PendingCount())
}

func TestResolver_EmptyIdentifierIsStillAResolution(t *testing.T) {
	delivery := &recordingDelivery{}
	r, err := NewResolver("", delivery)
	require.NoError(t, err)

	id := uuid.New()
	r.OnConnect(id)
	r.SetRaw("")

	resolved, ok := r.Resolved()
	assert.True(t, ok)
	assert.Empty(t, resolved)
	require.Len(t, delivery.promotions, 1)
	assert.JSONEq(t, `{"id":""}`, delivery.promotions[0].greeting)
}

func TestResolver_ForgetDropsPendingConnection(t *testing.T) {
	delivery := &recordingDelivery{}
	r, err := NewResolver("", delivery)
	require.NoError(t, err)

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	r.OnConnect(a)
	r.OnConnect(b)
	r.OnConnect(c)
	r.Forget(b)
	r.Forget(uuid.New())

	r.SetRaw("js")

	assert.Equal(t, []uuid.UUID{a, c}, delivery.ids())
}

func TestResolver_SkipsConnectionsGoneBeforeFlush(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	delivery := &recordingDelivery{gone: map[uuid.UUID]bool{a: true}}
	r, err := NewResolver("", delivery)
	require.NoError(t, err)

	r.OnConnect(a)
	r.OnConnect(b)
	r.SetRaw("js")

	assert.Equal(t, []uuid.UUID{b}, delivery.ids())
	assert.Zero(t, r.PendingCount())
}

func TestResolver_ResolvedBeforeAnyIdentifier(t *testing.T) {
	r, err := NewResolver("", &recordingDelivery{})
	require.NoError(t, err)

	_, ok := r.Resolved()
	assert.False(t, ok)
}

func TestResolver_ConcurrentConnectsAndResolution(t *testing.T) {
	delivery := &recordingDelivery{}
	r, err := NewResolver("", delivery)
	require.NoError(t, err)

	const clients = 50
	var wg sync.WaitGroup
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.OnConnect(uuid.New())
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.SetRaw("js")
	}()
	wg.Wait()

	ids := delivery.ids()
	assert.Len(t, ids, clients, "every connection is greeted exactly once")
	seen := make(map[uuid.UUID]bool, clients)
	for _, id := range ids {
		assert.False(t, seen[id], "connection greeted twice")
		seen[id] = true
	}
	assert.Zero(t, r.PendingCount())
}
