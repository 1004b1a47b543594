package domain

import (
	"context"
	"time"
)

// EventKind names a diagnostic event exposed by the publisher.
type EventKind string

const (
	EventConnectionEstablished EventKind = "connection_established"
	EventConnectionLost        EventKind = "connection_lost"
	EventPublishing            EventKind = "publishing"
	EventInputTimeout          EventKind = "input_timeout"
	EventIDMismatch            EventKind = "id_mismatch"
	EventSizeMismatch          EventKind = "size_mismatch"
	EventConfigurationFailure  EventKind = "configuration_failure"
)

type Event struct {
	Kind   EventKind `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// EventSink receives diagnostic events. Implementations must not block the caller
// for long; events are emitted from the processing cycle.
type EventSink interface {
	HandleEvent(ctx context.Context, event Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event)

func (f EventSinkFunc) HandleEvent(ctx context.Context, event Event) { f(ctx, event) }
