// Package correlation tags contexts so that log lines about one HTTP request, one
// client connection or one input sample can be grouped.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type contextKey struct{}

// tags is what a context carries. Topic is only set for input samples.
type tags struct {
	id    string
	topic string
}

func fromContext(ctx context.Context) tags {
	t, _ := ctx.Value(contextKey{}).(tags)
	return t
}

// NewID returns 8 random hex characters.
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// WithID tags ctx with id, keeping any input topic already present.
func WithID(ctx context.Context, id string) context.Context {
	t := fromContext(ctx)
	t.id = id
	return context.WithValue(ctx, contextKey{}, t)
}

// ForConnection uses the first block of the connection ID, which is also how the
// client shows up when its statistics are matched against logs.
func ForConnection(ctx context.Context, connectionID uuid.UUID) context.Context {
	return WithID(ctx, connectionID.String()[:8])
}

// ForSample tags the handling of one input sample received on topic.
func ForSample(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, contextKey{}, tags{id: NewID(), topic: topic})
}

// ID extracts the correlation ID from ctx.
func ID(ctx context.Context) (string, bool) {
	id := fromContext(ctx).id
	return id, id != ""
}

// Topic reports the input topic a sample context was tagged with.
func Topic(ctx context.Context) (string, bool) {
	topic := fromContext(ctx).topic
	return topic, topic != ""
}

// Handler decorates log records with the tags found on the context.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	t := fromContext(ctx)
	if t.id != "" {
		r.AddAttrs(slog.String("correlation_id", t.id))
	}
	if t.topic != "" {
		r.AddAttrs(slog.String("input_topic", t.topic))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
