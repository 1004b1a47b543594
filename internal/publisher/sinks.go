package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tidewise/gamepad-websocket/internal/domain"
)

// LogSink writes diagnostic events and statistics to the default logger.
type LogSink struct{}

func (LogSink) HandleEvent(ctx context.Context, event domain.Event) {
	level := slog.LevelInfo
	switch event.Kind {
	case domain.EventConnectionEstablished, domain.EventConnectionLost:
		level = slog.LevelDebug
	case domain.EventInputTimeout, domain.EventIDMismatch, domain.EventSizeMismatch:
		level = slog.LevelWarn
	case domain.EventConfigurationFailure:
		level = slog.LevelError
	}
	slog.Log(ctx, level, "Publisher event", "kind", string(event.Kind), "detail", event.Detail)
}

func (LogSink) WriteStatistics(ctx context.Context, stats domain.Statistics) error {
	slog.DebugContext(ctx, "Connection statistics", "active_connections", len(stats.SocketsStatistics))
	return nil
}

// BusSink publishes events and statistics as JSON on a message bus. An empty topic
// disables the corresponding stream.
type BusSink struct {
	bus         domain.Bus
	eventsTopic string
	statsTopic  string
}

func NewBusSink(bus domain.Bus, eventsTopic, statsTopic string) *BusSink {
	return &BusSink{bus: bus, eventsTopic: eventsTopic, statsTopic: statsTopic}
}

func (s *BusSink) HandleEvent(ctx context.Context, event domain.Event) {
	if s.eventsTopic == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := s.bus.Publish(ctx, s.eventsTopic, data); err != nil {
		slog.Warn("Failed to publish event", "topic", s.eventsTopic, "kind", string(event.Kind), "error", err)
	}
}

func (s *BusSink) WriteStatistics(ctx context.Context, stats domain.Statistics) error {
	if s.statsTopic == "" {
		return nil
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal statistics: %w", err)
	}
	if err := s.bus.Publish(ctx, s.statsTopic, data); err != nil {
		return fmt.Errorf("publish statistics: %w", err)
	}
	return nil
}
