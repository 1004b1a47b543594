package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/platform/correlation"
	"github.com/tidewise/gamepad-websocket/internal/wire"
)

// Subscribe feeds samples published on topic into the publisher. Payloads that do not
// decode as the mode's sample kind are logged and dropped.
func (p *Publisher) Subscribe(ctx context.Context, bus domain.Bus, topic string) (domain.Subscription, error) {
	kind := p.cfg.Mode.SampleKind()
	sub, err := bus.Subscribe(ctx, topic, func(ctx context.Context, data []byte) {
		ctx = correlation.ForSample(ctx, topic)
		sample, err := wire.DecodeSample(kind, data)
		if err != nil {
			p.countSample("malformed")
			slog.WarnContext(ctx, "Dropping malformed sample", "error", err)
			return
		}
		if err := p.Submit(sample); err != nil && !errors.Is(err, ErrInboxFull) {
			slog.WarnContext(ctx, "Sample refused", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	slog.Info("Subscribed to input samples", "topic", topic, "kind", kind.String())
	return sub, nil
}
