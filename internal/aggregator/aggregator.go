// Package aggregator merges partial command streams (digital states and joystick
// axes) into one combined raw command.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/platform/correlation"
	"github.com/tidewise/gamepad-websocket/internal/wire"
)

// Aggregator keeps the latest sample of every slot. Slots are never cleared: each
// emission merges the last known value of every slot.
type Aggregator struct {
	mu      sync.Mutex
	layout  Layout
	clock   clockwork.Clock
	metrics *metrics.AggregatorMetrics
	latest  map[string]domain.Sample
	index   map[string]Slot
}

func New(layout Layout, clock clockwork.Clock, m *metrics.AggregatorMetrics) (*Aggregator, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	index := make(map[string]Slot, len(layout.Slots))
	for _, s := range layout.Slots {
		index[s.Name] = s
	}
	return &Aggregator{
		layout:  layout,
		clock:   clock,
		metrics: m,
		latest:  make(map[string]domain.Sample, len(layout.Slots)),
		index:   index,
	}, nil
}

// Update stores sample in slot and returns the combined command when every required
// slot holds a value. Samples for unknown slots or of the wrong kind are ignored.
func (a *Aggregator) Update(slot string, sample domain.Sample) (domain.RawCommand, bool) {
	s, ok := a.index[slot]
	if !ok {
		slog.Warn("Update for unknown aggregator slot", "slot", slot)
		return domain.RawCommand{}, false
	}
	if sample.Kind != s.Kind.sampleKind() {
		slog.Warn("Aggregator slot got wrong sample kind", "slot", slot, "kind", sample.Kind.String())
		return domain.RawCommand{}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.latest[slot] = sample
	if a.metrics != nil {
		a.metrics.Updates.WithLabelValues(slot).Inc()
	}

	for _, s := range a.layout.Slots {
		if _, ok := a.latest[s.Name]; s.Required && !ok {
			return domain.RawCommand{}, false
		}
	}
	return a.combine(), true
}

// combine concatenates axes and buttons in slot order. Must be called with mu held.
func (a *Aggregator) combine() domain.RawCommand {
	cmd := domain.RawCommand{
		Time:             a.clock.Now(),
		DeviceIdentifier: a.layout.DeviceIdentifier,
		Axes:             []float64{},
		Buttons:          []uint8{},
	}
	for _, s := range a.layout.Slots {
		sample, ok := a.latest[s.Name]
		if !ok {
			continue
		}
		switch s.Kind {
		case SlotDigital:
			for _, on := range sample.Digital.States {
				cmd.Buttons = append(cmd.Buttons, pressed(on))
			}
		case SlotAxes:
			cmd.Axes = append(cmd.Axes, sample.Raw.Axes...)
		}
	}
	return cmd
}

// Run subscribes every slot topic on bus and publishes combined commands to the layout's
// output topic until ctx is done.
func (a *Aggregator) Run(ctx context.Context, bus domain.Bus) error {
	subs := make([]domain.Subscription, 0, len(a.layout.Slots))
	defer func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				slog.Warn("Failed to unsubscribe", "error", err)
			}
		}
	}()

	for _, s := range a.layout.Slots {
		sub, err := bus.Subscribe(ctx, s.Topic, a.handler(s, bus))
		if err != nil {
			return fmt.Errorf("subscribe slot %s: %w", s.Name, err)
		}
		subs = append(subs, sub)
		slog.Info("Aggregator slot subscribed", "slot", s.Name, "topic", s.Topic, "required", s.Required)
	}

	<-ctx.Done()
	return nil
}

func (a *Aggregator) handler(s Slot, bus domain.Bus) domain.MessageHandler {
	kind := s.Kind.sampleKind()
	return func(ctx context.Context, data []byte) {
		ctx = correlation.ForSample(ctx, s.Topic)
		sample, err := wire.DecodeSample(kind, data)
		if err != nil {
			slog.WarnContext(ctx, "Dropping malformed slot sample", "slot", s.Name, "error", err)
			return
		}
		cmd, ok := a.Update(s.Name, sample)
		if !ok {
			return
		}
		if err := a.publish(ctx, bus, cmd); err != nil {
			slog.ErrorContext(ctx, "Failed to publish combined command", "topic", a.layout.OutputTopic, "error", err)
		}
	}
}

func (a *Aggregator) publish(ctx context.Context, bus domain.Bus, cmd domain.RawCommand) error {
	data, err := wire.EncodeRawCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode combined command: %w", err)
	}
	if err := bus.Publish(ctx, a.layout.OutputTopic, data); err != nil {
		if a.metrics != nil {
			a.metrics.PublishFailures.Inc()
		}
		return err
	}
	if a.metrics != nil {
		a.metrics.CommandsEmitted.Inc()
	}
	return nil
}

func (k SlotKind) sampleKind() domain.SampleKind {
	if k == SlotDigital {
		return domain.SampleDigitalState
	}
	return domain.SampleRawCommand
}

func pressed(on bool) uint8 {
	if on {
		return 1
	}
	return 0
}
