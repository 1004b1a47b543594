package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/freshness"
	"github.com/tidewise/gamepad-websocket/internal/identifier"
	"github.com/tidewise/gamepad-websocket/internal/mismatch"
	"github.com/tidewise/gamepad-websocket/internal/registry"
	"github.com/tidewise/gamepad-websocket/internal/wire"
)

const (
	inboxSize        = 64
	sinkTimeout      = time.Second
	maxCycleDuration = 5 * time.Millisecond
)

var (
	ErrWrongSampleKind = errors.New("sample kind does not match publisher mode")
	ErrInboxFull       = errors.New("sample inbox full")
)

// Mode selects which sample kind the publisher consumes.
type Mode string

const (
	// ModeRaw consumes raw commands and rejects a change of device identifier.
	ModeRaw Mode = "raw"
	// ModeDigital consumes digital states and rejects a change of state count.
	ModeDigital Mode = "digital"
)

func (m Mode) SampleKind() domain.SampleKind {
	if m == ModeDigital {
		return domain.SampleDigitalState
	}
	return domain.SampleRawCommand
}

func (m Mode) checks() mismatch.Checks {
	if m == ModeDigital {
		return mismatch.Checks{Size: true}
	}
	return mismatch.Checks{Identity: true}
}

type Config struct {
	Mode                Mode
	DeviceIdentifier    string
	IdentifierTransform string
	InputTimeout        time.Duration
	TickInterval        time.Duration
	StatsInterval       time.Duration
	StopTimeout         time.Duration
	// ResendLatest re-broadcasts the last accepted message on every cycle without a new
	// sample, as long as the input is fresh.
	ResendLatest bool
	// ArmTimeoutOnStart lets the Idle state time out when no sample ever arrives.
	ArmTimeoutOnStart      bool
	RejectedSamplesRefresh bool
}

// Publisher owns the connection registry, the identifier resolver and the freshness
// supervisor, and ties them together in a single processing cycle.
type Publisher struct {
	cfg        Config
	clock      clockwork.Clock
	registry   *registry.Registry
	resolver   *identifier.Resolver
	supervisor *freshness.Supervisor
	metrics    *metrics.PublisherMetrics
	events     []domain.EventSink
	statsSinks []domain.StatisticsSink

	inbox chan domain.Sample

	// owned by the processing cycle
	baseline *mismatch.Baseline
	latest   []byte

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option customises a Publisher.
type Option func(*Publisher)

// WithEventSinks adds sinks receiving every diagnostic event.
func WithEventSinks(sinks ...domain.EventSink) Option {
	return func(p *Publisher) { p.events = append(p.events, sinks...) }
}

// WithStatisticsSinks adds sinks receiving the periodically sampled statistics.
func WithStatisticsSinks(sinks ...domain.StatisticsSink) Option {
	return func(p *Publisher) { p.statsSinks = append(p.statsSinks, sinks...) }
}

// New validates the identifier transform and builds a publisher. An invalid transform
// is reported as a configuration error before any connection can be accepted.
func New(cfg Config, clock clockwork.Clock, wsMetrics *metrics.WebSocketMetrics, pubMetrics *metrics.PublisherMetrics, opts ...Option) (*Publisher, error) {
	p := &Publisher{
		cfg:        cfg,
		clock:      clock,
		supervisor: freshness.NewSupervisor(cfg.InputTimeout, freshness.Policy{RejectedSamplesRefresh: cfg.RejectedSamplesRefresh}),
		metrics:    pubMetrics,
		inbox:      make(chan domain.Sample, inboxSize),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.registry = registry.New(clock, wsMetrics, func(c *registry.Connection) {
		p.OnDisconnect(c.ID())
	})

	resolver, err := identifier.NewResolver(cfg.IdentifierTransform, p.registry)
	if err != nil {
		p.emit(context.Background(), domain.EventConfigurationFailure, err.Error())
		return nil, fmt.Errorf("identifier resolver: %w", err)
	}
	p.resolver = resolver

	// The identifier is known upfront unless it has to be learnt from raw commands.
	if cfg.Mode == ModeDigital || cfg.DeviceIdentifier != "" {
		p.resolver.SetRaw(cfg.DeviceIdentifier)
	}
	return p, nil
}

// Accept registers an upgraded socket. The connection is greeted with the device
// identifier as soon as it is known and only then starts receiving broadcasts.
func (p *Publisher) Accept(socket *websocket.Conn) (*registry.Connection, error) {
	c, err := p.registry.Add(socket)
	if err != nil {
		return nil, err
	}
	p.OnConnect(c)
	return c, nil
}

func (p *Publisher) OnConnect(c *registry.Connection) {
	p.resolver.OnConnect(c.ID())
	p.emit(c.Context(), domain.EventConnectionEstablished, c.RemoteAddr())
}

func (p *Publisher) OnDisconnect(id uuid.UUID) {
	p.resolver.Forget(id)
	p.emit(context.Background(), domain.EventConnectionLost, id.String())
}

// Submit hands a sample to the next processing cycle without blocking.
func (p *Publisher) Submit(sample domain.Sample) error {
	if sample.Kind != p.cfg.Mode.SampleKind() {
		p.countSample("wrong_kind")
		return fmt.Errorf("%w: got %s in %s mode", ErrWrongSampleKind, sample.Kind, p.cfg.Mode)
	}
	if sample.ReceivedAt.IsZero() {
		sample.ReceivedAt = p.clock.Now()
	}

	select {
	case p.inbox <- sample:
		return nil
	default:
		p.countSample("dropped")
		return ErrInboxFull
	}
}

// Statistics returns the current counters of every active connection.
func (p *Publisher) Statistics() domain.Statistics {
	return domain.Statistics{Time: p.clock.Now(), SocketsStatistics: p.registry.Snapshot()}
}

func (p *Publisher) State() freshness.State {
	return p.supervisor.State()
}

// Resolved returns the device identifier announced to clients, if known.
func (p *Publisher) Resolved() (string, bool) {
	return p.resolver.Resolved()
}

// Run drives the processing cycle until ctx is cancelled or Stop is called.
func (p *Publisher) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("publisher already running")
	}
	defer close(p.done)

	if p.cfg.ArmTimeoutOnStart {
		p.supervisor.Arm(p.clock.Now())
	}

	var wg sync.WaitGroup
	statsCtx, cancelStats := context.WithCancel(ctx)
	defer func() {
		cancelStats()
		wg.Wait()
	}()
	if len(p.statsSinks) > 0 && p.cfg.StatsInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runStatistics(statsCtx)
		}()
	}

	ticker := p.clock.NewTicker(p.cfg.TickInterval)
	defer ticker.Stop()

	slog.Info("Publisher started", "mode", string(p.cfg.Mode), "input_timeout", p.cfg.InputTimeout, "tick_interval", p.cfg.TickInterval)
	for {
		select {
		case <-ticker.Chan():
			p.cycle(ctx)
		case <-ctx.Done():
			return nil
		case <-p.stopCh:
			return nil
		}
	}
}

// Stop ends the processing cycle, closes every connection and waits for their read
// units to exit, bounded by the configured stop timeout.
func (p *Publisher) Stop() error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StopTimeout)
	defer cancel()

	if p.started.Load() {
		select {
		case <-p.done:
		case <-ctx.Done():
			slog.Warn("Publisher stop timeout exceeded", "timeout", p.cfg.StopTimeout)
			return fmt.Errorf("processing cycle: %w", domain.ErrShutdownTimeout)
		}
	}

	if err := p.registry.Shutdown(ctx); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	slog.Info("Publisher stopped gracefully")
	return nil
}

// cycle drains the inbox, then evaluates freshness.
func (p *Publisher) cycle(ctx context.Context) {
	start := p.clock.Now()
	defer func() {
		d := p.clock.Since(start)
		if p.metrics != nil {
			p.metrics.CycleDuration.Observe(d.Seconds())
		}
		if d > maxCycleDuration {
			slog.Warn("Processing cycle exceeded budget", "duration", d, "budget", maxCycleDuration)
		}
	}()

	accepted := false
	for drained := false; !drained; {
		select {
		case s := <-p.inbox:
			if p.process(ctx, s, start) {
				accepted = true
			}
		default:
			drained = true
		}
	}

	p.report(ctx, p.supervisor.Tick(start))

	if !accepted && p.cfg.ResendLatest && p.latest != nil && p.supervisor.IsPublishing() {
		p.registry.Broadcast(p.latest)
	}
}

// process validates one sample and broadcasts it when accepted.
func (p *Publisher) process(ctx context.Context, s domain.Sample, now time.Time) bool {
	verdict := mismatch.Evaluate(p.baseline, s, p.cfg.Mode.checks())
	if !verdict.Accepted {
		kind := domain.EventSizeMismatch
		if verdict.Err.Reason == mismatch.ReasonIdentity {
			kind = domain.EventIDMismatch
		}
		p.countSample(string(verdict.Err.Reason))
		p.emit(ctx, kind, verdict.Err.Error())
		p.report(ctx, p.supervisor.OnSample(false, now))
		return false
	}

	msg, err := p.encode(s)
	if err != nil {
		p.countSample("encode_error")
		slog.Error("Failed to encode sample", "error", err)
		return false
	}

	p.baseline = verdict.Baseline
	p.latest = msg
	p.countSample("accepted")
	p.report(ctx, p.supervisor.OnSample(true, now))

	if id, ok := s.Identifier(); ok && p.cfg.Mode == ModeRaw && p.cfg.DeviceIdentifier == "" {
		p.resolver.SetRaw(id)
	}

	deliveries := p.registry.Broadcast(msg)
	slog.Debug("Sample broadcast", "clients", len(deliveries))
	return true
}

// encode stamps samples carrying no time with their arrival time.
func (p *Publisher) encode(s domain.Sample) ([]byte, error) {
	switch s.Kind {
	case domain.SampleDigitalState:
		if s.Digital.Time.IsZero() {
			s.Digital.Time = s.ReceivedAt
		}
	default:
		if s.Raw.Time.IsZero() {
			s.Raw.Time = s.ReceivedAt
		}
	}
	return wire.EncodeSampleMessage(s)
}

func (p *Publisher) report(ctx context.Context, tr freshness.Transition) {
	if !tr.Changed {
		return
	}
	if p.metrics != nil {
		p.metrics.FreshnessState.Set(float64(tr.To))
	}
	switch tr.To {
	case freshness.Publishing:
		p.emit(ctx, domain.EventPublishing, "from "+tr.From.String())
	case freshness.TimedOut:
		p.emit(ctx, domain.EventInputTimeout, fmt.Sprintf("no sample for %s", p.cfg.InputTimeout))
	}
}

func (p *Publisher) emit(ctx context.Context, kind domain.EventKind, detail string) {
	event := domain.Event{Kind: kind, At: p.clock.Now(), Detail: detail}
	if p.metrics != nil {
		p.metrics.Events.WithLabelValues(string(kind)).Inc()
	}
	for _, sink := range p.events {
		sink.HandleEvent(ctx, event)
	}
}

func (p *Publisher) countSample(result string) {
	if p.metrics != nil {
		p.metrics.SamplesTotal.WithLabelValues(result).Inc()
	}
}

func (p *Publisher) runStatistics(ctx context.Context) {
	ticker := p.clock.NewTicker(p.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			p.writeStatistics(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) writeStatistics(ctx context.Context) {
	stats := p.Statistics()
	for _, sink := range p.statsSinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.WriteStatistics(sinkCtx, stats); err != nil {
			slog.Warn("Failed to write statistics", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
		cancel()
	}
}
