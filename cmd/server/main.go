package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidewise/gamepad-websocket/internal/adapter/httpserver"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/adapter/nats"
	"github.com/tidewise/gamepad-websocket/internal/adapter/redis"
	"github.com/tidewise/gamepad-websocket/internal/adapter/websocket"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/platform/config"
	"github.com/tidewise/gamepad-websocket/internal/platform/logging"
	"github.com/tidewise/gamepad-websocket/internal/platform/version"
	"github.com/tidewise/gamepad-websocket/internal/publisher"
)

const transportConnectTimeout = 30 * time.Second

// transport bundles the bus chosen by INPUT_TRANSPORT with the extra sinks and
// health checks it provides.
type transport struct {
	bus          domain.Bus
	statsSinks   []domain.StatisticsSink
	healthChecks []httpserver.HealthCheck
	close        func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupTransport(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (transport, error) {
	ctx, cancel := context.WithTimeout(ctx, transportConnectTimeout)
	defer cancel()

	switch cfg.InputTransport {
	case config.TransportNATS:
		bus, err := nats.Connect(ctx, cfg.NATSURL)
		if err != nil {
			return transport{}, err
		}
		return transport{
			bus:          bus,
			healthChecks: []httpserver.HealthCheck{{Name: "nats", Check: bus.Ping}},
			close:        func() { _ = bus.Close() },
		}, nil

	case config.TransportRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
		if err != nil {
			return transport{}, err
		}
		bus := redis.NewBus(client)
		return transport{
			bus:          bus,
			statsSinks:   []domain.StatisticsSink{redis.NewStatisticsStore(client, cfg.StatsKey)},
			healthChecks: []httpserver.HealthCheck{{Name: "redis", Check: client.Ping}},
			close: func() {
				_ = bus.Close()
				_ = client.Close()
			},
		}, nil

	default:
		return transport{close: func() {}}, nil
	}
}

func publisherConfig(cfg *config.Config) publisher.Config {
	return publisher.Config{
		Mode:                   publisher.Mode(cfg.PublisherMode),
		DeviceIdentifier:       cfg.DeviceIdentifier,
		IdentifierTransform:    cfg.DeviceIDTransform,
		InputTimeout:           cfg.InputTimeout,
		TickInterval:           cfg.TickInterval,
		StatsInterval:          cfg.StatsInterval,
		StopTimeout:            cfg.ShutdownTimeout,
		ResendLatest:           cfg.ResendLatest,
		ArmTimeoutOnStart:      cfg.ArmTimeoutOnStart,
		RejectedSamplesRefresh: cfg.RejectedSamplesFreshens,
	}
}

func run(cfg *config.Config) error {
	clock := clockwork.NewRealClock()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)

	tp, err := setupTransport(ctx, cfg, reg)
	if err != nil {
		return fmt.Errorf("failed to set up %s transport: %w", cfg.InputTransport, err)
	}
	defer tp.close()

	eventSinks := []domain.EventSink{publisher.LogSink{}}
	statsSinks := append([]domain.StatisticsSink{publisher.LogSink{}}, tp.statsSinks...)
	if tp.bus != nil {
		busSink := publisher.NewBusSink(tp.bus, cfg.EventsTopic, cfg.StatsTopic)
		eventSinks = append(eventSinks, busSink)
		statsSinks = append(statsSinks, busSink)
	}

	pub, err := publisher.New(publisherConfig(cfg), clock, wsMetrics, metrics.NewPublisherMetrics(reg),
		publisher.WithEventSinks(eventSinks...),
		publisher.WithStatisticsSinks(statsSinks...),
	)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	if tp.bus != nil {
		sub, err := pub.Subscribe(ctx, tp.bus, cfg.InputTopic)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	limits := websocket.NewLimits(clock, cfg.MaxConnections, cfg.ConnectionsPerSecond, cfg.ConnectionBurst)
	wsHandler := websocket.NewHandler(pub, limits, websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()), wsMetrics)

	srv := httpserver.NewServer(
		httpserver.Config{Port: cfg.Port, WSPath: cfg.WSPath, StatsRate: cfg.StatsRequestsPerSec, StatsBurst: 10},
		pub,
		wsHandler.Handle,
		metrics.Handler(reg),
		metrics.NewHTTPMetrics(reg),
		tp.healthChecks,
	)

	pubErr := make(chan error, 1)
	go func() { pubErr <- pub.Run(ctx) }()

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, cleaning up...")
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server unexpectedly terminated", "error", err)
			runErr = err
		}
	case err := <-pubErr:
		if ctx.Err() != nil {
			slog.Info("Shutdown signal received, cleaning up...")
			break
		}
		slog.Error("Publisher unexpectedly terminated", "error", err)
		runErr = errors.Join(errors.New("publisher terminated"), err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	if err := pub.Stop(); err != nil {
		slog.Error("Publisher shutdown error", "error", err)
	}

	return runErr
}

func main() {
	cfg := setupConfig()

	version.Service = "gamepad-websocket"
	logging.InitLogger(version.Service, cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", append(version.Get().LogAttrs(),
		"env", cfg.AppEnv, "port", cfg.Port, "mode", cfg.PublisherMode, "transport", cfg.InputTransport)...)

	if err := run(cfg); err != nil {
		slog.Error("Application stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Application stopped")
}
