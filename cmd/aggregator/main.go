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
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/adapter/nats"
	"github.com/tidewise/gamepad-websocket/internal/adapter/redis"
	"github.com/tidewise/gamepad-websocket/internal/aggregator"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/platform/config"
	"github.com/tidewise/gamepad-websocket/internal/platform/logging"
	"github.com/tidewise/gamepad-websocket/internal/platform/version"
)

const connectTimeout = 30 * time.Second

func connectBus(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (domain.Bus, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.InputTransport {
	case config.TransportNATS:
		bus, err := nats.Connect(ctx, cfg.NATSURL)
		if err != nil {
			return nil, nil, err
		}
		return bus, func() { _ = bus.Close() }, nil
	case config.TransportRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
		if err != nil {
			return nil, nil, err
		}
		bus := redis.NewBus(client)
		return bus, func() {
			_ = bus.Close()
			_ = client.Close()
		}, nil
	default:
		return nil, nil, errors.New("the aggregator needs INPUT_TRANSPORT nats or redis")
	}
}

func loadLayout(cfg *config.Config) (aggregator.Layout, error) {
	layout, err := aggregator.LoadLayout(cfg.AggregatorConfig)
	if err != nil {
		return aggregator.Layout{}, err
	}
	if cfg.AggregatorOutputTopic != "" {
		layout.OutputTopic = cfg.AggregatorOutputTopic
	}
	return layout, nil
}

// newMetricsServer serves /metrics and a liveness probe on the configured port.
func newMetricsServer(reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))
	e.GET("/health/live", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, version.Get())
	})
	return e
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	agg, err := aggregator.New(layout, clockwork.NewRealClock(), metrics.NewAggregatorMetrics(reg))
	if err != nil {
		return fmt.Errorf("invalid aggregator layout: %w", err)
	}

	bus, closeBus, err := connectBus(ctx, cfg, reg)
	if err != nil {
		return fmt.Errorf("failed to connect bus: %w", err)
	}
	defer closeBus()

	e := newMetricsServer(reg)
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server unexpectedly terminated", "error", err)
			stop()
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}()

	slog.Info("Aggregator starting", "output_topic", layout.OutputTopic, "slots", len(layout.Slots))
	return agg.Run(ctx, bus)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	version.Service = "gamepad-aggregator"
	logging.InitLogger(version.Service, cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", version.Get().LogAttrs()...)

	if err := run(cfg); err != nil {
		slog.Error("Application stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Application stopped")
}
