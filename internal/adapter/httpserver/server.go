// Package httpserver exposes the publisher over HTTP: the WebSocket endpoint,
// statistics, health probes, build version and Prometheus metrics.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/freshness"
)

// Publisher is the read side of the publisher used by the HTTP handlers.
type Publisher interface {
	Statistics() domain.Statistics
	State() freshness.State
	Resolved() (string, bool)
}

type Config struct {
	Port   string
	WSPath string
	// StatsRate limits /stats requests per client IP and second; zero disables it.
	StatsRate  float64
	StatsBurst int
}

type Server struct {
	echo   *echo.Echo
	config Config

	publisher        Publisher
	websocketHandler echo.HandlerFunc
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg Config, publisher Publisher, websocketHandler echo.HandlerFunc, metricsHandler http.Handler, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleHTTPError

	srv := &Server{
		echo:             e,
		config:           cfg,
		publisher:        publisher,
		websocketHandler: websocketHandler,
		metricsHandler:   metricsHandler,
		httpMetrics:      httpMetrics,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// Start blocks serving HTTP. It returns http.ErrServerClosed (wrapped) after Shutdown.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port, "ws_path", s.config.WSPath)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
