package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidewise/gamepad-websocket/internal/freshness"
	"github.com/tidewise/gamepad-websocket/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency check, typically the input transport or the
// statistics store.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// streamStatus describes what the publisher is currently doing.
type streamStatus struct {
	State   string  `json:"state"`
	Device  *string `json:"device"`
	Clients int     `json:"clients"`
}

type healthReport struct {
	Status      string       `json:"status"`
	Stream      streamStatus `json:"stream"`
	FailedCheck string       `json:"failed_check,omitempty"`
	Error       string       `json:"error,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

// handleStartup only waits for the dependencies; a stream that has not seen input
// yet is still considered started.
func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.writeHealth(c, s.checkDependencies(ctx))
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness additionally reports not ready while the input stream is timed out,
// so that a load balancer steers clients to an instance that receives input.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	report := s.checkDependencies(ctx)
	if report.FailedCheck == "" && s.publisher.State() == freshness.TimedOut {
		report.Status = "unhealthy"
		report.FailedCheck = "input"
		report.Error = "input timed out"
	}
	return s.writeHealth(c, report)
}

func (s *Server) checkDependencies(ctx context.Context) healthReport {
	report := healthReport{Status: "ready", Stream: s.streamStatus()}
	for _, hc := range s.healthChecks {
		if err := hc.Check(ctx); err != nil {
			report.Status = "unhealthy"
			report.FailedCheck = hc.Name
			report.Error = err.Error()
			break
		}
	}
	return report
}

func (s *Server) streamStatus() streamStatus {
	status := streamStatus{
		State:   s.publisher.State().String(),
		Clients: len(s.publisher.Statistics().SocketsStatistics),
	}
	if device, ok := s.publisher.Resolved(); ok {
		status.Device = &device
	}
	return status
}

func (s *Server) writeHealth(c echo.Context, report healthReport) error {
	code := http.StatusOK
	if report.FailedCheck != "" {
		code = http.StatusServiceUnavailable
	}
	if err := c.JSON(code, report); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
