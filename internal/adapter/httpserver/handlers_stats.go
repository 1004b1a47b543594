package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidewise/gamepad-websocket/internal/domain"
)

type statisticsResponse struct {
	Time              time.Time                 `json:"time"`
	State             string                    `json:"state"`
	DeviceIdentifier  *string                   `json:"device_identifier"`
	SocketsStatistics []domain.SocketStatistics `json:"sockets_statistics"`
}

func (s *Server) registerStatisticsRoutes() {
	if s.config.StatsRate > 0 {
		s.echo.GET("/stats", s.handleStatistics, newRateLimiter(s.config.StatsRate, s.config.StatsBurst))
		return
	}
	s.echo.GET("/stats", s.handleStatistics)
}

func (s *Server) handleStatistics(c echo.Context) error {
	stats := s.publisher.Statistics()
	resp := statisticsResponse{
		Time:              stats.Time,
		State:             s.publisher.State().String(),
		SocketsStatistics: stats.SocketsStatistics,
	}
	if id, ok := s.publisher.Resolved(); ok {
		resp.DeviceIdentifier = &id
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write statistics response: %w", err)
	}
	return nil
}
