// Package websocket upgrades HTTP requests on the publisher's endpoint and hands the
// sockets to the publisher.
package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/tidewise/gamepad-websocket/internal/adapter/metrics"
	"github.com/tidewise/gamepad-websocket/internal/registry"
)

// Acceptor takes ownership of an upgraded socket.
type Acceptor interface {
	Accept(socket *websocket.Conn) (*registry.Connection, error)
}

type Handler struct {
	upgrader  websocket.Upgrader
	acceptor  Acceptor
	limits    *Limits
	wsMetrics *metrics.WebSocketMetrics
}

func NewHandler(acceptor Acceptor, limits *Limits, checkOrigin func(*http.Request) bool, wsMetrics *metrics.WebSocketMetrics) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		acceptor:  acceptor,
		limits:    limits,
		wsMetrics: wsMetrics,
	}
}

// Handle upgrades the request. The connection slot is held until the socket's read
// unit exits.
func (h *Handler) Handle(c echo.Context) error {
	ip := c.RealIP()

	if h.limits != nil {
		if ok, reason := h.limits.Acquire(ip); !ok {
			h.reject(string(reason))
			slog.Warn("WebSocket connection refused", "remote_ip", ip, "reason", string(reason))
			return c.String(http.StatusTooManyRequests, "too many connections")
		}
	}

	socket, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already wrote the error response.
		h.release()
		h.reject("upgrade_failed")
		slog.Debug("WebSocket upgrade failed", "remote_ip", ip, "error", err)
		return nil
	}

	conn, err := h.acceptor.Accept(socket)
	if err != nil {
		h.release()
		h.reject("shutting_down")
		slog.Warn("WebSocket connection not accepted", "remote_ip", ip, "error", err)
		return nil
	}

	if h.limits != nil {
		go func() {
			<-conn.Done()
			h.limits.Release()
		}()
	}
	return nil
}

func (h *Handler) release() {
	if h.limits != nil {
		h.limits.Release()
	}
}

func (h *Handler) reject(reason string) {
	if h.wsMetrics != nil {
		h.wsMetrics.RejectedUpgrades.WithLabelValues(reason).Inc()
	}
}
