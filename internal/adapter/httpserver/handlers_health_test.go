package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidewise/gamepad-websocket/internal/domain"
	"github.com/tidewise/gamepad-websocket/internal/freshness"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func healthRequest(path string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandleStartup(t *testing.T) {
	c, rec := healthRequest("/health/startup")

	srv := newTestServer(t, &fakePublisher{state: freshness.TimedOut},
		withHealthChecks(HealthCheck{Name: "nats", Check: healthOK}),
	)

	require.NoError(t, srv.handleStartup(c))
	assert.Equal(t, http.StatusOK, rec.Code, "startup ignores input freshness")
	assert.JSONEq(t, `{"status":"ready","stream":{"state":"timed_out","device":null,"clients":0}}`, rec.Body.String())
}

func TestHandleLiveness(t *testing.T) {
	c, rec := healthRequest("/health/live")

	srv := newTestServer(t, &fakePublisher{}, withHealthChecks(HealthCheck{Name: "nats", Check: healthErr("down")}))

	require.NoError(t, srv.handleLiveness(c))
	assert.Equal(t, http.StatusOK, rec.Code, "liveness ignores dependencies")

	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"uptime"`)
}

func TestHandleReadiness(t *testing.T) {
	twoClients := domain.Statistics{SocketsStatistics: make([]domain.SocketStatistics, 2)}

	tests := []struct {
		name      string
		publisher *fakePublisher
		checks    []HealthCheck
		wantCode  int
		wantBody  string
	}{
		{
			name:      "publishing with resolved device",
			publisher: &fakePublisher{state: freshness.Publishing, resolved: "js0", known: true, stats: twoClients},
			checks:    []HealthCheck{{Name: "nats", Check: healthOK}},
			wantCode:  http.StatusOK,
			wantBody:  `{"status":"ready","stream":{"state":"publishing","device":"js0","clients":2}}`,
		},
		{
			name:      "idle before first sample",
			publisher: &fakePublisher{state: freshness.Idle},
			wantCode:  http.StatusOK,
			wantBody:  `{"status":"ready","stream":{"state":"idle","device":null,"clients":0}}`,
		},
		{
			name:      "transport down",
			publisher: &fakePublisher{state: freshness.Publishing},
			checks:    []HealthCheck{{Name: "nats", Check: healthErr("connection refused")}, {Name: "redis", Check: healthOK}},
			wantCode:  http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","failed_check":"nats","error":"connection refused",
				"stream":{"state":"publishing","device":null,"clients":0}}`,
		},
		{
			name:      "input timed out",
			publisher: &fakePublisher{state: freshness.TimedOut, resolved: "js1", known: true, stats: twoClients},
			checks:    []HealthCheck{{Name: "redis", Check: healthOK}},
			wantCode:  http.StatusServiceUnavailable,
			wantBody: `{"status":"unhealthy","failed_check":"input","error":"input timed out",
				"stream":{"state":"timed_out","device":"js1","clients":2}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := healthRequest("/health/ready")

			srv := newTestServer(t, tt.publisher, withHealthChecks(tt.checks...))

			require.NoError(t, srv.handleReadiness(c))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestHandleVersion(t *testing.T) {
	c, rec := healthRequest("/version")

	srv := newTestServer(t, &fakePublisher{})

	require.NoError(t, srv.handleVersion(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"commit"`)
	assert.Contains(t, body, `"build_time"`)
	assert.Contains(t, body, `"go_version"`)
}
