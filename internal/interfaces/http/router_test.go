package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/taskgate/internal/application/service"
	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/domain/models"
	domainService "github.com/turtacn/taskgate/internal/domain/service"
	"github.com/turtacn/taskgate/internal/infrastructure/monitoring"
	redisstore "github.com/turtacn/taskgate/internal/infrastructure/persistence/redis"
	"github.com/turtacn/taskgate/internal/infrastructure/ratelimit"
	"github.com/turtacn/taskgate/internal/interfaces/http/handlers"
	"github.com/turtacn/taskgate/internal/interfaces/http/middleware"
	"github.com/turtacn/taskgate/pkg/logger"
	"github.com/turtacn/taskgate/pkg/utils"
)

const adminSecret = "0123456789abcdef0123456789abcdef"

type countingExecutor struct{ n atomic.Int64 }

func (e *countingExecutor) Execute(context.Context, models.TaskToken) error {
	e.n.Add(1)
	return nil
}

type testServer struct {
	handler  http.Handler
	clock    *utils.ManualClock
	mr       *miniredis.Miniredis
	executor *countingExecutor
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 3000, Environment: "test"},
		Idempotency: config.IdempotencyConfig{
			Enabled: true,
			TTL:     time.Minute,
		},
		Admin: config.AdminConfig{Enabled: true, JWTSecret: adminSecret, Issuer: "taskgate"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, checks map[string]handlers.Pinger) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNoopLogger()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewSlidingWindowLimiter(client, nil, log)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	adapter := monitoring.NewMetricsAdapter(metrics)

	exec := &countingExecutor{}
	scheduler := domainService.NewQueueDrainScheduler(redisstore.NewTaskStore(client, log), exec,
		domainService.SchedulerConfig{ThrottleInterval: 10 * time.Millisecond, LeaseTTL: time.Second, InstanceID: "http-test"},
		log, domainService.WithMetrics(adapter))
	t.Cleanup(func() { _ = scheduler.Shutdown(context.Background()) })

	clock := utils.NewManualClock(time.UnixMilli(1_700_000_000_000))
	app := service.NewTaskAppService(limiter, scheduler, service.TaskAppOptions{Clock: clock, Metrics: adapter}, log)

	if checks == nil {
		checks = map[string]handlers.Pinger{"redis": redisstore.NewRedisConnectionFromClient(client, log)}
	}

	router := NewRouter(RouterDeps{
		Config:        cfg,
		Logger:        log,
		TaskHandler:   handlers.NewTaskHandler(app, log),
		AdminHandler:  handlers.NewAdminHandler(app, log),
		HealthHandler: handlers.NewHealthHandler(checks, log),
		Redis:         client,
		Metrics:       metrics,
		Gatherer:      reg,
	})
	return &testServer{handler: router.Handler(), clock: clock, mr: mr, executor: exec}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func adminToken(t *testing.T, scope string) string {
	t.Helper()
	claims := middleware.AdminClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			Issuer:    "taskgate",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(adminSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestRoot(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Server is running."}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestSubmitTask_AcceptedThenRateLimited(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "Task queued successfully.", decode(t, w)["message"])
	assert.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))

	w = s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.Equal(t, "Rate limit exceeded. Please try again shortly.", decode(t, w)["error"])
}

func TestSubmitTask_NumericUserID(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := s.do(t, http.MethodPost, "/task", `{"user_id":123}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool { return s.executor.n.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitTask_OpaqueUserIDs(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	for _, body := range []string{`{"user_id":"john doe"}`, `{"user_id":"user{1}"}`} {
		w := s.do(t, http.MethodPost, "/task", body, nil)
		require.Equal(t, http.StatusAccepted, w.Code, "body %q", body)
	}

	require.Eventually(t, func() bool { return s.executor.n.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.mr.Exists(redisstore.RateLimitKey("john doe", "second")))
	assert.True(t, s.mr.Exists("rateLimit:user{1}:minute"))

	for path, user := range map[string]string{"/task/stats/user%7B1%7D": "user{1}", "/task/stats/john%20doe": "john doe"} {
		require.Eventually(t, func() bool {
			w := s.do(t, http.MethodGet, path, "", nil)
			return w.Code == http.StatusOK && strings.Contains(w.Body.String(), `"tasksProcessed":1`)
		}, 2*time.Second, 10*time.Millisecond, path)
		w := s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, user, decode(t, w)["user_id"])
	}
}

func TestSubmitTask_MissingUserID(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	for _, body := range []string{`{}`, `{"user_id":""}`, `{"user_id":null}`, `not json`, ``} {
		w := s.do(t, http.MethodPost, "/task", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		assert.Equal(t, "User ID is required.", decode(t, w)["error"], "body %q", body)
	}
	assert.Empty(t, s.mr.Keys(), "rejected input must not touch the store")
}

func TestStats_TwoTasksDrain(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	for i := 0; i < 2; i++ {
		w := s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, nil)
		require.Equal(t, http.StatusAccepted, w.Code)
		s.clock.Advance(1001 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/task/stats/123", "", nil)
		return w.Code == http.StatusOK &&
			strings.Contains(w.Body.String(), `"tasksProcessed":2`) &&
			strings.Contains(w.Body.String(), `"tasksInQueue":0`)
	}, 3*time.Second, 20*time.Millisecond)

	w := s.do(t, http.MethodGet, "/task/stats/123", "", nil)
	assert.JSONEq(t, `{"user_id":"123","tasksProcessed":2,"tasksInQueue":0}`, w.Body.String())
}

func TestStats_UnknownAndMissingUser(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := s.do(t, http.MethodGet, "/task/stats/nobody", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"nobody","tasksProcessed":0,"tasksInQueue":0}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/task/stats/", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "User ID is required.", decode(t, w)["error"])
}

func TestSubmitTask_IdempotencyKey(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	hdr := map[string]string{"Idempotency-Key": "req-1"}

	w := s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, hdr)
	require.Equal(t, http.StatusAccepted, w.Code)
	s.clock.Advance(2 * time.Second)

	w = s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, hdr)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The key is scoped to the user.
	w = s.do(t, http.MethodPost, "/task", `{"user_id":"456"}`, hdr)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, s.mr.Exists(redisstore.IdempotencyKey("456", "req-1")))
}

func TestSubmitTask_IdempotencyKeyReleasedOnRejection(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	hdr := map[string]string{"Idempotency-Key": "retry-me"}
	w = s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, hdr)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, s.mr.Exists(redisstore.IdempotencyKey("123", "retry-me")))

	s.clock.Advance(2 * time.Second)
	w = s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, hdr)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestGlobalThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.Server.GlobalRPS = 1
	cfg.Server.GlobalBurst = 1
	s := newTestServer(t, cfg, nil)

	w := s.do(t, http.MethodGet, "/task/stats/a", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/task/stats/a", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Health endpoints sit outside the throttle.
	w = s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	w := s.do(t, http.MethodGet, "/admin/ratelimit/123", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/admin/ratelimit/123", "", map[string]string{"Authorization": adminToken(t, "read")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/admin/ratelimit/123", "", map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	auth := map[string]string{"Authorization": adminToken(t, "read admin")}
	w = s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(t, http.MethodGet, "/admin/ratelimit/123", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	usage := decode(t, w)
	assert.EqualValues(t, 1, usage["minute_count"])
	assert.EqualValues(t, 20, usage["minute_limit"])

	w = s.do(t, http.MethodDelete, "/admin/ratelimit/123", "", auth)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, s.mr.Exists(redisstore.RateLimitKey("123", "minute")))

	w = s.do(t, http.MethodPost, "/admin/drain/idle-user", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"idle-user","started":true}`, w.Body.String())
	require.Eventually(t, func() bool {
		return !s.mr.Exists(redisstore.ProcessingKey("idle-user"))
	}, 2*time.Second, 10*time.Millisecond, "an idle loop releases its flag")
}

func TestAdminRoutesDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.Enabled = false
	s := newTestServer(t, cfg, nil)

	w := s.do(t, http.MethodGet, "/admin/ratelimit/123", "", map[string]string{"Authorization": adminToken(t, "admin")})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadiness(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	w := s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := map[string]handlers.Pinger{
		"redis": handlers.PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	s = newTestServer(t, testConfig(), down)
	w = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	s.do(t, http.MethodPost, "/task", `{"user_id":"123"}`, nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taskgate_admissions_total")
	assert.Contains(t, w.Body.String(), "taskgate_http_request_duration_seconds")
}
