package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/campus-auth/internal/config"
	"github.com/yourusername/campus-auth/internal/metrics"
	"github.com/yourusername/campus-auth/internal/store"
	"github.com/yourusername/campus-auth/internal/store/memstore"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type unhealthyStore struct {
	*memstore.Store
}

func (unhealthyStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		GinMode:            gin.TestMode,
		CORSAllowedOrigins: "*",
		StoreDriver:        config.StoreDriverMemory,
		BcryptCost:         bcrypt.MinCost,
		SessionSecret:      "test-secret",
		LoginMaxAttempts:   5,
		LogFormat:          "text",
		MetricsEnabled:     true,
	}
}

func newTestServer(t *testing.T, gw store.Gateway) *gin.Engine {
	t.Helper()
	return newTestServerWithConfig(t, gw, testConfig())
}

func newTestServerWithConfig(t *testing.T, gw store.Gateway, cfg *config.Config) *gin.Engine {
	t.Helper()
	router := gin.New()
	require.NoError(t, setupMiddleware(router, cfg))
	setupRoutes(router, cfg, gw, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics.NewRegistry())
	return router
}

func doJSON(t *testing.T, router http.Handler, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return doJSONWithHeader(t, router, path, body, nil)
}

func doJSONWithHeader(t *testing.T, router http.Handler, path string, body any, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestRegisterLoginFlow(t *testing.T) {
	router := newTestServer(t, memstore.New())

	registration := map[string]string{
		"name":        "A",
		"email":       "a@x.com",
		"school":      "S",
		"phoneNumber": "+2348012345678",
		"password":    "secret1",
	}

	rec, body := doJSON(t, router, "/api/register", registration)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionID, ok := body["user"].(string)
	require.True(t, ok)
	require.Len(t, sessionID, 24)

	rec, body = doJSON(t, router, "/api/register", registration)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "USER_ALREADY_EXISTS", body["code"])

	rec, body = doJSON(t, router, "/api/login", map[string]string{"email": "a@x.com", "password": "wrong"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])

	rec, body = doJSON(t, router, "/api/login", map[string]string{"email": "a@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionID, body["user"])

	rec, body = doJSON(t, router, "/api/logout", map[string]string{"sessionId": sessionID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	// ログアウト後のログインは新しいセッションになる
	rec, body = doJSON(t, router, "/api/login", map[string]string{"email": "a@x.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, sessionID, body["user"])
}

func TestLoginLockoutIgnoresForwardedFor(t *testing.T) {
	router := newTestServer(t, memstore.New())
	wrong := map[string]string{"email": "a@x.com", "password": "wrong"}

	statuses := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		header := http.Header{"X-Forwarded-For": []string{fmt.Sprintf("10.0.%d.%d", i/250, i%250+1)}}
		rec, _ := doJSONWithHeader(t, router, "/api/login", wrong, header)
		statuses = append(statuses, rec.Code)
	}

	assert.Equal(t, []int{404, 404, 404, 404, 404, 429}, statuses)
}

func TestLoginLockoutUsesForwardedForFromTrustedProxy(t *testing.T) {
	cfg := testConfig()
	// httptest のリクエストは 192.0.2.1 から届く
	cfg.TrustedProxyAddrs = "192.0.2.0/24"
	router := newTestServerWithConfig(t, memstore.New(), cfg)
	wrong := map[string]string{"email": "a@x.com", "password": "wrong"}

	client := http.Header{"X-Forwarded-For": []string{"203.0.113.7"}}
	for i := 0; i < 5; i++ {
		doJSONWithHeader(t, router, "/api/login", wrong, client)
	}
	rec, _ := doJSONWithHeader(t, router, "/api/login", wrong, client)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := http.Header{"X-Forwarded-For": []string{"203.0.113.8"}}
	rec, _ = doJSONWithHeader(t, router, "/api/login", wrong, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetupMiddlewareRejectsInvalidProxy(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxyAddrs = "not-an-address"

	assert.Error(t, setupMiddleware(gin.New(), cfg))
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		router := newTestServer(t, memstore.New())
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	})

	t.Run("store down", func(t *testing.T) {
		router := newTestServer(t, unhealthyStore{memstore.New()})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestServer(t, memstore.New())
	doJSON(t, router, "/api/login", map[string]string{"email": "nobody@x.com", "password": "secret1"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `campus_auth_requests_total{operation="login",outcome="INVALID_CREDENTIALS"} 1`)
}

func TestRequestIDHeader(t *testing.T) {
	router := newTestServer(t, memstore.New())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestConnectWithRetry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var calls atomic.Int32
		gw, err := connectWithRetry(context.Background(), func(context.Context) (store.Gateway, error) {
			if calls.Add(1) < 3 {
				return nil, errors.New("dial tcp: connection refused")
			}
			return memstore.New(), nil
		}, 5, time.Second, logger)

		require.NoError(t, err)
		assert.NotNil(t, gw)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		var calls atomic.Int32
		_, err := connectWithRetry(context.Background(), func(context.Context) (store.Gateway, error) {
			calls.Add(1)
			return nil, errors.New("dial tcp: connection refused")
		}, 1, time.Second, logger)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("applies per-attempt timeout", func(t *testing.T) {
		_, err := connectWithRetry(context.Background(), func(ctx context.Context) (store.Gateway, error) {
			_, hasDeadline := ctx.Deadline()
			if !hasDeadline {
				return nil, errors.New("missing deadline")
			}
			return memstore.New(), nil
		}, 0, 50*time.Millisecond, logger)

		require.NoError(t, err)
	})
}

func TestConnectorForUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.StoreDriver = "sqlite"

	_, err := connectorFor(cfg)
	assert.Error(t, err)
}
