package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/merchmate/internal/cache"
	"github.com/kiranshivaraju/merchmate/internal/config"
	"github.com/kiranshivaraju/merchmate/internal/store"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── mock store ──────────────────────────────────────────────────────────────

type testStore struct {
	pingErr error
}

func (s *testStore) Ping(_ context.Context) error                        { return s.pingErr }
func (s *testStore) RecordJob(_ context.Context, _ models.Job) error     { return nil }
func (s *testStore) JobStats(_ context.Context) (*store.JobStats, error) { return &store.JobStats{}, nil }

var _ store.Store = (*testStore)(nil)

// ─── mock cache ──────────────────────────────────────────────────────────────

type testCache struct {
	pingErr error
}

func (c *testCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *testCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *testCache) Ping(_ context.Context) error                                      { return c.pingErr }
func (c *testCache) Close() error                                                      { return nil }
func (c *testCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

var _ cache.Cache = (*testCache)(nil)

// ─── health handler tests ───────────────────────────────────────────────────

func serveHealth(t *testing.T, h http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestHealthHandler_AllOK(t *testing.T) {
	w := serveHealth(t, healthHandler(&testStore{}, &testCache{}))

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	data := body["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	services := data["services"].(map[string]any)
	assert.Equal(t, "ok", services["database"])
	assert.Equal(t, "ok", services["cache"])
}

func TestHealthHandler_DatabaseDegraded(t *testing.T) {
	w := serveHealth(t, healthHandler(&testStore{pingErr: errors.New("connection refused")}, &testCache{}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DEGRADED", errObj["code"])
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "degraded", details["database"])
	assert.Equal(t, "ok", details["cache"])
}

func TestHealthHandler_CacheDegraded(t *testing.T) {
	w := serveHealth(t, healthHandler(&testStore{}, &testCache{pingErr: errors.New("redis down")}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_Disabled(t *testing.T) {
	w := serveHealth(t, healthHandler(nil, nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	services := body["data"].(map[string]any)["services"].(map[string]any)
	assert.Equal(t, "disabled", services["database"])
	assert.Equal(t, "disabled", services["cache"])
}

func TestHealthHandler_OnlyCacheConfigured(t *testing.T) {
	w := serveHealth(t, healthHandler(nil, &testCache{pingErr: errors.New("redis down")}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

// ─── run() startup failure tests ────────────────────────────────────────────

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "GENERATOR_BACKEND", "GEMINI_API_KEY",
		"VITE_GEMINI_API_KEY", "PROXY_BASE_URL", "MERCHMATE_PORT",
		"GENERATION_TIMEOUT_SECS", "TRUSTED_PROXIES",
	} {
		t.Setenv(key, "")
	}
}

func TestRun_FailsOnInvalidConfig(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("GENERATOR_BACKEND", "bogus")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnMissingAPIKey(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("GENERATOR_BACKEND", "gemini")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestRun_FailsOnNonPositiveTimeout(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("GENERATOR_BACKEND", "proxy")
	t.Setenv("PROXY_BASE_URL", "http://localhost:3001")
	t.Setenv("GENERATION_TIMEOUT_SECS", "0")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GENERATION_TIMEOUT_SECS")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("GENERATOR_BACKEND", "proxy")
	t.Setenv("PROXY_BASE_URL", "http://localhost:3001")
	t.Setenv("DATABASE_URL", "not a url://")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestRun_FailsOnInvalidRedisURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("GENERATOR_BACKEND", "proxy")
	t.Setenv("PROXY_BASE_URL", "http://localhost:3001")
	t.Setenv("REDIS_URL", "http://not-redis")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create redis cache")
}

// ─── wiring helpers ─────────────────────────────────────────────────────────

func envConfig(env string) *config.Config {
	return &config.Config{Server: config.ServerConfig{Env: env}}
}

func TestRateLimiter_NilWithoutCache(t *testing.T) {
	assert.Nil(t, rateLimiter(nil, envConfig("production"), zerolog.Nop()))
	assert.NotNil(t, rateLimiter(&testCache{}, envConfig("production"), zerolog.Nop()))
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger(envConfig("development")).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger(envConfig("production")).GetLevel())
}

func TestNewLogger_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(envConfig("production")).Output(&buf)
	logger.Info().Str("job_id", "1-cap").Msg("job settled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job settled", entry["message"])
	assert.Equal(t, "1-cap", entry["job_id"])
	assert.Contains(t, entry, "time")
}

// ─── shutdown timeout constant test ─────────────────────────────────────────

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}
