package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/resize-credits/internal/config"
	"github.com/sakif/resize-credits/internal/model"
)

func testConfig() config.Config {
	return config.Config{
		Environment: config.EnvDevelopment,
		Port:        0,
		BaseURL:     "http://localhost:8080",
		Store:       config.StoreConfig{Driver: config.DriverMemory},
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret-at-least-16",
			SessionTTL:     time.Hour,
			GitHubClientID: "gh-client",
		},
		Billing: config.BillingConfig{
			Provider:      config.ProviderPaddle,
			APIKey:        "pdl_key",
			WebhookSecret: "pdl_secret",
			Sandbox:       true,
			PriceIDs:      map[model.PlanID]string{model.PlanPro: "pri_pro"},
		},
		Credits:  config.CreditsConfig{HistoryRetention: 100, OperationCost: 1},
		Executor: config.ExecutorConfig{Timeout: time.Second},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg config.Config) http.Handler {
	t.Helper()
	s, err := New(cfg, quietLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.Handler()
}

func get(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer(t, testConfig())

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/plans", http.StatusOK},
		{http.MethodGet, "/api/me", http.StatusUnauthorized},
		{http.MethodGet, "/api/credits", http.StatusUnauthorized},
		{http.MethodGet, "/api/credits/history", http.StatusUnauthorized},
		{http.MethodPost, "/api/credits/charge", http.StatusUnauthorized},
		{http.MethodPost, "/api/checkout", http.StatusUnauthorized},
		{http.MethodPost, "/api/process", http.StatusUnauthorized},
		{http.MethodGet, "/auth/github/login", http.StatusTemporaryRedirect},
		{http.MethodGet, "/auth/google/login", http.StatusNotFound},
		{http.MethodPost, "/webhooks/paddle", http.StatusUnauthorized},
		{http.MethodPost, "/webhooks/stripe", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := get(h, tt.method, tt.path)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	h := newTestServer(t, testConfig())

	rr := get(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "go_goroutines")
	assert.True(t, strings.Contains(body, "resize_debits_rejected_total"), "resize collectors registered")
}

func TestNew_ConfigErrors(t *testing.T) {
	t.Run("production needs a session secret", func(t *testing.T) {
		cfg := testConfig()
		cfg.Environment = config.EnvProduction
		cfg.Auth.JWTSecret = ""

		_, err := New(cfg, quietLogger(), nil)
		assert.Error(t, err)
	})

	t.Run("production needs payment keys", func(t *testing.T) {
		cfg := testConfig()
		cfg.Environment = config.EnvProduction
		cfg.Billing.APIKey = ""

		_, err := New(cfg, quietLogger(), nil)
		assert.Error(t, err)
	})

	t.Run("development runs without payment keys", func(t *testing.T) {
		cfg := testConfig()
		cfg.Billing.APIKey = ""
		h := newTestServer(t, cfg)

		assert.Equal(t, http.StatusOK, get(h, http.MethodGet, "/api/plans").Code)
		assert.Equal(t, http.StatusNotFound, get(h, http.MethodPost, "/webhooks/paddle").Code)
	})

	t.Run("unknown store driver", func(t *testing.T) {
		cfg := testConfig()
		cfg.Store.Driver = "cassandra"

		_, err := New(cfg, quietLogger(), nil)
		assert.Error(t, err)
	})

	t.Run("sqlite in memory", func(t *testing.T) {
		cfg := testConfig()
		cfg.Store = config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"}
		h := newTestServer(t, cfg)

		assert.Equal(t, http.StatusOK, get(h, http.MethodGet, "/healthz").Code)
	})
}
