package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/matrix-governance/app"
	"github.com/upb/matrix-governance/config"
	"github.com/upb/matrix-governance/routes"
	"go.uber.org/zap/zaptest"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr string
	}{
		{name: "default json logger", level: "info", format: "json"},
		{name: "development console logger", level: "debug", format: "text"},
		{name: "invalid log level", level: "invalid", format: "json", wantErr: "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Observability.LogLevel = tt.level
			cfg.Observability.LogFormat = tt.format

			logger, err := initLogger(cfg)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestEndpoints(t *testing.T) {
	ctx := context.Background()
	deps, err := app.NewDependencies(ctx, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer deps.Close(ctx)

	ts := httptest.NewServer(routes.SetupRoutes(deps))
	defer ts.Close()

	testCases := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"health", "/healthz", http.StatusOK},
		{"readiness", "/readyz", http.StatusOK},
		{"status", "/api/v1/status", http.StatusOK},
		{"not found", "/api/v1/nonexistent", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.expectedStatus, resp.StatusCode, "endpoint: %s", tc.path)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}

	t.Run("status reports the sweeper after a run", func(t *testing.T) {
		deps.Sweeper.RunOnce(ctx)

		resp, err := http.Get(ts.URL + "/api/v1/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "memory", data["storage"])
		sweep := data["sweeper"].(map[string]interface{})
		assert.Equal(t, float64(1), sweep["runs"])
	})
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:            "localhost",
			Port:            8081,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Storage: config.StorageConfig{Driver: config.StorageMemory},
		Governance: config.GovernanceConfig{
			RuleCacheTTL:            time.Minute,
			RuleCacheSize:           100,
			ConditionFailurePolicy:  config.FailClosed,
			EscalationTimeout:       48 * time.Hour,
			EscalationBatchSize:     100,
			SweepInterval:           time.Hour,
			MinRejectionReasonChars: 10,
		},
		Audit: config.AuditConfig{
			BufferSize:      10,
			Workers:         1,
			ShutdownTimeout: time.Second,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:    "error",
			LogFormat:   "json",
			ServiceName: "matrix-governance",
		},
	}
}
