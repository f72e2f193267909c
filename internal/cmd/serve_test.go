package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcpal/internal/config"
	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/pkg/gcp"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestTelemetryHealthChecker(t *testing.T) {
	checker := telemetryHealthChecker{}

	t.Run("returns error when telemetry not initialized", func(t *testing.T) {
		// Save and restore
		origTelemetry := observability.TelemetrySystem
		origExporter := observability.PrometheusExporter
		defer func() {
			observability.TelemetrySystem = origTelemetry
			observability.PrometheusExporter = origExporter
		}()

		observability.TelemetrySystem = nil
		observability.PrometheusExporter = nil

		err := checker.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telemetry system not initialized")
	})

}

func TestBackendHealthChecker(t *testing.T) {
	tests := []struct {
		name    string
		storage config.StorageConfig
		wantErr error
	}{
		{
			name:    "gcs opens lazily",
			storage: config.StorageConfig{Backend: config.BackendGCS},
		},
		{
			name:    "file root is created",
			storage: config.StorageConfig{Backend: config.BackendFile, FileRoot: filepath.Join(t.TempDir(), "objects")},
		},
		{
			name:    "unknown backend",
			storage: config.StorageConfig{Backend: "azure"},
			wantErr: gcp.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := backendHealthChecker{cfg: &config.Config{Storage: tt.storage}}
			err := checker.CheckHealth(context.Background())
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Contains(t, err.Error(), tt.storage.Backend)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestBackendHealthChecker_FileRootIsAFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o600))

	checker := backendHealthChecker{cfg: &config.Config{Storage: config.StorageConfig{
		Backend:  config.BackendFile,
		FileRoot: root,
	}}}
	assert.Error(t, checker.CheckHealth(context.Background()))
}

func TestNewMetricsServer(t *testing.T) {
	_, _, err := observability.InitTelemetry()
	require.NoError(t, err)

	srv := newMetricsServer("127.0.0.1", 9191)
	assert.Equal(t, "127.0.0.1:9191", srv.Addr)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/storage/ls", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "the metrics port serves /metrics only")
}

func TestTelemetryHealthChecker_Initialized(t *testing.T) {
	_, _, err := observability.InitTelemetry()
	require.NoError(t, err)
	assert.NoError(t, telemetryHealthChecker{}.CheckHealth(context.Background()))
}
