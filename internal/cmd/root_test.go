package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcpal/internal/config"
	"github.com/3leaps/gcpal/internal/server/handlers"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	t.Cleanup(func() { SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate) })

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "release build", version: "0.4.0", commit: "9f1c2ab", buildDate: "2026-03-02"},
		{name: "dev build", version: "dev", commit: "unknown", buildDate: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)

			// the serve command reports the same metadata on /version
			rec := httptest.NewRecorder()
			handlers.VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var got handlers.VersionInfo
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.version, got.Version)
			assert.Equal(t, tt.commit, got.Commit)
			assert.Equal(t, tt.buildDate, got.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	orig, origProject, origProfile := appIdentity, project, logProfile
	t.Cleanup(func() { appIdentity, project, logProfile = orig, origProject, origProfile })

	project, logProfile = "", ""
	appIdentity = nil
	assert.Nil(t, GetAppIdentity())

	t.Setenv("GCPAL_PROJECT", "ident-project")
	require.NoError(t, initConfig(rootCmd, nil))

	id := GetAppIdentity()
	require.NotNil(t, id)
	assert.Equal(t, config.DefaultIdentity.BinaryName, id.BinaryName)
	assert.Equal(t, config.DefaultIdentity.EnvPrefix, id.EnvPrefix)
	assert.Equal(t, "ident-project", currentConfig().Project)
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaults()

	tests := []struct {
		key  string
		want any
	}{
		{"workers", 4},
		{"server.host", "localhost"},
		{"server.port", 8080},
		{"server.shutdown_timeout", "10s"},
		{"server.rate_limit", 20.0},
		{"server.burst", 40},
		{"logging.level", "info"},
		{"logging.profile", "structured"},
		{"metrics.enabled", true},
		{"metrics.port", 9090},
		{"debug.pprof_enabled", false},
		{"storage.backend", config.BackendGCS},
		{"storage.hmac.endpoint", "https://storage.googleapis.com"},
		{"storage.hmac.region", "auto"},
		{"logs.poll_interval", "5s"},
		{"logs.latency_buffer", "10s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, viper.Get(tt.key))
		})
	}

	assert.Empty(t, viper.GetString("project"), "project comes from flags, env or ADC")
}
