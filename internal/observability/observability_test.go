package observability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/3leaps/gcpal/pkg/gcp"
)

var _ gcp.Recorder = (*Metrics)(nil)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{name: "structured", profile: "structured", level: "info", want: zapcore.InfoLevel},
		{name: "default profile", profile: "", level: "warn", want: zapcore.WarnLevel},
		{name: "console upper", profile: "CONSOLE", level: "DEBUG", want: zapcore.DebugLevel},
		{name: "gcp", profile: "gcp", level: "error", want: zapcore.ErrorLevel},
		{name: "bad profile", profile: "xml", level: "info", wantErr: true},
		{name: "bad level", profile: "console", level: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.profile, tt.level)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("gcpal", true)
	assert.True(t, CLILogger.Core().Enabled(zap.DebugLevel))

	InitCLILogger("gcpal", false)
	assert.False(t, CLILogger.Core().Enabled(zap.DebugLevel))
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()
	m.Observe("storage", "Ls", 10*time.Millisecond, nil)
	m.Observe("storage", "Ls", 20*time.Millisecond, nil)
	m.Observe("storage", "Ls", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("storage", "Ls", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("storage", "Ls", ResultError)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestInitTelemetry(t *testing.T) {
	origSys, origExp := TelemetrySystem, PrometheusExporter
	defer func() { TelemetrySystem, PrometheusExporter = origSys, origExp }()

	m, reg, err := InitTelemetry()
	require.NoError(t, err)
	assert.Same(t, m, TelemetrySystem)
	assert.Same(t, reg, PrometheusExporter)

	m.Observe("pubsub", "Publish", time.Millisecond, nil)
	expected := `
# HELP gcpal_operations_total Total number of GCP operations by service, operation and result.
# TYPE gcpal_operations_total counter
gcpal_operations_total{op="Publish",result="ok",service="pubsub"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "gcpal_operations_total"))
}
