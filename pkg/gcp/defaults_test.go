package gcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultProject_EnvPrecedence(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "gcp pal project wins",
			env:  map[string]string{"GCP_PAL_PROJECT": "a", "PROJECT": "b", "GOOGLE_CLOUD_PROJECT": "c"},
			want: "a",
		},
		{
			name: "legacy project",
			env:  map[string]string{"GCP_PAL_PROJECT": "", "PROJECT": "b", "GOOGLE_CLOUD_PROJECT": "c"},
			want: "b",
		},
		{
			name: "google cloud project",
			env:  map[string]string{"GCP_PAL_PROJECT": "", "PROJECT": "", "GOOGLE_CLOUD_PROJECT": "c"},
			want: "c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got, err := DefaultProject(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultLocationFromEnv(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("GCP_PAL_LOCATION", "")
		assert.Equal(t, DefaultLocation, DefaultLocationFromEnv())
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("GCP_PAL_LOCATION", "us-central1")
		assert.Equal(t, "us-central1", DefaultLocationFromEnv())
	})
}

func TestResolve(t *testing.T) {
	t.Setenv("GCP_PAL_LOCATION", "")

	logger := zap.NewExample()
	s, err := Resolve(context.Background(), false,
		WithProject("proj"),
		WithLogger(logger),
		WithWorkers(3),
	)
	require.NoError(t, err)
	assert.Equal(t, "proj", s.Project)
	assert.Equal(t, DefaultLocation, s.Location)
	assert.Same(t, logger, s.Logger)
	assert.Equal(t, 3, s.Workers)
	assert.NotNil(t, s.Cache)
}

func TestResolve_NoProjectNotRequired(t *testing.T) {
	s, err := Resolve(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, s.Project)
	assert.Equal(t, DefaultWorkers, s.Workers)
	assert.NotNil(t, s.Logger)
}
