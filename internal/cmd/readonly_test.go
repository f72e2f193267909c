package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetReadOnly(t *testing.T) {
	t.Helper()
	readOnly = false
	require.NoError(t, rootCmd.PersistentFlags().Set("readonly", "false"))
}

func TestReadOnly_BlocksMutatingCommands(t *testing.T) {
	t.Setenv("GCPAL_PROJECT", "test-project")

	tests := []struct {
		name string
		args []string
	}{
		{name: "storage rm", args: []string{"storage", "rm", "gs://bucket/key"}},
		{name: "storage cp", args: []string{"storage", "cp", "gs://bucket/a", "gs://bucket/b"}},
		{name: "storage mv", args: []string{"storage", "mv", "gs://bucket/a", "gs://bucket/b"}},
		{name: "storage mkdir", args: []string{"storage", "mkdir", "gs://bucket/dir/"}},
		{name: "storage upload", args: []string{"storage", "upload", ".", "gs://bucket/dir/", "-r"}},
		{name: "bq rm", args: []string{"bq", "rm", "ds.table"}},
		{name: "bq external", args: []string{"bq", "external", "ds.ext", "gs://bucket/data.csv"}},
		{name: "pubsub publish", args: []string{"pubsub", "publish", "topic", "hello"}},
		{name: "scheduler run", args: []string{"scheduler", "run", "job"}},
		{name: "scheduler pause", args: []string{"scheduler", "pause", "job"}},
		{name: "scheduler resume", args: []string{"scheduler", "resume", "job"}},
		{name: "run exec", args: []string{"run", "exec", "job"}},
		{name: "firestore write", args: []string{"firestore", "write", "users/bob", "{}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetReadOnly(t)
			defer resetReadOnly(t)

			rootCmd.SetArgs(append([]string{"--readonly"}, tt.args...))
			rootCmd.SetContext(context.Background())
			err := rootCmd.Execute()
			rootCmd.SetArgs(nil)

			require.Error(t, err)
			assert.Contains(t, err.Error(), "readonly")
			assert.True(t, errors.Is(err, ErrReadOnly))

			var ee *ExitError
			require.True(t, errors.As(err, &ee))
		})
	}
}
