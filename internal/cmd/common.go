package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/internal/config"
	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/output"
	"github.com/3leaps/gcpal/pkg/provider"
	"github.com/3leaps/gcpal/pkg/provider/file"
	"github.com/3leaps/gcpal/pkg/provider/s3"
	"github.com/3leaps/gcpal/pkg/storage"
)

// ErrReadOnly is returned by mutating commands under --readonly.
var ErrReadOnly = errors.New("refusing to modify resources in readonly mode")

// currentConfig returns the loaded config, or defaults when no command has
// loaded one (tests calling run functions directly).
func currentConfig() *config.Config {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{Workers: 4, Storage: config.StorageConfig{Backend: config.BackendGCS}}
}

// serviceOptions builds the options shared by every service wrapper.
func serviceOptions() []gcp.Option {
	cfg := currentConfig()
	opts := []gcp.Option{
		gcp.WithLogger(observability.CLILogger),
		gcp.WithWorkers(cfg.Workers),
	}
	if cfg.Project != "" {
		opts = append(opts, gcp.WithProject(cfg.Project))
	}
	if cfg.Location != "" {
		opts = append(opts, gcp.WithLocation(cfg.Location))
	}
	if observability.TelemetrySystem != nil {
		opts = append(opts, gcp.WithRecorder(observability.TelemetrySystem))
	}
	return opts
}

// storageOptions adds the configured object backend to serviceOptions. The
// gcs backend is the storage package default and needs no option.
func storageOptions(ctx context.Context) ([]gcp.Option, error) {
	cfg := currentConfig()
	opts := serviceOptions()
	backend, err := newStorageBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		opts = append(opts, storage.WithBackend(backend))
	}
	return opts, nil
}

func newStorageBackend(ctx context.Context, cfg *config.Config) (provider.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendGCS, "":
		return nil, nil
	case config.BackendFile:
		return file.New(file.Config{Root: cfg.Storage.FileRoot})
	case config.BackendHMAC:
		return s3.New(ctx, s3.Config{
			Endpoint:        cfg.Storage.HMAC.Endpoint,
			Region:          cfg.Storage.HMAC.Region,
			AccessKeyID:     cfg.Storage.HMAC.AccessKeyID,
			SecretAccessKey: cfg.Storage.HMAC.SecretAccessKey,
			ProjectID:       cfg.Project,
		})
	}
	return nil, fmt.Errorf("%w: unknown storage backend %q", gcp.ErrInvalidArgument, cfg.Storage.Backend)
}

// openStorage opens a storage path with the configured backend.
func openStorage(ctx context.Context, path string) (*storage.Storage, error) {
	opts, err := storageOptions(ctx)
	if err != nil {
		return nil, err
	}
	return storage.New(ctx, path, opts...)
}

// newWriter returns a JSONL writer on the command's stdout.
func newWriter(cmd *cobra.Command, service string) *output.JSONLWriter {
	return output.NewJSONLWriter(cmd.OutOrStdout(), jobIDOrNew(), service)
}

// jobIDOrNew returns --job-id, or a fresh UUID.
func jobIDOrNew() string {
	if jobID != "" {
		return jobID
	}
	return uuid.New().String()
}

// requireWritable fails mutating commands when --readonly is set.
func requireWritable(op string) error {
	if readOnly {
		observability.CLILogger.Error("Blocked by readonly mode", zap.String("op", op))
		return exitError(foundry.ExitInvalidArgument, op+" blocked", ErrReadOnly)
	}
	return nil
}

// exitCodeFor maps a service error to a process exit code.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case gcp.IsNotFound(err):
		return foundry.ExitFileNotFound
	case errors.Is(err, gcp.ErrInvalidArgument), errors.Is(err, gcp.ErrInvalidPath):
		return foundry.ExitInvalidArgument
	}
	return foundry.ExitExternalServiceUnavailable
}

// fail writes an error record, logs, and returns the exit error.
func fail(w output.Writer, msg, resource string, err error) error {
	ctx := context.Background()
	if w != nil {
		_ = w.WriteError(ctx, output.NewErrorRecord(err, resource))
	}
	observability.CLILogger.Error(msg, zap.String("resource", resource), zap.Error(err))
	return exitError(exitCodeFor(err), msg, err)
}

// finish writes the summary record and closes the writer.
func finish(ctx context.Context, w *output.JSONLWriter) error {
	if err := w.WriteSummary(ctx, w.Summary()); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}
	return w.Close()
}

// writeNames emits one resource record per name.
func writeNames(ctx context.Context, w output.Writer, kind string, names []string) error {
	for _, n := range names {
		if err := w.WriteResource(ctx, &output.ResourceRecord{Name: gcp.ShortName(n), Path: n, Kind: kind}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}
