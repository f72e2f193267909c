package bigquery

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/schema"
)

var formatsByExt = map[string]bigquery.DataFormat{
	".parquet": bigquery.Parquet,
	".csv":     bigquery.CSV,
	".json":    bigquery.JSON,
	".jsonl":   bigquery.JSON,
	".avro":    bigquery.Avro,
	".orc":     bigquery.ORC,
}

// InferFormat picks the source format from a URI's extension. A trailing
// "/" or "/*" is ignored, so "data.parquet/" is Parquet.
func InferFormat(uri string) (bigquery.DataFormat, error) {
	clean := strings.TrimSuffix(strings.TrimSuffix(uri, "*"), "/")
	if f, ok := formatsByExt[strings.ToLower(path.Ext(clean))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: cannot infer a source format from %q", gcp.ErrInvalidArgument, uri)
}

// ExternalOptions controls CreateExternalTable.
type ExternalOptions struct {
	// Format overrides the inferred format.
	Format bigquery.DataFormat

	// Schema is used instead of auto-detection.
	Schema *schema.Schema

	Description string
	Labels      map[string]string
	Expiration  time.Time
}

// ExternalConfig builds the external data config for uri. A Parquet
// directory is read as a hive-partitioned dataset.
func ExternalConfig(uri string, format bigquery.DataFormat) (*bigquery.ExternalDataConfig, error) {
	if format == "" {
		f, err := InferFormat(uri)
		if err != nil {
			return nil, err
		}
		format = f
	}
	cfg := &bigquery.ExternalDataConfig{
		SourceFormat: format,
		SourceURIs:   []string{uri},
		AutoDetect:   true,
	}
	if format == bigquery.Parquet && isDirectoryURI(uri) {
		prefix := strings.TrimSuffix(strings.TrimSuffix(uri, "*"), "/")
		cfg.SourceURIs = []string{prefix + "/*"}
		cfg.HivePartitioningOptions = &bigquery.HivePartitioningOptions{
			Mode:            bigquery.AutoHivePartitioningMode,
			SourceURIPrefix: prefix + "/",
		}
	}
	return cfg, nil
}

func isDirectoryURI(uri string) bool {
	return strings.HasSuffix(uri, "/") || strings.HasSuffix(uri, "/*")
}

// CreateExternalTable creates the path's table over files in Cloud
// Storage. A missing dataset is created.
func (b *BigQuery) CreateExternalTable(ctx context.Context, uri string, opts ExternalOptions) (err error) {
	defer b.settings.Observe(Service, "CreateExternalTable", time.Now(), &err)

	if err := b.require("CreateExternalTable", LevelTable); err != nil {
		return err
	}
	cfg, err := ExternalConfig(uri, opts.Format)
	if err != nil {
		return b.wrap("CreateExternalTable", err)
	}
	if opts.Schema != nil {
		bs, err := opts.Schema.BigQuery()
		if err != nil {
			return b.wrap("CreateExternalTable", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
		}
		cfg.Schema = bs
		cfg.AutoDetect = false
	}
	md := &bigquery.TableMetadata{
		ExternalDataConfig: cfg,
		Description:        opts.Description,
		Labels:             opts.Labels,
		ExpirationTime:     opts.Expiration,
	}
	if err := b.createTable(ctx, md); err != nil {
		return err
	}
	b.logger.Info("BigQuery - Created external table",
		zap.String("table", b.path.String()), zap.String("uri", uri), zap.String("format", string(cfg.SourceFormat)))
	return nil
}
