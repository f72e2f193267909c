// Package bigquery addresses BigQuery datasets and tables with dotted
// "project.dataset.table" paths.
package bigquery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/schema"
)

// Service is the name used in errors, logs and metrics.
const Service = "bigquery"

const (
	apiKind         = "bigquery"
	datasetOverride = "bigquery.dataset"
	tableOverride   = "bigquery.table"
)

// WithDataset overrides the dataset named by the path.
func WithDataset(name string) gcp.Option { return gcp.WithOverride(datasetOverride, name) }

// WithTable overrides the table named by the path.
func WithTable(name string) gcp.Option { return gcp.WithOverride(tableOverride, name) }

// BigQuery is a handle on a project, dataset or table.
type BigQuery struct {
	path     Path
	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New parses path and resolves the client.
func New(ctx context.Context, path string, opts ...gcp.Option) (*BigQuery, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	p, err := ParsePath(path, s.Project, s.Override(datasetOverride), s.Override(tableOverride))
	if err != nil {
		return nil, err
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.Project, "", s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", p.String(), err)
	}
	return &BigQuery{
		path:     p,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Path returns the parsed path.
func (b *BigQuery) Path() Path { return b.path }

// Level returns the resource level.
func (b *BigQuery) Level() Level { return b.path.Level() }

func (b *BigQuery) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, b.path.String(), err)
}

func (b *BigQuery) require(op string, level Level) error {
	if b.path.Level() < level {
		return b.wrap(op, fmt.Errorf("%w: a %s path is required", gcp.ErrInvalidPath, level))
	}
	return nil
}

// Ls lists datasets at project level and tables otherwise.
func (b *BigQuery) Ls(ctx context.Context) (out []string, err error) {
	defer b.settings.Observe(Service, "Ls", time.Now(), &err)

	if b.path.Level() == LevelProject {
		out, err = b.api.Datasets(ctx, b.path.Project)
	} else {
		out, err = b.api.Tables(ctx, b.path.Project, b.path.Dataset)
	}
	if err != nil {
		return nil, b.wrap("Ls", err)
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether the dataset or table exists.
func (b *BigQuery) Exists(ctx context.Context) (ok bool, err error) {
	defer b.settings.Observe(Service, "Exists", time.Now(), &err)

	switch b.path.Level() {
	case LevelProject:
		return true, nil
	case LevelDataset:
		_, err = b.api.DatasetMetadata(ctx, b.path.Project, b.path.Dataset)
	default:
		_, err = b.api.TableMetadata(ctx, b.path)
	}
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(gcp.Classify(err)) {
		return false, nil
	}
	return false, b.wrap("Exists", err)
}

// Metadata is what Get returns: one of the two is set.
type Metadata struct {
	Dataset *bigquery.DatasetMetadata
	Table   *bigquery.TableMetadata
}

// Get returns dataset or table metadata.
func (b *BigQuery) Get(ctx context.Context) (md *Metadata, err error) {
	defer b.settings.Observe(Service, "Get", time.Now(), &err)

	if err := b.require("Get", LevelDataset); err != nil {
		return nil, err
	}
	if b.path.Level() == LevelDataset {
		ds, err := b.api.DatasetMetadata(ctx, b.path.Project, b.path.Dataset)
		if err != nil {
			return nil, b.wrap("Get", err)
		}
		return &Metadata{Dataset: ds}, nil
	}
	t, err := b.api.TableMetadata(ctx, b.path)
	if err != nil {
		return nil, b.wrap("Get", err)
	}
	return &Metadata{Table: t}, nil
}

// Schema returns the table schema in the canonical vocabulary.
func (b *BigQuery) Schema(ctx context.Context) (sch *schema.Schema, err error) {
	defer b.settings.Observe(Service, "Schema", time.Now(), &err)

	if err := b.require("Schema", LevelTable); err != nil {
		return nil, err
	}
	md, err := b.api.TableMetadata(ctx, b.path)
	if err != nil {
		return nil, b.wrap("Schema", err)
	}
	sch, err = schema.FromBigQuery(md.Schema)
	if err != nil {
		return nil, b.wrap("Schema", err)
	}
	return sch, nil
}

// SetSchema appends the columns of sch that the table lacks. Existing
// columns are left as they are.
func (b *BigQuery) SetSchema(ctx context.Context, sch *schema.Schema) (err error) {
	defer b.settings.Observe(Service, "SetSchema", time.Now(), &err)

	if err := b.require("SetSchema", LevelTable); err != nil {
		return err
	}
	want, err := sch.BigQuery()
	if err != nil {
		return b.wrap("SetSchema", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	md, err := b.api.TableMetadata(ctx, b.path)
	if err != nil {
		return b.wrap("SetSchema", err)
	}

	have := map[string]bool{}
	for _, f := range md.Schema {
		have[f.Name] = true
	}
	merged := append(bigquery.Schema{}, md.Schema...)
	var added []string
	for _, f := range want {
		if !have[f.Name] {
			merged = append(merged, f)
			added = append(added, f.Name)
		}
	}
	if len(added) == 0 {
		return nil
	}
	if _, err := b.api.UpdateTable(ctx, b.path, bigquery.TableMetadataToUpdate{Schema: merged}, md.ETag); err != nil {
		return b.wrap("SetSchema", err)
	}
	b.logger.Info("BigQuery - Updated schema", zap.String("table", b.path.String()), zap.Strings("added", added))
	return nil
}

// DatasetOptions controls CreateDataset.
type DatasetOptions struct {
	Description string
	Labels      map[string]string

	// DefaultTableExpiration applies to new tables when non-zero.
	DefaultTableExpiration time.Duration

	// ExistOK makes an existing dataset a success.
	ExistOK bool
}

// CreateDataset creates the path's dataset in the configured location.
func (b *BigQuery) CreateDataset(ctx context.Context, opts DatasetOptions) (err error) {
	defer b.settings.Observe(Service, "CreateDataset", time.Now(), &err)

	if err := b.require("CreateDataset", LevelDataset); err != nil {
		return err
	}
	md := &bigquery.DatasetMetadata{
		Location:               b.settings.Location,
		Description:            opts.Description,
		Labels:                 opts.Labels,
		DefaultTableExpiration: opts.DefaultTableExpiration,
	}
	if err := b.api.CreateDataset(ctx, b.path.Project, b.path.Dataset, md); err != nil {
		if opts.ExistOK && gcp.IsAlreadyExists(gcp.Classify(err)) {
			return nil
		}
		return b.wrap("CreateDataset", err)
	}
	b.logger.Info("BigQuery - Created dataset", zap.String("dataset", b.path.Project+"."+b.path.Dataset))
	return nil
}

// TableOptions controls CreateTable.
type TableOptions struct {
	// TimePartitioning partitions by a time column, or ingestion time when
	// Field is empty. Mutually exclusive with RangePartitioning.
	TimePartitioning *bigquery.TimePartitioning

	RangePartitioning *bigquery.RangePartitioning
	Clustering        []string
	Labels            map[string]string
	Description       string
	Expiration        time.Time

	// ExistOK makes an existing table a success.
	ExistOK bool
}

// CreateTable creates the table. A nil schema creates a schemaless table.
// A missing dataset is created and the call retried.
func (b *BigQuery) CreateTable(ctx context.Context, sch *schema.Schema, opts TableOptions) (err error) {
	defer b.settings.Observe(Service, "CreateTable", time.Now(), &err)

	if err := b.require("CreateTable", LevelTable); err != nil {
		return err
	}
	if opts.TimePartitioning != nil && opts.RangePartitioning != nil {
		return b.wrap("CreateTable", fmt.Errorf("%w: time and range partitioning are mutually exclusive", gcp.ErrInvalidArgument))
	}
	md := &bigquery.TableMetadata{
		Description:       opts.Description,
		Labels:            opts.Labels,
		ExpirationTime:    opts.Expiration,
		TimePartitioning:  opts.TimePartitioning,
		RangePartitioning: opts.RangePartitioning,
	}
	if len(opts.Clustering) > 0 {
		md.Clustering = &bigquery.Clustering{Fields: opts.Clustering}
	}
	if sch != nil {
		bs, err := sch.BigQuery()
		if err != nil {
			return b.wrap("CreateTable", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
		}
		md.Schema = bs
	}
	if err := b.createTable(ctx, md); err != nil {
		if opts.ExistOK && gcp.IsAlreadyExists(err) {
			return nil
		}
		return err
	}
	b.logger.Info("BigQuery - Created table", zap.String("table", b.path.String()))
	return nil
}

// createTable creates the table, creating its dataset on demand.
func (b *BigQuery) createTable(ctx context.Context, md *bigquery.TableMetadata) error {
	err := b.api.CreateTable(ctx, b.path, md)
	if err != nil && gcp.IsNotFound(gcp.Classify(err)) {
		ds := b.dataset()
		if derr := ds.CreateDataset(ctx, DatasetOptions{ExistOK: true}); derr != nil {
			return derr
		}
		err = b.api.CreateTable(ctx, b.path, md)
	}
	return b.wrap("CreateTable", err)
}

func (b *BigQuery) dataset() *BigQuery {
	p := b.path
	p.Table = ""
	return &BigQuery{path: p, settings: b.settings, api: b.api, logger: b.logger}
}

func (b *BigQuery) withTable(p Path) *BigQuery {
	return &BigQuery{path: p, settings: b.settings, api: b.api, logger: b.logger}
}

// Create creates the dataset or table the path names.
func (b *BigQuery) Create(ctx context.Context) error {
	switch b.path.Level() {
	case LevelDataset:
		return b.CreateDataset(ctx, DatasetOptions{})
	case LevelTable:
		return b.CreateTable(ctx, nil, TableOptions{})
	}
	return b.wrap("Create", fmt.Errorf("%w: nothing to create at project level", gcp.ErrInvalidPath))
}

// Delete removes the table, or the dataset with all its tables.
func (b *BigQuery) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer b.settings.Observe(Service, "Delete", time.Now(), &err)

	switch b.path.Level() {
	case LevelProject:
		return b.wrap("Delete", fmt.Errorf("%w: nothing to delete at project level", gcp.ErrInvalidPath))
	case LevelDataset:
		err = b.api.DeleteDataset(ctx, b.path.Project, b.path.Dataset, true)
	default:
		err = b.api.DeleteTable(ctx, b.path)
	}
	if err != nil {
		return mode.Handle(b.wrap("Delete", err))
	}
	b.logger.Info("BigQuery - Deleted", zap.String("path", b.path.String()))
	return nil
}

// Query runs sql with named parameters.
func (b *BigQuery) Query(ctx context.Context, sql string, params map[string]any) ([]map[string]bigquery.Value, error) {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	qp := make([]bigquery.QueryParameter, 0, len(params))
	for _, n := range names {
		qp = append(qp, bigquery.QueryParameter{Name: n, Value: params[n]})
	}
	return b.QueryWithParams(ctx, sql, qp)
}

// QueryWithParams runs sql with prepared parameters.
func (b *BigQuery) QueryWithParams(ctx context.Context, sql string, params []bigquery.QueryParameter) (rows []map[string]bigquery.Value, err error) {
	defer b.settings.Observe(Service, "Query", time.Now(), &err)

	rows, err = b.api.Query(ctx, sql, params)
	if err != nil {
		return nil, b.wrap("Query", err)
	}
	if rows == nil {
		rows = []map[string]bigquery.Value{}
	}
	return rows, nil
}

// ReadOptions controls Read.
type ReadOptions struct {
	Columns []string
	Filters []Condition
	Limit   int

	// FilePath reads a gs:// file through a temporary external table
	// instead of the path's table.
	FilePath string

	// Format overrides the format inferred from FilePath.
	Format bigquery.DataFormat
}

// Read selects rows from the table with optional projection, filters and
// limit.
func (b *BigQuery) Read(ctx context.Context, opts ReadOptions) (rows []map[string]bigquery.Value, err error) {
	if opts.FilePath != "" {
		return b.readFile(ctx, opts)
	}
	if err := b.require("Read", LevelTable); err != nil {
		return nil, err
	}
	return b.selectFrom(ctx, b.path, opts)
}

func (b *BigQuery) selectFrom(ctx context.Context, p Path, opts ReadOptions) ([]map[string]bigquery.Value, error) {
	qb := NewSQLBuilder().Select(opts.Columns...).From(p.Project + "." + p.Dataset + "." + p.Table).Limit(opts.Limit)
	for _, c := range opts.Filters {
		qb.Where(c.Column, c.Op, c.Value)
	}
	sql, params, err := qb.Build()
	if err != nil {
		return nil, b.wrap("Read", err)
	}
	return b.QueryWithParams(ctx, sql, params)
}

// readFile exposes a file as an external table in a throwaway dataset,
// selects from it and drops the dataset.
func (b *BigQuery) readFile(ctx context.Context, opts ReadOptions) (rows []map[string]bigquery.Value, err error) {
	tmp := Path{
		Project: b.path.Project,
		Dataset: "gcpal_tmp_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Table:   "external",
	}
	t := b.withTable(tmp)
	if err := t.dataset().CreateDataset(ctx, DatasetOptions{DefaultTableExpiration: time.Hour}); err != nil {
		return nil, err
	}
	defer func() {
		if derr := t.dataset().Delete(context.WithoutCancel(ctx), gcp.ErrorsRaise); derr != nil && err == nil {
			err = derr
		}
	}()
	if err := t.CreateExternalTable(ctx, opts.FilePath, ExternalOptions{Format: opts.Format}); err != nil {
		return nil, err
	}
	return t.selectFrom(ctx, tmp, opts)
}

// ReadTable scans the whole table without a query job.
func (b *BigQuery) ReadTable(ctx context.Context) (rows []map[string]bigquery.Value, err error) {
	defer b.settings.Observe(Service, "ReadTable", time.Now(), &err)

	if err := b.require("ReadTable", LevelTable); err != nil {
		return nil, err
	}
	rows, err = b.api.ReadTable(ctx, b.path)
	if err != nil {
		return nil, b.wrap("ReadTable", err)
	}
	return rows, nil
}

// Insert streams rows into the table. Per-row failures come back as one
// error.
func (b *BigQuery) Insert(ctx context.Context, rows []map[string]any) (err error) {
	defer b.settings.Observe(Service, "Insert", time.Now(), &err)

	if err := b.require("Insert", LevelTable); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if err := b.api.Insert(ctx, b.path, rows); err != nil {
		return b.wrap("Insert", err)
	}
	b.logger.Info("BigQuery - Inserted", zap.String("table", b.path.String()), zap.Int("rows", len(rows)))
	return nil
}

// WriteOptions controls Write.
type WriteOptions struct {
	// Schema is used when the table has to be created. Nil infers it
	// from the rows.
	Schema *schema.Schema

	// Format overrides the format inferred from a gs:// source.
	Format bigquery.DataFormat

	Table TableOptions
}

// Write appends data to the table. Rows are streamed, creating the table
// first when it does not exist; a "gs://" string is loaded with a load
// job.
func (b *BigQuery) Write(ctx context.Context, data any, opts WriteOptions) (err error) {
	defer b.settings.Observe(Service, "Write", time.Now(), &err)

	if err := b.require("Write", LevelTable); err != nil {
		return err
	}
	switch v := data.(type) {
	case string:
		if !strings.HasPrefix(v, "gs://") {
			return b.wrap("Write", fmt.Errorf("%w: string sources must be gs:// URIs", gcp.ErrInvalidArgument))
		}
		return b.load(ctx, v, opts)
	case []map[string]any:
		return b.writeRows(ctx, v, opts)
	case map[string]any:
		return b.writeRows(ctx, []map[string]any{v}, opts)
	}
	return b.wrap("Write", fmt.Errorf("%w: cannot write %T", gcp.ErrInvalidArgument, data))
}

func (b *BigQuery) writeRows(ctx context.Context, rows []map[string]any, opts WriteOptions) error {
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		sch := opts.Schema
		if sch == nil {
			if sch, err = schema.InferFromRows(rows); err != nil {
				return b.wrap("Write", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
			}
		}
		if err := b.CreateTable(ctx, sch, opts.Table); err != nil {
			return err
		}
	}
	return b.Insert(ctx, rows)
}

func (b *BigQuery) load(ctx context.Context, uri string, opts WriteOptions) error {
	format := opts.Format
	if format == "" {
		f, err := InferFormat(uri)
		if err != nil {
			return b.wrap("Write", err)
		}
		format = f
	}
	var bs bigquery.Schema
	if opts.Schema != nil {
		s, err := opts.Schema.BigQuery()
		if err != nil {
			return b.wrap("Write", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
		}
		bs = s
	}
	if err := b.api.Load(ctx, b.path, uri, format, bs); err != nil {
		return b.wrap("Write", err)
	}
	b.logger.Info("BigQuery - Loaded", zap.String("src", uri), zap.String("dst", b.path.String()))
	return nil
}

// CreateSnapshot snapshots the table into dst ("dataset.table" or a full
// path). A non-zero expiration is set on the snapshot afterwards.
func (b *BigQuery) CreateSnapshot(ctx context.Context, dst string, expiration time.Time) (err error) {
	defer b.settings.Observe(Service, "CreateSnapshot", time.Now(), &err)

	if err := b.require("CreateSnapshot", LevelTable); err != nil {
		return err
	}
	dp, err := ParsePath(dst, b.path.Project, "", "")
	if err != nil {
		return err
	}
	if dp.Level() != LevelTable {
		return b.wrap("CreateSnapshot", fmt.Errorf("%w: snapshot destination %q is not a table", gcp.ErrInvalidPath, dst))
	}
	if err := b.api.Snapshot(ctx, b.path, dp); err != nil {
		return b.wrap("CreateSnapshot", err)
	}
	if !expiration.IsZero() {
		if _, err := b.api.UpdateTable(ctx, dp, bigquery.TableMetadataToUpdate{ExpirationTime: expiration}, ""); err != nil {
			return b.wrap("CreateSnapshot", err)
		}
	}
	b.logger.Info("BigQuery - Created snapshot", zap.String("src", b.path.String()), zap.String("dst", dp.String()))
	return nil
}

// Close releases the client when it is not shared.
func (b *BigQuery) Close() error {
	if _, injected := b.settings.Injected[apiKind]; injected || b.settings.Cacheable() {
		return nil
	}
	return b.api.Close()
}
