package bigquery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/schema"
)

func newTestBQ(t *testing.T, f *fakeAPI, path string, opts ...gcp.Option) *BigQuery {
	t.Helper()
	opts = append([]gcp.Option{gcp.WithProject("p"), gcp.WithInjectedClient(apiKind, f)}, opts...)
	b, err := New(context.Background(), path, opts...)
	require.NoError(t, err)
	return b
}

func TestNew_Options(t *testing.T) {
	f := newFakeAPI()
	b := newTestBQ(t, f, "ds", WithTable("t"))
	assert.Equal(t, Path{Project: "p", Dataset: "ds", Table: "t"}, b.Path())
	assert.Equal(t, LevelTable, b.Level())

	b = newTestBQ(t, f, "", WithDataset("other"))
	assert.Equal(t, LevelDataset, b.Level())

	_, err := New(context.Background(), "", gcp.WithProject("p"), gcp.WithInjectedClient(apiKind, f), WithTable("t"))
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestBigQuery_CreateLsExistsDelete(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()

	ds := newTestBQ(t, f, "ds", gcp.WithLocation("EU"))
	require.NoError(t, ds.Create(ctx))
	assert.Equal(t, "EU", f.datasets["p.ds"].Location)

	err := ds.Create(ctx)
	assert.True(t, gcp.IsAlreadyExists(err))
	require.NoError(t, ds.CreateDataset(ctx, DatasetOptions{ExistOK: true}))

	tbl := newTestBQ(t, f, "ds.t1")
	require.NoError(t, tbl.Create(ctx))
	require.NoError(t, newTestBQ(t, f, "p.ds.t0").Create(ctx))

	got, err := ds.Ls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t0", "t1"}, got)

	got, err = newTestBQ(t, f, "").Ls(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ds"}, got)

	ok, err := tbl.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tbl.Delete(ctx, gcp.ErrorsRaise))
	ok, err = tbl.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, gcp.IsNotFound(tbl.Delete(ctx, gcp.ErrorsRaise)))
	assert.NoError(t, tbl.Delete(ctx, gcp.ErrorsIgnore))

	require.NoError(t, ds.Delete(ctx, gcp.ErrorsRaise))
	assert.Equal(t, []string{"p.ds"}, f.deletedDS)

	assert.True(t, gcp.IsInvalidPath(newTestBQ(t, f, "").Create(ctx)))
}

func TestBigQuery_CreateTable(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	tbl := newTestBQ(t, f, "auto.events")

	sch := &schema.Schema{Fields: []schema.Field{
		{Name: "id", Type: schema.TypeInt},
		{Name: "at", Type: schema.TypeTimestamp},
	}}

	err := tbl.CreateTable(ctx, sch, TableOptions{
		TimePartitioning:  &bigquery.TimePartitioning{Field: "at"},
		RangePartitioning: &bigquery.RangePartitioning{Field: "id"},
	})
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)

	err = tbl.CreateTable(ctx, sch, TableOptions{
		TimePartitioning: &bigquery.TimePartitioning{Field: "at"},
		Clustering:       []string{"id"},
		Labels:           map[string]string{"team": "data"},
	})
	require.NoError(t, err)

	assert.Contains(t, f.datasets, "p.auto", "dataset is created on demand")
	md := f.tables["p.auto.events"]
	require.NotNil(t, md)
	assert.Equal(t, []string{"id"}, md.Clustering.Fields)
	assert.Equal(t, "at", md.TimePartitioning.Field)
	require.Len(t, md.Schema, 2)
	assert.Equal(t, bigquery.TimestampFieldType, md.Schema[1].Type)

	assert.True(t, gcp.IsAlreadyExists(tbl.CreateTable(ctx, sch, TableOptions{})))
	assert.NoError(t, tbl.CreateTable(ctx, sch, TableOptions{ExistOK: true}))
}

func TestBigQuery_WriteRows(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	tbl := newTestBQ(t, f, "ds.t")

	rows := []map[string]any{{"id": 1, "name": "a"}, {"id": 2, "name": "b"}}
	require.NoError(t, tbl.Write(ctx, rows, WriteOptions{}))
	require.NoError(t, tbl.Write(ctx, map[string]any{"id": 3, "name": "c"}, WriteOptions{}))

	assert.Len(t, f.rows["p.ds.t"], 3)
	names := []string{}
	for _, fs := range f.tables["p.ds.t"].Schema {
		names = append(names, fs.Name)
	}
	assert.Equal(t, []string{"id", "name"}, names)

	got, err := tbl.ReadTable(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	assert.ErrorIs(t, tbl.Write(ctx, 42, WriteOptions{}), gcp.ErrInvalidArgument)
	assert.ErrorIs(t, tbl.Write(ctx, "/local/file.csv", WriteOptions{}), gcp.ErrInvalidArgument)
}

func TestBigQuery_WriteLoad(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	tbl := newTestBQ(t, f, "ds.t")

	require.NoError(t, tbl.Write(ctx, "gs://b/data.parquet", WriteOptions{}))
	require.NoError(t, tbl.Write(ctx, "gs://b/data.txt", WriteOptions{Format: bigquery.CSV}))
	assert.Equal(t, []string{"gs://b/data.parquet->p.ds.t", "gs://b/data.txt->p.ds.t"}, f.loads)
	assert.Equal(t, []bigquery.DataFormat{bigquery.Parquet, bigquery.CSV}, f.formats)

	assert.ErrorIs(t, tbl.Write(ctx, "gs://b/data.txt", WriteOptions{}), gcp.ErrInvalidArgument)
}

func TestBigQuery_InsertErrors(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	tbl := newTestBQ(t, f, "ds.t")
	require.NoError(t, tbl.Insert(ctx, nil))

	f.insertErr = insertError(bigquery.PutMultiError{
		{RowIndex: 0, Errors: bigquery.MultiError{errors.New("bad a")}},
		{RowIndex: 2, Errors: bigquery.MultiError{errors.New("bad b")}},
	})
	err := tbl.Insert(ctx, []map[string]any{{"a": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 rows failed to insert")
	assert.Contains(t, err.Error(), "row 2")
}

func TestBigQuery_Read(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	f.queryRows = []map[string]bigquery.Value{{"a": int64(1)}}
	tbl := newTestBQ(t, f, "ds.t")

	rows, err := tbl.Read(ctx, ReadOptions{
		Columns: []string{"a", "b"},
		Filters: []Condition{{Column: "a", Op: "=", Value: 1}},
		Limit:   5,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "SELECT `a`, `b` FROM `p.ds.t` WHERE `a` = @param_0 LIMIT 5", f.queries[0])

	_, err = tbl.Read(ctx, ReadOptions{Filters: []Condition{{Column: "a", Op: "DROP", Value: 1}}})
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)

	_, err = newTestBQ(t, f, "ds").Read(ctx, ReadOptions{})
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestBigQuery_ReadFile(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	b := newTestBQ(t, f, "")

	_, err := b.Read(ctx, ReadOptions{FilePath: "gs://bkt/data.parquet/", Limit: 1})
	require.NoError(t, err)

	require.Len(t, f.queries, 1)
	assert.True(t, strings.HasPrefix(f.queries[0], "SELECT * FROM `p.gcpal_tmp_"), f.queries[0])
	require.Len(t, f.deletedDS, 1)
	assert.True(t, strings.HasPrefix(f.deletedDS[0], "p.gcpal_tmp_"))
	assert.Empty(t, f.datasets, "temporary dataset is dropped")
}

func TestBigQuery_Query(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	b := newTestBQ(t, f, "")

	rows, err := b.Query(ctx, "SELECT @b, @a", map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Equal(t, []bigquery.QueryParameter{{Name: "a", Value: 1}, {Name: "b", Value: 2}}, f.params[0])
}

func TestBigQuery_SchemaAndSetSchema(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	tbl := newTestBQ(t, f, "ds.t")
	require.NoError(t, tbl.CreateTable(ctx, &schema.Schema{Fields: []schema.Field{{Name: "id", Type: schema.TypeInt}}}, TableOptions{}))

	err := tbl.SetSchema(ctx, &schema.Schema{Fields: []schema.Field{
		{Name: "id", Type: schema.TypeInt},
		{Name: "note", Type: schema.TypeStr},
	}})
	require.NoError(t, err)
	require.Len(t, f.updates, 1)

	sch, err := tbl.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "note"}, sch.Names())

	// Nothing new: no update issued.
	require.NoError(t, tbl.SetSchema(ctx, &schema.Schema{Fields: []schema.Field{{Name: "id", Type: schema.TypeInt}}}))
	assert.Len(t, f.updates, 1)
}

func TestBigQuery_GetAndSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	tbl := newTestBQ(t, f, "ds.t")
	require.NoError(t, tbl.Create(ctx))

	md, err := tbl.Get(ctx)
	require.NoError(t, err)
	assert.NotNil(t, md.Table)
	assert.Nil(t, md.Dataset)

	md, err = newTestBQ(t, f, "ds").Get(ctx)
	require.NoError(t, err)
	assert.NotNil(t, md.Dataset)

	exp := time.Now().Add(24 * time.Hour)
	require.NoError(t, tbl.CreateSnapshot(ctx, "ds.t_snap", exp))
	require.Len(t, f.snapshots, 1)
	assert.Equal(t, "p.ds.t_snap", f.snapshots[0][1].String())
	require.Len(t, f.updates, 1)
	assert.Equal(t, exp, f.updates[0].ExpirationTime)

	assert.True(t, gcp.IsInvalidPath(tbl.CreateSnapshot(ctx, "ds", time.Time{})))
}

func TestExternalConfig(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		format     bigquery.DataFormat
		wantFormat bigquery.DataFormat
		wantURIs   []string
		wantHive   bool
		wantErr    bool
	}{
		{name: "csv", uri: "gs://b/x.csv", wantFormat: bigquery.CSV, wantURIs: []string{"gs://b/x.csv"}},
		{name: "json", uri: "gs://b/x.json", wantFormat: bigquery.JSON, wantURIs: []string{"gs://b/x.json"}},
		{name: "avro", uri: "gs://b/x.avro", wantFormat: bigquery.Avro, wantURIs: []string{"gs://b/x.avro"}},
		{name: "orc", uri: "gs://b/x.ORC", wantFormat: bigquery.ORC, wantURIs: []string{"gs://b/x.ORC"}},
		{name: "parquet file", uri: "gs://b/x.parquet", wantFormat: bigquery.Parquet, wantURIs: []string{"gs://b/x.parquet"}},
		{name: "parquet dir", uri: "gs://b/x.parquet/", wantFormat: bigquery.Parquet, wantURIs: []string{"gs://b/x.parquet/*"}, wantHive: true},
		{name: "explicit", uri: "gs://b/dir/", format: bigquery.Parquet, wantFormat: bigquery.Parquet, wantURIs: []string{"gs://b/dir/*"}, wantHive: true},
		{name: "unknown", uri: "gs://b/x.bin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ExternalConfig(tt.uri, tt.format)
			if tt.wantErr {
				assert.ErrorIs(t, err, gcp.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, cfg.SourceFormat)
			assert.Equal(t, tt.wantURIs, cfg.SourceURIs)
			if tt.wantHive {
				require.NotNil(t, cfg.HivePartitioningOptions)
				assert.Equal(t, bigquery.AutoHivePartitioningMode, cfg.HivePartitioningOptions.Mode)
				assert.True(t, strings.HasSuffix(cfg.HivePartitioningOptions.SourceURIPrefix, "/"))
			} else {
				assert.Nil(t, cfg.HivePartitioningOptions)
			}
		})
	}
}

func TestBigQuery_CreateExternalTable(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	tbl := newTestBQ(t, f, "ds.ext")

	require.NoError(t, tbl.CreateExternalTable(ctx, "gs://b/events.parquet/", ExternalOptions{}))
	md := f.tables["p.ds.ext"]
	require.NotNil(t, md)
	require.NotNil(t, md.ExternalDataConfig)
	assert.True(t, md.ExternalDataConfig.AutoDetect)

	err := newTestBQ(t, f, "ds.ext2").CreateExternalTable(ctx, "gs://b/x.csv", ExternalOptions{
		Schema: &schema.Schema{Fields: []schema.Field{{Name: "a", Type: schema.TypeStr}}},
	})
	require.NoError(t, err)
	assert.False(t, f.tables["p.ds.ext2"].ExternalDataConfig.AutoDetect)
}
