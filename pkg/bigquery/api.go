package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the slice of the BigQuery client the package drives.
type api interface {
	Datasets(ctx context.Context, project string) ([]string, error)
	Tables(ctx context.Context, project, dataset string) ([]string, error)

	DatasetMetadata(ctx context.Context, project, dataset string) (*bigquery.DatasetMetadata, error)
	CreateDataset(ctx context.Context, project, dataset string, md *bigquery.DatasetMetadata) error
	DeleteDataset(ctx context.Context, project, dataset string, contents bool) error

	TableMetadata(ctx context.Context, p Path) (*bigquery.TableMetadata, error)
	CreateTable(ctx context.Context, p Path, md *bigquery.TableMetadata) error
	UpdateTable(ctx context.Context, p Path, md bigquery.TableMetadataToUpdate, etag string) (*bigquery.TableMetadata, error)
	DeleteTable(ctx context.Context, p Path) error

	Query(ctx context.Context, sql string, params []bigquery.QueryParameter) ([]map[string]bigquery.Value, error)
	ReadTable(ctx context.Context, p Path) ([]map[string]bigquery.Value, error)
	Insert(ctx context.Context, p Path, rows []map[string]any) error
	Load(ctx context.Context, p Path, uri string, format bigquery.DataFormat, sch bigquery.Schema) error
	Snapshot(ctx context.Context, src, dst Path) error

	Close() error
}

// sdkAPI adapts *bigquery.Client.
type sdkAPI struct {
	client *bigquery.Client
}

func newSDKAPI(ctx context.Context, project, location string, opts []option.ClientOption) (api, error) {
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, err
	}
	if location != "" {
		client.Location = location
	}
	// Table scans go through the Storage Read API when it is reachable.
	_ = client.EnableStorageReadClient(ctx, opts...)
	return &sdkAPI{client: client}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func (a *sdkAPI) table(p Path) *bigquery.Table {
	return a.client.DatasetInProject(p.Project, p.Dataset).Table(p.Table)
}

func (a *sdkAPI) Datasets(ctx context.Context, project string) ([]string, error) {
	it := a.client.Datasets(ctx)
	it.ProjectID = project
	var out []string
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ds.DatasetID)
	}
}

func (a *sdkAPI) Tables(ctx context.Context, project, dataset string) ([]string, error) {
	it := a.client.DatasetInProject(project, dataset).Tables(ctx)
	var out []string
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t.TableID)
	}
}

func (a *sdkAPI) DatasetMetadata(ctx context.Context, project, dataset string) (*bigquery.DatasetMetadata, error) {
	return a.client.DatasetInProject(project, dataset).Metadata(ctx)
}

func (a *sdkAPI) CreateDataset(ctx context.Context, project, dataset string, md *bigquery.DatasetMetadata) error {
	return a.client.DatasetInProject(project, dataset).Create(ctx, md)
}

func (a *sdkAPI) DeleteDataset(ctx context.Context, project, dataset string, contents bool) error {
	ds := a.client.DatasetInProject(project, dataset)
	if contents {
		return ds.DeleteWithContents(ctx)
	}
	return ds.Delete(ctx)
}

func (a *sdkAPI) TableMetadata(ctx context.Context, p Path) (*bigquery.TableMetadata, error) {
	return a.table(p).Metadata(ctx)
}

func (a *sdkAPI) CreateTable(ctx context.Context, p Path, md *bigquery.TableMetadata) error {
	return a.table(p).Create(ctx, md)
}

func (a *sdkAPI) UpdateTable(ctx context.Context, p Path, md bigquery.TableMetadataToUpdate, etag string) (*bigquery.TableMetadata, error) {
	return a.table(p).Update(ctx, md, etag)
}

func (a *sdkAPI) DeleteTable(ctx context.Context, p Path) error {
	return a.table(p).Delete(ctx)
}

func readRows(it *bigquery.RowIterator) ([]map[string]bigquery.Value, error) {
	var out []map[string]bigquery.Value
	for {
		row := map[string]bigquery.Value{}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}

func (a *sdkAPI) Query(ctx context.Context, sql string, params []bigquery.QueryParameter) ([]map[string]bigquery.Value, error) {
	q := a.client.Query(sql)
	q.Parameters = params
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	return readRows(it)
}

func (a *sdkAPI) ReadTable(ctx context.Context, p Path) ([]map[string]bigquery.Value, error) {
	return readRows(a.table(p).Read(ctx))
}

// mapSaver streams one map as a row. The empty insert ID lets BigQuery
// skip best-effort dedup.
type mapSaver map[string]any

func (m mapSaver) Save() (map[string]bigquery.Value, string, error) {
	row := make(map[string]bigquery.Value, len(m))
	for k, v := range m {
		row[k] = v
	}
	return row, "", nil
}

func (a *sdkAPI) Insert(ctx context.Context, p Path, rows []map[string]any) error {
	savers := make([]mapSaver, len(rows))
	for i, r := range rows {
		savers[i] = mapSaver(r)
	}
	err := a.table(p).Inserter().Put(ctx, savers)
	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		return insertError(multi)
	}
	return err
}

// insertError folds per-row failures into one error.
func insertError(multi bigquery.PutMultiError) error {
	errs := make([]error, 0, len(multi))
	for _, rowErr := range multi {
		errs = append(errs, fmt.Errorf("row %d: %v", rowErr.RowIndex, rowErr.Errors))
	}
	return fmt.Errorf("%d rows failed to insert: %w", len(multi), errors.Join(errs...))
}

func waitJob(ctx context.Context, job *bigquery.Job) error {
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (a *sdkAPI) Load(ctx context.Context, p Path, uri string, format bigquery.DataFormat, sch bigquery.Schema) error {
	ref := bigquery.NewGCSReference(uri)
	ref.SourceFormat = format
	if sch == nil {
		ref.AutoDetect = true
	} else {
		ref.Schema = sch
	}
	loader := a.table(p).LoaderFrom(ref)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteAppend
	job, err := loader.Run(ctx)
	if err != nil {
		return err
	}
	return waitJob(ctx, job)
}

func (a *sdkAPI) Snapshot(ctx context.Context, src, dst Path) error {
	copier := a.table(dst).CopierFrom(a.table(src))
	copier.OperationType = bigquery.SnapshotOperation
	job, err := copier.Run(ctx)
	if err != nil {
		return err
	}
	return waitJob(ctx, job)
}
