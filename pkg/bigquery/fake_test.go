package bigquery

import (
	"context"
	"net/http"
	"sync"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

type fakeAPI struct {
	mu sync.Mutex

	datasets map[string]*bigquery.DatasetMetadata
	tables   map[string]*bigquery.TableMetadata
	rows     map[string][]map[string]any

	queries   []string
	params    [][]bigquery.QueryParameter
	queryRows []map[string]bigquery.Value

	loads     []string
	formats   []bigquery.DataFormat
	snapshots [][2]Path
	updates   []bigquery.TableMetadataToUpdate
	deletedDS []string
	insertErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		datasets: map[string]*bigquery.DatasetMetadata{},
		tables:   map[string]*bigquery.TableMetadata{},
		rows:     map[string][]map[string]any{},
	}
}

func notFound() error      { return &googleapi.Error{Code: http.StatusNotFound, Message: "Not found"} }
func alreadyExists() error { return &googleapi.Error{Code: http.StatusConflict, Message: "Already Exists"} }

func dsKey(project, dataset string) string { return project + "." + dataset }

func (f *fakeAPI) Datasets(_ context.Context, project string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.datasets {
		if len(k) > len(project) && k[:len(project)+1] == project+"." {
			out = append(out, k[len(project)+1:])
		}
	}
	return out, nil
}

func (f *fakeAPI) Tables(_ context.Context, project, dataset string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.datasets[dsKey(project, dataset)]; !ok {
		return nil, notFound()
	}
	prefix := dsKey(project, dataset) + "."
	var out []string
	for k := range f.tables {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k[len(prefix):])
		}
	}
	return out, nil
}

func (f *fakeAPI) DatasetMetadata(_ context.Context, project, dataset string) (*bigquery.DatasetMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.datasets[dsKey(project, dataset)]
	if !ok {
		return nil, notFound()
	}
	return md, nil
}

func (f *fakeAPI) CreateDataset(_ context.Context, project, dataset string, md *bigquery.DatasetMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.datasets[dsKey(project, dataset)]; ok {
		return alreadyExists()
	}
	f.datasets[dsKey(project, dataset)] = md
	return nil
}

func (f *fakeAPI) DeleteDataset(_ context.Context, project, dataset string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := dsKey(project, dataset)
	if _, ok := f.datasets[k]; !ok {
		return notFound()
	}
	delete(f.datasets, k)
	for t := range f.tables {
		if len(t) > len(k) && t[:len(k)+1] == k+"." {
			delete(f.tables, t)
		}
	}
	f.deletedDS = append(f.deletedDS, k)
	return nil
}

func (f *fakeAPI) TableMetadata(_ context.Context, p Path) (*bigquery.TableMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	md, ok := f.tables[p.String()]
	if !ok {
		return nil, notFound()
	}
	return md, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, p Path, md *bigquery.TableMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.datasets[dsKey(p.Project, p.Dataset)]; !ok {
		return notFound()
	}
	if _, ok := f.tables[p.String()]; ok {
		return alreadyExists()
	}
	f.tables[p.String()] = md
	return nil
}

func (f *fakeAPI) UpdateTable(_ context.Context, p Path, md bigquery.TableMetadataToUpdate, _ string) (*bigquery.TableMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.tables[p.String()]
	if !ok {
		return nil, notFound()
	}
	f.updates = append(f.updates, md)
	if md.Schema != nil {
		cur.Schema = md.Schema
	}
	return cur, nil
}

func (f *fakeAPI) DeleteTable(_ context.Context, p Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[p.String()]; !ok {
		return notFound()
	}
	delete(f.tables, p.String())
	return nil
}

func (f *fakeAPI) Query(_ context.Context, sql string, params []bigquery.QueryParameter) ([]map[string]bigquery.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	f.params = append(f.params, params)
	return f.queryRows, nil
}

func (f *fakeAPI) ReadTable(_ context.Context, p Path) ([]map[string]bigquery.Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[p.String()]; !ok {
		return nil, notFound()
	}
	var out []map[string]bigquery.Value
	for _, r := range f.rows[p.String()] {
		row := map[string]bigquery.Value{}
		for k, v := range r {
			row[k] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeAPI) Insert(_ context.Context, p Path, rows []map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if _, ok := f.tables[p.String()]; !ok {
		return notFound()
	}
	f.rows[p.String()] = append(f.rows[p.String()], rows...)
	return nil
}

func (f *fakeAPI) Load(_ context.Context, p Path, uri string, format bigquery.DataFormat, _ bigquery.Schema) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, uri+"->"+p.String())
	f.formats = append(f.formats, format)
	return nil
}

func (f *fakeAPI) Snapshot(_ context.Context, src, dst Path) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[src.String()]; !ok {
		return notFound()
	}
	f.snapshots = append(f.snapshots, [2]Path{src, dst})
	f.tables[dst.String()] = &bigquery.TableMetadata{Type: bigquery.Snapshot}
	return nil
}

func (f *fakeAPI) Close() error { return nil }
