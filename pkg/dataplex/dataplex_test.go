package dataplex

import (
	"context"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/dataplex/apiv1/dataplexpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/3leaps/gcpal/pkg/gcp"
)

type fakeAPI struct {
	mu     sync.Mutex
	lakes  map[string]*dataplexpb.Lake
	zones  map[string]*dataplexpb.Zone
	assets map[string]*dataplexpb.Asset
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		lakes:  map[string]*dataplexpb.Lake{},
		zones:  map[string]*dataplexpb.Zone{},
		assets: map[string]*dataplexpb.Asset{},
	}
}

var errNotFound = status.Error(codes.NotFound, "not found")

func children[T any](m map[string]T, parent, kind string) []T {
	var out []T
	for name, v := range m {
		rest, ok := strings.CutPrefix(name, parent+"/"+kind+"/")
		if ok && !strings.Contains(rest, "/") {
			out = append(out, v)
		}
	}
	return out
}

func (f *fakeAPI) ListLakes(_ context.Context, parent string) ([]*dataplexpb.Lake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return children(f.lakes, parent, "lakes"), nil
}

func (f *fakeAPI) ListZones(_ context.Context, parent string) ([]*dataplexpb.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lakes[parent]; !ok {
		return nil, errNotFound
	}
	return children(f.zones, parent, "zones"), nil
}

func (f *fakeAPI) ListAssets(_ context.Context, parent string) ([]*dataplexpb.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return children(f.assets, parent, "assets"), nil
}

func (f *fakeAPI) GetLake(_ context.Context, name string) (*dataplexpb.Lake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lakes[name]; ok {
		return l, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) GetZone(_ context.Context, name string) (*dataplexpb.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if z, ok := f.zones[name]; ok {
		return z, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) GetAsset(_ context.Context, name string) (*dataplexpb.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.assets[name]; ok {
		return a, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) CreateLake(_ context.Context, parent, id string, lake *dataplexpb.Lake) (*dataplexpb.Lake, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lake.Name = parent + "/lakes/" + id
	f.lakes[lake.Name] = lake
	return lake, nil
}

func (f *fakeAPI) CreateZone(_ context.Context, parent, id string, zone *dataplexpb.Zone) (*dataplexpb.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lakes[parent]; !ok {
		return nil, status.Error(codes.FailedPrecondition, "lake missing")
	}
	zone.Name = parent + "/zones/" + id
	f.zones[zone.Name] = zone
	return zone, nil
}

func (f *fakeAPI) CreateAsset(_ context.Context, parent, id string, asset *dataplexpb.Asset) (*dataplexpb.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[parent]; !ok {
		return nil, status.Error(codes.FailedPrecondition, "zone missing")
	}
	asset.Name = parent + "/assets/" + id
	f.assets[asset.Name] = asset
	return asset, nil
}

func (f *fakeAPI) DeleteLake(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.lakes[name]; !ok {
		return errNotFound
	}
	delete(f.lakes, name)
	return nil
}

func (f *fakeAPI) DeleteZone(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[name]; !ok {
		return errNotFound
	}
	delete(f.zones, name)
	return nil
}

func (f *fakeAPI) DeleteAsset(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.assets[name]; !ok {
		return errNotFound
	}
	delete(f.assets, name)
	return nil
}

func (f *fakeAPI) Close() error { return nil }

func newTestDataplex(t *testing.T, f *fakeAPI, path string) *Dataplex {
	t.Helper()
	d, err := New(context.Background(), path,
		gcp.WithProject("p"), gcp.WithLocation("europe-west2"), gcp.WithInjectedClient(apiKind, f))
	require.NoError(t, err)
	return d
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		path    string
		want    Path
		level   Level
		wantErr bool
	}{
		{path: "", level: LevelProject},
		{path: "lake", want: Path{Lake: "lake"}, level: LevelLake},
		{path: "lake/zone/", want: Path{Lake: "lake", Zone: "zone"}, level: LevelZone},
		{path: "lake/zone/asset", want: Path{Lake: "lake", Zone: "zone", Asset: "asset"}, level: LevelAsset},
		{path: "a/b/c/d", wantErr: true},
		{path: "a//c", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := ParsePath(tt.path)
			if tt.wantErr {
				assert.True(t, gcp.IsInvalidPath(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.level, got.Level())
		})
	}
}

func TestResourceNames(t *testing.T) {
	d := newTestDataplex(t, newFakeAPI(), "l/z/a")
	assert.Equal(t, "projects/p/locations/europe-west2/lakes/l/zones/z/assets/a", d.FullName())
	assert.Equal(t, "projects/p/locations/europe-west2/lakes/l/zones/z", d.parent())
	assert.Equal(t, "Dataplex(l/z/a)", d.String())
}

func TestAssetResource(t *testing.T) {
	name, typ, err := AssetResource("p", AssetStorage, "bucket")
	require.NoError(t, err)
	assert.Equal(t, "projects/p/buckets/bucket", name)
	assert.Equal(t, dataplexpb.Asset_ResourceSpec_STORAGE_BUCKET, typ)

	name, typ, err = AssetResource("p", AssetBigQuery, "projects/q/datasets/d")
	require.NoError(t, err)
	assert.Equal(t, "projects/q/datasets/d", name)
	assert.Equal(t, dataplexpb.Asset_ResourceSpec_BIGQUERY_DATASET, typ)

	_, _, err = AssetResource("p", "lake", "x")
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)
	_, _, err = AssetResource("p", AssetStorage, "")
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)
}

func TestDataplex_CreateWithParents(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	d := newTestDataplex(t, f, "lake/zone/asset")

	res, err := d.Create(ctx, CreateOptions{
		Metadata:     Metadata{Description: "raw events"},
		ZoneType:     ZoneCurated,
		LocationType: MultiRegion,
		AssetType:    AssetBigQuery,
		AssetSource:  "events",
	})
	require.NoError(t, err)
	asset, ok := res.(*dataplexpb.Asset)
	require.True(t, ok)
	assert.Equal(t, "projects/p/datasets/events", asset.GetResourceSpec().GetName())
	assert.Equal(t, "raw events", asset.GetDescription())

	zone := f.zones["projects/p/locations/europe-west2/lakes/lake/zones/zone"]
	require.NotNil(t, zone)
	assert.Equal(t, dataplexpb.Zone_CURATED, zone.GetType())
	assert.Equal(t, dataplexpb.Zone_ResourceSpec_MULTI_REGION, zone.GetResourceSpec().GetLocationType())
	assert.Empty(t, zone.GetDescription(), "parents are created without the child's metadata")
	assert.Len(t, f.lakes, 1)

	// Existing parents are left alone.
	_, err = newTestDataplex(t, f, "lake/zone/other").Create(ctx, CreateOptions{AssetType: AssetStorage, AssetSource: "b"})
	require.NoError(t, err)
	assert.Len(t, f.zones, 1)
	assert.Len(t, f.assets, 2)
}

func TestDataplex_CreateZoneValidation(t *testing.T) {
	d := newTestDataplex(t, newFakeAPI(), "lake/zone")
	_, err := d.CreateZone(context.Background(), ZoneOptions{Type: "cold"})
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)

	_, err = newTestDataplex(t, newFakeAPI(), "").Create(context.Background(), CreateOptions{})
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestDataplex_LsExistsDelete(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	for _, p := range []string{"lake/z2/a", "lake/z1/b", "other"} {
		_, err := newTestDataplex(t, f, p).Create(ctx, CreateOptions{AssetType: AssetStorage, AssetSource: "bkt"})
		require.NoError(t, err)
	}

	tests := []struct {
		path     string
		fullName bool
		want     []string
	}{
		{path: "", want: []string{"lake", "other"}},
		{path: "lake", want: []string{"lake/z1", "lake/z2"}},
		{path: "lake/z1", want: []string{"lake/z1/b"}},
		{path: "lake/z1", fullName: true, want: []string{"projects/p/locations/europe-west2/lakes/lake/zones/z1/assets/b"}},
	}
	for _, tt := range tests {
		got, err := newTestDataplex(t, f, tt.path).Ls(ctx, tt.fullName)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.path)
	}

	_, err := newTestDataplex(t, f, "lake/z1/b").Ls(ctx, false)
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)

	asset := newTestDataplex(t, f, "lake/z1/b")
	ok, err := asset.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, asset.Delete(ctx, gcp.ErrorsRaise))
	ok, err = asset.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, gcp.IsNotFound(asset.Delete(ctx, gcp.ErrorsRaise)))
	assert.NoError(t, asset.Delete(ctx, gcp.ErrorsIgnore))
	assert.True(t, gcp.IsInvalidPath(newTestDataplex(t, f, "").Delete(ctx, gcp.ErrorsRaise)))
}
