// Package dataplex manages Dataplex lakes, zones and assets addressed as
// "lake/zone/asset".
package dataplex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/dataplex/apiv1/dataplexpb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "dataplex"

const apiKind = "dataplex"

// Level is the kind of resource a path points at.
type Level int

const (
	LevelProject Level = iota
	LevelLake
	LevelZone
	LevelAsset
)

func (l Level) String() string {
	switch l {
	case LevelProject:
		return "project"
	case LevelLake:
		return "lake"
	case LevelZone:
		return "zone"
	case LevelAsset:
		return "asset"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Path identifies a Dataplex resource.
type Path struct {
	Lake  string
	Zone  string
	Asset string
}

// Level reports the deepest component set.
func (p Path) Level() Level {
	switch {
	case p.Asset != "":
		return LevelAsset
	case p.Zone != "":
		return LevelZone
	case p.Lake != "":
		return LevelLake
	}
	return LevelProject
}

func (p Path) String() string {
	return strings.Join(gcp.SplitPath(strings.Join([]string{p.Lake, p.Zone, p.Asset}, "/"), "/"), "/")
}

// ParsePath parses "lake", "lake/zone" or "lake/zone/asset".
func ParsePath(path string) (Path, error) {
	p := strings.TrimSpace(path)
	if strings.Contains(p, "//") {
		return Path{}, fmt.Errorf("%w: empty segment in %q", gcp.ErrInvalidPath, path)
	}
	segs := gcp.SplitPath(p, "/")
	if len(segs) > 3 {
		return Path{}, fmt.Errorf("%w: %q has more than lake/zone/asset", gcp.ErrInvalidPath, path)
	}
	var out Path
	for i, s := range segs {
		switch i {
		case 0:
			out.Lake = s
		case 1:
			out.Zone = s
		case 2:
			out.Asset = s
		}
	}
	return out, nil
}

// Dataplex is a handle on a lake, zone or asset, or on the location when
// the path is empty.
type Dataplex struct {
	path     Path
	project  string
	location string

	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New parses path and resolves the client.
func New(ctx context.Context, path string, opts ...gcp.Option) (*Dataplex, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", path, err)
	}
	return &Dataplex{
		path:     p,
		project:  s.Project,
		location: s.Location,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Path returns the parsed path.
func (d *Dataplex) Path() Path { return d.path }

// Level returns the resource level.
func (d *Dataplex) Level() Level { return d.path.Level() }

func (d *Dataplex) String() string { return "Dataplex(" + d.path.String() + ")" }

// LocationName returns "projects/{project}/locations/{location}".
func (d *Dataplex) LocationName() string { return gcp.LocationPath(d.project, d.location) }

// LakeName returns the lake's resource name.
func (d *Dataplex) LakeName() string { return d.LocationName() + "/lakes/" + d.path.Lake }

// ZoneName returns the zone's resource name.
func (d *Dataplex) ZoneName() string { return d.LakeName() + "/zones/" + d.path.Zone }

// AssetName returns the asset's resource name.
func (d *Dataplex) AssetName() string { return d.ZoneName() + "/assets/" + d.path.Asset }

// FullName returns the resource name for the path's level.
func (d *Dataplex) FullName() string {
	switch d.Level() {
	case LevelLake:
		return d.LakeName()
	case LevelZone:
		return d.ZoneName()
	case LevelAsset:
		return d.AssetName()
	}
	return d.LocationName()
}

// parent returns the resource name a create at this level is issued under.
func (d *Dataplex) parent() string {
	switch d.Level() {
	case LevelZone:
		return d.LakeName()
	case LevelAsset:
		return d.ZoneName()
	}
	return d.LocationName()
}

func (d *Dataplex) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, d.FullName(), err)
}

func (d *Dataplex) at(path Path) *Dataplex {
	c := *d
	c.path = path
	return &c
}

// Ls lists the children of the path: lakes for the location, "lake/zone"
// for a lake and "lake/zone/asset" for a zone. With fullName, resource
// names are returned instead.
func (d *Dataplex) Ls(ctx context.Context, fullName bool) (out []string, err error) {
	defer d.settings.Observe(Service, "Ls", time.Now(), &err)

	var names []string
	prefix := ""
	switch d.Level() {
	case LevelProject:
		lakes, err := d.api.ListLakes(ctx, d.LocationName())
		if err != nil {
			return nil, d.wrap("Ls", err)
		}
		for _, l := range lakes {
			names = append(names, l.GetName())
		}
	case LevelLake:
		zones, err := d.api.ListZones(ctx, d.LakeName())
		if err != nil {
			return nil, d.wrap("Ls", err)
		}
		for _, z := range zones {
			names = append(names, z.GetName())
		}
		prefix = d.path.Lake + "/"
	case LevelZone:
		assets, err := d.api.ListAssets(ctx, d.ZoneName())
		if err != nil {
			return nil, d.wrap("Ls", err)
		}
		for _, a := range assets {
			names = append(names, a.GetName())
		}
		prefix = d.path.Lake + "/" + d.path.Zone + "/"
	default:
		return nil, d.wrap("Ls", fmt.Errorf("%w: cannot list an asset", gcp.ErrInvalidArgument))
	}

	out = make([]string, 0, len(names))
	for _, n := range names {
		if fullName {
			out = append(out, n)
		} else {
			out = append(out, prefix+gcp.ShortName(n))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Get returns the lake, zone or asset as a *dataplexpb.Lake, Zone or Asset.
func (d *Dataplex) Get(ctx context.Context) (res proto.Message, err error) {
	defer d.settings.Observe(Service, "Get", time.Now(), &err)

	switch d.Level() {
	case LevelLake:
		l, err := d.api.GetLake(ctx, d.LakeName())
		if err != nil {
			return nil, d.wrap("Get", err)
		}
		return l, nil
	case LevelZone:
		z, err := d.api.GetZone(ctx, d.ZoneName())
		if err != nil {
			return nil, d.wrap("Get", err)
		}
		return z, nil
	case LevelAsset:
		a, err := d.api.GetAsset(ctx, d.AssetName())
		if err != nil {
			return nil, d.wrap("Get", err)
		}
		return a, nil
	}
	return nil, d.wrap("Get", fmt.Errorf("%w: path names no lake", gcp.ErrInvalidPath))
}

// Exists reports whether the resource exists.
func (d *Dataplex) Exists(ctx context.Context) (bool, error) {
	_, err := d.Get(ctx)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Metadata is the descriptive part shared by lakes, zones and assets.
type Metadata struct {
	DisplayName string
	Description string
	Labels      map[string]string
}

// LakeOptions controls CreateLake.
type LakeOptions struct {
	Metadata

	// MetastoreService is a Dataproc Metastore service resource name.
	MetastoreService string
}

// CreateLake creates the path's lake.
func (d *Dataplex) CreateLake(ctx context.Context, opts LakeOptions) (lake *dataplexpb.Lake, err error) {
	defer d.settings.Observe(Service, "CreateLake", time.Now(), &err)

	if d.path.Lake == "" {
		return nil, d.wrap("CreateLake", fmt.Errorf("%w: path names no lake", gcp.ErrInvalidPath))
	}
	spec := &dataplexpb.Lake{
		DisplayName: opts.DisplayName,
		Description: opts.Description,
		Labels:      opts.Labels,
	}
	if opts.MetastoreService != "" {
		spec.Metastore = &dataplexpb.Lake_Metastore{Service: opts.MetastoreService}
	}
	lake, err = d.api.CreateLake(ctx, d.LocationName(), d.path.Lake, spec)
	if err != nil {
		return nil, gcp.Wrap(Service, "CreateLake", d.LakeName(), err)
	}
	d.logger.Info("Dataplex - Lake created", zap.String("lake", d.path.Lake), zap.String("location", d.location))
	return lake, nil
}

// Zone types.
const (
	ZoneRaw     = "raw"
	ZoneCurated = "curated"
)

// Zone location types.
const (
	SingleRegion = "single-region"
	MultiRegion  = "multi-region"
)

// ZoneOptions controls CreateZone.
type ZoneOptions struct {
	Metadata

	// Type is ZoneRaw (default) or ZoneCurated.
	Type string

	// LocationType is SingleRegion (default) or MultiRegion.
	LocationType string
}

func zoneType(s string) (dataplexpb.Zone_Type, error) {
	switch s {
	case "", ZoneRaw:
		return dataplexpb.Zone_RAW, nil
	case ZoneCurated:
		return dataplexpb.Zone_CURATED, nil
	}
	return 0, fmt.Errorf("%w: zone type %q (want raw|curated)", gcp.ErrInvalidArgument, s)
}

func locationType(s string) (dataplexpb.Zone_ResourceSpec_LocationType, error) {
	switch s {
	case "", SingleRegion:
		return dataplexpb.Zone_ResourceSpec_SINGLE_REGION, nil
	case MultiRegion:
		return dataplexpb.Zone_ResourceSpec_MULTI_REGION, nil
	}
	return 0, fmt.Errorf("%w: location type %q (want single-region|multi-region)", gcp.ErrInvalidArgument, s)
}

// CreateZone creates the path's zone. The lake must exist.
func (d *Dataplex) CreateZone(ctx context.Context, opts ZoneOptions) (zone *dataplexpb.Zone, err error) {
	defer d.settings.Observe(Service, "CreateZone", time.Now(), &err)

	if d.path.Zone == "" {
		return nil, d.wrap("CreateZone", fmt.Errorf("%w: path names no zone", gcp.ErrInvalidPath))
	}
	zt, err := zoneType(opts.Type)
	if err != nil {
		return nil, d.wrap("CreateZone", err)
	}
	lt, err := locationType(opts.LocationType)
	if err != nil {
		return nil, d.wrap("CreateZone", err)
	}
	spec := &dataplexpb.Zone{
		DisplayName:  opts.DisplayName,
		Description:  opts.Description,
		Labels:       opts.Labels,
		Type:         zt,
		ResourceSpec: &dataplexpb.Zone_ResourceSpec{LocationType: lt},
	}
	zone, err = d.api.CreateZone(ctx, d.LakeName(), d.path.Zone, spec)
	if err != nil {
		return nil, gcp.Wrap(Service, "CreateZone", d.ZoneName(), err)
	}
	d.logger.Info("Dataplex - Zone created",
		zap.String("zone", d.path.Zone), zap.String("type", zt.String()), zap.String("location_type", lt.String()))
	return zone, nil
}

// Asset types.
const (
	AssetStorage  = "storage"
	AssetBigQuery = "bigquery"
)

// AssetOptions controls CreateAsset.
type AssetOptions struct {
	Metadata

	// Type is AssetStorage or AssetBigQuery.
	Type string

	// Source is a bucket or dataset name, or a full resource name.
	Source string
}

// AssetResource resolves an asset source to its resource name:
// "projects/p/buckets/b" for storage and "projects/p/datasets/d" for
// BigQuery. Full "projects/..." names pass through.
func AssetResource(project, assetType, source string) (string, dataplexpb.Asset_ResourceSpec_Type, error) {
	var (
		kind string
		typ  dataplexpb.Asset_ResourceSpec_Type
	)
	switch assetType {
	case AssetStorage:
		kind, typ = "buckets", dataplexpb.Asset_ResourceSpec_STORAGE_BUCKET
	case AssetBigQuery:
		kind, typ = "datasets", dataplexpb.Asset_ResourceSpec_BIGQUERY_DATASET
	default:
		return "", 0, fmt.Errorf("%w: asset type %q (want storage|bigquery)", gcp.ErrInvalidArgument, assetType)
	}
	if source == "" {
		return "", 0, fmt.Errorf("%w: asset source is required", gcp.ErrInvalidArgument)
	}
	if strings.HasPrefix(source, "projects/") {
		return source, typ, nil
	}
	return fmt.Sprintf("%s/%s/%s", gcp.ProjectPath(project), kind, source), typ, nil
}

// CreateAsset creates the path's asset. The lake and zone must exist.
func (d *Dataplex) CreateAsset(ctx context.Context, opts AssetOptions) (asset *dataplexpb.Asset, err error) {
	defer d.settings.Observe(Service, "CreateAsset", time.Now(), &err)

	if d.path.Asset == "" {
		return nil, d.wrap("CreateAsset", fmt.Errorf("%w: path names no asset", gcp.ErrInvalidPath))
	}
	name, typ, err := AssetResource(d.project, opts.Type, opts.Source)
	if err != nil {
		return nil, d.wrap("CreateAsset", err)
	}
	spec := &dataplexpb.Asset{
		DisplayName:  opts.DisplayName,
		Description:  opts.Description,
		Labels:       opts.Labels,
		ResourceSpec: &dataplexpb.Asset_ResourceSpec{Name: name, Type: typ},
	}
	asset, err = d.api.CreateAsset(ctx, d.ZoneName(), d.path.Asset, spec)
	if err != nil {
		return nil, gcp.Wrap(Service, "CreateAsset", d.AssetName(), err)
	}
	d.logger.Info("Dataplex - Asset created", zap.String("asset", d.path.Asset), zap.String("source", name))
	return asset, nil
}

// CreateOptions controls Create. Metadata applies to the path's own
// resource only; parents are created bare.
type CreateOptions struct {
	Metadata

	ZoneType         string
	LocationType     string
	AssetType        string
	AssetSource      string
	MetastoreService string
}

// CreateParents creates the lake and zone above the path when missing.
func (d *Dataplex) CreateParents(ctx context.Context, opts CreateOptions) error {
	level := d.Level()
	if level <= LevelLake {
		return nil
	}

	lake := d.at(Path{Lake: d.path.Lake})
	ok, err := lake.Exists(ctx)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Info("Dataplex - Parent lake missing", zap.String("lake", d.path.Lake))
		if _, err := lake.CreateLake(ctx, LakeOptions{MetastoreService: opts.MetastoreService}); err != nil {
			return err
		}
	}
	if level == LevelZone {
		return nil
	}

	zone := d.at(Path{Lake: d.path.Lake, Zone: d.path.Zone})
	if ok, err = zone.Exists(ctx); err != nil {
		return err
	}
	if !ok {
		d.logger.Info("Dataplex - Parent zone missing", zap.String("zone", d.path.Zone))
		if _, err := zone.CreateZone(ctx, ZoneOptions{Type: opts.ZoneType, LocationType: opts.LocationType}); err != nil {
			return err
		}
	}
	return nil
}

// Create creates the path's resource, creating missing parents first.
func (d *Dataplex) Create(ctx context.Context, opts CreateOptions) (proto.Message, error) {
	if d.Level() == LevelProject {
		return nil, d.wrap("Create", fmt.Errorf("%w: path names no lake", gcp.ErrInvalidPath))
	}
	if err := d.CreateParents(ctx, opts); err != nil {
		return nil, err
	}
	switch d.Level() {
	case LevelLake:
		l, err := d.CreateLake(ctx, LakeOptions{Metadata: opts.Metadata, MetastoreService: opts.MetastoreService})
		if err != nil {
			return nil, err
		}
		return l, nil
	case LevelZone:
		z, err := d.CreateZone(ctx, ZoneOptions{Metadata: opts.Metadata, Type: opts.ZoneType, LocationType: opts.LocationType})
		if err != nil {
			return nil, err
		}
		return z, nil
	}
	a, err := d.CreateAsset(ctx, AssetOptions{Metadata: opts.Metadata, Type: opts.AssetType, Source: opts.AssetSource})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Delete deletes the asset, zone or lake the path names. Dataplex refuses
// to delete a lake or zone that still has children.
func (d *Dataplex) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer d.settings.Observe(Service, "Delete", time.Now(), &err)

	switch d.Level() {
	case LevelLake:
		err = d.api.DeleteLake(ctx, d.LakeName())
	case LevelZone:
		err = d.api.DeleteZone(ctx, d.ZoneName())
	case LevelAsset:
		err = d.api.DeleteAsset(ctx, d.AssetName())
	default:
		return d.wrap("Delete", fmt.Errorf("%w: path names no lake", gcp.ErrInvalidPath))
	}
	if err != nil {
		return mode.Handle(d.wrap("Delete", err))
	}
	d.logger.Info("Dataplex - Deleted", zap.String("level", d.Level().String()), zap.String("path", d.path.String()))
	return nil
}

// Close releases the client when it is not shared.
func (d *Dataplex) Close() error {
	if _, injected := d.settings.Injected[apiKind]; injected || d.settings.Cacheable() {
		return nil
	}
	return d.api.Close()
}
