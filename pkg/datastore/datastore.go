// Package datastore addresses Datastore entities with
// "database/namespace/kind/entity" paths.
package datastore

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "datastore"

// KeyField holds an entity's key in fetched rows.
const KeyField = "__key__"

// Default names the default database or namespace in paths.
const Default = "default"

const apiKind = "datastore"

// Level is the kind of resource a path points at.
type Level int

const (
	LevelProject Level = iota
	LevelDatabase
	LevelNamespace
	LevelKind
	LevelEntity
)

func (l Level) String() string {
	return [...]string{"project", "database", "namespace", "kind", "entity"}[l]
}

// Path is a parsed datastore path. Empty trailing parts are unset.
type Path struct {
	Database  string
	Namespace string
	Kind      string
	Entity    string
}

// Level reports the deepest part that is set.
func (p Path) Level() Level {
	switch {
	case p.Entity != "":
		return LevelEntity
	case p.Kind != "":
		return LevelKind
	case p.Namespace != "":
		return LevelNamespace
	case p.Database != "":
		return LevelDatabase
	}
	return LevelProject
}

func (p Path) String() string {
	parts := []string{p.Database, p.Namespace, p.Kind, p.Entity}
	return strings.Join(parts[:p.Level()], "/")
}

// ParsePath splits "database/namespace/kind/entity". Below the database
// level, unset database and namespace parts become Default.
func ParsePath(path string) (Path, error) {
	segs := gcp.SplitPath(strings.TrimPrefix(path, "datastore://"), "/")
	if len(segs) > 4 {
		return Path{}, fmt.Errorf("%w: %q has more than 4 parts", gcp.ErrInvalidPath, path)
	}
	var p Path
	for i, s := range segs {
		switch i {
		case 0:
			p.Database = s
		case 1:
			p.Namespace = s
		case 2:
			p.Kind = s
		case 3:
			p.Entity = s
		}
	}
	return p, nil
}

// sdkName maps the Default alias to the SDK's empty name.
func sdkName(s string) string {
	if s == Default {
		return ""
	}
	return s
}

var digits = regexp.MustCompile(`^[0-9]+$`)

// EntityKey builds the key for an entity segment. All-digit segments are
// numeric IDs.
func EntityKey(namespace, kind, entity string) Key {
	k := Key{Namespace: sdkName(namespace), Kind: kind}
	if digits.MatchString(entity) {
		if id, err := strconv.ParseInt(entity, 10, 64); err == nil {
			k.ID = id
			return k
		}
	}
	k.Name = entity
	return k
}

// Datastore is a handle on a datastore path.
type Datastore struct {
	path     Path
	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New parses path and resolves the client for its database.
func New(ctx context.Context, path string, opts ...gcp.Option) (*Datastore, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	database := sdkName(p.Database)
	a, err := gcp.Client[api](ctx, s, clientKind(database), func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.Project, database, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", path, err)
	}
	return &Datastore{
		path:     p,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

func clientKind(database string) string {
	if database == "" {
		return apiKind
	}
	return apiKind + "/" + database
}

// Path returns the parsed path.
func (d *Datastore) Path() Path { return d.path }

// Level returns the resource level.
func (d *Datastore) Level() Level { return d.path.Level() }

func (d *Datastore) String() string {
	return fmt.Sprintf("Datastore(%s.%s)", d.settings.Project, d.path)
}

func (d *Datastore) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, d.path.String(), err)
}

func (d *Datastore) require(op string, level Level) error {
	if d.path.Level() < level {
		return d.wrap(op, fmt.Errorf("%w: a %s path is required", gcp.ErrInvalidPath, level))
	}
	return nil
}

func (d *Datastore) key() Key {
	return EntityKey(d.path.Namespace, d.path.Kind, d.path.Entity)
}

// QueryOptions controls Query.
type QueryOptions struct {
	// Order lists properties to sort by; a "-" prefix sorts descending.
	Order []string
	Limit int
}

// Query returns the kind's entities whose properties equal filters. Each
// row carries its Key under KeyField.
func (d *Datastore) Query(ctx context.Context, filters map[string]any, opts QueryOptions) (rows []map[string]any, err error) {
	defer d.settings.Observe(Service, "Query", time.Now(), &err)

	if err := d.require("Query", LevelKind); err != nil {
		return nil, err
	}
	keys, rows, err := d.api.Run(ctx, Query{
		Namespace: sdkName(d.path.Namespace),
		Kind:      d.path.Kind,
		Filters:   filters,
		Order:     opts.Order,
		Limit:     opts.Limit,
	})
	if err != nil {
		return nil, d.wrap("Query", err)
	}
	for i := range rows {
		rows[i][KeyField] = keys[i]
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// Fetch returns every entity of the kind.
func (d *Datastore) Fetch(ctx context.Context) ([]map[string]any, error) {
	d.logger.Info("Datastore - Fetching", zap.String("path", d.path.String()))
	return d.Query(ctx, nil, QueryOptions{})
}

// FetchOne returns the entity the path names, or the first entity of the
// kind matching filters. It returns nil when nothing matches.
func (d *Datastore) FetchOne(ctx context.Context, filters map[string]any) (map[string]any, error) {
	if d.path.Level() == LevelEntity {
		k := d.key()
		row, err := d.api.Get(ctx, k)
		if err != nil {
			if gcp.IsNotFound(gcp.Classify(err)) {
				return nil, nil
			}
			return nil, d.wrap("FetchOne", err)
		}
		row[KeyField] = k
		return row, nil
	}
	rows, err := d.Query(ctx, filters, QueryOptions{Limit: 1})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Put stores props under the entity the path names, or under a new
// auto-ID key at kind level. It returns the stored key.
func (d *Datastore) Put(ctx context.Context, props map[string]any) (k Key, err error) {
	defer d.settings.Observe(Service, "Put", time.Now(), &err)

	if err := d.require("Put", LevelKind); err != nil {
		return Key{}, err
	}
	target := Key{Namespace: sdkName(d.path.Namespace), Kind: d.path.Kind}
	if d.path.Level() == LevelEntity {
		target = d.key()
	}
	k, err = d.api.Put(ctx, target, props)
	if err != nil {
		return Key{}, d.wrap("Put", err)
	}
	d.logger.Info("Datastore - Put", zap.String("path", d.path.String()), zap.String("name", k.Name), zap.Int64("id", k.ID))
	return k, nil
}

// Delete removes the entity the path names.
func (d *Datastore) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer d.settings.Observe(Service, "Delete", time.Now(), &err)

	if err := d.require("Delete", LevelEntity); err != nil {
		return err
	}
	if err := d.api.Delete(ctx, d.key()); err != nil {
		return mode.Handle(d.wrap("Delete", err))
	}
	d.logger.Info("Datastore - Deleted", zap.String("path", d.path.String()))
	return nil
}

// Exists reports whether the resource at the path exists. A kind exists
// when it has at least one entity.
func (d *Datastore) Exists(ctx context.Context) (ok bool, err error) {
	defer d.settings.Observe(Service, "Exists", time.Now(), &err)

	switch d.path.Level() {
	case LevelProject:
		return true, nil
	case LevelDatabase:
		if sdkName(d.path.Database) == "" {
			return true, nil
		}
		dbs, err := d.LsDatabases(ctx, false)
		if err != nil {
			return false, err
		}
		return slices.Contains(dbs, d.path.Database), nil
	case LevelNamespace:
		if sdkName(d.path.Namespace) == "" {
			return true, nil
		}
		ns, err := d.LsNamespaces(ctx)
		if err != nil {
			return false, err
		}
		return slices.Contains(ns, d.path.Namespace), nil
	case LevelKind:
		rows, err := d.Query(ctx, nil, QueryOptions{Limit: 1})
		if err != nil {
			return false, err
		}
		return len(rows) > 0, nil
	}
	row, err := d.FetchOne(ctx, nil)
	if err != nil {
		return false, err
	}
	return row != nil, nil
}

// LsKinds lists the kinds in the path's namespace.
func (d *Datastore) LsKinds(ctx context.Context) (out []string, err error) {
	defer d.settings.Observe(Service, "LsKinds", time.Now(), &err)

	out, err = d.api.Kinds(ctx, sdkName(d.path.Namespace))
	if err != nil {
		return nil, d.wrap("LsKinds", err)
	}
	return visible(out), nil
}

// LsNamespaces lists namespaces. The default namespace appears as Default.
func (d *Datastore) LsNamespaces(ctx context.Context) (out []string, err error) {
	defer d.settings.Observe(Service, "LsNamespaces", time.Now(), &err)

	out, err = d.api.Namespaces(ctx)
	if err != nil {
		return nil, d.wrap("LsNamespaces", err)
	}
	for i, n := range out {
		if n == "" {
			out[i] = Default
		}
	}
	sort.Strings(out)
	return out, nil
}

// LsDatabases lists the project's databases as short names, or as full
// resource names when fullPath is set.
func (d *Datastore) LsDatabases(ctx context.Context, fullPath bool) (out []string, err error) {
	defer d.settings.Observe(Service, "LsDatabases", time.Now(), &err)

	out, err = d.api.Databases(ctx, d.settings.Project)
	if err != nil {
		return nil, d.wrap("LsDatabases", err)
	}
	if !fullPath {
		for i, name := range out {
			out[i] = gcp.ShortName(name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Ls lists the children of the path: databases, namespaces, kinds or
// entity key names.
func (d *Datastore) Ls(ctx context.Context) ([]string, error) {
	switch d.path.Level() {
	case LevelProject:
		return d.LsDatabases(ctx, false)
	case LevelDatabase:
		return d.LsNamespaces(ctx)
	case LevelNamespace:
		return d.LsKinds(ctx)
	case LevelKind:
		rows, err := d.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(rows))
		for _, r := range rows {
			k := r[KeyField].(Key)
			if k.Name != "" {
				out = append(out, k.Name)
			} else {
				out = append(out, strconv.FormatInt(k.ID, 10))
			}
		}
		return out, nil
	}
	return nil, d.wrap("Ls", fmt.Errorf("%w: an entity has no children", gcp.ErrInvalidPath))
}

// visible drops Datastore's reserved "__" kinds.
func visible(kinds []string) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !strings.HasPrefix(k, "__") {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Close releases the client when it is not shared.
func (d *Datastore) Close() error {
	if _, injected := d.settings.Injected[clientKind(sdkName(d.path.Database))]; injected || d.settings.Cacheable() {
		return nil
	}
	return d.api.Close()
}
