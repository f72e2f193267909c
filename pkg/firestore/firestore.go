// Package firestore addresses Firestore documents and collections with
// slash-separated paths that alternate collection and document IDs.
package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/schema"
)

// Service is the name used in errors, logs and metrics.
const Service = "firestore"

// Scheme is the optional path prefix.
const Scheme = "firestore://"

const (
	apiKind          = "firestore"
	databaseOverride = "firestore.database"
)

// Level is the kind of resource a path points at.
type Level int

const (
	LevelProject Level = iota
	LevelCollection
	LevelDocument
)

func (l Level) String() string {
	switch l {
	case LevelProject:
		return "project"
	case LevelCollection:
		return "collection"
	case LevelDocument:
		return "document"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// WithDatabase selects a named database instead of "(default)".
func WithDatabase(name string) gcp.Option {
	return gcp.WithOverride(databaseOverride, name)
}

// ParsePath splits path into its segments and reports the level. An odd
// number of segments names a collection, an even number a document.
func ParsePath(path string) ([]string, Level, error) {
	p := strings.TrimPrefix(strings.TrimSpace(path), Scheme)
	if strings.Contains(p, "//") {
		return nil, 0, fmt.Errorf("%w: empty segment in %q", gcp.ErrInvalidPath, path)
	}
	segs := gcp.SplitPath(p, "/")
	switch {
	case len(segs) == 0:
		return nil, LevelProject, nil
	case len(segs)%2 == 1:
		return segs, LevelCollection, nil
	}
	return segs, LevelDocument, nil
}

// Firestore is a handle on a collection or document path.
type Firestore struct {
	segs  []string
	level Level

	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New parses path and resolves the client.
func New(ctx context.Context, path string, opts ...gcp.Option) (*Firestore, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	segs, level, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	database := s.Override(databaseOverride)
	a, err := gcp.Client[api](ctx, s, clientKind(database), func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.Project, database, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", path, err)
	}
	return &Firestore{
		segs:     segs,
		level:    level,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Path returns the slash-joined path.
func (f *Firestore) Path() string { return strings.Join(f.segs, "/") }

// ID returns the last segment, or "" at project level.
func (f *Firestore) ID() string {
	if len(f.segs) == 0 {
		return ""
	}
	return f.segs[len(f.segs)-1]
}

// Level returns the resource level.
func (f *Firestore) Level() Level { return f.level }

func (f *Firestore) String() string { return "Firestore(" + f.Path() + ")" }

func (f *Firestore) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, f.Path(), err)
}

func (f *Firestore) requireRef(op string) error {
	if f.level == LevelProject {
		return f.wrap(op, fmt.Errorf("%w: a collection or document path is required", gcp.ErrInvalidPath))
	}
	return nil
}

// Ls lists root collections, the document IDs of a collection, or the
// subcollections of a document.
func (f *Firestore) Ls(ctx context.Context) (out []string, err error) {
	defer f.settings.Observe(Service, "Ls", time.Now(), &err)

	switch f.level {
	case LevelProject:
		out, err = f.api.RootCollections(ctx)
	case LevelCollection:
		out, err = f.api.DocumentIDs(ctx, f.Path())
	default:
		out, err = f.api.SubCollections(ctx, f.Path())
	}
	if err != nil {
		return nil, f.wrap("Ls", err)
	}
	sort.Strings(out)
	return out, nil
}

// Exists reports whether the document exists, or whether the collection
// holds at least one document.
func (f *Firestore) Exists(ctx context.Context) (ok bool, err error) {
	defer f.settings.Observe(Service, "Exists", time.Now(), &err)

	switch f.level {
	case LevelProject:
		return true, nil
	case LevelCollection:
		ids, err := f.api.DocumentIDs(ctx, f.Path())
		if err != nil {
			return false, f.wrap("Exists", err)
		}
		return len(ids) > 0, nil
	}
	_, err = f.api.GetDoc(ctx, f.Path())
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(gcp.Classify(err)) {
		return false, nil
	}
	return false, f.wrap("Exists", err)
}

// Envelope keys used when a non-map value is stored in a document.
const (
	envelopeData     = "data"
	envelopeMetadata = "metadata"
	metaDtypes       = "dtypes"
	metaObjectType   = "object_type"
)

// ReadOptions controls Read.
type ReadOptions struct {
	// AllowEmpty returns an empty map for a missing document instead of
	// ErrNotFound.
	AllowEmpty bool

	// Casts are enforced on each document map.
	Casts map[string][]schema.Cast

	// Mode decides what a failed cast does.
	Mode gcp.ErrorMode
}

// Read returns a document's value, or every document of a collection keyed
// by ID. Documents written from non-map values are unwrapped from their
// {data, metadata} envelope and the stored dtypes are enforced.
func (f *Firestore) Read(ctx context.Context, opts ReadOptions) (out any, err error) {
	defer f.settings.Observe(Service, "Read", time.Now(), &err)

	if err := f.requireRef("Read"); err != nil {
		return nil, err
	}
	if f.level == LevelCollection {
		out, err = f.readCollection(ctx, opts)
	} else {
		out, err = f.readDocument(ctx, f.Path(), opts)
	}
	if err != nil {
		return nil, err
	}
	f.logger.Info("Firestore - Read", zap.String("path", f.Path()))
	return out, nil
}

func (f *Firestore) readDocument(ctx context.Context, doc string, opts ReadOptions) (any, error) {
	data, err := f.api.GetDoc(ctx, doc)
	if err != nil {
		if opts.AllowEmpty && gcp.IsNotFound(gcp.Classify(err)) {
			return map[string]any{}, nil
		}
		return nil, gcp.Wrap(Service, "Read", doc, err)
	}
	if data == nil {
		data = map[string]any{}
	}

	var value any = data
	if inner, meta, ok := unwrapEnvelope(data); ok {
		value = inner
		if dtypes, ok := meta[metaDtypes].(map[string]any); ok {
			value, err = applyDtypes(value, dtypes, opts.Mode)
			if err != nil {
				return nil, gcp.Wrap(Service, "Read", doc, err)
			}
		}
	}
	if m, ok := value.(map[string]any); ok && len(opts.Casts) > 0 {
		value, err = schema.Enforce(m, opts.Casts, opts.Mode)
		if err != nil {
			return nil, gcp.Wrap(Service, "Read", doc, err)
		}
	}
	return value, nil
}

func (f *Firestore) readCollection(ctx context.Context, opts ReadOptions) (map[string]any, error) {
	ids, err := f.api.DocumentIDs(ctx, f.Path())
	if err != nil {
		return nil, f.wrap("Read", err)
	}

	var mu sync.Mutex
	out := make(map[string]any, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.settings.Workers)
	for _, id := range ids {
		g.Go(func() error {
			v, err := f.readDocument(ctx, f.Path()+"/"+id, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// unwrapEnvelope recognises documents whose keys are exactly {data} or
// {data, metadata}.
func unwrapEnvelope(doc map[string]any) (any, map[string]any, bool) {
	data, ok := doc[envelopeData]
	if !ok {
		return nil, nil, false
	}
	switch len(doc) {
	case 1:
		return data, map[string]any{}, true
	case 2:
		meta, ok := doc[envelopeMetadata].(map[string]any)
		if !ok {
			if doc[envelopeMetadata] != nil {
				return nil, nil, false
			}
			meta = map[string]any{}
		}
		return data, meta, true
	}
	return nil, nil, false
}

// applyDtypes casts the columns named in dtypes. Column-oriented data
// ({col: {index: value}} or {col: [values]}) has every cell cast; a list of
// row maps is enforced row by row.
func applyDtypes(data any, dtypes map[string]any, mode gcp.ErrorMode) (any, error) {
	casts := make(map[string][]schema.Cast, len(dtypes))
	for col, d := range dtypes {
		name, ok := d.(string)
		if !ok {
			continue
		}
		c, err := schema.CastFor(name)
		if err != nil {
			// Unknown dtypes (categories, intervals) are left as stored.
			continue
		}
		casts[col] = []schema.Cast{c}
	}

	switch v := data.(type) {
	case []any:
		out := make([]any, len(v))
		for i, row := range v {
			m, ok := row.(map[string]any)
			if !ok {
				out[i] = row
				continue
			}
			r, err := schema.Enforce(m, casts, mode)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for col, val := range v {
			list, ok := casts[col]
			if !ok {
				out[col] = val
				continue
			}
			cast, err := castColumn(val, list, mode)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			out[col] = cast
		}
		return out, nil
	}
	return data, nil
}

func castColumn(val any, casts []schema.Cast, mode gcp.ErrorMode) (any, error) {
	one := func(v any) (any, error) {
		r, err := schema.Enforce(map[string]any{"v": v}, map[string][]schema.Cast{"v": casts}, mode)
		if err != nil {
			return nil, err
		}
		return r["v"], nil
	}
	switch cells := val.(type) {
	case map[string]any:
		out := make(map[string]any, len(cells))
		for k, c := range cells {
			r, err := one(c)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(cells))
		for i, c := range cells {
			r, err := one(c)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return one(val)
}

// WriteOptions controls Write.
type WriteOptions struct {
	// Merge merges fields into an existing document instead of replacing it.
	Merge bool

	// Dtypes is stored in the envelope of non-map values and enforced when
	// they are read back.
	Dtypes map[string]string
}

// Write stores data in the document, or adds it as a new document when the
// path is a collection. It returns the document ID.
//
// Maps are stored as the document itself. Any other value is normalised
// through JSON and stored under "data" with a "metadata" map describing it.
func (f *Firestore) Write(ctx context.Context, data any, opts WriteOptions) (id string, err error) {
	defer f.settings.Observe(Service, "Write", time.Now(), &err)

	if err := f.requireRef("Write"); err != nil {
		return "", err
	}
	doc, err := documentValue(data, opts.Dtypes)
	if err != nil {
		return "", f.wrap("Write", err)
	}
	if f.level == LevelCollection {
		id, err = f.api.AddDoc(ctx, f.Path(), doc)
		if err != nil {
			return "", f.wrap("Write", err)
		}
	} else {
		if err := f.api.SetDoc(ctx, f.Path(), doc, opts.Merge); err != nil {
			return "", f.wrap("Write", err)
		}
		id = f.ID()
	}
	f.logger.Info("Firestore - Written", zap.String("path", f.Path()), zap.String("id", id))
	return id, nil
}

func documentValue(data any, dtypes map[string]string) (map[string]any, error) {
	if m, ok := data.(map[string]any); ok && len(dtypes) == 0 {
		return m, nil
	}
	if s, ok := data.(string); ok {
		var decoded any
		if json.Unmarshal([]byte(s), &decoded) == nil {
			data = decoded
		}
	}
	plain, err := jsonValue(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %T is not JSON-encodable: %w", gcp.ErrInvalidArgument, data, err)
	}
	meta := map[string]any{metaObjectType: fmt.Sprintf("%T", data)}
	if len(dtypes) > 0 {
		d := make(map[string]any, len(dtypes))
		for k, v := range dtypes {
			d[k] = v
		}
		meta[metaDtypes] = d
	}
	return map[string]any{envelopeData: plain, envelopeMetadata: meta}, nil
}

func jsonValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create makes an empty document, or adds an empty document to the
// collection.
func (f *Firestore) Create(ctx context.Context) (err error) {
	defer f.settings.Observe(Service, "Create", time.Now(), &err)

	if err := f.requireRef("Create"); err != nil {
		return err
	}
	if f.level == LevelCollection {
		_, err = f.api.AddDoc(ctx, f.Path(), map[string]any{})
	} else {
		err = f.api.SetDoc(ctx, f.Path(), map[string]any{}, false)
	}
	if err != nil {
		return f.wrap("Create", err)
	}
	f.logger.Info("Firestore - Created", zap.String("path", f.Path()), zap.Stringer("level", f.level))
	return nil
}

// Delete removes a document with all its subcollections, or every
// document of a collection.
func (f *Firestore) Delete(ctx context.Context) (err error) {
	defer f.settings.Observe(Service, "Delete", time.Now(), &err)

	if err := f.requireRef("Delete"); err != nil {
		return err
	}
	if f.level == LevelCollection {
		err = f.deleteCollection(ctx, f.Path())
	} else {
		err = f.deleteDocument(ctx, f.Path())
	}
	if err != nil {
		return f.wrap("Delete", err)
	}
	f.logger.Info("Firestore - Deleted", zap.String("path", f.Path()), zap.Stringer("level", f.level))
	return nil
}

func (f *Firestore) deleteDocument(ctx context.Context, doc string) error {
	subs, err := f.api.SubCollections(ctx, doc)
	if err != nil {
		return err
	}
	for _, c := range subs {
		if err := f.deleteCollection(ctx, doc+"/"+c); err != nil {
			return err
		}
	}
	return f.api.DeleteDoc(ctx, doc)
}

func (f *Firestore) deleteCollection(ctx context.Context, coll string) error {
	ids, err := f.api.DocumentIDs(ctx, coll)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.settings.Workers)
	for _, id := range ids {
		g.Go(func() error {
			return f.deleteDocument(ctx, coll+"/"+id)
		})
	}
	return g.Wait()
}

// Close releases the client when it is not shared.
func (f *Firestore) Close() error {
	if _, injected := f.settings.Injected[clientKind(f.settings.Override(databaseOverride))]; injected || f.settings.Cacheable() {
		return nil
	}
	return f.api.Close()
}

// clientKind keys clients per database so named databases are cached
// apart from the default one.
func clientKind(database string) string {
	if database == "" {
		return apiKind
	}
	return apiKind + "/" + database
}
