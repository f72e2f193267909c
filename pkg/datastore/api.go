package datastore

import (
	"context"
	"sync"

	"cloud.google.com/go/datastore"
	admin "cloud.google.com/go/firestore/apiv1/admin"
	"cloud.google.com/go/firestore/apiv1/admin/adminpb"
	"google.golang.org/api/option"
)

// Key addresses one entity. Exactly one of Name and ID is set.
type Key struct {
	Namespace string
	Kind      string
	Name      string
	ID        int64
}

// Query is a kind query with equality filters.
type Query struct {
	Namespace string
	Kind      string
	Filters   map[string]any
	Order     []string
	Limit     int
}

// api is the slice of the Datastore client the wrapper uses.
type api interface {
	Run(ctx context.Context, q Query) ([]Key, []map[string]any, error)
	Get(ctx context.Context, k Key) (map[string]any, error)
	Put(ctx context.Context, k Key, props map[string]any) (Key, error)
	Delete(ctx context.Context, k Key) error
	Kinds(ctx context.Context, namespace string) ([]string, error)
	Namespaces(ctx context.Context) ([]string, error)
	Databases(ctx context.Context, project string) ([]string, error)
	Close() error
}

type sdkAPI struct {
	client *datastore.Client
	opts   []option.ClientOption

	adminOnce sync.Once
	admin     *admin.FirestoreAdminClient
	adminErr  error
}

func newSDKAPI(ctx context.Context, project, database string, opts []option.ClientOption) (api, error) {
	c, err := datastore.NewClientWithDatabase(ctx, project, database, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c, opts: opts}, nil
}

func (a *sdkAPI) Close() error {
	err := a.client.Close()
	if a.admin != nil {
		if aerr := a.admin.Close(); err == nil {
			err = aerr
		}
	}
	return err
}

func (k Key) sdk() *datastore.Key {
	var key *datastore.Key
	if k.Name != "" {
		key = datastore.NameKey(k.Kind, k.Name, nil)
	} else if k.ID != 0 {
		key = datastore.IDKey(k.Kind, k.ID, nil)
	} else {
		key = datastore.IncompleteKey(k.Kind, nil)
	}
	key.Namespace = k.Namespace
	return key
}

func fromSDKKey(k *datastore.Key) Key {
	return Key{Namespace: k.Namespace, Kind: k.Kind, Name: k.Name, ID: k.ID}
}

func toProps(m map[string]any) datastore.PropertyList {
	props := make(datastore.PropertyList, 0, len(m))
	for name, v := range m {
		if name == KeyField {
			continue
		}
		props = append(props, datastore.Property{Name: name, Value: v})
	}
	return props
}

func fromProps(props datastore.PropertyList) map[string]any {
	out := make(map[string]any, len(props))
	for _, p := range props {
		out[p.Name] = p.Value
	}
	return out
}

func (a *sdkAPI) Run(ctx context.Context, q Query) ([]Key, []map[string]any, error) {
	dq := datastore.NewQuery(q.Kind).Namespace(q.Namespace)
	for field, v := range q.Filters {
		dq = dq.FilterField(field, "=", v)
	}
	for _, o := range q.Order {
		dq = dq.Order(o)
	}
	if q.Limit > 0 {
		dq = dq.Limit(q.Limit)
	}
	var lists []datastore.PropertyList
	keys, err := a.client.GetAll(ctx, dq, &lists)
	if err != nil {
		return nil, nil, err
	}
	outKeys := make([]Key, len(keys))
	outRows := make([]map[string]any, len(keys))
	for i := range keys {
		outKeys[i] = fromSDKKey(keys[i])
		outRows[i] = fromProps(lists[i])
	}
	return outKeys, outRows, nil
}

func (a *sdkAPI) Get(ctx context.Context, k Key) (map[string]any, error) {
	var props datastore.PropertyList
	if err := a.client.Get(ctx, k.sdk(), &props); err != nil {
		return nil, err
	}
	return fromProps(props), nil
}

func (a *sdkAPI) Put(ctx context.Context, k Key, m map[string]any) (Key, error) {
	props := toProps(m)
	key, err := a.client.Put(ctx, k.sdk(), &props)
	if err != nil {
		return Key{}, err
	}
	return fromSDKKey(key), nil
}

func (a *sdkAPI) Delete(ctx context.Context, k Key) error {
	return a.client.Delete(ctx, k.sdk())
}

func (a *sdkAPI) keyNames(ctx context.Context, q *datastore.Query) ([]string, error) {
	keys, err := a.client.GetAll(ctx, q.KeysOnly(), nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Name)
	}
	return out, nil
}

func (a *sdkAPI) Kinds(ctx context.Context, namespace string) ([]string, error) {
	return a.keyNames(ctx, datastore.NewQuery("__kind__").Namespace(namespace))
}

func (a *sdkAPI) Namespaces(ctx context.Context) ([]string, error) {
	return a.keyNames(ctx, datastore.NewQuery("__namespace__"))
}

func (a *sdkAPI) Databases(ctx context.Context, project string) ([]string, error) {
	a.adminOnce.Do(func() {
		a.admin, a.adminErr = admin.NewFirestoreAdminClient(ctx, a.opts...)
	})
	if a.adminErr != nil {
		return nil, a.adminErr
	}
	resp, err := a.admin.ListDatabases(ctx, &adminpb.ListDatabasesRequest{Parent: "projects/" + project})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.GetDatabases()))
	for _, db := range resp.GetDatabases() {
		out = append(out, db.GetName())
	}
	return out, nil
}
