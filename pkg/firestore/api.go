package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the slice of the Firestore client the wrapper uses. Paths are
// slash-joined collection/document paths relative to the database root.
type api interface {
	RootCollections(ctx context.Context) ([]string, error)
	DocumentIDs(ctx context.Context, collection string) ([]string, error)
	SubCollections(ctx context.Context, doc string) ([]string, error)
	GetDoc(ctx context.Context, doc string) (map[string]any, error)
	SetDoc(ctx context.Context, doc string, data map[string]any, merge bool) error
	AddDoc(ctx context.Context, collection string, data map[string]any) (string, error)
	DeleteDoc(ctx context.Context, doc string) error
	Close() error
}

type sdkAPI struct {
	client *firestore.Client
}

func newSDKAPI(ctx context.Context, project, database string, opts []option.ClientOption) (api, error) {
	var (
		c   *firestore.Client
		err error
	)
	if database == "" {
		c, err = firestore.NewClient(ctx, project, opts...)
	} else {
		c, err = firestore.NewClientWithDatabase(ctx, project, database, opts...)
	}
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func collectionIDs(it *firestore.CollectionIterator) ([]string, error) {
	var out []string
	for {
		ref, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ref.ID)
	}
}

func (a *sdkAPI) RootCollections(ctx context.Context) ([]string, error) {
	return collectionIDs(a.client.Collections(ctx))
}

func (a *sdkAPI) DocumentIDs(ctx context.Context, collection string) ([]string, error) {
	it := a.client.Collection(collection).DocumentRefs(ctx)
	var out []string
	for {
		ref, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ref.ID)
	}
}

func (a *sdkAPI) SubCollections(ctx context.Context, doc string) ([]string, error) {
	return collectionIDs(a.client.Doc(doc).Collections(ctx))
}

func (a *sdkAPI) GetDoc(ctx context.Context, doc string) (map[string]any, error) {
	snap, err := a.client.Doc(doc).Get(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Data(), nil
}

func (a *sdkAPI) SetDoc(ctx context.Context, doc string, data map[string]any, merge bool) error {
	var err error
	if merge {
		_, err = a.client.Doc(doc).Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = a.client.Doc(doc).Set(ctx, data)
	}
	return err
}

func (a *sdkAPI) AddDoc(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := a.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

func (a *sdkAPI) DeleteDoc(ctx context.Context, doc string) error {
	_, err := a.client.Doc(doc).Delete(ctx)
	return err
}
