package artifactregistry

import (
	"context"
	"errors"

	artifactregistry "cloud.google.com/go/artifactregistry/apiv1"
	"cloud.google.com/go/artifactregistry/apiv1/artifactregistrypb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the Artifact Registry surface the wrapper needs. Long-running
// deletes and creates are waited on.
type api interface {
	ListRepositories(ctx context.Context, parent string) ([]*artifactregistrypb.Repository, error)
	ListPackages(ctx context.Context, parent string) ([]*artifactregistrypb.Package, error)
	ListVersions(ctx context.Context, parent string) ([]*artifactregistrypb.Version, error)
	ListTags(ctx context.Context, parent string) ([]*artifactregistrypb.Tag, error)
	GetRepository(ctx context.Context, name string) (*artifactregistrypb.Repository, error)
	GetPackage(ctx context.Context, name string) (*artifactregistrypb.Package, error)
	GetVersion(ctx context.Context, name string) (*artifactregistrypb.Version, error)
	GetTag(ctx context.Context, name string) (*artifactregistrypb.Tag, error)
	CreateRepository(ctx context.Context, parent, id string, repo *artifactregistrypb.Repository) (*artifactregistrypb.Repository, error)
	CreateTag(ctx context.Context, parent, id string, tag *artifactregistrypb.Tag) (*artifactregistrypb.Tag, error)
	DeleteRepository(ctx context.Context, name string) error
	DeletePackage(ctx context.Context, name string) error
	DeleteVersion(ctx context.Context, name string) error
	DeleteTag(ctx context.Context, name string) error
	Close() error
}

type sdkAPI struct {
	client *artifactregistry.Client
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	c, err := artifactregistry.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func drain[T any](next func() (T, error)) ([]T, error) {
	var out []T
	for {
		v, err := next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (a *sdkAPI) ListRepositories(ctx context.Context, parent string) ([]*artifactregistrypb.Repository, error) {
	return drain(a.client.ListRepositories(ctx, &artifactregistrypb.ListRepositoriesRequest{Parent: parent}).Next)
}

func (a *sdkAPI) ListPackages(ctx context.Context, parent string) ([]*artifactregistrypb.Package, error) {
	return drain(a.client.ListPackages(ctx, &artifactregistrypb.ListPackagesRequest{Parent: parent}).Next)
}

func (a *sdkAPI) ListVersions(ctx context.Context, parent string) ([]*artifactregistrypb.Version, error) {
	return drain(a.client.ListVersions(ctx, &artifactregistrypb.ListVersionsRequest{Parent: parent}).Next)
}

func (a *sdkAPI) ListTags(ctx context.Context, parent string) ([]*artifactregistrypb.Tag, error) {
	return drain(a.client.ListTags(ctx, &artifactregistrypb.ListTagsRequest{Parent: parent}).Next)
}

func (a *sdkAPI) GetRepository(ctx context.Context, name string) (*artifactregistrypb.Repository, error) {
	return a.client.GetRepository(ctx, &artifactregistrypb.GetRepositoryRequest{Name: name})
}

func (a *sdkAPI) GetPackage(ctx context.Context, name string) (*artifactregistrypb.Package, error) {
	return a.client.GetPackage(ctx, &artifactregistrypb.GetPackageRequest{Name: name})
}

func (a *sdkAPI) GetVersion(ctx context.Context, name string) (*artifactregistrypb.Version, error) {
	return a.client.GetVersion(ctx, &artifactregistrypb.GetVersionRequest{Name: name})
}

func (a *sdkAPI) GetTag(ctx context.Context, name string) (*artifactregistrypb.Tag, error) {
	return a.client.GetTag(ctx, &artifactregistrypb.GetTagRequest{Name: name})
}

func (a *sdkAPI) CreateRepository(ctx context.Context, parent, id string, repo *artifactregistrypb.Repository) (*artifactregistrypb.Repository, error) {
	op, err := a.client.CreateRepository(ctx, &artifactregistrypb.CreateRepositoryRequest{
		Parent:       parent,
		RepositoryId: id,
		Repository:   repo,
	})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) CreateTag(ctx context.Context, parent, id string, tag *artifactregistrypb.Tag) (*artifactregistrypb.Tag, error) {
	return a.client.CreateTag(ctx, &artifactregistrypb.CreateTagRequest{Parent: parent, TagId: id, Tag: tag})
}

func (a *sdkAPI) DeleteRepository(ctx context.Context, name string) error {
	op, err := a.client.DeleteRepository(ctx, &artifactregistrypb.DeleteRepositoryRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeletePackage(ctx context.Context, name string) error {
	op, err := a.client.DeletePackage(ctx, &artifactregistrypb.DeletePackageRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteVersion(ctx context.Context, name string) error {
	op, err := a.client.DeleteVersion(ctx, &artifactregistrypb.DeleteVersionRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteTag(ctx context.Context, name string) error {
	return a.client.DeleteTag(ctx, &artifactregistrypb.DeleteTagRequest{Name: name})
}
