package project

import (
	"context"
	"errors"

	resourcemanager "cloud.google.com/go/resourcemanager/apiv3"
	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the Resource Manager projects surface. Mutations wait for their
// long-running operation.
type api interface {
	SearchProjects(ctx context.Context, query string) ([]*resourcemanagerpb.Project, error)
	GetProject(ctx context.Context, name string) (*resourcemanagerpb.Project, error)
	CreateProject(ctx context.Context, p *resourcemanagerpb.Project) (*resourcemanagerpb.Project, error)
	DeleteProject(ctx context.Context, name string) error
	UndeleteProject(ctx context.Context, name string) error
	Close() error
}

type sdkAPI struct {
	client *resourcemanager.ProjectsClient
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	c, err := resourcemanager.NewProjectsClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func (a *sdkAPI) SearchProjects(ctx context.Context, query string) ([]*resourcemanagerpb.Project, error) {
	it := a.client.SearchProjects(ctx, &resourcemanagerpb.SearchProjectsRequest{Query: query})
	var out []*resourcemanagerpb.Project
	for {
		p, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
}

func (a *sdkAPI) GetProject(ctx context.Context, name string) (*resourcemanagerpb.Project, error) {
	return a.client.GetProject(ctx, &resourcemanagerpb.GetProjectRequest{Name: name})
}

func (a *sdkAPI) CreateProject(ctx context.Context, p *resourcemanagerpb.Project) (*resourcemanagerpb.Project, error) {
	op, err := a.client.CreateProject(ctx, &resourcemanagerpb.CreateProjectRequest{Project: p})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteProject(ctx context.Context, name string) error {
	op, err := a.client.DeleteProject(ctx, &resourcemanagerpb.DeleteProjectRequest{Name: name})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}

func (a *sdkAPI) UndeleteProject(ctx context.Context, name string) error {
	op, err := a.client.UndeleteProject(ctx, &resourcemanagerpb.UndeleteProjectRequest{Name: name})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}
