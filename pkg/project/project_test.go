package project

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/3leaps/gcpal/pkg/gcp"
)

type fakeAPI struct {
	mu       sync.Mutex
	projects map[string]*resourcemanagerpb.Project
	next     int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{projects: map[string]*resourcemanagerpb.Project{}, next: 100}
}

func (f *fakeAPI) byID(id string) (*resourcemanagerpb.Project, bool) {
	for _, p := range f.projects {
		if p.GetProjectId() == id {
			return p, true
		}
	}
	return nil, false
}

func (f *fakeAPI) SearchProjects(context.Context, string) ([]*resourcemanagerpb.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*resourcemanagerpb.Project
	for _, p := range f.projects {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeAPI) GetProject(_ context.Context, name string) (*resourcemanagerpb.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.byID(gcp.ShortName(name)); ok {
		return p, nil
	}
	return nil, status.Error(codes.PermissionDenied, "caller does not have permission")
}

func (f *fakeAPI) CreateProject(_ context.Context, p *resourcemanagerpb.Project) (*resourcemanagerpb.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID(p.GetProjectId()); ok {
		return nil, status.Error(codes.AlreadyExists, "exists")
	}
	f.next++
	p.Name = "projects/" + strconv.Itoa(f.next)
	p.State = resourcemanagerpb.Project_ACTIVE
	f.projects[p.Name] = p
	return p, nil
}

func (f *fakeAPI) setState(name string, state resourcemanagerpb.Project_State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID(gcp.ShortName(name))
	if !ok {
		return status.Error(codes.NotFound, "no project")
	}
	p.State = state
	return nil
}

func (f *fakeAPI) DeleteProject(_ context.Context, name string) error {
	return f.setState(name, resourcemanagerpb.Project_DELETE_REQUESTED)
}

func (f *fakeAPI) UndeleteProject(_ context.Context, name string) error {
	return f.setState(name, resourcemanagerpb.Project_ACTIVE)
}

func (f *fakeAPI) Close() error { return nil }

func newTestProject(t *testing.T, f *fakeAPI, id string) *Project {
	t.Helper()
	p, err := New(context.Background(), id, gcp.WithInjectedClient(apiKind, f))
	require.NoError(t, err)
	return p
}

func TestProject_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	p := newTestProject(t, f, "projects/alpha")
	assert.Equal(t, "alpha", p.ID())

	ok, err := p.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "permission denied reads as absent")

	_, err = p.Create(ctx, "folders/42")
	require.NoError(t, err)
	num, err := p.Number(ctx)
	require.NoError(t, err)
	assert.Equal(t, "101", num)

	_, err = p.Create(ctx, "")
	assert.True(t, gcp.IsAlreadyExists(err))
	_, err = newTestProject(t, f, "beta").Create(ctx, "billing/1")
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)

	_, err = newTestProject(t, f, "beta").Create(ctx, "")
	require.NoError(t, err)

	ids, err := p.Ls(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)

	require.NoError(t, p.Delete(ctx, gcp.ErrorsRaise))
	ids, err = p.Ls(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, ids)
	ids, err = p.Ls(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, ids)

	require.NoError(t, p.Undelete(ctx))
	pr, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, resourcemanagerpb.Project_ACTIVE, pr.GetState())

	missing := newTestProject(t, f, "gamma")
	assert.True(t, gcp.IsNotFound(missing.Delete(ctx, gcp.ErrorsRaise)))
	assert.NoError(t, missing.Delete(ctx, gcp.ErrorsIgnore))
}
