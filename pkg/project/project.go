// Package project reads and manages Resource Manager projects.
package project

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/resourcemanager/apiv3/resourcemanagerpb"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "project"

const apiKind = "resourcemanager"

// Project is a handle on one project ID.
type Project struct {
	id       string
	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New returns a handle on projectID, or on the default project when it is
// empty. "projects/x" is accepted.
func New(ctx context.Context, projectID string, opts ...gcp.Option) (*Project, error) {
	projectID = strings.TrimPrefix(projectID, "projects/")
	if projectID != "" {
		opts = append(opts, gcp.WithProject(projectID))
	}
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", s.Project, err)
	}
	return &Project{
		id:       s.Project,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// ID returns the project ID.
func (p *Project) ID() string { return p.id }

// Name returns "projects/{id}".
func (p *Project) Name() string { return gcp.ProjectPath(p.id) }

func (p *Project) String() string { return "Project(" + p.id + ")" }

// Ls lists the IDs of every project the caller can see. With activeOnly,
// projects pending deletion are left out.
func (p *Project) Ls(ctx context.Context, activeOnly bool) (out []string, err error) {
	defer p.settings.Observe(Service, "Ls", time.Now(), &err)

	projects, err := p.api.SearchProjects(ctx, "")
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", "", err)
	}
	for _, pr := range projects {
		if activeOnly && pr.GetState() != resourcemanagerpb.Project_ACTIVE {
			continue
		}
		out = append(out, pr.GetProjectId())
	}
	sort.Strings(out)
	return out, nil
}

// Get returns the project.
func (p *Project) Get(ctx context.Context) (pr *resourcemanagerpb.Project, err error) {
	defer p.settings.Observe(Service, "Get", time.Now(), &err)

	pr, err = p.api.GetProject(ctx, p.Name())
	if err != nil {
		return nil, gcp.Wrap(Service, "Get", p.Name(), err)
	}
	return pr, nil
}

// Exists reports whether the project exists and is visible to the caller.
// Resource Manager answers permission denied for projects that do not
// exist, so both count as absent.
func (p *Project) Exists(ctx context.Context) (bool, error) {
	_, err := p.Get(ctx)
	switch {
	case err == nil:
		return true, nil
	case gcp.IsNotFound(err), gcp.IsAccessDenied(err):
		return false, nil
	}
	return false, err
}

// Number returns the project number, e.g. "123456789012".
func (p *Project) Number(ctx context.Context) (string, error) {
	pr, err := p.Get(ctx)
	if err != nil {
		return "", err
	}
	return gcp.ShortName(pr.GetName()), nil
}

// Create creates the project under parent, "folders/{id}" or
// "organizations/{id}". An empty parent creates a project without one.
func (p *Project) Create(ctx context.Context, parent string) (pr *resourcemanagerpb.Project, err error) {
	defer p.settings.Observe(Service, "Create", time.Now(), &err)

	if parent != "" && !strings.HasPrefix(parent, "folders/") && !strings.HasPrefix(parent, "organizations/") {
		return nil, gcp.Wrap(Service, "Create", p.Name(),
			fmt.Errorf("%w: parent %q must be folders/... or organizations/...", gcp.ErrInvalidArgument, parent))
	}
	pr, err = p.api.CreateProject(ctx, &resourcemanagerpb.Project{ProjectId: p.id, Parent: parent})
	if err != nil {
		return nil, gcp.Wrap(Service, "Create", p.Name(), err)
	}
	p.logger.Info("Project - Created", zap.String("project", p.id))
	return pr, nil
}

// Delete marks the project for deletion. It is removed after 30 days
// unless restored with Undelete.
func (p *Project) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer p.settings.Observe(Service, "Delete", time.Now(), &err)

	if err := p.api.DeleteProject(ctx, p.Name()); err != nil {
		return mode.Handle(gcp.Wrap(Service, "Delete", p.Name(), err))
	}
	p.logger.Info("Project - Deleted", zap.String("project", p.id))
	return nil
}

// Undelete restores a project marked for deletion.
func (p *Project) Undelete(ctx context.Context) (err error) {
	defer p.settings.Observe(Service, "Undelete", time.Now(), &err)

	if err := p.api.UndeleteProject(ctx, p.Name()); err != nil {
		return gcp.Wrap(Service, "Undelete", p.Name(), err)
	}
	p.logger.Info("Project - Restored", zap.String("project", p.id))
	return nil
}

// Close releases the client when it is not shared.
func (p *Project) Close() error {
	if _, injected := p.settings.Injected[apiKind]; injected || p.settings.Cacheable() {
		return nil
	}
	return p.api.Close()
}
