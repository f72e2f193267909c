// Package scheduler manages Cloud Scheduler jobs.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "scheduler"

// DefaultTimeZone is used when CreateOptions.TimeZone is empty.
const DefaultTimeZone = "Etc/UTC"

// DefaultServiceAccountAlias selects the project's default service account.
const DefaultServiceAccountAlias = gcp.DefaultServiceAccountAlias

// Job statuses reported by Status.
const (
	StatusNotRun  = "Has not run yet"
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

const apiKind = "scheduler"

// Scheduler is a handle on one job, or on the location's jobs when no name
// is given.
type Scheduler struct {
	project  string
	location string
	name     string
	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New resolves the client. name is a job ID or a full
// "projects/p/locations/l/jobs/j" resource name.
func New(ctx context.Context, name string, opts ...gcp.Option) (*Scheduler, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	project, location := s.Project, s.Location
	if strings.HasPrefix(name, "projects/") {
		segs := gcp.ResourceSegments(name)
		if segs["jobs"] == "" {
			return nil, fmt.Errorf("%w: %q names no job", gcp.ErrInvalidPath, name)
		}
		project, name = segs["projects"], segs["jobs"]
		if l := segs["locations"]; l != "" {
			location = l
		}
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: job name %q", gcp.ErrInvalidPath, name)
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", name, err)
	}
	return &Scheduler{
		project:  project,
		location: location,
		name:     name,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Name returns the job ID.
func (c *Scheduler) Name() string { return c.name }

// Parent returns "projects/{project}/locations/{location}".
func (c *Scheduler) Parent() string { return gcp.LocationPath(c.project, c.location) }

// FullName returns the job's resource name.
func (c *Scheduler) FullName() string { return c.Parent() + "/jobs/" + c.name }

func (c *Scheduler) String() string { return "CloudScheduler(" + c.name + ")" }

func (c *Scheduler) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, c.FullName(), err)
}

func (c *Scheduler) requireName(op string) error {
	if c.name == "" {
		return c.wrap(op, fmt.Errorf("%w: a job name is required", gcp.ErrInvalidPath))
	}
	return nil
}

// Ls lists the jobs in the location.
func (c *Scheduler) Ls(ctx context.Context, fullName bool) (out []string, err error) {
	defer c.settings.Observe(Service, "Ls", time.Now(), &err)

	jobs, err := c.api.ListJobs(ctx, c.Parent())
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", c.Parent(), err)
	}
	out = make([]string, 0, len(jobs))
	for _, j := range jobs {
		if fullName {
			out = append(out, j.GetName())
		} else {
			out = append(out, gcp.ShortName(j.GetName()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Get returns the job.
func (c *Scheduler) Get(ctx context.Context) (job *schedulerpb.Job, err error) {
	defer c.settings.Observe(Service, "Get", time.Now(), &err)

	if err := c.requireName("Get"); err != nil {
		return nil, err
	}
	job, err = c.api.GetJob(ctx, c.FullName())
	if err != nil {
		return nil, c.wrap("Get", err)
	}
	return job, nil
}

// Exists reports whether the job exists.
func (c *Scheduler) Exists(ctx context.Context) (bool, error) {
	_, err := c.Get(ctx)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Auth selects the token an HTTP target sends.
type Auth string

const (
	// AuthOIDC sends an OIDC ID token. Use it for Cloud Run, Functions and
	// other non-Google endpoints.
	AuthOIDC Auth = "oidc"

	// AuthOAuth sends an OAuth access token, for *.googleapis.com targets.
	AuthOAuth Auth = "oauth"
)

// CreateOptions controls Create.
type CreateOptions struct {
	TimeZone    string
	Description string

	// ServiceAccount signs HTTP target tokens. DefaultServiceAccountAlias
	// maps to the project's default account.
	ServiceAccount string
	Auth           Auth

	// Headers are sent with HTTP targets; Attributes with Pub/Sub targets.
	Headers    map[string]string
	Attributes map[string]string
}

// JobSpec builds the job Create submits. Targets starting with "http" are
// POSTed to with payload as the JSON body; any other target is a Pub/Sub
// topic ID or full topic name.
func (c *Scheduler) JobSpec(schedule, target string, payload any, opts CreateOptions) (*schedulerpb.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", gcp.ErrInvalidArgument, err)
	}
	tz := opts.TimeZone
	if tz == "" {
		tz = DefaultTimeZone
	}
	job := &schedulerpb.Job{
		Name:        c.FullName(),
		Schedule:    schedule,
		TimeZone:    tz,
		Description: opts.Description,
	}

	if !strings.HasPrefix(target, "http") {
		topic := target
		if !strings.HasPrefix(topic, "projects/") {
			topic = gcp.ProjectPath(c.project) + "/topics/" + topic
		}
		job.Target = &schedulerpb.Job_PubsubTarget{PubsubTarget: &schedulerpb.PubsubTarget{
			TopicName:  topic,
			Data:       body,
			Attributes: opts.Attributes,
		}}
		return job, nil
	}

	httpTarget := &schedulerpb.HttpTarget{
		Uri:        target,
		HttpMethod: schedulerpb.HttpMethod_POST,
		Body:       body,
		Headers:    opts.Headers,
	}
	sa := opts.ServiceAccount
	if sa == DefaultServiceAccountAlias {
		sa = gcp.DefaultServiceAccount(c.project)
	}
	if sa != "" {
		if opts.Auth == AuthOAuth {
			httpTarget.AuthorizationHeader = &schedulerpb.HttpTarget_OauthToken{
				OauthToken: &schedulerpb.OAuthToken{ServiceAccountEmail: sa},
			}
		} else {
			httpTarget.AuthorizationHeader = &schedulerpb.HttpTarget_OidcToken{
				OidcToken: &schedulerpb.OidcToken{ServiceAccountEmail: sa, Audience: target},
			}
		}
	}
	job.Target = &schedulerpb.Job_HttpTarget{HttpTarget: httpTarget}
	return job, nil
}

// updateMask lists the fields Create rewrites on an existing job.
var updateMask = []string{"schedule", "time_zone", "description", "http_target", "pubsub_target"}

// Create creates the job, or updates it when it already exists.
func (c *Scheduler) Create(ctx context.Context, schedule, target string, payload any, opts CreateOptions) (job *schedulerpb.Job, err error) {
	defer c.settings.Observe(Service, "Create", time.Now(), &err)

	if err := c.requireName("Create"); err != nil {
		return nil, err
	}
	spec, err := c.JobSpec(schedule, target, payload, opts)
	if err != nil {
		return nil, c.wrap("Create", err)
	}
	exists, err := c.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		job, err = c.api.UpdateJob(ctx, spec, &fieldmaskpb.FieldMask{Paths: updateMask})
		if err != nil {
			return nil, c.wrap("Create", err)
		}
		c.logger.Info("CloudScheduler - Job updated", zap.String("job", c.name))
		return job, nil
	}
	job, err = c.api.CreateJob(ctx, c.Parent(), spec)
	if err != nil {
		return nil, c.wrap("Create", err)
	}
	c.logger.Info("CloudScheduler - Job created", zap.String("job", c.name))
	return job, nil
}

// Delete deletes the job.
func (c *Scheduler) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer c.settings.Observe(Service, "Delete", time.Now(), &err)

	if err := c.requireName("Delete"); err != nil {
		return err
	}
	if err := c.api.DeleteJob(ctx, c.FullName()); err != nil {
		return mode.Handle(c.wrap("Delete", err))
	}
	c.logger.Info("CloudScheduler - Job deleted", zap.String("job", c.name))
	return nil
}

// JobStatus summarises the job's last attempt.
func JobStatus(job *schedulerpb.Job) string {
	if job.GetLastAttemptTime() == nil {
		return StatusNotRun
	}
	if job.GetStatus().GetCode() == 0 {
		return StatusSuccess
	}
	return StatusFailed
}

// Status reports StatusNotRun, StatusSuccess or StatusFailed.
func (c *Scheduler) Status(ctx context.Context) (string, error) {
	job, err := c.Get(ctx)
	if err != nil {
		return "", err
	}
	return JobStatus(job), nil
}

// State returns the job state name: ENABLED, PAUSED, DISABLED or
// UPDATE_FAILED.
func (c *Scheduler) State(ctx context.Context) (string, error) {
	job, err := c.Get(ctx)
	if err != nil {
		return "", err
	}
	return job.GetState().String(), nil
}

// Run triggers the job now. A paused job fails with a failed
// precondition; with force it is resumed first.
func (c *Scheduler) Run(ctx context.Context, force bool) (job *schedulerpb.Job, err error) {
	defer c.settings.Observe(Service, "Run", time.Now(), &err)

	if err := c.requireName("Run"); err != nil {
		return nil, err
	}
	job, err = c.api.RunJob(ctx, c.FullName())
	if err != nil && force && gcp.IsFailedPrecondition(gcp.Classify(err)) {
		if _, rerr := c.Resume(ctx); rerr != nil {
			return nil, rerr
		}
		job, err = c.api.RunJob(ctx, c.FullName())
	}
	if err != nil {
		return nil, c.wrap("Run", err)
	}
	c.logger.Info("CloudScheduler - Job ran", zap.String("job", c.name))
	return job, nil
}

// Pause pauses the job.
func (c *Scheduler) Pause(ctx context.Context) (job *schedulerpb.Job, err error) {
	defer c.settings.Observe(Service, "Pause", time.Now(), &err)

	if err := c.requireName("Pause"); err != nil {
		return nil, err
	}
	job, err = c.api.PauseJob(ctx, c.FullName())
	if err != nil {
		return nil, c.wrap("Pause", err)
	}
	c.logger.Info("CloudScheduler - Job paused", zap.String("job", c.name))
	return job, nil
}

// Resume resumes a paused job.
func (c *Scheduler) Resume(ctx context.Context) (job *schedulerpb.Job, err error) {
	defer c.settings.Observe(Service, "Resume", time.Now(), &err)

	if err := c.requireName("Resume"); err != nil {
		return nil, err
	}
	job, err = c.api.ResumeJob(ctx, c.FullName())
	if err != nil {
		return nil, c.wrap("Resume", err)
	}
	c.logger.Info("CloudScheduler - Job resumed", zap.String("job", c.name))
	return job, nil
}

// Close releases the client when it is not shared.
func (c *Scheduler) Close() error {
	if _, injected := c.settings.Injected[apiKind]; injected || c.settings.Cacheable() {
		return nil
	}
	return c.api.Close()
}
