// Package cloudrun deploys, lists and calls Cloud Run services and jobs.
package cloudrun

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"cloud.google.com/go/run/apiv2/runpb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/3leaps/gcpal/pkg/docker"
	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/request"
)

// Service is the name used in errors, logs and metrics.
const Service = "cloudrun"

const (
	apiKind     = "run"
	jobOverride = "cloudrun.job"
)

// Statuses reported by Status.
const (
	StatusActive    = "Active"
	StatusInactive  = "Inactive"
	StatusNotRun    = "NotRun"
	StatusRunning   = "Running"
	StatusSucceeded = "Succeeded"
	StatusFailed    = "Failed"
)

// DefaultMemoryMiB is the memory limit used when DeployOptions.MemoryMiB is 0.
const DefaultMemoryMiB = 512

const (
	invokerRole = "roles/run.invoker"
	allUsers    = "allUsers"
)

// WithJob makes the handle address a Cloud Run job instead of a service.
func WithJob() gcp.Option { return gcp.WithOverride(jobOverride, "true") }

// CloudRun is a handle on one service or job, or on the location's
// services or jobs when no name is given.
type CloudRun struct {
	project  string
	location string
	name     string
	job      bool
	settings *gcp.Settings
	opts     []gcp.Option
	api      api
	logger   *zap.Logger
}

// New resolves the client. name is a service or job ID, or a full
// "projects/p/locations/l/services/s" or ".../jobs/j" resource name; the
// latter selects job mode on its own.
func New(ctx context.Context, name string, opts ...gcp.Option) (*CloudRun, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	project, location := s.Project, s.Location
	job := s.Override(jobOverride) == "true"
	if strings.HasPrefix(name, "projects/") {
		segs := gcp.ResourceSegments(name)
		switch {
		case segs["services"] != "":
			name = segs["services"]
		case segs["jobs"] != "":
			name, job = segs["jobs"], true
		default:
			return nil, fmt.Errorf("%w: %q names no service or job", gcp.ErrInvalidPath, name)
		}
		project, location = segs["projects"], segs["locations"]
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: Cloud Run name %q", gcp.ErrInvalidPath, name)
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", name, err)
	}
	return &CloudRun{
		project:  project,
		location: location,
		name:     name,
		job:      job,
		settings: s,
		opts:     opts,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Name returns the service or job ID.
func (r *CloudRun) Name() string { return r.name }

// IsJob reports whether the handle addresses a job.
func (r *CloudRun) IsJob() bool { return r.job }

// Parent returns "projects/{project}/locations/{location}".
func (r *CloudRun) Parent() string { return gcp.LocationPath(r.project, r.location) }

// FullName returns the service or job resource name.
func (r *CloudRun) FullName() string {
	if r.job {
		return r.Parent() + "/jobs/" + r.name
	}
	return r.Parent() + "/services/" + r.name
}

func (r *CloudRun) kind() string {
	if r.job {
		return "job"
	}
	return "service"
}

func (r *CloudRun) String() string { return "CloudRun(" + r.name + ")" }

func (r *CloudRun) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, r.FullName(), err)
}

func (r *CloudRun) requireName(op string) error {
	if r.name == "" {
		return r.wrap(op, fmt.Errorf("%w: a %s name is required", gcp.ErrInvalidPath, r.kind()))
	}
	return nil
}

// ServiceStatus is Active once the latest created revision is also the
// latest ready one.
func ServiceStatus(svc *runpb.Service) string {
	if created := svc.GetLatestCreatedRevision(); created != "" && created == svc.GetLatestReadyRevision() {
		return StatusActive
	}
	return StatusInactive
}

// JobStatus reports the job's most recent execution.
func JobStatus(job *runpb.Job) string {
	exec := job.GetLatestCreatedExecution()
	switch {
	case exec == nil:
		return StatusNotRun
	case exec.GetCompletionTime() == nil:
		return StatusRunning
	case job.GetTerminalCondition().GetState() == runpb.Condition_CONDITION_SUCCEEDED:
		return StatusSucceeded
	}
	return StatusFailed
}

// Ls lists the location's services, or jobs in job mode, sorted. With
// activeOnly services must be Active and jobs must not have failed.
func (r *CloudRun) Ls(ctx context.Context, activeOnly bool) (out []string, err error) {
	defer r.settings.Observe(Service, "Ls", time.Now(), &err)

	if r.job {
		jobs, err := r.api.ListJobs(ctx, r.Parent())
		if err != nil {
			return nil, gcp.Wrap(Service, "Ls", r.Parent(), err)
		}
		for _, j := range jobs {
			if activeOnly && JobStatus(j) == StatusFailed {
				continue
			}
			out = append(out, gcp.ShortName(j.GetName()))
		}
	} else {
		svcs, err := r.api.ListServices(ctx, r.Parent())
		if err != nil {
			return nil, gcp.Wrap(Service, "Ls", r.Parent(), err)
		}
		for _, s := range svcs {
			if activeOnly && ServiceStatus(s) != StatusActive {
				continue
			}
			out = append(out, gcp.ShortName(s.GetName()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Get returns the *runpb.Service or, in job mode, the *runpb.Job.
func (r *CloudRun) Get(ctx context.Context) (msg proto.Message, err error) {
	defer r.settings.Observe(Service, "Get", time.Now(), &err)

	if err := r.requireName("Get"); err != nil {
		return nil, err
	}
	if r.job {
		msg, err = r.api.GetJob(ctx, r.FullName())
	} else {
		msg, err = r.api.GetService(ctx, r.FullName())
	}
	if err != nil {
		return nil, r.wrap("Get", err)
	}
	return msg, nil
}

// Exists reports whether the service or job exists.
func (r *CloudRun) Exists(ctx context.Context) (bool, error) {
	_, err := r.Get(ctx)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Status returns Active or Inactive for a service, and the state of the
// last execution for a job.
func (r *CloudRun) Status(ctx context.Context) (string, error) {
	msg, err := r.Get(ctx)
	if err != nil {
		return "", err
	}
	var st string
	switch m := msg.(type) {
	case *runpb.Job:
		st = JobStatus(m)
	case *runpb.Service:
		st = ServiceStatus(m)
	}
	r.logger.Info("Cloud Run - Status", zap.String(r.kind(), r.name), zap.String("status", st))
	return st, nil
}

// URI returns the service URL. Jobs have none.
func (r *CloudRun) URI(ctx context.Context) (string, error) {
	if r.job {
		return "", r.wrap("URI", fmt.Errorf("%w: jobs have no URI", gcp.ErrInvalidArgument))
	}
	msg, err := r.Get(ctx)
	if err != nil {
		return "", err
	}
	uri := msg.(*runpb.Service).GetUri()
	if uri == "" {
		return "", r.wrap("URI", fmt.Errorf("%w: service has no URI yet", gcp.ErrFailedPrecondition))
	}
	return uri, nil
}

// Call POSTs data to the service with an ID token. Error responses are
// returned and logged rather than turned into errors.
func (r *CloudRun) Call(ctx context.Context, data any) (*request.Response, error) {
	uri, err := r.URI(ctx)
	if err != nil {
		return nil, err
	}
	req, err := request.New(ctx, uri, r.opts...)
	if err != nil {
		return nil, r.wrap("Call", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	resp, err := req.Post(ctx, data)
	if err != nil {
		return nil, r.wrap("Call", err)
	}
	if !resp.OK() {
		r.logger.Warn("Cloud Run - Error calling",
			zap.String("service", r.name), zap.Int("status", resp.StatusCode), zap.ByteString("body", resp.Body))
	}
	return resp, nil
}

// DeployOptions configures Deploy.
type DeployOptions struct {
	// MemoryMiB becomes the container's "{n}Mi" memory limit.
	MemoryMiB int
	CPU       string

	// Env is merged over the variables read from EnvFile.
	Env     map[string]string
	EnvFile string

	MinInstances int32
	MaxInstances int32
	Concurrency  int32
	Timeout      time.Duration

	// ServiceAccount runs the revision or task. gcp.DefaultServiceAccountAlias
	// selects the project's default account.
	ServiceAccount string

	// AllowUnauthenticated grants allUsers the invoker role on a service.
	AllowUnauthenticated bool

	// ImageTag tags images built from a source directory. It defaults to
	// 16 random hex digits.
	ImageTag   string
	Dockerfile string
}

// IsImage reports whether source names a container image rather than a
// local build context.
func IsImage(source string) bool {
	for _, p := range []string{"gs:", "http://", "https://", "gcr.io/", "docker.io/"} {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	host, _, ok := strings.Cut(source, "/")
	return ok && (strings.HasSuffix(host, ".pkg.dev") || strings.HasSuffix(host, ".gcr.io"))
}

// RandomTag returns 64 random bits as hex.
func RandomTag() string { return strconv.FormatUint(rand.Uint64(), 16) }

func (r *CloudRun) container(image string, opts DeployOptions) (*runpb.Container, error) {
	env := map[string]string{}
	if opts.EnvFile != "" {
		fileEnv, err := gcp.LoadEnvFile(opts.EnvFile)
		if err != nil {
			return nil, err
		}
		env = fileEnv
	}
	env = gcp.MergeEnv(env, opts.Env)
	if _, ok := env["HOST"]; !ok && !r.job {
		env["HOST"] = "0.0.0.0"
	}
	vars := make([]*runpb.EnvVar, 0, len(env))
	for _, k := range gcp.EnvKeys(env) {
		vars = append(vars, &runpb.EnvVar{Name: k, Values: &runpb.EnvVar_Value{Value: env[k]}})
	}

	mem := opts.MemoryMiB
	if mem <= 0 {
		mem = DefaultMemoryMiB
	}
	limits := map[string]string{"memory": strconv.Itoa(mem) + "Mi"}
	if opts.CPU != "" {
		limits["cpu"] = opts.CPU
	}
	return &runpb.Container{
		Image:     image,
		Env:       vars,
		Resources: &runpb.ResourceRequirements{Limits: limits},
	}, nil
}

func (r *CloudRun) serviceAccount(sa string) string {
	if sa == gcp.DefaultServiceAccountAlias {
		return gcp.DefaultServiceAccount(r.project)
	}
	return sa
}

// ServiceSpec builds the service resource for image.
func (r *CloudRun) ServiceSpec(image string, opts DeployOptions) (*runpb.Service, error) {
	if opts.MaxInstances > 0 && opts.MinInstances > opts.MaxInstances {
		return nil, fmt.Errorf("%w: min instances %d above max %d", gcp.ErrInvalidArgument, opts.MinInstances, opts.MaxInstances)
	}
	c, err := r.container(image, opts)
	if err != nil {
		return nil, err
	}
	tmpl := &runpb.RevisionTemplate{
		Containers: []*runpb.Container{c},
		Scaling: &runpb.RevisionScaling{
			MinInstanceCount: opts.MinInstances,
			MaxInstanceCount: opts.MaxInstances,
		},
		MaxInstanceRequestConcurrency: opts.Concurrency,
		ServiceAccount:                r.serviceAccount(opts.ServiceAccount),
	}
	if opts.Timeout > 0 {
		tmpl.Timeout = durationpb.New(opts.Timeout)
	}
	return &runpb.Service{Template: tmpl}, nil
}

// JobSpec builds the job resource for image. Scaling and concurrency do
// not apply to jobs.
func (r *CloudRun) JobSpec(image string, opts DeployOptions) (*runpb.Job, error) {
	c, err := r.container(image, opts)
	if err != nil {
		return nil, err
	}
	task := &runpb.TaskTemplate{
		Containers:     []*runpb.Container{c},
		ServiceAccount: r.serviceAccount(opts.ServiceAccount),
	}
	if opts.Timeout > 0 {
		task.Timeout = durationpb.New(opts.Timeout)
	}
	return &runpb.Job{Template: &runpb.ExecutionTemplate{Template: task}}, nil
}

// image returns source when it already names an image, and otherwise
// builds and pushes it as gcr.io/{project}/{name}:{tag}.
func (r *CloudRun) image(ctx context.Context, source string, opts DeployOptions) (string, error) {
	if IsImage(source) {
		r.logger.Info("Cloud Run - Deploying image directly", zap.String("image", source))
		return source, nil
	}
	tag := opts.ImageTag
	if tag == "" {
		tag = RandomTag()
	}
	dockerOpts := append([]gcp.Option{}, r.opts...)
	dockerOpts = append(dockerOpts, gcp.WithProject(r.project), docker.WithTag(tag))
	d, err := docker.New(ctx, r.name, dockerOpts...)
	if err != nil {
		return "", err
	}
	defer func() { _ = d.Close() }()
	r.logger.Info("Cloud Run - Building and pushing image", zap.String("context", source), zap.String("image", d.Destination()))
	return d.BuildAndPush(ctx, source, docker.BuildOptions{Dockerfile: opts.Dockerfile})
}

// Deploy creates or updates the service or job from source, a container
// image or a local build context directory. It returns the deployed
// *runpb.Service or *runpb.Job.
func (r *CloudRun) Deploy(ctx context.Context, source string, opts DeployOptions) (msg proto.Message, err error) {
	defer r.settings.Observe(Service, "Deploy", time.Now(), &err)

	if err := r.requireName("Deploy"); err != nil {
		return nil, err
	}
	if opts.AllowUnauthenticated && r.job {
		return nil, r.wrap("Deploy", fmt.Errorf("%w: jobs cannot allow unauthenticated calls", gcp.ErrInvalidArgument))
	}
	// Validate before building.
	if r.job {
		_, err = r.JobSpec(source, opts)
	} else {
		_, err = r.ServiceSpec(source, opts)
	}
	if err != nil {
		return nil, r.wrap("Deploy", err)
	}
	img, err := r.image(ctx, source, opts)
	if err != nil {
		return nil, r.wrap("Deploy", err)
	}
	exists, err := r.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if r.job {
		msg, err = r.deployJob(ctx, img, opts, exists)
	} else {
		msg, err = r.deployService(ctx, img, opts, exists)
	}
	if err != nil {
		return nil, r.wrap("Deploy", err)
	}
	r.logger.Info("Cloud Run - Deployed", zap.String(r.kind(), r.name), zap.String("image", img))
	return msg, nil
}

func (r *CloudRun) deployService(ctx context.Context, img string, opts DeployOptions, exists bool) (*runpb.Service, error) {
	spec, err := r.ServiceSpec(img, opts)
	if err != nil {
		return nil, err
	}
	var svc *runpb.Service
	if exists {
		r.logger.Info("Cloud Run - Updating service", zap.String("service", r.name))
		spec.Name = r.FullName()
		svc, err = r.api.UpdateService(ctx, spec)
	} else {
		r.logger.Info("Cloud Run - Creating service", zap.String("service", r.name))
		svc, err = r.api.CreateService(ctx, r.Parent(), r.name, spec)
	}
	if err != nil {
		return nil, err
	}
	if opts.AllowUnauthenticated {
		if err := r.allowUnauthenticated(ctx); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (r *CloudRun) deployJob(ctx context.Context, img string, opts DeployOptions, exists bool) (*runpb.Job, error) {
	spec, err := r.JobSpec(img, opts)
	if err != nil {
		return nil, err
	}
	if exists {
		r.logger.Info("Cloud Run - Updating job", zap.String("job", r.name))
		spec.Name = r.FullName()
		return r.api.UpdateJob(ctx, spec)
	}
	r.logger.Info("Cloud Run - Creating job", zap.String("job", r.name))
	return r.api.CreateJob(ctx, r.Parent(), r.name, spec)
}

// allowUnauthenticated adds allUsers to the service's invoker binding.
func (r *CloudRun) allowUnauthenticated(ctx context.Context) error {
	policy, err := r.api.GetServicePolicy(ctx, r.FullName())
	if err != nil {
		return err
	}
	if policy == nil {
		policy = &iampb.Policy{}
	}
	var binding *iampb.Binding
	for _, b := range policy.GetBindings() {
		if b.GetRole() == invokerRole {
			binding = b
			break
		}
	}
	if binding == nil {
		binding = &iampb.Binding{Role: invokerRole}
		policy.Bindings = append(policy.Bindings, binding)
	}
	for _, m := range binding.GetMembers() {
		if m == allUsers {
			return nil
		}
	}
	binding.Members = append(binding.Members, allUsers)
	if err := r.api.SetServicePolicy(ctx, r.FullName(), policy); err != nil {
		return err
	}
	r.logger.Info("Cloud Run - Allowed unauthenticated calls", zap.String("service", r.name))
	return nil
}

// Run executes the job and returns the execution's resource name once it
// has finished.
func (r *CloudRun) Run(ctx context.Context) (execution string, err error) {
	defer r.settings.Observe(Service, "Run", time.Now(), &err)

	if err := r.requireName("Run"); err != nil {
		return "", err
	}
	if !r.job {
		return "", r.wrap("Run", fmt.Errorf("%w: only jobs can be run", gcp.ErrInvalidArgument))
	}
	r.logger.Info("Cloud Run - Running job", zap.String("job", r.name))
	exec, err := r.api.RunJob(ctx, r.FullName())
	if err != nil {
		return "", r.wrap("Run", err)
	}
	return exec.GetName(), nil
}

// Delete removes the service or job.
func (r *CloudRun) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer r.settings.Observe(Service, "Delete", time.Now(), &err)

	if err := r.requireName("Delete"); err != nil {
		return mode.Handle(err)
	}
	if r.job {
		err = r.api.DeleteJob(ctx, r.FullName())
	} else {
		err = r.api.DeleteService(ctx, r.FullName())
	}
	if err != nil {
		return mode.Handle(r.wrap("Delete", err))
	}
	r.logger.Info("Cloud Run - Deleted", zap.String(r.kind(), r.name))
	return nil
}

// Close releases the clients unless they are shared or injected.
func (r *CloudRun) Close() error {
	if _, injected := r.settings.Injected[apiKind]; injected || r.settings.Cacheable() {
		return nil
	}
	return r.api.Close()
}
