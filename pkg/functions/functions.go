// Package functions lists, deploys and calls 2nd gen Cloud Functions.
package functions

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/functions/apiv2/functionspb"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/project"
	"github.com/3leaps/gcpal/pkg/request"
	"github.com/3leaps/gcpal/pkg/storage"
)

// Service is the name used in errors, logs and metrics.
const Service = "functions"

const (
	apiKind              = "functions"
	sourceBucketOverride = "functions.source_bucket"
)

// DefaultRuntime is the runtime used when DeployOptions.Runtime is empty.
const DefaultRuntime = "python312"

// DeploymentToolVar is set on every build this package deploys.
const DeploymentToolVar = "DEPLOYMENT_TOOL__"

const (
	deploymentTool     = "GCP-PAL"
	pubsubPublishEvent = "google.cloud.pubsub.topic.v1.messagePublished"
	sourceObject       = "function-source.zip"
)

// WithSourceBucket sets the bucket local sources are uploaded to. It
// defaults to gcf-v2-sources-{projectNumber}-{location}.
func WithSourceBucket(bucket string) gcp.Option {
	return gcp.WithOverride(sourceBucketOverride, bucket)
}

// Function is a handle on one function, or on the location's functions
// when no name is given.
type Function struct {
	project  string
	location string
	name     string
	settings *gcp.Settings
	opts     []gcp.Option
	api      api
	logger   *zap.Logger
}

// New resolves the client. name is a function ID or a full
// "projects/p/locations/l/functions/f" resource name.
func New(ctx context.Context, name string, opts ...gcp.Option) (*Function, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	project, location := s.Project, s.Location
	if strings.HasPrefix(name, "projects/") {
		segs := gcp.ResourceSegments(name)
		if segs["functions"] == "" {
			return nil, fmt.Errorf("%w: %q names no function", gcp.ErrInvalidPath, name)
		}
		project, location, name = segs["projects"], segs["locations"], segs["functions"]
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: function name %q", gcp.ErrInvalidPath, name)
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", name, err)
	}
	return &Function{
		project:  project,
		location: location,
		name:     name,
		settings: s,
		opts:     opts,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Name returns the function ID.
func (f *Function) Name() string { return f.name }

// Parent returns "projects/{project}/locations/{location}".
func (f *Function) Parent() string { return gcp.LocationPath(f.project, f.location) }

// FullName returns the function's resource name.
func (f *Function) FullName() string { return f.Parent() + "/functions/" + f.name }

func (f *Function) String() string { return "CloudFunctions(" + f.name + ")" }

func (f *Function) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, f.FullName(), err)
}

func (f *Function) requireName(op string) error {
	if f.name == "" {
		return f.wrap(op, fmt.Errorf("%w: a function name is required", gcp.ErrInvalidPath))
	}
	return nil
}

// Ls lists the location's functions, sorted. With activeOnly only ACTIVE
// functions are returned; with fullID resource names replace IDs.
func (f *Function) Ls(ctx context.Context, activeOnly, fullID bool) (out []string, err error) {
	defer f.settings.Observe(Service, "Ls", time.Now(), &err)

	fns, err := f.api.ListFunctions(ctx, f.Parent())
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", f.Parent(), err)
	}
	for _, fn := range fns {
		if activeOnly && fn.GetState() != functionspb.Function_ACTIVE {
			continue
		}
		if fullID {
			out = append(out, fn.GetName())
		} else {
			out = append(out, gcp.ShortName(fn.GetName()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Get returns the function.
func (f *Function) Get(ctx context.Context) (fn *functionspb.Function, err error) {
	defer f.settings.Observe(Service, "Get", time.Now(), &err)

	if err := f.requireName("Get"); err != nil {
		return nil, err
	}
	fn, err = f.api.GetFunction(ctx, f.FullName())
	if err != nil {
		return nil, f.wrap("Get", err)
	}
	return fn, nil
}

// Exists reports whether the function exists.
func (f *Function) Exists(ctx context.Context) (bool, error) {
	_, err := f.Get(ctx)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// URI returns the function's HTTPS endpoint.
func (f *Function) URI(ctx context.Context) (string, error) {
	fn, err := f.Get(ctx)
	if err != nil {
		return "", err
	}
	uri := fn.GetServiceConfig().GetUri()
	if uri == "" {
		return "", f.wrap("URI", fmt.Errorf("%w: function has no URI yet", gcp.ErrFailedPrecondition))
	}
	return uri, nil
}

// State returns the function state, e.g. "ACTIVE" or "DEPLOYING".
func (f *Function) State(ctx context.Context) (string, error) {
	fn, err := f.Get(ctx)
	if err != nil {
		return "", err
	}
	return fn.GetState().String(), nil
}

// Call POSTs data to the function with an ID token. Error responses are
// returned and logged rather than turned into errors.
func (f *Function) Call(ctx context.Context, data any) (*request.Response, error) {
	uri, err := f.URI(ctx)
	if err != nil {
		return nil, err
	}
	r, err := request.New(ctx, uri, f.opts...)
	if err != nil {
		return nil, f.wrap("Call", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	resp, err := r.Post(ctx, data)
	if err != nil {
		return nil, f.wrap("Call", err)
	}
	if !resp.OK() {
		f.logger.Warn("Cloud Function - Error calling",
			zap.String("function", f.name), zap.Int("status", resp.StatusCode), zap.ByteString("body", resp.Body))
	}
	return resp, nil
}

// Trigger values other than HTTP name a Pub/Sub topic.
const TriggerHTTP = "HTTP"

// DeployOptions configures Deploy.
type DeployOptions struct {
	Runtime     string
	Description string
	Labels      map[string]string

	// Memory is a size such as "512Mi" or "1Gi". Bare numbers are MB.
	Memory  string
	Timeout time.Duration

	// Env is merged over the variables read from EnvFile.
	Env     map[string]string
	EnvFile string

	MinInstances   int32
	MaxInstances   int32
	ServiceAccount string

	// Trigger is "HTTP" (the default), a topic ID or a full
	// "projects/p/topics/t" name.
	Trigger string

	// Ingress is all, internal-only or internal-and-gclb.
	Ingress string

	// Egress is private-ranges-only or all, and applies to VPCConnector.
	Egress       string
	VPCConnector string

	// IgnoreFile overrides the .gcloudignore used for local sources.
	IgnoreFile string

	// IfExists is applied when the function is already deployed. The
	// zero value updates it, as IfExistsUpdate does.
	IfExists gcp.IfExists
}

var bareMemory = regexp.MustCompile(`^[0-9]+$`)

func memorySize(m string) string {
	if bareMemory.MatchString(m) {
		return m + "M"
	}
	return m
}

var ingressSettings = map[string]functionspb.ServiceConfig_IngressSettings{
	"":                  functionspb.ServiceConfig_ALLOW_ALL,
	"all":               functionspb.ServiceConfig_ALLOW_ALL,
	"internal-only":     functionspb.ServiceConfig_ALLOW_INTERNAL_ONLY,
	"internal-and-gclb": functionspb.ServiceConfig_ALLOW_INTERNAL_AND_GCLB,
}

var egressSettings = map[string]functionspb.ServiceConfig_VpcConnectorEgressSettings{
	"":                    functionspb.ServiceConfig_VPC_CONNECTOR_EGRESS_SETTINGS_UNSPECIFIED,
	"private-ranges-only": functionspb.ServiceConfig_PRIVATE_RANGES_ONLY,
	"all":                 functionspb.ServiceConfig_ALL_TRAFFIC,
}

// FunctionSpec builds the function resource for source, which must
// already be resolved to a storage or repository source.
func (f *Function) FunctionSpec(source *functionspb.Source, entryPoint string, opts DeployOptions) (*functionspb.Function, error) {
	if entryPoint == "" {
		return nil, fmt.Errorf("%w: an entry point is required", gcp.ErrInvalidArgument)
	}
	ingress, ok := ingressSettings[opts.Ingress]
	if !ok {
		return nil, fmt.Errorf("%w: ingress %q", gcp.ErrInvalidArgument, opts.Ingress)
	}
	egress, ok := egressSettings[opts.Egress]
	if !ok {
		return nil, fmt.Errorf("%w: egress %q", gcp.ErrInvalidArgument, opts.Egress)
	}
	if opts.MaxInstances > 0 && opts.MinInstances > opts.MaxInstances {
		return nil, fmt.Errorf("%w: min instances %d above max %d", gcp.ErrInvalidArgument, opts.MinInstances, opts.MaxInstances)
	}

	env := map[string]string{}
	if opts.EnvFile != "" {
		fileEnv, err := gcp.LoadEnvFile(opts.EnvFile)
		if err != nil {
			return nil, err
		}
		env = fileEnv
	}
	env = gcp.MergeEnv(env, opts.Env)

	runtime := opts.Runtime
	if runtime == "" {
		runtime = DefaultRuntime
	}
	sa := opts.ServiceAccount
	if sa == gcp.DefaultServiceAccountAlias {
		sa = gcp.DefaultServiceAccount(f.project)
	}

	fn := &functionspb.Function{
		Name:        f.FullName(),
		Description: opts.Description,
		Labels:      opts.Labels,
		Environment: functionspb.Environment_GEN_2,
		BuildConfig: &functionspb.BuildConfig{
			Runtime:              runtime,
			EntryPoint:           entryPoint,
			Source:               source,
			EnvironmentVariables: map[string]string{DeploymentToolVar: deploymentTool},
		},
		ServiceConfig: &functionspb.ServiceConfig{
			AvailableMemory:            memorySize(opts.Memory),
			TimeoutSeconds:             int32(opts.Timeout / time.Second),
			EnvironmentVariables:       env,
			MinInstanceCount:           opts.MinInstances,
			MaxInstanceCount:           opts.MaxInstances,
			ServiceAccountEmail:        sa,
			IngressSettings:            ingress,
			VpcConnector:               opts.VPCConnector,
			VpcConnectorEgressSettings: egress,
		},
	}
	if t := opts.Trigger; t != "" && !strings.EqualFold(t, TriggerHTTP) {
		if !strings.HasPrefix(t, "projects/") {
			t = gcp.ProjectPath(f.project) + "/topics/" + t
		}
		fn.EventTrigger = &functionspb.EventTrigger{
			EventType:   pubsubPublishEvent,
			PubsubTopic: t,
			RetryPolicy: functionspb.EventTrigger_RETRY_POLICY_DO_NOT_RETRY,
		}
	}
	return fn, nil
}

// SourceBucket returns the bucket local sources are uploaded to.
func (f *Function) SourceBucket(ctx context.Context) (string, error) {
	if b := f.settings.Override(sourceBucketOverride); b != "" {
		return b, nil
	}
	p, err := project.New(ctx, f.project, f.opts...)
	if err != nil {
		return "", err
	}
	defer func() { _ = p.Close() }()
	number, err := p.Number(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("gcf-v2-sources-%s-%s", number, f.location), nil
}

// resolveSource turns a Deploy source argument into a build source,
// uploading local directories first.
func (f *Function) resolveSource(ctx context.Context, source, ignoreFile string) (*functionspb.Source, error) {
	switch {
	case strings.HasPrefix(source, storage.Scheme):
		bucket, object, _ := strings.Cut(strings.TrimPrefix(source, storage.Scheme), "/")
		if bucket == "" || object == "" {
			return nil, fmt.Errorf("%w: source %q names no object", gcp.ErrInvalidPath, source)
		}
		return &functionspb.Source{Source: &functionspb.Source_StorageSource{
			StorageSource: &functionspb.StorageSource{Bucket: bucket, Object: object},
		}}, nil
	case strings.HasPrefix(source, "https://"):
		repo, err := RepoSource(source)
		if err != nil {
			return nil, err
		}
		return &functionspb.Source{Source: &functionspb.Source_RepoSource{RepoSource: repo}}, nil
	}

	f.logger.Info("Cloud Function - Zipping source", zap.String("dir", source))
	data, err := ZipSource(source, ignoreFile)
	if err != nil {
		return nil, err
	}
	bucket, err := f.SourceBucket(ctx)
	if err != nil {
		return nil, err
	}
	dst := storage.Scheme + bucket + "/" + f.name + "/" + sourceObject
	st, err := storage.New(ctx, dst, f.opts...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = st.Close() }()
	if err := st.UploadContents(ctx, data); err != nil {
		return nil, err
	}
	return &functionspb.Source{Source: &functionspb.Source_StorageSource{
		StorageSource: &functionspb.StorageSource{Bucket: st.Bucket(), Object: st.Key()},
	}}, nil
}

// Deploy creates the function from source, or updates it when it already
// exists. source is a local directory (zipped and uploaded to the source
// bucket), a gs:// zip, or a Cloud Source Repositories URL.
func (f *Function) Deploy(ctx context.Context, source, entryPoint string, opts DeployOptions) (fn *functionspb.Function, err error) {
	defer f.settings.Observe(Service, "Deploy", time.Now(), &err)

	if err := f.requireName("Deploy"); err != nil {
		return nil, err
	}
	// Validate before touching storage.
	if _, err := f.FunctionSpec(&functionspb.Source{}, entryPoint, opts); err != nil {
		return nil, f.wrap("Deploy", err)
	}
	src, err := f.resolveSource(ctx, source, opts.IgnoreFile)
	if err != nil {
		return nil, f.wrap("Deploy", err)
	}
	spec, err := f.FunctionSpec(src, entryPoint, opts)
	if err != nil {
		return nil, f.wrap("Deploy", err)
	}

	exists, err := f.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		switch opts.IfExists {
		case gcp.IfExistsIgnore:
			return f.Get(ctx)
		case gcp.IfExistsError:
			return nil, f.wrap("Deploy", gcp.ErrAlreadyExists)
		case gcp.IfExistsReplace:
			if err := f.Delete(ctx, gcp.ErrorsRaise); err != nil {
				return nil, err
			}
			exists = false
		}
	}

	if exists {
		f.logger.Info("Cloud Function - Updating", zap.String("function", f.name), zap.String("source", source))
		fn, err = f.api.UpdateFunction(ctx, spec)
	} else {
		f.logger.Info("Cloud Function - Creating", zap.String("function", f.name), zap.String("source", source))
		fn, err = f.api.CreateFunction(ctx, f.Parent(), f.name, spec)
	}
	if err != nil {
		return nil, f.wrap("Deploy", err)
	}
	f.logger.Info("Cloud Function - Deployed",
		zap.String("function", f.name),
		zap.String("state", fn.GetState().String()),
		zap.String("revision", fn.GetServiceConfig().GetRevision()),
		zap.String("uri", fn.GetServiceConfig().GetUri()))
	return fn, nil
}

// Delete removes the function.
func (f *Function) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer f.settings.Observe(Service, "Delete", time.Now(), &err)

	if err := f.requireName("Delete"); err != nil {
		return mode.Handle(err)
	}
	if err := f.api.DeleteFunction(ctx, f.FullName()); err != nil {
		return mode.Handle(f.wrap("Delete", err))
	}
	f.logger.Info("Cloud Function - Deleted", zap.String("function", f.name))
	return nil
}

// Close releases the client unless it is shared or injected.
func (f *Function) Close() error {
	if _, injected := f.settings.Injected[apiKind]; injected || f.settings.Cacheable() {
		return nil
	}
	return f.api.Close()
}
