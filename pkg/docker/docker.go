// Package docker builds container images with the local Docker daemon and
// pushes them to Google registries.
package docker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/moby/patternmatcher/ignorefile"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "docker"

// DefaultTag is used when WithTag is not given.
const DefaultTag = "latest"

// DefaultDockerfile is the Dockerfile path inside the build context.
const DefaultDockerfile = "Dockerfile"

// registryUser is the user name registries accept with an OAuth access token.
const registryUser = "oauth2accesstoken"

const (
	apiKind             = "docker"
	tokenKind           = "docker.token"
	tagOverride         = "docker.tag"
	destinationOverride = "docker.destination"
)

// WithTag sets the image tag.
func WithTag(tag string) gcp.Option { return gcp.WithOverride(tagOverride, tag) }

// WithDestination sets the full image reference, replacing
// gcr.io/{project}/{name}:{tag}.
func WithDestination(ref string) gcp.Option { return gcp.WithOverride(destinationOverride, ref) }

// Docker builds and pushes one image.
type Docker struct {
	name string
	ref  name.Reference

	settings *gcp.Settings
	api      api
	tokens   oauth2.TokenSource
	logger   *zap.Logger
}

// DefaultDestination returns gcr.io/{project}/{name}:{tag}.
func DefaultDestination(project, imageName, tag string) string {
	return fmt.Sprintf("gcr.io/%s/%s:%s", project, imageName, tag)
}

// New prepares a build of imageName. The Docker daemon is contacted only
// when Build or Push runs.
func New(ctx context.Context, imageName string, opts ...gcp.Option) (*Docker, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	dest := s.Override(destinationOverride)
	if dest == "" {
		tag := s.Override(tagOverride)
		if tag == "" {
			tag = DefaultTag
		}
		dest = DefaultDestination(s.Project, imageName, tag)
	}
	ref, err := name.ParseReference(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: image %q: %w", gcp.ErrInvalidPath, dest, err)
	}

	d := &Docker{
		name:     imageName,
		ref:      ref,
		settings: s,
		logger:   s.Logger.With(zap.String("service", Service)),
	}
	if a, ok := s.Injected[apiKind].(api); ok {
		d.api = a
	}
	if ts, ok := s.Injected[tokenKind].(oauth2.TokenSource); ok {
		d.tokens = ts
	}
	return d, nil
}

// Destination returns the image reference builds are tagged with.
func (d *Docker) Destination() string { return d.ref.Name() }

func (d *Docker) String() string { return "Docker(" + d.Destination() + ")" }

func (d *Docker) client() (api, error) {
	if d.api != nil {
		return d.api, nil
	}
	a, err := newSDKAPI()
	if err != nil {
		return nil, fmt.Errorf("%w: docker daemon: %w", gcp.ErrUnavailable, err)
	}
	d.api = a
	return a, nil
}

// BuildOptions controls Build.
type BuildOptions struct {
	// Dockerfile is relative to the context directory.
	Dockerfile string
	BuildArgs  map[string]*string
	Platform   string
	NoCache    bool

	// Output receives the daemon's progress stream. Nil discards it.
	Output io.Writer
}

// buildContext tars dir, leaving out what .dockerignore excludes.
func buildContext(dir string) (io.ReadCloser, error) {
	var excludes []string
	f, err := os.Open(filepath.Join(dir, ".dockerignore"))
	switch {
	case err == nil:
		excludes, err = ignorefile.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read .dockerignore: %w", err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	return archive.TarWithOptions(dir, &archive.TarOptions{ExcludePatterns: excludes})
}

// drainStream copies a daemon JSON message stream to out and returns the
// first error message the daemon reported.
func drainStream(stream io.Reader, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	return jsonmessage.DisplayJSONMessagesStream(stream, out, 0, false, nil)
}

// Build builds the image from contextDir and tags it with Destination.
func (d *Docker) Build(ctx context.Context, contextDir string, opts BuildOptions) (err error) {
	defer d.settings.Observe(Service, "Build", time.Now(), &err)

	info, err := os.Stat(contextDir)
	if err != nil || !info.IsDir() {
		return gcp.Wrap(Service, "Build", contextDir, fmt.Errorf("%w: build context %q is not a directory", gcp.ErrInvalidPath, contextDir))
	}
	dockerfile := opts.Dockerfile
	if dockerfile == "" {
		dockerfile = DefaultDockerfile
	}
	c, err := d.client()
	if err != nil {
		return gcp.Wrap(Service, "Build", d.Destination(), err)
	}
	tar, err := buildContext(contextDir)
	if err != nil {
		return gcp.Wrap(Service, "Build", contextDir, err)
	}
	defer tar.Close()

	d.logger.Info("Docker - Building image", zap.String("image", d.Destination()), zap.String("dockerfile", dockerfile))
	resp, err := c.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{d.Destination()},
		Dockerfile: dockerfile,
		BuildArgs:  opts.BuildArgs,
		Platform:   opts.Platform,
		NoCache:    opts.NoCache,
		Remove:     true,
	})
	if err != nil {
		return gcp.Wrap(Service, "Build", d.Destination(), err)
	}
	defer resp.Body.Close()
	if err := drainStream(resp.Body, opts.Output); err != nil {
		return gcp.Wrap(Service, "Build", d.Destination(), err)
	}
	d.logger.Info("Docker - Image built", zap.String("image", d.Destination()))
	return nil
}

// registryAuth encodes credentials for the image's registry from an
// Application Default Credentials access token.
func (d *Docker) registryAuth(ctx context.Context) (string, error) {
	ts := d.tokens
	if ts == nil {
		var err error
		ts, err = google.DefaultTokenSource(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return "", fmt.Errorf("%w: %w", gcp.ErrInvalidCredentials, err)
		}
	}
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %w", gcp.ErrInvalidCredentials, err)
	}
	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      registryUser,
		Password:      tok.AccessToken,
		ServerAddress: d.ref.Context().RegistryStr(),
	})
}

// Push pushes the built image and returns its reference.
func (d *Docker) Push(ctx context.Context, output io.Writer) (dest string, err error) {
	defer d.settings.Observe(Service, "Push", time.Now(), &err)

	c, err := d.client()
	if err != nil {
		return "", gcp.Wrap(Service, "Push", d.Destination(), err)
	}
	auth, err := d.registryAuth(ctx)
	if err != nil {
		return "", gcp.Wrap(Service, "Push", d.Destination(), err)
	}
	d.logger.Info("Docker - Pushing image", zap.String("image", d.Destination()))
	stream, err := c.ImagePush(ctx, d.Destination(), image.PushOptions{RegistryAuth: auth})
	if err != nil {
		return "", gcp.Wrap(Service, "Push", d.Destination(), err)
	}
	defer stream.Close()
	if err := drainStream(stream, output); err != nil {
		return "", gcp.Wrap(Service, "Push", d.Destination(), err)
	}
	d.logger.Info("Docker - Pushed", zap.String("name", d.name), zap.String("image", d.Destination()))
	return d.Destination(), nil
}

// BuildAndPush builds contextDir and pushes the result.
func (d *Docker) BuildAndPush(ctx context.Context, contextDir string, opts BuildOptions) (string, error) {
	if err := d.Build(ctx, contextDir, opts); err != nil {
		return "", err
	}
	return d.Push(ctx, opts.Output)
}

// Close closes the daemon connection if one was opened.
func (d *Docker) Close() error {
	if d.api == nil {
		return nil
	}
	if _, injected := d.settings.Injected[apiKind]; injected {
		return nil
	}
	return d.api.Close()
}
