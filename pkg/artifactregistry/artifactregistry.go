// Package artifactregistry browses and manages Artifact Registry
// repositories, images, versions and tags.
package artifactregistry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/artifactregistry/apiv1/artifactregistrypb"
	"github.com/google/go-containerregistry/pkg/name"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "artifactregistry"

const apiKind = "artifactregistry"

// DigestPrefix starts every version ID.
const DigestPrefix = "sha256:"

// Level is the kind of resource a path points at.
type Level int

const (
	LevelProject Level = iota
	LevelLocation
	LevelRepository
	LevelImage
	LevelVersion
	LevelTag
)

func (l Level) String() string {
	switch l {
	case LevelProject:
		return "project"
	case LevelLocation:
		return "location"
	case LevelRepository:
		return "repository"
	case LevelImage:
		return "image"
	case LevelVersion:
		return "version"
	case LevelTag:
		return "tag"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Path identifies an Artifact Registry resource. Version is a digest
// including the "sha256:" prefix. Project and Location are set only when
// parsed from a full resource name.
type Path struct {
	Project    string
	Location   string
	Repository string
	Image      string
	Version    string
	Tag        string
}

// Level reports the deepest component set. A tag wins over a version.
func (p Path) Level() Level {
	switch {
	case p.Tag != "":
		return LevelTag
	case p.Version != "":
		return LevelVersion
	case p.Image != "":
		return LevelImage
	case p.Repository != "":
		return LevelRepository
	case p.Location != "":
		return LevelLocation
	case p.Project != "":
		return LevelProject
	}
	return LevelLocation
}

// String renders the short form: "repo", "repo/image", "repo/image:tag"
// or "repo/image/sha256:...".
func (p Path) String() string {
	s := p.Repository
	if p.Image != "" {
		s += "/" + p.Image
	}
	switch {
	case p.Tag != "":
		s += ":" + p.Tag
	case p.Version != "":
		s += "/" + p.Version
	}
	return s
}

// ParsePath accepts "repo", "repo/image", "repo/image:tag",
// "repo/image/sha256:digest", "repo/image@sha256:digest", or a full
// "projects/p/locations/l/repositories/r/packages/i/(versions|tags)/x"
// resource name. Image names may contain "/"; in resource names they are
// written with "%2F".
func ParsePath(path string) (Path, error) {
	p := strings.TrimSpace(path)
	if strings.HasPrefix(p, "projects/") {
		return parseResourceName(p)
	}
	if strings.Contains(p, "//") {
		return Path{}, fmt.Errorf("%w: empty segment in %q", gcp.ErrInvalidPath, path)
	}
	segs := gcp.SplitPath(p, "/")
	if len(segs) == 0 {
		return Path{}, nil
	}
	out := Path{Repository: segs[0]}
	rest := segs[1:]
	if len(rest) == 0 {
		return out, nil
	}
	if last := rest[len(rest)-1]; strings.HasPrefix(last, DigestPrefix) {
		out.Version = last
		rest = rest[:len(rest)-1]
	}
	image := strings.Join(rest, "/")
	if i := strings.Index(image, "@"); i >= 0 {
		out.Version = image[i+1:]
		image = image[:i]
	}
	if i := strings.LastIndex(image, ":"); i >= 0 {
		out.Tag = image[i+1:]
		image = image[:i]
		out.Version = ""
	}
	if image == "" {
		return Path{}, fmt.Errorf("%w: %q names no image", gcp.ErrInvalidPath, path)
	}
	out.Image = image
	return out, nil
}

func parseResourceName(full string) (Path, error) {
	segs := gcp.ResourceSegments(full)
	out := Path{
		Project:    segs["projects"],
		Location:   segs["locations"],
		Repository: segs["repositories"],
		Image:      decodeImage(segs["packages"]),
		Version:    segs["versions"],
		Tag:        segs["tags"],
	}
	if out.Project == "" {
		return Path{}, fmt.Errorf("%w: %q", gcp.ErrInvalidPath, full)
	}
	return out, nil
}

func encodeImage(image string) string { return strings.ReplaceAll(image, "/", "%2F") }

func decodeImage(image string) string { return strings.ReplaceAll(image, "%2F", "/") }

// ArtifactRegistry is a handle on one registry path.
type ArtifactRegistry struct {
	path     Path
	project  string
	location string

	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New parses path, validates any image reference it contains, and
// resolves the client.
func New(ctx context.Context, path string, opts ...gcp.Option) (*ArtifactRegistry, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	s, err := gcp.Resolve(ctx, p.Project == "", opts...)
	if err != nil {
		return nil, err
	}
	r := &ArtifactRegistry{path: p, project: s.Project, location: s.Location, settings: s}
	if p.Project != "" {
		r.project = p.Project
		r.location = p.Location
	}
	if p.Image != "" {
		if _, err := r.ImageReference(); err != nil {
			return nil, err
		}
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", path, err)
	}
	r.api = a
	r.logger = s.Logger.With(zap.String("service", Service))
	return r, nil
}

// Path returns the parsed path.
func (r *ArtifactRegistry) Path() Path { return r.path }

// Level returns the resource level.
func (r *ArtifactRegistry) Level() Level {
	if r.path.Project != "" && r.location == "" {
		return LevelProject
	}
	return r.path.Level()
}

func (r *ArtifactRegistry) String() string {
	return fmt.Sprintf("ArtifactRegistry(%s/%s/%s)", r.project, r.location, r.path)
}

// Registry returns the Docker registry host for the location.
func (r *ArtifactRegistry) Registry() string { return r.location + "-docker.pkg.dev" }

// ImageReference returns the Docker reference for the path, for example
// "europe-west2-docker.pkg.dev/p/repo/image:tag".
func (r *ArtifactRegistry) ImageReference() (name.Reference, error) {
	if r.path.Image == "" {
		return nil, fmt.Errorf("%w: path names no image", gcp.ErrInvalidPath)
	}
	ref := fmt.Sprintf("%s/%s/%s/%s", r.Registry(), r.project, r.path.Repository, r.path.Image)
	switch {
	case r.path.Tag != "":
		ref += ":" + r.path.Tag
	case r.path.Version != "":
		ref += "@" + r.path.Version
	}
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gcp.ErrInvalidPath, err)
	}
	return parsed, nil
}

// LocationName returns "projects/{project}/locations/{location}".
func (r *ArtifactRegistry) LocationName() string { return gcp.LocationPath(r.project, r.location) }

// RepositoryName returns the repository resource name.
func (r *ArtifactRegistry) RepositoryName() string {
	return r.LocationName() + "/repositories/" + r.path.Repository
}

// PackageName returns the image's resource name.
func (r *ArtifactRegistry) PackageName() string {
	return r.RepositoryName() + "/packages/" + encodeImage(r.path.Image)
}

// VersionName returns the resource name of a version of the image.
func (r *ArtifactRegistry) VersionName(version string) string {
	return r.PackageName() + "/versions/" + version
}

// TagName returns the resource name of a tag of the image.
func (r *ArtifactRegistry) TagName(tag string) string {
	return r.PackageName() + "/tags/" + tag
}

// FullName returns the resource name for the path's level.
func (r *ArtifactRegistry) FullName() string {
	switch r.Level() {
	case LevelProject:
		return gcp.ProjectPath(r.project)
	case LevelRepository:
		return r.RepositoryName()
	case LevelImage:
		return r.PackageName()
	case LevelVersion:
		return r.VersionName(r.path.Version)
	case LevelTag:
		return r.TagName(r.path.Tag)
	}
	return r.LocationName()
}

func (r *ArtifactRegistry) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, r.FullName(), err)
}

func (r *ArtifactRegistry) short(full, parent string) string {
	return decodeImage(strings.TrimPrefix(full, parent+"/"))
}

// LsRepositories lists the location's repositories.
func (r *ArtifactRegistry) LsRepositories(ctx context.Context, fullName bool) ([]string, error) {
	repos, err := r.api.ListRepositories(ctx, r.LocationName())
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", r.LocationName(), err)
	}
	out := make([]string, 0, len(repos))
	for _, repo := range repos {
		if fullName {
			out = append(out, repo.GetName())
		} else {
			out = append(out, gcp.ShortName(repo.GetName()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// LsImages lists the repository's images as "repo/image".
func (r *ArtifactRegistry) LsImages(ctx context.Context, fullName bool) ([]string, error) {
	pkgs, err := r.api.ListPackages(ctx, r.RepositoryName())
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", r.RepositoryName(), err)
	}
	out := make([]string, 0, len(pkgs))
	parent := r.RepositoryName() + "/packages"
	for _, p := range pkgs {
		if fullName {
			out = append(out, p.GetName())
		} else {
			out = append(out, r.path.Repository+"/"+r.short(p.GetName(), parent))
		}
	}
	sort.Strings(out)
	return out, nil
}

// LsVersions lists the image's versions, newest first, as
// "repo/image/sha256:...".
func (r *ArtifactRegistry) LsVersions(ctx context.Context, fullName bool) ([]string, error) {
	versions, err := r.api.ListVersions(ctx, r.PackageName())
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", r.PackageName(), err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].GetCreateTime().AsTime().After(versions[j].GetCreateTime().AsTime())
	})
	out := make([]string, 0, len(versions))
	parent := r.PackageName() + "/versions"
	for _, v := range versions {
		if fullName {
			out = append(out, v.GetName())
		} else {
			out = append(out, r.path.Repository+"/"+r.path.Image+"/"+r.short(v.GetName(), parent))
		}
	}
	return out, nil
}

// LsTags lists the image's tags as "repo/image:tag". When the path names a
// version, only tags pointing at it are listed.
func (r *ArtifactRegistry) LsTags(ctx context.Context, fullName bool) ([]string, error) {
	tags, err := r.tagsFor(ctx, r.path.Version)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if fullName {
			out = append(out, t.GetName())
		} else {
			out = append(out, r.path.Repository+"/"+r.path.Image+":"+gcp.ShortName(t.GetName()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *ArtifactRegistry) tagsFor(ctx context.Context, version string) ([]*artifactregistrypb.Tag, error) {
	tags, err := r.api.ListTags(ctx, r.PackageName())
	if err != nil {
		return nil, gcp.Wrap(Service, "LsTags", r.PackageName(), err)
	}
	if version == "" {
		return tags, nil
	}
	want := r.VersionName(version)
	out := tags[:0]
	for _, t := range tags {
		if t.GetVersion() == want {
			out = append(out, t)
		}
	}
	return out, nil
}

// Ls lists the children of the path: repositories for a location, images
// for a repository, versions for an image and tags for a version.
func (r *ArtifactRegistry) Ls(ctx context.Context, fullName bool) (out []string, err error) {
	defer r.settings.Observe(Service, "Ls", time.Now(), &err)

	switch r.Level() {
	case LevelLocation:
		return r.LsRepositories(ctx, fullName)
	case LevelRepository:
		return r.LsImages(ctx, fullName)
	case LevelImage:
		return r.LsVersions(ctx, fullName)
	case LevelVersion:
		return r.LsTags(ctx, fullName)
	}
	return nil, r.wrap("Ls", fmt.Errorf("%w: cannot list at %s level", gcp.ErrInvalidArgument, r.Level()))
}

// GetTag returns the tag and the version it points at.
func (r *ArtifactRegistry) GetTag(ctx context.Context) (*artifactregistrypb.Tag, *artifactregistrypb.Version, error) {
	tag, err := r.api.GetTag(ctx, r.TagName(r.path.Tag))
	if err != nil {
		return nil, nil, r.wrap("GetTag", err)
	}
	version, err := r.api.GetVersion(ctx, tag.GetVersion())
	if err != nil {
		return nil, nil, gcp.Wrap(Service, "GetTag", tag.GetVersion(), err)
	}
	return tag, version, nil
}

// Get returns the repository, package or version. For a tag it returns the
// version the tag resolves to.
func (r *ArtifactRegistry) Get(ctx context.Context) (res proto.Message, err error) {
	defer r.settings.Observe(Service, "Get", time.Now(), &err)

	switch r.Level() {
	case LevelRepository:
		repo, err := r.api.GetRepository(ctx, r.RepositoryName())
		if err != nil {
			return nil, r.wrap("Get", err)
		}
		return repo, nil
	case LevelImage:
		pkg, err := r.api.GetPackage(ctx, r.PackageName())
		if err != nil {
			return nil, r.wrap("Get", err)
		}
		return pkg, nil
	case LevelVersion:
		v, err := r.api.GetVersion(ctx, r.VersionName(r.path.Version))
		if err != nil {
			return nil, r.wrap("Get", err)
		}
		return v, nil
	case LevelTag:
		_, v, err := r.GetTag(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, r.wrap("Get", fmt.Errorf("%w: cannot get at %s level", gcp.ErrInvalidArgument, r.Level()))
}

// Exists reports whether the resource exists.
func (r *ArtifactRegistry) Exists(ctx context.Context) (bool, error) {
	_, err := r.Get(ctx)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Delete deletes the path's repository, image, version or tag. A version
// that is still tagged has its tags removed first.
func (r *ArtifactRegistry) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer r.settings.Observe(Service, "Delete", time.Now(), &err)

	switch r.Level() {
	case LevelRepository:
		err = r.api.DeleteRepository(ctx, r.RepositoryName())
	case LevelImage:
		err = r.api.DeletePackage(ctx, r.PackageName())
	case LevelVersion:
		err = r.deleteVersion(ctx)
	case LevelTag:
		err = r.api.DeleteTag(ctx, r.TagName(r.path.Tag))
	default:
		return r.wrap("Delete", fmt.Errorf("%w: cannot delete at %s level", gcp.ErrInvalidArgument, r.Level()))
	}
	if err != nil {
		return mode.Handle(r.wrap("Delete", err))
	}
	r.logger.Info("Artifact Registry - Deleted", zap.String("level", r.Level().String()), zap.String("path", r.path.String()))
	return nil
}

func (r *ArtifactRegistry) deleteVersion(ctx context.Context) error {
	name := r.VersionName(r.path.Version)
	err := r.api.DeleteVersion(ctx, name)
	if err == nil || !gcp.IsFailedPrecondition(gcp.Classify(err)) {
		return err
	}

	tags, lerr := r.tagsFor(ctx, r.path.Version)
	if lerr != nil || len(tags) == 0 {
		return err
	}
	r.logger.Info("Artifact Registry - Version is tagged, deleting tags first", zap.Int("tags", len(tags)))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.settings.Workers)
	for _, t := range tags {
		tagName := t.GetName()
		g.Go(func() error {
			if err := r.api.DeleteTag(gctx, tagName); err != nil && !gcp.IsNotFound(gcp.Classify(err)) {
				return gcp.Wrap(Service, "DeleteTag", tagName, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return r.api.DeleteVersion(ctx, name)
}

// Repository formats.
const (
	FormatDocker = "docker"
	FormatMaven  = "maven"
)

// Repository modes.
const (
	ModeStandard = "standard"
	ModeRemote   = "remote"
	ModeVirtual  = "virtual"
)

// RepositoryOptions controls CreateRepository.
type RepositoryOptions struct {
	// Format is FormatDocker (default) or FormatMaven.
	Format string

	// Mode is ModeStandard (default), ModeRemote or ModeVirtual.
	Mode string

	// ImmutableTags applies to Docker repositories.
	ImmutableTags bool

	// MavenVersionPolicy is "", "none", "snapshot" or "release".
	MavenVersionPolicy string

	Description string
	Labels      map[string]string
}

// RepositorySpec builds the repository CreateRepository submits.
func RepositorySpec(opts RepositoryOptions) (*artifactregistrypb.Repository, error) {
	repo := &artifactregistrypb.Repository{Description: opts.Description, Labels: opts.Labels}

	switch strings.ToLower(opts.Mode) {
	case "", ModeStandard:
		repo.Mode = artifactregistrypb.Repository_STANDARD_REPOSITORY
	case ModeRemote:
		repo.Mode = artifactregistrypb.Repository_REMOTE_REPOSITORY
	case ModeVirtual:
		repo.Mode = artifactregistrypb.Repository_VIRTUAL_REPOSITORY
	default:
		return nil, fmt.Errorf("%w: mode %q (want standard|remote|virtual)", gcp.ErrInvalidArgument, opts.Mode)
	}

	switch strings.ToLower(opts.Format) {
	case "", FormatDocker:
		repo.Format = artifactregistrypb.Repository_DOCKER
		repo.FormatConfig = &artifactregistrypb.Repository_DockerConfig{
			DockerConfig: &artifactregistrypb.Repository_DockerRepositoryConfig{ImmutableTags: opts.ImmutableTags},
		}
	case FormatMaven:
		var policy artifactregistrypb.Repository_MavenRepositoryConfig_VersionPolicy
		switch strings.ToLower(opts.MavenVersionPolicy) {
		case "", "none":
			policy = artifactregistrypb.Repository_MavenRepositoryConfig_VERSION_POLICY_UNSPECIFIED
		case "snapshot":
			policy = artifactregistrypb.Repository_MavenRepositoryConfig_SNAPSHOT
		case "release":
			policy = artifactregistrypb.Repository_MavenRepositoryConfig_RELEASE
		default:
			return nil, fmt.Errorf("%w: maven version policy %q", gcp.ErrInvalidArgument, opts.MavenVersionPolicy)
		}
		repo.Format = artifactregistrypb.Repository_MAVEN
		repo.FormatConfig = &artifactregistrypb.Repository_MavenConfig{
			MavenConfig: &artifactregistrypb.Repository_MavenRepositoryConfig{VersionPolicy: policy},
		}
	default:
		return nil, fmt.Errorf("%w: format %q (want docker|maven)", gcp.ErrInvalidArgument, opts.Format)
	}
	return repo, nil
}

// CreateRepository creates the path's repository.
func (r *ArtifactRegistry) CreateRepository(ctx context.Context, opts RepositoryOptions) (repo *artifactregistrypb.Repository, err error) {
	defer r.settings.Observe(Service, "CreateRepository", time.Now(), &err)

	if r.path.Repository == "" {
		return nil, r.wrap("CreateRepository", fmt.Errorf("%w: path names no repository", gcp.ErrInvalidPath))
	}
	spec, err := RepositorySpec(opts)
	if err != nil {
		return nil, r.wrap("CreateRepository", err)
	}
	repo, err = r.api.CreateRepository(ctx, r.LocationName(), r.path.Repository, spec)
	if err != nil {
		return nil, gcp.Wrap(Service, "CreateRepository", r.RepositoryName(), err)
	}
	r.logger.Info("Artifact Registry - Created repository",
		zap.String("repository", r.path.Repository), zap.String("location", r.location))
	return repo, nil
}

// CreateTag points the path's tag at version, a digest with or without the
// "sha256:" prefix. An empty version uses the path's version.
func (r *ArtifactRegistry) CreateTag(ctx context.Context, tag, version string) (t *artifactregistrypb.Tag, err error) {
	defer r.settings.Observe(Service, "CreateTag", time.Now(), &err)

	if tag == "" {
		tag = r.path.Tag
	}
	if version == "" {
		version = r.path.Version
	}
	if version != "" && !strings.HasPrefix(version, DigestPrefix) {
		version = DigestPrefix + version
	}
	if r.path.Image == "" || tag == "" || version == "" {
		return nil, r.wrap("CreateTag", fmt.Errorf("%w: an image, tag and version are required", gcp.ErrInvalidArgument))
	}
	if _, err := name.NewTag(fmt.Sprintf("%s/%s/%s/%s:%s", r.Registry(), r.project, r.path.Repository, r.path.Image, tag)); err != nil {
		return nil, r.wrap("CreateTag", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
	}
	spec := &artifactregistrypb.Tag{Name: r.TagName(tag), Version: r.VersionName(version)}
	t, err = r.api.CreateTag(ctx, r.PackageName(), tag, spec)
	if err != nil {
		return nil, gcp.Wrap(Service, "CreateTag", r.TagName(tag), err)
	}
	r.logger.Info("Artifact Registry - Created tag", zap.String("image", r.path.Image), zap.String("tag", tag))
	return t, nil
}

// CreateOptions controls Create.
type CreateOptions struct {
	Repository RepositoryOptions

	// Version is the digest a new tag points at.
	Version string
}

// Create creates a repository or tag. Images and versions are created by
// pushing, not through the API.
func (r *ArtifactRegistry) Create(ctx context.Context, opts CreateOptions) (proto.Message, error) {
	switch r.Level() {
	case LevelRepository:
		repo, err := r.CreateRepository(ctx, opts.Repository)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case LevelTag:
		t, err := r.CreateTag(ctx, "", opts.Version)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, r.wrap("Create", fmt.Errorf("%w: cannot create at %s level", gcp.ErrInvalidArgument, r.Level()))
}

// Close releases the client when it is not shared.
func (r *ArtifactRegistry) Close() error {
	if _, injected := r.settings.Injected[apiKind]; injected || r.settings.Cacheable() {
		return nil
	}
	return r.api.Close()
}
