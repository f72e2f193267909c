package gcp

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Recorder receives one observation per wrapped operation.
type Recorder interface {
	Observe(service, op string, d time.Duration, err error)
}

// Settings is the resolved option set shared by every wrapper.
type Settings struct {
	Project       string
	Location      string
	Logger        *zap.Logger
	ClientOptions []option.ClientOption
	Recorder      Recorder
	Cache         *ClientCache
	ForceRefresh  bool
	Workers       int

	// Overrides carries service-specific settings such as a bucket or
	// dataset that replace what the path names.
	Overrides map[string]string

	// Injected holds prebuilt clients by kind, used instead of the cache.
	Injected map[string]any
}

// Option configures a wrapper.
type Option func(*Settings)

// WithProject sets the project. Empty falls back to DefaultProject.
func WithProject(project string) Option {
	return func(s *Settings) { s.Project = project }
}

// WithLocation sets the region or location.
func WithLocation(location string) Option {
	return func(s *Settings) { s.Location = location }
}

// WithLogger sets the logger used for operation status lines.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Settings) { s.Logger = logger }
}

// WithClientOptions passes options through to the vendor client constructor.
// Clients built with explicit options are not shared through the cache.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *Settings) { s.ClientOptions = append(s.ClientOptions, opts...) }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Settings) { s.Recorder = r }
}

// WithCache replaces the process-wide client cache.
func WithCache(c *ClientCache) Option {
	return func(s *Settings) { s.Cache = c }
}

// WithForceRefresh discards any cached client and builds a fresh one.
func WithForceRefresh() Option {
	return func(s *Settings) { s.ForceRefresh = true }
}

// WithWorkers bounds fan-out for operations that run concurrently.
func WithWorkers(n int) Option {
	return func(s *Settings) { s.Workers = n }
}

// WithOverride sets a service-specific override. Service packages wrap it
// in named options (storage.WithBucket, bigquery.WithDataset, ...).
func WithOverride(key, value string) Option {
	return func(s *Settings) {
		if s.Overrides == nil {
			s.Overrides = map[string]string{}
		}
		s.Overrides[key] = value
	}
}

// WithInjectedClient supplies a ready client of the given kind. The client
// is used as-is and never cached or closed by gcpal.
func WithInjectedClient(kind string, client any) Option {
	return func(s *Settings) {
		if s.Injected == nil {
			s.Injected = map[string]any{}
		}
		s.Injected[kind] = client
	}
}

// Override returns the override for key, or "".
func (s *Settings) Override(key string) string {
	return s.Overrides[key]
}

// DefaultWorkers is the fan-out used when WithWorkers is not given.
const DefaultWorkers = 8

// Resolve applies opts over the defaults. When requireProject is set and no
// project was given, DefaultProject is consulted.
func Resolve(ctx context.Context, requireProject bool, opts ...Option) (*Settings, error) {
	s := &Settings{}
	for _, opt := range opts {
		opt(s)
	}
	if s.Location == "" {
		s.Location = DefaultLocationFromEnv()
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Cache == nil {
		s.Cache = DefaultCache()
	}
	if s.Workers <= 0 {
		s.Workers = DefaultWorkers
	}
	if s.Project == "" && requireProject {
		p, err := DefaultProject(ctx)
		if err != nil {
			return nil, err
		}
		s.Project = p
	}
	return s, nil
}

// Observe reports an operation to the recorder, if any. It is meant to be
// deferred with a pointer to the named error result.
func (s *Settings) Observe(service, op string, start time.Time, errp *error) {
	if s == nil || s.Recorder == nil {
		return
	}
	var err error
	if errp != nil {
		err = *errp
	}
	s.Recorder.Observe(service, op, time.Since(start), err)
}

// Cacheable reports whether clients for these settings may be shared.
func (s *Settings) Cacheable() bool {
	return len(s.ClientOptions) == 0
}
