package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for config discovery.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is gcpal's identity.
var DefaultIdentity = Identity{
	BinaryName: "gcpal",
	EnvPrefix:  "GCPAL",
	ConfigName: "gcpal",
}

var (
	configMu    sync.RWMutex
	appIdentity *Identity
	appConfig   *Config
)

// AppIdentity returns the identity set by the last Load, or nil.
func AppIdentity() *Identity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// GetConfig returns the configuration from the last Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project", "")
	v.SetDefault("location", "")
	v.SetDefault("workers", 4)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.cors_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("health.enabled", true)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)

	v.SetDefault("storage.backend", BackendGCS)
	v.SetDefault("storage.file_root", "")
	v.SetDefault("storage.hmac.endpoint", "https://storage.googleapis.com")
	v.SetDefault("storage.hmac.region", "auto")

	v.SetDefault("logs.poll_interval", "5s")
	v.SetDefault("logs.latency_buffer", "10s")
}

// Load builds the configuration and makes it the current one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	id := DefaultIdentity
	appIdentity = &id

	v := viper.New()
	SetDefaults(v)

	v.SetConfigName(id.ConfigName)
	v.SetConfigType("yaml")
	if root, err := findProjectRoot(); err == nil {
		v.AddConfigPath(root)
	}
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for k, val := range flatten("", o) {
			v.Set(k, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Storage.Backend == BackendFile && cfg.Storage.FileRoot == "" {
		cfg.Storage.FileRoot = filepath.Join(gfconfig.GetAppDataDir(id.ConfigName), "buckets")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendGCS, BackendFile:
	case BackendHMAC:
		if c.Storage.HMAC.AccessKeyID == "" || c.Storage.HMAC.SecretAccessKey == "" {
			return errors.New("storage.backend=hmac requires storage.hmac.access_key_id and storage.hmac.secret_access_key")
		}
	default:
		return fmt.Errorf("storage.backend must be gcs, hmac or file, got %q", c.Storage.Backend)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := map[string]any{}
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// envSpec maps one environment variable onto a config path.
type envSpec struct {
	Name string
	Path string
}

var envPaths = []struct{ suffix, path string }{
	{"PROJECT", "project"},
	{"LOCATION", "location"},
	{"WORKERS", "workers"},
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"RATE_LIMIT", "server.rate_limit"},
	{"RATE_BURST", "server.burst"},
	{"CORS_ORIGINS", "server.cors_origins"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"METRICS_ENABLED", "metrics.enabled"},
	{"METRICS_PORT", "metrics.port"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"DEBUG", "debug.enabled"},
	{"PPROF_ENABLED", "debug.pprof_enabled"},
	{"STORAGE_BACKEND", "storage.backend"},
	{"STORAGE_FILE_ROOT", "storage.file_root"},
	{"HMAC_ACCESS_KEY_ID", "storage.hmac.access_key_id"},
	{"HMAC_SECRET_ACCESS_KEY", "storage.hmac.secret_access_key"},
	{"HMAC_ENDPOINT", "storage.hmac.endpoint"},
	{"LOGS_POLL_INTERVAL", "logs.poll_interval"},
	{"LOGS_LATENCY_BUFFER", "logs.latency_buffer"},
}

func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return nil
	}
	specs := make([]envSpec, 0, len(envPaths))
	for _, p := range envPaths {
		specs = append(specs, envSpec{Name: appIdentity.EnvPrefix + "_" + p.suffix, Path: p.path})
	}
	return specs
}

func getUserConfigPaths() []string {
	if appIdentity == nil {
		return nil
	}
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, appIdentity.ConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appIdentity.ConfigName))
	}
	return paths
}

// rootMarkers identify a project root.
var rootMarkers = []string{"gcpal.yaml", "go.mod", ".git"}

// ciBoundaryVars name workspace roots set by CI systems.
var ciBoundaryVars = []string{"GCPAL_WORKSPACE_ROOT", "GITHUB_WORKSPACE", "CI_PROJECT_DIR", "WORKSPACE"}

// findProjectRoot walks up from the working directory to the nearest
// directory holding a root marker. Under CI the walk stops at the first
// usable workspace boundary; otherwise it stops at $HOME. With no marker
// found the working directory is returned.
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	boundary := ciBoundary(cwd)
	if boundary == "" {
		if home, err := os.UserHomeDir(); err == nil && within(cwd, home) {
			boundary = home
		}
	}

	dir := cwd
	for {
		for _, m := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir, nil
			}
		}
		if dir == boundary {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}

func ciBoundary(cwd string) string {
	if os.Getenv("CI") != "true" && os.Getenv("GITHUB_ACTIONS") != "true" {
		return ""
	}
	for _, name := range ciBoundaryVars {
		b := os.Getenv(name)
		if b == "" || !filepath.IsAbs(b) {
			continue
		}
		if st, err := os.Stat(b); err != nil || !st.IsDir() {
			continue
		}
		if within(cwd, b) {
			return filepath.Clean(b)
		}
	}
	return ""
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
