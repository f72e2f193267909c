// Package config loads gcpal CLI and server configuration.
//
// Values are layered, lowest first: built-in defaults, gcpal.yaml (project
// root, then user config directories), GCPAL_* environment variables, and
// runtime overrides passed to Load.
package config

import "time"

// Config is the decoded configuration.
type Config struct {
	Project  string `mapstructure:"project"`
	Location string `mapstructure:"location"`
	Workers  int    `mapstructure:"workers"`

	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
	Storage StorageConfig `mapstructure:"storage"`
	Logs    LogsConfig    `mapstructure:"logs"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RateLimit is requests per second across the browse API; 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`

	// CORSOrigins lists allowed origins; empty disables CORS headers.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// StorageConfig selects the object storage backend.
type StorageConfig struct {
	// Backend is gcs, hmac or file.
	Backend  string     `mapstructure:"backend"`
	FileRoot string     `mapstructure:"file_root"`
	HMAC     HMACConfig `mapstructure:"hmac"`
}

// HMACConfig holds GCS interoperability credentials.
type HMACConfig struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
}

type LogsConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	LatencyBuffer time.Duration `mapstructure:"latency_buffer"`
}

// Storage backends.
const (
	BackendGCS  = "gcs"
	BackendHMAC = "hmac"
	BackendFile = "file"
)
