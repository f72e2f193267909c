// Package s3 implements the storage backend over the GCS XML
// interoperability API, which speaks the S3 protocol and authenticates with
// HMAC keys.
package s3

import (
	"fmt"
	"net/url"

	"github.com/3leaps/gcpal/pkg/gcp"
)

const (
	DefaultEndpoint = "https://storage.googleapis.com"
	// DefaultRegion is a placeholder. GCS ignores the signing region but the
	// SDK refuses to sign without one.
	DefaultRegion  = "auto"
	DefaultMaxKeys = 1000
	MaxAllowedKeys = 1000
)

// Config selects the XML API endpoint and the HMAC key used to sign.
//
// Credentials come from AccessKeyID/SecretAccessKey when set, then from
// the AWS SDK default chain (AWS_ACCESS_KEY_ID and friends, or Profile in
// the shared credentials file). A custom Endpoint alone is enough to pass
// validation so tests can point at a local S3 server with env credentials.
type Config struct {
	Endpoint        string
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string

	// ProjectID is sent as x-goog-project-id when listing or creating
	// buckets; the XML API has no other way to name a project.
	ProjectID string

	ForcePathStyle bool
	MaxKeys        int
}

// Validate rejects half-specified keys, a missing credential source and
// endpoints that are not http(s) URLs.
func (c *Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both HMAC access ID and secret must be provided together",
		}
	}
	if c.AccessKeyID == "" && c.Profile == "" && c.Endpoint == "" {
		return &ConfigError{
			Field:   "AccessKeyID",
			Message: "HMAC credentials or a profile are required for the XML API",
		}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "Endpoint", Message: fmt.Sprintf("%q is not an http(s) URL", c.Endpoint)}
		}
	}
	return nil
}

// withDefaults fills the endpoint, region and page size.
func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	c.MaxKeys = clampMaxKeys(c.MaxKeys, DefaultMaxKeys)
	return c
}

// clampMaxKeys returns providerDefault for requested <= 0 and never more
// than the XML API's page limit.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	return min(requested, MaxAllowedKeys)
}

// ConfigError is a storage.hmac config problem. It matches
// gcp.ErrInvalidArgument so the CLI exits with a usage code.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

func (e *ConfigError) Unwrap() error { return gcp.ErrInvalidArgument }
