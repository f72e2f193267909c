package gcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/oauth2/google"
)

// DefaultLocation is used when neither an option nor the environment names one.
const DefaultLocation = "europe-west2"

// cloudPlatformScope is the scope requested when probing ADC for a project.
const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Env holds the environment variables gcpal consults for defaults.
type Env struct {
	Project       string `envconfig:"GCP_PAL_PROJECT"`
	LegacyProject string `envconfig:"PROJECT"`
	CloudProject  string `envconfig:"GOOGLE_CLOUD_PROJECT"`
	Location      string `envconfig:"GCP_PAL_LOCATION" default:"europe-west2"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, fmt.Errorf("read environment: %w", err)
	}
	return env, nil
}

// ProjectFromEnv returns the first non-empty project variable.
func (e Env) ProjectFromEnv() string {
	for _, p := range []string{e.Project, e.LegacyProject, e.CloudProject} {
		if p != "" {
			return p
		}
	}
	return ""
}

var (
	adcProjectOnce sync.Once
	adcProject     string
	adcProjectErr  error
)

// findADCProject is swapped in tests.
var findADCProject = func(ctx context.Context) (string, error) {
	creds, err := google.FindDefaultCredentials(ctx, cloudPlatformScope)
	if err != nil {
		return "", err
	}
	return creds.ProjectID, nil
}

// DefaultProject resolves the project: GCP_PAL_PROJECT, PROJECT,
// GOOGLE_CLOUD_PROJECT, then the project attached to Application Default
// Credentials. The ADC lookup runs at most once per process.
func DefaultProject(ctx context.Context) (string, error) {
	env, err := LoadEnv()
	if err != nil {
		return "", err
	}
	if p := env.ProjectFromEnv(); p != "" {
		return p, nil
	}

	adcProjectOnce.Do(func() {
		adcProject, adcProjectErr = findADCProject(ctx)
	})
	if adcProjectErr != nil {
		return "", fmt.Errorf("%w: no project configured and ADC lookup failed: %v", ErrInvalidCredentials, adcProjectErr)
	}
	if adcProject == "" {
		return "", fmt.Errorf("%w: no project configured (set GCP_PAL_PROJECT)", ErrInvalidArgument)
	}
	return adcProject, nil
}

// DefaultLocationFromEnv returns GCP_PAL_LOCATION or DefaultLocation.
func DefaultLocationFromEnv() string {
	env, err := LoadEnv()
	if err != nil || env.Location == "" {
		return DefaultLocation
	}
	return env.Location
}
