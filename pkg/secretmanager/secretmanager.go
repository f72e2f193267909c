// Package secretmanager creates, lists and reads Secret Manager secrets.
package secretmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "secretmanager"

// LatestVersion is the alias for the newest enabled version.
const LatestVersion = "latest"

const apiKind = "secretmanager"

// SecretManager is a handle on one secret, or on the project's secrets
// when no name is given.
type SecretManager struct {
	project  string
	name     string
	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New resolves the client. name is a secret ID or a full
// "projects/p/secrets/s" resource name.
func New(ctx context.Context, name string, opts ...gcp.Option) (*SecretManager, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	project := s.Project
	if strings.HasPrefix(name, "projects/") {
		segs := gcp.ResourceSegments(name)
		if segs["secrets"] == "" {
			return nil, fmt.Errorf("%w: %q names no secret", gcp.ErrInvalidPath, name)
		}
		project, name = segs["projects"], segs["secrets"]
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: secret name %q", gcp.ErrInvalidPath, name)
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", name, err)
	}
	return &SecretManager{
		project:  project,
		name:     name,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Name returns the secret ID.
func (m *SecretManager) Name() string { return m.name }

// Parent returns "projects/{project}".
func (m *SecretManager) Parent() string { return gcp.ProjectPath(m.project) }

// FullName returns "projects/{project}/secrets/{name}".
func (m *SecretManager) FullName() string { return m.Parent() + "/secrets/" + m.name }

func (m *SecretManager) String() string { return "SecretManager(" + m.name + ")" }

func (m *SecretManager) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, m.FullName(), err)
}

func (m *SecretManager) requireName(op string) error {
	if m.name == "" {
		return m.wrap(op, fmt.Errorf("%w: a secret name is required", gcp.ErrInvalidPath))
	}
	return nil
}

// LabelFilter builds a list filter from labels. An empty value matches any
// secret carrying the key.
func LabelFilter(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	clauses := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := labels[k]; v != "" {
			clauses = append(clauses, "labels."+k+"="+v)
		} else {
			clauses = append(clauses, "labels."+k)
		}
	}
	return strings.Join(clauses, " AND ")
}

// LsOptions controls Ls.
type LsOptions struct {
	Labels map[string]string

	// Filter is a raw list filter. It is combined with Labels.
	Filter string

	FullName bool
}

// Ls lists the project's secrets, sorted.
func (m *SecretManager) Ls(ctx context.Context, opts LsOptions) (out []string, err error) {
	defer m.settings.Observe(Service, "Ls", time.Now(), &err)

	filter := opts.Filter
	if lf := LabelFilter(opts.Labels); lf != "" {
		if filter != "" {
			filter += " AND "
		}
		filter += lf
	}
	secrets, err := m.api.ListSecrets(ctx, m.Parent(), filter)
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", m.Parent(), err)
	}
	out = make([]string, 0, len(secrets))
	for _, s := range secrets {
		if opts.FullName {
			out = append(out, s.GetName())
		} else {
			out = append(out, gcp.ShortName(s.GetName()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Get returns the secret's metadata.
func (m *SecretManager) Get(ctx context.Context) (s *secretmanagerpb.Secret, err error) {
	defer m.settings.Observe(Service, "Get", time.Now(), &err)

	if err := m.requireName("Get"); err != nil {
		return nil, err
	}
	s, err = m.api.GetSecret(ctx, m.FullName())
	if err != nil {
		return nil, m.wrap("Get", err)
	}
	return s, nil
}

// Exists reports whether the secret exists.
func (m *SecretManager) Exists(ctx context.Context) (bool, error) {
	_, err := m.Get(ctx)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateOptions controls Create.
type CreateOptions struct {
	Labels map[string]string

	// IfExists decides what happens when the secret exists: Update adds a
	// version, Replace deletes and recreates it, anything else fails.
	IfExists gcp.IfExists
}

func payload(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err)
	}
	return b, nil
}

// Create creates the secret with automatic replication and stores value
// as its first version. A nil or empty value creates the secret without a
// version. It returns the full secret name.
func (m *SecretManager) Create(ctx context.Context, value any, opts CreateOptions) (name string, err error) {
	defer m.settings.Observe(Service, "Create", time.Now(), &err)

	if err := m.requireName("Create"); err != nil {
		return "", err
	}
	data, err := payload(value)
	if err != nil {
		return "", m.wrap("Create", err)
	}

	secret := &secretmanagerpb.Secret{
		Labels: opts.Labels,
		Replication: &secretmanagerpb.Replication{
			Replication: &secretmanagerpb.Replication_Automatic_{Automatic: &secretmanagerpb.Replication_Automatic{}},
		},
	}
	_, err = m.api.CreateSecret(ctx, m.Parent(), m.name, secret)
	switch {
	case err == nil:
		m.logger.Info("Secret Manager - Created secret", zap.String("secret", m.name))
	case gcp.IsAlreadyExists(gcp.Classify(err)):
		switch opts.IfExists {
		case gcp.IfExistsUpdate:
			m.logger.Info("Secret Manager - Secret exists, adding version", zap.String("secret", m.name))
		case gcp.IfExistsReplace:
			m.logger.Info("Secret Manager - Secret exists, recreating", zap.String("secret", m.name))
			if err := m.Delete(ctx, gcp.ErrorsRaise); err != nil {
				return "", err
			}
			return m.Create(ctx, value, CreateOptions{Labels: opts.Labels})
		default:
			return "", m.wrap("Create", err)
		}
	default:
		return "", m.wrap("Create", err)
	}

	if len(data) > 0 {
		if _, err := m.api.AddVersion(ctx, m.FullName(), data); err != nil {
			return "", m.wrap("Create", err)
		}
		m.logger.Info("Secret Manager - Added version", zap.String("secret", m.name))
	}
	return m.FullName(), nil
}

// Delete deletes the secret and all its versions.
func (m *SecretManager) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer m.settings.Observe(Service, "Delete", time.Now(), &err)

	if err := m.requireName("Delete"); err != nil {
		return err
	}
	if err := m.api.DeleteSecret(ctx, m.FullName()); err != nil {
		return mode.Handle(m.wrap("Delete", err))
	}
	m.logger.Info("Secret Manager - Deleted secret", zap.String("secret", m.name))
	return nil
}

// Value returns a version's payload as a string, or, with decodeJSON set
// and a valid JSON payload, the decoded value. An empty version reads
// LatestVersion.
func (m *SecretManager) Value(ctx context.Context, version string, decodeJSON bool) (v any, err error) {
	defer m.settings.Observe(Service, "Value", time.Now(), &err)

	if err := m.requireName("Value"); err != nil {
		return nil, err
	}
	if version == "" {
		version = LatestVersion
	}
	data, err := m.api.Access(ctx, m.FullName()+"/versions/"+version)
	if err != nil {
		return nil, m.wrap("Value", err)
	}
	if decodeJSON {
		var decoded any
		if json.Unmarshal(data, &decoded) == nil {
			return decoded, nil
		}
	}
	return string(data), nil
}

// Close releases the client when it is not shared.
func (m *SecretManager) Close() error {
	if _, injected := m.settings.Injected[apiKind]; injected || m.settings.Cacheable() {
		return nil
	}
	return m.api.Close()
}
