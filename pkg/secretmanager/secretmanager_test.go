package secretmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/3leaps/gcpal/pkg/gcp"
)

type fakeAPI struct {
	mu       sync.Mutex
	secrets  map[string]*secretmanagerpb.Secret
	versions map[string][][]byte
	filters  []string
	deleted  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{secrets: map[string]*secretmanagerpb.Secret{}, versions: map[string][][]byte{}}
}

func (f *fakeAPI) ListSecrets(_ context.Context, parent, filter string) ([]*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	var out []*secretmanagerpb.Secret
	for name, s := range f.secrets {
		if strings.HasPrefix(name, parent+"/") {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeAPI) GetSecret(_ context.Context, name string) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "Secret not found")
	}
	return s, nil
}

func (f *fakeAPI) CreateSecret(_ context.Context, parent, id string, s *secretmanagerpb.Secret) (*secretmanagerpb.Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := parent + "/secrets/" + id
	if _, ok := f.secrets[name]; ok {
		return nil, status.Error(codes.AlreadyExists, "Secret already exists")
	}
	s.Name = name
	f.secrets[name] = s
	return s, nil
}

func (f *fakeAPI) AddVersion(_ context.Context, secret string, data []byte) (*secretmanagerpb.SecretVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[secret] = append(f.versions[secret], data)
	return &secretmanagerpb.SecretVersion{Name: fmt.Sprintf("%s/versions/%d", secret, len(f.versions[secret]))}, nil
}

func (f *fakeAPI) Access(_ context.Context, version string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	secret, v, _ := strings.Cut(version, "/versions/")
	vs := f.versions[secret]
	if len(vs) == 0 {
		return nil, status.Error(codes.NotFound, "no versions")
	}
	if v == LatestVersion {
		return vs[len(vs)-1], nil
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 || n > len(vs) {
		return nil, status.Error(codes.NotFound, "no such version")
	}
	return vs[n-1], nil
}

func (f *fakeAPI) DeleteSecret(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[name]; !ok {
		return status.Error(codes.NotFound, "Secret not found")
	}
	delete(f.secrets, name)
	delete(f.versions, name)
	f.deleted++
	return nil
}

func (f *fakeAPI) Close() error { return nil }

func newTestSM(t *testing.T, f *fakeAPI, name string) *SecretManager {
	t.Helper()
	m, err := New(context.Background(), name, gcp.WithProject("p"), gcp.WithInjectedClient(apiKind, f))
	require.NoError(t, err)
	return m
}

func TestNew_Names(t *testing.T) {
	f := newFakeAPI()
	m := newTestSM(t, f, "projects/other/secrets/token")
	assert.Equal(t, "token", m.Name())
	assert.Equal(t, "projects/other/secrets/token", m.FullName())

	m = newTestSM(t, f, "token")
	assert.Equal(t, "projects/p/secrets/token", m.FullName())

	_, err := New(context.Background(), "a/b", gcp.WithProject("p"), gcp.WithInjectedClient(apiKind, f))
	assert.True(t, gcp.IsInvalidPath(err))
	_, err = New(context.Background(), "projects/p", gcp.WithProject("p"), gcp.WithInjectedClient(apiKind, f))
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestLabelFilter(t *testing.T) {
	assert.Equal(t, "", LabelFilter(nil))
	assert.Equal(t, "labels.env=dev", LabelFilter(map[string]string{"env": "dev"}))
	assert.Equal(t, "labels.a AND labels.b=2", LabelFilter(map[string]string{"b": "2", "a": ""}))
}

func TestSecretManager_CreateAndValue(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	m := newTestSM(t, f, "api-key")

	name, err := m.Create(ctx, "s3cret", CreateOptions{Labels: map[string]string{"env": "dev"}})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/secrets/api-key", name)
	assert.NotNil(t, f.secrets[name].GetReplication().GetAutomatic())

	_, err = m.Create(ctx, "again", CreateOptions{})
	assert.True(t, gcp.IsAlreadyExists(err))

	_, err = m.Create(ctx, map[string]any{"user": "u", "n": 1}, CreateOptions{IfExists: gcp.IfExistsUpdate})
	require.NoError(t, err)
	assert.Len(t, f.versions[name], 2)

	v, err := m.Value(ctx, "", true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "u", "n": 1.0}, v)

	v, err = m.Value(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1,"user":"u"}`, v)

	v, err = m.Value(ctx, "1", true)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v, "non-JSON payloads come back as strings")

	_, err = m.Create(ctx, []byte("fresh"), CreateOptions{IfExists: gcp.IfExistsReplace})
	require.NoError(t, err)
	assert.Equal(t, 1, f.deleted)
	assert.Equal(t, [][]byte{[]byte("fresh")}, f.versions[name])
}

func TestSecretManager_CreateWithoutValue(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	m := newTestSM(t, f, "empty")

	_, err := m.Create(ctx, nil, CreateOptions{})
	require.NoError(t, err)
	assert.Empty(t, f.versions)

	_, err = m.Value(ctx, "", true)
	assert.True(t, gcp.IsNotFound(err))
}

func TestSecretManager_LsExistsDelete(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	for _, n := range []string{"b", "a"} {
		_, err := newTestSM(t, f, n).Create(ctx, "v", CreateOptions{})
		require.NoError(t, err)
	}

	root := newTestSM(t, f, "")
	names, err := root.Ls(ctx, LsOptions{Labels: map[string]string{"env": "dev"}, Filter: "name:a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, "name:a AND labels.env=dev", f.filters[0])

	full, err := root.Ls(ctx, LsOptions{FullName: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/p/secrets/a", "projects/p/secrets/b"}, full)

	_, err = root.Get(ctx)
	assert.True(t, gcp.IsInvalidPath(err))

	a := newTestSM(t, f, "a")
	ok, err := a.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Delete(ctx, gcp.ErrorsRaise))
	ok, err = a.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, gcp.IsNotFound(a.Delete(ctx, gcp.ErrorsRaise)))
	assert.NoError(t, a.Delete(ctx, gcp.ErrorsIgnore))
}
