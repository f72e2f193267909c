package secretmanager

import (
	"context"
	"errors"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the part of the Secret Manager client the wrapper uses.
type api interface {
	ListSecrets(ctx context.Context, parent, filter string) ([]*secretmanagerpb.Secret, error)
	GetSecret(ctx context.Context, name string) (*secretmanagerpb.Secret, error)
	CreateSecret(ctx context.Context, parent, id string, s *secretmanagerpb.Secret) (*secretmanagerpb.Secret, error)
	AddVersion(ctx context.Context, secret string, data []byte) (*secretmanagerpb.SecretVersion, error)
	Access(ctx context.Context, version string) ([]byte, error)
	DeleteSecret(ctx context.Context, name string) error
	Close() error
}

type sdkAPI struct {
	client *secretmanager.Client
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	c, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func (a *sdkAPI) ListSecrets(ctx context.Context, parent, filter string) ([]*secretmanagerpb.Secret, error) {
	it := a.client.ListSecrets(ctx, &secretmanagerpb.ListSecretsRequest{Parent: parent, Filter: filter})
	var out []*secretmanagerpb.Secret
	for {
		s, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}

func (a *sdkAPI) GetSecret(ctx context.Context, name string) (*secretmanagerpb.Secret, error) {
	return a.client.GetSecret(ctx, &secretmanagerpb.GetSecretRequest{Name: name})
}

func (a *sdkAPI) CreateSecret(ctx context.Context, parent, id string, s *secretmanagerpb.Secret) (*secretmanagerpb.Secret, error) {
	return a.client.CreateSecret(ctx, &secretmanagerpb.CreateSecretRequest{Parent: parent, SecretId: id, Secret: s})
}

func (a *sdkAPI) AddVersion(ctx context.Context, secret string, data []byte) (*secretmanagerpb.SecretVersion, error) {
	return a.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  secret,
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	})
}

func (a *sdkAPI) Access(ctx context.Context, version string) ([]byte, error) {
	resp, err := a.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: version})
	if err != nil {
		return nil, err
	}
	return resp.GetPayload().GetData(), nil
}

func (a *sdkAPI) DeleteSecret(ctx context.Context, name string) error {
	return a.client.DeleteSecret(ctx, &secretmanagerpb.DeleteSecretRequest{Name: name})
}
