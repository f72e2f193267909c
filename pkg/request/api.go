package request

import (
	"context"
	"sync"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"go.uber.org/zap"
	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"
)

// minter produces ID tokens for an audience.
type minter interface {
	IDToken(ctx context.Context, audience string) (string, error)
}

// sdkMinter asks Application Default Credentials for an ID token. User
// credentials cannot mint one, so on failure it asks the IAM Credentials
// API to sign a token as serviceAccount instead.
type sdkMinter struct {
	opts           []option.ClientOption
	serviceAccount string
	logger         *zap.Logger

	once   sync.Once
	iam    *credentials.IamCredentialsClient
	iamErr error
}

func (m *sdkMinter) IDToken(ctx context.Context, audience string) (string, error) {
	ts, err := idtoken.NewTokenSource(ctx, audience, m.opts...)
	if err == nil {
		tok, terr := ts.Token()
		if terr == nil {
			return tok.AccessToken, nil
		}
		err = terr
	}
	if m.serviceAccount == "" {
		return "", err
	}
	m.logger.Debug("Request - Minting ID token through IAM Credentials",
		zap.String("service_account", m.serviceAccount), zap.Error(err))
	return m.viaIAM(ctx, audience)
}

func (m *sdkMinter) viaIAM(ctx context.Context, audience string) (string, error) {
	m.once.Do(func() {
		m.iam, m.iamErr = credentials.NewIamCredentialsClient(ctx, m.opts...)
	})
	if m.iamErr != nil {
		return "", m.iamErr
	}
	resp, err := m.iam.GenerateIdToken(ctx, &credentialspb.GenerateIdTokenRequest{
		Name:         "projects/-/serviceAccounts/" + m.serviceAccount,
		Audience:     audience,
		IncludeEmail: true,
	})
	if err != nil {
		return "", err
	}
	return resp.GetToken(), nil
}
