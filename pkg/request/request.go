// Package request makes ID-token authenticated HTTP calls to Cloud Run
// services and Cloud Functions.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "request"

const (
	apiKind                = "idtoken"
	audienceOverride       = "request.audience"
	serviceAccountOverride = "request.service_account"
)

// WithAudience sets the token audience. It defaults to the URL's origin.
func WithAudience(audience string) gcp.Option {
	return gcp.WithOverride(audienceOverride, audience)
}

// WithServiceAccount sets the account tokens are minted for when ADC
// holds user credentials. It defaults to the project's default account.
func WithServiceAccount(email string) gcp.Option {
	return gcp.WithOverride(serviceAccountOverride, email)
}

// Request targets one URL.
type Request struct {
	URL      string
	Audience string

	// Client sends the requests. It defaults to http.DefaultClient.
	Client *http.Client

	settings *gcp.Settings
	minter   minter
	logger   *zap.Logger
}

// Response is a completed call. JSON holds the decoded body when the
// response declares a JSON content type.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	JSON       any
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// New prepares requests to rawURL.
func New(ctx context.Context, rawURL string, opts ...gcp.Option) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute URL", gcp.ErrInvalidArgument, rawURL)
	}
	s, err := gcp.Resolve(ctx, false, opts...)
	if err != nil {
		return nil, err
	}
	audience := s.Override(audienceOverride)
	if audience == "" {
		audience = u.Scheme + "://" + u.Host
	}
	sa := s.Override(serviceAccountOverride)
	if sa == "" && s.Project != "" {
		sa = gcp.DefaultServiceAccount(s.Project)
	}
	logger := s.Logger.With(zap.String("service", Service))

	m, ok := s.Injected[apiKind].(minter)
	if !ok {
		m = &sdkMinter{opts: s.ClientOptions, serviceAccount: sa, logger: logger}
	}
	return &Request{
		URL:      rawURL,
		Audience: audience,
		Client:   http.DefaultClient,
		settings: s,
		minter:   m,
		logger:   logger,
	}, nil
}

func (r *Request) String() string { return "Request(" + r.URL + ")" }

// Get sends a GET.
func (r *Request) Get(ctx context.Context) (*Response, error) {
	return r.Do(ctx, http.MethodGet, nil)
}

// Post sends payload as the body of a POST. Strings and byte slices are
// sent as-is; anything else is encoded as JSON.
func (r *Request) Post(ctx context.Context, payload any) (*Response, error) {
	return r.Do(ctx, http.MethodPost, payload)
}

// Put sends payload as the body of a PUT.
func (r *Request) Put(ctx context.Context, payload any) (*Response, error) {
	return r.Do(ctx, http.MethodPut, payload)
}

func encodeBody(payload any) (io.Reader, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(p), nil
	case string:
		return bytes.NewReader([]byte(p)), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", gcp.ErrInvalidArgument, err)
	}
	return bytes.NewReader(b), nil
}

// Do sends an authenticated request. Non-2xx responses are returned, not
// turned into errors.
func (r *Request) Do(ctx context.Context, method string, payload any) (resp *Response, err error) {
	defer r.settings.Observe(Service, method, time.Now(), &err)

	body, err := encodeBody(payload)
	if err != nil {
		return nil, gcp.Wrap(Service, method, r.URL, err)
	}
	token, err := r.minter.IDToken(ctx, r.Audience)
	if err != nil {
		return nil, gcp.Wrap(Service, method, r.URL, fmt.Errorf("%w: id token: %w", gcp.ErrInvalidCredentials, err))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, gcp.Wrap(Service, method, r.URL, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, gcp.Wrap(Service, method, r.URL, fmt.Errorf("%w: %w", gcp.ErrUnavailable, err))
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, gcp.Wrap(Service, method, r.URL, err)
	}
	resp = &Response{StatusCode: res.StatusCode, Header: res.Header, Body: data}
	if mt, _, perr := mime.ParseMediaType(res.Header.Get("Content-Type")); perr == nil && mt == "application/json" && len(data) > 0 {
		if jerr := json.Unmarshal(data, &resp.JSON); jerr != nil {
			r.logger.Warn("Request - Response claims JSON but does not parse", zap.Error(jerr))
			resp.JSON = nil
		}
	}
	r.logger.Debug("Request - Done", zap.String("method", method), zap.String("url", r.URL), zap.Int("status", res.StatusCode))
	return resp, nil
}
