package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/gcpal/internal/observability"
	"github.com/3leaps/gcpal/pkg/bigquery"
	"github.com/3leaps/gcpal/pkg/gcp"
	"github.com/3leaps/gcpal/pkg/pubsub"
	"github.com/3leaps/gcpal/pkg/storage"
)

// Lister is a path handle that can list what lies below it.
type Lister interface {
	Ls(ctx context.Context) ([]string, error)
	Close() error
}

// Opener builds a Lister for a path.
type Opener func(ctx context.Context, path string, opts ...gcp.Option) (Lister, error)

// LsResponse is the body of the /v1/{service}/ls endpoints.
type LsResponse struct {
	Service string   `json:"service"`
	Path    string   `json:"path"`
	Items   []string `json:"items"`
}

// Browser serves read-only listings for storage, bigquery and pubsub.
type Browser struct {
	opts []gcp.Option

	mu      sync.RWMutex
	openers map[string]Opener
}

// Browsable services.
const (
	ServiceStorage  = "storage"
	ServiceBigQuery = "bigquery"
	ServicePubSub   = "pubsub"
)

// NewBrowser creates a Browser whose handles are built with opts.
func NewBrowser(opts ...gcp.Option) *Browser {
	return &Browser{
		opts: opts,
		openers: map[string]Opener{
			ServiceStorage:  openStorage,
			ServiceBigQuery: openBigQuery,
			ServicePubSub:   openPubSub,
		},
	}
}

// SetOpener replaces the opener for a service.
func (b *Browser) SetOpener(service string, o Opener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openers[service] = o
}

// Services lists the browsable service names.
func (b *Browser) Services() []string {
	return []string{ServiceStorage, ServiceBigQuery, ServicePubSub}
}

// LsHandler lists the resources under the ?path= query parameter.
func (b *Browser) LsHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.RLock()
		open, ok := b.openers[service]
		b.mu.RUnlock()
		if !ok {
			respondWithError(w, r, fmt.Errorf("%w: unknown service %q", gcp.ErrInvalidArgument, service))
			return
		}

		path := r.URL.Query().Get("path")
		h, err := open(r.Context(), path, b.opts...)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		defer func() {
			if cerr := h.Close(); cerr != nil {
				observability.CLILogger.Warn("Close failed", zap.String("service", service), zap.Error(cerr))
			}
		}()

		items, err := h.Ls(r.Context())
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		if items == nil {
			items = []string{}
		}
		writeJSON(w, http.StatusOK, LsResponse{Service: service, Path: path, Items: items})
	}
}

func openStorage(ctx context.Context, path string, opts ...gcp.Option) (Lister, error) {
	return storage.New(ctx, path, opts...)
}

func openBigQuery(ctx context.Context, path string, opts ...gcp.Option) (Lister, error) {
	return bigquery.New(ctx, path, opts...)
}

// pubsubLister lists short names.
type pubsubLister struct{ *pubsub.PubSub }

func (p pubsubLister) Ls(ctx context.Context) ([]string, error) {
	return p.PubSub.Ls(ctx, false)
}

func openPubSub(ctx context.Context, path string, opts ...gcp.Option) (Lister, error) {
	ps, err := pubsub.New(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	return pubsubLister{ps}, nil
}
