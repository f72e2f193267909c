package logging

import (
	"context"
	"errors"

	cloudlogging "cloud.google.com/go/logging"
	"cloud.google.com/go/logging/logadmin"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api reads log entries for one project.
type api interface {
	// Entries returns up to limit entries matching filter. A limit of 0
	// reads every match.
	Entries(ctx context.Context, filter string, newestFirst bool, limit int) ([]*cloudlogging.Entry, error)
	Close() error
}

type sdkAPI struct {
	client *logadmin.Client
}

func newSDKAPI(ctx context.Context, project string, opts []option.ClientOption) (api, error) {
	c, err := logadmin.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func (a *sdkAPI) Entries(ctx context.Context, filter string, newestFirst bool, limit int) ([]*cloudlogging.Entry, error) {
	opts := []logadmin.EntriesOption{logadmin.Filter(filter)}
	if newestFirst {
		opts = append(opts, logadmin.NewestFirst())
	}
	if limit > 0 {
		opts = append(opts, logadmin.PageSize(int32(min(limit, 1000))))
	}
	it := a.client.Entries(ctx, opts...)
	var out []*cloudlogging.Entry
	for limit <= 0 || len(out) < limit {
		e, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
