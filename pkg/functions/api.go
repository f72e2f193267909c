package functions

import (
	"context"
	"errors"

	functions "cloud.google.com/go/functions/apiv2"
	"cloud.google.com/go/functions/apiv2/functionspb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the Cloud Functions (2nd gen) surface the wrapper needs. Writes
// return once the long-running operation has finished.
type api interface {
	ListFunctions(ctx context.Context, parent string) ([]*functionspb.Function, error)
	GetFunction(ctx context.Context, name string) (*functionspb.Function, error)
	CreateFunction(ctx context.Context, parent, id string, fn *functionspb.Function) (*functionspb.Function, error)
	UpdateFunction(ctx context.Context, fn *functionspb.Function) (*functionspb.Function, error)
	DeleteFunction(ctx context.Context, name string) error
	Close() error
}

type sdkAPI struct {
	client *functions.FunctionClient
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	c, err := functions.NewFunctionClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func (a *sdkAPI) ListFunctions(ctx context.Context, parent string) ([]*functionspb.Function, error) {
	it := a.client.ListFunctions(ctx, &functionspb.ListFunctionsRequest{Parent: parent})
	var out []*functionspb.Function
	for {
		fn, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
}

func (a *sdkAPI) GetFunction(ctx context.Context, name string) (*functionspb.Function, error) {
	return a.client.GetFunction(ctx, &functionspb.GetFunctionRequest{Name: name})
}

func (a *sdkAPI) CreateFunction(ctx context.Context, parent, id string, fn *functionspb.Function) (*functionspb.Function, error) {
	op, err := a.client.CreateFunction(ctx, &functionspb.CreateFunctionRequest{
		Parent:     parent,
		FunctionId: id,
		Function:   fn,
	})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

// UpdateFunction sends no field mask, so every field of fn replaces the
// deployed one.
func (a *sdkAPI) UpdateFunction(ctx context.Context, fn *functionspb.Function) (*functionspb.Function, error) {
	op, err := a.client.UpdateFunction(ctx, &functionspb.UpdateFunctionRequest{Function: fn})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteFunction(ctx context.Context, name string) error {
	op, err := a.client.DeleteFunction(ctx, &functionspb.DeleteFunctionRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}
