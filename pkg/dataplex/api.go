package dataplex

import (
	"context"
	"errors"

	dataplex "cloud.google.com/go/dataplex/apiv1"
	"cloud.google.com/go/dataplex/apiv1/dataplexpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the Dataplex surface the wrapper needs. Create and delete calls
// return once the long-running operation has finished.
type api interface {
	ListLakes(ctx context.Context, parent string) ([]*dataplexpb.Lake, error)
	ListZones(ctx context.Context, parent string) ([]*dataplexpb.Zone, error)
	ListAssets(ctx context.Context, parent string) ([]*dataplexpb.Asset, error)
	GetLake(ctx context.Context, name string) (*dataplexpb.Lake, error)
	GetZone(ctx context.Context, name string) (*dataplexpb.Zone, error)
	GetAsset(ctx context.Context, name string) (*dataplexpb.Asset, error)
	CreateLake(ctx context.Context, parent, id string, lake *dataplexpb.Lake) (*dataplexpb.Lake, error)
	CreateZone(ctx context.Context, parent, id string, zone *dataplexpb.Zone) (*dataplexpb.Zone, error)
	CreateAsset(ctx context.Context, parent, id string, asset *dataplexpb.Asset) (*dataplexpb.Asset, error)
	DeleteLake(ctx context.Context, name string) error
	DeleteZone(ctx context.Context, name string) error
	DeleteAsset(ctx context.Context, name string) error
	Close() error
}

type sdkAPI struct {
	client *dataplex.Client
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	c, err := dataplex.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

// drain collects an SDK iterator.
func drain[T any](next func() (T, error)) ([]T, error) {
	var out []T
	for {
		v, err := next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func (a *sdkAPI) ListLakes(ctx context.Context, parent string) ([]*dataplexpb.Lake, error) {
	return drain(a.client.ListLakes(ctx, &dataplexpb.ListLakesRequest{Parent: parent}).Next)
}

func (a *sdkAPI) ListZones(ctx context.Context, parent string) ([]*dataplexpb.Zone, error) {
	return drain(a.client.ListZones(ctx, &dataplexpb.ListZonesRequest{Parent: parent}).Next)
}

func (a *sdkAPI) ListAssets(ctx context.Context, parent string) ([]*dataplexpb.Asset, error) {
	return drain(a.client.ListAssets(ctx, &dataplexpb.ListAssetsRequest{Parent: parent}).Next)
}

func (a *sdkAPI) GetLake(ctx context.Context, name string) (*dataplexpb.Lake, error) {
	return a.client.GetLake(ctx, &dataplexpb.GetLakeRequest{Name: name})
}

func (a *sdkAPI) GetZone(ctx context.Context, name string) (*dataplexpb.Zone, error) {
	return a.client.GetZone(ctx, &dataplexpb.GetZoneRequest{Name: name})
}

func (a *sdkAPI) GetAsset(ctx context.Context, name string) (*dataplexpb.Asset, error) {
	return a.client.GetAsset(ctx, &dataplexpb.GetAssetRequest{Name: name})
}

func (a *sdkAPI) CreateLake(ctx context.Context, parent, id string, lake *dataplexpb.Lake) (*dataplexpb.Lake, error) {
	op, err := a.client.CreateLake(ctx, &dataplexpb.CreateLakeRequest{Parent: parent, LakeId: id, Lake: lake})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) CreateZone(ctx context.Context, parent, id string, zone *dataplexpb.Zone) (*dataplexpb.Zone, error) {
	op, err := a.client.CreateZone(ctx, &dataplexpb.CreateZoneRequest{Parent: parent, ZoneId: id, Zone: zone})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) CreateAsset(ctx context.Context, parent, id string, asset *dataplexpb.Asset) (*dataplexpb.Asset, error) {
	op, err := a.client.CreateAsset(ctx, &dataplexpb.CreateAssetRequest{Parent: parent, AssetId: id, Asset: asset})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteLake(ctx context.Context, name string) error {
	op, err := a.client.DeleteLake(ctx, &dataplexpb.DeleteLakeRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteZone(ctx context.Context, name string) error {
	op, err := a.client.DeleteZone(ctx, &dataplexpb.DeleteZoneRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteAsset(ctx context.Context, name string) error {
	op, err := a.client.DeleteAsset(ctx, &dataplexpb.DeleteAssetRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}
