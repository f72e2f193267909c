package pubsub

import (
	"context"
	"errors"

	pubsubapi "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the admin and publish surface the wrapper uses. Names are full
// resource names.
type api interface {
	ListTopics(ctx context.Context, project string) ([]string, error)
	ListSubscriptions(ctx context.Context, project string) ([]string, error)
	ListTopicSubscriptions(ctx context.Context, topic string) ([]string, error)
	GetTopic(ctx context.Context, name string) (*pubsubpb.Topic, error)
	GetSubscription(ctx context.Context, name string) (*pubsubpb.Subscription, error)
	CreateTopic(ctx context.Context, t *pubsubpb.Topic) (*pubsubpb.Topic, error)
	CreateSubscription(ctx context.Context, s *pubsubpb.Subscription) (*pubsubpb.Subscription, error)
	DeleteTopic(ctx context.Context, name string) error
	DeleteSubscription(ctx context.Context, name string) error
	Publish(ctx context.Context, topic string, msg *pubsubpb.PubsubMessage) (string, error)
	Close() error
}

type sdkAPI struct {
	pub *pubsubapi.PublisherClient
	sub *pubsubapi.SubscriberClient
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	pub, err := pubsubapi.NewPublisherClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	sub, err := pubsubapi.NewSubscriberClient(ctx, opts...)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	return &sdkAPI{pub: pub, sub: sub}, nil
}

func (a *sdkAPI) Close() error {
	return errors.Join(a.pub.Close(), a.sub.Close())
}

func (a *sdkAPI) ListTopics(ctx context.Context, project string) ([]string, error) {
	it := a.pub.ListTopics(ctx, &pubsubpb.ListTopicsRequest{Project: project})
	var out []string
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t.GetName())
	}
}

func (a *sdkAPI) ListSubscriptions(ctx context.Context, project string) ([]string, error) {
	it := a.sub.ListSubscriptions(ctx, &pubsubpb.ListSubscriptionsRequest{Project: project})
	var out []string
	for {
		s, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s.GetName())
	}
}

func (a *sdkAPI) ListTopicSubscriptions(ctx context.Context, topic string) ([]string, error) {
	it := a.pub.ListTopicSubscriptions(ctx, &pubsubpb.ListTopicSubscriptionsRequest{Topic: topic})
	var out []string
	for {
		name, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
}

func (a *sdkAPI) GetTopic(ctx context.Context, name string) (*pubsubpb.Topic, error) {
	return a.pub.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
}

func (a *sdkAPI) GetSubscription(ctx context.Context, name string) (*pubsubpb.Subscription, error) {
	return a.sub.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
}

func (a *sdkAPI) CreateTopic(ctx context.Context, t *pubsubpb.Topic) (*pubsubpb.Topic, error) {
	return a.pub.CreateTopic(ctx, t)
}

func (a *sdkAPI) CreateSubscription(ctx context.Context, s *pubsubpb.Subscription) (*pubsubpb.Subscription, error) {
	return a.sub.CreateSubscription(ctx, s)
}

func (a *sdkAPI) DeleteTopic(ctx context.Context, name string) error {
	return a.pub.DeleteTopic(ctx, &pubsubpb.DeleteTopicRequest{Topic: name})
}

func (a *sdkAPI) DeleteSubscription(ctx context.Context, name string) error {
	return a.sub.DeleteSubscription(ctx, &pubsubpb.DeleteSubscriptionRequest{Subscription: name})
}

func (a *sdkAPI) Publish(ctx context.Context, topic string, msg *pubsubpb.PubsubMessage) (string, error) {
	resp, err := a.pub.Publish(ctx, &pubsubpb.PublishRequest{Topic: topic, Messages: []*pubsubpb.PubsubMessage{msg}})
	if err != nil {
		return "", err
	}
	if len(resp.GetMessageIds()) == 0 {
		return "", errors.New("publish returned no message id")
	}
	return resp.GetMessageIds()[0], nil
}
