package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/3leaps/gcpal/pkg/gcp"
)

type fakeAPI struct {
	mu        sync.Mutex
	topics    map[string]*pubsubpb.Topic
	subs      map[string]*pubsubpb.Subscription
	published []*pubsubpb.PubsubMessage
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{topics: map[string]*pubsubpb.Topic{}, subs: map[string]*pubsubpb.Subscription{}}
}

func (f *fakeAPI) ListTopics(_ context.Context, project string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.topics {
		if strings.HasPrefix(name, project+"/") {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeAPI) ListSubscriptions(_ context.Context, project string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.subs {
		if strings.HasPrefix(name, project+"/") {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeAPI) ListTopicSubscriptions(_ context.Context, topic string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, s := range f.subs {
		if s.GetTopic() == topic {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeAPI) GetTopic(_ context.Context, name string) (*pubsubpb.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "Resource not found")
	}
	return t, nil
}

func (f *fakeAPI) GetSubscription(_ context.Context, name string) (*pubsubpb.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "Resource not found")
	}
	return s, nil
}

func (f *fakeAPI) CreateTopic(_ context.Context, t *pubsubpb.Topic) (*pubsubpb.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.topics[t.Name]; ok {
		return nil, status.Error(codes.AlreadyExists, "Topic already exists")
	}
	f.topics[t.Name] = t
	return t, nil
}

func (f *fakeAPI) CreateSubscription(_ context.Context, s *pubsubpb.Subscription) (*pubsubpb.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[s.Name]; ok {
		return nil, status.Error(codes.AlreadyExists, "Subscription already exists")
	}
	f.subs[s.Name] = s
	return s, nil
}

func (f *fakeAPI) DeleteTopic(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.topics[name]; !ok {
		return status.Error(codes.NotFound, "Resource not found")
	}
	delete(f.topics, name)
	return nil
}

func (f *fakeAPI) DeleteSubscription(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[name]; !ok {
		return status.Error(codes.NotFound, "Resource not found")
	}
	delete(f.subs, name)
	return nil
}

func (f *fakeAPI) Publish(_ context.Context, topic string, msg *pubsubpb.PubsubMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.topics[topic]; !ok {
		return "", status.Error(codes.NotFound, "Resource not found")
	}
	f.published = append(f.published, msg)
	return fmt.Sprintf("m%d", len(f.published)), nil
}

func (f *fakeAPI) Close() error { return nil }

func newTestPS(t *testing.T, f *fakeAPI, path string, opts ...gcp.Option) *PubSub {
	t.Helper()
	opts = append([]gcp.Option{gcp.WithProject("p"), gcp.WithInjectedClient(apiKind, f)}, opts...)
	ps, err := New(context.Background(), path, opts...)
	require.NoError(t, err)
	return ps
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Path
	}{
		{name: "empty", raw: "", want: Path{Project: "def"}},
		{name: "project", raw: "p", want: Path{Project: "p"}},
		{name: "topic", raw: "p/t", want: Path{Project: "p", Topic: "t"}},
		{name: "subscription", raw: "p/t/s", want: Path{Project: "p", Topic: "t", Subscription: "s"}},
		{name: "full topic", raw: "projects/p/topics/t", want: Path{Project: "p", Topic: "t"}},
		{name: "full subscription", raw: "projects/p/topics/t/subscriptions/s", want: Path{Project: "p", Topic: "t", Subscription: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePath(tt.raw, "def", "", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := ParsePath("p", "", "t", "s")
	require.NoError(t, err)
	assert.Equal(t, LevelSubscription, got.Level())
	assert.Equal(t, "projects/p/subscriptions/s", got.SubscriptionName())

	_, err = ParsePath("a/b/c/d", "", "", "")
	assert.True(t, gcp.IsInvalidPath(err))
	_, err = ParsePath("", "", "", "")
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestPubSub_TopicLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	topic := newTestPS(t, f, "p/orders")

	created, err := topic.CreateTopic(ctx, TopicOptions{
		Labels:            map[string]string{"env": "test"},
		Schema:            "projects/p/schemas/order",
		Encoding:          pubsubpb.Encoding_JSON,
		RetentionDuration: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/topics/orders", created.GetName())
	assert.Equal(t, pubsubpb.Encoding_JSON, created.GetSchemaSettings().GetEncoding())
	assert.Equal(t, time.Hour, created.GetMessageRetentionDuration().AsDuration())

	_, err = topic.CreateTopic(ctx, TopicOptions{})
	assert.True(t, gcp.IsAlreadyExists(err))

	again, err := topic.CreateTopic(ctx, TopicOptions{IfExists: gcp.IfExistsIgnore})
	require.NoError(t, err)
	assert.Equal(t, "test", again.GetLabels()["env"])

	names, err := newTestPS(t, f, "p").Ls(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, names)

	full, err := newTestPS(t, f, "p").LsTopics(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/p/topics/orders"}, full)

	ok, err := topic.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, topic.Delete(ctx, gcp.ErrorsRaise))
	ok, err = topic.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, gcp.IsNotFound(topic.Delete(ctx, gcp.ErrorsRaise)))
	assert.NoError(t, topic.Delete(ctx, gcp.ErrorsIgnore))
}

func TestPubSub_Publish(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	topic := newTestPS(t, f, "p/events")
	_, err := topic.Create(ctx, gcp.IfExistsError)
	require.NoError(t, err)

	tests := []struct {
		name string
		data any
		want string
	}{
		{name: "string", data: "hello", want: "hello"},
		{name: "bytes", data: []byte{0x01, 0x02}, want: "\x01\x02"},
		{name: "map", data: map[string]any{"key": "value"}, want: `{"key":"value"}`},
		{name: "number", data: 7, want: "7"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := topic.Publish(ctx, tt.data, map[string]string{"n": tt.name})
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("m%d", i+1), id)
			msg := f.published[i]
			assert.Equal(t, tt.want, string(msg.GetData()))
			assert.Equal(t, tt.name, msg.GetAttributes()["n"])
		})
	}

	_, err = newTestPS(t, f, "p").Publish(ctx, "x", nil)
	assert.True(t, gcp.IsInvalidPath(err))

	_, err = topic.Publish(ctx, func() {}, nil)
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)
}

func TestPubSub_SubscriptionRequest(t *testing.T) {
	f := newFakeAPI()
	ps := newTestPS(t, f, "p/t/s")

	req := ps.SubscriptionRequest(SubscriptionOptions{})
	assert.Equal(t, "projects/p/subscriptions/s", req.GetName())
	assert.Equal(t, "projects/p/topics/t", req.GetTopic())
	assert.Equal(t, int32(10), req.GetAckDeadlineSeconds())
	assert.Equal(t, 10*time.Second, req.GetRetryPolicy().GetMinimumBackoff().AsDuration())
	assert.Equal(t, 600*time.Second, req.GetRetryPolicy().GetMaximumBackoff().AsDuration())
	assert.Nil(t, req.GetBigqueryConfig())
	assert.Nil(t, req.GetCloudStorageConfig())
	assert.Nil(t, req.GetPushConfig())
	assert.Nil(t, req.GetDeadLetterPolicy())

	req = ps.SubscriptionRequest(SubscriptionOptions{
		AckDeadline:         30 * time.Second,
		RetentionDuration:   48 * time.Hour,
		DeadLetterTopic:     "dlq",
		MaxDeliveryAttempts: 5,
		BigQueryTable:       "p.ds.events",
		WriteMetadata:       true,
		StorageBucket:       "gs://archive",
		FilenamePrefix:      "events/",
		PushEndpoint:        "https://example.com/push",
		Filter:              `attributes.kind = "a"`,
	})
	assert.Equal(t, int32(30), req.GetAckDeadlineSeconds())
	assert.Equal(t, 48*time.Hour, req.GetMessageRetentionDuration().AsDuration())
	assert.Equal(t, "projects/p/topics/dlq", req.GetDeadLetterPolicy().GetDeadLetterTopic())
	assert.Equal(t, int32(5), req.GetDeadLetterPolicy().GetMaxDeliveryAttempts())
	assert.Equal(t, "p.ds.events", req.GetBigqueryConfig().GetTable())
	assert.True(t, req.GetBigqueryConfig().GetWriteMetadata())
	assert.Equal(t, "archive", req.GetCloudStorageConfig().GetBucket())
	assert.Equal(t, "https://example.com/push", req.GetPushConfig().GetPushEndpoint())
	assert.Equal(t, `attributes.kind = "a"`, req.GetFilter())
}

func TestPubSub_SubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	_, err := newTestPS(t, f, "p/t").CreateTopic(ctx, TopicOptions{})
	require.NoError(t, err)

	sub := newTestPS(t, f, "p/t/s1")
	_, err = sub.Create(ctx, gcp.IfExistsError)
	require.NoError(t, err)
	_, err = newTestPS(t, f, "p/t/s2").CreateSubscription(ctx, SubscriptionOptions{Labels: map[string]string{"a": "b"}})
	require.NoError(t, err)

	_, err = sub.CreateSubscription(ctx, SubscriptionOptions{})
	assert.True(t, gcp.IsAlreadyExists(err))
	got, err := sub.Create(ctx, gcp.IfExistsIgnore)
	require.NoError(t, err)
	assert.Equal(t, "projects/p/subscriptions/s1", got.(*pubsubpb.Subscription).GetName())

	names, err := newTestPS(t, f, "p/t").Ls(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, names)

	names, err = newTestPS(t, f, "p").LsSubscriptions(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"projects/p/subscriptions/s1", "projects/p/subscriptions/s2"}, names)

	_, err = sub.Ls(ctx, false)
	assert.True(t, gcp.IsInvalidPath(err))

	_, err = newTestPS(t, f, "p/t").CreateSubscription(ctx, SubscriptionOptions{})
	assert.True(t, gcp.IsInvalidPath(err))

	require.NoError(t, sub.Delete(ctx, gcp.ErrorsRaise))
	ok, err := sub.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = newTestPS(t, f, "p").Get(ctx)
	assert.True(t, gcp.IsInvalidPath(err))
}
