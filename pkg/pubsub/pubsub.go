// Package pubsub addresses Pub/Sub topics and subscriptions with
// "project/topic/subscription" paths.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "pubsub"

const (
	apiKind              = "pubsub"
	topicOverride        = "pubsub.topic"
	subscriptionOverride = "pubsub.subscription"
)

// Subscription defaults.
const (
	DefaultAckDeadline    = 10 * time.Second
	DefaultMinimumBackoff = 10 * time.Second
	DefaultMaximumBackoff = 600 * time.Second
)

// Level is the kind of resource a path points at.
type Level int

const (
	LevelProject Level = iota
	LevelTopic
	LevelSubscription
)

func (l Level) String() string {
	switch l {
	case LevelProject:
		return "project"
	case LevelTopic:
		return "topic"
	case LevelSubscription:
		return "subscription"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// WithTopic sets the topic when the path does not name one.
func WithTopic(name string) gcp.Option { return gcp.WithOverride(topicOverride, name) }

// WithSubscription sets the subscription when the path does not name one.
func WithSubscription(name string) gcp.Option {
	return gcp.WithOverride(subscriptionOverride, name)
}

// Path is a parsed Pub/Sub path.
type Path struct {
	Project      string
	Topic        string
	Subscription string
}

// Level reports the deepest part that is set.
func (p Path) Level() Level {
	switch {
	case p.Subscription != "":
		return LevelSubscription
	case p.Topic != "":
		return LevelTopic
	}
	return LevelProject
}

func (p Path) String() string {
	parts := []string{p.Project}
	if p.Topic != "" {
		parts = append(parts, p.Topic)
	}
	if p.Subscription != "" {
		parts = append(parts, p.Subscription)
	}
	return strings.Join(parts, "/")
}

// ProjectName returns "projects/{project}".
func (p Path) ProjectName() string { return gcp.ProjectPath(p.Project) }

// TopicName returns "projects/{project}/topics/{topic}".
func (p Path) TopicName() string { return p.ProjectName() + "/topics/" + p.Topic }

// SubscriptionName returns "projects/{project}/subscriptions/{subscription}".
func (p Path) SubscriptionName() string {
	return p.ProjectName() + "/subscriptions/" + p.Subscription
}

// ParsePath accepts "project", "project/topic", "project/topic/sub" and
// the equivalent "projects/p/topics/t/subscriptions/s" forms. An empty
// path is the default project.
func ParsePath(raw, defaultProject, topic, subscription string) (Path, error) {
	var p Path
	if strings.HasPrefix(raw, "projects/") {
		segs := gcp.ResourceSegments(raw)
		p = Path{Project: segs["projects"], Topic: segs["topics"], Subscription: segs["subscriptions"]}
	} else {
		parts := gcp.SplitPath(raw, "/")
		if len(parts) > 3 {
			return Path{}, fmt.Errorf("%w: %q has more than 3 parts", gcp.ErrInvalidPath, raw)
		}
		for i, s := range parts {
			switch i {
			case 0:
				p.Project = s
			case 1:
				p.Topic = s
			case 2:
				p.Subscription = s
			}
		}
	}
	if p.Project == "" {
		p.Project = defaultProject
	}
	if p.Topic == "" {
		p.Topic = topic
	}
	if p.Subscription == "" {
		p.Subscription = subscription
	}
	if p.Project == "" {
		return Path{}, fmt.Errorf("%w: no project in %q", gcp.ErrInvalidPath, raw)
	}
	return p, nil
}

// PubSub is a handle on a project, topic or subscription.
type PubSub struct {
	path     Path
	settings *gcp.Settings
	api      api
	logger   *zap.Logger
}

// New parses path and resolves the client.
func New(ctx context.Context, path string, opts ...gcp.Option) (*PubSub, error) {
	s, err := gcp.Resolve(ctx, path == "", opts...)
	if err != nil {
		return nil, err
	}
	p, err := ParsePath(path, s.Project, s.Override(topicOverride), s.Override(subscriptionOverride))
	if err != nil {
		return nil, err
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", p.String(), err)
	}
	return &PubSub{
		path:     p,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
	}, nil
}

// Path returns the parsed path.
func (ps *PubSub) Path() Path { return ps.path }

// Level returns the resource level.
func (ps *PubSub) Level() Level { return ps.path.Level() }

func (ps *PubSub) String() string { return "PubSub(" + ps.path.String() + ")" }

func (ps *PubSub) wrap(op string, err error) error {
	return gcp.Wrap(Service, op, ps.path.String(), err)
}

func (ps *PubSub) requireTopic(op string) error {
	if ps.path.Topic == "" {
		return ps.wrap(op, fmt.Errorf("%w: a topic is required", gcp.ErrInvalidPath))
	}
	return nil
}

func shortNames(names []string, full bool) []string {
	if !full {
		for i, n := range names {
			names[i] = gcp.ShortName(n)
		}
	}
	sort.Strings(names)
	return names
}

// LsTopics lists the project's topics.
func (ps *PubSub) LsTopics(ctx context.Context, fullName bool) (out []string, err error) {
	defer ps.settings.Observe(Service, "LsTopics", time.Now(), &err)

	out, err = ps.api.ListTopics(ctx, ps.path.ProjectName())
	if err != nil {
		return nil, ps.wrap("LsTopics", err)
	}
	return shortNames(out, fullName), nil
}

// LsSubscriptions lists the topic's subscriptions at topic level, and
// every subscription in the project otherwise.
func (ps *PubSub) LsSubscriptions(ctx context.Context, fullName bool) (out []string, err error) {
	defer ps.settings.Observe(Service, "LsSubscriptions", time.Now(), &err)

	if ps.path.Level() == LevelTopic {
		out, err = ps.api.ListTopicSubscriptions(ctx, ps.path.TopicName())
	} else {
		out, err = ps.api.ListSubscriptions(ctx, ps.path.ProjectName())
	}
	if err != nil {
		return nil, ps.wrap("LsSubscriptions", err)
	}
	return shortNames(out, fullName), nil
}

// Ls lists topics at project level and subscriptions at topic level.
func (ps *PubSub) Ls(ctx context.Context, fullName bool) ([]string, error) {
	switch ps.path.Level() {
	case LevelProject:
		return ps.LsTopics(ctx, fullName)
	case LevelTopic:
		return ps.LsSubscriptions(ctx, fullName)
	}
	return nil, ps.wrap("Ls", fmt.Errorf("%w: a subscription has no children", gcp.ErrInvalidPath))
}

// Publish sends one message to the topic and returns its ID. Strings and
// byte slices are sent as-is; other values are JSON-encoded.
func (ps *PubSub) Publish(ctx context.Context, data any, attrs map[string]string) (id string, err error) {
	defer ps.settings.Observe(Service, "Publish", time.Now(), &err)

	if err := ps.requireTopic("Publish"); err != nil {
		return "", err
	}
	var payload []byte
	switch v := data.(type) {
	case []byte:
		payload = v
	case string:
		payload = []byte(v)
	default:
		payload, err = json.Marshal(v)
		if err != nil {
			return "", ps.wrap("Publish", fmt.Errorf("%w: %w", gcp.ErrInvalidArgument, err))
		}
	}
	id, err = ps.api.Publish(ctx, ps.path.TopicName(), &pubsubpb.PubsubMessage{Data: payload, Attributes: attrs})
	if err != nil {
		return "", ps.wrap("Publish", err)
	}
	ps.logger.Info("PubSub - Published", zap.String("topic", ps.path.TopicName()), zap.String("id", id))
	return id, nil
}

// TopicOptions controls CreateTopic.
type TopicOptions struct {
	Labels map[string]string

	// Schema is "projects/{project}/schemas/{schema}". Encoding is JSON or
	// BINARY and only applies with a schema.
	Schema   string
	Encoding pubsubpb.Encoding

	RetentionDuration time.Duration
	IfExists          gcp.IfExists
}

// CreateTopic creates the topic. With IfExistsIgnore an existing topic is
// returned unchanged.
func (ps *PubSub) CreateTopic(ctx context.Context, opts TopicOptions) (t *pubsubpb.Topic, err error) {
	defer ps.settings.Observe(Service, "CreateTopic", time.Now(), &err)

	if err := ps.requireTopic("CreateTopic"); err != nil {
		return nil, err
	}
	req := &pubsubpb.Topic{Name: ps.path.TopicName(), Labels: opts.Labels}
	if opts.Schema != "" {
		req.SchemaSettings = &pubsubpb.SchemaSettings{Schema: opts.Schema, Encoding: opts.Encoding}
	}
	if opts.RetentionDuration > 0 {
		req.MessageRetentionDuration = durationpb.New(opts.RetentionDuration)
	}
	t, err = ps.api.CreateTopic(ctx, req)
	if err != nil {
		if gcp.IsAlreadyExists(gcp.Classify(err)) && opts.IfExists == gcp.IfExistsIgnore {
			ps.logger.Info("PubSub - Topic already exists", zap.String("topic", req.Name))
			return ps.GetTopic(ctx)
		}
		return nil, ps.wrap("CreateTopic", err)
	}
	ps.logger.Info("PubSub - Created topic", zap.String("topic", t.GetName()))
	return t, nil
}

// SubscriptionOptions controls CreateSubscription. Zero durations take
// the package defaults.
type SubscriptionOptions struct {
	AckDeadline         time.Duration
	RetainAckedMessages bool
	RetentionDuration   time.Duration
	Labels              map[string]string
	MinimumBackoff      time.Duration
	MaximumBackoff      time.Duration
	Detached            bool
	Filter              string

	// DeadLetterTopic is a topic name or full resource name.
	DeadLetterTopic     string
	MaxDeliveryAttempts int32

	// BigQueryTable ("project.dataset.table") writes messages to BigQuery.
	BigQueryTable  string
	UseTopicSchema bool
	WriteMetadata  bool

	// StorageBucket writes messages to Cloud Storage files.
	StorageBucket  string
	FilenamePrefix string
	FilenameSuffix string

	// PushEndpoint makes this a push subscription.
	PushEndpoint   string
	PushAttributes map[string]string

	IfExists gcp.IfExists
}

func (ps *PubSub) topicName(name string) string {
	if strings.HasPrefix(name, "projects/") {
		return name
	}
	return Path{Project: ps.path.Project, Topic: name}.TopicName()
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// SubscriptionRequest builds the create request for the path's
// subscription.
func (ps *PubSub) SubscriptionRequest(opts SubscriptionOptions) *pubsubpb.Subscription {
	req := &pubsubpb.Subscription{
		Name:                ps.path.SubscriptionName(),
		Topic:               ps.path.TopicName(),
		AckDeadlineSeconds:  int32(orDefault(opts.AckDeadline, DefaultAckDeadline) / time.Second),
		RetainAckedMessages: opts.RetainAckedMessages,
		Labels:              opts.Labels,
		Detached:            opts.Detached,
		Filter:              opts.Filter,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(orDefault(opts.MinimumBackoff, DefaultMinimumBackoff)),
			MaximumBackoff: durationpb.New(orDefault(opts.MaximumBackoff, DefaultMaximumBackoff)),
		},
	}
	if opts.RetentionDuration > 0 {
		req.MessageRetentionDuration = durationpb.New(opts.RetentionDuration)
	}
	if opts.DeadLetterTopic != "" {
		req.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     ps.topicName(opts.DeadLetterTopic),
			MaxDeliveryAttempts: opts.MaxDeliveryAttempts,
		}
	}
	if opts.BigQueryTable != "" {
		req.BigqueryConfig = &pubsubpb.BigQueryConfig{
			Table:          opts.BigQueryTable,
			UseTopicSchema: opts.UseTopicSchema,
			WriteMetadata:  opts.WriteMetadata,
		}
	}
	if opts.StorageBucket != "" {
		req.CloudStorageConfig = &pubsubpb.CloudStorageConfig{
			Bucket:         strings.TrimPrefix(opts.StorageBucket, "gs://"),
			FilenamePrefix: opts.FilenamePrefix,
			FilenameSuffix: opts.FilenameSuffix,
		}
	}
	if opts.PushEndpoint != "" {
		req.PushConfig = &pubsubpb.PushConfig{PushEndpoint: opts.PushEndpoint, Attributes: opts.PushAttributes}
	}
	return req
}

// CreateSubscription creates the subscription on the path's topic. With
// IfExistsIgnore an existing subscription is returned unchanged.
func (ps *PubSub) CreateSubscription(ctx context.Context, opts SubscriptionOptions) (sub *pubsubpb.Subscription, err error) {
	defer ps.settings.Observe(Service, "CreateSubscription", time.Now(), &err)

	if ps.path.Level() != LevelSubscription {
		return nil, ps.wrap("CreateSubscription", fmt.Errorf("%w: a subscription path is required", gcp.ErrInvalidPath))
	}
	req := ps.SubscriptionRequest(opts)
	sub, err = ps.api.CreateSubscription(ctx, req)
	if err != nil {
		if gcp.IsAlreadyExists(gcp.Classify(err)) && opts.IfExists == gcp.IfExistsIgnore {
			ps.logger.Info("PubSub - Subscription already exists", zap.String("subscription", req.Name))
			return ps.GetSubscription(ctx)
		}
		return nil, ps.wrap("CreateSubscription", err)
	}
	ps.logger.Info("PubSub - Created subscription", zap.String("subscription", sub.GetName()))
	return sub, nil
}

// Create creates the topic or subscription with default options.
func (ps *PubSub) Create(ctx context.Context, ifExists gcp.IfExists) (proto.Message, error) {
	switch ps.path.Level() {
	case LevelTopic:
		t, err := ps.CreateTopic(ctx, TopicOptions{IfExists: ifExists})
		if err != nil {
			return nil, err
		}
		return t, nil
	case LevelSubscription:
		sub, err := ps.CreateSubscription(ctx, SubscriptionOptions{IfExists: ifExists})
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	return nil, ps.wrap("Create", fmt.Errorf("%w: nothing to create at project level", gcp.ErrInvalidPath))
}

// GetTopic returns the topic.
func (ps *PubSub) GetTopic(ctx context.Context) (t *pubsubpb.Topic, err error) {
	if err := ps.requireTopic("GetTopic"); err != nil {
		return nil, err
	}
	t, err = ps.api.GetTopic(ctx, ps.path.TopicName())
	if err != nil {
		return nil, ps.wrap("GetTopic", err)
	}
	return t, nil
}

// GetSubscription returns the subscription.
func (ps *PubSub) GetSubscription(ctx context.Context) (sub *pubsubpb.Subscription, err error) {
	sub, err = ps.api.GetSubscription(ctx, ps.path.SubscriptionName())
	if err != nil {
		return nil, ps.wrap("GetSubscription", err)
	}
	return sub, nil
}

// Get returns the topic or subscription the path names.
func (ps *PubSub) Get(ctx context.Context) (proto.Message, error) {
	switch ps.path.Level() {
	case LevelTopic:
		t, err := ps.GetTopic(ctx)
		if err != nil {
			return nil, err
		}
		return t, nil
	case LevelSubscription:
		sub, err := ps.GetSubscription(ctx)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
	return nil, ps.wrap("Get", fmt.Errorf("%w: a topic or subscription path is required", gcp.ErrInvalidPath))
}

// Exists reports whether the topic or subscription exists.
func (ps *PubSub) Exists(ctx context.Context) (bool, error) {
	if ps.path.Level() == LevelProject {
		return true, nil
	}
	_, err := ps.Get(ctx)
	if err == nil {
		return true, nil
	}
	if gcp.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Delete removes the topic or subscription.
func (ps *PubSub) Delete(ctx context.Context, mode gcp.ErrorMode) (err error) {
	defer ps.settings.Observe(Service, "Delete", time.Now(), &err)

	var name string
	switch ps.path.Level() {
	case LevelTopic:
		name = ps.path.TopicName()
		err = ps.api.DeleteTopic(ctx, name)
	case LevelSubscription:
		name = ps.path.SubscriptionName()
		err = ps.api.DeleteSubscription(ctx, name)
	default:
		return ps.wrap("Delete", fmt.Errorf("%w: nothing to delete at project level", gcp.ErrInvalidPath))
	}
	if err != nil {
		return mode.Handle(ps.wrap("Delete", err))
	}
	ps.logger.Info("PubSub - Deleted", zap.String("name", name))
	return nil
}

// Close releases the client when it is not shared.
func (ps *PubSub) Close() error {
	if _, injected := ps.settings.Injected[apiKind]; injected || ps.settings.Cacheable() {
		return nil
	}
	return ps.api.Close()
}
