// Package logging lists and tails Cloud Logging entries.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudlogging "cloud.google.com/go/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/3leaps/gcpal/pkg/gcp"
)

// Service is the name used in errors, logs and metrics.
const Service = "logging"

const apiKind = "logadmin"

// DefaultLimit caps Ls when neither a query nor a limit is given.
const DefaultLimit = 100

const (
	// DefaultPollInterval paces Stream.
	DefaultPollInterval = 5 * time.Second

	// LatencyBuffer keeps Stream's window behind now so that entries which
	// reach Cloud Logging late are not skipped.
	LatencyBuffer = 10 * time.Second
)

// Order of Ls results.
const (
	OrderDesc = "desc"
	OrderAsc  = "asc"
)

// Logging reads one project's logs.
type Logging struct {
	project  string
	settings *gcp.Settings
	api      api
	logger   *zap.Logger
	now      func() time.Time
}

// New resolves the client for the configured project.
func New(ctx context.Context, opts ...gcp.Option) (*Logging, error) {
	s, err := gcp.Resolve(ctx, true, opts...)
	if err != nil {
		return nil, err
	}
	a, err := gcp.Client[api](ctx, s, apiKind, func(ctx context.Context) (api, error) {
		return newSDKAPI(ctx, s.Project, s.ClientOptions)
	})
	if err != nil {
		return nil, gcp.Wrap(Service, "New", s.Project, err)
	}
	return &Logging{
		project:  s.Project,
		settings: s,
		api:      a,
		logger:   s.Logger.With(zap.String("service", Service)),
		now:      time.Now,
	}, nil
}

func (l *Logging) String() string { return "Logging(" + l.project + ")" }

// LsOptions filters Ls.
type LsOptions struct {
	// Query is a raw Logging query, ANDed with the other clauses.
	Query string

	// Severity keeps entries at or above this level, e.g. "ERROR".
	Severity string

	// TimeRange reads the last N hours and overrides Since and Until.
	TimeRange float64
	Since     time.Time
	Until     time.Time

	Limit int

	// Order is OrderDesc (the default) or OrderAsc.
	Order string
}

func timeClause(op string, t time.Time) string {
	return fmt.Sprintf(`timestamp%s"%s"`, op, t.UTC().Format(time.RFC3339Nano))
}

// Filter builds the Logging filter for opts, relative to now.
func Filter(opts LsOptions, now time.Time) string {
	var clauses []string
	if q := strings.TrimSpace(opts.Query); q != "" {
		clauses = append(clauses, q)
	}
	if opts.Severity != "" {
		clauses = append(clauses, "severity>="+strings.ToUpper(opts.Severity))
	}
	since, until := opts.Since, opts.Until
	if opts.TimeRange > 0 {
		until = now
		since = now.Add(-time.Duration(opts.TimeRange * float64(time.Hour)))
	}
	if !since.IsZero() {
		clauses = append(clauses, timeClause(">=", since))
	}
	if !until.IsZero() {
		clauses = append(clauses, timeClause("<=", until))
	}
	return strings.Join(clauses, " AND ")
}

// Ls returns matching entries. With no query and no limit at most
// DefaultLimit entries are read.
func (l *Logging) Ls(ctx context.Context, opts LsOptions) (out []LogEntry, err error) {
	defer l.settings.Observe(Service, "Ls", time.Now(), &err)

	newestFirst := true
	switch strings.ToLower(opts.Order) {
	case "", OrderDesc, "timestamp desc":
	case OrderAsc, "timestamp asc":
		newestFirst = false
	default:
		return nil, gcp.Wrap(Service, "Ls", l.project, fmt.Errorf("%w: order %q", gcp.ErrInvalidArgument, opts.Order))
	}
	limit := opts.Limit
	if limit <= 0 && strings.TrimSpace(opts.Query) == "" {
		limit = DefaultLimit
	}
	filter := Filter(opts, l.now())
	l.logger.Debug("Logging - Filter", zap.String("filter", filter))

	entries, err := l.api.Entries(ctx, filter, newestFirst, limit)
	if err != nil {
		return nil, gcp.Wrap(Service, "Ls", l.project, err)
	}
	out = make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, l.fromEntry(e))
	}
	return out, nil
}

// StreamOptions filters Stream.
type StreamOptions struct {
	Query    string
	Severity string

	// Since is where the stream starts. It defaults to now.
	Since time.Time

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// LatencyBuffer defaults to the LatencyBuffer constant.
	LatencyBuffer time.Duration
}

// Stream polls for new entries and hands each to fn in timestamp order.
// Every poll covers (last window end, now - LatencyBuffer]. It blocks
// until ctx is done, returning nil, or until fn or a read fails.
func (l *Logging) Stream(ctx context.Context, opts StreamOptions, fn func(LogEntry) error) error {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	buffer := opts.LatencyBuffer
	if buffer <= 0 {
		buffer = LatencyBuffer
	}
	last := opts.Since
	if last.IsZero() {
		last = l.now()
	}
	l.logger.Info("Logging - Streaming", zap.String("project", l.project), zap.Time("since", last))

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		end := l.now().Add(-buffer)
		if !end.After(last) {
			continue
		}
		filter := Filter(LsOptions{Query: opts.Query, Severity: opts.Severity}, end)
		window := timeClause(">", last) + " AND " + timeClause("<=", end)
		if filter != "" {
			window = filter + " AND " + window
		}
		entries, err := l.api.Entries(ctx, window, false, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return gcp.Wrap(Service, "Stream", l.project, err)
		}
		for _, e := range entries {
			if err := fn(l.fromEntry(e)); err != nil {
				return err
			}
		}
		last = end
	}
}

// LogEntry is one log line.
type LogEntry struct {
	Project   string            `json:"project"`
	LogName   string            `json:"log_name"`
	Resource  string            `json:"resource,omitempty"`
	Severity  string            `json:"severity"`
	Message   any               `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func (l *Logging) fromEntry(e *cloudlogging.Entry) LogEntry {
	out := LogEntry{
		Project:   l.project,
		LogName:   e.LogName,
		Severity:  e.Severity.String(),
		Message:   payload(e.Payload),
		Timestamp: e.Timestamp,
		Labels:    e.Labels,
	}
	if r := e.Resource; r != nil {
		out.Resource = r.GetType()
		if p := r.GetLabels()["project_id"]; p != "" {
			out.Project = p
		}
	}
	if segs := gcp.ResourceSegments(e.LogName); segs["logs"] != "" {
		out.LogName = segs["logs"]
	}
	return out
}

// payload turns structured payloads into plain Go maps.
func payload(p any) any {
	switch v := p.(type) {
	case *structpb.Struct:
		return v.AsMap()
	case proto.Message:
		b, err := protojson.Marshal(v)
		if err != nil {
			return v
		}
		var m map[string]any
		if json.Unmarshal(b, &m) != nil {
			return string(b)
		}
		return m
	}
	return p
}

// MessageString returns the "message" field of a structured payload, or
// the payload formatted as text.
func (e LogEntry) MessageString() string {
	switch m := e.Message.(type) {
	case nil:
		return ""
	case string:
		return m
	case map[string]any:
		if msg, ok := m["message"]; ok {
			return fmt.Sprint(msg)
		}
		b, err := json.Marshal(m)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(e.Message)
}

func (e LogEntry) String() string {
	return fmt.Sprintf("[%s] %s %s", e.Timestamp.UTC().Format("2006-01-02 15:04:05.000 MST"), e.Severity, e.MessageString())
}

// Close releases the client unless it is shared or injected.
func (l *Logging) Close() error {
	if _, injected := l.settings.Injected[apiKind]; injected || l.settings.Cacheable() {
		return nil
	}
	return l.api.Close()
}
