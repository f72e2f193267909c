package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/3leaps/gcpal/pkg/gcp"
)

type fakeAPI struct {
	mu      sync.Mutex
	jobs    map[string]*schedulerpb.Job
	masks   [][]string
	runs    int
	resumes int
}

func newFakeAPI() *fakeAPI { return &fakeAPI{jobs: map[string]*schedulerpb.Job{}} }

func (f *fakeAPI) get(name string) (*schedulerpb.Job, error) {
	j, ok := f.jobs[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "Job not found")
	}
	return j, nil
}

func (f *fakeAPI) ListJobs(_ context.Context, parent string) ([]*schedulerpb.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*schedulerpb.Job
	for name, j := range f.jobs {
		if strings.HasPrefix(name, parent+"/jobs/") {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeAPI) GetJob(_ context.Context, name string) (*schedulerpb.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(name)
}

func (f *fakeAPI) CreateJob(_ context.Context, _ string, job *schedulerpb.Job) (*schedulerpb.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.GetName()]; ok {
		return nil, status.Error(codes.AlreadyExists, "Job exists")
	}
	job = proto.Clone(job).(*schedulerpb.Job)
	job.State = schedulerpb.Job_ENABLED
	f.jobs[job.GetName()] = job
	return job, nil
}

func (f *fakeAPI) UpdateJob(_ context.Context, job *schedulerpb.Job, mask *fieldmaskpb.FieldMask) (*schedulerpb.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, err := f.get(job.GetName())
	if err != nil {
		return nil, err
	}
	f.masks = append(f.masks, mask.GetPaths())
	job = proto.Clone(job).(*schedulerpb.Job)
	job.State = old.GetState()
	f.jobs[job.GetName()] = job
	return job, nil
}

func (f *fakeAPI) DeleteJob(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.get(name); err != nil {
		return err
	}
	delete(f.jobs, name)
	return nil
}

func (f *fakeAPI) RunJob(_ context.Context, name string) (*schedulerpb.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.get(name)
	if err != nil {
		return nil, err
	}
	if j.GetState() == schedulerpb.Job_PAUSED {
		return nil, status.Error(codes.FailedPrecondition, "Job is paused")
	}
	f.runs++
	j.LastAttemptTime = timestamppb.Now()
	j.Status = &statuspb.Status{}
	return j, nil
}

func (f *fakeAPI) setState(name string, state schedulerpb.Job_State) (*schedulerpb.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, err := f.get(name)
	if err != nil {
		return nil, err
	}
	j.State = state
	return j, nil
}

func (f *fakeAPI) PauseJob(_ context.Context, name string) (*schedulerpb.Job, error) {
	return f.setState(name, schedulerpb.Job_PAUSED)
}

func (f *fakeAPI) ResumeJob(_ context.Context, name string) (*schedulerpb.Job, error) {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
	return f.setState(name, schedulerpb.Job_ENABLED)
}

func (f *fakeAPI) Close() error { return nil }

func newTestScheduler(t *testing.T, f *fakeAPI, name string) *Scheduler {
	t.Helper()
	s, err := New(context.Background(), name,
		gcp.WithProject("p"), gcp.WithLocation("europe-west2"), gcp.WithInjectedClient(apiKind, f))
	require.NoError(t, err)
	return s
}

func TestNew_Names(t *testing.T) {
	f := newFakeAPI()

	s := newTestScheduler(t, f, "nightly")
	assert.Equal(t, "projects/p/locations/europe-west2/jobs/nightly", s.FullName())

	s = newTestScheduler(t, f, "projects/q/locations/us-central1/jobs/hourly")
	assert.Equal(t, "hourly", s.Name())
	assert.Equal(t, "projects/q/locations/us-central1", s.Parent())

	_, err := New(context.Background(), "a/b", gcp.WithProject("p"), gcp.WithInjectedClient(apiKind, f))
	assert.True(t, gcp.IsInvalidPath(err))
}

func TestJobSpec(t *testing.T) {
	s := newTestScheduler(t, newFakeAPI(), "job")

	tests := []struct {
		name   string
		target string
		opts   CreateOptions
		check  func(t *testing.T, job *schedulerpb.Job)
	}{
		{
			name:   "pubsub topic id",
			target: "events",
			check: func(t *testing.T, job *schedulerpb.Job) {
				ps := job.GetPubsubTarget()
				require.NotNil(t, ps)
				assert.Equal(t, "projects/p/topics/events", ps.GetTopicName())
				assert.JSONEq(t, `{"k":"v"}`, string(ps.GetData()))
				assert.Equal(t, DefaultTimeZone, job.GetTimeZone())
			},
		},
		{
			name:   "pubsub full topic",
			target: "projects/other/topics/t",
			check: func(t *testing.T, job *schedulerpb.Job) {
				assert.Equal(t, "projects/other/topics/t", job.GetPubsubTarget().GetTopicName())
			},
		},
		{
			name:   "http with default account",
			target: "https://svc.run.app/hook",
			opts:   CreateOptions{ServiceAccount: DefaultServiceAccountAlias, TimeZone: "Europe/London"},
			check: func(t *testing.T, job *schedulerpb.Job) {
				h := job.GetHttpTarget()
				require.NotNil(t, h)
				assert.Equal(t, schedulerpb.HttpMethod_POST, h.GetHttpMethod())
				assert.Equal(t, "p@p.iam.gserviceaccount.com", h.GetOidcToken().GetServiceAccountEmail())
				assert.Equal(t, "https://svc.run.app/hook", h.GetOidcToken().GetAudience())
				assert.Equal(t, "Europe/London", job.GetTimeZone())
			},
		},
		{
			name:   "http oauth",
			target: "https://example.googleapis.com/v1/x",
			opts:   CreateOptions{ServiceAccount: "sa@p.iam.gserviceaccount.com", Auth: AuthOAuth},
			check: func(t *testing.T, job *schedulerpb.Job) {
				h := job.GetHttpTarget()
				assert.Nil(t, h.GetOidcToken())
				assert.Equal(t, "sa@p.iam.gserviceaccount.com", h.GetOauthToken().GetServiceAccountEmail())
			},
		},
		{
			name:   "http without account",
			target: "http://localhost:8080",
			check: func(t *testing.T, job *schedulerpb.Job) {
				assert.Nil(t, job.GetHttpTarget().GetAuthorizationHeader())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := s.JobSpec("0 * * * *", tt.target, map[string]string{"k": "v"}, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, s.FullName(), job.GetName())
			assert.Equal(t, "0 * * * *", job.GetSchedule())
			tt.check(t, job)
		})
	}

	_, err := s.JobSpec("* * * * *", "t", make(chan int), CreateOptions{})
	assert.ErrorIs(t, err, gcp.ErrInvalidArgument)
}

func TestScheduler_CreateOrUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	s := newTestScheduler(t, f, "job")

	ok, err := s.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Create(ctx, "0 1 * * *", "topic", nil, CreateOptions{})
	require.NoError(t, err)
	assert.Empty(t, f.masks)

	job, err := s.Create(ctx, "0 2 * * *", "topic", map[string]int{"n": 1}, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", job.GetSchedule())
	require.Len(t, f.masks, 1)
	assert.Contains(t, f.masks[0], "schedule")

	var payload map[string]int
	require.NoError(t, json.Unmarshal(job.GetPubsubTarget().GetData(), &payload))
	assert.Equal(t, 1, payload["n"])

	names, err := newTestScheduler(t, f, "").Ls(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"job"}, names)
}

func TestScheduler_RunPauseResume(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	s := newTestScheduler(t, f, "job")
	_, err := s.Create(ctx, "* * * * *", "topic", nil, CreateOptions{})
	require.NoError(t, err)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNotRun, st)

	_, err = s.Pause(ctx)
	require.NoError(t, err)
	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "PAUSED", state)

	_, err = s.Run(ctx, false)
	assert.True(t, gcp.IsFailedPrecondition(err))
	assert.Equal(t, 0, f.resumes)

	_, err = s.Run(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.resumes)
	assert.Equal(t, 1, f.runs)

	st, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, st)
}

func TestJobStatus(t *testing.T) {
	assert.Equal(t, StatusNotRun, JobStatus(&schedulerpb.Job{}))
	assert.Equal(t, StatusSuccess, JobStatus(&schedulerpb.Job{LastAttemptTime: timestamppb.Now()}))
	assert.Equal(t, StatusFailed, JobStatus(&schedulerpb.Job{
		LastAttemptTime: timestamppb.Now(),
		Status:          &statuspb.Status{Code: int32(codes.Internal)},
	}))
}

func TestScheduler_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFakeAPI()
	s := newTestScheduler(t, f, "job")

	assert.True(t, gcp.IsNotFound(s.Delete(ctx, gcp.ErrorsRaise)))
	assert.NoError(t, s.Delete(ctx, gcp.ErrorsIgnore))

	_, err := s.Create(ctx, "* * * * *", "topic", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, gcp.ErrorsRaise))
	assert.Empty(t, f.jobs)

	_, err = newTestScheduler(t, f, "").Get(ctx)
	assert.True(t, gcp.IsInvalidPath(err))
}
