package scheduler

import (
	"context"
	"errors"

	scheduler "cloud.google.com/go/scheduler/apiv1"
	"cloud.google.com/go/scheduler/apiv1/schedulerpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

// api is the part of the Cloud Scheduler client the wrapper uses.
type api interface {
	ListJobs(ctx context.Context, parent string) ([]*schedulerpb.Job, error)
	GetJob(ctx context.Context, name string) (*schedulerpb.Job, error)
	CreateJob(ctx context.Context, parent string, job *schedulerpb.Job) (*schedulerpb.Job, error)
	UpdateJob(ctx context.Context, job *schedulerpb.Job, mask *fieldmaskpb.FieldMask) (*schedulerpb.Job, error)
	DeleteJob(ctx context.Context, name string) error
	RunJob(ctx context.Context, name string) (*schedulerpb.Job, error)
	PauseJob(ctx context.Context, name string) (*schedulerpb.Job, error)
	ResumeJob(ctx context.Context, name string) (*schedulerpb.Job, error)
	Close() error
}

type sdkAPI struct {
	client *scheduler.CloudSchedulerClient
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	c, err := scheduler.NewCloudSchedulerClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &sdkAPI{client: c}, nil
}

func (a *sdkAPI) Close() error { return a.client.Close() }

func (a *sdkAPI) ListJobs(ctx context.Context, parent string) ([]*schedulerpb.Job, error) {
	it := a.client.ListJobs(ctx, &schedulerpb.ListJobsRequest{Parent: parent})
	var out []*schedulerpb.Job
	for {
		j, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
}

func (a *sdkAPI) GetJob(ctx context.Context, name string) (*schedulerpb.Job, error) {
	return a.client.GetJob(ctx, &schedulerpb.GetJobRequest{Name: name})
}

func (a *sdkAPI) CreateJob(ctx context.Context, parent string, job *schedulerpb.Job) (*schedulerpb.Job, error) {
	return a.client.CreateJob(ctx, &schedulerpb.CreateJobRequest{Parent: parent, Job: job})
}

func (a *sdkAPI) UpdateJob(ctx context.Context, job *schedulerpb.Job, mask *fieldmaskpb.FieldMask) (*schedulerpb.Job, error) {
	return a.client.UpdateJob(ctx, &schedulerpb.UpdateJobRequest{Job: job, UpdateMask: mask})
}

func (a *sdkAPI) DeleteJob(ctx context.Context, name string) error {
	return a.client.DeleteJob(ctx, &schedulerpb.DeleteJobRequest{Name: name})
}

func (a *sdkAPI) RunJob(ctx context.Context, name string) (*schedulerpb.Job, error) {
	return a.client.RunJob(ctx, &schedulerpb.RunJobRequest{Name: name})
}

func (a *sdkAPI) PauseJob(ctx context.Context, name string) (*schedulerpb.Job, error) {
	return a.client.PauseJob(ctx, &schedulerpb.PauseJobRequest{Name: name})
}

func (a *sdkAPI) ResumeJob(ctx context.Context, name string) (*schedulerpb.Job, error) {
	return a.client.ResumeJob(ctx, &schedulerpb.ResumeJobRequest{Name: name})
}
