package cloudrun

import (
	"context"
	"errors"

	"cloud.google.com/go/iam/apiv1/iampb"
	run "cloud.google.com/go/run/apiv2"
	"cloud.google.com/go/run/apiv2/runpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// api is the Cloud Run (v2) surface the wrapper needs, covering both
// services and jobs. Writes return once the long-running operation has
// finished.
type api interface {
	ListServices(ctx context.Context, parent string) ([]*runpb.Service, error)
	GetService(ctx context.Context, name string) (*runpb.Service, error)
	CreateService(ctx context.Context, parent, id string, svc *runpb.Service) (*runpb.Service, error)
	UpdateService(ctx context.Context, svc *runpb.Service) (*runpb.Service, error)
	DeleteService(ctx context.Context, name string) error
	GetServicePolicy(ctx context.Context, name string) (*iampb.Policy, error)
	SetServicePolicy(ctx context.Context, name string, policy *iampb.Policy) error

	ListJobs(ctx context.Context, parent string) ([]*runpb.Job, error)
	GetJob(ctx context.Context, name string) (*runpb.Job, error)
	CreateJob(ctx context.Context, parent, id string, job *runpb.Job) (*runpb.Job, error)
	UpdateJob(ctx context.Context, job *runpb.Job) (*runpb.Job, error)
	DeleteJob(ctx context.Context, name string) error
	RunJob(ctx context.Context, name string) (*runpb.Execution, error)

	Close() error
}

type sdkAPI struct {
	services *run.ServicesClient
	jobs     *run.JobsClient
}

func newSDKAPI(ctx context.Context, opts []option.ClientOption) (api, error) {
	services, err := run.NewServicesClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	jobs, err := run.NewJobsClient(ctx, opts...)
	if err != nil {
		_ = services.Close()
		return nil, err
	}
	return &sdkAPI{services: services, jobs: jobs}, nil
}

func (a *sdkAPI) Close() error {
	return errors.Join(a.services.Close(), a.jobs.Close())
}

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

func (a *sdkAPI) ListServices(ctx context.Context, parent string) ([]*runpb.Service, error) {
	return drain(a.services.ListServices(ctx, &runpb.ListServicesRequest{Parent: parent}).Next)
}

func (a *sdkAPI) GetService(ctx context.Context, name string) (*runpb.Service, error) {
	return a.services.GetService(ctx, &runpb.GetServiceRequest{Name: name})
}

func (a *sdkAPI) CreateService(ctx context.Context, parent, id string, svc *runpb.Service) (*runpb.Service, error) {
	op, err := a.services.CreateService(ctx, &runpb.CreateServiceRequest{Parent: parent, ServiceId: id, Service: svc})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) UpdateService(ctx context.Context, svc *runpb.Service) (*runpb.Service, error) {
	op, err := a.services.UpdateService(ctx, &runpb.UpdateServiceRequest{Service: svc})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteService(ctx context.Context, name string) error {
	op, err := a.services.DeleteService(ctx, &runpb.DeleteServiceRequest{Name: name})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}

func (a *sdkAPI) GetServicePolicy(ctx context.Context, name string) (*iampb.Policy, error) {
	return a.services.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{Resource: name})
}

func (a *sdkAPI) SetServicePolicy(ctx context.Context, name string, policy *iampb.Policy) error {
	_, err := a.services.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{Resource: name, Policy: policy})
	return err
}

func (a *sdkAPI) ListJobs(ctx context.Context, parent string) ([]*runpb.Job, error) {
	return drain(a.jobs.ListJobs(ctx, &runpb.ListJobsRequest{Parent: parent}).Next)
}

func (a *sdkAPI) GetJob(ctx context.Context, name string) (*runpb.Job, error) {
	return a.jobs.GetJob(ctx, &runpb.GetJobRequest{Name: name})
}

func (a *sdkAPI) CreateJob(ctx context.Context, parent, id string, job *runpb.Job) (*runpb.Job, error) {
	op, err := a.jobs.CreateJob(ctx, &runpb.CreateJobRequest{Parent: parent, JobId: id, Job: job})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) UpdateJob(ctx context.Context, job *runpb.Job) (*runpb.Job, error) {
	op, err := a.jobs.UpdateJob(ctx, &runpb.UpdateJobRequest{Job: job})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (a *sdkAPI) DeleteJob(ctx context.Context, name string) error {
	op, err := a.jobs.DeleteJob(ctx, &runpb.DeleteJobRequest{Name: name})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}

func (a *sdkAPI) RunJob(ctx context.Context, name string) (*runpb.Execution, error) {
	op, err := a.jobs.RunJob(ctx, &runpb.RunJobRequest{Name: name})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}
