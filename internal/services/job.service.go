package services

import (
	"context"

	"github.com/sendloop/wa-gateway/internal/model"
)

type DeliveryJobRepository interface {
	Get(ctx context.Context, id string) (*model.DeliveryJob, error)
	List(ctx context.Context, f model.JobFilter) ([]*model.DeliveryJob, int64, error)
	RequestCancel(ctx context.Context, id string) error
}

type AttemptLogRepository interface {
	ListByJob(ctx context.Context, jobID string) ([]*model.DeliveryAttemptLog, error)
}

// JobService is the read and cancel surface over delivery jobs. Jobs
// are created by the scheduler only.
type JobService struct {
	jobs DeliveryJobRepository
	logs AttemptLogRepository
}

func NewJobService(jobs DeliveryJobRepository, logs AttemptLogRepository) *JobService {
	return &JobService{jobs: jobs, logs: logs}
}

func (s *JobService) Get(ctx context.Context, id string) (*model.DeliveryJob, error) {
	return s.jobs.Get(ctx, id)
}

func (s *JobService) List(ctx context.Context, f model.JobFilter) ([]*model.DeliveryJob, int64, error) {
	return s.jobs.List(ctx, f)
}

// Cancel flags a queued or running job. The worker observes the flag at
// its next batch boundary; recipients already sent stay sent.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	return s.jobs.RequestCancel(ctx, id)
}

func (s *JobService) Attempts(ctx context.Context, jobID string) ([]*model.DeliveryAttemptLog, error) {
	return s.logs.ListByJob(ctx, jobID)
}
