package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dirsubmit/internal/core/model"
	rds "dirsubmit/internal/platform/redis"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

type JobService struct{ redis *rds.Service }

func NewJobService(redis *rds.Service) *JobService { return &JobService{redis: redis} }

func (s *JobService) GetJobStatus(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := s.redis.CacheGet(ctx, key(jobID), &job); err != nil {
		if errors.Is(err, rds.ErrCacheMiss) {
			return nil, fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// InitPending records a freshly enqueued job.
func (s *JobService) InitPending(ctx context.Context, jobID string, jobType Type, businessID int64, queued int) error {
	now := time.Now().UTC()
	return s.save(ctx, &Job{
		JobID:      jobID,
		Type:       jobType,
		Status:     StatusPending,
		BusinessID: businessID,
		Queued:     queued,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (s *JobService) SetProcessing(ctx context.Context, jobID string) error {
	return s.update(ctx, jobID, func(j *Job) { j.Status = StatusProcessing })
}

// Complete stores the batch summary.
func (s *JobService) Complete(ctx context.Context, jobID string, summary model.BatchSummary) error {
	return s.update(ctx, jobID, func(j *Job) {
		j.Status = StatusCompleted
		j.Summary = &summary
	})
}

// Fail records a batch-level error such as an unknown business.
func (s *JobService) Fail(ctx context.Context, jobID string, cause error) error {
	return s.update(ctx, jobID, func(j *Job) {
		j.Status = StatusFailed
		j.Error = cause.Error()
	})
}

func (s *JobService) update(ctx context.Context, jobID string, mutate func(*Job)) error {
	var job Job
	if err := s.redis.CacheGet(ctx, key(jobID), &job); err != nil && !errors.Is(err, rds.ErrCacheMiss) {
		return err
	}
	job.JobID = jobID
	mutate(&job)
	job.UpdatedAt = time.Now().UTC()
	return s.save(ctx, &job)
}

func (s *JobService) save(ctx context.Context, job *Job) error {
	if err := s.redis.CacheSet(ctx, key(job.JobID), job, ttl(job.Status)); err != nil {
		return err
	}
	// Publish an update event for listeners
	_ = s.redis.Client().Publish(ctx, key(job.JobID), string(job.Status)).Err()
	return nil
}

func key(id string) string { return "job:" + id }

func ttl(s Status) time.Duration {
	if s == StatusCompleted || s == StatusFailed {
		return 24 * time.Hour
	}
	return time.Hour
}
