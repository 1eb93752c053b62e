package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"dirsubmit/internal/core/job"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/tasks"
)

// Enqueuer is satisfied by *tasks.Client.
type Enqueuer interface {
	Enqueue(task *asynq.Task, queue string, maxRetries int, timeout time.Duration) error
}

// BatchTaskPayload is the asynq payload for batch and resume tasks.
type BatchTaskPayload struct {
	JobID      string   `json:"job_id"`
	BusinessID int64    `json:"business_id"`
	URLs       []string `json:"urls,omitempty"`
}

// Service queues batches on asynq and runs them through the Orchestrator
// when the worker picks them up.
type Service struct {
	orch       *Orchestrator
	jobs       *job.JobService
	tasks      Enqueuer
	maxRetries int
	log        *logger.Logger
}

func NewService(orch *Orchestrator, jobs *job.JobService, tasks Enqueuer, maxRetries int) *Service {
	return &Service{orch: orch, jobs: jobs, tasks: tasks, maxRetries: maxRetries, log: logger.New("SubmissionService")}
}

func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// EnqueueBatch queues a batch and returns its job id.
func (s *Service) EnqueueBatch(ctx context.Context, businessID int64, urls []string) (string, error) {
	return s.enqueue(ctx, tasks.TaskTypeSubmissionBatch, job.TypeBatch, BatchTaskPayload{BusinessID: businessID, URLs: urls}, len(urls))
}

// EnqueueResume queues a resume of the business's Pending records.
func (s *Service) EnqueueResume(ctx context.Context, businessID int64, pending int) (string, error) {
	return s.enqueue(ctx, tasks.TaskTypeSubmissionResume, job.TypeResume, BatchTaskPayload{BusinessID: businessID}, pending)
}

func (s *Service) enqueue(ctx context.Context, taskType string, jobType job.Type, p BatchTaskPayload, queued int) (string, error) {
	p.JobID = uuid.New().String()
	payload, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	if err := s.jobs.InitPending(ctx, p.JobID, jobType, p.BusinessID, queued); err != nil {
		return "", err
	}
	timeout := s.orch.BatchTimeout(queued)
	if err := s.tasks.Enqueue(asynq.NewTask(taskType, payload), tasks.QueueSubmissions, s.maxRetries, timeout); err != nil {
		_ = s.jobs.Fail(ctx, p.JobID, err)
		return "", err
	}
	s.log.LogInfof("enqueued %s job %s for business %d (%d urls, timeout %v)", jobType, p.JobID, p.BusinessID, queued, timeout)
	return p.JobID, nil
}

func (s *Service) HandleBatchTask(ctx context.Context, task *asynq.Task) error {
	return s.handle(ctx, task, func(p BatchTaskPayload) (model.BatchSummary, error) {
		return s.orch.RunBatch(ctx, p.BusinessID, p.URLs)
	})
}

func (s *Service) HandleResumeTask(ctx context.Context, task *asynq.Task) error {
	return s.handle(ctx, task, func(p BatchTaskPayload) (model.BatchSummary, error) {
		return s.orch.Resume(ctx, p.BusinessID)
	})
}

func (s *Service) handle(ctx context.Context, task *asynq.Task, run func(BatchTaskPayload) (model.BatchSummary, error)) error {
	var p BatchTaskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	s.log.LogInfof("processing %s job %s for business %d", task.Type(), p.JobID, p.BusinessID)
	if err := s.jobs.SetProcessing(ctx, p.JobID); err != nil {
		return err
	}

	summary, err := run(p)
	if left := pendingLeft(summary); err == nil && left > 0 {
		// The task deadline or a shutdown cut the batch short. A re-run of the
		// batch task would skip the registered pairs, so the remainder is left
		// to an explicit resume.
		cause := ctx.Err()
		if cause == nil {
			cause = model.ErrShuttingDown
		}
		err = fmt.Errorf("batch interrupted with %d urls left pending, resume to continue: %v", left, cause)
	}
	if err != nil {
		s.log.Error().Str("job_id", p.JobID).Int64("business_id", p.BusinessID).Err(err).Msg("batch rejected")
		if ferr := s.jobs.Fail(context.WithoutCancel(ctx), p.JobID, err); ferr != nil {
			return ferr
		}
		if errors.Is(err, model.ErrShuttingDown) {
			// Retried when the task was enqueued with retries left.
			return err
		}
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return s.jobs.Complete(context.WithoutCancel(ctx), p.JobID, summary)
}

func pendingLeft(summary model.BatchSummary) int {
	n := 0
	for _, r := range summary.Results {
		if r.Skipped == "shutdown" || r.Skipped == "cancelled" {
			n++
		}
	}
	return n
}
