package worker

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"dirsubmit/internal/core/submission"
	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/tasks"
)

type Mux struct {
	mux *asynq.ServeMux
	log *logger.Logger
}

func NewMux() *Mux {
	m := &Mux{mux: asynq.NewServeMux(), log: logger.New("Worker")}
	m.mux.Use(m.logTasks)
	return m
}

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

// RegisterSubmissions routes batch and resume tasks to the service.
func (m *Mux) RegisterSubmissions(svc *submission.Service) {
	m.HandleFunc(tasks.TaskTypeSubmissionBatch, svc.HandleBatchTask)
	m.HandleFunc(tasks.TaskTypeSubmissionResume, svc.HandleResumeTask)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

func (m *Mux) logTasks(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, task)
		event := m.log.Info()
		if err != nil {
			event = m.log.Error().Err(err)
		}
		event.Str("task_type", task.Type()).Dur("took", time.Since(start)).Msg("task processed")
		return err
	})
}
