package tasks

import (
	"time"

	"github.com/hibiken/asynq"

	"dirsubmit/internal/platform/redis"
)

const (
	TaskTypeSubmissionBatch  = "submission:batch"
	TaskTypeSubmissionResume = "submission:resume"
)

// QueueSubmissions is the asynq queue batch tasks run on.
const QueueSubmissions = "submissions"

type Client struct{ c *asynq.Client }

func New(r *redis.Service) *Client { return &Client{c: asynq.NewClient(r.AsynqRedisOpt())} }

// Enqueue queues task. A positive timeout replaces asynq's default
// 30 minute processing timeout.
func (t *Client) Enqueue(task *asynq.Task, queue string, maxRetries int, timeout time.Duration) error {
	opts := []asynq.Option{asynq.Queue(queue), asynq.MaxRetry(maxRetries)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	_, err := t.c.Enqueue(task, opts...)
	return err
}

func (t *Client) Close() error { return t.c.Close() }
