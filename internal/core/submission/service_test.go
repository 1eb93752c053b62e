package submission_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsubmit/internal/core/job"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/core/submission"
	rds "dirsubmit/internal/platform/redis"
	"dirsubmit/internal/platform/store"
	"dirsubmit/internal/platform/tasks"
	"dirsubmit/internal/testsupport"
)

type recordingEnqueuer struct {
	mu       sync.Mutex
	tasks    []*asynq.Task
	timeouts []time.Duration
	err      error
}

func (r *recordingEnqueuer) Enqueue(task *asynq.Task, queue string, maxRetries int, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, task)
	r.timeouts = append(r.timeouts, timeout)
	return nil
}

func (r *recordingEnqueuer) last(t *testing.T) *asynq.Task {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.tasks)
	return r.tasks[len(r.tasks)-1]
}

type fixture struct {
	store *store.Store
	jobs  *job.JobService
	queue *recordingEnqueuer
	svc   *submission.Service
	app   *fiber.App
	biz   model.BusinessProfile
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testsupport.MustOpenStore(t)
	mr := miniredis.RunT(t)
	rc := redisv8.NewClient(&redisv8.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	jobs := job.NewJobService(rds.NewFromClient(rc))

	orch := newOrchestrator(t, s, scripted(nil), submission.Options{Concurrency: 2})
	q := &recordingEnqueuer{}
	svc := submission.NewService(orch, jobs, q, 0)
	h := submission.NewHandler(svc, s, time.Millisecond)

	app := fiber.New()
	app.Post("/v1/businesses/:id/directories", h.HandleUpload)
	app.Post("/v1/businesses/:id/resume", h.HandleResume)
	app.Get("/v1/businesses/:id/submissions", h.HandleList)
	app.Get("/v1/submissions/stale", h.HandleStale)
	app.Post("/v1/submissions/reap", h.HandleReap)
	app.Post("/v1/submissions/retry", h.HandleRetry)

	return &fixture{store: s, jobs: jobs, queue: q, svc: svc, app: app, biz: testsupport.MustCreateBusiness(t, s)}
}

func decode(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestUploadJSONQueuesBatchTask(t *testing.T) {
	f := newFixture(t)

	body := `{"urls": ["https://a.example", " ", "b.example"]}`
	req := httptest.NewRequest("POST", fmt.Sprintf("/v1/businesses/%d/directories", f.biz.ID), strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 2, out["queued"])

	task := f.queue.last(t)
	assert.Equal(t, tasks.TaskTypeSubmissionBatch, task.Type())

	// Run the task as the asynq worker would.
	require.NoError(t, f.svc.HandleBatchTask(context.Background(), task))
	j, err := f.jobs.GetJobStatus(context.Background(), out["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
	require.NotNil(t, j.Summary)
	assert.Equal(t, 2, j.Summary.Counts[model.StatusSuccess])

	records, err := f.store.ListSubmissions(context.Background(), f.biz.ID, model.StatusSuccess)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestUploadCSV(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "dirs.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("url,notes\nhttps://a.example,first\n,\nc.example\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", fmt.Sprintf("/v1/businesses/%d/directories", f.biz.ID), &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 2, decode(t, resp.Body)["queued"])

	var p submission.BatchTaskPayload
	require.NoError(t, json.Unmarshal(f.queue.last(t).Payload(), &p))
	assert.Equal(t, []string{"https://a.example", "c.example"}, p.URLs)
}

func TestUploadUnknownBusiness(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest("POST", "/v1/businesses/999/directories", strings.NewReader(`{"urls":["https://a.example"]}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp.Body)["success"])
}

func TestBatchTaskForUnknownBusinessFailsJob(t *testing.T) {
	f := newFixture(t)
	jobID, err := f.svc.EnqueueBatch(context.Background(), 999, []string{"https://a.example"})
	require.NoError(t, err)

	err = f.svc.HandleBatchTask(context.Background(), f.queue.last(t))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	j, err := f.jobs.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
}

func TestListRetryAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := model.Pair{BusinessID: f.biz.ID, DirectoryURL: "https://err.example"}
	_, err := f.store.Register(ctx, pair)
	require.NoError(t, err)
	_, err = f.store.Start(ctx, pair)
	require.NoError(t, err)
	_, err = f.store.Complete(ctx, pair, model.StatusError, model.Payload{"error": "timeout"})
	require.NoError(t, err)

	resp, err := f.app.Test(httptest.NewRequest("GET", fmt.Sprintf("/v1/businesses/%d/submissions?status=error", f.biz.ID), nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, decode(t, resp.Body)["statuses"], 1)

	req := httptest.NewRequest("POST", "/v1/submissions/retry", strings.NewReader(fmt.Sprintf(`{"business_id":%d,"directory_url":"https://err.example"}`, f.biz.ID)))
	req.Header.Set("Content-Type", "application/json")
	resp, err = f.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest("POST", fmt.Sprintf("/v1/businesses/%d/resume", f.biz.ID), nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	assert.Equal(t, tasks.TaskTypeSubmissionResume, f.queue.last(t).Type())

	require.NoError(t, f.svc.HandleResumeTask(ctx, f.queue.last(t)))
	rec, err := f.store.Get(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
}

func TestRetryRejectsNonErrorRecord(t *testing.T) {
	f := newFixture(t)
	testsupport.MustSucceed(t, f.store, model.Pair{BusinessID: f.biz.ID, DirectoryURL: "https://ok.example"})

	req := httptest.NewRequest("POST", "/v1/submissions/retry", strings.NewReader(fmt.Sprintf(`{"business_id":%d,"directory_url":"ok.example"}`, f.biz.ID)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestStaleAndReapEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pair := model.Pair{BusinessID: f.biz.ID, DirectoryURL: "https://stuck.example"}
	_, err := f.store.Register(ctx, pair)
	require.NoError(t, err)
	_, err = f.store.Start(ctx, pair)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	resp, err := f.app.Test(httptest.NewRequest("GET", "/v1/submissions/stale", nil))
	require.NoError(t, err)
	assert.Len(t, decode(t, resp.Body)["stale"], 1)

	resp, err = f.app.Test(httptest.NewRequest("GET", "/v1/submissions/stale?grace=1h", nil))
	require.NoError(t, err)
	assert.Empty(t, decode(t, resp.Body)["stale"])

	resp, err = f.app.Test(httptest.NewRequest("GET", "/v1/submissions/stale?grace=never", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = f.app.Test(httptest.NewRequest("POST", "/v1/submissions/reap", nil))
	require.NoError(t, err)
	assert.EqualValues(t, 1, decode(t, resp.Body)["reaped"])

	rec, err := f.store.Get(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, rec.Status)
}

func TestLongBatchIsEnqueuedWithSizedTimeout(t *testing.T) {
	f := newFixture(t)
	urls := make([]string, 40)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://dir%d.example", i)
	}

	_, err := f.svc.EnqueueBatch(context.Background(), f.biz.ID, urls)
	require.NoError(t, err)

	f.queue.mu.Lock()
	timeout := f.queue.timeouts[len(f.queue.timeouts)-1]
	f.queue.mu.Unlock()
	assert.Equal(t, f.svc.Orchestrator().BatchTimeout(40), timeout)
	assert.Greater(t, timeout, 30*time.Minute)
}

func TestInterruptedBatchFailsJobAndLeavesRemainderPending(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := scripted(func(context.Context, string) model.Outcome {
		cancel()
		return model.Outcome{Status: model.StatusSuccess}
	})
	orch := newOrchestrator(t, f.store, sub, submission.Options{Concurrency: 1})
	svc := submission.NewService(orch, f.jobs, f.queue, 0)

	jobID, err := svc.EnqueueBatch(context.Background(), f.biz.ID, []string{"https://a.example", "https://b.example", "https://c.example"})
	require.NoError(t, err)

	err = svc.HandleBatchTask(ctx, f.queue.last(t))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "2 urls left pending")

	j, err := f.jobs.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)

	pending, err := f.store.ListSubmissions(context.Background(), f.biz.ID, model.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}
