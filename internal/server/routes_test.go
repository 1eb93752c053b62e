package server

import (
	"context"
	"encoding/json"
	"fmt"
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

	"dirsubmit/internal/core/agent"
	"dirsubmit/internal/core/heuristics"
	"dirsubmit/internal/core/job"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/core/submission"
	"dirsubmit/internal/core/sweep"
	"dirsubmit/internal/core/verify"
	"dirsubmit/internal/health"
	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/automation"
	rds "dirsubmit/internal/platform/redis"
	"dirsubmit/internal/testsupport"
	"dirsubmit/internal/worker"
)

// inlineQueue hands tasks straight to the worker mux, as asynq would.
type inlineQueue struct {
	mu    sync.Mutex
	mux   *worker.Mux
	errs  []error
	tasks int
}

func (q *inlineQueue) Enqueue(task *asynq.Task, _ string, _ int, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks++
	if err := q.mux.Mux().ProcessTask(context.Background(), task); err != nil {
		q.errs = append(q.errs, err)
	}
	return nil
}

func newApp(t *testing.T) (*fiber.App, *inlineQueue) {
	t.Helper()
	st := testsupport.MustOpenStore(t)
	mr := miniredis.RunT(t)
	rc := redisv8.NewClient(&redisv8.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	redisSvc := rds.NewFromClient(rc)

	form := []automation.FieldDescriptor{
		{Name: "business_name", Kind: automation.KindText},
		{Name: "email", Kind: automation.KindEmail},
		{Name: "go", Kind: automation.KindSubmit},
	}
	client := testsupport.NewFakeClient(map[string]testsupport.Page{
		"https://one.example":        {Fields: form, OnSubmit: "https://one.example/thanks"},
		"https://one.example/thanks": {Text: "Thank you, your submission was received."},
		"https://two.example":        {Fields: form, OnSubmit: "https://two.example/oops"},
		"https://two.example/oops":   {Text: "Invalid email address"},
	})
	tables := heuristics.Default()

	orch := submission.NewOrchestrator(st, agent.New(client, tables, agent.WithLogger(logger.Nop())), submission.Options{Concurrency: 2}, logger.Nop())
	t.Cleanup(func() { _ = orch.Close(context.Background()) })
	jobs := job.NewJobService(redisSvc)
	queue := &inlineQueue{mux: worker.NewMux()}
	svc := submission.NewService(orch, jobs, queue, 0)
	queue.mux.RegisterSubmissions(svc)

	sch := sweep.New(st, verify.New(client, tables, logger.Nop()), sweep.Options{Interval: time.Hour}, sweep.WithLogger(logger.Nop()))
	require.NoError(t, sch.Start())
	t.Cleanup(sch.Stop)

	hh := health.NewHealthHandler(map[string]health.Pinger{"redis": redisSvc.HealthCheck, "sqlite": st.Ping}, st)
	hh.SetReady()

	app := fiber.New()
	RegisterRoutes(app, Dependencies{Store: st, Job: jobs, Submission: svc, Sweep: sch, Health: hh, StaleGrace: time.Minute})
	return app, queue
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestSubmissionFlow(t *testing.T) {
	app, queue := newApp(t)

	profile, err := json.Marshal(testsupport.SampleProfile())
	require.NoError(t, err)
	code, out := call(t, app, "POST", "/v1/businesses", string(profile))
	require.Equal(t, fiber.StatusCreated, code)
	id := int64(out["business_id"].(float64))

	code, out = call(t, app, "POST", fmt.Sprintf("/v1/businesses/%d/directories", id), `{"urls":["https://one.example","https://two.example"]}`)
	require.Equal(t, fiber.StatusAccepted, code)
	jobID := out["job_id"].(string)
	require.Empty(t, queue.errs)

	code, out = call(t, app, "GET", "/v1/jobs/"+jobID, "")
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, string(job.StatusCompleted), out["job"].(map[string]any)["status"])

	code, out = call(t, app, "GET", fmt.Sprintf("/v1/businesses/%d/submissions", id), "")
	require.Equal(t, fiber.StatusOK, code)
	statuses := map[string]string{}
	for _, raw := range out["statuses"].([]any) {
		rec := raw.(map[string]any)
		statuses[rec["directory_url"].(string)] = rec["status"].(string)
	}
	assert.Equal(t, map[string]string{
		"https://one.example": string(model.StatusSuccess),
		"https://two.example": string(model.StatusFailed),
	}, statuses)

	code, _ = call(t, app, "POST", fmt.Sprintf("/v1/businesses/%d/check-listings", id), "")
	require.Equal(t, fiber.StatusAccepted, code)

	code, out = call(t, app, "GET", "/v1/health", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "ok", out["overall_status"])

	code, _ = call(t, app, "PUT", "/v1/sweep/interval", `{"interval":"48h"}`)
	assert.Equal(t, fiber.StatusOK, code)
}

func TestUnknownRoutesAndIDs(t *testing.T) {
	app, _ := newApp(t)
	code, out := call(t, app, "GET", "/v1/businesses/0", "")
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, false, out["success"])

	code, _ = call(t, app, "GET", "/v1/jobs/nope", "")
	assert.Equal(t, fiber.StatusNotFound, code)
}
