package sweep_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dirsubmit/internal/core/heuristics"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/core/sweep"
	"dirsubmit/internal/core/verify"
	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/automation"
	rds "dirsubmit/internal/platform/redis"
	"dirsubmit/internal/platform/store"
	"dirsubmit/internal/testsupport"
)

// fixedChecker returns the same status for every record, after an optional
// delay that honours cancellation.
type fixedChecker struct {
	status model.ListingStatus
	delay  time.Duration
	calls  atomic.Int32
}

func (f *fixedChecker) Check(ctx context.Context, rec model.SubmissionRecord, _ model.BusinessProfile) verify.Result {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return verify.Result{Status: model.ListingError, CheckedAt: time.Now(), Err: ctx.Err()}
		}
	}
	return verify.Result{Status: f.status, CheckedAt: time.Now()}
}

func newScheduler(s sweep.Store, c sweep.Checker, opts sweep.Options, options ...sweep.Option) *sweep.Scheduler {
	options = append([]sweep.Option{sweep.WithLogger(logger.Nop())}, options...)
	return sweep.New(s, c, opts, options...)
}

func seed(t *testing.T, s *store.Store, n int) model.BusinessProfile {
	t.Helper()
	biz := testsupport.MustCreateBusiness(t, s)
	for i := 0; i < n; i++ {
		testsupport.MustSucceed(t, s, model.Pair{BusinessID: biz.ID, DirectoryURL: fmt.Sprintf("https://dir%d.example", i)})
	}
	return biz
}

func TestSweepMarksEligibleRecords(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := seed(t, s, 3)
	ctx := context.Background()

	// Failed records are not eligible.
	failed := model.Pair{BusinessID: biz.ID, DirectoryURL: "https://failed.example"}
	_, err := s.Register(ctx, failed)
	require.NoError(t, err)
	_, err = s.Start(ctx, failed)
	require.NoError(t, err)
	_, err = s.Complete(ctx, failed, model.StatusFailed, nil)
	require.NoError(t, err)

	checker := &fixedChecker{status: model.ListingPotential}
	report, err := newScheduler(s, checker, sweep.Options{Concurrency: 2}).Sweep(ctx, &biz.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Eligible)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Listing[model.ListingPotential])
	assert.EqualValues(t, 3, checker.calls.Load())

	records, err := s.ListSubmissions(ctx, biz.ID, model.StatusSuccess)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, model.ListingPotential, rec.ListingStatus)
		assert.NotNil(t, rec.LastCheckedAt)
	}
	rec, err := s.Get(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, model.ListingNotChecked, rec.ListingStatus)
}

func TestSweepSkipsLiveListings(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := seed(t, s, 2)
	ctx := context.Background()

	checker := &fixedChecker{status: model.ListingLive}
	sch := newScheduler(s, checker, sweep.Options{})
	_, err := sch.Sweep(ctx, nil)
	require.NoError(t, err)

	report, err := sch.Sweep(ctx, &biz.ID)
	require.NoError(t, err)
	assert.Zero(t, report.Eligible)
	assert.EqualValues(t, 2, checker.calls.Load())
}

func TestConcurrentSweepsCheckEachPairOnce(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := seed(t, s, 4)

	checker := &fixedChecker{status: model.ListingNotFound, delay: 50 * time.Millisecond}
	sch := newScheduler(s, checker, sweep.Options{Concurrency: 4})

	var wg sync.WaitGroup
	reports := make([]sweep.Report, 2)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := sch.Sweep(context.Background(), &biz.ID)
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 4, checker.calls.Load())
	assert.Equal(t, 4, reports[0].Checked+reports[1].Checked)
	assert.Equal(t, reports[0].Eligible+reports[1].Eligible-4, reports[0].Skipped+reports[1].Skipped)

	records, err := s.ListSubmissions(context.Background(), biz.ID, model.StatusSuccess)
	require.NoError(t, err)
	for _, rec := range records {
		assert.Equal(t, model.ListingNotFound, rec.ListingStatus)
	}
}

func TestMarkListingRejectsIneligibleRecord(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: biz.ID, DirectoryURL: "https://pending.example"}
	_, err := s.Register(context.Background(), pair)
	require.NoError(t, err)

	err = s.MarkListing(context.Background(), pair, model.ListingLive, time.Now())
	assert.ErrorIs(t, err, model.ErrIneligible)
	rec, err := s.Get(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, model.ListingNotChecked, rec.ListingStatus)
}

func TestSweepWithVerifier(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: biz.ID, DirectoryURL: "https://dir.example"}
	testsupport.MustSucceed(t, s, pair)

	client := testsupport.NewFakeClient(map[string]testsupport.Page{
		"https://dir.example": {
			Fields:   []automation.FieldDescriptor{{Name: "q", Kind: automation.KindSearch}},
			OnSubmit: "https://dir.example/results",
		},
		"https://dir.example/results": {
			Text:  "Results: Bean There Coffee, Portland",
			Links: []automation.Link{{Href: "https://www.beanthere.example/", Text: "Website"}},
		},
	})
	v := verify.New(client, heuristics.Default(), logger.Nop())

	report, err := newScheduler(s, v, sweep.Options{}).Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Listing[model.ListingLive])

	rec, err := s.Get(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, model.ListingLive, rec.ListingStatus)
}

func TestSchedulerLifecycle(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := seed(t, s, 2)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	checker := &fixedChecker{status: model.ListingPotential}
	sch := newScheduler(s, checker, sweep.Options{Interval: time.Hour})

	assert.ErrorIs(t, sch.TriggerNow(nil), model.ErrShuttingDown)
	require.NoError(t, sch.Start())
	require.NoError(t, sch.TriggerNow(&biz.ID))

	require.Eventually(t, func() bool { return checker.calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	sch.Stop()
	sch.Stop()
	assert.ErrorIs(t, sch.TriggerNow(nil), model.ErrShuttingDown)
}

func TestStopCancelsInFlightSweep(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := seed(t, s, 1)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	checker := &fixedChecker{status: model.ListingLive, delay: time.Minute}
	sch := newScheduler(s, checker, sweep.Options{Interval: time.Hour, StopGrace: 20 * time.Millisecond})
	require.NoError(t, sch.Start())
	require.NoError(t, sch.TriggerNow(nil))
	require.Eventually(t, func() bool { return checker.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	start := time.Now()
	sch.Stop()
	assert.Less(t, time.Since(start), 5*time.Second)

	rec, err := s.Get(context.Background(), model.Pair{BusinessID: biz.ID, DirectoryURL: "https://dir0.example"})
	require.NoError(t, err)
	assert.Equal(t, model.ListingNotChecked, rec.ListingStatus)

	// The claim was released, so the next sweep picks the pair up again.
	checker.delay = 0
	report, err := sch.Sweep(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestReconfigure(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sch := newScheduler(s, &fixedChecker{}, sweep.Options{Interval: time.Hour})
	require.NoError(t, sch.Start())
	defer sch.Stop()

	require.NoError(t, sch.Reconfigure(72*time.Hour))
	assert.Equal(t, 72*time.Hour, sch.Interval())
	assert.Error(t, sch.Reconfigure(0))
	assert.Equal(t, 72*time.Hour, sch.Interval())
}

func TestRecurringSweepTakesClusterLock(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	seed(t, s, 1)
	mr := miniredis.RunT(t)
	rc := redisv8.NewClient(&redisv8.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	locks := rds.NewFromClient(rc)

	// Another replica holds the lock.
	_, ok, err := locks.TryLock(context.Background(), "sweep:recurring", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	checker := &fixedChecker{status: model.ListingLive}
	sch := newScheduler(s, checker, sweep.Options{Interval: time.Second}, sweep.WithLocker(locks))
	require.NoError(t, sch.Start())
	time.Sleep(1500 * time.Millisecond)
	sch.Stop()
	assert.Zero(t, checker.calls.Load())

	mr.Del("sweep:recurring")
	require.NoError(t, sch.Start())
	require.Eventually(t, func() bool { return checker.calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	sch.Stop()
	assert.True(t, mr.Exists("sweep:recurring"))
}

func TestHandlers(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	biz := seed(t, s, 1)
	checker := &fixedChecker{status: model.ListingPotential}
	sch := newScheduler(s, checker, sweep.Options{Interval: time.Hour})
	h := sweep.NewHandler(sch, s)

	app := fiber.New()
	app.Post("/v1/businesses/:id/check-listings", h.HandleCheckBusiness)
	app.Post("/v1/check-listings", h.HandleCheckAll)
	app.Put("/v1/sweep/interval", h.HandleSetInterval)

	resp, err := app.Test(httptest.NewRequest("POST", "/v1/check-listings", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, sch.Start())
	t.Cleanup(sch.Stop)

	resp, err = app.Test(httptest.NewRequest("POST", fmt.Sprintf("/v1/businesses/%d/check-listings", biz.ID), nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return checker.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err = app.Test(httptest.NewRequest("POST", "/v1/businesses/999/check-listings", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	req := httptest.NewRequest("PUT", "/v1/sweep/interval", strings.NewReader(`{"interval":"72h"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 72*time.Hour, sch.Interval())

	req = httptest.NewRequest("PUT", "/v1/sweep/interval", strings.NewReader(`{"interval":"soon"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
