// Package submission runs batches of directory submissions for one business
// and persists each attempt through the submission state machine.
package submission

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dirsubmit/internal/core/model"
	"dirsubmit/internal/logger"
)

// writeTimeout bounds terminal store writes issued after the attempt context ended.
const writeTimeout = 30 * time.Second

// batchSlack covers registration and terminal writes on top of the attempt budgets.
const batchSlack = 2 * time.Minute

// Store is the persistence the orchestrator depends on.
type Store interface {
	GetBusiness(ctx context.Context, id int64) (model.BusinessProfile, error)
	Register(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error)
	Start(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error)
	Complete(ctx context.Context, pair model.Pair, status model.Status, payload model.Payload) (model.SubmissionRecord, error)
	Retry(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error)
	ListSubmissions(ctx context.Context, businessID int64, status model.Status) ([]model.SubmissionRecord, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]model.SubmissionRecord, error)
}

// Submitter performs one attempt and always returns a terminal outcome.
type Submitter interface {
	Submit(ctx context.Context, profile model.BusinessProfile, directoryURL string) model.Outcome
}

type Options struct {
	Concurrency    int
	AttemptTimeout time.Duration
	ShutdownGrace  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 3 * time.Minute
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = 30 * time.Second
	}
	return o
}

// Orchestrator fans batches out to a bounded pool of attempts. One URL's
// failure never stops the others.
type Orchestrator struct {
	store  Store
	worker Submitter
	opts   Options
	log    *logger.Logger

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup

	// base is cancelled when Close runs out of grace.
	base   context.Context
	cancel context.CancelFunc
}

func NewOrchestrator(store Store, worker Submitter, opts Options, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.New("Orchestrator")
	}
	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:  store,
		worker: worker,
		opts:   opts.withDefaults(),
		log:    log,
		base:   base,
		cancel: cancel,
	}
}

// RunBatch registers every URL for the business and runs an attempt for each
// newly registered pair. It fails only for batch-level errors such as an
// unknown business; per-URL problems are reported in the summary.
func (o *Orchestrator) RunBatch(ctx context.Context, businessID int64, urls []string) (model.BatchSummary, error) {
	if err := o.begin(); err != nil {
		return model.BatchSummary{}, err
	}
	defer o.inflight.Done()

	profile, err := o.store.GetBusiness(ctx, businessID)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("run batch: %w", err)
	}

	summary := model.BatchSummary{BusinessID: businessID, Results: make([]model.URLResult, len(urls))}
	var queued []int
	for i, raw := range urls {
		u := model.NormalizeURL(raw)
		summary.Results[i].DirectoryURL = u
		if u == "" {
			summary.Results[i].DirectoryURL = raw
			summary.Results[i].Skipped = "invalid_url"
			continue
		}
		if _, err := o.store.Register(ctx, model.Pair{BusinessID: businessID, DirectoryURL: u}); err != nil {
			if errors.Is(err, model.ErrDuplicatePair) {
				summary.Results[i].Skipped = "duplicate"
				o.log.Info().Int64("business_id", businessID).Str("directory_url", u).Msg("directory already registered, skipping")
			} else {
				summary.Results[i].Skipped = "register_failed"
				summary.Results[i].Error = err.Error()
				o.log.Error().Int64("business_id", businessID).Str("directory_url", u).Err(err).Msg("register failed")
			}
			continue
		}
		queued = append(queued, i)
	}

	o.dispatch(ctx, profile, summary.Results, queued)
	summary.Tally()
	o.log.Info().
		Int64("business_id", businessID).
		Int("urls", len(urls)).
		Int("skipped", summary.Skipped).
		Int("success", summary.Counts[model.StatusSuccess]).
		Int("failed", summary.Counts[model.StatusFailed]).
		Int("error", summary.Counts[model.StatusError]).
		Msg("batch finished")
	return summary, nil
}

// Resume runs an attempt for every Pending record of the business.
func (o *Orchestrator) Resume(ctx context.Context, businessID int64) (model.BatchSummary, error) {
	if err := o.begin(); err != nil {
		return model.BatchSummary{}, err
	}
	defer o.inflight.Done()

	profile, err := o.store.GetBusiness(ctx, businessID)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("resume: %w", err)
	}
	pending, err := o.store.ListSubmissions(ctx, businessID, model.StatusPending)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("resume: %w", err)
	}

	summary := model.BatchSummary{BusinessID: businessID, Results: make([]model.URLResult, len(pending))}
	queued := make([]int, len(pending))
	for i, rec := range pending {
		summary.Results[i].DirectoryURL = rec.DirectoryURL
		queued[i] = i
	}
	o.dispatch(ctx, profile, summary.Results, queued)
	summary.Tally()
	o.log.Info().Int64("business_id", businessID).Int("resumed", len(pending)).Msg("resume finished")
	return summary, nil
}

// BatchTimeout is the wall-clock budget for running n attempts: one attempt
// budget per round of the pool, the shutdown grace and a fixed slack.
func (o *Orchestrator) BatchTimeout(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	rounds := (n + o.opts.Concurrency - 1) / o.opts.Concurrency
	return time.Duration(rounds)*o.opts.AttemptTimeout + o.opts.ShutdownGrace + batchSlack
}

// Retry returns an Error record to Pending. Resume dispatches it.
func (o *Orchestrator) Retry(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error) {
	rec, err := o.store.Retry(ctx, pair)
	if err != nil {
		o.log.Warn().Int64("business_id", pair.BusinessID).Str("directory_url", pair.DirectoryURL).Err(err).Msg("retry rejected")
		return model.SubmissionRecord{}, err
	}
	return rec, nil
}

// Stale lists InProgress records untouched for longer than grace.
func (o *Orchestrator) Stale(ctx context.Context, grace time.Duration) ([]model.SubmissionRecord, error) {
	return o.store.ListStale(ctx, time.Now().Add(-grace))
}

// ReapStale completes stale InProgress records as Error and returns them.
func (o *Orchestrator) ReapStale(ctx context.Context, grace time.Duration) ([]model.SubmissionRecord, error) {
	stale, err := o.Stale(ctx, grace)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	reaped := make([]model.SubmissionRecord, 0, len(stale))
	for _, rec := range stale {
		payload := model.Payload{
			"url":        rec.DirectoryURL,
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"error":      "attempt abandoned",
			"error_kind": "stale",
			"started_at": rec.UpdatedAt.Format(time.RFC3339),
		}
		done, err := o.store.Complete(ctx, rec.Pair, model.StatusError, payload)
		if err != nil {
			if errors.Is(err, model.ErrInvalidTransition) {
				continue
			}
			return reaped, fmt.Errorf("reap %s: %w", rec.DirectoryURL, err)
		}
		o.log.Warn().Int64("business_id", rec.BusinessID).Str("directory_url", rec.DirectoryURL).Time("since", rec.UpdatedAt).Msg("reaped stale attempt")
		reaped = append(reaped, done)
	}
	return reaped, nil
}

// Close stops accepting batches, waits up to the shutdown grace for running
// attempts, then cancels them. Cancelled attempts are still persisted as Error.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()

	timer := time.NewTimer(o.opts.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-timer.C:
		o.log.Warn().Dur("grace", o.opts.ShutdownGrace).Msg("grace period elapsed, cancelling attempts")
	case <-ctx.Done():
		o.log.Warn().Msg("shutdown context ended, cancelling attempts")
	}
	o.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return model.ErrShuttingDown
	}
	o.inflight.Add(1)
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, profile model.BusinessProfile, results []model.URLResult, queued []int) {
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, i := range queued {
		g.Go(func() error {
			o.attempt(ctx, profile, &results[i])
			return nil
		})
	}
	_ = g.Wait()
}

// attempt runs start -> submit -> complete for one pair.
func (o *Orchestrator) attempt(ctx context.Context, profile model.BusinessProfile, res *model.URLResult) {
	pair := model.Pair{BusinessID: profile.ID, DirectoryURL: res.DirectoryURL}

	// Queued pairs not yet started when the orchestrator or the batch is
	// cancelled stay Pending for Resume.
	if err := o.base.Err(); err != nil {
		res.Skipped = "shutdown"
		return
	}
	if err := ctx.Err(); err != nil {
		res.Skipped = "cancelled"
		res.Error = err.Error()
		return
	}

	if _, err := o.store.Start(ctx, pair); err != nil {
		res.Skipped = "start_failed"
		if errors.Is(err, model.ErrInvalidTransition) {
			res.Skipped = "already_started"
		}
		res.Error = err.Error()
		o.log.Warn().Int64("business_id", pair.BusinessID).Str("directory_url", pair.DirectoryURL).Err(err).Msg("start rejected")
		return
	}

	started := time.Now()
	out := o.run(ctx, profile, pair.DirectoryURL)
	res.Duration = time.Since(started).Round(time.Millisecond).String()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if _, err := o.store.Complete(writeCtx, pair, out.Status, out.Payload); err != nil {
		res.Status = model.StatusError
		res.Error = fmt.Sprintf("complete: %v", err)
		o.log.Error().Int64("business_id", pair.BusinessID).Str("directory_url", pair.DirectoryURL).Err(err).Msg("complete failed")
		return
	}

	res.Status = out.Status
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	o.log.Info().
		Int64("business_id", pair.BusinessID).
		Str("directory_url", pair.DirectoryURL).
		Str("status", string(out.Status)).
		Str("duration", res.Duration).
		Msg("attempt finished")
}

// run executes the submitter under the attempt budget. Panics become
// UnexpectedAutomationError outcomes.
func (o *Orchestrator) run(ctx context.Context, profile model.BusinessProfile, url string) (out model.Outcome) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.opts.AttemptTimeout)
	defer cancel()
	stop := context.AfterFunc(o.base, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			err := &model.UnexpectedAutomationError{Err: fmt.Errorf("panic: %v", r)}
			out = model.Outcome{
				Status: model.StatusError,
				Err:    err,
				Payload: model.Payload{
					"url":        url,
					"timestamp":  time.Now().UTC().Format(time.RFC3339),
					"error":      err.Error(),
					"error_kind": model.ErrorKind(err),
					"stack":      string(debug.Stack()),
				},
			}
		}
	}()

	out = o.worker.Submit(attemptCtx, profile, url)
	if !out.Status.IsTerminal() {
		out.Status = model.ClassifyAttemptError(out.Err)
	}
	if out.Payload == nil {
		out.Payload = model.Payload{"url": url, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	}
	if out.Err != nil {
		if _, ok := out.Payload["error"]; !ok {
			out.Payload["error"] = out.Err.Error()
			out.Payload["error_kind"] = model.ErrorKind(out.Err)
		}
	}
	return out
}
