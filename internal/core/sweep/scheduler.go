// Package sweep owns the recurring listing-verification sweep.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"dirsubmit/internal/core/model"
	"dirsubmit/internal/core/verify"
	"dirsubmit/internal/logger"
)

const lockKey = "sweep:recurring"

type Store interface {
	GetBusiness(ctx context.Context, id int64) (model.BusinessProfile, error)
	ListEligibleForVerification(ctx context.Context, businessID *int64) ([]model.SubmissionRecord, error)
	ClaimVerification(ctx context.Context, pair model.Pair, staleBefore time.Time) error
	MarkListing(ctx context.Context, pair model.Pair, listing model.ListingStatus, checkedAt time.Time) error
	ReleaseVerification(ctx context.Context, pair model.Pair) error
}

// Checker is satisfied by *verify.Verifier.
type Checker interface {
	Check(ctx context.Context, rec model.SubmissionRecord, profile model.BusinessProfile) verify.Result
}

// Locker is satisfied by *redis.Service.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// StaleReporter is satisfied by *submission.Orchestrator.
type StaleReporter interface {
	Stale(ctx context.Context, grace time.Duration) ([]model.SubmissionRecord, error)
}

type Options struct {
	Interval    time.Duration
	Concurrency int
	// ClaimTTL is how long a verification claim is honoured before another
	// sweep may take the pair over.
	ClaimTTL   time.Duration
	StopGrace  time.Duration
	StaleGrace time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 7 * 24 * time.Hour
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 30 * time.Minute
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 30 * time.Second
	}
	if o.StaleGrace <= 0 {
		o.StaleGrace = 15 * time.Minute
	}
	return o
}

type Option func(*Scheduler)

func WithLocker(l Locker) Option { return func(s *Scheduler) { s.locker = l } }

func WithStaleReporter(r StaleReporter) Option { return func(s *Scheduler) { s.stale = r } }

func WithLogger(l *logger.Logger) Option { return func(s *Scheduler) { s.log = l } }

// Report summarises one sweep.
type Report struct {
	BusinessID *int64                      `json:"business_id,omitempty"`
	Eligible   int                         `json:"eligible"`
	Checked    int                         `json:"checked"`
	Skipped    int                         `json:"skipped"`
	Failed     int                         `json:"failed"`
	Listing    map[model.ListingStatus]int `json:"listing"`
	Duration   time.Duration               `json:"duration"`
}

// Scheduler runs one recurring sweep entry plus on-demand sweeps. It is
// created stopped; Start and Stop bracket its lifetime.
type Scheduler struct {
	store   Store
	checker Checker
	locker  Locker
	stale   StaleReporter
	opts    Options
	log     *logger.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	running  bool
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

func New(store Store, checker Checker, opts Options, options ...Option) *Scheduler {
	s := &Scheduler{store: store, checker: checker, opts: opts.withDefaults()}
	for _, o := range options {
		o(s)
	}
	if s.log == nil {
		s.log = logger.New("SweepScheduler")
	}
	return s
}

// Interval returns the current recurring interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Interval
}

// Start registers the recurring entry and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	cl := cronLogger{s.log}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	id, err := s.cron.AddFunc(every(s.opts.Interval), s.runScheduled)
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.entry = id
	s.base, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.cron.Start()
	s.log.Info().Str("interval", s.opts.Interval.String()).Msg("sweep scheduler started")
	return nil
}

// Stop halts the recurring entry and waits up to StopGrace for in-flight
// sweeps, then cancels them. Cancelled checks release their claims without
// writing a listing status.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.opts.StopGrace):
		s.log.Warn().Str("grace", s.opts.StopGrace.String()).Msg("sweeps still running, cancelling")
		cancel()
		<-done
	}
	cancel()
	s.log.LogInfo("sweep scheduler stopped")
}

// Reconfigure swaps the recurring entry for one at the new interval. At most
// one entry exists at any time.
func (s *Scheduler) Reconfigure(interval time.Duration) error {
	if interval < time.Second {
		return fmt.Errorf("sweep interval %s is below one second", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		id, err := s.cron.AddFunc(every(interval), s.runScheduled)
		if err != nil {
			return fmt.Errorf("schedule sweep: %w", err)
		}
		s.cron.Remove(s.entry)
		s.entry = id
	}
	s.opts.Interval = interval
	s.log.Info().Str("interval", interval.String()).Msg("sweep interval reconfigured")
	return nil
}

// TriggerNow starts an immediate sweep in the background, scoped to one
// business when businessID is set.
func (s *Scheduler) TriggerNow(businessID *int64) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return model.ErrShuttingDown
	}
	ctx := s.base
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		if _, err := s.Sweep(ctx, businessID); err != nil {
			s.log.Error().Err(err).Msg("on-demand sweep failed")
		}
	}()
	return nil
}

func (s *Scheduler) runScheduled() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ctx, interval := s.base, s.opts.Interval
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if s.locker != nil {
		// Held, not released, for half the interval so replicas firing on the
		// same tick skip.
		_, ok, err := s.locker.TryLock(ctx, lockKey, interval/2)
		if err != nil {
			s.log.Warn().Err(err).Msg("sweep lock unavailable, running unlocked")
		} else if !ok {
			s.log.LogInfo("recurring sweep held by another replica, skipping")
			return
		}
	}

	s.reportStale(ctx)
	if _, err := s.Sweep(ctx, nil); err != nil {
		s.log.Error().Err(err).Msg("recurring sweep failed")
	}
}

func (s *Scheduler) reportStale(ctx context.Context) {
	if s.stale == nil {
		return
	}
	stale, err := s.stale.Stale(ctx, s.opts.StaleGrace)
	if err != nil {
		s.log.Warn().Err(err).Msg("stale check failed")
		return
	}
	for _, rec := range stale {
		s.log.Warn().
			Int64("business_id", rec.BusinessID).
			Str("directory_url", rec.DirectoryURL).
			Time("updated_at", rec.UpdatedAt).
			Msg("submission stuck in progress")
	}
}

// Sweep verifies every eligible record, or those of one business, and
// persists the listing status of each. A pair already claimed by another
// sweep is skipped.
func (s *Scheduler) Sweep(ctx context.Context, businessID *int64) (Report, error) {
	started := time.Now()
	report := Report{BusinessID: businessID, Listing: map[model.ListingStatus]int{}}

	records, err := s.store.ListEligibleForVerification(ctx, businessID)
	if err != nil {
		return report, fmt.Errorf("list eligible: %w", err)
	}
	report.Eligible = len(records)

	event := s.log.Info().Int("eligible", len(records))
	if businessID != nil {
		event = event.Int64("business_id", *businessID)
	}
	event.Msg("sweep started")

	groups := map[int64][]model.SubmissionRecord{}
	var ids []int64
	for _, rec := range records {
		if _, ok := groups[rec.BusinessID]; !ok {
			ids = append(ids, rec.BusinessID)
		}
		groups[rec.BusinessID] = append(groups[rec.BusinessID], rec)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var mu sync.Mutex
	tally := func(f func(r *Report)) {
		mu.Lock()
		f(&report)
		mu.Unlock()
	}

	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for _, id := range ids {
		profile, err := s.store.GetBusiness(ctx, id)
		if err != nil {
			s.log.Error().Int64("business_id", id).Err(err).Msg("skipping business")
			tally(func(r *Report) { r.Failed += len(groups[id]) })
			continue
		}
		for _, rec := range groups[id] {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				status, err := s.verifyOne(ctx, rec, profile)
				tally(func(r *Report) {
					switch {
					case errors.Is(err, model.ErrVerificationInFlight), errors.Is(err, model.ErrIneligible):
						r.Skipped++
					case err != nil:
						r.Failed++
					default:
						r.Checked++
						r.Listing[status]++
					}
				})
				return nil
			})
		}
	}
	_ = g.Wait()

	report.Duration = time.Since(started)
	s.log.Info().
		Int("eligible", report.Eligible).
		Int("checked", report.Checked).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("sweep finished")
	return report, ctx.Err()
}

func (s *Scheduler) verifyOne(ctx context.Context, rec model.SubmissionRecord, profile model.BusinessProfile) (model.ListingStatus, error) {
	pair := rec.Pair
	if err := s.store.ClaimVerification(ctx, pair, time.Now().Add(-s.opts.ClaimTTL)); err != nil {
		s.log.Debug().Int64("business_id", pair.BusinessID).Str("directory_url", pair.DirectoryURL).Err(err).Msg("verification skipped")
		return "", err
	}

	res := s.checker.Check(ctx, rec, profile)
	if ctx.Err() != nil {
		s.release(pair)
		return "", ctx.Err()
	}
	if err := s.store.MarkListing(context.WithoutCancel(ctx), pair, res.Status, res.CheckedAt); err != nil {
		s.log.Error().Int64("business_id", pair.BusinessID).Str("directory_url", pair.DirectoryURL).Err(err).Msg("mark listing failed")
		s.release(pair)
		return "", err
	}
	s.log.Info().
		Int64("business_id", pair.BusinessID).
		Str("directory_url", pair.DirectoryURL).
		Str("listing_status", string(res.Status)).
		Msg("listing verified")
	return res.Status, nil
}

func (s *Scheduler) release(pair model.Pair) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.ReleaseVerification(ctx, pair); err != nil {
		s.log.Warn().Int64("business_id", pair.BusinessID).Str("directory_url", pair.DirectoryURL).Err(err).Msg("release verification")
	}
}

func every(d time.Duration) string { return "@every " + d.String() }

// cronLogger routes cron's own messages through the component logger.
type cronLogger struct{ l *logger.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}
