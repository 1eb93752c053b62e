package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirsubmit/internal/core/model"
	"dirsubmit/internal/testsupport"
)

func TestBusinessRoundTrip(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()

	created := testsupport.MustCreateBusiness(t, s)
	require.NotZero(t, created.ID)

	got, err := s.GetBusiness(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bean There Coffee", got.CompanyName)
	assert.Equal(t, []string{"coffee", "roastery", "espresso"}, got.Keywords)
	assert.Equal(t, "Portland", got.Location.City)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetBusiness(ctx, created.ID+100)
	assert.ErrorIs(t, err, model.ErrBusinessNotFound)
}

func TestRegisterRejectsDuplicatePair(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: b.ID, DirectoryURL: "https://dir.example"}

	rec, err := s.Register(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, model.ListingNotChecked, rec.ListingStatus)

	_, err = s.Register(ctx, pair)
	assert.ErrorIs(t, err, model.ErrDuplicatePair)

	all, err := s.ListSubmissions(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterUnknownBusiness(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	_, err := s.Register(context.Background(), model.Pair{BusinessID: 999, DirectoryURL: "https://dir.example"})
	assert.ErrorIs(t, err, model.ErrBusinessNotFound)
}

func TestCompleteWithoutStart(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: b.ID, DirectoryURL: "https://dir.example"}
	_, err := s.Register(ctx, pair)
	require.NoError(t, err)

	_, err = s.Complete(ctx, pair, model.StatusSuccess, nil)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	var te *model.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.StatusPending, te.From)

	rec, err := s.Get(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: b.ID, DirectoryURL: "https://dir.example"}
	_, err := s.Register(ctx, pair)
	require.NoError(t, err)
	_, err = s.Start(ctx, pair)
	require.NoError(t, err)

	_, err = s.Complete(ctx, pair, model.StatusPending, nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestConcurrentStartHasOneWinner(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: b.ID, DirectoryURL: "https://dir.example"}
	_, err := s.Register(ctx, pair)
	require.NoError(t, err)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Start(ctx, pair)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, model.ErrInvalidTransition):
				rejected++
			default:
				t.Errorf("unexpected start error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, rejected)
}

func TestTerminalStatusNeverReverts(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: b.ID, DirectoryURL: "https://dir.example"}
	rec := testsupport.MustSucceed(t, s, pair)
	assert.Equal(t, "https://dir.example", rec.ResultPayload["url"])

	_, err := s.Start(ctx, pair)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = s.Complete(ctx, pair, model.StatusError, nil)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = s.Retry(ctx, pair)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	got, err := s.Get(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSuccess, got.Status)
}

func TestRetryResetsErrorRecord(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: b.ID, DirectoryURL: "https://dir.example"}
	_, err := s.Register(ctx, pair)
	require.NoError(t, err)
	_, err = s.Start(ctx, pair)
	require.NoError(t, err)
	_, err = s.Complete(ctx, pair, model.StatusError, model.Payload{"error": "timeout"})
	require.NoError(t, err)

	rec, err := s.Retry(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Nil(t, rec.ResultPayload)
}

func TestMarkListing(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)

	pending := model.Pair{BusinessID: b.ID, DirectoryURL: "https://pending.example"}
	_, err := s.Register(ctx, pending)
	require.NoError(t, err)
	err = s.MarkListing(ctx, pending, model.ListingLive, time.Now())
	assert.ErrorIs(t, err, model.ErrIneligible)
	rec, err := s.Get(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, model.ListingNotChecked, rec.ListingStatus)
	assert.Nil(t, rec.LastCheckedAt)

	ok := model.Pair{BusinessID: b.ID, DirectoryURL: "https://ok.example"}
	testsupport.MustSucceed(t, s, ok)
	require.NoError(t, s.MarkListing(ctx, ok, model.ListingPotential, time.Now()))
	require.NoError(t, s.MarkListing(ctx, ok, model.ListingLive, time.Now()))
	rec, err = s.Get(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, model.ListingLive, rec.ListingStatus)
	require.NotNil(t, rec.LastCheckedAt)

	err = s.MarkListing(ctx, model.Pair{BusinessID: b.ID, DirectoryURL: "https://missing.example"}, model.ListingLive, time.Now())
	assert.ErrorIs(t, err, model.ErrSubmissionNotFound)
}

func TestVerificationClaimIsSingleFlight(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b := testsupport.MustCreateBusiness(t, s)
	pair := model.Pair{BusinessID: b.ID, DirectoryURL: "https://dir.example"}
	testsupport.MustSucceed(t, s, pair)

	staleBefore := time.Now().Add(-time.Hour)
	require.NoError(t, s.ClaimVerification(ctx, pair, staleBefore))
	assert.ErrorIs(t, s.ClaimVerification(ctx, pair, staleBefore), model.ErrVerificationInFlight)

	// A claim older than staleBefore can be taken over.
	assert.NoError(t, s.ClaimVerification(ctx, pair, time.Now().Add(time.Second)))

	require.NoError(t, s.MarkListing(ctx, pair, model.ListingPotential, time.Now()))
	assert.NoError(t, s.ClaimVerification(ctx, pair, staleBefore))
	require.NoError(t, s.ReleaseVerification(ctx, pair))

	require.NoError(t, s.MarkListing(ctx, pair, model.ListingLive, time.Now()))
	assert.ErrorIs(t, s.ClaimVerification(ctx, pair, staleBefore), model.ErrIneligible)
}

func TestListEligibleAndStale(t *testing.T) {
	s := testsupport.MustOpenStore(t)
	ctx := context.Background()
	b1 := testsupport.MustCreateBusiness(t, s)
	b2 := testsupport.MustCreateBusiness(t, s)

	live := model.Pair{BusinessID: b1.ID, DirectoryURL: "https://live.example"}
	testsupport.MustSucceed(t, s, live)
	require.NoError(t, s.MarkListing(ctx, live, model.ListingLive, time.Now()))
	testsupport.MustSucceed(t, s, model.Pair{BusinessID: b1.ID, DirectoryURL: "https://a.example"})
	testsupport.MustSucceed(t, s, model.Pair{BusinessID: b2.ID, DirectoryURL: "https://b.example"})

	running := model.Pair{BusinessID: b2.ID, DirectoryURL: "https://running.example"}
	_, err := s.Register(ctx, running)
	require.NoError(t, err)
	_, err = s.Start(ctx, running)
	require.NoError(t, err)

	all, err := s.ListEligibleForVerification(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b1.ID, all[0].BusinessID)
	assert.Equal(t, b2.ID, all[1].BusinessID)

	scoped, err := s.ListEligibleForVerification(ctx, &b2.ID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "https://b.example", scoped[0].DirectoryURL)

	stale, err := s.ListStale(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, running, stale[0].Pair)

	fresh, err := s.ListStale(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, fresh)

	inProgress, err := s.ListSubmissions(ctx, b2.ID, model.StatusInProgress)
	require.NoError(t, err)
	assert.Len(t, inProgress, 1)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[model.StatusSuccess])
	assert.Equal(t, 1, stats[model.StatusInProgress])
	assert.NoError(t, s.Ping(ctx))
}
