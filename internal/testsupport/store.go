package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"dirsubmit/internal/core/model"
	"dirsubmit/internal/platform/store"
)

// MustOpenStore opens a fresh SQLite store under t.TempDir and closes it on cleanup.
func MustOpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "submissions.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// MustCreateBusiness stores SampleProfile and returns it with its id.
func MustCreateBusiness(t testing.TB, s *store.Store) model.BusinessProfile {
	t.Helper()
	p, err := s.CreateBusiness(context.Background(), SampleProfile())
	if err != nil {
		t.Fatalf("create business: %v", err)
	}
	return p
}

// MustSucceed drives a pair from registration to Success.
func MustSucceed(t testing.TB, s *store.Store, pair model.Pair) model.SubmissionRecord {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Register(ctx, pair); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Start(ctx, pair); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec, err := s.Complete(ctx, pair, model.StatusSuccess, model.Payload{"url": pair.DirectoryURL})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return rec
}
