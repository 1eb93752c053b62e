package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dirsubmit/internal/core/model"
)

const submissionColumns = "business_id, directory_url, status, listing_status, result_json, attempts, created_at, updated_at, last_checked_at"

func scanSubmission(scanner interface{ Scan(dest ...any) error }) (model.SubmissionRecord, error) {
	var (
		rec         model.SubmissionRecord
		status      string
		listing     string
		result      sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
		lastChecked sql.NullString
	)
	if err := scanner.Scan(
		&rec.BusinessID,
		&rec.DirectoryURL,
		&status,
		&listing,
		&result,
		&rec.Attempts,
		&createdRaw,
		&updatedRaw,
		&lastChecked,
	); err != nil {
		return model.SubmissionRecord{}, err
	}
	rec.Status = model.Status(status)
	rec.ListingStatus = model.ListingStatus(listing)
	rec.CreatedAt = parseTime(createdRaw)
	rec.UpdatedAt = parseTime(updatedRaw)
	if t := parseTime(lastChecked); !t.IsZero() {
		rec.LastCheckedAt = &t
	}
	if result.Valid && result.String != "" {
		var payload model.Payload
		if err := json.Unmarshal([]byte(result.String), &payload); err != nil {
			return model.SubmissionRecord{}, fmt.Errorf("decode result payload: %w", err)
		}
		rec.ResultPayload = payload
	}
	return rec, nil
}

// Register creates a Pending record. The pair must not already exist.
func (s *Store) Register(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx,
		`INSERT INTO submissions (business_id, directory_url, status, listing_status, attempts, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)
         ON CONFLICT (business_id, directory_url) DO NOTHING`,
		pair.BusinessID, pair.DirectoryURL, model.StatusPending, model.ListingNotChecked, now, now,
	)
	if err != nil {
		if isConstraint(err, "FOREIGN KEY") {
			return model.SubmissionRecord{}, fmt.Errorf("business %d: %w", pair.BusinessID, model.ErrBusinessNotFound)
		}
		return model.SubmissionRecord{}, fmt.Errorf("register submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.SubmissionRecord{}, fmt.Errorf("%s: %w", pair.DirectoryURL, model.ErrDuplicatePair)
	}
	return s.Get(ctx, pair)
}

// Start moves a Pending record to InProgress.
func (s *Store) Start(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE submissions SET status = ?, updated_at = ?
         WHERE business_id = ? AND directory_url = ? AND status = ?`,
		model.StatusInProgress, formatTime(time.Now()),
		pair.BusinessID, pair.DirectoryURL, model.StatusPending,
	)
	if err != nil {
		return model.SubmissionRecord{}, fmt.Errorf("start submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.SubmissionRecord{}, s.rejectTransition(ctx, pair, model.StatusInProgress)
	}
	return s.Get(ctx, pair)
}

// Complete moves an InProgress record to a terminal status and stores the payload.
func (s *Store) Complete(ctx context.Context, pair model.Pair, status model.Status, payload model.Payload) (model.SubmissionRecord, error) {
	if !status.IsTerminal() {
		return model.SubmissionRecord{}, &model.TransitionError{Pair: pair, From: model.StatusInProgress, To: status}
	}
	var blob any
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return model.SubmissionRecord{}, fmt.Errorf("encode result payload: %w", err)
		}
		blob = string(raw)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE submissions SET status = ?, result_json = ?, updated_at = ?
         WHERE business_id = ? AND directory_url = ? AND status = ?`,
		status, blob, formatTime(time.Now()),
		pair.BusinessID, pair.DirectoryURL, model.StatusInProgress,
	)
	if err != nil {
		return model.SubmissionRecord{}, fmt.Errorf("complete submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.SubmissionRecord{}, s.rejectTransition(ctx, pair, status)
	}
	return s.Get(ctx, pair)
}

// Retry moves an Error record back to Pending so it can be dispatched again.
// The previous result and listing state are cleared.
func (s *Store) Retry(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE submissions
         SET status = ?, attempts = attempts + 1, result_json = NULL,
             listing_status = ?, last_checked_at = NULL, verifying_since = NULL, updated_at = ?
         WHERE business_id = ? AND directory_url = ? AND status = ?`,
		model.StatusPending, model.ListingNotChecked, formatTime(time.Now()),
		pair.BusinessID, pair.DirectoryURL, model.StatusError,
	)
	if err != nil {
		return model.SubmissionRecord{}, fmt.Errorf("retry submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.SubmissionRecord{}, s.rejectTransition(ctx, pair, model.StatusPending)
	}
	return s.Get(ctx, pair)
}

// MarkListing overwrites the listing status of a Success record and releases
// any verification claim on it.
func (s *Store) MarkListing(ctx context.Context, pair model.Pair, listing model.ListingStatus, checkedAt time.Time) error {
	if !listing.Valid() {
		return fmt.Errorf("unknown listing status %q", listing)
	}
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE submissions
         SET listing_status = ?, last_checked_at = ?, updated_at = ?, verifying_since = NULL
         WHERE business_id = ? AND directory_url = ? AND status = ?`,
		listing, formatTime(checkedAt), formatTime(time.Now()),
		pair.BusinessID, pair.DirectoryURL, model.StatusSuccess,
	)
	if err != nil {
		return fmt.Errorf("mark listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, pair); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", pair.DirectoryURL, model.ErrIneligible)
	}
	return nil
}

// ClaimVerification marks a pair as being verified. Claims older than
// staleBefore are treated as abandoned and may be taken over.
func (s *Store) ClaimVerification(ctx context.Context, pair model.Pair, staleBefore time.Time) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE submissions SET verifying_since = ?
         WHERE business_id = ? AND directory_url = ? AND status = ? AND listing_status != ?
           AND (verifying_since IS NULL OR verifying_since < ?)`,
		formatTime(time.Now()),
		pair.BusinessID, pair.DirectoryURL, model.StatusSuccess, model.ListingLive,
		formatTime(staleBefore),
	)
	if err != nil {
		return fmt.Errorf("claim verification: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	rec, err := s.Get(ctx, pair)
	if err != nil {
		return err
	}
	if rec.Status != model.StatusSuccess || rec.ListingStatus == model.ListingLive {
		return fmt.Errorf("%s: %w", pair.DirectoryURL, model.ErrIneligible)
	}
	return fmt.Errorf("%s: %w", pair.DirectoryURL, model.ErrVerificationInFlight)
}

// ReleaseVerification drops a claim without recording a result.
func (s *Store) ReleaseVerification(ctx context.Context, pair model.Pair) error {
	if _, err := s.execWithRetry(ctx,
		`UPDATE submissions SET verifying_since = NULL WHERE business_id = ? AND directory_url = ?`,
		pair.BusinessID, pair.DirectoryURL,
	); err != nil {
		return fmt.Errorf("release verification: %w", err)
	}
	return nil
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, pair model.Pair) (model.SubmissionRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+submissionColumns+` FROM submissions WHERE business_id = ? AND directory_url = ?`,
		pair.BusinessID, pair.DirectoryURL,
	)
	rec, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubmissionRecord{}, fmt.Errorf("%s: %w", pair.DirectoryURL, model.ErrSubmissionNotFound)
	}
	if err != nil {
		return model.SubmissionRecord{}, fmt.Errorf("get submission: %w", err)
	}
	return rec, nil
}

// ListSubmissions returns every record of a business in registration order.
// A non-empty status narrows the result.
func (s *Store) ListSubmissions(ctx context.Context, businessID int64, status model.Status) ([]model.SubmissionRecord, error) {
	if status == "" {
		return s.query(ctx,
			`SELECT `+submissionColumns+` FROM submissions WHERE business_id = ? ORDER BY created_at, directory_url`,
			businessID)
	}
	return s.query(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE business_id = ? AND status = ? ORDER BY created_at, directory_url`,
		businessID, status)
}

// ListEligibleForVerification returns Success records not yet Live, ordered by
// business. A nil businessID covers every business.
func (s *Store) ListEligibleForVerification(ctx context.Context, businessID *int64) ([]model.SubmissionRecord, error) {
	if businessID == nil {
		return s.query(ctx,
			`SELECT `+submissionColumns+` FROM submissions WHERE status = ? AND listing_status != ?
             ORDER BY business_id, directory_url`,
			model.StatusSuccess, model.ListingLive)
	}
	return s.query(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE business_id = ? AND status = ? AND listing_status != ?
         ORDER BY directory_url`,
		*businessID, model.StatusSuccess, model.ListingLive)
}

// ListStale returns InProgress records last updated before cutoff.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time) ([]model.SubmissionRecord, error) {
	return s.query(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status = ? AND updated_at < ?
         ORDER BY updated_at`,
		model.StatusInProgress, formatTime(cutoff))
}

// Stats counts records per status.
func (s *Store) Stats(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("submission stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[model.Status(status)] = count
	}
	return stats, rows.Err()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]model.SubmissionRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []model.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// rejectTransition explains why a guarded UPDATE matched no row.
func (s *Store) rejectTransition(ctx context.Context, pair model.Pair, to model.Status) error {
	rec, err := s.Get(ctx, pair)
	if err != nil {
		return err
	}
	return &model.TransitionError{Pair: pair, From: rec.Status, To: to}
}
