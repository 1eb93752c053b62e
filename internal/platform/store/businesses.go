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

// CreateBusiness stores a profile and returns it with its assigned id.
func (s *Store) CreateBusiness(ctx context.Context, p model.BusinessProfile) (model.BusinessProfile, error) {
	p.ID = 0
	p.CreatedAt = time.Now().UTC()
	blob, err := json.Marshal(p)
	if err != nil {
		return model.BusinessProfile{}, fmt.Errorf("encode profile: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO businesses (company_name, website_url, profile_json, created_at) VALUES (?, ?, ?, ?)`,
		p.CompanyName, p.WebsiteURL, string(blob), formatTime(p.CreatedAt),
	)
	if err != nil {
		return model.BusinessProfile{}, fmt.Errorf("insert business: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.BusinessProfile{}, fmt.Errorf("business id: %w", err)
	}
	p.ID = id
	return p, nil
}

// GetBusiness loads a profile by id.
func (s *Store) GetBusiness(ctx context.Context, id int64) (model.BusinessProfile, error) {
	var (
		blob    string
		created sql.NullString
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT profile_json, created_at FROM businesses WHERE id = ?`, id,
	).Scan(&blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BusinessProfile{}, fmt.Errorf("business %d: %w", id, model.ErrBusinessNotFound)
	}
	if err != nil {
		return model.BusinessProfile{}, fmt.Errorf("get business: %w", err)
	}
	var p model.BusinessProfile
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return model.BusinessProfile{}, fmt.Errorf("decode profile %d: %w", id, err)
	}
	p.ID = id
	p.CreatedAt = parseTime(created)
	return p, nil
}
