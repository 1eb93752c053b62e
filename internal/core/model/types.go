package model

import (
	"fmt"
	"strings"
	"time"
)

// BusinessProfile is the intake payload submitted to every directory.
// It is immutable once stored.
type BusinessProfile struct {
	ID                  int64             `json:"id,omitempty"`
	CompanyName         string            `json:"company_name"`
	Tagline             string            `json:"tagline,omitempty"`
	WebsiteURL          string            `json:"website_url"`
	Email               string            `json:"email"`
	Phone               string            `json:"phone,omitempty"`
	Password            string            `json:"password,omitempty"`
	BusinessDescription string            `json:"business_description,omitempty"`
	SocialMediaLinks    map[string]string `json:"social_media_links,omitempty"`
	FounderName         string            `json:"founder_name,omitempty"`
	BusinessCategory    string            `json:"business_category,omitempty"`
	Keywords            []string          `json:"keywords,omitempty"`
	Address             string            `json:"address,omitempty"`
	Location            Location          `json:"location"`
	CreatedAt           time.Time         `json:"created_at,omitempty"`
}

// Location is the structured part of a business address.
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
	Zip     string `json:"zip,omitempty"`
}

// Public returns a copy without submission-only credential fields.
func (p BusinessProfile) Public() BusinessProfile {
	p.Password = ""
	return p
}

// Pair identifies one submission lifecycle record.
type Pair struct {
	BusinessID   int64  `json:"business_id"`
	DirectoryURL string `json:"directory_url"`
}

// Status is the submission lifecycle status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further start/complete transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSuccess, StatusFailed, StatusError:
		return true
	}
	return false
}

// ListingStatus tracks whether a successful submission is visibly published.
type ListingStatus string

const (
	ListingNotChecked ListingStatus = "not_checked"
	ListingNotFound   ListingStatus = "not_found"
	ListingPotential  ListingStatus = "potential"
	ListingLive       ListingStatus = "live"
	ListingError      ListingStatus = "error"
)

// Valid reports whether l is a known listing status.
func (l ListingStatus) Valid() bool {
	switch l {
	case ListingNotChecked, ListingNotFound, ListingPotential, ListingLive, ListingError:
		return true
	}
	return false
}

// Payload is the opaque evidence captured for an attempt.
type Payload map[string]any

// SubmissionRecord is the persisted state of one pair.
type SubmissionRecord struct {
	Pair
	Status        Status        `json:"status"`
	ListingStatus ListingStatus `json:"listing_status"`
	ResultPayload Payload       `json:"result_payload,omitempty"`
	Attempts      int           `json:"attempts"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastCheckedAt *time.Time    `json:"last_checked_at,omitempty"`
}

// NormalizeURL trims whitespace and prefixes a scheme when missing.
// Returns "" for blank input.
func NormalizeURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		return ""
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	return u
}

// Validate checks the fields every directory form needs.
func (p BusinessProfile) Validate() error {
	var missing []string
	if strings.TrimSpace(p.CompanyName) == "" {
		missing = append(missing, "company_name")
	}
	if strings.TrimSpace(p.WebsiteURL) == "" {
		missing = append(missing, "website_url")
	}
	if strings.TrimSpace(p.Email) == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	return nil
}
