// Package verify checks whether an accepted submission is visibly listed on
// its directory.
package verify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"dirsubmit/internal/core/heuristics"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/automation"
)

// Result is the outcome of one listing check.
type Result struct {
	Status    model.ListingStatus `json:"listing_status"`
	SearchURL string              `json:"search_url,omitempty"`
	CheckedAt time.Time           `json:"checked_at"`
	Err       error               `json:"-"`
}

// Verifier searches a directory for a business and classifies what it finds.
// It never touches storage; callers persist the returned status.
type Verifier struct {
	client automation.Client
	tables heuristics.Tables
	log    *logger.Logger
}

func New(client automation.Client, tables heuristics.Tables, log *logger.Logger) *Verifier {
	if log == nil {
		log = logger.New("ListingVerifier")
	}
	return &Verifier{client: client, tables: tables, log: log}
}

// Check runs the directory search for rec and returns the listing status.
// Navigation failures yield ListingError with Err set.
func (v *Verifier) Check(ctx context.Context, rec model.SubmissionRecord, profile model.BusinessProfile) Result {
	now := time.Now().UTC()
	if rec.Status != model.StatusSuccess {
		return Result{Status: model.ListingError, CheckedAt: now, Err: model.ErrIneligible}
	}

	searchURL, text, links, err := v.search(ctx, rec.DirectoryURL, profile.CompanyName)
	if err != nil {
		v.log.Warn().Int64("business_id", rec.BusinessID).Str("directory_url", rec.DirectoryURL).Err(err).Msg("listing search failed")
		return Result{Status: model.ListingError, SearchURL: searchURL, CheckedAt: now, Err: err}
	}
	status := Decide(profile.CompanyName, profile.WebsiteURL, text, links)
	v.log.Debug().Int64("business_id", rec.BusinessID).Str("directory_url", rec.DirectoryURL).Str("listing_status", string(status)).Msg("listing checked")
	return Result{Status: status, SearchURL: searchURL, CheckedAt: now}
}

func (v *Verifier) search(ctx context.Context, directoryURL, name string) (string, string, []automation.Link, error) {
	h, err := v.client.Open(ctx, directoryURL)
	if err != nil {
		return directoryURL, "", nil, err
	}
	defer func() { _ = v.client.Close(h) }()

	// Guessed paths are only tried on directories without a search box; a
	// completed box search is classified as is.
	if box, ok := v.searchBox(ctx, h); ok {
		if err := v.client.SetFieldValue(ctx, h, box, name); err != nil {
			return directoryURL, "", nil, err
		}
		if err := v.client.Click(ctx, h, box); err != nil {
			return directoryURL, "", nil, err
		}
	} else {
		lowerName := strings.ToLower(strings.TrimSpace(name))
		if err := v.tryGuessedPaths(ctx, h, directoryURL, name, lowerName); err != nil {
			return directoryURL, "", nil, err
		}
	}

	current, err := v.client.CurrentURL(ctx, h)
	if err != nil {
		return directoryURL, "", nil, err
	}
	text, err := v.client.PageText(ctx, h)
	if err != nil {
		return current, "", nil, err
	}
	links, err := v.client.Links(ctx, h)
	if err != nil {
		return current, "", nil, err
	}
	return current, text, links, nil
}

// tryGuessedPaths navigates the conventional search paths and stops at the
// first page mentioning the business. Fails only when every path fails.
func (v *Verifier) tryGuessedPaths(ctx context.Context, h automation.PageHandle, directoryURL, name, lowerName string) error {
	base, err := baseURL(directoryURL)
	if err != nil {
		return automation.NavErr("search", directoryURL, err)
	}
	var errs []error
	reached := 0
	for _, path := range v.tables.SearchPaths {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		target := base + path + "?" + url.Values{v.tables.SearchQueryParam: {name}}.Encode()
		if err := v.client.Navigate(ctx, h, target); err != nil {
			errs = append(errs, err)
			continue
		}
		reached++
		text, err := v.client.PageText(ctx, h)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if lowerName != "" && strings.Contains(strings.ToLower(text), lowerName) {
			return nil
		}
	}
	if reached == 0 && len(errs) > 0 {
		return fmt.Errorf("all search paths failed: %w", errors.Join(errs...))
	}
	return nil
}

func (v *Verifier) searchBox(ctx context.Context, h automation.PageHandle) (automation.FieldDescriptor, bool) {
	descs, err := v.client.FindFieldDescriptors(ctx, h)
	if err != nil {
		return automation.FieldDescriptor{}, false
	}
	for _, d := range descs {
		if d.Kind == automation.KindSearch {
			return d, true
		}
	}
	for _, d := range descs {
		if d.Kind != automation.KindText {
			continue
		}
		attrs := strings.ToLower(d.Name + " " + d.ID + " " + d.Placeholder)
		for _, tok := range v.tables.SearchTokens {
			if strings.Contains(attrs, tok) {
				return d, true
			}
		}
	}
	return automation.FieldDescriptor{}, false
}

// Decide classifies page content:
// name and domain in text -> Live; name plus a link to the domain -> Live;
// name only -> Potential; otherwise NotFound.
func Decide(name, website, pageText string, links []automation.Link) model.ListingStatus {
	n := strings.ToLower(strings.TrimSpace(name))
	text := strings.ToLower(pageText)
	if n == "" || !strings.Contains(text, n) {
		return model.ListingNotFound
	}

	domain := Domain(website)
	if domain == "" {
		return model.ListingPotential
	}
	if strings.Contains(text, domain) || strings.Contains(text, strings.ToLower(strings.TrimSpace(website))) {
		return model.ListingLive
	}
	for _, l := range links {
		if strings.Contains(strings.ToLower(l.Href), domain) {
			return model.ListingLive
		}
	}
	return model.ListingPotential
}

// Domain returns the lower-cased host of a website with any leading "www." removed.
func Domain(website string) string {
	w := strings.TrimSpace(website)
	if w == "" {
		return ""
	}
	if !strings.Contains(w, "://") {
		w = "https://" + w
	}
	u, err := url.Parse(w)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func baseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("directory url %q has no scheme or host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
