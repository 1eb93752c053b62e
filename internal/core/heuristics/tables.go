// Package heuristics holds the keyword tables consumed by the form mapping,
// success detection and listing verification strategies. Tables are plain
// values injected into each strategy so they can be tuned without touching
// orchestration code.
package heuristics

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProfileField names a business profile attribute a form key can resolve to.
type ProfileField string

const (
	FieldCompanyName ProfileField = "company_name"
	FieldWebsite     ProfileField = "website_url"
	FieldEmail       ProfileField = "email"
	FieldPhone       ProfileField = "phone"
	FieldDescription ProfileField = "description"
	FieldCategory    ProfileField = "category"
	FieldKeywords    ProfileField = "keywords"
	FieldAddress     ProfileField = "address"
	FieldCity        ProfileField = "city"
	FieldState       ProfileField = "state"
	FieldCountry     ProfileField = "country"
	FieldZip         ProfileField = "zip"
	FieldFounder     ProfileField = "founder"
	FieldFacebook    ProfileField = "facebook"
	FieldTwitter     ProfileField = "twitter"
	FieldLinkedIn    ProfileField = "linkedin"
	FieldInstagram   ProfileField = "instagram"
	FieldPassword    ProfileField = "password"
)

// FieldKey maps a token found in a descriptor's name/id/placeholder to a profile field.
type FieldKey struct {
	Key   string       `yaml:"key"`
	Field ProfileField `yaml:"field"`
}

// ProximityRule pairs a success keyword with submission context words that
// must appear near it in the page text.
type ProximityRule struct {
	Keyword string   `yaml:"keyword"`
	Context []string `yaml:"context"`
}

// Tables is the complete set of heuristic vocabularies.
type Tables struct {
	// FieldKeys is evaluated in order; the first matching key wins.
	FieldKeys []FieldKey `yaml:"field_keys"`
	// LocationSynonyms maps location fields to alternate tokens.
	LocationSynonyms map[ProfileField][]string `yaml:"location_synonyms"`
	ConsentTokens    []string                  `yaml:"consent_tokens"`
	// PlaceholderOptionValues are select option values treated as "choose one".
	PlaceholderOptionValues []string `yaml:"placeholder_option_values"`
	KeywordSeparator        string   `yaml:"keyword_separator"`

	SuccessKeywords  []string        `yaml:"success_keywords"`
	ErrorKeywords    []string        `yaml:"error_keywords"`
	ProximityRules   []ProximityRule `yaml:"proximity_rules"`
	ProximityWindow  int             `yaml:"proximity_window"`
	SubmissionLinks  []string        `yaml:"submission_links"`
	SubmitLabels     []string        `yaml:"submit_labels"`
	LoginIndicators  []string        `yaml:"login_indicators"`
	SearchTokens     []string        `yaml:"search_tokens"`
	SearchPaths      []string        `yaml:"search_paths"`
	SearchQueryParam string          `yaml:"search_query_param"`
}

// Default returns the built-in tables.
func Default() Tables {
	return Tables{
		// Specific tokens come before generic ones such as "business" and "name".
		FieldKeys: []FieldKey{
			{Key: "email", Field: FieldEmail},
			{Key: "password", Field: FieldPassword},
			{Key: "phone", Field: FieldPhone},
			{Key: "telephone", Field: FieldPhone},
			{Key: "website", Field: FieldWebsite},
			{Key: "url", Field: FieldWebsite},
			{Key: "site", Field: FieldWebsite},
			{Key: "city", Field: FieldCity},
			{Key: "state", Field: FieldState},
			{Key: "country", Field: FieldCountry},
			{Key: "zip", Field: FieldZip},
			{Key: "postal", Field: FieldZip},
			{Key: "keywords", Field: FieldKeywords},
			{Key: "tags", Field: FieldKeywords},
			{Key: "category", Field: FieldCategory},
			{Key: "description", Field: FieldDescription},
			{Key: "about", Field: FieldDescription},
			{Key: "address", Field: FieldAddress},
			{Key: "facebook", Field: FieldFacebook},
			{Key: "twitter", Field: FieldTwitter},
			{Key: "linkedin", Field: FieldLinkedIn},
			{Key: "instagram", Field: FieldInstagram},
			{Key: "founder", Field: FieldFounder},
			{Key: "owner", Field: FieldFounder},
			{Key: "company", Field: FieldCompanyName},
			{Key: "business", Field: FieldCompanyName},
			{Key: "title", Field: FieldCompanyName},
			{Key: "name", Field: FieldCompanyName},
		},
		LocationSynonyms: map[ProfileField][]string{
			FieldCity:    {"town", "city", "location", "place"},
			FieldState:   {"state", "province", "region", "county"},
			FieldZip:     {"zip", "postal", "postcode"},
			FieldCountry: {"country", "nation"},
		},
		ConsentTokens:           []string{"term", "agree", "accept", "consent"},
		PlaceholderOptionValues: []string{"", "0", "-1"},
		KeywordSeparator:        ", ",

		SuccessKeywords: []string{
			"success", "thank", "thanks", "confirm", "confirmation",
			"submitted", "complete", "completed",
		},
		ErrorKeywords: []string{"error", "failed", "invalid", "wrong"},
		ProximityRules: []ProximityRule{
			{Keyword: "success", Context: []string{"submission"}},
			{Keyword: "thank", Context: []string{"received", "submission"}},
			{Keyword: "successfully", Context: []string{"added", "submitted"}},
			{Keyword: "submission", Context: []string{"received", "confirmed", "complete"}},
			{Keyword: "confirm", Context: []string{"submission", "added"}},
		},
		ProximityWindow: 200,
		SubmissionLinks: []string{
			"submit your site", "add your site", "submit business", "add business",
			"add listing", "submit listing", "submit", "add", "list",
		},
		SubmitLabels: []string{"submit", "send", "add"},
		LoginIndicators: []string{
			"login", "sign in", "log in", "signin", "log-in",
			"register", "sign up", "signup", "create account",
		},
		SearchTokens:     []string{"search", "query", "keyword"},
		SearchPaths:      []string{"/search", "/directory", "/listings", "/find"},
		SearchQueryParam: "q",
	}
}

// Load reads a YAML override file on top of the defaults. Sections absent
// from the file keep their default values.
func Load(path string) (Tables, error) {
	t := Default()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("read heuristics file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tables{}, fmt.Errorf("parse heuristics file %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return Tables{}, err
	}
	return t, nil
}

// Validate rejects tables that would make the strategies degenerate.
func (t Tables) Validate() error {
	switch {
	case len(t.FieldKeys) == 0:
		return fmt.Errorf("heuristics: field_keys must not be empty")
	case len(t.SuccessKeywords) == 0:
		return fmt.Errorf("heuristics: success_keywords must not be empty")
	case t.ProximityWindow <= 0:
		return fmt.Errorf("heuristics: proximity_window must be positive")
	case t.SearchQueryParam == "":
		return fmt.Errorf("heuristics: search_query_param must not be empty")
	}
	return nil
}
