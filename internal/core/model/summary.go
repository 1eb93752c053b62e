package model

// URLResult reports what happened to one directory URL of a batch.
type URLResult struct {
	DirectoryURL string `json:"directory_url"`
	Status       Status `json:"status,omitempty"`
	// Skipped names why the URL was not attempted: duplicate, invalid_url,
	// register_failed, already_started, start_failed, or shutdown/cancelled
	// when the record was left Pending.
	Skipped  string `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// BatchSummary is returned by a batch run once every URL has been handled.
type BatchSummary struct {
	BusinessID int64          `json:"business_id"`
	Results    []URLResult    `json:"results"`
	Counts     map[Status]int `json:"counts"`
	Skipped    int            `json:"skipped"`
}

// Tally fills Counts and Skipped from Results.
func (s *BatchSummary) Tally() {
	s.Counts = make(map[Status]int)
	s.Skipped = 0
	for _, r := range s.Results {
		if r.Skipped != "" {
			s.Skipped++
			continue
		}
		s.Counts[r.Status]++
	}
}
