// Package detect classifies whether a completed submission attempt succeeded.
package detect

import (
	"strings"

	"dirsubmit/internal/core/heuristics"
	"dirsubmit/internal/core/model"
)

// Reason explains which rule produced a verdict.
type Reason string

const (
	ReasonURLKeyword Reason = "url_success_keyword"
	ReasonProximity  Reason = "page_success_in_context"
	ReasonErrorText  Reason = "page_error_keyword"
	ReasonOptimistic Reason = "default_optimistic"
)

// Verdict is the detector output.
type Verdict struct {
	Status  model.Status `json:"status"`
	Reason  Reason       `json:"reason"`
	Keyword string       `json:"keyword,omitempty"`
}

// Detector applies the success rules in a fixed order.
type Detector struct {
	tables heuristics.Tables
}

func New(tables heuristics.Tables) *Detector {
	return &Detector{tables: tables}
}

// Classify evaluates the final URL and page text:
//  1. success keyword in the URL
//  2. success keyword near a submission-context keyword in the text
//  3. error keyword in the text
//  4. otherwise success
//
// Rule 4 is optimistic on ambiguous pages and may overcount successes.
func (d *Detector) Classify(finalURL, pageText string) Verdict {
	u := strings.ToLower(finalURL)
	for _, kw := range d.tables.SuccessKeywords {
		if kw != "" && strings.Contains(u, kw) {
			return Verdict{Status: model.StatusSuccess, Reason: ReasonURLKeyword, Keyword: kw}
		}
	}

	text := strings.ToLower(pageText)
	for _, rule := range d.tables.ProximityRules {
		if near(text, rule.Keyword, rule.Context, d.tables.ProximityWindow) {
			return Verdict{Status: model.StatusSuccess, Reason: ReasonProximity, Keyword: rule.Keyword}
		}
	}

	for _, kw := range d.tables.ErrorKeywords {
		if kw != "" && strings.Contains(text, kw) {
			return Verdict{Status: model.StatusFailed, Reason: ReasonErrorText, Keyword: kw}
		}
	}

	return Verdict{Status: model.StatusSuccess, Reason: ReasonOptimistic}
}

// near reports whether any context word occurs within window bytes of an
// occurrence of keyword.
func near(text, keyword string, context []string, window int) bool {
	if keyword == "" || len(context) == 0 {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(text[offset:], keyword)
		if idx < 0 {
			return false
		}
		pos := offset + idx
		lo := max(0, pos-window)
		hi := min(len(text), pos+len(keyword)+window)
		span := text[lo:hi]
		for _, c := range context {
			if c != "" && c != keyword && strings.Contains(span, c) {
				return true
			}
		}
		offset = pos + len(keyword)
	}
}
