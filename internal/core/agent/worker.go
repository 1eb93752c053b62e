// Package agent drives one submission attempt against a directory through an
// injected automation client.
package agent

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"dirsubmit/internal/core/detect"
	"dirsubmit/internal/core/heuristics"
	"dirsubmit/internal/core/mapping"
	"dirsubmit/internal/core/model"
	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/automation"
)

// maskedValue replaces secrets recorded in form_data.
const maskedValue = "********"

// evidenceTimeout bounds the error screenshot taken after the attempt context ended.
const evidenceTimeout = 10 * time.Second

// Worker performs submission attempts. It never touches storage.
type Worker struct {
	client   automation.Client
	tables   heuristics.Tables
	mapper   *mapping.Strategy
	detector *detect.Detector
	solver   automation.CaptchaSolver
	log      *logger.Logger
}

type Option func(*Worker)

// WithCaptchaSolver enables challenge solving before submit.
func WithCaptchaSolver(s automation.CaptchaSolver) Option {
	return func(w *Worker) { w.solver = s }
}

func WithLogger(l *logger.Logger) Option {
	return func(w *Worker) { w.log = l }
}

func New(client automation.Client, tables heuristics.Tables, opts ...Option) *Worker {
	w := &Worker{
		client:   client,
		tables:   tables,
		mapper:   mapping.New(tables),
		detector: detect.New(tables),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.log == nil {
		w.log = logger.New("SubmissionWorker")
	}
	return w
}

// attempt carries the per-call state of one Submit.
type attempt struct {
	url         string
	handle      automation.PageHandle
	formData    map[string]string
	screenshots map[string]string
	payload     model.Payload
}

// Submit runs the full attempt and always returns a terminal outcome.
// Failures are reported through Outcome.Err, never panicked or returned.
func (w *Worker) Submit(ctx context.Context, profile model.BusinessProfile, directoryURL string) model.Outcome {
	a := &attempt{
		url:         directoryURL,
		formData:    map[string]string{},
		screenshots: map[string]string{},
		payload: model.Payload{
			"url":       directoryURL,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}

	out := w.run(ctx, a, profile)
	if out.Err != nil {
		out.Status = model.ClassifyAttemptError(out.Err)
		a.payload["error"] = out.Err.Error()
		a.payload["error_kind"] = model.ErrorKind(out.Err)
		if a.handle != nil {
			w.capture(context.WithoutCancel(ctx), a, "error")
		}
	}
	if a.handle != nil {
		if err := w.client.Close(a.handle); err != nil {
			w.log.Debug().Str("directory_url", directoryURL).Err(err).Msg("close page")
		}
	}

	a.payload["form_data"] = a.formData
	if len(a.screenshots) > 0 {
		a.payload["screenshots"] = a.screenshots
	}
	out.Payload = a.payload
	return out
}

func (w *Worker) run(ctx context.Context, a *attempt, profile model.BusinessProfile) model.Outcome {
	h, err := w.client.Open(ctx, a.url)
	if err != nil {
		return model.Outcome{Err: classify(err)}
	}
	a.handle = h
	w.capture(ctx, a, "initial")

	w.followSubmissionLink(ctx, a)

	if err := w.login(ctx, a, profile); err != nil {
		return model.Outcome{Err: classify(err)}
	}

	descs, err := w.client.FindFieldDescriptors(ctx, h)
	if err != nil {
		return model.Outcome{Err: classify(err)}
	}
	filled, last := w.fill(ctx, a, profile, descs)
	if filled == 0 {
		return model.Outcome{Err: &model.NoMatchingFieldsError{URL: a.url}}
	}

	if w.solver != nil {
		solved, err := w.solver.Solve(ctx, w.client, h)
		if err != nil {
			w.log.Warn().Str("directory_url", a.url).Err(err).Msg("captcha solver failed")
		}
		a.payload["captcha_solved"] = solved
	}

	control, method := w.submitControl(descs, last)
	a.payload["submit_method"] = method
	if err := w.client.Click(ctx, h, control); err != nil {
		return model.Outcome{Err: classify(err)}
	}

	finalURL, err := w.client.CurrentURL(ctx, h)
	if err != nil {
		return model.Outcome{Err: classify(err)}
	}
	text, err := w.client.PageText(ctx, h)
	if err != nil {
		return model.Outcome{Err: classify(err)}
	}
	w.capture(ctx, a, "confirmation")
	a.payload["final_url"] = finalURL

	// An expired budget is recorded as Error even when the result page loaded.
	if err := ctx.Err(); err != nil {
		return model.Outcome{Err: classify(err)}
	}

	verdict := w.detector.Classify(finalURL, text)
	a.payload["detection"] = map[string]string{"reason": string(verdict.Reason), "keyword": verdict.Keyword}
	return model.Outcome{Status: verdict.Status}
}

// followSubmissionLink navigates to the first link whose text names a
// submission page. Navigation failure keeps the current page.
func (w *Worker) followSubmissionLink(ctx context.Context, a *attempt) {
	links, err := w.client.Links(ctx, a.handle)
	if err != nil {
		return
	}
	for _, kw := range w.tables.SubmissionLinks {
		for _, l := range links {
			if !strings.Contains(strings.ToLower(l.Text), kw) {
				continue
			}
			target := resolveHref(a.url, l.Href)
			if target == "" || target == a.url {
				continue
			}
			if err := w.client.Navigate(ctx, a.handle, target); err != nil {
				w.log.Debug().Str("directory_url", a.url).Str("link", target).Err(err).Msg("submission link not reachable")
				return
			}
			a.payload["submission_page"] = target
			return
		}
	}
}

// login fills a short credential form when the page asks for one.
func (w *Worker) login(ctx context.Context, a *attempt, profile model.BusinessProfile) error {
	text, err := w.client.PageText(ctx, a.handle)
	if err != nil {
		return err
	}
	if !containsAny(strings.ToLower(text), w.tables.LoginIndicators) {
		return nil
	}
	descs, err := w.client.FindFieldDescriptors(ctx, a.handle)
	if err != nil {
		return err
	}

	var (
		user, pass, submit *automation.FieldDescriptor
		fillable           int
	)
	for i := range descs {
		d := &descs[i]
		if d.Kind.Fillable() {
			fillable++
		}
		switch {
		case d.Kind == automation.KindPassword && pass == nil:
			pass = d
		case user == nil && (d.Kind == automation.KindEmail || (d.Kind == automation.KindText && containsAny(strings.ToLower(d.Name+" "+d.ID), []string{"email", "user", "login"}))):
			user = d
		case d.Kind == automation.KindSubmit && submit == nil:
			submit = d
		}
	}
	if pass == nil || user == nil || fillable > 3 || profile.Password == "" {
		return nil
	}

	if err := w.client.SetFieldValue(ctx, a.handle, *user, profile.Email); err != nil {
		return err
	}
	if err := w.client.SetFieldValue(ctx, a.handle, *pass, profile.Password); err != nil {
		return err
	}
	control := *pass
	if submit != nil {
		control = *submit
	}
	if err := w.client.Click(ctx, a.handle, control); err != nil {
		return err
	}
	a.payload["logged_in"] = true
	return nil
}

// fill enters mapped values and returns how many controls were set plus the
// last text-like control filled.
func (w *Worker) fill(ctx context.Context, a *attempt, profile model.BusinessProfile, descs []automation.FieldDescriptor) (int, *automation.FieldDescriptor) {
	var (
		filled int
		last   *automation.FieldDescriptor
	)
	for i := range descs {
		d := descs[i]
		v, ok := w.mapper.Map(profile, d)
		if !ok {
			continue
		}
		if err := w.client.SetFieldValue(ctx, a.handle, d, v.Text); err != nil {
			w.log.Debug().Str("directory_url", a.url).Str("field", d.Key()).Err(err).Msg("field not set")
			continue
		}
		filled++
		recorded := v.Text
		if v.Field == heuristics.FieldPassword {
			recorded = maskedValue
		}
		a.formData[d.Key()] = recorded
		if d.Kind != automation.KindCheckbox && d.Kind != automation.KindSelect {
			last = &descs[i]
		}
	}
	return filled, last
}

// submitControl picks the submit input, then a labelled button, then falls
// back to submitting through the last filled text control.
func (w *Worker) submitControl(descs []automation.FieldDescriptor, last *automation.FieldDescriptor) (automation.FieldDescriptor, string) {
	for _, d := range descs {
		if d.Kind == automation.KindSubmit {
			return d, "submit_input"
		}
	}
	for _, d := range descs {
		if d.Kind != automation.KindButton {
			continue
		}
		if containsAny(strings.ToLower(d.Label+" "+d.Name+" "+d.ID), w.tables.SubmitLabels) {
			return d, "button"
		}
	}
	if last != nil {
		return *last, "enter"
	}
	return descs[0], "enter"
}

func (w *Worker) capture(ctx context.Context, a *attempt, label string) {
	ctx, cancel := context.WithTimeout(ctx, evidenceTimeout)
	defer cancel()
	ev, err := w.client.CaptureEvidence(ctx, a.handle, label)
	if err != nil {
		w.log.Debug().Str("directory_url", a.url).Str("label", label).Err(err).Msg("evidence not captured")
		return
	}
	if ev.Screenshot != "" {
		a.screenshots[label] = ev.Screenshot
	}
	if ev.Snapshot != "" {
		a.payload["snapshot"] = ev.Snapshot
	}
}

// classify maps capability errors onto the attempt taxonomy.
func classify(err error) error {
	var nav *automation.NavigationError
	switch {
	case errors.As(err, &nav),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &model.TransientAutomationError{Err: err}
	default:
		return &model.UnexpectedAutomationError{Err: err}
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func resolveHref(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}
