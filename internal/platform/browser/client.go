// Package browser drives directory pages with a headless Chromium through
// playwright. It implements automation.Client.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"

	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/automation"
	"dirsubmit/internal/utils/markdown"
)

// EvidenceSink stores screenshot bytes and returns a reference.
type EvidenceSink interface {
	Save(ctx context.Context, data []byte, label, pageURL string) (string, error)
}

type Options struct {
	Strategy          HeaderStrategy
	NavigationTimeout time.Duration
	SnapshotRunes     int
	BlockResources    bool
}

type session struct {
	id   string
	bctx playwright.BrowserContext
	page playwright.Page
}

func (s *session) ID() string { return s.id }

// Client owns one browser process. Each Open creates an isolated browser
// context so cookies from one directory never leak into another.
type Client struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	evidence EvidenceSink
	opts     Options
	log      *logger.Logger

	mu    sync.Mutex
	pages map[string]*session
	seq   atomic.Uint64
}

func New(opts Options, evidence EvidenceSink) (*Client, error) {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.SnapshotRunes <= 0 {
		opts.SnapshotRunes = 2000
	}
	log := logger.New("BrowserClient")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("playwright initialization failed: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--disable-features=VizDisplayCompositor",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}
	log.LogInfo("browser launched")
	return &Client{pw: pw, browser: browser, evidence: evidence, opts: opts, log: log, pages: map[string]*session{}}, nil
}

// Shutdown closes every open page and stops the browser.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	for id, s := range c.pages {
		_ = s.bctx.Close()
		delete(c.pages, id)
	}
	c.mu.Unlock()
	if err := c.browser.Close(); err != nil {
		c.log.LogWarnf("browser close: %v", err)
	}
	return c.pw.Stop()
}

func (c *Client) Open(ctx context.Context, url string) (automation.PageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, automation.NavErr("open", url, err)
	}
	profile := GetHeaderProfile(c.opts.Strategy)
	bctx, err := c.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:        playwright.String(profile.UserAgent),
		ExtraHttpHeaders: profile.Headers(),
		Viewport:         &playwright.Size{Width: profile.Viewport[0], Height: profile.Viewport[1]},
		IsMobile:         playwright.Bool(profile.Mobile),
		HasTouch:         playwright.Bool(profile.Mobile),
	})
	if err != nil {
		return nil, automation.NavErr("open", url, fmt.Errorf("browser context creation failed: %w", err))
	}
	if c.opts.BlockResources {
		if err := bctx.Route("**/*", func(route playwright.Route) {
			req := route.Request()
			if shouldBlock(req.URL(), req.ResourceType()) {
				_ = route.Abort("blockedbyclient")
				return
			}
			_ = route.Continue()
		}); err != nil {
			c.log.LogWarnf("resource blocking unavailable: %v", err)
		}
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, automation.NavErr("open", url, fmt.Errorf("page creation failed: %w", err))
	}
	s := &session{id: "pw-" + strconv.FormatUint(c.seq.Add(1), 10), bctx: bctx, page: page}
	c.mu.Lock()
	c.pages[s.id] = s
	c.mu.Unlock()

	if err := c.gotoURL(ctx, s, url); err != nil {
		_ = c.Close(s)
		return nil, err
	}
	return s, nil
}

func (c *Client) Navigate(ctx context.Context, h automation.PageHandle, url string) error {
	s, err := c.session(h)
	if err != nil {
		return automation.NavErr("navigate", url, err)
	}
	return c.gotoURL(ctx, s, url)
}

func (c *Client) gotoURL(ctx context.Context, s *session, url string) error {
	if err := ctx.Err(); err != nil {
		return automation.NavErr("navigate", url, err)
	}
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   c.timeout(ctx),
	})
	if err != nil {
		return automation.NavErr("navigate", url, err)
	}
	if resp != nil && resp.Status() >= 500 {
		return automation.NavErr("navigate", url, fmt.Errorf("status %d", resp.Status()))
	}
	return nil
}

const describeFieldsJS = `() => {
	const forms = Array.from(document.forms);
	const out = [];
	let i = 0;
	for (const el of document.querySelectorAll('input, textarea, select, button')) {
		const idx = String(i++);
		el.setAttribute('data-dirsubmit-idx', idx);
		const tag = el.tagName.toLowerCase();
		let kind = tag;
		if (tag === 'input') kind = (el.getAttribute('type') || 'text').toLowerCase();
		if (tag === 'button') kind = (el.getAttribute('type') || 'submit').toLowerCase();
		const style = window.getComputedStyle(el);
		const rect = el.getBoundingClientRect();
		const visible = style.display !== 'none' && style.visibility !== 'hidden' && rect.width > 0 && rect.height > 0;
		let label = '';
		if (el.labels && el.labels.length) label = el.labels[0].innerText;
		else if (tag === 'button') label = el.innerText;
		else if (kind === 'submit' || kind === 'button') label = el.value;
		const options = tag === 'select' ? Array.from(el.options).map(o => ({value: o.value, label: o.text})) : [];
		out.push({
			name: el.getAttribute('name') || '', id: el.id || '',
			placeholder: el.getAttribute('placeholder') || '', label: (label || '').trim(),
			kind, options, visible,
			selector: '[data-dirsubmit-idx="' + idx + '"]',
			form: el.form ? forms.indexOf(el.form) : -1,
		});
	}
	return out;
}`

func (c *Client) FindFieldDescriptors(ctx context.Context, h automation.PageHandle) ([]automation.FieldDescriptor, error) {
	s, err := c.session(h)
	if err != nil {
		return nil, automation.NavErr("describe", "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, automation.NavErr("describe", s.page.URL(), err)
	}
	raw, err := s.page.Evaluate(describeFieldsJS)
	if err != nil {
		return nil, automation.NavErr("describe", s.page.URL(), err)
	}
	return decodeDescriptors(raw)
}

type rawField struct {
	automation.FieldDescriptor
	RawKind string `json:"kind"`
	Visible bool   `json:"visible"`
}

// decodeDescriptors converts the page script result. Invisible controls are
// reported as hidden so they are never filled.
func decodeDescriptors(raw interface{}) ([]automation.FieldDescriptor, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var fields []rawField
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode field descriptors: %w", err)
	}
	out := make([]automation.FieldDescriptor, 0, len(fields))
	for _, f := range fields {
		d := f.FieldDescriptor
		d.Kind = kindOf(f.RawKind)
		if !f.Visible && d.Kind != automation.KindSubmit && d.Kind != automation.KindButton {
			d.Kind = automation.KindHidden
		}
		out = append(out, d)
	}
	return out, nil
}

func kindOf(raw string) automation.FieldKind {
	switch strings.ToLower(raw) {
	case "textarea":
		return automation.KindTextarea
	case "email":
		return automation.KindEmail
	case "password":
		return automation.KindPassword
	case "search":
		return automation.KindSearch
	case "select":
		return automation.KindSelect
	case "checkbox":
		return automation.KindCheckbox
	case "radio":
		return automation.KindRadio
	case "hidden":
		return automation.KindHidden
	case "file":
		return automation.KindFile
	case "submit", "image":
		return automation.KindSubmit
	case "button", "reset":
		return automation.KindButton
	default:
		return automation.KindText
	}
}

func (c *Client) SetFieldValue(ctx context.Context, h automation.PageHandle, d automation.FieldDescriptor, value string) error {
	s, err := c.session(h)
	if err != nil {
		return automation.NavErr("fill", d.Key(), err)
	}
	if err := ctx.Err(); err != nil {
		return automation.NavErr("fill", d.Key(), err)
	}
	loc := s.page.Locator(d.Selector)
	timeout := c.timeout(ctx)
	switch d.Kind {
	case automation.KindSelect:
		_, err = loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}}, playwright.LocatorSelectOptionOptions{Timeout: timeout})
	case automation.KindCheckbox:
		if value == "true" {
			err = loc.Check(playwright.LocatorCheckOptions{Timeout: timeout})
		} else {
			err = loc.Uncheck(playwright.LocatorUncheckOptions{Timeout: timeout})
		}
	default:
		err = loc.Fill(value, playwright.LocatorFillOptions{Timeout: timeout})
	}
	return automation.NavErr("fill", d.Key(), err)
}

// Click activates a control. Text-like controls are submitted with Enter.
func (c *Client) Click(ctx context.Context, h automation.PageHandle, d automation.FieldDescriptor) error {
	s, err := c.session(h)
	if err != nil {
		return automation.NavErr("click", d.Key(), err)
	}
	if err := ctx.Err(); err != nil {
		return automation.NavErr("click", d.Key(), err)
	}
	loc := s.page.Locator(d.Selector)
	timeout := c.timeout(ctx)
	switch d.Kind {
	case automation.KindText, automation.KindSearch, automation.KindEmail, automation.KindPassword:
		err = loc.Press("Enter", playwright.LocatorPressOptions{Timeout: timeout})
	default:
		err = loc.Click(playwright.LocatorClickOptions{Timeout: timeout})
	}
	if err != nil {
		return automation.NavErr("click", d.Key(), err)
	}
	if d.Kind != automation.KindCheckbox {
		_ = s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
			State:   playwright.LoadStateLoad,
			Timeout: timeout,
		})
	}
	return nil
}

func (c *Client) CurrentURL(_ context.Context, h automation.PageHandle) (string, error) {
	s, err := c.session(h)
	if err != nil {
		return "", automation.NavErr("url", "", err)
	}
	return s.page.URL(), nil
}

func (c *Client) PageText(ctx context.Context, h automation.PageHandle) (string, error) {
	s, err := c.session(h)
	if err != nil {
		return "", automation.NavErr("text", "", err)
	}
	text, err := s.page.Locator("body").InnerText(playwright.LocatorInnerTextOptions{Timeout: c.timeout(ctx)})
	if err != nil {
		return "", automation.NavErr("text", s.page.URL(), err)
	}
	return text, nil
}

const linksJS = `() => {
	const out = [];
	for (const a of document.querySelectorAll('a[href]')) {
		const href = a.getAttribute('href') || '';
		if (!href || href.startsWith('javascript:') || href.startsWith('mailto:') || href.startsWith('#')) continue;
		let abs = '';
		try { abs = new URL(href, document.baseURI).toString(); } catch (_) { continue; }
		out.push({href: abs, text: (a.innerText || a.getAttribute('title') || '').trim()});
	}
	return out;
}`

func (c *Client) Links(ctx context.Context, h automation.PageHandle) ([]automation.Link, error) {
	s, err := c.session(h)
	if err != nil {
		return nil, automation.NavErr("links", "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, automation.NavErr("links", s.page.URL(), err)
	}
	raw, err := s.page.Evaluate(linksJS)
	if err != nil {
		return nil, automation.NavErr("links", s.page.URL(), err)
	}
	return decodeLinks(raw)
}

func decodeLinks(raw interface{}) ([]automation.Link, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var links []automation.Link
	if err := json.Unmarshal(data, &links); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	seen := make(map[string]bool, len(links))
	uniq := links[:0]
	for _, l := range links {
		if seen[l.Href] {
			continue
		}
		seen[l.Href] = true
		uniq = append(uniq, l)
	}
	return uniq, nil
}

// CaptureEvidence takes a full-page screenshot and a markdown excerpt.
// A failed screenshot still returns the excerpt.
func (c *Client) CaptureEvidence(ctx context.Context, h automation.PageHandle, label string) (automation.Evidence, error) {
	s, err := c.session(h)
	if err != nil {
		return automation.Evidence{}, automation.NavErr("evidence", "", err)
	}
	var ev automation.Evidence
	url := s.page.URL()
	if html, err := s.page.Content(); err == nil {
		ev.Snapshot = markdown.Excerpt(html, c.opts.SnapshotRunes)
	}
	if c.evidence == nil {
		return ev, nil
	}
	buf, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Type:     playwright.ScreenshotTypePng,
		Timeout:  c.timeout(ctx),
	})
	if err != nil {
		return ev, automation.NavErr("screenshot", url, err)
	}
	ref, err := c.evidence.Save(ctx, buf, label, url)
	if err != nil {
		return ev, err
	}
	ev.Screenshot = ref
	return ev, nil
}

func (c *Client) Close(h automation.PageHandle) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.pages, s.id)
	c.mu.Unlock()
	return s.bctx.Close()
}

func (c *Client) session(h automation.PageHandle) (*session, error) {
	if h == nil {
		return nil, automation.ErrUnknownHandle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.pages[h.ID()]
	if !ok {
		return nil, automation.ErrUnknownHandle
	}
	return s, nil
}

// timeout caps the navigation timeout by the context deadline, in
// milliseconds as playwright expects.
func (c *Client) timeout(ctx context.Context) *float64 {
	d := c.opts.NavigationTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}
