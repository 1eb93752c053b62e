// Package httpform drives plain HTML directory forms without a browser. It
// fetches pages with colly, reads them with goquery and submits forms as
// regular GET/POST requests. Pages that need JavaScript must use the
// browser driver instead.
package httpform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"

	"dirsubmit/internal/logger"
	"dirsubmit/internal/platform/automation"
	"dirsubmit/internal/utils/markdown"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

type Options struct {
	UserAgent      string
	RequestTimeout time.Duration
	SnapshotRunes  int
}

// field is a parsed control plus its current value.
type field struct {
	desc    automation.FieldDescriptor
	sel     *goquery.Selection
	value   string
	checked bool
}

type session struct {
	id        string
	collector *colly.Collector

	url    string
	status int
	body   []byte
	doc    *goquery.Document
	fields []*field
	forms  []*goquery.Selection

	fetchErr error
}

func (s *session) ID() string { return s.id }

// Client implements automation.Client over HTTP. Each page handle owns a
// collector with its own cookie jar.
type Client struct {
	opts Options
	log  *logger.Logger

	mu    sync.Mutex
	pages map[string]*session
	seq   atomic.Uint64
}

func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.SnapshotRunes <= 0 {
		opts.SnapshotRunes = 2000
	}
	return &Client{opts: opts, log: logger.New("HTTPFormClient"), pages: map[string]*session{}}
}

func (c *Client) newSession() *session {
	s := &session{id: "http-" + strconv.FormatUint(c.seq.Add(1), 10)}
	col := colly.NewCollector(colly.UserAgent(c.opts.UserAgent), colly.AllowURLRevisit())
	col.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	col.OnResponse(func(r *colly.Response) {
		s.url, s.status, s.body = r.Request.URL.String(), r.StatusCode, r.Body
	})
	col.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			s.url, s.status, s.body = r.Request.URL.String(), r.StatusCode, r.Body
		}
		s.fetchErr = err
	})
	s.collector = col
	return s
}

func (c *Client) Open(ctx context.Context, rawURL string) (automation.PageHandle, error) {
	s := c.newSession()
	if err := c.fetch(ctx, s, "GET", rawURL, nil); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.pages[s.id] = s
	c.mu.Unlock()
	return s, nil
}

func (c *Client) Navigate(ctx context.Context, h automation.PageHandle, rawURL string) error {
	s, err := c.session(h)
	if err != nil {
		return automation.NavErr("navigate", rawURL, err)
	}
	return c.fetch(ctx, s, "GET", rawURL, nil)
}

// fetch loads a page into s. 4xx pages still load so error text can be
// classified; 5xx and transport failures are navigation errors.
func (c *Client) fetch(ctx context.Context, s *session, method, rawURL string, data map[string]string) error {
	if err := ctx.Err(); err != nil {
		return automation.NavErr("navigate", rawURL, err)
	}
	timeout := c.opts.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	s.collector.SetRequestTimeout(timeout)
	s.status, s.body, s.fetchErr = 0, nil, nil

	var err error
	if method == "POST" {
		err = s.collector.Post(rawURL, data)
	} else {
		err = s.collector.Visit(rawURL)
	}
	if s.status == 0 || s.status >= 500 {
		if err == nil {
			err = s.fetchErr
		}
		if err == nil {
			err = fmt.Errorf("status %d", s.status)
		}
		if ctx.Err() != nil {
			err = errors.Join(ctx.Err(), err)
		}
		return automation.NavErr("navigate", rawURL, err)
	}
	if s.url == "" {
		s.url = rawURL
	}
	return c.parse(s)
}

func (c *Client) parse(s *session) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(s.body))
	if err != nil {
		return automation.NavErr("parse", s.url, err)
	}
	s.doc = doc
	s.forms = nil
	doc.Find("form").Each(func(_ int, f *goquery.Selection) { s.forms = append(s.forms, f) })

	s.fields = nil
	doc.Find("input, textarea, select, button").Each(func(i int, sel *goquery.Selection) {
		s.fields = append(s.fields, c.describe(s, i, sel))
	})
	return nil
}

var hiddenStyle = regexp.MustCompile(`(?i)display\s*:\s*none|visibility\s*:\s*hidden`)

func (c *Client) describe(s *session, idx int, sel *goquery.Selection) *field {
	tag := goquery.NodeName(sel)
	kindRaw := tag
	switch tag {
	case "input":
		kindRaw = strings.ToLower(sel.AttrOr("type", "text"))
	case "button":
		kindRaw = strings.ToLower(sel.AttrOr("type", "submit"))
	}

	d := automation.FieldDescriptor{
		Name:        sel.AttrOr("name", ""),
		ID:          sel.AttrOr("id", ""),
		Placeholder: sel.AttrOr("placeholder", ""),
		Kind:        kindOf(kindRaw),
		Selector:    "idx:" + strconv.Itoa(idx),
		Form:        -1,
	}
	if style, ok := sel.Attr("style"); ok && hiddenStyle.MatchString(style) && d.Kind != automation.KindSubmit {
		d.Kind = automation.KindHidden
	}
	if _, ok := sel.Attr("hidden"); ok {
		d.Kind = automation.KindHidden
	}

	form := sel.Closest("form")
	for i, f := range s.forms {
		if form.Length() > 0 && f.IsSelection(form) {
			d.Form = i
			break
		}
	}

	f := &field{desc: d, sel: sel}
	switch tag {
	case "select":
		sel.Find("option").Each(func(_ int, o *goquery.Selection) {
			opt := automation.Option{Value: o.AttrOr("value", strings.TrimSpace(o.Text())), Label: strings.TrimSpace(o.Text())}
			f.desc.Options = append(f.desc.Options, opt)
			if _, selected := o.Attr("selected"); selected || f.value == "" && len(f.desc.Options) == 1 {
				f.value = opt.Value
			}
		})
	case "textarea":
		f.value = sel.Text()
	case "button":
		f.desc.Label = strings.TrimSpace(sel.Text())
		f.value = sel.AttrOr("value", "")
	default:
		f.value = sel.AttrOr("value", "")
		if d.Kind == automation.KindSubmit || d.Kind == automation.KindButton {
			f.desc.Label = f.value
		}
		if d.Kind == automation.KindCheckbox || d.Kind == automation.KindRadio {
			_, f.checked = sel.Attr("checked")
			if f.value == "" {
				f.value = "on"
			}
		}
	}
	if f.desc.Label == "" {
		f.desc.Label = labelFor(s.doc, sel, d.ID)
	}
	return f
}

func labelFor(doc *goquery.Document, sel *goquery.Selection, id string) string {
	if id != "" {
		if l := doc.Find(`label[for="` + id + `"]`); l.Length() > 0 {
			return strings.TrimSpace(l.First().Text())
		}
	}
	if l := sel.Closest("label"); l.Length() > 0 {
		return strings.TrimSpace(l.Text())
	}
	return ""
}

func kindOf(raw string) automation.FieldKind {
	switch raw {
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

func (c *Client) FindFieldDescriptors(_ context.Context, h automation.PageHandle) ([]automation.FieldDescriptor, error) {
	s, err := c.session(h)
	if err != nil {
		return nil, automation.NavErr("describe", "", err)
	}
	out := make([]automation.FieldDescriptor, 0, len(s.fields))
	for _, f := range s.fields {
		out = append(out, f.desc)
	}
	return out, nil
}

func (c *Client) SetFieldValue(_ context.Context, h automation.PageHandle, d automation.FieldDescriptor, value string) error {
	s, err := c.session(h)
	if err != nil {
		return automation.NavErr("fill", d.Key(), err)
	}
	f, err := s.field(d)
	if err != nil {
		return automation.NavErr("fill", d.Key(), err)
	}
	if f.desc.Kind == automation.KindCheckbox {
		f.checked = value == "true"
		return nil
	}
	f.value = value
	return nil
}

// Click submits the control's form. Clicking a checkbox toggles it.
func (c *Client) Click(ctx context.Context, h automation.PageHandle, d automation.FieldDescriptor) error {
	s, err := c.session(h)
	if err != nil {
		return automation.NavErr("click", d.Key(), err)
	}
	clicked, err := s.field(d)
	if err != nil {
		return automation.NavErr("click", d.Key(), err)
	}
	if clicked.desc.Kind == automation.KindCheckbox {
		clicked.checked = !clicked.checked
		return nil
	}
	if clicked.desc.Form < 0 {
		return automation.NavErr("click", d.Key(), errors.New("control is not inside a form"))
	}

	form := s.forms[clicked.desc.Form]
	action, err := resolve(s.url, form.AttrOr("action", ""))
	if err != nil {
		return automation.NavErr("click", d.Key(), err)
	}
	data := formData(s.fields, clicked)
	if strings.EqualFold(form.AttrOr("method", "get"), "post") {
		return c.fetch(ctx, s, "POST", action, data)
	}
	u, err := url.Parse(action)
	if err != nil {
		return automation.NavErr("click", d.Key(), err)
	}
	q := u.Query()
	for k, v := range data {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return c.fetch(ctx, s, "GET", u.String(), nil)
}

// formData collects the successful controls of the clicked control's form.
func formData(fields []*field, clicked *field) map[string]string {
	data := map[string]string{}
	for _, f := range fields {
		d := f.desc
		if d.Form != clicked.desc.Form || d.Name == "" {
			continue
		}
		switch d.Kind {
		case automation.KindSubmit, automation.KindButton:
			if f == clicked {
				data[d.Name] = f.value
			}
		case automation.KindFile:
		case automation.KindCheckbox, automation.KindRadio:
			if f.checked {
				data[d.Name] = f.value
			}
		default:
			data[d.Name] = f.value
		}
	}
	return data
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func (c *Client) CurrentURL(_ context.Context, h automation.PageHandle) (string, error) {
	s, err := c.session(h)
	if err != nil {
		return "", automation.NavErr("url", "", err)
	}
	return s.url, nil
}

var spaces = regexp.MustCompile(`\s+`)

func (c *Client) PageText(_ context.Context, h automation.PageHandle) (string, error) {
	s, err := c.session(h)
	if err != nil {
		return "", automation.NavErr("text", "", err)
	}
	body := s.doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	return strings.TrimSpace(spaces.ReplaceAllString(body.Text(), " ")), nil
}

func (c *Client) Links(_ context.Context, h automation.PageHandle) ([]automation.Link, error) {
	s, err := c.session(h)
	if err != nil {
		return nil, automation.NavErr("links", "", err)
	}
	var links []automation.Link
	seen := map[string]bool{}
	s.doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}
		abs, err := resolve(s.url, href)
		if err != nil || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, automation.Link{Href: abs, Text: strings.TrimSpace(spaces.ReplaceAllString(a.Text(), " "))})
	})
	return links, nil
}

// CaptureEvidence returns a markdown excerpt only; there is nothing to
// screenshot without a renderer.
func (c *Client) CaptureEvidence(_ context.Context, h automation.PageHandle, _ string) (automation.Evidence, error) {
	s, err := c.session(h)
	if err != nil {
		return automation.Evidence{}, automation.NavErr("evidence", "", err)
	}
	return automation.Evidence{Snapshot: markdown.Excerpt(string(s.body), c.opts.SnapshotRunes)}, nil
}

func (c *Client) Close(h automation.PageHandle) error {
	s, err := c.session(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.pages, s.id)
	c.mu.Unlock()
	return nil
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

func (s *session) field(d automation.FieldDescriptor) (*field, error) {
	idx, err := strconv.Atoi(strings.TrimPrefix(d.Selector, "idx:"))
	if err != nil || idx < 0 || idx >= len(s.fields) {
		return nil, fmt.Errorf("stale field descriptor %q", d.Selector)
	}
	return s.fields[idx], nil
}
