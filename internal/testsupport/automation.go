package testsupport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"dirsubmit/internal/platform/automation"
)

// Page is a scripted page served by FakeClient.
type Page struct {
	Text   string
	Fields []automation.FieldDescriptor
	Links  []automation.Link
	// OnSubmit is the URL the fake navigates to when a submit/button control
	// (or a search box) is clicked. Empty keeps the current page.
	OnSubmit string
}

// FakeClient is a deterministic automation.Client serving scripted pages.
type FakeClient struct {
	mu sync.Mutex

	Pages map[string]Page
	// OpenErr and NavigateErr inject failures by exact URL.
	OpenErr     map[string]error
	NavigateErr map[string]error
	// PanicOn makes Open panic for the URL.
	PanicOn map[string]bool
	// Delay blocks Open for the URL until it elapses or ctx is done.
	Delay map[string]time.Duration

	nextID  int
	handles map[string]*fakeHandle
	filled  map[string]map[string]string
	clicks  map[string][]string
	opened  int
	closed  int
}

type fakeHandle struct {
	id     string
	origin string
	url    string
}

func (h *fakeHandle) ID() string { return h.id }

// NewFakeClient returns a client with the given pages.
func NewFakeClient(pages map[string]Page) *FakeClient {
	if pages == nil {
		pages = map[string]Page{}
	}
	return &FakeClient{
		Pages:       pages,
		OpenErr:     map[string]error{},
		NavigateErr: map[string]error{},
		PanicOn:     map[string]bool{},
		Delay:       map[string]time.Duration{},
		handles:     map[string]*fakeHandle{},
		filled:      map[string]map[string]string{},
		clicks:      map[string][]string{},
	}
}

func (c *FakeClient) Open(ctx context.Context, u string) (automation.PageHandle, error) {
	c.mu.Lock()
	panics := c.PanicOn[u]
	delay := c.Delay[u]
	openErr := c.OpenErr[u]
	c.mu.Unlock()

	if panics {
		panic("scripted panic for " + u)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, automation.NavErr("open", u, ctx.Err())
		}
	}
	if openErr != nil {
		return nil, automation.NavErr("open", u, openErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.opened++
	h := &fakeHandle{id: fmt.Sprintf("page-%d", c.nextID), origin: u, url: u}
	c.handles[h.id] = h
	return h, nil
}

func (c *FakeClient) Navigate(ctx context.Context, h automation.PageHandle, u string) error {
	if err := ctx.Err(); err != nil {
		return automation.NavErr("navigate", u, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return err
	}
	if navErr := c.NavigateErr[u]; navErr != nil {
		return automation.NavErr("navigate", u, navErr)
	}
	fh.url = u
	return nil
}

func (c *FakeClient) FindFieldDescriptors(_ context.Context, h automation.PageHandle) ([]automation.FieldDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return nil, err
	}
	return append([]automation.FieldDescriptor(nil), c.page(fh.url).Fields...), nil
}

func (c *FakeClient) SetFieldValue(_ context.Context, h automation.PageHandle, d automation.FieldDescriptor, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return err
	}
	if c.filled[fh.origin] == nil {
		c.filled[fh.origin] = map[string]string{}
	}
	c.filled[fh.origin][d.Key()] = value
	return nil
}

func (c *FakeClient) Click(_ context.Context, h automation.PageHandle, d automation.FieldDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return err
	}
	c.clicks[fh.origin] = append(c.clicks[fh.origin], d.Key())
	if next := c.page(fh.url).OnSubmit; next != "" && d.Kind != automation.KindCheckbox {
		fh.url = next
	}
	return nil
}

func (c *FakeClient) CurrentURL(_ context.Context, h automation.PageHandle) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return "", err
	}
	return fh.url, nil
}

func (c *FakeClient) PageText(_ context.Context, h automation.PageHandle) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return "", err
	}
	return c.page(fh.url).Text, nil
}

func (c *FakeClient) Links(_ context.Context, h automation.PageHandle) ([]automation.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return nil, err
	}
	return append([]automation.Link(nil), c.page(fh.url).Links...), nil
}

func (c *FakeClient) CaptureEvidence(_ context.Context, h automation.PageHandle, label string) (automation.Evidence, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fh, err := c.handle(h)
	if err != nil {
		return automation.Evidence{}, err
	}
	return automation.Evidence{Screenshot: "mem://" + fh.id + "/" + label}, nil
}

func (c *FakeClient) Close(h automation.PageHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.handle(h); err != nil {
		return err
	}
	delete(c.handles, h.ID())
	c.closed++
	return nil
}

// Filled returns the values typed into pages opened at origin.
func (c *FakeClient) Filled(origin string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := map[string]string{}
	for k, v := range c.filled[origin] {
		out[k] = v
	}
	return out
}

// Clicks returns the control keys clicked on pages opened at origin.
func (c *FakeClient) Clicks(origin string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.clicks[origin]...)
}

// OpenHandles reports pages opened and not yet closed.
func (c *FakeClient) OpenHandles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened - c.closed
}

func (c *FakeClient) handle(h automation.PageHandle) (*fakeHandle, error) {
	if h == nil {
		return nil, automation.ErrUnknownHandle
	}
	fh, ok := c.handles[h.ID()]
	if !ok {
		return nil, automation.ErrUnknownHandle
	}
	return fh, nil
}

// page looks up by exact URL, then without the query string.
func (c *FakeClient) page(u string) Page {
	if p, ok := c.Pages[u]; ok {
		return p
	}
	if parsed, err := url.Parse(u); err == nil {
		parsed.RawQuery = ""
		if p, ok := c.Pages[parsed.String()]; ok {
			return p
		}
	}
	return Page{}
}

// ErrScripted is a generic injected failure.
var ErrScripted = errors.New("scripted failure")
