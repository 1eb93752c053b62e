// Package automation defines the web automation capability consumed by the
// submission worker and the listing verifier. Concrete drivers live in
// internal/platform/browser (playwright) and internal/platform/httpform (colly).
package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FieldKind classifies a form control.
type FieldKind string

const (
	KindText     FieldKind = "text"
	KindTextarea FieldKind = "textarea"
	KindEmail    FieldKind = "email"
	KindPassword FieldKind = "password"
	KindSearch   FieldKind = "search"
	KindSelect   FieldKind = "select"
	KindCheckbox FieldKind = "checkbox"
	KindRadio    FieldKind = "radio"
	KindHidden   FieldKind = "hidden"
	KindFile     FieldKind = "file"
	KindSubmit   FieldKind = "submit"
	KindButton   FieldKind = "button"
)

// Fillable reports whether a worker should ever type a value into this kind.
func (k FieldKind) Fillable() bool {
	switch k {
	case KindSubmit, KindButton, KindHidden, KindRadio, KindFile:
		return false
	}
	return true
}

// Option is one entry of a selectable control.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// FieldDescriptor is the abstract view of a form control.
type FieldDescriptor struct {
	Name        string    `json:"name,omitempty"`
	ID          string    `json:"id,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
	Label       string    `json:"label,omitempty"`
	Kind        FieldKind `json:"kind"`
	Options     []Option  `json:"options,omitempty"`
	// Selector locates the control for the driver that produced it.
	Selector string `json:"selector,omitempty"`
	// Form is the index of the enclosing form, -1 when outside any form.
	Form int `json:"form"`
}

// Key returns the identifier used when recording filled values.
func (d FieldDescriptor) Key() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Link is an anchor found on the current page.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Evidence is the opaque reference returned by CaptureEvidence.
type Evidence struct {
	Screenshot string `json:"screenshot,omitempty"`
	Snapshot   string `json:"snapshot,omitempty"`
}

// PageHandle identifies an open page owned by a Client.
type PageHandle interface {
	ID() string
}

// Client is the capability used to drive directory pages.
// Every method may fail with a *NavigationError.
type Client interface {
	Open(ctx context.Context, url string) (PageHandle, error)
	Navigate(ctx context.Context, h PageHandle, url string) error
	FindFieldDescriptors(ctx context.Context, h PageHandle) ([]FieldDescriptor, error)
	SetFieldValue(ctx context.Context, h PageHandle, d FieldDescriptor, value string) error
	Click(ctx context.Context, h PageHandle, d FieldDescriptor) error
	CurrentURL(ctx context.Context, h PageHandle) (string, error)
	PageText(ctx context.Context, h PageHandle) (string, error)
	Links(ctx context.Context, h PageHandle) ([]Link, error)
	CaptureEvidence(ctx context.Context, h PageHandle, label string) (Evidence, error)
	Close(h PageHandle) error
}

// CaptchaSolver is an optional capability that clears a visual challenge on
// the current page. Solved is false when no challenge was present.
type CaptchaSolver interface {
	Solve(ctx context.Context, c Client, h PageHandle) (solved bool, err error)
}

// ErrUnknownHandle is returned when a handle was not produced by the client
// or was already closed.
var ErrUnknownHandle = errors.New("unknown page handle")

// NavigationError is a page-level failure: load errors, timeouts, missing
// elements.
type NavigationError struct {
	Op  string
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// NavErr wraps err into a *NavigationError unless it already is one.
func NavErr(op, url string, err error) error {
	if err == nil {
		return nil
	}
	var nav *NavigationError
	if errors.As(err, &nav) {
		return err
	}
	return &NavigationError{Op: op, URL: url, Err: err}
}

// IsTimeout reports whether err looks like a driver timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
