package model

import (
	"context"
	"errors"
	"fmt"
)

// State-machine guard violations. These are returned synchronously to the
// caller and never modify the targeted record.
var (
	ErrDuplicatePair        = errors.New("submission already registered for business and directory")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrIneligible           = errors.New("submission is not eligible for listing verification")
	ErrVerificationInFlight = errors.New("listing verification already in flight")
	ErrBusinessNotFound     = errors.New("business not found")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrShuttingDown         = errors.New("orchestrator is shutting down")
	ErrInvalidProfile       = errors.New("invalid business profile")
)

// TransitionError describes a rejected status transition.
type TransitionError struct {
	Pair Pair
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for business %d at %s", e.From, e.To, e.Pair.BusinessID, e.Pair.DirectoryURL)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// TransientAutomationError wraps navigation and timeout failures.
// Recorded as Error and eligible for a later re-run.
type TransientAutomationError struct{ Err error }

func (e *TransientAutomationError) Error() string {
	return "transient automation failure: " + e.Err.Error()
}
func (e *TransientAutomationError) Unwrap() error { return e.Err }

// NoMatchingFieldsError means the heuristics found nothing to fill.
// Recorded as Failed and not retried.
type NoMatchingFieldsError struct{ URL string }

func (e *NoMatchingFieldsError) Error() string {
	return "no matching form fields found at " + e.URL
}

// UnexpectedAutomationError means the automation capability itself broke.
// Recorded as Error with diagnostics.
type UnexpectedAutomationError struct{ Err error }

func (e *UnexpectedAutomationError) Error() string {
	return "unexpected automation failure: " + e.Err.Error()
}
func (e *UnexpectedAutomationError) Unwrap() error { return e.Err }

// ClassifyAttemptError maps an attempt failure to the terminal status it is
// persisted with.
func ClassifyAttemptError(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var noFields *NoMatchingFieldsError
	if errors.As(err, &noFields) {
		return StatusFailed
	}
	return StatusError
}

// ErrorKind returns a short label stored alongside the failure payload.
func ErrorKind(err error) string {
	var (
		transient  *TransientAutomationError
		noFields   *NoMatchingFieldsError
		unexpected *UnexpectedAutomationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &noFields):
		return "no_matching_fields"
	case errors.As(err, &transient):
		return "transient"
	case errors.As(err, &unexpected):
		return "unexpected"
	default:
		return "unexpected"
	}
}

// Outcome is the terminal result of one submission attempt.
type Outcome struct {
	Status  Status
	Payload Payload
	Err     error
}
