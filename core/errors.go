package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by queues and recorders.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration: bad destination, unsupported file type or codec settings.
	KindConfiguration
	// KindWriter: the container writer rejected a sample or failed internally.
	KindWriter
	// KindCancelled: the recording was cancelled by the caller.
	KindCancelled
	// KindResourceExhausted: no pooled queue became available in time.
	KindResourceExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindWriter:
		return "writer"
	case KindCancelled:
		return "cancelled"
	case KindResourceExhausted:
		return "resource_exhausted"
	default:
		return "unknown"
	}
}

// Error carries the kind of a failure, the operation that hit it and a
// human-readable reason.
type Error struct {
	Kind   ErrorKind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, ErrCancelled) matches any
// cancellation regardless of operation or reason.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConfiguration     = &Error{Kind: KindConfiguration}
	ErrWriter            = &Error{Kind: KindWriter}
	ErrCancelled         = &Error{Kind: KindCancelled}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted}
)

// NewError builds an Error. Reason may use fmt verbs.
func NewError(kind ErrorKind, op string, err error, reason string, args ...any) *Error {
	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
