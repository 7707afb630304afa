package railway

import (
	"errors"
	"fmt"
)

// Kind classifies upstream failures.
type Kind string

const (
	KindRateLimited       Kind = "rate_limited"
	KindTransientNetwork  Kind = "transient_network"
	KindMalformedResponse Kind = "malformed_response"
	KindUnexpectedStatus  Kind = "unexpected_status"
	KindTimeout           Kind = "timeout"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrTransientNetwork  = &Error{Kind: KindTransientNetwork}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrUnexpectedStatus  = &Error{Kind: KindUnexpectedStatus}
	ErrTimeout           = &Error{Kind: KindTimeout}
)

// Error is an upstream failure with its kind and, when known, the HTTP
// status that produced it.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "railway: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" when err is not an upstream error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
