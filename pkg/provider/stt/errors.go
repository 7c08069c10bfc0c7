package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNotSupported is returned by operations an engine does not implement.
var ErrNotSupported = errors.New("stt: not supported")

// Kind classifies a recognition failure.
type Kind string

const (
	KindNoSpeech     Kind = "no-speech"
	KindPermission   Kind = "permission"
	KindNetwork      Kind = "network"
	KindNotSupported Kind = "not-supported"
	KindAborted      Kind = "aborted"
	KindUnknown      Kind = "unknown"
)

// Terminal reports whether retrying within the current session is futile.
// Permission and engine-support failures need user action; everything else may
// be retried by the user or by a keep-alive restart.
func (k Kind) Terminal() bool {
	return k == KindPermission || k == KindNotSupported
}

// Error is the normalised recognition failure surfaced to application code.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("stt: %s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("stt: %s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("stt: %s: %v", e.Kind, e.Err)
	}
	return "stt: " + string(e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError builds an [*Error].
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ErrNoSpeech is the canonical "nothing was said" failure.
func ErrNoSpeech() *Error {
	return &Error{Kind: KindNoSpeech, Message: "No speech detected"}
}

// KindOf extracts the [Kind] of err. Errors that are not [*Error] are
// classified heuristically: context cancellation is aborted, network errors are
// network, everything else unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	if errors.Is(err, ErrNotSupported) {
		return KindNotSupported
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}

// AsError normalises err into an [*Error]. Values that already are [*Error]
// are returned unchanged.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: KindOf(err), Err: err}
}
