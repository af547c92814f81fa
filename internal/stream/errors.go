// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorKind categorizes session failures for handling.
type ErrorKind int

const (
	// KindTransport covers network failures and non-success responses.
	KindTransport ErrorKind = iota
	// KindProtocol means the stream ended without a terminal record.
	KindProtocol
	// KindServer means the server sent an error record.
	KindServer
	// KindIdleTimeout means no chunk arrived within the idle timeout.
	KindIdleTimeout
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	case KindIdleTimeout:
		return "idle_timeout"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the terminal failure of a session. Partial holds the text received
// before the failure; it is kept for diagnostics and never becomes a message.
type Error struct {
	Kind    ErrorKind
	Message string
	Partial string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Sentinel errors.
var (
	// ErrEmptyText is returned by Start when the user text is blank.
	ErrEmptyText = errors.New("message is empty")

	// ErrNilOpener is returned by Start without a transport.
	ErrNilOpener = errors.New("no stream opener configured")

	// ErrIdleTimeout is the cancellation cause used when the idle timer fires.
	ErrIdleTimeout = errors.New("stream idle timeout")

	// ErrCancelled is the cancellation cause used by Session.Cancel.
	ErrCancelled = errors.New("stream cancelled")

	errFinished = errors.New("stream finished")
)

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: "chat stream failed", Cause: err}
}

func protocolError(err error) *Error {
	return &Error{Kind: KindProtocol, Message: "response ended before completion", Cause: err}
}

func serverError(message string) *Error {
	if message == "" {
		message = "server reported an error"
	}
	return &Error{Kind: KindServer, Message: message}
}

func idleTimeoutError(d time.Duration) *Error {
	return &Error{
		Kind:    KindIdleTimeout,
		Message: fmt.Sprintf("no data received for %s", d),
		Cause:   ErrIdleTimeout,
	}
}

// IsKind reports whether err is a session Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}

// IsTimeout reports whether err is an idle timeout failure.
func IsTimeout(err error) bool {
	return IsKind(err, KindIdleTimeout)
}
