// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DataPrefix marks a record line carrying a payload.
const DataPrefix = "data: "

// DefaultMaxLineSize bounds the pending buffer unless WithMaxLineSize says
// otherwise. A longer line is reported as a decode error and dropped up to its
// newline.
const DefaultMaxLineSize = 16 << 20

// StatusCompleted is the status value of the terminal success record.
const StatusCompleted = "completed"

// =============================================================================
// EVENTS
// =============================================================================

// EventKind identifies the type of a decoded protocol event.
type EventKind int

const (
	// EventContent carries one incremental fragment of assistant text.
	EventContent EventKind = iota
	// EventCompleted is the terminal success marker.
	EventCompleted
	// EventFailed is the terminal failure marker; Message holds the server error.
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one decoded protocol record.
type Event struct {
	Kind    EventKind
	Content string // EventContent
	Message string // EventFailed
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoTerminal is returned by Finish when the input ended without a
	// completed or error record.
	ErrNoTerminal = errors.New("stream ended without a terminal record")

	// ErrUnknownPayload marks a well-formed JSON payload of none of the known shapes.
	ErrUnknownPayload = errors.New("unrecognized payload")

	// ErrLineTooLong marks a record longer than the decoder's line limit.
	ErrLineTooLong = errors.New("record exceeds maximum line size")
)

// DecodeError describes one skipped record. It is non-fatal.
type DecodeError struct {
	Line []byte
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", truncate(e.Line, 80), e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// =============================================================================
// DECODER
// =============================================================================

// payload covers the three record shapes. Pointers distinguish a missing
// field from an empty one.
type payload struct {
	Content *string `json:"content"`
	Status  string  `json:"status"`
	Error   *string `json:"error"`
}

// Decoder turns arbitrarily split text chunks into protocol events.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	// OnDecodeError, if set, is called for every skipped record.
	OnDecodeError func(*DecodeError)

	logger  *slog.Logger
	pending []byte
	maxLine int
	// discarding is set while the rest of an oversized line is dropped.
	discarding bool
	done       bool
	skipped    int
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for skipped records.
func WithLogger(l *slog.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDecodeErrorHook sets OnDecodeError.
func WithDecodeErrorHook(fn func(*DecodeError)) Option {
	return func(d *Decoder) {
		d.OnDecodeError = fn
	}
}

// WithMaxLineSize sets the line limit. Zero keeps DefaultMaxLineSize and a
// negative value removes the limit.
func WithMaxLineSize(n int) Option {
	return func(d *Decoder) {
		if n != 0 {
			d.maxLine = n
		}
	}
}

// NewDecoder creates a decoder with an empty pending buffer.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{logger: slog.Default(), maxLine: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the pending buffer and returns the events of every
// complete line, in source order. After a terminal event has been produced
// Feed returns nil and discards its input.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.done || len(chunk) == 0 {
		return nil
	}
	// Bytes already pending hold no newline, so only the new chunk is scanned.
	from := len(d.pending)
	d.pending = append(d.pending, chunk...)

	if d.discarding {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			d.pending = nil
			return nil
		}
		d.pending = d.pending[idx+1:]
		d.discarding = false
		from = 0
	}

	var events []Event
	for !d.done {
		idx := bytes.IndexByte(d.pending[from:], '\n')
		if idx < 0 {
			break
		}
		idx += from
		from = 0
		line := d.pending[:idx]
		d.pending = d.pending[idx+1:]
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}

	if d.done {
		d.pending = nil
	} else if d.maxLine > 0 && len(d.pending) > d.maxLine {
		d.report(d.pending[:min(len(d.pending), 256)], ErrLineTooLong)
		d.pending = nil
		d.discarding = true
	} else if len(d.pending) == 0 {
		// Release the consumed prefix of the backing array.
		d.pending = nil
	}
	return events
}

// Finish is called when the input has ended. An unterminated trailing line is
// decoded as a final record. If no terminal event was ever produced Finish
// returns ErrNoTerminal alongside any events from the trailing line.
func (d *Decoder) Finish() ([]Event, error) {
	var events []Event
	if !d.done && len(bytes.TrimSpace(d.pending)) > 0 {
		if ev, ok := d.decodeLine(d.pending); ok {
			events = append(events, ev)
		}
	}
	d.pending = nil
	if !d.done {
		d.done = true
		return events, ErrNoTerminal
	}
	return events, nil
}

// Done reports whether a terminal event has been produced or Finish was called.
func (d *Decoder) Done() bool {
	return d.done
}

// Skipped returns the number of records dropped as decode errors.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Buffered returns the number of bytes waiting for a line boundary.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

// decodeLine parses one line. ok is false when the line yields no event.
func (d *Decoder) decodeLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return Event{}, false
	}
	data := line[len(DataPrefix):]
	if len(bytes.TrimSpace(data)) == 0 {
		return Event{}, false
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		d.report(line, err)
		return Event{}, false
	}

	switch {
	case p.Content != nil:
		if *p.Content == "" {
			return Event{}, false
		}
		return Event{Kind: EventContent, Content: *p.Content}, true
	case p.Status == StatusCompleted:
		d.done = true
		return Event{Kind: EventCompleted}, true
	case p.Error != nil:
		d.done = true
		return Event{Kind: EventFailed, Message: *p.Error}, true
	default:
		d.report(line, ErrUnknownPayload)
		return Event{}, false
	}
}

// report records a skipped record through the hook and the logger.
func (d *Decoder) report(line []byte, err error) {
	d.skipped++
	de := &DecodeError{Line: append([]byte(nil), line...), Err: err}
	d.logger.Warn("sse decode error", "error", de)
	if d.OnDecodeError != nil {
		d.OnDecodeError(de)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
