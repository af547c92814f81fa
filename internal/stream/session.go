// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/sse"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultIdleTimeout is the idle timeout used by callers that take it from config.
	DefaultIdleTimeout = 60 * time.Second

	// DefaultChunkSize is the read buffer size of the pump.
	DefaultChunkSize = 4096

	// eventBuffer is how many decoded events the pump may run ahead of Next.
	eventBuffer = 64
)

// =============================================================================
// TYPES
// =============================================================================

// Opener starts the server-side chat stream for one user message.
// The returned body is read until a terminal record, EOF or cancellation.
type Opener interface {
	OpenChatStream(ctx context.Context, conversationID, text string) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, conversationID, text string) (io.ReadCloser, error)

// OpenChatStream calls f.
func (f OpenerFunc) OpenChatStream(ctx context.Context, conversationID, text string) (io.ReadCloser, error) {
	return f(ctx, conversationID, text)
}

// Status is the lifecycle state of a session.
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// NotificationKind identifies a session notification.
type NotificationKind int

const (
	// NotifyProgress carries the buffer snapshot after a content fragment.
	NotifyProgress NotificationKind = iota
	// NotifyFinalize carries the finished assistant message.
	NotifyFinalize
	// NotifyError carries the terminal failure.
	NotifyError
)

// Notification is what Next hands to the consumer.
type Notification struct {
	Kind           NotificationKind
	SessionID      string
	ConversationID string

	// Text is the full buffer after this notification. For errors it is the
	// partial text received before the failure.
	Text string

	// Delta is the fragment appended by a progress notification.
	Delta string

	// Message is set on finalize.
	Message model.Message

	// Err is set on error.
	Err *Error
}

// Options configures a session. Zero values select defaults.
type Options struct {
	// IdleTimeout fails the session when no chunk arrives for this long.
	// Zero disables the timer.
	IdleTimeout time.Duration

	// MaxLineSize caps one stream record. Zero selects sse.DefaultMaxLineSize
	// and a negative value removes the cap.
	MaxLineSize int

	// ChunkSize is the read buffer size (default 4096).
	ChunkSize int

	// Logger receives lifecycle and decode diagnostics (default slog.Default()).
	Logger *slog.Logger

	// OnDecodeError is passed to the frame decoder.
	OnDecodeError func(*sse.DecodeError)
}

// rawEvent is what the pump hands to Next: a decoded event or a fault.
type rawEvent struct {
	event sse.Event
	fault *Error
}

// Session is one attempt to obtain an assistant reply.
type Session struct {
	id             string
	conversationID string
	userText       string
	opts           Options
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	events    chan rawEvent
	cancelled chan struct{}
	finished  chan struct{}
	once      sync.Once

	mu         sync.Mutex
	status     Status
	buf        strings.Builder
	err        *Error
	body       io.ReadCloser
	started    time.Time
	firstToken time.Time
	ended      time.Time
	chunks     int
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start opens a stream for text in conversationID and returns the active
// session. The transport call happens on the session's pump goroutine, so
// Start does not block on the network; connection failures arrive as an
// error notification.
func Start(ctx context.Context, opener Opener, conversationID, text string, opts Options) (*Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if opener == nil {
		return nil, ErrNilOpener
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sctx, cancel := context.WithCancelCause(ctx)
	s := &Session{
		id:             uuid.NewString(),
		conversationID: conversationID,
		userText:       text,
		opts:           opts,
		ctx:            sctx,
		cancel:         cancel,
		events:         make(chan rawEvent, eventBuffer),
		cancelled:      make(chan struct{}),
		finished:       make(chan struct{}),
		status:         StatusActive,
		started:        time.Now(),
	}
	s.logger = logger.With("session", s.id, "conversation", conversationID)
	s.logger.Debug("stream session started", "text_len", len(text))

	go s.pump(opener)
	return s, nil
}

// Cancel aborts the session. It is idempotent and has no effect on a session
// that already reached a terminal status. After Cancel returns, Next delivers
// nothing further. It reports whether this call performed the cancellation.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return false
	}
	s.status = StatusCancelled
	s.ended = time.Now()
	body := s.body
	s.mu.Unlock()

	s.once.Do(func() { close(s.cancelled) })
	s.cancel(ErrCancelled)
	if body != nil {
		body.Close()
	}
	s.logger.Debug("stream session cancelled")
	return true
}

// Next blocks until the next notification is available. It returns false
// once the session has delivered its terminal notification, was cancelled,
// or ctx is done.
func (s *Session) Next(ctx context.Context) (Notification, bool) {
	for {
		select {
		case <-ctx.Done():
			return Notification{}, false
		case <-s.cancelled:
			return Notification{}, false
		case ev, ok := <-s.events:
			if !ok {
				return Notification{}, false
			}
			if n, deliver := s.apply(ev); deliver {
				return n, true
			}
			if s.Status().Terminal() {
				return Notification{}, false
			}
		}
	}
}

// apply folds one pump event into the session state under the lock. Nothing
// is delivered once the status is terminal.
func (s *Session) apply(ev rawEvent) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		return Notification{}, false
	}

	n := Notification{SessionID: s.id, ConversationID: s.conversationID}

	if ev.fault != nil {
		ev.fault.Partial = s.buf.String()
		s.fail(ev.fault)
		n.Kind = NotifyError
		n.Text = ev.fault.Partial
		n.Err = ev.fault
		return n, true
	}

	switch ev.event.Kind {
	case sse.EventContent:
		if s.chunks == 0 {
			s.firstToken = time.Now()
		}
		s.chunks++
		s.buf.WriteString(ev.event.Content)
		n.Kind = NotifyProgress
		n.Delta = ev.event.Content
		n.Text = s.buf.String()
		return n, true

	case sse.EventCompleted:
		s.status = StatusCompleted
		s.ended = time.Now()
		s.cancel(errFinished)
		n.Kind = NotifyFinalize
		n.Text = s.buf.String()
		n.Message = model.NewAssistantMessage(n.Text)
		s.logger.Debug("stream session completed",
			"chunks", s.chunks, "len", len(n.Text), "elapsed", s.ended.Sub(s.started))
		return n, true

	case sse.EventFailed:
		e := serverError(ev.event.Message)
		e.Partial = s.buf.String()
		s.fail(e)
		n.Kind = NotifyError
		n.Text = e.Partial
		n.Err = e
		return n, true
	}
	return Notification{}, false
}

// fail records a terminal failure. Caller holds s.mu.
func (s *Session) fail(e *Error) {
	s.status = StatusFailed
	s.err = e
	s.ended = time.Now()
	s.cancel(errFinished)
	s.logger.Warn("stream session failed", "kind", e.Kind.String(), "error", e.Error())
}

// =============================================================================
// PUMP
// =============================================================================

// pump opens the transport, reads chunks and forwards decoded events. It is
// the only goroutine that touches the decoder.
func (s *Session) pump(opener Opener) {
	defer close(s.finished)
	defer close(s.events)

	// The idle timer also covers the open: a server that accepts the request
	// but never answers fails the session like a silent stream.
	var timer *time.Timer
	if idle := s.opts.IdleTimeout; idle > 0 {
		timer = time.AfterFunc(idle, func() {
			s.cancel(ErrIdleTimeout)
			s.mu.Lock()
			body := s.body
			s.mu.Unlock()
			if body != nil {
				body.Close()
			}
		})
		defer timer.Stop()
	}

	body, err := opener.OpenChatStream(s.ctx, s.conversationID, s.userText)
	if err != nil {
		s.push(rawEvent{fault: s.transportFault(err)})
		return
	}

	s.mu.Lock()
	if s.status == StatusCancelled {
		s.mu.Unlock()
		body.Close()
		return
	}
	s.body = body
	s.mu.Unlock()
	defer body.Close()

	// An opener that ignores its context may return after the timer fired.
	if s.ctx.Err() != nil {
		s.push(rawEvent{fault: s.transportFault(nil)})
		return
	}

	dec := sse.NewDecoder(
		sse.WithLogger(s.logger),
		sse.WithMaxLineSize(s.opts.MaxLineSize),
		sse.WithDecodeErrorHook(s.opts.OnDecodeError),
	)
	buf := make([]byte, s.opts.ChunkSize)

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if timer != nil {
				timer.Reset(s.opts.IdleTimeout)
			}
			for _, ev := range dec.Feed(buf[:n]) {
				if !s.push(rawEvent{event: ev}) {
					return
				}
			}
			if dec.Done() {
				return
			}
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) && s.ctx.Err() == nil {
			tail, ferr := dec.Finish()
			for _, ev := range tail {
				if !s.push(rawEvent{event: ev}) {
					return
				}
			}
			if ferr != nil {
				s.push(rawEvent{fault: protocolError(ferr)})
			}
			return
		}
		s.push(rawEvent{fault: s.transportFault(rerr)})
		return
	}
}

// push hands an event to Next. It gives up when the session is cancelled.
func (s *Session) push(ev rawEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.cancelled:
		return false
	}
}

// transportFault maps a read or open error, taking the context cause into
// account so an idle-timer abort is reported as such.
func (s *Session) transportFault(err error) *Error {
	switch cause := context.Cause(s.ctx); {
	case errors.Is(cause, ErrIdleTimeout):
		return idleTimeoutError(s.opts.IdleTimeout)
	case err == nil:
		return transportError(cause)
	}
	return transportError(err)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ConversationID returns the conversation the session belongs to.
func (s *Session) ConversationID() string { return s.conversationID }

// UserText returns the user message that started the session.
func (s *Session) UserText() string { return s.userText }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Text returns the accumulated assistant text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Err returns the terminal failure, or nil.
func (s *Session) Err() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the pump goroutine has exited and released the transport.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Stats is timing information about a session.
type Stats struct {
	Chunks  int
	TTFT    time.Duration
	Elapsed time.Duration
}

// Stats returns timing information; TTFT is zero until the first fragment.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Chunks: s.chunks}
	if !s.firstToken.IsZero() {
		st.TTFT = s.firstToken.Sub(s.started)
	}
	end := s.ended
	if end.IsZero() {
		end = time.Now()
	}
	st.Elapsed = end.Sub(s.started)
	return st
}
