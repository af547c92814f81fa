// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/sse"
	"github.com/jeranaias/lmchat/internal/stream"
	"github.com/jeranaias/lmchat/internal/util"
)

// Transport is the remote side of the store.
type Transport interface {
	stream.Opener
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	CreateConversation(ctx context.Context, title string) (model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Options configures a Store.
type Options struct {
	// IdleTimeout is passed to every stream session. Zero disables it.
	IdleTimeout time.Duration

	// MaxLineSize is passed to every stream session.
	MaxLineSize int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// OnDecodeError observes malformed stream records.
	OnDecodeError func(*sse.DecodeError)
}

// Store is the conversation store. Create it with New and release it with Close.
type Store struct {
	transport Transport
	opts      Options
	logger    *slog.Logger

	// Sessions derive from base so Close aborts every in-flight stream.
	base       context.Context
	baseCancel context.CancelFunc

	mu            sync.Mutex
	convs         []model.Conversation
	currentID     string
	messages      []model.Message
	loading       bool
	loadGen       uint64
	active        *stream.Session
	streamingText string
	lastErr       string
	closed        bool

	observers map[int]Observer
	nextObs   int
	pending   []Update
	wake      chan struct{}
	quit      chan struct{}

	wg sync.WaitGroup
}

// New creates a store over transport and starts its dispatcher.
func New(transport Transport, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Store{
		transport:  transport,
		opts:       opts,
		logger:     logger.With("component", "chatstore"),
		base:       base,
		baseCancel: cancel,
		observers:  make(map[int]Observer),
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.dispatch()
	return s
}

// =============================================================================
// OBSERVATION
// =============================================================================

// State returns a snapshot of the store.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Busy reports whether a session is active.
func (s *Store) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Subscribe registers fn for all future updates and returns a function that
// removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// snapshot copies the state. Caller holds s.mu.
func (s *Store) snapshot() State {
	st := State{
		Conversations: model.CloneConversations(s.convs),
		CurrentID:     s.currentID,
		Messages:      model.CloneMessages(s.messages),
		Loading:       s.loading,
		StreamingText: s.streamingText,
		Err:           s.lastErr,
	}
	if s.active != nil {
		st.Streaming = true
		st.StreamConversationID = s.active.ConversationID()
	}
	return st
}

// notify queues an update for the dispatcher. Caller holds s.mu.
func (s *Store) notify(kind UpdateKind, err error) {
	s.pending = append(s.pending, Update{Kind: kind, State: s.snapshot(), Err: err})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// dispatch delivers queued updates in order, outside the lock.
func (s *Store) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
		case <-s.quit:
			s.drain()
			return
		}
		s.drain()
	}
}

func (s *Store) drain() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		obs := make([]Observer, 0, len(s.observers))
		for i := 0; i < s.nextObs; i++ {
			if fn, ok := s.observers[i]; ok {
				obs = append(obs, fn)
			}
		}
		s.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, u := range batch {
			for _, fn := range obs {
				fn(u)
			}
		}
	}
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Init loads the conversation list and, when conversations exist, selects the
// first one and loads its log.
func (s *Store) Init(ctx context.Context) error {
	return s.RefreshConversations(ctx)
}

// RefreshConversations reloads the list. If nothing is selected yet the first
// conversation becomes current.
func (s *Store) RefreshConversations(ctx context.Context) error {
	convs, err := s.transport.ListConversations(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		opErr := newOpError(OpLoadConversations, err)
		s.fail(opErr)
		s.mu.Unlock()
		return opErr
	}
	s.convs = convs
	s.notify(UpdateConversations, nil)

	var gen uint64
	selected := ""
	if s.currentID == "" && len(convs) > 0 {
		selected = convs[0].ID
		gen = s.selectLocked(selected)
	}
	s.mu.Unlock()

	if selected != "" {
		return s.loadMessages(ctx, selected, gen)
	}
	return nil
}

// SwitchConversation makes id current and loads its log. An active session
// is cancelled first, whichever conversation it belongs to.
func (s *Store) SwitchConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if model.IndexOf(s.convs, id) < 0 {
		s.mu.Unlock()
		return ErrUnknownConversation
	}
	s.cancelLocked()
	if id == s.currentID && !s.loading {
		s.mu.Unlock()
		return nil
	}
	gen := s.selectLocked(id)
	s.mu.Unlock()

	return s.loadMessages(ctx, id, gen)
}

// CreateConversation creates a conversation remotely and makes it current
// with an empty log. An active session keeps running.
func (s *Store) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	title = util.NormalizeText(strings.TrimSpace(title))
	conv, err := s.transport.CreateConversation(ctx, title)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Conversation{}, ErrClosed
	}
	if err != nil {
		opErr := newOpError(OpCreateConversation, err)
		s.fail(opErr)
		return model.Conversation{}, opErr
	}

	s.convs = append([]model.Conversation{conv}, s.convs...)
	s.loadGen++
	s.currentID = conv.ID
	s.messages = nil
	s.loading = false
	s.notify(UpdateConversations, nil)
	s.notify(UpdateCurrent, nil)
	s.logger.Info("conversation created", "conversation", conv.ID)
	return conv, nil
}

// DeleteConversation deletes id remotely. A session streaming into id is
// cancelled before the request. On success the conversation leaves the list;
// if it was current, the first remaining conversation becomes current. On
// failure the list is unchanged.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.active != nil && s.active.ConversationID() == id {
		s.cancelLocked()
	}
	s.mu.Unlock()

	err := s.transport.DeleteConversation(ctx, id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		opErr := newOpError(OpDeleteConversation, err)
		s.fail(opErr)
		s.mu.Unlock()
		return opErr
	}

	if i := model.IndexOf(s.convs, id); i >= 0 {
		s.convs = append(s.convs[:i:i], s.convs[i+1:]...)
	}
	s.notify(UpdateConversations, nil)
	s.logger.Info("conversation deleted", "conversation", id)

	if s.currentID != id {
		s.mu.Unlock()
		return nil
	}
	if len(s.convs) == 0 {
		s.loadGen++
		s.currentID = ""
		s.messages = nil
		s.loading = false
		s.notify(UpdateCurrent, nil)
		s.mu.Unlock()
		return nil
	}
	next := s.convs[0].ID
	gen := s.selectLocked(next)
	s.mu.Unlock()

	return s.loadMessages(ctx, next, gen)
}

// selectLocked makes id current with an empty log pending a load and
// returns the load generation. Caller holds s.mu.
func (s *Store) selectLocked(id string) uint64 {
	s.loadGen++
	s.currentID = id
	s.messages = nil
	s.loading = true
	s.notify(UpdateCurrent, nil)
	return s.loadGen
}

// loadMessages fetches the log for id. The result is dropped when another
// selection happened meanwhile.
func (s *Store) loadMessages(ctx context.Context, id string, gen uint64) error {
	msgs, err := s.transport.ListMessages(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if gen != s.loadGen {
		s.logger.Debug("dropping stale message load", "conversation", id)
		return nil
	}
	s.loading = false
	if err != nil {
		opErr := newOpError(OpLoadMessages, err)
		s.fail(opErr)
		return opErr
	}
	s.messages = msgs
	s.notify(UpdateMessages, nil)
	return nil
}

// fail records a user-facing error. Caller holds s.mu.
func (s *Store) fail(err *OpError) {
	s.lastErr = err.Message
	s.logger.Warn("remote operation failed", "op", err.Op, "error", err.Err)
	s.notify(UpdateError, err)
}

// =============================================================================
// STREAMING
// =============================================================================

// Send appends a user message to the current conversation and starts
// streaming the reply. It returns as soon as the session is started. While
// the log of the current conversation is loading Send returns ErrLoading, so
// the loaded log never replaces a message that was already sent.
func (s *Store) Send(conversationID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	text = util.NormalizeText(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return ErrClosed
	case s.active != nil:
		return ErrBusy
	case s.currentID == "":
		return ErrNoConversation
	case conversationID != s.currentID:
		return ErrNotCurrent
	case s.loading:
		return ErrLoading
	}

	sess, err := stream.Start(s.base, s.transport, conversationID, text, stream.Options{
		IdleTimeout:   s.opts.IdleTimeout,
		MaxLineSize:   s.opts.MaxLineSize,
		Logger:        s.logger,
		OnDecodeError: s.opts.OnDecodeError,
	})
	if err != nil {
		return err
	}

	s.messages = append(s.messages, model.NewUserMessage(text))
	s.active = sess
	s.streamingText = ""
	s.lastErr = ""
	s.notify(UpdateMessages, nil)
	s.notify(UpdateStreamStarted, nil)

	s.wg.Add(1)
	go s.run(sess)
	return nil
}

// CancelStream aborts the active session. It reports whether one was active.
func (s *Store) CancelStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

// cancelLocked detaches and cancels the active session. Caller holds s.mu.
func (s *Store) cancelLocked() bool {
	sess := s.active
	if sess == nil {
		return false
	}
	s.active = nil
	s.streamingText = ""
	sess.Cancel()
	s.notify(UpdateStreamCancelled, nil)
	s.logger.Debug("stream cancelled", "session", sess.ID())
	return true
}

// run consumes one session's notifications.
func (s *Store) run(sess *stream.Session) {
	defer s.wg.Done()
	for {
		n, ok := sess.Next(s.base)
		if !ok {
			return
		}
		if refresh := s.deliver(sess, n); refresh {
			if err := s.RefreshConversations(s.base); err != nil {
				s.logger.Debug("refresh after reply failed", "error", err)
			}
		}
	}
}

// deliver applies a session notification if sess is still the active
// session; notifications from a detached session are dropped. It reports
// whether the conversation list should be refreshed.
func (s *Store) deliver(sess *stream.Session, n stream.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != sess {
		return false
	}

	switch n.Kind {
	case stream.NotifyProgress:
		s.streamingText = n.Text
		s.notify(UpdateStreamProgress, nil)

	case stream.NotifyFinalize:
		s.active = nil
		s.streamingText = ""
		if sess.ConversationID() == s.currentID && !s.loading {
			s.messages = append(s.messages, n.Message)
		}
		s.notify(UpdateStreamCompleted, nil)
		st := sess.Stats()
		s.logger.Info("reply completed",
			"conversation", sess.ConversationID(), "chunks", st.Chunks, "ttft", st.TTFT, "elapsed", st.Elapsed)
		return true

	case stream.NotifyError:
		s.active = nil
		s.streamingText = ""
		s.lastErr = n.Err.Error()
		s.notify(UpdateStreamFailed, n.Err)
	}
	return false
}

// Close cancels the active session and stops the dispatcher after it has
// delivered every queued update. Later calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.cancelLocked()
	s.closed = true
	s.mu.Unlock()

	s.baseCancel()
	close(s.quit)
	s.wg.Wait()
	return nil
}
