// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lmchat/internal/api"
	"github.com/jeranaias/lmchat/internal/chatstore"
	"github.com/jeranaias/lmchat/internal/config"
	"github.com/jeranaias/lmchat/internal/llm"
	"github.com/jeranaias/lmchat/internal/logging"
	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/server"
	"github.com/jeranaias/lmchat/internal/storage"
	"github.com/jeranaias/lmchat/internal/ui/styles"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type sentMessage struct {
	conversationID string
	text           string
}

// fakeStore records calls and serves a fixed state.
type fakeStore struct {
	mu       sync.Mutex
	st       chatstore.State
	sendErr  error
	sent     []sentMessage
	created  int
	deleted  []string
	switched []string
	cancels  int
	inits    int
	observer chatstore.Observer
	unsubbed bool
}

func (f *fakeStore) Init(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return nil
}

func (f *fakeStore) State() chatstore.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStore) SwitchConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switched = append(f.switched, id)
	return nil
}

func (f *fakeStore) CreateConversation(context.Context, string) (model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	conv := model.Conversation{ID: fmt.Sprintf("new-%d", f.created), Title: "Chat"}
	f.st.CurrentID = conv.ID
	return conv, nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) Send(conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{conversationID, text})
	return nil
}

func (f *fakeStore) CancelStream() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.st.Streaming
}

func (f *fakeStore) Subscribe(fn chatstore.Observer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observer = fn
	return func() {
		f.mu.Lock()
		f.unsubbed = true
		f.mu.Unlock()
	}
}

func convs(n int) []model.Conversation {
	out := make([]model.Conversation, n)
	for i := range out {
		out[i] = model.Conversation{
			ID:           fmt.Sprintf("c%d", i+1),
			Title:        fmt.Sprintf("Conversation %d", i+1),
			MessageCount: i * 2,
		}
	}
	return out
}

func testOptions() Options {
	return Options{
		Theme:          styles.NewTheme(styles.ThemeDark),
		ThemeMode:      styles.ThemeDark,
		SidebarWidth:   28,
		MaxFPS:         30,
		RenderMarkdown: false,
		APIURL:         "http://127.0.0.1:8000",
		Logger:         logging.Discard(),
	}
}

func newTestModel(t *testing.T, fs *fakeStore) Model {
	t.Helper()
	m := New(fs, testOptions())
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return next.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// runCmd executes cmd and expands batches. Only use it for commands that
// return immediately.
func runCmd(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, runCmd(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func opDone(msgs []tea.Msg) (OpDoneMsg, bool) {
	for _, msg := range msgs {
		if done, ok := msg.(OpDoneMsg); ok {
			return done, true
		}
	}
	return OpDoneMsg{}, false
}

func storeUpdate(kind chatstore.UpdateKind, st chatstore.State) StoreUpdateMsg {
	return StoreUpdateMsg{Update: chatstore.Update{Kind: kind, State: st}}
}

// =============================================================================
// VIEW TESTS
// =============================================================================

func TestModel_ViewBeforeSize(t *testing.T) {
	m := New(&fakeStore{}, testOptions())
	assert.Equal(t, "Starting lmchat...", m.View())
}

func TestModel_WelcomeWithoutConversations(t *testing.T) {
	m := newTestModel(t, &fakeStore{})
	view := m.View()

	assert.Contains(t, view, "Conversations")
	assert.Contains(t, view, "No conversations yet")
	assert.Contains(t, view, "Welcome to lmchat")
	assert.Contains(t, view, "ready")
}

func TestModel_SidebarKeepsCurrentVisible(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(30), CurrentID: "c29"}}
	m := newTestModel(t, fs)
	view := m.View()

	assert.Contains(t, view, "Conversation 29")
	assert.Contains(t, view, "56 messages")
	assert.LessOrEqual(t, strings.Count(view, "\n")+1, 40, "view fits the window height")
}

func TestModel_NarrowHidesSidebar(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(2), CurrentID: "c1"}}
	m := New(fs, testOptions())
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 50, Height: 20})

	assert.Equal(t, 0, m.sidebarOuterWidth())
	assert.NotContains(t, m.View(), "Conversations")
}

func TestModel_TranscriptShowsMessages(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{
		Conversations: convs(1),
		CurrentID:     "c1",
		Messages: []model.Message{
			model.NewUserMessage("What is Go?"),
			model.NewAssistantMessage("A programming language."),
		},
	}}
	m := newTestModel(t, fs)

	content := m.renderTranscript(80)
	assert.Contains(t, content, "You")
	assert.Contains(t, content, "What is Go?")
	assert.Contains(t, content, "Assistant")
	assert.Contains(t, content, "A programming language.")
}

// =============================================================================
// INPUT TESTS
// =============================================================================

func TestModel_SubmitSendsToCurrentConversation(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(1), CurrentID: "c1"}}
	m := newTestModel(t, fs)
	m.input.SetValue("  hello there  ")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Len(t, fs.sent, 1)
	assert.Equal(t, sentMessage{"c1", "hello there"}, fs.sent[0])
	assert.Empty(t, m.input.Value())
}

func TestModel_SubmitIgnoresBlankInput(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(1), CurrentID: "c1"}}
	m := newTestModel(t, fs)
	m.input.SetValue("   ")

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, fs.sent)
}

func TestModel_SubmitWhileBusyKeepsInput(t *testing.T) {
	fs := &fakeStore{
		st:      chatstore.State{Conversations: convs(1), CurrentID: "c1"},
		sendErr: chatstore.ErrBusy,
	}
	m := newTestModel(t, fs)
	m.input.SetValue("second question")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, "second question", m.input.Value())
	assert.Contains(t, m.status, "still streaming")
	assert.Empty(t, m.errMsg)
}

func TestModel_SubmitWhileLoadingKeepsInput(t *testing.T) {
	fs := &fakeStore{
		st:      chatstore.State{Conversations: convs(2), CurrentID: "c2", Loading: true},
		sendErr: chatstore.ErrLoading,
	}
	m := newTestModel(t, fs)
	m.input.SetValue("are you there")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.Equal(t, "are you there", m.input.Value())
	assert.Contains(t, m.status, "still loading")
	assert.Empty(t, m.errMsg)
	assert.Empty(t, fs.sent)
}

func TestModel_SubmitWithoutConversationCreatesOne(t *testing.T) {
	fs := &fakeStore{}
	m := newTestModel(t, fs)
	m.input.SetValue("first message")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "Starting conversation", m.pendingOp)
	assert.Empty(t, m.input.Value())

	done, ok := opDone(runCmd(cmd))
	require.True(t, ok)
	assert.Equal(t, opSend, done.Op)
	assert.NoError(t, done.Err)
	assert.Equal(t, 1, fs.created)
	assert.Equal(t, []sentMessage{{"new-1", "first message"}}, fs.sent)

	m, _ = update(t, m, done)
	assert.Empty(t, m.pendingOp)
}

// =============================================================================
// KEY TESTS
// =============================================================================

func TestModel_NewAndDeleteKeys(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(2), CurrentID: "c2"}}
	m := newTestModel(t, fs)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.Equal(t, "Creating conversation", m.pendingOp)
	done, ok := opDone(runCmd(cmd))
	require.True(t, ok)
	assert.Equal(t, opCreate, done.Op)
	assert.Equal(t, 1, fs.created)

	m, _ = update(t, m, done)
	assert.Equal(t, "New conversation", m.status)

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Equal(t, "Deleting Conversation 2", m.pendingOp)
	runCmd(cmd)
	assert.Equal(t, []string{"c2"}, fs.deleted)
}

func TestModel_DeleteWithoutConversation(t *testing.T) {
	fs := &fakeStore{}
	m := newTestModel(t, fs)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlX})
	assert.Equal(t, "No conversation to delete", m.status)
	assert.Empty(t, fs.deleted)
}

func TestModel_CycleConversations(t *testing.T) {
	tests := []struct {
		name    string
		current string
		key     tea.KeyMsg
		want    string
	}{
		{"next", "c1", tea.KeyMsg{Type: tea.KeyCtrlDown}, "c2"},
		{"previous wraps", "c1", tea.KeyMsg{Type: tea.KeyCtrlUp}, "c3"},
		{"alt+j", "c2", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}, Alt: true}, "c3"},
		{"alt+k", "c2", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}, Alt: true}, "c1"},
		{"next wraps", "c3", tea.KeyMsg{Type: tea.KeyCtrlDown}, "c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStore{st: chatstore.State{Conversations: convs(3), CurrentID: tt.current}}
			m := newTestModel(t, fs)

			_, cmd := update(t, m, tt.key)
			runCmd(cmd)
			assert.Equal(t, []string{tt.want}, fs.switched)
		})
	}
}

func TestModel_EscCancelsStreamOrClearsError(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(1), CurrentID: "c1", Streaming: true, StreamConversationID: "c1"}}
	m := newTestModel(t, fs)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, 1, fs.cancels)

	m.st.Streaming = false
	m.errMsg = "boom"
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Empty(t, m.errMsg)
	assert.Equal(t, 1, fs.cancels)
}

func TestModel_QuitCancelsStream(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Streaming: true}}
	m := newTestModel(t, fs)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, 1, fs.cancels)
	assert.Empty(t, m.View())
}

func TestModel_HelpToggle(t *testing.T) {
	m := newTestModel(t, &fakeStore{})
	before := m.viewport.Height

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyF1})
	assert.True(t, m.help.ShowAll)
	assert.Less(t, m.viewport.Height, before)
	assert.Contains(t, m.View(), "delete chat")
}

// =============================================================================
// STORE UPDATE TESTS
// =============================================================================

func TestModel_StreamLifecycle(t *testing.T) {
	base := chatstore.State{
		Conversations: convs(1),
		CurrentID:     "c1",
		Messages:      []model.Message{model.NewUserMessage("hi")},
	}
	fs := &fakeStore{st: base}
	m := newTestModel(t, fs)
	m.buffer.SetBatchSize(1)

	streaming := base
	streaming.Streaming = true
	streaming.StreamConversationID = "c1"
	m, cmd := update(t, m, storeUpdate(chatstore.UpdateStreamStarted, streaming))
	assert.NotNil(t, cmd)
	assert.True(t, m.ticking)
	assert.Contains(t, m.renderTranscript(80), "thinking")

	m.buffer.Write("Hel")
	m, cmd = update(t, m, StreamTickMsg{Time: time.Now()})
	assert.NotNil(t, cmd, "ticks continue while streaming")
	assert.Equal(t, "Hel", m.streamText)
	assert.Contains(t, m.renderTranscript(80), "Hel")

	done := base
	done.Messages = append(model.CloneMessages(base.Messages), model.NewAssistantMessage("Hello"))
	m, _ = update(t, m, storeUpdate(chatstore.UpdateStreamCompleted, done))
	assert.Empty(t, m.streamText)
	assert.Equal(t, 0, m.buffer.Pending())
	assert.Contains(t, m.renderTranscript(80), "Hello")

	m, cmd = update(t, m, StreamTickMsg{Time: time.Now()})
	assert.Nil(t, cmd, "ticks stop once the stream ends")
	assert.False(t, m.ticking)
}

func TestModel_StreamFailedShowsError(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(1), CurrentID: "c1"}}
	m := newTestModel(t, fs)

	st := fs.st
	st.Err = "stream ended without a terminal record"
	m, _ = update(t, m, StoreUpdateMsg{Update: chatstore.Update{
		Kind:  chatstore.UpdateStreamFailed,
		State: st,
		Err:   errors.New("stream ended without a terminal record"),
	}})

	assert.Contains(t, m.renderTranscript(80), "[X] stream ended without a terminal record")
}

func TestModel_StreamCancelledSetsStatus(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(1), CurrentID: "c1"}}
	m := newTestModel(t, fs)
	m.streamText = "partial"

	m, cmd := update(t, m, storeUpdate(chatstore.UpdateStreamCancelled, fs.st))
	assert.NotNil(t, cmd)
	assert.Equal(t, "Reply stopped", m.status)
	assert.Empty(t, m.streamText)

	m, _ = update(t, m, statusExpiredMsg{seq: m.statusSeq - 1})
	assert.Equal(t, "Reply stopped", m.status, "stale expiry is ignored")
	m, _ = update(t, m, statusExpiredMsg{seq: m.statusSeq})
	assert.Empty(t, m.status)
}

func TestModel_StreamElsewhereIsNotRendered(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(2), CurrentID: "c1"}}
	m := newTestModel(t, fs)
	m.streamText = "for c2"

	st := fs.st
	st.Streaming = true
	st.StreamConversationID = "c2"
	m, _ = update(t, m, storeUpdate(chatstore.UpdateCurrent, st))

	assert.NotContains(t, m.renderTranscript(80), "for c2")
	assert.Contains(t, m.renderStatusBar(), "in another conversation")
}

func TestModel_LoadingState(t *testing.T) {
	fs := &fakeStore{st: chatstore.State{Conversations: convs(2), CurrentID: "c1"}}
	m := newTestModel(t, fs)

	st := fs.st
	st.CurrentID = "c2"
	st.Loading = true
	m, cmd := update(t, m, storeUpdate(chatstore.UpdateCurrent, st))
	assert.NotNil(t, cmd, "spinner starts")
	assert.Contains(t, m.renderTranscript(80), "Loading messages...")
}

func TestModel_OpErrorsAreShown(t *testing.T) {
	m := newTestModel(t, &fakeStore{})

	m, _ = update(t, m, OpDoneMsg{Op: opInit, Err: &chatstore.OpError{
		Op: chatstore.OpLoadConversations, Message: "Failed to load conversations", Err: errors.New("connection refused"),
	}})
	assert.Contains(t, m.renderTranscript(80), "Failed to load conversations: connection refused")

	m, _ = update(t, m, OpDoneMsg{Op: opInit})
	assert.Empty(t, m.errMsg, "a successful reload clears the error")
}

func TestModel_ConfigReload(t *testing.T) {
	m := newTestModel(t, &fakeStore{})

	m, _ = update(t, m, ConfigReloadedMsg{UI: config.UIConfig{
		Theme: styles.ThemeLight, SidebarWidth: 20, MaxFPS: 10,
	}})
	assert.Equal(t, 20, m.opts.SidebarWidth)
	assert.False(t, m.theme.IsDark)
	_, fps, _ := m.buffer.GetConfig()
	assert.Equal(t, 10, fps)
	assert.Equal(t, "Config reloaded", m.status)

	m, _ = update(t, m, ConfigReloadedMsg{Err: errors.New("bad toml")})
	assert.Contains(t, m.status, "bad toml")
}

// =============================================================================
// BRIDGE TESTS
// =============================================================================

func TestBridge_RoutesProgressToBuffer(t *testing.T) {
	fs := &fakeStore{}
	buf := NewStreamingBufferWithConfig(1, 30)
	var sent []tea.Msg
	b := Attach(fs, buf, func(msg tea.Msg) { sent = append(sent, msg) })

	fs.observer(chatstore.Update{Kind: chatstore.UpdateStreamProgress, State: chatstore.State{StreamingText: "He"}})
	fs.observer(chatstore.Update{Kind: chatstore.UpdateStreamProgress, State: chatstore.State{StreamingText: "Hey"}})
	fs.observer(chatstore.Update{Kind: chatstore.UpdateStreamCompleted})

	text, ok := buf.Flush()
	assert.True(t, ok)
	assert.Equal(t, "Hey", text)
	require.Len(t, sent, 1)
	assert.Equal(t, chatstore.UpdateStreamCompleted, sent[0].(StoreUpdateMsg).Update.Kind)

	b.Detach()
	b.Detach()
	assert.True(t, fs.unsubbed)
}

// =============================================================================
// END TO END
// =============================================================================

// replyUpstream answers every prompt with fixed deltas.
type replyUpstream struct{ deltas []string }

func (r replyUpstream) ChatStream(_ context.Context, _ []model.Message, fn llm.DeltaFunc) error {
	for _, d := range r.deltas {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}
func (replyUpstream) ListModels(context.Context) ([]string, error) { return []string{"m"}, nil }
func (replyUpstream) BaseURL() string                              { return "http://upstream.test/v1" }

func TestModel_WithRealStore(t *testing.T) {
	srv := server.New(storage.NewMemoryStore(), replyUpstream{deltas: []string{"**Hi**", " from", " the model"}},
		server.Config{Logger: logging.Discard()})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := api.NewClient(api.Config{BaseURL: ts.URL, Timeout: 5 * time.Second, Logger: logging.Discard()})
	store := chatstore.New(client, chatstore.Options{IdleTimeout: 5 * time.Second, Logger: logging.Discard()})
	defer store.Close()

	m := New(store, testOptions())
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	msgs := make(chan tea.Msg, 256)
	bridge := Attach(store, m.Buffer(), func(msg tea.Msg) { msgs <- msg })
	defer bridge.Detach()

	m, _ = update(t, m, InitCmd(store)())
	m.input.SetValue("hello")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	done, ok := opDone(runCmd(cmd))
	require.True(t, ok)
	require.NoError(t, done.Err)
	m, _ = update(t, m, done)

	deadline := time.After(5 * time.Second)
	for finished := false; !finished; {
		select {
		case msg := <-msgs:
			m, _ = update(t, m, msg)
			if u, ok := msg.(StoreUpdateMsg); ok && u.Update.Kind == chatstore.UpdateStreamCompleted {
				finished = true
			}
		case <-deadline:
			t.Fatal("reply did not complete")
		}
	}

	transcript := m.renderTranscript(80)
	assert.Contains(t, transcript, "hello")
	assert.Contains(t, transcript, "**Hi** from the model")
	assert.False(t, m.st.Streaming)
	require.Len(t, m.st.Messages, 2)
}
