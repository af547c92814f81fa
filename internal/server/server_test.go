// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lmchat/internal/llm"
	"github.com/jeranaias/lmchat/internal/logging"
	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeUpstream replays deltas, then returns err. When block is set it waits
// for the request context after the first delta.
type fakeUpstream struct {
	mu       sync.Mutex
	deltas   []string
	err      error
	block    bool
	received [][]model.Message
	models   []string
	modelErr error
}

func (f *fakeUpstream) ChatStream(ctx context.Context, messages []model.Message, fn llm.DeltaFunc) error {
	f.mu.Lock()
	f.received = append(f.received, model.CloneMessages(messages))
	deltas, err, block := f.deltas, f.err, f.block
	f.mu.Unlock()

	for i, d := range deltas {
		if err := fn(d); err != nil {
			return err
		}
		if block && i == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeUpstream) ListModels(ctx context.Context) ([]string, error) {
	return f.models, f.modelErr
}

func (f *fakeUpstream) BaseURL() string { return "http://upstream.test/v1" }

func newTestServer(t *testing.T, up *fakeUpstream, cfg Config) (*Server, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	srv := New(store, up, cfg)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

type sseEvent struct {
	Name string
	Data map[string]string
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.Data))
		case line == "":
			if cur.Name != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		}
	}
	return out
}

func createConversation(t *testing.T, h http.Handler, body string) model.Conversation {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/conversations", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var c model.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	return c
}

// =============================================================================
// CONVERSATION ENDPOINT TESTS
// =============================================================================

func TestRoot(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	w := do(t, srv.Handler(), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Chat API is running", body["status"])
	assert.Equal(t, "http://upstream.test/v1", body["upstream_url"])
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestCreateAndListConversations(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	h := srv.Handler()

	a := createConversation(t, h, "")
	assert.Equal(t, "Chat 1", a.Title)
	b := createConversation(t, h, `{"title":"Ideas"}`)
	assert.Equal(t, "Ideas", b.Title)
	c := createConversation(t, h, `{}`)
	assert.Equal(t, "Chat 3", c.Title)

	w := do(t, h, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []model.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.Contains(t, w.Body.String(), `"message_count":0`)
}

func TestCreateConversation_InvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	w := do(t, srv.Handler(), http.MethodPost, "/api/conversations", `{"title":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Invalid request body"}`, w.Body.String())
}

func TestListConversations_EmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	w := do(t, srv.Handler(), http.MethodGet, "/api/conversations", "")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestDeleteConversation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	h := srv.Handler()
	c := createConversation(t, h, "")

	w := do(t, h, http.MethodDelete, "/api/conversations/"+c.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"deleted","id":"`+c.ID+`"}`, w.Body.String())

	w = do(t, h, http.MethodDelete, "/api/conversations/"+c.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Conversation not found"}`, w.Body.String())
}

func TestListMessages_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	w := do(t, srv.Handler(), http.MethodGet, "/api/conversations/missing/messages", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Conversation not found"}`, w.Body.String())
}

// =============================================================================
// CHAT STREAM TESTS
// =============================================================================

func TestChatStream_Success(t *testing.T) {
	up := &fakeUpstream{deltas: []string{"Hel", "lo"}}
	srv, store := newTestServer(t, up, Config{})
	h := srv.Handler()
	c := createConversation(t, h, "")

	w := do(t, h, http.MethodPost, "/api/chat/stream",
		`{"conversation_id":"`+c.ID+`","message":"hi there"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseEvents(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, sseEvent{"message", map[string]string{"content": "Hel"}}, events[0])
	assert.Equal(t, sseEvent{"message", map[string]string{"content": "lo"}}, events[1])
	assert.Equal(t, sseEvent{"done", map[string]string{"status": "completed"}}, events[2])

	msgs, err := store.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)

	got, err := store.GetConversation(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi there", got.Title)

	require.Len(t, up.received, 1)
	assert.Len(t, up.received[0], 1)

	snap := srv.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.StreamsStarted)
	assert.EqualValues(t, 1, snap.StreamsFinished)
}

func TestChatStream_TitleOnlyFromFirstMessage(t *testing.T) {
	up := &fakeUpstream{deltas: []string{"ok"}}
	srv, store := newTestServer(t, up, Config{})
	h := srv.Handler()
	c := createConversation(t, h, "")

	long := strings.Repeat("x", 60)
	do(t, h, http.MethodPost, "/api/chat/stream", `{"conversation_id":"`+c.ID+`","message":"`+long+`"}`)
	do(t, h, http.MethodPost, "/api/chat/stream", `{"conversation_id":"`+c.ID+`","message":"second"}`)

	got, err := store.GetConversation(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 50)+"...", got.Title)
	assert.Equal(t, 4, got.MessageCount)

	require.Len(t, up.received, 2)
	assert.Len(t, up.received[1], 3)
}

func TestChatStream_UpstreamFailure(t *testing.T) {
	up := &fakeUpstream{deltas: []string{"part"}, err: errors.New("boom")}
	srv, store := newTestServer(t, up, Config{})
	h := srv.Handler()
	c := createConversation(t, h, "")

	w := do(t, h, http.MethodPost, "/api/chat/stream", `{"conversation_id":"`+c.ID+`","message":"hi"}`)
	events := parseEvents(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "message", events[0].Name)
	assert.Equal(t, sseEvent{"error", map[string]string{"error": "boom"}}, events[1])

	msgs, err := store.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.EqualValues(t, 1, srv.Stats().Snapshot().StreamsFailed)
}

func TestChatStream_NotRunningMessage(t *testing.T) {
	up := &fakeUpstream{err: &llm.ClientError{Type: llm.ErrTypeNotRunning, Message: "model server is not running"}}
	srv, _ := newTestServer(t, up, Config{})
	h := srv.Handler()
	c := createConversation(t, h, "")

	w := do(t, h, http.MethodPost, "/api/chat/stream", `{"conversation_id":"`+c.ID+`","message":"hi"}`)
	events := parseEvents(t, w.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Name)
	assert.Contains(t, events[0].Data["error"], "LM Studio")
}

func TestChatStream_Validation(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/chat/stream", `{"conversation_id":"nope","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c := createConversation(t, h, "")
	w = do(t, h, http.MethodPost, "/api/chat/stream", `{"conversation_id":"`+c.ID+`","message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/chat/stream", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatStream_ClientDisconnectDoesNotPersist(t *testing.T) {
	up := &fakeUpstream{deltas: []string{"first", "never"}, block: true}
	srv, store := newTestServer(t, up, Config{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := createConversation(t, srv.Handler(), "")

	ctx, cancel := context.WithCancel(context.Background())
	body := `{"conversation_id":"` + c.ID + `","message":"hi"}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/api/chat/stream", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: message\n", line)
	cancel()
	resp.Body.Close()

	require.Eventually(t, func() bool {
		return srv.Stats().Snapshot().StreamsAborted == 1
	}, 2*time.Second, 5*time.Millisecond)

	msgs, err := store.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

// =============================================================================
// MODELS / STATS TESTS
// =============================================================================

func TestModels(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{models: []string{"qwen", "llama"}}, Config{})
	w := do(t, srv.Handler(), http.MethodGet, "/api/models", "")
	assert.JSONEq(t, `{"models":["qwen","llama"]}`, w.Body.String())
}

func TestModels_UpstreamDownIsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{modelErr: llm.ErrNotRunning}, Config{})
	w := do(t, srv.Handler(), http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":[]}`, w.Body.String())
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	h := srv.Handler()
	do(t, h, http.MethodGet, "/", "")
	w := do(t, h, http.MethodGet, "/api/stats", "")

	var snap StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.EqualValues(t, 2, snap.Requests)
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{})
	w := do(t, srv.Handler(), http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, &fakeUpstream{}, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWriteEvent_Format(t *testing.T) {
	var buf bytes.Buffer
	rec := httptest.NewRecorder()
	require.NoError(t, writeEvent(&buf, rec, "done", map[string]string{"status": "completed"}))
	assert.Equal(t, "event: done\ndata: {\"status\":\"completed\"}\n\n", buf.String())
}
