// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jeranaias/lmchat/internal/llm"
	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/storage"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the listen address of `lmchat serve`.
	DefaultAddr = "127.0.0.1:8000"

	// MaxRequestBodySize bounds JSON request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// ModelsTimeout bounds the upstream model listing.
	ModelsTimeout = 10 * time.Second

	// ShutdownTimeout is how long Run waits for in-flight requests.
	ShutdownTimeout = 10 * time.Second

	// Version is the server version.
	Version = "0.1.0"
)

// Upstream is the model server the backend streams completions from.
type Upstream interface {
	ChatStream(ctx context.Context, messages []model.Message, fn llm.DeltaFunc) error
	ListModels(ctx context.Context) ([]string, error)
	BaseURL() string
}

// ============================================================================
// SERVER STATS
// ============================================================================

// Stats counts requests and chat streams since start.
type Stats struct {
	Requests        atomic.Int64
	StreamsStarted  atomic.Int64
	StreamsFinished atomic.Int64
	StreamsFailed   atomic.Int64
	StreamsAborted  atomic.Int64
	StartTime       time.Time
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Requests        int64   `json:"requests"`
	StreamsStarted  int64   `json:"streams_started"`
	StreamsFinished int64   `json:"streams_completed"`
	StreamsFailed   int64   `json:"streams_failed"`
	StreamsAborted  int64   `json:"streams_aborted"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() StatsResponse {
	return StatsResponse{
		Requests:        s.Requests.Load(),
		StreamsStarted:  s.StreamsStarted.Load(),
		StreamsFinished: s.StreamsFinished.Load(),
		StreamsFailed:   s.StreamsFailed.Load(),
		StreamsAborted:  s.StreamsAborted.Load(),
		UptimeSeconds:   time.Since(s.StartTime).Seconds(),
	}
}

// ============================================================================
// SERVER
// ============================================================================

// Config configures the server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// RateLimitRPS is the per-IP request rate (0 disables limiting)
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *slog.Logger
}

// Server is the chat backend: conversation REST endpoints plus the
// streaming chat endpoint.
type Server struct {
	config   Config
	store    storage.Store
	upstream Upstream
	logger   *slog.Logger
	stats    *Stats

	router  *http.ServeMux
	handler http.Handler
	limiter *RateLimiter
	server  *http.Server
}

// New creates a server backed by store that streams from upstream.
func New(store storage.Store, upstream Upstream, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		store:    store,
		upstream: upstream,
		logger:   cfg.Logger,
		stats:    &Stats{StartTime: time.Now()},
		router:   http.NewServeMux(),
	}
	s.setupRoutes()

	cors := DefaultCORSConfig()
	if len(cfg.AllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.AllowedOrigins
	}
	middlewares := []func(http.Handler) http.Handler{
		LoggingMiddleware(s.logger),
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		CORSMiddleware(cors),
		s.countRequests,
	}
	if cfg.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 0)
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter))
	}
	s.handler = Chain(middlewares...)(s.router)
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Stats returns the live counters.
func (s *Server) Stats() *Stats {
	return s.stats
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.stats.Requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /{$}", s.handleRoot)
	s.router.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.router.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.router.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.router.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	s.router.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("GET /api/stats", s.handleStats)
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// CreateConversationRequest is the body of POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title"`
}

// ChatRequest is the body of POST /api/chat/stream.
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "Chat API is running",
		"upstream_url": s.upstream.BaseURL(),
		"version":      Version,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.storageError(w, r, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	conv, err := s.store.CreateConversation(r.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		s.storageError(w, r, "create conversation", err)
		return
	}
	LoggerFrom(r.Context()).Info("conversation created", "conversation_id", conv.ID)
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteConversation(r.Context(), id); err != nil {
		s.storageError(w, r, "delete conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storageError(w, r, "list messages", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// ============================================================================
// CHAT STREAM HANDLER
// ============================================================================

// handleChatStream persists the user message, streams the upstream completion
// as server-sent events and persists the assistant reply on success.
//
// Events:
//
//	event: message  data: {"content": "<delta>"}
//	event: done     data: {"status": "completed"}
//	event: error    data: {"error": "<message>"}
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := LoggerFrom(ctx)

	var req ChatRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeDetail(w, http.StatusBadRequest, "Message must not be empty")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	count, err := s.store.AppendMessage(ctx, req.ConversationID, model.NewUserMessage(req.Message))
	if err != nil {
		s.storageError(w, r, "append message", err)
		return
	}
	if count == 1 {
		if err := s.store.SetTitle(ctx, req.ConversationID, model.TitleFromMessage(req.Message)); err != nil {
			logger.Warn("set title failed", "conversation_id", req.ConversationID, "error", err)
		}
	}
	history, err := s.store.ListMessages(ctx, req.ConversationID)
	if err != nil {
		s.storageError(w, r, "list messages", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.stats.StreamsStarted.Add(1)
	start := time.Now()
	logger.Info("chat stream started", "conversation_id", req.ConversationID, "history", len(history))

	var (
		reply     strings.Builder
		chunks    int
		writeFail error
	)
	err = s.upstream.ChatStream(ctx, history, func(delta string) error {
		reply.WriteString(delta)
		chunks++
		if err := writeEvent(w, flusher, "message", map[string]string{"content": delta}); err != nil {
			writeFail = err
			return err
		}
		return nil
	})

	if writeFail != nil || ctx.Err() != nil {
		s.stats.StreamsAborted.Add(1)
		logger.Info("chat stream aborted by client",
			"conversation_id", req.ConversationID, "chunks", chunks, "elapsed", time.Since(start))
		return
	}
	if err != nil {
		s.stats.StreamsFailed.Add(1)
		logger.Warn("chat stream failed",
			"conversation_id", req.ConversationID, "chunks", chunks, "error", err)
		writeEvent(w, flusher, "error", map[string]string{"error": upstreamMessage(err)})
		return
	}

	if _, err := s.store.AppendMessage(ctx, req.ConversationID, model.NewAssistantMessage(reply.String())); err != nil {
		s.stats.StreamsFailed.Add(1)
		logger.Error("persist reply failed", "conversation_id", req.ConversationID, "error", err)
		writeEvent(w, flusher, "error", map[string]string{"error": "Failed to save the reply"})
		return
	}

	s.stats.StreamsFinished.Add(1)
	logger.Info("chat stream completed",
		"conversation_id", req.ConversationID, "chunks", chunks, "elapsed", time.Since(start))
	writeEvent(w, flusher, "done", map[string]string{"status": "completed"})
}

// upstreamMessage turns an upstream failure into text for the error event.
func upstreamMessage(err error) string {
	switch {
	case llm.IsNotRunning(err):
		return "Model server is not reachable. Is LM Studio running?"
	case llm.IsTimeout(err):
		return "Model server timed out"
	default:
		return err.Error()
	}
}

// ============================================================================
// MODELS / STATS HANDLERS
// ============================================================================

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), ModelsTimeout)
	defer cancel()

	models, err := s.upstream.ListModels(ctx)
	if err != nil {
		LoggerFrom(r.Context()).Warn("list models failed", "error", err)
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"models": models})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot())
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server started", "addr", ln.Addr().String(), "version", Version,
		"upstream", s.upstream.BaseURL())
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes a {"detail": message} error body.
func writeDetail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

// writeEvent writes one named server-sent event and flushes it.
func writeEvent(w io.Writer, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// decodeBody decodes a size-limited JSON body. An empty body is accepted
// when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxRequestBodySize))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// storageError maps a storage failure to a response.
func (s *Server) storageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Conversation not found")
		return
	}
	LoggerFrom(r.Context()).Error(op+" failed", "error", err)
	writeDetail(w, http.StatusInternalServerError, "Storage error")
}
