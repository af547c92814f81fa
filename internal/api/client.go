// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/lmchat/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is where `lmchat serve` listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout applies to REST calls. Streams are governed by context.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize bounds JSON response bodies.
	MaxResponseSize = 10 * 1024 * 1024
)

// Operation names used in Error.Op.
const (
	OpListConversations  = "list conversations"
	OpCreateConversation = "create conversation"
	OpDeleteConversation = "delete conversation"
	OpListMessages       = "list messages"
	OpChatStream         = "chat stream"
	OpHealth             = "health"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// Error is a failed backend call. StatusCode is zero when no response arrived.
type Error struct {
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsUnavailable reports whether err means the backend could not be reached.
func IsUnavailable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.StatusCode == 0
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds client options. Zero values select defaults.
type Config struct {
	// BaseURL of the backend (default: http://localhost:8000).
	BaseURL string

	// Timeout for REST calls (default: 30s).
	Timeout time.Duration

	// RequestsPerSecond limits outbound calls; zero disables the limiter.
	RequestsPerSecond float64

	// Burst for the limiter (default: 1 when limiting).
	Burst int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the lmchat backend. It is safe for concurrent use.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewClient creates a client with the given configuration.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		// No timeout for streaming - controlled via context
		streamClient: &http.Client{Transport: transport},
		logger:       logger.With("component", "api"),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// BaseURL returns the backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// REST
// =============================================================================

// Health checks that the backend answers on its root endpoint.
func (c *Client) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.doJSON(ctx, OpHealth, http.MethodGet, "/", nil, &out)
}

// ListConversations returns all conversations in server order.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := c.doJSON(ctx, OpListConversations, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []model.Conversation{}
	}
	return convs, nil
}

// CreateConversation creates a conversation. An empty title lets the server
// pick its default.
func (c *Client) CreateConversation(ctx context.Context, title string) (model.Conversation, error) {
	body := map[string]any{}
	if title != "" {
		body["title"] = title
	}
	var conv model.Conversation
	if err := c.doJSON(ctx, OpCreateConversation, http.MethodPost, "/api/conversations", body, &conv); err != nil {
		return model.Conversation{}, err
	}
	return conv, nil
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doJSON(ctx, OpDeleteConversation, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

// ListMessages returns the message log of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doJSON(ctx, OpListMessages, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	return msgs, nil
}

// ListModels returns the model ids the backend's upstream offers.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	if err := c.doJSON(ctx, "list models", http.MethodGet, "/api/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// chatRequest is the body of POST /api/chat/stream.
type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// OpenChatStream posts a user message and returns the event-stream body.
// The caller must close it; cancelling ctx aborts the exchange.
func (c *Client) OpenChatStream(ctx context.Context, conversationID, text string) (io.ReadCloser, error) {
	payload, err := json.Marshal(chatRequest{ConversationID: conversationID, Message: text})
	if err != nil {
		return nil, &Error{Op: OpChatStream, Message: "failed to encode request", Cause: err}
	}

	if err := c.wait(ctx, OpChatStream); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Op: OpChatStream, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &Error{Op: OpChatStream, Message: "request failed", Cause: err}
	}
	c.logger.Debug("stream opened", "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.statusError(OpChatStream, resp)
	}
	return resp.Body, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Message: "rate limit wait aborted", Cause: err}
	}
	return nil
}

// doJSON performs a REST call. in is encoded as the body when non-nil; out
// is decoded from a success response when non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Message: "failed to encode request", Cause: err}
		}
		body = bytes.NewReader(b)
	}

	if err := c.wait(ctx, op); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Message: "failed to create request", Cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: op, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()
	c.logger.Debug("api call", "op", op, "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(op, resp)
	}
	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, MaxResponseSize)).Decode(out); err != nil {
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: "invalid response", Cause: err}
	}
	return nil
}

// statusError builds an Error from a non-2xx response, preferring the
// server's {"detail": ...} message.
func (c *Client) statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(raw))

	var detail struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &detail) == nil {
		switch {
		case detail.Detail != "":
			msg = detail.Detail
		case detail.Error != "":
			msg = detail.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
}
