// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jeranaias/lmchat/internal/model"
)

// =============================================================================
// STREAMING TYPES
// =============================================================================

// MaxLineSize is the largest SSE line accepted from the model server.
const MaxLineSize = 16 << 20

// DeltaFunc receives each content delta. Returning an error stops the stream
// and ChatStream returns that error.
type DeltaFunc func(delta string) error

// completionRequest is the body of POST /chat/completions.
type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

// streamChunk is one data record of a streamed completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *streamChunk) content() string {
	if len(c.Choices) > 0 && c.Choices[0].Delta.Content != nil {
		return *c.Choices[0].Delta.Content
	}
	return ""
}

func (c *streamChunk) finished() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != nil && *c.Choices[0].FinishReason != ""
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream requests a streamed completion of messages and calls fn for each
// non-empty content delta. It returns nil once the server signals the end of
// the completion ([DONE], a finish_reason, or end of body).
func (c *Client) ChatStream(ctx context.Context, messages []model.Message, fn DeltaFunc) error {
	body, err := json.Marshal(completionRequest{
		Model:       c.config.Model,
		Messages:    toChatMessages(messages),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeUnknown, Message: "failed to create request", Cause: err}
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	return processStream(ctx, resp.Body, fn)
}

// processStream reads data lines until the completion ends.
func processStream(ctx context.Context, body io.Reader, fn DeltaFunc) error {
	reader := bufio.NewReaderSize(body, 16*1024)
	var line []byte

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ClientError{Type: ErrTypeNotRunning, Message: "stream interrupted", Cause: err}
		}
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "stream line too long"}
		}
		if isPrefix {
			continue
		}

		data, ok := bytes.CutPrefix(line, []byte("data:"))
		line = line[:0]
		if !ok {
			continue
		}
		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var sc streamChunk
		if err := json.Unmarshal(data, &sc); err != nil {
			// Skip malformed chunks
			continue
		}
		if sc.Error != nil {
			msg := sc.Error.Message
			if msg == "" {
				msg = "model server reported an error"
			}
			return &ClientError{Type: ErrTypeInvalidResponse, Message: msg}
		}
		if delta := sc.content(); delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
		if sc.finished() {
			return nil
		}
	}
}
