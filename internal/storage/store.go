// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/lmchat/internal/model"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists conversations and their message logs.
type Store interface {
	// ListConversations returns every conversation, oldest first.
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	// CreateConversation creates an empty conversation. An empty title
	// becomes "Chat N" where N is the conversation count plus one.
	CreateConversation(ctx context.Context, title string) (model.Conversation, error)
	GetConversation(ctx context.Context, id string) (model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, id string) ([]model.Message, error)
	// AppendMessage adds msg to the end of the log and returns the new
	// message count.
	AppendMessage(ctx context.Context, id string, msg model.Message) (int, error)
	SetTitle(ctx context.Context, id, title string) error
	Close() error
}

// ErrNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = errors.New("conversation not found")

// DefaultTitle returns the title given to the n-th conversation.
func DefaultTitle(n int) string {
	return fmt.Sprintf("Chat %d", n)
}

// =============================================================================
// BACKEND SELECTION
// =============================================================================

// Options selects and configures a backend.
type Options struct {
	// Backend is "memory", "file", "sqlite" or "postgres"
	Backend     string
	DataDir     string
	SQLitePath  string
	PostgresDSN string
}

// Open creates the store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(opts.DataDir)
	case "sqlite":
		return OpenSQLite(ctx, opts.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", opts.Backend)
	}
}
