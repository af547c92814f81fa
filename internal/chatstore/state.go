// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"errors"
	"fmt"

	"github.com/jeranaias/lmchat/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is a read-only snapshot of the store.
type State struct {
	Conversations []model.Conversation
	CurrentID     string
	Messages      []model.Message

	// Loading is set while the current conversation's log is being fetched.
	Loading bool

	// Streaming is set while a session is active. StreamConversationID names
	// its conversation, which may differ from CurrentID after a create.
	Streaming            bool
	StreamingText        string
	StreamConversationID string

	// Err is the last user-facing error message, cleared by the next Send.
	Err string
}

// Current returns the current conversation, if it is in the list.
func (s State) Current() (model.Conversation, bool) {
	if i := model.IndexOf(s.Conversations, s.CurrentID); i >= 0 {
		return s.Conversations[i], true
	}
	return model.Conversation{}, false
}

// StreamingHere reports whether the active session belongs to the current conversation.
func (s State) StreamingHere() bool {
	return s.Streaming && s.StreamConversationID == s.CurrentID
}

// UpdateKind says which mutation produced an Update.
type UpdateKind int

const (
	UpdateConversations UpdateKind = iota
	UpdateCurrent
	UpdateMessages
	UpdateStreamStarted
	UpdateStreamProgress
	UpdateStreamCompleted
	UpdateStreamFailed
	UpdateStreamCancelled
	UpdateError
)

var updateNames = [...]string{
	UpdateConversations:   "conversations",
	UpdateCurrent:         "current",
	UpdateMessages:        "messages",
	UpdateStreamStarted:   "stream_started",
	UpdateStreamProgress:  "stream_progress",
	UpdateStreamCompleted: "stream_completed",
	UpdateStreamFailed:    "stream_failed",
	UpdateStreamCancelled: "stream_cancelled",
	UpdateError:           "error",
}

// String returns the update kind name.
func (k UpdateKind) String() string {
	if k >= 0 && int(k) < len(updateNames) {
		return updateNames[k]
	}
	return fmt.Sprintf("UpdateKind(%d)", int(k))
}

// Update is delivered to observers after each mutation.
type Update struct {
	Kind  UpdateKind
	State State

	// Err is set for UpdateStreamFailed and UpdateError.
	Err error
}

// Observer receives store updates.
type Observer func(Update)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned by Send while a session is active.
	ErrBusy = errors.New("a reply is already streaming")

	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoConversation is returned by Send when no conversation is selected.
	ErrNoConversation = errors.New("no conversation selected")

	// ErrNotCurrent is returned by Send for a conversation other than the current one.
	ErrNotCurrent = errors.New("conversation is not the current conversation")

	// ErrLoading is returned by Send while the current conversation's log is
	// still loading.
	ErrLoading = errors.New("conversation is still loading")

	// ErrUnknownConversation is returned for ids missing from the list.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store is closed")
)

// Operation names used in OpError.
const (
	OpLoadConversations  = "load_conversations"
	OpLoadMessages       = "load_messages"
	OpCreateConversation = "create_conversation"
	OpDeleteConversation = "delete_conversation"
)

var opMessages = map[string]string{
	OpLoadConversations:  "Failed to load conversations",
	OpLoadMessages:       "Failed to load messages",
	OpCreateConversation: "Failed to create conversation",
	OpDeleteConversation: "Failed to delete conversation",
}

// OpError is a failed remote operation. Message is what the user sees.
type OpError struct {
	Op      string
	Message string
	Err     error
}

func newOpError(op string, err error) *OpError {
	return &OpError{Op: op, Message: opMessages[op], Err: err}
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the transport error.
func (e *OpError) Unwrap() error {
	return e.Err
}
