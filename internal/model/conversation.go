// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"
)

// DefaultTitle is used by the backend when a conversation is created without one.
const DefaultTitle = "New Conversation"

// TitleMaxRunes is how much of the first user message becomes the title.
const TitleMaxRunes = 50

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the listing form of a server-tracked thread of messages.
// Title and MessageCount are owned by the server and never computed locally.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// GetTitle returns the conversation title or a default.
func (c Conversation) GetTitle() string {
	if strings.TrimSpace(c.Title) != "" {
		return c.Title
	}
	return DefaultTitle
}

// TitleFromMessage derives a conversation title from the first user message:
// the first TitleMaxRunes runes, with "..." appended when the message is longer.
func TitleFromMessage(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxRunes {
		return content
	}
	return string(runes[:TitleMaxRunes]) + "..."
}

// IndexOf returns the position of the conversation with the given id, or -1.
func IndexOf(convs []Conversation, id string) int {
	for i, c := range convs {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// CloneConversations returns a copy of convs that shares no backing array.
func CloneConversations(convs []Conversation) []Conversation {
	if convs == nil {
		return nil
	}
	out := make([]Conversation, len(convs))
	copy(out, convs)
	return out
}
