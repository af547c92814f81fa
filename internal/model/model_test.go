// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleFromMessage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "short", content: "hello", want: "hello"},
		{name: "exactly fifty", content: strings.Repeat("a", 50), want: strings.Repeat("a", 50)},
		{name: "long", content: strings.Repeat("b", 60), want: strings.Repeat("b", 50) + "..."},
		{name: "multibyte", content: strings.Repeat("é", 51), want: strings.Repeat("é", 50) + "..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, TitleFromMessage(tc.content))
		})
	}
}

func TestConversation_GetTitle(t *testing.T) {
	assert.Equal(t, DefaultTitle, Conversation{ID: "a"}.GetTitle())
	assert.Equal(t, DefaultTitle, Conversation{ID: "a", Title: "   "}.GetTitle())
	assert.Equal(t, "Chat 1", Conversation{ID: "a", Title: "Chat 1"}.GetTitle())
}

func TestMessage_Preview(t *testing.T) {
	msg := NewUserMessage("line one\nline two")
	assert.Equal(t, "line one line two", msg.Preview(0))
	assert.Equal(t, "line...", msg.Preview(7))
	assert.Equal(t, RoleUser, msg.Role)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestRole(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("tool").Valid())
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "Assistant", RoleAssistant.DisplayName())
}

func TestCloneMessages_Independent(t *testing.T) {
	orig := []Message{NewUserMessage("a")}
	clone := CloneMessages(orig)
	clone[0].Content = "b"
	assert.Equal(t, "a", orig[0].Content)
	assert.Nil(t, CloneMessages(nil))
}

func TestIndexOf(t *testing.T) {
	convs := []Conversation{{ID: "x"}, {ID: "y"}}
	assert.Equal(t, 1, IndexOf(convs, "y"))
	assert.Equal(t, -1, IndexOf(convs, "z"))
}
