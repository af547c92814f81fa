// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file contains the tea.Cmd creators for store operations and the
// bridge that forwards store updates into a running program.
package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/lmchat/internal/chatstore"
	"github.com/jeranaias/lmchat/internal/config"
)

// statusTTL is how long transient status messages stay visible.
const statusTTL = 4 * time.Second

// =============================================================================
// STORE COMMANDS
// =============================================================================

// InitCmd loads the conversation list.
func InitCmd(store Store) tea.Cmd {
	return func() tea.Msg {
		return OpDoneMsg{Op: opInit, Err: store.Init(context.Background())}
	}
}

// CreateCmd creates a conversation. A non-empty text is sent into the new
// conversation once it exists.
func CreateCmd(store Store, text string) tea.Cmd {
	return func() tea.Msg {
		conv, err := store.CreateConversation(context.Background(), "")
		if err != nil || text == "" {
			return OpDoneMsg{Op: opCreate, Err: err}
		}
		return OpDoneMsg{Op: opSend, Err: store.Send(conv.ID, text)}
	}
}

// DeleteCmd deletes a conversation.
func DeleteCmd(store Store, id string) tea.Cmd {
	return func() tea.Msg {
		return OpDoneMsg{Op: opDelete, Err: store.DeleteConversation(context.Background(), id)}
	}
}

// SwitchCmd makes id the current conversation.
func SwitchCmd(store Store, id string) tea.Cmd {
	return func() tea.Msg {
		return OpDoneMsg{Op: opSwitch, Err: store.SwitchConversation(context.Background(), id)}
	}
}

func clearStatusCmd(seq int) tea.Cmd {
	return tea.Tick(statusTTL, func(time.Time) tea.Msg {
		return statusExpiredMsg{seq: seq}
	})
}

// =============================================================================
// STORE BRIDGE
// =============================================================================

// Bridge forwards store updates into a Bubble Tea program.
type Bridge struct {
	unsubscribe func()
}

// Attach subscribes to store. Progress snapshots are written to buffer and
// drained by stream ticks; every other update is passed to send, usually
// (*tea.Program).Send.
func Attach(store Store, buffer *StreamingBuffer, send func(tea.Msg)) *Bridge {
	unsub := store.Subscribe(func(u chatstore.Update) {
		if u.Kind == chatstore.UpdateStreamProgress {
			buffer.Write(u.State.StreamingText)
			return
		}
		send(StoreUpdateMsg{Update: u})
	})
	return &Bridge{unsubscribe: unsub}
}

// Detach stops forwarding.
func (b *Bridge) Detach() {
	if b != nil && b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
}

// =============================================================================
// CONFIG WATCH
// =============================================================================

// WatchConfig reloads the UI section when the config file at path changes.
func WatchConfig(ctx context.Context, path string, send func(tea.Msg)) (*config.Watcher, error) {
	return config.Watch(ctx, path, 0, func(cfg *config.Config, err error) {
		if err != nil {
			send(ConfigReloadedMsg{Err: err})
			return
		}
		send(ConfigReloadedMsg{UI: cfg.UI})
	})
}
