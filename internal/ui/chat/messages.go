// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file defines the Bubble Tea messages used by the chat view.
package chat

import (
	"time"

	"github.com/jeranaias/lmchat/internal/chatstore"
	"github.com/jeranaias/lmchat/internal/config"
)

// =============================================================================
// STORE MESSAGES
// =============================================================================

// StoreUpdateMsg carries a non-progress store update into the Bubble Tea loop.
// Progress snapshots travel through the StreamingBuffer instead.
type StoreUpdateMsg struct {
	Update chatstore.Update
}

// StreamTickMsg drives buffered rendering while a reply streams.
type StreamTickMsg struct {
	Time time.Time
}

// =============================================================================
// OPERATION MESSAGES
// =============================================================================

// Operation names reported in OpDoneMsg.
const (
	opInit   = "init"
	opCreate = "create"
	opDelete = "delete"
	opSwitch = "switch"
	opSend   = "send"
)

// OpDoneMsg reports the end of a store operation started by the view.
type OpDoneMsg struct {
	Op  string
	Err error
}

// statusExpiredMsg clears a transient status line. seq guards against
// clearing a newer status.
type statusExpiredMsg struct {
	seq int
}

// =============================================================================
// CONFIG MESSAGES
// =============================================================================

// ConfigReloadedMsg is sent when the config file changes on disk.
type ConfigReloadedMsg struct {
	UI  config.UIConfig
	Err error
}
