// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// These are the values exchanged with the chat backend and held by the
// conversation store. Conversations are server-owned: title and message
// count only change as a side effect of server state. Messages are
// immutable once appended to a log.
//
// # Key Types
//
//   - Conversation: server-assigned id, display title, message count
//   - Message: role, content and creation timestamp
//   - Role: message role enumeration (user, assistant)
package model
