// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatstore holds the client-side conversation state: the conversation
// list, the current conversation's message log and the single active stream
// session.
//
// All mutation happens under one lock. Observers registered with Subscribe
// receive an Update with a state snapshot after every mutation; updates are
// delivered one at a time, in mutation order, from a dedicated goroutine, so
// an observer may call back into the Store without deadlocking.
//
// Rules enforced by the Store:
//   - at most one stream session exists store-wide; Send while busy fails with ErrBusy
//   - the user message is appended before the stream opens
//   - the assistant message is appended only when its session completes
//   - switching or deleting the streaming conversation cancels the session first
//   - creating a conversation leaves the session alone
package chatstore
