// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides conversation persistence for the chat backend.
//
// All backends implement Store. The server owns titles and message counts,
// so every backend derives message_count from the stored messages and
// assigns the default "Chat N" title itself.
//
// # Backends
//
//   - MemoryStore: process-local, lost on restart
//   - FileStore: one JSON document per conversation in a directory
//   - SQLiteStore: single database file (pure Go driver, no cgo)
//   - PostgresStore: shared database through a pgx connection pool
//
// # Usage
//
//	store, err := storage.Open(ctx, storage.Options{Backend: "sqlite", SQLitePath: path})
//	conv, err := store.CreateConversation(ctx, "")
//	count, err := store.AppendMessage(ctx, conv.ID, model.NewUserMessage("hi"))
//
// Conversations are listed oldest first.
package storage
