// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the chat backend behind `lmchat serve`.
//
// It keeps conversations in a storage.Store and streams assistant replies
// from an OpenAI-compatible model server (LM Studio) as server-sent events.
//
// # Endpoints
//
//   - GET    /                                 - Status and upstream URL
//   - GET    /api/conversations                - List conversations
//   - POST   /api/conversations                - Create a conversation
//   - DELETE /api/conversations/{id}           - Delete a conversation
//   - GET    /api/conversations/{id}/messages  - Message log
//   - POST   /api/chat/stream                  - Send a message, stream the reply
//   - GET    /api/models                       - Upstream models
//   - GET    /api/stats                        - Request and stream counters
//
// Errors are JSON bodies of the form {"detail": "..."}.
//
// # Middleware
//
// Requests pass through request logging (slog, request id), panic recovery,
// security headers, CORS and an optional per-IP token bucket limiter.
//
// # Usage
//
//	srv := server.New(store, llm.NewClient(llm.DefaultConfig()), server.Config{Addr: ":8000"})
//	err := srv.Run(ctx)
package server
