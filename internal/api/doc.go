// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the lmchat backend.
//
// It implements the conversation store's Transport: JSON REST calls for the
// conversation list and message logs, and OpenChatStream, which returns the
// raw event-stream body of POST /api/chat/stream for the stream package to
// decode.
package api
