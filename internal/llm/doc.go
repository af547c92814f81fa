// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm is the client for an OpenAI-compatible model server such as
// LM Studio.
//
// The chat backend uses it to stream completions for a conversation and to
// list the models the server has loaded.
//
// # Usage
//
//	client := llm.NewClient(llm.DefaultConfig())
//	err := client.ChatStream(ctx, messages, func(delta string) error {
//	    fmt.Print(delta)
//	    return nil
//	})
//
// # Errors
//
// Failures are returned as *ClientError. Use IsNotRunning, IsTimeout and
// IsInvalidResponse to classify them. Cancellation of the caller's context
// is returned as the context error, unwrapped.
package llm
