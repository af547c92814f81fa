// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream manages the lifecycle of one assistant-reply attempt.
//
// A Session opens a chat stream through an Opener, decodes it with the sse
// package and folds the decoded events into an append-only text buffer.
// Consumers pull typed notifications with Next:
//
//	sess, err := stream.Start(ctx, client, convID, "hello", stream.Options{})
//	for {
//	    n, ok := sess.Next(ctx)
//	    if !ok {
//	        break
//	    }
//	    switch n.Kind {
//	    case stream.NotifyProgress:
//	        render(n.Text)
//	    case stream.NotifyFinalize:
//	        appendToLog(n.Message)
//	    case stream.NotifyError:
//	        showError(n.Err)
//	    }
//	}
//
// Every session yields zero or more progress notifications followed by
// exactly one finalize or error notification, unless it is cancelled, in
// which case nothing further is delivered. Cancel may be called from any
// goroutine; once it returns, Next never hands out another notification.
package stream
