// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the full-screen chat view of lmchat.

The view is a Bubble Tea model over the conversation store. It never talks to
the backend itself: every action goes through the Store interface, and every
change comes back as a store update.

# Key Components

## Model (model.go)

The Model keeps the last store snapshot and the UI components:
  - sidebar listing conversations with their message counts
  - viewport holding the transcript
  - textarea for input (enter sends, alt+enter inserts a newline)
  - spinner and status bar with key help

## Store bridge (update.go)

Attach subscribes to the store. Progress snapshots are written to the
StreamingBuffer; all other updates are sent to the program as StoreUpdateMsg:

	m := chat.New(store, chat.OptionsFromConfig(cfg))
	p := tea.NewProgram(m, tea.WithAltScreen())
	bridge := chat.Attach(store, m.Buffer(), p.Send)
	defer bridge.Detach()

## Streaming (streaming.go)

StreamingBuffer keeps the newest snapshot of a streaming reply and releases it
at most MaxFPS times a second, driven by StreamTickMsg.

## Rendering (view.go, render_cache.go)

Finished assistant replies are rendered with glamour and memoized by
RenderCache. ViewportOptimizer skips setting unchanged transcript content.

# Key Bindings

	enter        send
	alt+enter    newline
	ctrl+n       new conversation
	ctrl+x       delete conversation
	ctrl+up/down previous / next conversation (also alt+k / alt+j)
	esc          stop the streaming reply
	ctrl+r       reload the conversation list
	F1           toggle help
	ctrl+c       quit
*/
package chat
