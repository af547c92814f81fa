// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file implements streaming optimization to provide smooth, flicker-free
// rendering while a reply streams. The store publishes a snapshot of the
// accumulated text for every delta; the StreamingBuffer keeps only the newest
// snapshot and releases it at a capped frame rate.
package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

const (
	defaultBatchSize = 15
	defaultMaxFPS    = 30
	maxMaxFPS        = 60
)

// StreamingBuffer coalesces progress snapshots for rendering.
// The latest snapshot is released by Flush when either:
// 1. batchSize snapshots arrived since the last flush
// 2. 1/maxFPS has passed since the last flush
//
// Write is called from the store's dispatcher goroutine and Flush from the
// Bubble Tea loop, so all operations take the mutex.
type StreamingBuffer struct {
	mu        sync.Mutex
	latest    string
	hasLatest bool
	updates   int
	lastFlush time.Time

	// Configuration
	batchSize     int
	maxFPS        int
	flushInterval time.Duration
}

// NewStreamingBuffer creates a buffer with a batch size of 15 and a 30fps cap.
func NewStreamingBuffer() *StreamingBuffer {
	return NewStreamingBufferWithConfig(defaultBatchSize, defaultMaxFPS)
}

// NewStreamingBufferWithConfig creates a streaming buffer with custom settings.
// Out of range values fall back to the defaults.
func NewStreamingBufferWithConfig(batchSize, maxFPS int) *StreamingBuffer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if maxFPS <= 0 || maxFPS > maxMaxFPS {
		maxFPS = defaultMaxFPS
	}
	return &StreamingBuffer{
		batchSize:     batchSize,
		maxFPS:        maxFPS,
		flushInterval: frameInterval(maxFPS),
		lastFlush:     time.Now(),
	}
}

func frameInterval(fps int) time.Duration {
	return time.Second / time.Duration(fps)
}

// Write replaces the pending snapshot with text.
func (sb *StreamingBuffer) Write(text string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.latest = text
	sb.hasLatest = true
	sb.updates++
}

// Flush returns the pending snapshot if the batch or time threshold has been
// reached. The second result is false when nothing was released.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !sb.shouldFlushLocked() {
		return "", false
	}
	return sb.takeLocked(), true
}

// ShouldFlush reports whether Flush would release a snapshot now.
func (sb *StreamingBuffer) ShouldFlush() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.shouldFlushLocked()
}

// shouldFlushLocked checks flush conditions. Caller holds sb.mu.
func (sb *StreamingBuffer) shouldFlushLocked() bool {
	if !sb.hasLatest {
		return false
	}
	if sb.updates >= sb.batchSize {
		return true
	}
	return time.Since(sb.lastFlush) >= sb.flushInterval
}

// takeLocked releases the pending snapshot. Caller holds sb.mu.
func (sb *StreamingBuffer) takeLocked() string {
	text := sb.latest
	sb.latest = ""
	sb.hasLatest = false
	sb.updates = 0
	sb.lastFlush = time.Now()
	return text
}

// ForceFlush releases the pending snapshot regardless of thresholds.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !sb.hasLatest {
		return "", false
	}
	return sb.takeLocked(), true
}

// Reset drops the pending snapshot. Use it when a stream ends or is cancelled.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.latest = ""
	sb.hasLatest = false
	sb.updates = 0
	sb.lastFlush = time.Now()
}

// Pending returns the number of snapshots written since the last flush.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.updates
}

// GetConfig returns the current buffer configuration.
func (sb *StreamingBuffer) GetConfig() (batchSize, maxFPS int, flushInterval time.Duration) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.batchSize, sb.maxFPS, sb.flushInterval
}

// SetBatchSize updates the batch size threshold.
func (sb *StreamingBuffer) SetBatchSize(size int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if size > 0 {
		sb.batchSize = size
	}
}

// SetMaxFPS updates the maximum frame rate. Values outside 1..60 are ignored.
func (sb *StreamingBuffer) SetMaxFPS(fps int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if fps > 0 && fps <= maxMaxFPS {
		sb.maxFPS = fps
		sb.flushInterval = frameInterval(fps)
	}
}

// TickInterval is the delay between stream ticks.
func (sb *StreamingBuffer) TickInterval() time.Duration {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.flushInterval
}

// =============================================================================
// STREAMING TICK COMMAND
// =============================================================================

// streamTickCmd sends a StreamTickMsg after one frame.
func streamTickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
