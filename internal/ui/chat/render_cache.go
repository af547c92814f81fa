// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// This file caches rendered message bodies and tracks viewport content so
// the transcript is not re-rendered or re-set when nothing changed.
package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
)

// =============================================================================
// RENDER CACHE
// =============================================================================

// maxCacheEntries bounds the cache. When full it is cleared; a transcript
// re-renders in one pass.
const maxCacheEntries = 512

// RenderFunc renders content for a given width.
type RenderFunc func(content string, width int) string

// RenderCache memoizes rendered message bodies keyed by content hash and
// width. Glamour rendering is far slower than a hash, and finished messages
// never change.
type RenderCache struct {
	mu      sync.Mutex
	render  RenderFunc
	entries map[string]string
	hits    uint64
	misses  uint64
}

// NewRenderCache creates a cache over render.
func NewRenderCache(render RenderFunc) *RenderCache {
	return &RenderCache{
		render:  render,
		entries: make(map[string]string),
	}
}

// Render returns the cached rendering of content at width, rendering it on a miss.
func (rc *RenderCache) Render(content string, width int) string {
	key := hashContent(strconv.Itoa(width) + "\x00" + content)

	rc.mu.Lock()
	if out, ok := rc.entries[key]; ok {
		rc.hits++
		rc.mu.Unlock()
		return out
	}
	rc.misses++
	rc.mu.Unlock()

	out := rc.render(content, width)

	rc.mu.Lock()
	if len(rc.entries) >= maxCacheEntries {
		rc.entries = make(map[string]string)
	}
	rc.entries[key] = out
	rc.mu.Unlock()
	return out
}

// SetRenderer swaps the render function and drops every cached entry.
func (rc *RenderCache) SetRenderer(render RenderFunc) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.render = render
	rc.entries = make(map[string]string)
}

// Len returns the number of cached entries.
func (rc *RenderCache) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// GetStats returns (hits, misses, hit rate %).
func (rc *RenderCache) GetStats() (hits, misses uint64, hitRate float64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	hits, misses = rc.hits, rc.misses
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return hits, misses, hitRate
}

// =============================================================================
// VIEWPORT OPTIMIZER
// =============================================================================

// ViewportOptimizer skips viewport updates whose content did not change.
type ViewportOptimizer struct {
	mu          sync.Mutex
	lastHash    string
	primed      bool
	updateCount uint64
	skipCount   uint64
}

// NewViewportOptimizer creates a new viewport optimizer.
func NewViewportOptimizer() *ViewportOptimizer {
	return &ViewportOptimizer{}
}

// ShouldUpdate reports whether content differs from the last accepted content.
func (vo *ViewportOptimizer) ShouldUpdate(content string) bool {
	vo.mu.Lock()
	defer vo.mu.Unlock()

	vo.updateCount++
	h := hashContent(content)
	if vo.primed && h == vo.lastHash {
		vo.skipCount++
		return false
	}
	vo.lastHash = h
	vo.primed = true
	return true
}

// Reset forces the next ShouldUpdate to return true. Counters are kept.
func (vo *ViewportOptimizer) Reset() {
	vo.mu.Lock()
	defer vo.mu.Unlock()
	vo.lastHash = ""
	vo.primed = false
}

// GetStats returns (total, skipped, efficiency %).
func (vo *ViewportOptimizer) GetStats() (total, skipped uint64, efficiency float64) {
	vo.mu.Lock()
	defer vo.mu.Unlock()
	total, skipped = vo.updateCount, vo.skipCount
	if total > 0 {
		efficiency = float64(skipped) / float64(total) * 100
	}
	return total, skipped, efficiency
}

// hashContent returns the hex SHA-256 of content.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
