// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// RENDER CACHE TESTS
// =============================================================================

func TestRenderCache_MemoizesByContentAndWidth(t *testing.T) {
	calls := 0
	rc := NewRenderCache(func(content string, width int) string {
		calls++
		return fmt.Sprintf("%d:%s", width, strings.ToUpper(content))
	})

	assert.Equal(t, "40:HELLO", rc.Render("hello", 40))
	assert.Equal(t, "40:HELLO", rc.Render("hello", 40))
	assert.Equal(t, "60:HELLO", rc.Render("hello", 60))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, rc.Len())

	hits, misses, rate := rc.GetStats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)
	assert.InDelta(t, 33.3, rate, 0.1)
}

func TestRenderCache_SetRendererDropsEntries(t *testing.T) {
	rc := NewRenderCache(func(c string, _ int) string { return "a" + c })
	assert.Equal(t, "ax", rc.Render("x", 10))

	rc.SetRenderer(func(c string, _ int) string { return "b" + c })
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, "bx", rc.Render("x", 10))
}

func TestRenderCache_Bounded(t *testing.T) {
	rc := NewRenderCache(func(c string, _ int) string { return c })
	for i := 0; i < maxCacheEntries+10; i++ {
		rc.Render(fmt.Sprint(i), 80)
	}
	assert.LessOrEqual(t, rc.Len(), maxCacheEntries)
}

// =============================================================================
// VIEWPORT OPTIMIZER TESTS
// =============================================================================

func TestViewportOptimizer_ShouldUpdate(t *testing.T) {
	vo := NewViewportOptimizer()

	assert.True(t, vo.ShouldUpdate(""), "first update always proceeds")
	assert.False(t, vo.ShouldUpdate(""))
	assert.True(t, vo.ShouldUpdate("a"))
	assert.False(t, vo.ShouldUpdate("a"))

	vo.Reset()
	assert.True(t, vo.ShouldUpdate("a"), "reset forces the next update")

	total, skipped, eff := vo.GetStats()
	assert.Equal(t, uint64(5), total)
	assert.Equal(t, uint64(2), skipped)
	assert.InDelta(t, 40.0, eff, 0.01)
}
