// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// STREAMING BUFFER TESTS
// =============================================================================

func TestNewStreamingBuffer(t *testing.T) {
	sb := NewStreamingBuffer()

	batchSize, maxFPS, interval := sb.GetConfig()
	if batchSize != 15 {
		t.Errorf("Expected default batch size 15, got %d", batchSize)
	}
	if maxFPS != 30 {
		t.Errorf("Expected default maxFPS 30, got %d", maxFPS)
	}
	if interval != time.Second/30 {
		t.Errorf("Expected interval %v, got %v", time.Second/30, interval)
	}
}

func TestNewStreamingBufferWithConfig_Fallbacks(t *testing.T) {
	tests := []struct {
		batch, fps         int
		wantBatch, wantFPS int
	}{
		{0, 0, 15, 30},
		{-1, 120, 15, 30},
		{5, 60, 5, 60},
	}
	for _, tt := range tests {
		sb := NewStreamingBufferWithConfig(tt.batch, tt.fps)
		batch, fps, _ := sb.GetConfig()
		if batch != tt.wantBatch || fps != tt.wantFPS {
			t.Errorf("config(%d, %d) = (%d, %d), want (%d, %d)", tt.batch, tt.fps, batch, fps, tt.wantBatch, tt.wantFPS)
		}
	}
}

func TestStreamingBufferKeepsLatestSnapshot(t *testing.T) {
	sb := NewStreamingBufferWithConfig(100, 1)

	sb.Write("He")
	sb.Write("Hell")
	sb.Write("Hello")

	if pending := sb.Pending(); pending != 3 {
		t.Errorf("Expected 3 pending snapshots, got %d", pending)
	}

	content, ok := sb.ForceFlush()
	if !ok || content != "Hello" {
		t.Errorf("ForceFlush() = %q, %v; want \"Hello\", true", content, ok)
	}
	if _, ok := sb.ForceFlush(); ok {
		t.Error("second ForceFlush should have nothing")
	}
}

func TestStreamingBufferFlushBySize(t *testing.T) {
	sb := NewStreamingBufferWithConfig(3, 1) // 1fps so time never triggers

	sb.Write("A")
	sb.Write("AB")
	if _, ok := sb.Flush(); ok {
		t.Error("Should not flush before reaching batch size")
	}

	sb.Write("ABC")
	content, ok := sb.Flush()
	if !ok || content != "ABC" {
		t.Errorf("Flush() = %q, %v; want \"ABC\", true", content, ok)
	}
	if pending := sb.Pending(); pending != 0 {
		t.Errorf("Expected 0 pending after flush, got %d", pending)
	}
}

func TestStreamingBufferFlushByTime(t *testing.T) {
	sb := NewStreamingBufferWithConfig(100, 60)

	sb.Write("A")
	if sb.ShouldFlush() {
		t.Error("Should not flush immediately")
	}

	time.Sleep(25 * time.Millisecond)

	content, ok := sb.Flush()
	if !ok || content != "A" {
		t.Errorf("Flush() after interval = %q, %v", content, ok)
	}
}

func TestStreamingBufferEmptySnapshotIsFlushed(t *testing.T) {
	sb := NewStreamingBufferWithConfig(1, 30)

	sb.Write("")
	content, ok := sb.Flush()
	if !ok || content != "" {
		t.Errorf("Flush() = %q, %v; want empty snapshot released", content, ok)
	}
}

func TestStreamingBufferReset(t *testing.T) {
	sb := NewStreamingBuffer()
	sb.Write("partial")
	sb.Reset()

	if sb.Pending() != 0 {
		t.Error("Reset should clear pending count")
	}
	if _, ok := sb.ForceFlush(); ok {
		t.Error("Reset should drop the snapshot")
	}
}

func TestStreamingBufferSetters(t *testing.T) {
	sb := NewStreamingBuffer()

	sb.SetBatchSize(4)
	sb.SetBatchSize(0)
	sb.SetMaxFPS(10)
	sb.SetMaxFPS(500)

	batch, fps, interval := sb.GetConfig()
	if batch != 4 || fps != 10 {
		t.Errorf("config = (%d, %d), want (4, 10)", batch, fps)
	}
	if interval != 100*time.Millisecond || sb.TickInterval() != interval {
		t.Errorf("interval = %v, tick = %v", interval, sb.TickInterval())
	}
}

func TestStreamingBufferConcurrency(t *testing.T) {
	sb := NewStreamingBufferWithConfig(1000, 60)

	var wg sync.WaitGroup
	var b strings.Builder
	snapshots := make([]string, 200)
	for i := range snapshots {
		b.WriteString(fmt.Sprint(i % 10))
		snapshots[i] = b.String()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, s := range snapshots {
			sb.Write(s)
		}
	}()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				sb.Flush()
			}
		}
	}()

	wg.Wait()
	close(done)

	content, ok := sb.ForceFlush()
	if ok && content != snapshots[len(snapshots)-1] {
		t.Errorf("last snapshot = %q, want the final one", content)
	}
}
