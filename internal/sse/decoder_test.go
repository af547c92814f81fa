// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeAll feeds the fragments in order and finishes the decoder.
func decodeAll(t *testing.T, d *Decoder, fragments ...string) ([]Event, error) {
	t.Helper()
	var events []Event
	for _, f := range fragments {
		events = append(events, d.Feed([]byte(f))...)
	}
	tail, err := d.Finish()
	return append(events, tail...), err
}

// splitEvery cuts s into pieces of n bytes.
func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

const helloStream = "data: {\"content\":\"Hel\"}\n" +
	"data: {\"content\":\"lo\"}\n" +
	"data: {\"status\":\"completed\"}\n"

func TestDecoder_ContentThenCompleted(t *testing.T) {
	events, err := decodeAll(t, NewDecoder(), helloStream)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, Event{Kind: EventContent, Content: "Hel"}, events[0])
	assert.Equal(t, Event{Kind: EventContent, Content: "lo"}, events[1])
	assert.Equal(t, EventCompleted, events[2].Kind)
	assert.True(t, events[2].Terminal())
}

func TestDecoder_SplitMidRecord(t *testing.T) {
	d := NewDecoder()
	first := d.Feed([]byte("data: {\"con"))
	assert.Empty(t, first)
	assert.Equal(t, len("data: {\"con"), d.Buffered())

	second := d.Feed([]byte("tent\":\"A\"}\r\n"))
	require.Len(t, second, 1)
	assert.Equal(t, Event{Kind: EventContent, Content: "A"}, second[0])
	assert.Zero(t, d.Buffered())
}

func TestDecoder_SplitAtEveryOffset(t *testing.T) {
	whole, err := decodeAll(t, NewDecoder(), helloStream)
	require.NoError(t, err)

	for size := 1; size <= len(helloStream); size++ {
		got, err := decodeAll(t, NewDecoder(), splitEvery(helloStream, size)...)
		require.NoError(t, err, "fragment size %d", size)
		assert.Equal(t, whole, got, "fragment size %d", size)
	}
}

func TestDecoder_MultibyteSplit(t *testing.T) {
	stream := "data: {\"content\":\"héllo wörld ✓\"}\ndata: {\"status\":\"completed\"}\n"
	got, err := decodeAll(t, NewDecoder(), splitEvery(stream, 1)...)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "héllo wörld ✓", got[0].Content)
}

func TestDecoder_IgnoresNonDataLines(t *testing.T) {
	stream := ": keep-alive\n" +
		"\n" +
		"event: message\r\n" +
		"data: {\"content\":\"x\"}\r\n" +
		"\r\n" +
		"id: 7\n" +
		"data:\n" +
		"event: done\r\n" +
		"data: {\"status\":\"completed\"}\r\n\r\n"

	got, err := decodeAll(t, NewDecoder(), stream)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].Content)
	assert.Equal(t, EventCompleted, got[1].Kind)
}

func TestDecoder_MalformedPayloadIsSkipped(t *testing.T) {
	var reported []*DecodeError
	d := NewDecoder(WithDecodeErrorHook(func(e *DecodeError) {
		reported = append(reported, e)
	}))

	got, err := decodeAll(t, d,
		"data: {\"content\":\"a\"}\n",
		"data: {not json}\n",
		"data: [DONE]\n",
		"data: {\"other\":1}\n",
		"data: {\"content\":\"b\"}\n",
		"data: {\"status\":\"completed\"}\n",
	)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Content)
	assert.Equal(t, "b", got[1].Content)

	require.Len(t, reported, 3)
	assert.Equal(t, 3, d.Skipped())
	assert.Contains(t, string(reported[0].Line), "not json")
	assert.True(t, errors.Is(reported[2], ErrUnknownPayload))
}

func TestDecoder_ErrorRecordIsTerminal(t *testing.T) {
	got, err := decodeAll(t, NewDecoder(),
		"data: {\"content\":\"partial\"}\n",
		"data: {\"error\":\"model crashed\"}\n",
		"data: {\"content\":\"ignored\"}\n",
	)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Event{Kind: EventFailed, Message: "model crashed"}, got[1])
}

func TestDecoder_NothingAfterTerminal(t *testing.T) {
	d := NewDecoder()
	got := d.Feed([]byte("data: {\"status\":\"completed\"}\ndata: {\"content\":\"late\"}\n"))
	require.Len(t, got, 1)
	assert.True(t, d.Done())

	assert.Nil(t, d.Feed([]byte("data: {\"content\":\"later\"}\n")))
	tail, err := d.Finish()
	assert.NoError(t, err)
	assert.Empty(t, tail)
}

func TestDecoder_EndWithoutTerminal(t *testing.T) {
	got, err := decodeAll(t, NewDecoder(), "data: {\"content\":\"Hel\"}\n")
	assert.ErrorIs(t, err, ErrNoTerminal)
	require.Len(t, got, 1)
	assert.Equal(t, "Hel", got[0].Content)
}

func TestDecoder_EmptyInput(t *testing.T) {
	got, err := decodeAll(t, NewDecoder())
	assert.ErrorIs(t, err, ErrNoTerminal)
	assert.Empty(t, got)
}

func TestDecoder_TrailingRecordWithoutNewline(t *testing.T) {
	got, err := decodeAll(t, NewDecoder(), "data: {\"content\":\"A\"}\ndata: {\"status\":\"completed\"}")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventCompleted, got[1].Kind)
}

func TestDecoder_EmptyContentProducesNoEvent(t *testing.T) {
	got, err := decodeAll(t, NewDecoder(), "data: {\"content\":\"\"}\ndata: {\"status\":\"completed\"}\n")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, EventCompleted, got[0].Kind)
}

func TestDecoder_LargeRecordWithinDefaultLimit(t *testing.T) {
	big := strings.Repeat("x", 2<<20)
	got, err := decodeAll(t, NewDecoder(),
		append(splitEvery("data: {\"content\":\""+big+"\"}\n", 4096), "data: {\"status\":\"completed\"}\n")...)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, big, got[0].Content)
}

func TestDecoder_OversizedLineDropped(t *testing.T) {
	var reported []*DecodeError
	d := NewDecoder(WithMaxLineSize(64), WithDecodeErrorHook(func(e *DecodeError) { reported = append(reported, e) }))

	got, err := decodeAll(t, d,
		"data: {\"content\":\""+strings.Repeat("x", 100),
		strings.Repeat("y", 100),
		"\"}\ndata: {\"content\":\"ok\"}\n",
		"data: {\"status\":\"completed\"}\n",
	)
	require.NoError(t, err)
	require.Len(t, reported, 1, "the rest of the long line is not decoded as a record")
	assert.ErrorIs(t, reported[0], ErrLineTooLong)
	require.Len(t, got, 2)
	assert.Equal(t, "ok", got[0].Content)
	assert.Equal(t, EventCompleted, got[1].Kind)
}

func TestDecoder_NegativeMaxLineSizeIsUnlimited(t *testing.T) {
	d := NewDecoder(WithMaxLineSize(-1))
	d.Feed([]byte("data: {\"content\":\"" + strings.Repeat("x", DefaultMaxLineSize+1)))
	assert.Greater(t, d.Buffered(), DefaultMaxLineSize)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "content", EventContent.String())
	assert.Equal(t, "completed", EventCompleted.String())
	assert.Equal(t, "failed", EventFailed.String())
}
