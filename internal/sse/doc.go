// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse decodes the chat backend's server-pushed text protocol.
//
// The wire format is line oriented. Each record is a line of the form
//
//	data: <JSON>\n
//
// where the JSON payload is one of
//
//	{"content": "<fragment>"}
//	{"status": "completed"}
//	{"error": "<message>"}
//
// Transport chunks may split records at any byte offset. The Decoder keeps a
// pending buffer across Feed calls and only parses complete lines. Lines
// without the data marker (keep-alives, comments, "event:" fields) are
// ignored. A payload that is not valid JSON is reported to the diagnostic
// hook and skipped; it never aborts decoding.
//
// # Usage
//
//	dec := sse.NewDecoder()
//	for chunk := range chunks {
//	    for _, ev := range dec.Feed(chunk) {
//	        handle(ev)
//	    }
//	    if dec.Done() {
//	        break
//	    }
//	}
//	events, err := dec.Finish() // err == sse.ErrNoTerminal if the stream just stopped
package sse
