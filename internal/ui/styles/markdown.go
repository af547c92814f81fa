// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// MinMarkdownWidth is the narrowest wrap width handed to glamour.
const MinMarkdownWidth = 20

// MarkdownStyle picks the glamour standard style. An explicit style wins;
// otherwise the theme mode and detected background decide.
func MarkdownStyle(glamourStyle, theme string, dark bool) string {
	if s := strings.TrimSpace(glamourStyle); s != "" {
		return s
	}
	if ResolveDark(theme, dark) {
		return "dark"
	}
	return "light"
}

// NewMarkdownRenderer builds a glamour renderer that wraps at width.
func NewMarkdownRenderer(style string, width int) (*glamour.TermRenderer, error) {
	if width < MinMarkdownWidth {
		width = MinMarkdownWidth
	}
	return glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
}

// RenderMarkdown renders content with r. A nil renderer or a render error
// returns the content unchanged.
func RenderMarkdown(r *glamour.TermRenderer, content string) string {
	if r == nil || strings.TrimSpace(content) == "" {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}
