// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the lmchat TUI and the
line-mode REPL.

# Color System (colors.go)

All colors are Lip Gloss AdaptiveColor values so the same palette works on
light and dark terminals:

  - Purple - assistant messages, sidebar title
  - Cyan - brand, user focus, selected conversation
  - Emerald - success, idle status
  - Amber - warnings, streaming status
  - Rose - errors

Status messages always carry an ASCII indicator ([OK], [X], [!], [i]) next to
the color.

# Theme (theme.go)

NewTheme builds every style used by the chat view. The mode is "dark",
"light" or "auto"; auto asks termenv for the terminal background.

	theme := styles.NewTheme(cfg.UI.Theme)
	theme.SidebarItemSelected.Render(title)

# Markdown (markdown.go)

Assistant replies are rendered with glamour:

	style := styles.MarkdownStyle(cfg.UI.GlamourStyle, cfg.UI.Theme, dark)
	r, err := styles.NewMarkdownRenderer(style, width)
	out := styles.RenderMarkdown(r, reply)

# Animations (animations.go)

Spinner frame sets for the bubbles spinner component.
*/
package styles
