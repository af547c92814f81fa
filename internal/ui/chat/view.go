// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/ui/styles"
	"github.com/jeranaias/lmchat/internal/util"
)

// View renders the chat view.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Starting lmchat..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderBody(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

// =============================================================================
// HEADER
// =============================================================================

func (m Model) renderHeader() string {
	left := m.theme.HeaderTitle.Render("lmchat")
	if cur, ok := m.st.Current(); ok {
		left += "  " + util.TruncateWidth(cur.GetTitle(), m.width/2)
	}
	right := ""
	if m.opts.APIURL != "" && m.theme.GetLayoutMode() != styles.LayoutNarrow {
		right = m.theme.HeaderMeta.Render(m.opts.APIURL)
	}
	return m.theme.Header.Width(m.width).MaxHeight(1).Render(spread(left, right, m.width-2))
}

// =============================================================================
// BODY
// =============================================================================

func (m Model) renderBody() string {
	transcript := lipgloss.NewStyle().PaddingLeft(1).Render(m.viewport.View())
	if m.sidebarOuterWidth() == 0 {
		return transcript
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(m.viewport.Height), transcript)
}

// sidebarContentWidth is the sidebar width without its border, or 0 when hidden.
func (m Model) sidebarContentWidth() int {
	if m.theme.GetLayoutMode() == styles.LayoutNarrow {
		return 0
	}
	w := m.opts.SidebarWidth
	if limit := m.width / 3; w > limit {
		w = limit
	}
	if w < minSidebarWidth {
		return 0
	}
	return w
}

// sidebarOuterWidth includes the right border.
func (m Model) sidebarOuterWidth() int {
	if w := m.sidebarContentWidth(); w > 0 {
		return w + 1
	}
	return 0
}

// renderSidebar lists conversations as title plus message count, keeping the
// current one in view.
func (m Model) renderSidebar(height int) string {
	w := m.sidebarContentWidth()
	textWidth := w - 2

	lines := []string{m.theme.SidebarTitle.Render("Conversations")}
	convs := m.st.Conversations
	if len(convs) == 0 {
		lines = append(lines, m.theme.SidebarMeta.Render("No conversations yet"))
	}

	visible := (height - 2) / 2
	if visible < 1 {
		visible = 1
	}
	start := 0
	if sel := model.IndexOf(convs, m.st.CurrentID); sel >= visible {
		start = sel - visible + 1
	}
	end := start + visible
	if end > len(convs) {
		end = len(convs)
	}

	for _, c := range convs[start:end] {
		title := util.PadWidth(util.SingleLine(c.GetTitle()), textWidth)
		meta := fmt.Sprintf("%d messages", c.MessageCount)
		if m.st.Streaming && m.st.StreamConversationID == c.ID {
			meta += " " + styles.StatusIndicators.Active
		}
		if c.ID == m.st.CurrentID {
			lines = append(lines, m.theme.SidebarItemSelected.Width(w-1).Render(title))
		} else {
			lines = append(lines, m.theme.SidebarItem.Render(title))
		}
		lines = append(lines, m.theme.SidebarMeta.Render(util.TruncateWidth(meta, textWidth)))
	}

	return m.theme.Sidebar.Width(w).Height(height).MaxHeight(height).Render(strings.Join(lines, "\n"))
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript builds the viewport content for the current conversation.
func (m Model) renderTranscript(width int) string {
	if width < 10 {
		width = 10
	}
	var blocks []string

	switch {
	case m.st.CurrentID == "":
		blocks = append(blocks, m.theme.EmptyState.Render(
			"Welcome to lmchat\n\nPress ctrl+n to start a conversation, or type a message and press enter."))
	case m.st.Loading:
		blocks = append(blocks, m.theme.EmptyState.Render("Loading messages..."))
	default:
		for _, msg := range m.st.Messages {
			blocks = append(blocks, m.renderMessage(msg, width))
		}
		if m.st.StreamingHere() {
			blocks = append(blocks, m.renderStreaming(width))
		}
		if len(blocks) == 0 {
			blocks = append(blocks, m.theme.EmptyState.Render("No messages yet. Say hello."))
		}
	}

	if m.errMsg != "" {
		blocks = append(blocks, styles.RenderError(m.errMsg))
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) renderMessage(msg model.Message, width int) string {
	bodyWidth := width - 2
	if msg.Role == model.RoleAssistant {
		label := m.theme.AssistantLabel.Render(msg.Role.DisplayName())
		return label + "\n" + m.theme.AssistantBody.Render(m.cache.Render(msg.Content, bodyWidth))
	}
	label := m.theme.UserLabel.Render(msg.Role.DisplayName())
	return label + "\n" + m.theme.UserBody.Width(bodyWidth+1).Render(msg.Content)
}

// renderStreaming shows the partial reply as plain wrapped text; markdown is
// applied once the reply is final.
func (m Model) renderStreaming(width int) string {
	label := m.theme.AssistantLabel.Render(model.RoleAssistant.DisplayName()) + " " + m.theme.Spinner.Render("...")
	text := m.streamText
	if text == "" {
		text = m.theme.HeaderMeta.Render("thinking")
	}
	return label + "\n" + m.theme.StreamingBody.Width(width-1).Render(text)
}

// =============================================================================
// INPUT AND STATUS BAR
// =============================================================================

func (m Model) renderInput() string {
	style := m.theme.InputFocused
	if m.st.Streaming {
		style = m.theme.InputBlurred
	}
	return style.Width(m.width - 2).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.st.Streaming:
		left = m.theme.StatusBusy.Render(m.spinner.View() + " streaming")
		if !m.st.StreamingHere() {
			left += m.theme.ShortcutDesc.Render(" in another conversation")
		}
	case m.pendingOp != "":
		left = m.theme.StatusBusy.Render(m.spinner.View() + " " + m.pendingOp)
	case m.st.Loading:
		left = m.theme.StatusBusy.Render(m.spinner.View() + " loading")
	default:
		left = m.theme.StatusOK.Render(styles.StatusIndicators.Success + " ready")
	}
	if m.status != "" {
		left += "  " + m.theme.InfoStyle.Render(m.status)
	}

	if m.help.ShowAll {
		bar := m.theme.StatusBar.Width(m.width).Render(left)
		return lipgloss.JoinVertical(lipgloss.Left, bar, m.help.View(m.keys))
	}
	right := m.help.ShortHelpView(m.keys.ShortHelp())
	return m.theme.StatusBar.Width(m.width).MaxHeight(1).Render(spread(left, right, m.width-2))
}

// spread places left and right on one line of width cells, dropping right
// when it does not fit.
func spread(left, right string, width int) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if right == "" || gap < 1 {
		return left
	}
	return left + strings.Repeat(" ", gap) + right
}

// =============================================================================
// MARKDOWN
// =============================================================================

// markdown renders assistant replies, keeping one glamour renderer per width.
type markdown struct {
	mu      sync.Mutex
	enabled bool
	style   string
	byWidth map[int]*glamour.TermRenderer
}

func newMarkdown(opts Options) *markdown {
	dark := true
	if opts.Theme != nil {
		dark = opts.Theme.IsDark
	}
	style := styles.MarkdownStyle(opts.GlamourStyle, opts.ThemeMode, dark)
	if opts.Theme != nil && opts.Theme.ColorProfile == termenv.Ascii && opts.GlamourStyle == "" {
		style = "notty"
	}
	return &markdown{
		enabled: opts.RenderMarkdown,
		style:   style,
		byWidth: make(map[int]*glamour.TermRenderer),
	}
}

func (md *markdown) render(content string, width int) string {
	if !md.enabled {
		return lipgloss.NewStyle().Width(width).Render(content)
	}

	md.mu.Lock()
	r, ok := md.byWidth[width]
	if !ok {
		var err error
		r, err = styles.NewMarkdownRenderer(md.style, width)
		if err != nil {
			r = nil
		}
		md.byWidth[width] = r
	}
	md.mu.Unlock()

	if r == nil {
		return lipgloss.NewStyle().Width(width).Render(content)
	}
	return styles.RenderMarkdown(r, content)
}
