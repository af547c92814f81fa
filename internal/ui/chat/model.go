// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/lmchat/internal/chatstore"
	"github.com/jeranaias/lmchat/internal/config"
	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/ui/styles"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the part of the conversation store the chat view drives.
// *chatstore.Store implements it.
type Store interface {
	Init(ctx context.Context) error
	State() chatstore.State
	SwitchConversation(ctx context.Context, id string) error
	CreateConversation(ctx context.Context, title string) (model.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	Send(conversationID, text string) error
	CancelStream() bool
	Subscribe(fn chatstore.Observer) (unsubscribe func())
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures the chat view.
type Options struct {
	Theme *styles.Theme

	// UI settings, usually config.UIConfig
	ThemeMode      string
	GlamourStyle   string
	SidebarWidth   int
	MaxFPS         int
	RenderMarkdown bool

	// APIURL is shown in the header.
	APIURL string

	Logger *slog.Logger
}

// OptionsFromConfig builds Options from a loaded config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Theme:          styles.NewTheme(cfg.UI.Theme),
		ThemeMode:      cfg.UI.Theme,
		GlamourStyle:   cfg.UI.GlamourStyle,
		SidebarWidth:   cfg.UI.SidebarWidth,
		MaxFPS:         cfg.UI.MaxFPS,
		RenderMarkdown: cfg.UI.RenderMarkdown,
		APIURL:         cfg.Client.APIURL,
	}
}

const (
	defaultSidebarWidth = 28
	minSidebarWidth     = 12
	inputHeight         = 3
	inputCharLimit      = 16000
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	store  Store
	opts   Options
	theme  *styles.Theme
	keys   KeyMap
	logger *slog.Logger

	// Dimensions
	width  int
	height int

	// Last store snapshot and the rendered part of the streaming reply
	st         chatstore.State
	streamText string

	// Streaming optimization
	buffer    *StreamingBuffer
	cache     *RenderCache
	optimizer *ViewportOptimizer
	md        *markdown
	ticking   bool
	spinning  bool

	// UI Components
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	help     help.Model

	// Status
	pendingOp string
	errMsg    string
	status    string
	statusSeq int
	quitting  bool
}

// New creates a chat view over store.
func New(store Store, opts Options) Model {
	if opts.Theme == nil {
		opts.Theme = styles.NewTheme(opts.ThemeMode)
	}
	if opts.SidebarWidth <= 0 {
		opts.SidebarWidth = defaultSidebarWidth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ta := textarea.New()
	ta.Placeholder = "Type a message..."
	ta.Prompt = ""
	ta.ShowLineNumbers = false
	ta.CharLimit = inputCharLimit
	ta.SetHeight(inputHeight)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "ctrl+j"))
	ta.Focus()

	sp := spinner.New(
		spinner.WithSpinner(styles.LineSpinner.Bubbles()),
		spinner.WithStyle(opts.Theme.Spinner),
	)

	m := Model{
		store:     store,
		opts:      opts,
		theme:     opts.Theme,
		keys:      DefaultKeyMap(),
		logger:    logger.With("component", "tui"),
		st:        store.State(),
		buffer:    NewStreamingBufferWithConfig(defaultBatchSize, opts.MaxFPS),
		optimizer: NewViewportOptimizer(),
		md:        newMarkdown(opts),
		viewport:  viewport.New(80, 20),
		input:     ta,
		spinner:   sp,
		help:      help.New(),
	}
	m.cache = NewRenderCache(m.md.render)
	return m
}

// Buffer returns the streaming buffer to pass to Attach.
func (m Model) Buffer() *StreamingBuffer {
	return m.buffer
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init loads the conversation list.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, InitCmd(m.store))
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case StoreUpdateMsg:
		return m.handleStoreUpdate(msg)

	case StreamTickMsg:
		return m.handleStreamTick()

	case OpDoneMsg:
		return m.handleOpDone(msg)

	case ConfigReloadedMsg:
		return m.handleConfigReloaded(msg)

	case statusExpiredMsg:
		if msg.seq == m.statusSeq {
			m.status = ""
		}
		return m, nil

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

// =============================================================================
// MESSAGE HANDLERS
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.theme.SetSize(m.width, m.height)
	m.layout()
	return m, nil
}

// layout sizes the viewport and input from the window and re-renders.
func (m *Model) layout() {
	if m.width == 0 {
		return
	}
	const headerHeight = 1
	inputAreaHeight := m.input.Height() + 2
	m.help.Width = m.width
	statusHeight := lipgloss.Height(m.renderStatusBar())

	bodyHeight := m.height - headerHeight - inputAreaHeight - statusHeight
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	vpWidth := m.width - m.sidebarOuterWidth() - 1
	if vpWidth < 10 {
		vpWidth = 10
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = bodyHeight

	inputWidth := m.width - 4
	if inputWidth < 10 {
		inputWidth = 10
	}
	m.input.SetWidth(inputWidth)

	m.optimizer.Reset()
	m.refreshViewport(m.viewport.AtBottom())
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.store.CancelStream()
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.st.Streaming {
			m.store.CancelStream()
			return m, nil
		}
		if m.errMsg != "" {
			m.errMsg = ""
			m.refreshViewport(true)
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.New):
		return m, m.startOp("Creating conversation", CreateCmd(m.store, ""))

	case key.Matches(msg, m.keys.Delete):
		cur, ok := m.st.Current()
		if !ok {
			return m, m.setStatus("No conversation to delete")
		}
		return m, m.startOp("Deleting "+cur.GetTitle(), DeleteCmd(m.store, cur.ID))

	case key.Matches(msg, m.keys.Prev):
		return m.cycle(-1)

	case key.Matches(msg, m.keys.Next):
		return m.cycle(1)

	case key.Matches(msg, m.keys.Refresh):
		return m, m.startOp("Reloading", InitCmd(m.store))

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the input. Without a current conversation one is created first.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}

	if m.st.CurrentID == "" {
		m.input.Reset()
		return m, m.startOp("Starting conversation", CreateCmd(m.store, text))
	}

	if err := m.store.Send(m.st.CurrentID, text); err != nil {
		if status := sendStatus(err); status != "" {
			return m, m.setStatus(status)
		}
		m.errMsg = err.Error()
		m.refreshViewport(true)
		return m, nil
	}
	m.input.Reset()
	m.errMsg = ""
	return m, nil
}

// cycle switches to the conversation delta places away, wrapping around.
func (m Model) cycle(delta int) (tea.Model, tea.Cmd) {
	convs := m.st.Conversations
	if len(convs) == 0 {
		return m, nil
	}
	i := model.IndexOf(convs, m.st.CurrentID)
	if i < 0 {
		i = 0
	} else {
		i = ((i+delta)%len(convs) + len(convs)) % len(convs)
	}
	if convs[i].ID == m.st.CurrentID {
		return m, nil
	}
	return m, m.startOp("Loading "+convs[i].GetTitle(), SwitchCmd(m.store, convs[i].ID))
}

func (m Model) handleStoreUpdate(msg StoreUpdateMsg) (tea.Model, tea.Cmd) {
	u := msg.Update
	prevCurrent := m.st.CurrentID
	follow := m.viewport.AtBottom() || prevCurrent != u.State.CurrentID
	m.st = u.State
	m.logger.Debug("store update", "kind", u.Kind, "conversation", m.st.CurrentID)

	var cmds []tea.Cmd
	switch u.Kind {
	case chatstore.UpdateStreamStarted:
		m.streamText = ""
		m.errMsg = ""
		follow = true
		cmds = append(cmds, m.startTicking(), m.startSpinner())

	case chatstore.UpdateStreamCompleted:
		m.endStream()

	case chatstore.UpdateStreamFailed:
		m.endStream()
		m.errMsg = errorText(u)

	case chatstore.UpdateStreamCancelled:
		m.endStream()
		cmds = append(cmds, m.setStatus("Reply stopped"))

	case chatstore.UpdateError:
		m.errMsg = errorText(u)

	case chatstore.UpdateCurrent:
		if prevCurrent != m.st.CurrentID {
			m.errMsg = ""
		}
		if m.st.Loading {
			cmds = append(cmds, m.startSpinner())
		}
	}

	m.refreshViewport(follow)
	return m, tea.Batch(cmds...)
}

// handleStreamTick renders the newest streamed snapshot at the buffer's rate.
func (m Model) handleStreamTick() (tea.Model, tea.Cmd) {
	if !m.st.Streaming {
		m.ticking = false
		return m, nil
	}
	if text, ok := m.buffer.Flush(); ok {
		follow := m.viewport.AtBottom()
		m.streamText = text
		m.refreshViewport(follow)
	}
	return m, streamTickCmd(m.buffer.TickInterval())
}

func (m Model) handleOpDone(msg OpDoneMsg) (tea.Model, tea.Cmd) {
	m.pendingOp = ""
	if msg.Err != nil {
		m.logger.Debug("operation failed", "op", msg.Op, "error", msg.Err)
		if status := sendStatus(msg.Err); status != "" {
			return m, m.setStatus(status)
		}
		m.errMsg = msg.Err.Error()
		m.refreshViewport(true)
		return m, nil
	}

	switch msg.Op {
	case opCreate:
		return m, m.setStatus("New conversation")
	case opDelete:
		return m, m.setStatus("Conversation deleted")
	case opInit:
		if m.errMsg != "" {
			m.errMsg = ""
			m.refreshViewport(true)
		}
	}
	return m, nil
}

func (m Model) handleConfigReloaded(msg ConfigReloadedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		return m, m.setStatus("Config reload failed: " + msg.Err.Error())
	}
	ui := msg.UI
	if ui.Theme != m.opts.ThemeMode {
		m.opts.ThemeMode = ui.Theme
		m.theme = styles.NewTheme(ui.Theme)
		m.theme.SetSize(m.width, m.height)
		m.opts.Theme = m.theme
		m.spinner.Style = m.theme.Spinner
	}
	if ui.SidebarWidth > 0 {
		m.opts.SidebarWidth = ui.SidebarWidth
	}
	m.opts.MaxFPS = ui.MaxFPS
	m.buffer.SetMaxFPS(ui.MaxFPS)
	m.opts.GlamourStyle = ui.GlamourStyle
	m.opts.RenderMarkdown = ui.RenderMarkdown
	m.md = newMarkdown(m.opts)
	m.cache.SetRenderer(m.md.render)
	m.layout()
	return m, m.setStatus("Config reloaded")
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) startTicking() tea.Cmd {
	if m.ticking {
		return nil
	}
	m.ticking = true
	return streamTickCmd(m.buffer.TickInterval())
}

func (m *Model) startSpinner() tea.Cmd {
	if m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *Model) startOp(label string, cmd tea.Cmd) tea.Cmd {
	m.pendingOp = label
	return tea.Batch(cmd, m.startSpinner())
}

func (m *Model) endStream() {
	m.buffer.Reset()
	m.streamText = ""
}

func (m *Model) setStatus(s string) tea.Cmd {
	m.statusSeq++
	m.status = s
	return clearStatusCmd(m.statusSeq)
}

func (m Model) busy() bool {
	return m.st.Streaming || m.st.Loading || m.pendingOp != ""
}

// refreshViewport re-renders the transcript and, when follow is set,
// scrolls to the bottom.
func (m *Model) refreshViewport(follow bool) {
	content := m.renderTranscript(m.viewport.Width)
	if m.optimizer.ShouldUpdate(content) {
		m.viewport.SetContent(content)
	}
	if follow {
		m.viewport.GotoBottom()
	}
}

// sendStatus is the status line for a Send rejection that keeps the input,
// or "" when err is a real failure.
func sendStatus(err error) string {
	switch {
	case errors.Is(err, chatstore.ErrBusy):
		return "A reply is still streaming, press esc to stop it"
	case errors.Is(err, chatstore.ErrLoading):
		return "Messages are still loading, press enter again in a moment"
	}
	return ""
}

// errorText is the message shown for a failed update.
func errorText(u chatstore.Update) string {
	if u.Err != nil {
		return u.Err.Error()
	}
	if u.State.Err != "" {
		return u.State.Err
	}
	return "Something went wrong"
}
