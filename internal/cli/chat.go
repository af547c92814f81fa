// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line-mode chat for lmchat.
//
// Command: chat
// Short:   Chat from a plain terminal or a pipe
//
// Examples:
//   lmchat chat                        Chat in the first conversation
//   lmchat chat --new "Trip planning"  Start in a new conversation
//   echo "hello" | lmchat chat         One message per input line
//
// Interactive Commands:
//   /new [title]    Create a conversation and switch to it
//   /list           List conversations
//   /switch N       Switch to conversation N from /list
//   /delete N       Delete conversation N
//   /history        Show the current conversation
//   /cancel         Cancel the reply in progress
//   /help           Show commands
//   /quit           Exit (also Ctrl+D, "exit", "quit")
//   Ctrl+C          Cancel the reply in progress
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"

	"github.com/jeranaias/lmchat/internal/chatstore"
	"github.com/jeranaias/lmchat/internal/config"
	"github.com/jeranaias/lmchat/internal/logging"
	"github.com/jeranaias/lmchat/internal/model"
	"github.com/jeranaias/lmchat/internal/stream"
	"github.com/jeranaias/lmchat/internal/ui/styles"
	"github.com/jeranaias/lmchat/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// LineReader reads one line of user input.
type LineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a liner-backed reader with history loaded from the
// config directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with the given prompt. Non-empty lines join the history.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// plainReader reads lines from a non-terminal input without prompting.
type plainReader struct {
	scanner *bufio.Scanner
}

func newPlainReader(r io.Reader) *plainReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	return &plainReader{scanner: s}
}

func (p *plainReader) ReadInput(string) (string, error) {
	if p.scanner.Scan() {
		return p.scanner.Text(), nil
	}
	if err := p.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *plainReader) Close() {}

// =============================================================================
// REPL
// =============================================================================

// REPL is a line-mode client of the conversation store.
type REPL struct {
	store    *chatstore.Store
	in       LineReader
	out      io.Writer
	errOut   io.Writer
	markdown *glamour.TermRenderer
	prompt   string
}

// NewREPL creates a REPL over store. markdown may be nil for plain output.
func NewREPL(store *chatstore.Store, in LineReader, out, errOut io.Writer, markdown *glamour.TermRenderer) *REPL {
	return &REPL{
		store:    store,
		in:       in,
		out:      out,
		errOut:   errOut,
		markdown: markdown,
		prompt:   "> ",
	}
}

// HandleChat runs `lmchat chat`.
func HandleChat(args Args) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}

	logFile := cfg.Log.File
	if logFile == "" && !args.Verbose {
		logFile = config.DefaultLogPath()
	}
	closeLog := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: logFile})
	defer closeLog()

	store := NewChatStore(cfg, slog.Default())
	defer store.Close()

	var in LineReader
	var md *glamour.TermRenderer
	if IsTTY() {
		in = NewChatCLI()
	} else {
		in = newPlainReader(os.Stdin)
	}
	if IsStdoutTTY() && cfg.UI.RenderMarkdown {
		style := styles.MarkdownStyle(cfg.UI.GlamourStyle, cfg.UI.Theme, HasDarkBackground())
		md, _ = styles.NewMarkdownRenderer(style, GetTerminalWidth()-2)
	}

	repl := NewREPL(store, in, os.Stdout, os.Stderr, md)
	if IsTTY() {
		repl.prompt = PromptStyle.Render("you> ")
	} else {
		repl.prompt = ""
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Ctrl+C while a reply streams cancels the reply; liner handles it at the prompt.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for {
			select {
			case sig := <-sigChan:
				if store.CancelStream() {
					continue
				}
				if sig == syscall.SIGTERM {
					stop()
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := repl.Start(ctx, args.Raw); err != nil {
		in.Close()
		return err
	}
	return repl.Run(ctx)
}

// Start loads the conversation list and applies the chat flags
// (--new TITLE, --switch N). With no conversations one is created.
func (r *REPL) Start(ctx context.Context, raw []string) error {
	if err := r.store.Init(ctx); err != nil {
		return err
	}
	p := NewArgParser(raw)

	switch {
	case p.HasFlag("new"):
		title := p.Flag("new")
		if title == "" {
			title = JoinArgs(p.PositionalFrom(0))
		}
		if _, err := r.store.CreateConversation(ctx, title); err != nil {
			return err
		}
	case p.Flag("switch") != "":
		if err := r.switchTo(ctx, p.Flag("switch")); err != nil {
			return err
		}
	case len(r.store.State().Conversations) == 0:
		if _, err := r.store.CreateConversation(ctx, ""); err != nil {
			return err
		}
	}

	if cur, ok := r.store.State().Current(); ok && r.prompt != "" {
		fmt.Fprintf(r.out, "%s %s\n", TitleStyle.Render("lmchat"), DimStyle.Render("type /help for commands"))
		fmt.Fprintf(r.out, "%s %s\n\n", DimStyle.Render("Conversation:"), cur.GetTitle())
	}
	return nil
}

// Run reads input until EOF, /quit or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	defer r.in.Close()

	for ctx.Err() == nil {
		input, err := r.in.ReadInput(r.prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				if r.prompt != "" {
					fmt.Fprintln(r.out)
				}
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			if err != nil {
				r.printError(err)
			}
			if quit {
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}
		if err := r.send(ctx, input); err != nil {
			r.printError(err)
		}
	}
	return nil
}

// =============================================================================
// SENDING
// =============================================================================

// send streams one reply to out and returns when the session ends.
func (r *REPL) send(ctx context.Context, text string) error {
	st := r.store.State()
	if st.CurrentID == "" {
		return chatstore.ErrNoConversation
	}

	// The observer keeps the newest snapshot; progress only wakes the loop,
	// so a coalesced wake-up never loses text.
	var (
		mu     sync.Mutex
		latest string
	)
	snapshot := func() string {
		mu.Lock()
		defer mu.Unlock()
		return latest
	}
	progress := make(chan struct{}, 1)
	done := make(chan chatstore.Update, 1)
	unsubscribe := r.store.Subscribe(func(u chatstore.Update) {
		switch u.Kind {
		case chatstore.UpdateStreamProgress:
			mu.Lock()
			latest = u.State.StreamingText
			mu.Unlock()
			select {
			case progress <- struct{}{}:
			default:
			}
		case chatstore.UpdateStreamCompleted, chatstore.UpdateStreamFailed, chatstore.UpdateStreamCancelled:
			select {
			case done <- u:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := r.store.Send(st.CurrentID, text); err != nil {
		return err
	}
	if r.prompt != "" {
		fmt.Fprintf(r.out, "%s ", AssistantStyle.Render("assistant>"))
	}

	printed := 0
	emit := func(full string) {
		if len(full) > printed {
			io.WriteString(r.out, full[printed:])
			printed = len(full)
		}
	}

	for {
		select {
		case <-progress:
			emit(snapshot())

		case u := <-done:
			emit(snapshot())
			switch u.Kind {
			case chatstore.UpdateStreamCompleted:
				if n := len(u.State.Messages); n > 0 && u.State.Messages[n-1].Role == model.RoleAssistant {
					emit(u.State.Messages[n-1].Content)
				}
				fmt.Fprintln(r.out)
				return nil
			case chatstore.UpdateStreamCancelled:
				fmt.Fprintln(r.out)
				fmt.Fprintln(r.errOut, WarningStyle.Render("[Cancelled]"))
				return nil
			default:
				var se *stream.Error
				if errors.As(u.Err, &se) {
					emit(se.Partial)
				}
				fmt.Fprintln(r.out)
				return u.Err
			}

		case <-ctx.Done():
			r.store.CancelStream()
			return ctx.Err()
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// command runs a slash command and reports whether the REPL should exit.
func (r *REPL) command(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	name := strings.ToLower(fields[0])
	rest := JoinArgs(fields[1:])

	switch name {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h", "/?":
		r.printHelp()

	case "/new", "/n":
		conv, err := r.store.CreateConversation(ctx, rest)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Created"), conv.GetTitle())

	case "/list", "/ls", "/l":
		r.printList()

	case "/switch", "/s":
		if rest == "" {
			return false, ErrMissingArgument("conversation number", "/switch 2")
		}
		if err := r.switchTo(ctx, rest); err != nil {
			return false, err
		}
		if cur, ok := r.store.State().Current(); ok {
			fmt.Fprintf(r.out, "%s %s\n", DimStyle.Render("Conversation:"), cur.GetTitle())
		}

	case "/delete", "/d":
		if rest == "" {
			return false, ErrMissingArgument("conversation number", "/delete 2")
		}
		conv, err := r.pick(rest)
		if err != nil {
			return false, err
		}
		if err := r.store.DeleteConversation(ctx, conv.ID); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Deleted"), conv.GetTitle())

	case "/history", "/hist":
		r.printHistory()

	case "/cancel", "/c":
		if r.store.CancelStream() {
			fmt.Fprintln(r.errOut, WarningStyle.Render("[Cancelled]"))
		} else {
			fmt.Fprintln(r.out, DimStyle.Render("Nothing to cancel"))
		}

	default:
		return false, NewValidationError("command", fields[0], "unknown command, try /help")
	}
	return false, nil
}

// pick resolves a 1-based /list position.
func (r *REPL) pick(arg string) (model.Conversation, error) {
	n, err := ParseIntWithValidation(arg, "conversation number")
	if err != nil {
		return model.Conversation{}, &ValidationError{Field: "conversation number", Value: arg, Reason: "must be a positive integer"}
	}
	convs := r.store.State().Conversations
	if n > len(convs) {
		return model.Conversation{}, &ValidationError{
			Field:  "conversation number",
			Value:  arg,
			Reason: fmt.Sprintf("there are %d conversations", len(convs)),
		}
	}
	return convs[n-1], nil
}

func (r *REPL) switchTo(ctx context.Context, arg string) error {
	conv, err := r.pick(arg)
	if err != nil {
		return err
	}
	return r.store.SwitchConversation(ctx, conv.ID)
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	rows := [][2]string{
		{"/new [title]", "Create a conversation and switch to it"},
		{"/list", "List conversations"},
		{"/switch N", "Switch to conversation N"},
		{"/delete N", "Delete conversation N"},
		{"/history", "Show the current conversation"},
		{"/cancel", "Cancel the reply in progress (or Ctrl+C)"},
		{"/quit", "Exit (or Ctrl+D)"},
	}
	for _, row := range rows {
		fmt.Fprintf(r.out, "  %s%s\n", RenderLabel(row[0]), row[1])
	}
}

func (r *REPL) printList() {
	st := r.store.State()
	if len(st.Conversations) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No conversations"))
		return
	}
	writeConversationList(r.out, st.Conversations, st.CurrentID)
}

// writeConversationList prints numbered conversations, marking current.
func writeConversationList(w io.Writer, convs []model.Conversation, current string) {
	width := len(fmt.Sprint(len(convs)))
	for i, c := range convs {
		marker := " "
		title := util.TruncateWidth(util.SingleLine(c.GetTitle()), 48)
		if c.ID == current {
			marker = "*"
			title = CurrentStyle.Render(title)
		}
		fmt.Fprintf(w, "%s %*d  %s %s\n", marker, width, i+1, title,
			DimStyle.Render(fmt.Sprintf("(%d messages)", c.MessageCount)))
	}
}

func (r *REPL) printHistory() {
	st := r.store.State()
	if len(st.Messages) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No messages yet"))
		return
	}
	for _, m := range st.Messages {
		label := PromptStyle.Render(m.Role.DisplayName() + ":")
		if m.Role == model.RoleAssistant {
			label = AssistantStyle.Render(m.Role.DisplayName() + ":")
		}
		fmt.Fprintln(r.out, label)
		fmt.Fprintln(r.out, r.render(m))
	}
}

// render formats a message body; assistant replies go through glamour.
func (r *REPL) render(m model.Message) string {
	if r.markdown != nil && m.Role == model.RoleAssistant {
		return strings.TrimRight(styles.RenderMarkdown(r.markdown, m.Content), "\n")
	}
	return WrapText(m.Content, GetTerminalWidth())
}

func (r *REPL) printError(err error) {
	if errors.Is(err, chatstore.ErrBusy) || errors.Is(err, chatstore.ErrLoading) {
		fmt.Fprintf(r.errOut, "%s %v, try again in a moment\n", WarningStyle.Render("Not sent:"), err)
		return
	}
	DisplayError(r.errOut, err)
}

// JoinArgs joins words with single spaces.
func JoinArgs(words []string) string {
	return strings.Join(words, " ")
}
