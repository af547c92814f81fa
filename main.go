// lmchat - chat with a local language model from the terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/lmchat/internal/cli"
	"github.com/jeranaias/lmchat/internal/config"
	"github.com/jeranaias/lmchat/internal/logging"
	"github.com/jeranaias/lmchat/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdTUI:
		err = runTUI(args)
	case cli.CmdChat:
		err = cli.HandleChat(args)
	case cli.CmdServe:
		err = cli.HandleServe(args)
	case cli.CmdList:
		err = cli.HandleList(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdVersion:
		cli.HandleVersion()
	case cli.CmdHelp:
		err = cli.HandleHelp(args)
	}

	if err != nil {
		cli.DisplayError(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

// =============================================================================
// TUI
// =============================================================================

// runTUI starts the full-screen chat view. Logs go to a file so they never
// draw over the screen.
func runTUI(args cli.Args) error {
	cfg, err := cli.LoadConfig(args)
	if err != nil {
		return err
	}

	logFile := cfg.Log.File
	if logFile == "" {
		logFile = config.DefaultLogPath()
	}
	closeLog := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: logFile})
	defer closeLog()
	logger := slog.Default().With("component", "tui")

	store := cli.NewChatStore(cfg, logger)
	defer store.Close()

	opts := chat.OptionsFromConfig(cfg)
	opts.Logger = logger
	m := chat.New(store, opts)

	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	bridge := chat.Attach(store, m.Buffer(), p.Send)
	defer bridge.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only an existing file is watched; defaults have nothing to reload.
	if path := cli.ConfigPath(args); fileExists(path) {
		watcher, err := chat.WatchConfig(ctx, path, p.Send)
		if err != nil {
			logger.Warn("config watch disabled", "path", path, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	logger.Info("starting tui", "api_url", cfg.Client.APIURL)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running lmchat: %w", err)
	}
	store.CancelStream()
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
