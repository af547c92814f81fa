// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing, usage text and shared setup for lmchat.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/jeranaias/lmchat/internal/config"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdChat
	CmdServe
	CmdList
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	APIURL     string
	Verbose    bool

	// Subcommand is the first argument after the command, if any.
	Subcommand string

	// Raw args (remaining after the command word)
	Raw []string
}

const usageText = `lmchat - chat with a local language model from the terminal

Usage:
  lmchat                       Start the TUI (default)
  lmchat tui                   Start the TUI
  lmchat chat                  Line-mode chat (works over pipes)
  lmchat serve [--addr ADDR]   Run the chat backend
  lmchat list, ls              List conversations
  lmchat config [show|get|set|keys|path]
                               Inspect or change configuration
  lmchat version               Show version information

Global flags:
  --config PATH                Config file (default ~/.lmchat/config.toml)
  --api URL                    Backend URL (overrides client.api_url)
  -v, --verbose                Debug logging

Chat commands:
  /new [title]   /list   /switch N   /delete N
  /history       /cancel /help       /quit

Environment:
  LMCHAT_API_URL, LMCHAT_ADDR, LMCHAT_STORAGE, LMCHAT_DB_PATH,
  LMCHAT_DATA_DIR, LMCHAT_POSTGRES_DSN, LMCHAT_UPSTREAM_URL,
  LMCHAT_UPSTREAM_MODEL, LMCHAT_UPSTREAM_API_KEY, LMCHAT_LOG_LEVEL

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "lmchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name) and returns the command
// and its arguments.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsed := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdTUI, parsed
	}

	cmd := strings.ToLower(remaining[0])
	parsed.Raw = remaining[1:]
	if len(parsed.Raw) > 0 && !strings.HasPrefix(parsed.Raw[0], "-") {
		parsed.Subcommand = parsed.Raw[0]
	}

	switch cmd {
	case "tui":
		return CmdTUI, parsed
	case "chat", "repl":
		return CmdChat, parsed
	case "serve", "server":
		return CmdServe, parsed
	case "list", "ls":
		return CmdList, parsed
	case "config":
		return CmdConfig, parsed
	case "version", "--version":
		return CmdVersion, parsed
	case "help", "-h", "--help":
		parsed.Raw = nil
		return CmdHelp, parsed
	default:
		parsed.Raw = remaining
		parsed.Subcommand = ""
		return CmdHelp, parsed
	}
}

// parseGlobalFlags extracts global flags from args and returns the rest.
// Global flags may appear anywhere on the command line.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsed Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "-v" || arg == "--verbose":
			parsed.Verbose = true
		case arg == "--config" && i+1 < len(args):
			i++
			parsed.ConfigPath = args[i]
		case strings.HasPrefix(arg, "--config="):
			parsed.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--api" && i+1 < len(args):
			i++
			parsed.APIURL = args[i]
		case strings.HasPrefix(arg, "--api="):
			parsed.APIURL = strings.TrimPrefix(arg, "--api=")
		default:
			remaining = append(remaining, arg)
		}
	}
	return remaining, parsed
}

// =============================================================================
// SHARED SETUP
// =============================================================================

// LoadConfig loads the configuration selected by args and applies the
// global flag overrides. A config file that fails to parse is reported as a
// warning and the defaults are used.
func LoadConfig(args Args) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
		if err != nil {
			return nil, NewCommandError("config", "load", args.ConfigPath, err)
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return nil, NewCommandError("config", "load", "default path", err)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s %v (using defaults)\n", WarningStyle.Render("Warning:"), err)
		}
	}

	if args.APIURL != "" {
		cfg.Client.APIURL = args.APIURL
	}
	if args.Verbose {
		cfg.Log.Level = "debug"
	}
	config.SetGlobal(cfg)
	return cfg, nil
}

// HandleHelp prints usage. For an unknown command the usage goes to stderr and
// the returned error is displayed by the caller.
func HandleHelp(args Args) error {
	if len(args.Raw) > 0 {
		PrintUsage(os.Stderr)
		return &ValidationError{Field: "command", Value: args.Raw[0], Reason: "unknown command"}
	}
	PrintUsage(os.Stdout)
	return nil
}

// HandleVersion prints version information.
func HandleVersion() {
	PrintVersion(os.Stdout)
}
