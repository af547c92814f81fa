// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the lmchat command line: argument parsing, the
// line-mode chat REPL and the serve, list, config and version commands.
//
// # Key Types
//
//   - Command: enumeration of the available commands
//   - Args: parsed global flags plus the remaining arguments
//   - ArgParser: flag and positional parsing for a single command
//   - REPL: line-mode client of the conversation store
//
// # Usage
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdChat:
//	    err = cli.HandleChat(args)
//	case cli.CmdServe:
//	    err = cli.HandleServe(args)
//	// ... other commands
//	}
//
// Handlers return errors; the caller prints them with DisplayError and exits
// with GetExitCode.
package cli
