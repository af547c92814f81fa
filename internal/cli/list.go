// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// list.go - Conversation listing for lmchat.
//
// Command: list
// Short:   Print the backend's conversations
// Aliases: ls
//
// Flags:
//   --json   Print the raw conversation objects
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jeranaias/lmchat/internal/api"
	"github.com/jeranaias/lmchat/internal/logging"
)

// HandleList runs `lmchat list`.
func HandleList(args Args) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	closeLog := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.RequestTimeout())
	defer cancel()

	p := NewArgParser(args.Raw, "json")
	return runList(ctx, NewAPIClient(cfg, slog.Default()), os.Stdout, p.BoolFlag("json"))
}

func runList(ctx context.Context, client *api.Client, out io.Writer, asJSON bool) error {
	convs, err := client.ListConversations(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(convs)
	}
	if len(convs) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No conversations"))
		return nil
	}
	writeConversationList(out, convs, "")
	return nil
}
