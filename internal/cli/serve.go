// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Backend server command for lmchat.
//
// Command: serve
// Short:   Run the chat backend in front of an OpenAI-compatible model server
//
// Examples:
//   lmchat serve
//   lmchat serve --addr 0.0.0.0:8000 --storage sqlite
//   lmchat serve --upstream http://localhost:1234/v1 --model qwen2.5-7b-instruct
//
// Flags:
//   --addr ADDR         Listen address (server.addr)
//   --storage NAME      memory, file, sqlite or postgres (server.storage)
//   --upstream URL      Model server base URL (upstream.base_url)
//   --model NAME        Model name sent upstream (upstream.model)
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/lmchat/internal/config"
	"github.com/jeranaias/lmchat/internal/llm"
	"github.com/jeranaias/lmchat/internal/logging"
	"github.com/jeranaias/lmchat/internal/server"
	"github.com/jeranaias/lmchat/internal/storage"
)

// HandleServe runs `lmchat serve` until SIGINT or SIGTERM.
func HandleServe(args Args) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cfg, args.Raw); err != nil {
		return err
	}

	closeLog := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runServer(ctx, cfg, slog.Default())
}

// applyServeFlags copies command-line overrides into cfg.
func applyServeFlags(cfg *config.Config, raw []string) error {
	p := NewArgParser(raw)
	overrides := []struct {
		flag  string
		field *string
	}{
		{"addr", &cfg.Server.Addr},
		{"storage", &cfg.Server.Storage},
		{"upstream", &cfg.Upstream.BaseURL},
		{"model", &cfg.Upstream.Model},
	}
	for _, o := range overrides {
		if v := p.Flag(o.flag); v != "" {
			*o.field = v
		}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return NewCommandError("config", "validate", "serve flags", err)
	}
	return nil
}

// runServer opens storage, builds the upstream client and serves until ctx
// is done.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := storage.Open(ctx, storage.Options{
		Backend:     cfg.Server.Storage,
		DataDir:     cfg.Server.DataDir,
		SQLitePath:  cfg.Server.SQLitePath,
		PostgresDSN: cfg.Server.PostgresDSN,
	})
	if err != nil {
		return NewCommandError("serve", "open storage", cfg.Server.Storage, err)
	}
	defer store.Close()

	upstream := llm.NewClient(llm.Config{
		BaseURL:     cfg.Upstream.BaseURL,
		APIKey:      cfg.Upstream.APIKey,
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		MaxTokens:   cfg.Upstream.MaxTokens,
		Timeout:     cfg.Upstream.Timeout(),
	})

	srv := server.New(store, upstream, server.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Logger:         logger,
	})

	logger.Info("starting lmchat server",
		"addr", cfg.Server.Addr,
		"storage", cfg.Server.Storage,
		"upstream", upstream.BaseURL(),
		"model", upstream.Model(),
		"version", Version)
	fmt.Fprintf(os.Stderr, "%s listening on http://%s (storage: %s, upstream: %s)\n",
		SuccessStyle.Render("lmchat serve"), cfg.Server.Addr, cfg.Server.Storage, upstream.BaseURL())

	if err := srv.Run(ctx); err != nil {
		return NewCommandError("serve", "run", cfg.Server.Addr, err)
	}
	st := srv.Stats().Snapshot()
	logger.Info("server stopped", "requests", st.Requests, "streams_completed", st.StreamsFinished, "streams_failed", st.StreamsFailed)
	return nil
}
