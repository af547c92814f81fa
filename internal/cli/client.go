// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"log/slog"

	"github.com/jeranaias/lmchat/internal/api"
	"github.com/jeranaias/lmchat/internal/chatstore"
	"github.com/jeranaias/lmchat/internal/config"
	"github.com/jeranaias/lmchat/internal/sse"
)

// NewAPIClient builds the backend client from the [client] section.
func NewAPIClient(cfg *config.Config, logger *slog.Logger) *api.Client {
	return api.NewClient(api.Config{
		BaseURL:           cfg.Client.APIURL,
		Timeout:           cfg.Client.RequestTimeout(),
		RequestsPerSecond: cfg.Client.RequestsPerSecond,
		Burst:             cfg.Client.Burst,
		Logger:            logger,
	})
}

// NewChatStore builds a conversation store over a fresh backend client.
func NewChatStore(cfg *config.Config, logger *slog.Logger) *chatstore.Store {
	if logger == nil {
		logger = slog.Default()
	}
	return chatstore.New(NewAPIClient(cfg, logger), chatstore.Options{
		IdleTimeout: cfg.Client.StreamIdleTimeout(),
		MaxLineSize: cfg.Client.MaxRecordBytes,
		Logger:      logger,
		OnDecodeError: func(e *sse.DecodeError) {
			logger.Debug("skipped stream record", "error", e)
		},
	})
}
