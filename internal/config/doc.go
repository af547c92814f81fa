// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for lmchat.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, validation and file watching.
//
// Configuration file locations (in order of precedence):
//   - ~/.lmchat/config.toml
//   - ~/.lmchat/config.json
//   - Built-in defaults
package config
