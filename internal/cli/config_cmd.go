// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Config command implementation for lmchat.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Set a value in the config file
//   keys                List every key
//   path                Show the config file path
//
// Examples:
//   lmchat config
//   lmchat config show --json
//   lmchat config get client.api_url
//   lmchat config set upstream.model qwen2.5-7b-instruct
//   lmchat config set server.storage sqlite
//   lmchat --config ./dev.toml config set log.level debug
package cli

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/lmchat/internal/config"
)

// HandleConfig runs `lmchat config`.
func HandleConfig(args Args) error {
	return runConfig(args, os.Stdout)
}

func runConfig(args Args, out io.Writer) error {
	p := NewArgParser(args.Raw, "json")

	switch sub := p.Subcommand(); sub {
	case "", "show":
		cfg, err := LoadConfig(args)
		if err != nil {
			return err
		}
		if p.BoolFlag("json") {
			fmt.Fprintln(out, cfg.String())
			return nil
		}
		return showConfig(out, cfg, ConfigPath(args))

	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "lmchat config get client.api_url")
		}
		cfg, err := LoadConfig(args)
		if err != nil {
			return err
		}
		v, err := cfg.Get(key)
		if err != nil {
			return NewValidationError("key", key, "unknown key, see `lmchat config keys`")
		}
		fmt.Fprintln(out, maskIfSecret(key, formatValue(v)))
		return nil

	case "set":
		key, value := p.Positional(1), JoinArgs(p.PositionalFrom(2))
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("key and value", "lmchat config set upstream.model local-model")
		}
		return setConfig(out, ConfigPath(args), key, value)

	case "keys":
		for _, k := range config.GetAllKeys() {
			fmt.Fprintln(out, k)
		}
		return nil

	case "path":
		path := ConfigPath(args)
		fmt.Fprintln(out, path)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(os.Stderr, DimStyle.Render("(file does not exist; `lmchat config set` creates it)"))
		}
		return nil

	default:
		return NewValidationError("config subcommand", sub, "expected show, get, set, keys or path")
	}
}

// ConfigPath is the config file in use: the --config path, else the existing
// default TOML or JSON file. `config set` writes here and the TUI watches it.
func ConfigPath(args Args) string {
	if args.ConfigPath != "" {
		return args.ConfigPath
	}
	if path, err := config.ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return path
		}
		if jsonPath, err := config.ConfigPathJSON(); err == nil {
			if _, statErr := os.Stat(jsonPath); statErr == nil {
				return jsonPath
			}
		}
		return path
	}
	return "config.toml"
}

// setConfig updates one key in the file at path. Environment overrides are
// not applied so they never leak into the saved file.
func setConfig(out io.Writer, path, key, value string) error {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		load := config.LoadTOML
		if strings.HasSuffix(path, ".json") {
			load = config.LoadJSON
		}
		if err := load(cfg, path); err != nil {
			return NewCommandError("config", "set", "read "+path, err)
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return NewValidationError("key", key, err.Error())
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return NewCommandError("config", "set", "validate", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return NewCommandError("config", "set", "create config directory", err)
	}
	save := config.SaveTOML
	if strings.HasSuffix(path, ".json") {
		save = config.SaveJSON
	}
	if err := save(cfg, path); err != nil {
		return NewCommandError("config", "set", "write "+path, err)
	}

	fmt.Fprintf(out, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, maskIfSecret(key, value))
	return nil
}

// showConfig prints every key grouped by section.
func showConfig(out io.Writer, cfg *config.Config, path string) error {
	fmt.Fprintln(out, TitleStyle.Render("lmchat configuration"))
	fmt.Fprintln(out, RenderSeparator(41))

	section := ""
	for _, key := range config.GetAllKeys() {
		sec, name, _ := strings.Cut(key, ".")
		if sec != section {
			section = sec
			fmt.Fprintf(out, "\n%s\n", TitleStyle.Render("["+sec+"]"))
		}
		v, err := cfg.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s%s\n", RenderLabel(name+":"), ValueStyle.Render(maskIfSecret(key, formatValue(v))))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, RenderSeparator(41))
	fmt.Fprintf(out, "Config file: %s\n", path)
	return nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case []string:
		return strings.Join(x, ", ")
	case string:
		if x == "" {
			return "(not set)"
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// maskAPIKey shows a short SHA-256 fingerprint instead of the secret.
func maskAPIKey(key string) string {
	if key == "" || key == "(not set)" {
		return "(not set)"
	}
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x...", hash[:4])
}

// maskIfSecret masks the value if the key names a secret.
func maskIfSecret(key, value string) string {
	name := strings.ToLower(key[strings.LastIndex(key, ".")+1:])
	switch {
	case name == "api_key", strings.HasSuffix(name, "_dsn"),
		strings.Contains(name, "secret"), strings.Contains(name, "password"):
		return maskAPIKey(value)
	}
	return value
}
