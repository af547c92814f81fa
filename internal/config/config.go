// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/lmchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete lmchat configuration.
type Config struct {
	Client   ClientConfig   `toml:"client" json:"client"`
	Server   ServerConfig   `toml:"server" json:"server"`
	Upstream UpstreamConfig `toml:"upstream" json:"upstream"`
	UI       UIConfig       `toml:"ui" json:"ui"`
	Log      LogConfig      `toml:"log" json:"log"`
}

// ClientConfig configures the terminal clients' connection to the backend.
type ClientConfig struct {
	// APIURL is the backend base URL
	APIURL string `toml:"api_url" json:"api_url"`
	// RequestTimeoutSecs bounds REST calls
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
	// StreamIdleTimeoutSecs fails a reply when no data arrives for this long.
	// Negative disables the timer.
	StreamIdleTimeoutSecs int `toml:"stream_idle_timeout_secs" json:"stream_idle_timeout_secs"`
	// MaxRecordBytes caps one stream record (0 = 16 MiB, negative = unlimited)
	MaxRecordBytes int `toml:"max_record_bytes" json:"max_record_bytes"`
	// RequestsPerSecond limits outbound calls (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
	// Burst is the limiter burst size
	Burst int `toml:"burst" json:"burst"`
}

// ServerConfig configures `lmchat serve`.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
	// Storage selects the backend: "memory", "file", "sqlite" or "postgres"
	Storage     string `toml:"storage" json:"storage"`
	DataDir     string `toml:"data_dir" json:"data_dir"`
	SQLitePath  string `toml:"sqlite_path" json:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn" json:"postgres_dsn"`
	// AllowedOrigins for CORS
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// RateLimitRPS is the per-IP request rate (0 = unlimited)
	RateLimitRPS   float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// UpstreamConfig configures the OpenAI-compatible model server (LM Studio).
type UpstreamConfig struct {
	BaseURL     string  `toml:"base_url" json:"base_url"`
	APIKey      string  `toml:"api_key" json:"api_key"`
	Model       string  `toml:"model" json:"model"`
	Temperature float64 `toml:"temperature" json:"temperature"`
	MaxTokens   int     `toml:"max_tokens" json:"max_tokens"`
	TimeoutSecs int     `toml:"timeout_secs" json:"timeout_secs"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is "dark", "light" or "auto"
	Theme string `toml:"theme" json:"theme"`
	// GlamourStyle names the markdown style; empty follows Theme
	GlamourStyle string `toml:"glamour_style" json:"glamour_style"`
	SidebarWidth int    `toml:"sidebar_width" json:"sidebar_width"`
	MaxFPS       int    `toml:"max_fps" json:"max_fps"`
	// RenderMarkdown toggles glamour rendering of assistant replies
	RenderMarkdown bool `toml:"render_markdown" json:"render_markdown"`
}

// LogConfig configures log/slog.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error"
	Level string `toml:"level" json:"level"`
	// Format is "text" or "json"
	Format string `toml:"format" json:"format"`
	// File receives logs; empty means stderr for the server and
	// ~/.lmchat/lmchat.log for the TUI
	File string `toml:"file" json:"file"`
}

// RequestTimeout returns the REST timeout.
func (c ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// StreamIdleTimeout returns the idle timeout; zero when disabled.
func (c ClientConfig) StreamIdleTimeout() time.Duration {
	if c.StreamIdleTimeoutSecs < 0 {
		return 0
	}
	return time.Duration(c.StreamIdleTimeoutSecs) * time.Second
}

// Timeout returns the upstream request timeout.
func (c UpstreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL:                "http://localhost:8000",
			RequestTimeoutSecs:    30,
			StreamIdleTimeoutSecs: 60,
			RequestsPerSecond:     0,
			Burst:                 5,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8000",
			Storage:        "memory",
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Upstream: UpstreamConfig{
			BaseURL:     "http://localhost:1234/v1",
			APIKey:      "lm-studio",
			Model:       "local-model",
			Temperature: 0.7,
			MaxTokens:   2000,
			TimeoutSecs: 300,
		},
		UI: UIConfig{
			Theme:          "auto",
			SidebarWidth:   28,
			MaxFPS:         30,
			RenderMarkdown: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the lmchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".lmchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultSQLitePath returns ~/.lmchat/lmchat.db.
func DefaultSQLitePath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "lmchat.db"
	}
	return filepath.Join(dir, "lmchat.db")
}

// DefaultDataDir returns ~/.lmchat/conversations.
func DefaultDataDir() string {
	dir, err := ConfigDir()
	if err != nil {
		return "conversations"
	}
	return filepath.Join(dir, "conversations")
}

// DefaultLogPath returns ~/.lmchat/lmchat.log.
func DefaultLogPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return "lmchat.log"
	}
	return filepath.Join(dir, "lmchat.log")
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens a config file that may hold an API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load loads configuration from the default locations. TOML takes
// precedence over JSON; without either file the defaults are used. A file
// that fails to parse is reported alongside the defaults.
func Load() (*Config, error) {
	var loadErr error

	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		if loadErr == nil {
			loadErr = err
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON loads configuration from a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from a specific file path. The format is
// chosen by extension; anything but .json is read as TOML. Values missing
// from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero-value fields that have no meaningful zero.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Client.APIURL == "" {
		c.Client.APIURL = d.Client.APIURL
	}
	if c.Client.RequestTimeoutSecs == 0 {
		c.Client.RequestTimeoutSecs = d.Client.RequestTimeoutSecs
	}
	if c.Client.Burst == 0 {
		c.Client.Burst = d.Client.Burst
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.Storage == "" {
		c.Server.Storage = d.Server.Storage
	}
	if c.Server.SQLitePath == "" && c.Server.Storage == "sqlite" {
		c.Server.SQLitePath = DefaultSQLitePath()
	}
	if c.Server.DataDir == "" && c.Server.Storage == "file" {
		c.Server.DataDir = DefaultDataDir()
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = d.Server.RateLimitBurst
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = d.Upstream.BaseURL
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = d.Upstream.Model
	}
	if c.Upstream.MaxTokens == 0 {
		c.Upstream.MaxTokens = d.Upstream.MaxTokens
	}
	if c.Upstream.TimeoutSecs == 0 {
		c.Upstream.TimeoutSecs = d.Upstream.TimeoutSecs
	}

	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.UI.SidebarWidth == 0 {
		c.UI.SidebarWidth = d.UI.SidebarWidth
	}
	if c.UI.MaxFPS == 0 {
		c.UI.MaxFPS = d.UI.MaxFPS
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to ~/.lmchat/config.toml.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg to path atomically with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# lmchat configuration file")
	fmt.Fprintln(&buf, "# Generated by lmchat - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg to path as indented JSON.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every validation failure.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	checkURL := func(field, raw string) {
		if raw == "" {
			return
		}
		u, err := url.Parse(raw)
		if err != nil {
			add(field, "invalid URL: %v", err)
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			add(field, "URL scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			add(field, "URL has no host")
		}
	}

	checkURL("client.api_url", c.Client.APIURL)
	checkURL("upstream.base_url", c.Upstream.BaseURL)

	if c.Client.RequestTimeoutSecs < 0 {
		add("client.request_timeout_secs", "must be non-negative, got %d", c.Client.RequestTimeoutSecs)
	}
	if c.Client.RequestsPerSecond < 0 {
		add("client.requests_per_second", "must be non-negative")
	}

	switch strings.ToLower(c.Server.Storage) {
	case "memory", "file", "sqlite":
	case "postgres":
		if c.Server.PostgresDSN == "" {
			add("server.postgres_dsn", "required when storage is postgres")
		}
	default:
		add("server.storage", "invalid storage '%s', must be one of: memory, file, sqlite, postgres", c.Server.Storage)
	}
	if c.Server.RateLimitRPS < 0 {
		add("server.rate_limit_rps", "must be non-negative")
	}

	if c.Upstream.Temperature < 0 || c.Upstream.Temperature > 2 {
		add("upstream.temperature", "must be between 0 and 2, got %g", c.Upstream.Temperature)
	}
	if c.Upstream.MaxTokens < 0 {
		add("upstream.max_tokens", "must be non-negative, got %d", c.Upstream.MaxTokens)
	}

	switch strings.ToLower(c.UI.Theme) {
	case "", "dark", "light", "auto":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme)
	}
	if c.UI.MaxFPS < 0 || c.UI.MaxFPS > 120 {
		add("ui.max_fps", "must be 0-120, got %d", c.UI.MaxFPS)
	}
	if c.UI.SidebarWidth < 0 {
		add("ui.sidebar_width", "must be non-negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level '%s'", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		add("log.format", "invalid format '%s', must be text or json", c.Log.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - LMCHAT_API_URL: overrides client.api_url
//   - LMCHAT_ADDR: overrides server.addr
//   - LMCHAT_STORAGE: overrides server.storage
//   - LMCHAT_DB_PATH: overrides server.sqlite_path
//   - LMCHAT_DATA_DIR: overrides server.data_dir
//   - LMCHAT_POSTGRES_DSN: overrides server.postgres_dsn
//   - LMCHAT_UPSTREAM_URL: overrides upstream.base_url
//   - LMCHAT_UPSTREAM_MODEL: overrides upstream.model
//   - LMCHAT_UPSTREAM_API_KEY: overrides upstream.api_key
//   - LMCHAT_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env   string
		field *string
	}{
		{"LMCHAT_API_URL", &c.Client.APIURL},
		{"LMCHAT_ADDR", &c.Server.Addr},
		{"LMCHAT_STORAGE", &c.Server.Storage},
		{"LMCHAT_DB_PATH", &c.Server.SQLitePath},
		{"LMCHAT_DATA_DIR", &c.Server.DataDir},
		{"LMCHAT_POSTGRES_DSN", &c.Server.PostgresDSN},
		{"LMCHAT_UPSTREAM_URL", &c.Upstream.BaseURL},
		{"LMCHAT_UPSTREAM_MODEL", &c.Upstream.Model},
		{"LMCHAT_UPSTREAM_API_KEY", &c.Upstream.APIKey},
		{"LMCHAT_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.field = v
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "client.api_url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct by toml tag.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i], "."))
		}
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// =============================================================================
// COPY / DISPLAY
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Server.AllowedOrigins != nil {
		clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	}
	return &clone
}

// String returns the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Upstream.APIKey != "" {
		safe.Upstream.APIKey = "[REDACTED]"
	}
	if safe.Server.PostgresDSN != "" {
		safe.Server.PostgresDSN = redactDSN(safe.Server.PostgresDSN)
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// redactDSN hides the password of a URL-form DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "[REDACTED]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
