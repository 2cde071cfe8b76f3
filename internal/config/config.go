// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/keocheung/AnnaTranslator/internal/replace"
	"github.com/keocheung/AnnaTranslator/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// AppDirName is the per-user directory under os.UserConfigDir.
	AppDirName = "AnnaTranslator"

	// DictionaryDirName holds user-supplied tokenizer dictionaries.
	DictionaryDirName = "dictionary"

	// DefaultPort is the loopback HTTP port.
	DefaultPort = 17889

	// DefaultMaxBodyBytes is the request body limit (1MB).
	DefaultMaxBodyBytes = 1 << 20

	// DefaultRateLimitPerMinute is the per-client HTTP request budget.
	DefaultRateLimitPerMinute = 600
)

// Environment variables read by ApplyEnvOverrides.
const (
	EnvPort         = "TRANSLATOR_PORT"
	EnvDataDir      = "ANNA_DATA_DIR"
	EnvLogLevel     = "ANNA_LOG_LEVEL"
	EnvOpenAICompat = "ANNA_OPENAI_COMPAT"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete daemon configuration.
type Config struct {
	// DataDir holds the cache database and dictionaries. Empty means
	// <UserConfigDir>/AnnaTranslator.
	DataDir string `toml:"data_dir" json:"data_dir" yaml:"data_dir"`

	Server    ServerConfig    `toml:"server" json:"server" yaml:"server"`
	Clipboard ClipboardConfig `toml:"clipboard" json:"clipboard" yaml:"clipboard"`
	Furigana  FuriganaConfig  `toml:"furigana" json:"furigana" yaml:"furigana"`
	Cache     CacheConfig     `toml:"cache" json:"cache" yaml:"cache"`
	Logging   LoggingConfig   `toml:"logging" json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Replacements are the rewrite rules installed at startup and on reload.
	Replacements []replace.RuleSpec `toml:"replacements" json:"replacements" yaml:"replacements"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `toml:"port" json:"port" yaml:"port"`

	// SubmitFormat is how /submit bodies are read: auto, raw or json.
	SubmitFormat string `toml:"submit_format" json:"submit_format" yaml:"submit_format"`

	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes" yaml:"max_body_bytes"`

	// OpenAICompatibleInput is the initial state of the chat-completions gate.
	OpenAICompatibleInput bool `toml:"openai_compatible_input" json:"openai_compatible_input" yaml:"openai_compatible_input"`

	// RateLimitPerMinute is the per-client budget; 0 disables limiting.
	RateLimitPerMinute int `toml:"rate_limit_per_minute" json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// ClipboardConfig configures the clipboard watcher.
type ClipboardConfig struct {
	Enabled             bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	IdlePollMs          int  `toml:"idle_poll_ms" json:"idle_poll_ms" yaml:"idle_poll_ms"`
	ActivePollMs        int  `toml:"active_poll_ms" json:"active_poll_ms" yaml:"active_poll_ms"`
	ResetDedupeOnEnable bool `toml:"reset_dedupe_on_enable" json:"reset_dedupe_on_enable" yaml:"reset_dedupe_on_enable"`
}

// FuriganaConfig configures the tokenizer.
type FuriganaConfig struct {
	// DictionaryPath is a kagome dictionary zip. Empty uses the embedded IPA
	// dictionary; a relative path resolves against <data_dir>/dictionary.
	DictionaryPath string `toml:"dictionary_path" json:"dictionary_path" yaml:"dictionary_path"`

	// Eager loads the tokenizer at startup instead of on first use.
	Eager bool `toml:"eager" json:"eager" yaml:"eager"`
}

// CacheConfig configures the translation cache.
type CacheConfig struct {
	// MemoSize is the in-memory LRU front; 0 (default) disables it. The memo
	// never re-reads the file, so only enable it when this process is the
	// cache's only writer (no `anna cache put`, no file removal).
	MemoSize int `toml:"memo_size" json:"memo_size" yaml:"memo_size"`

	// MaxConcurrent bounds simultaneous database operations.
	MaxConcurrent int `toml:"max_concurrent" json:"max_concurrent" yaml:"max_concurrent"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `toml:"level" json:"level" yaml:"level"`
	JSON  bool   `toml:"json" json:"json" yaml:"json"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               DefaultPort,
			SubmitFormat:       "auto",
			MaxBodyBytes:       DefaultMaxBodyBytes,
			RateLimitPerMinute: DefaultRateLimitPerMinute,
		},
		Clipboard: ClipboardConfig{
			IdlePollMs:   500,
			ActivePollMs: 1500,
		},
		Cache: CacheConfig{
			MaxConcurrent: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// IdlePoll returns the clipboard idle delay.
func (c *ClipboardConfig) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollMs) * time.Millisecond
}

// ActivePoll returns the clipboard read interval.
func (c *ClipboardConfig) ActivePoll() time.Duration {
	return time.Duration(c.ActivePollMs) * time.Millisecond
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// ConfigDir returns <UserConfigDir>/AnnaTranslator.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(base, AppDirName), nil
}

// ConfigPathTOML returns the path to the default TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// FindConfigFile returns the first config file present in ConfigDir, or "".
func FindConfigFile() string {
	dir, err := ConfigDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"config.toml", "config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(dir, name)
		if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// ResolvedDataDir returns DataDir, or ConfigDir when it is empty.
func (c *Config) ResolvedDataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return ConfigDir()
}

// ResolvedDictionaryPath returns the dictionary file to load, or "" for the
// embedded dictionary.
func (c *Config) ResolvedDictionaryPath() (string, error) {
	p := c.Furigana.DictionaryPath
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := c.ResolvedDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DictionaryDirName, p), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads config.toml, config.yaml or config.json from ConfigDir (first
// one found). With no file present the defaults are used. Environment
// overrides are applied last.
func Load() (*Config, error) {
	if path := FindConfigFile(); path != "" {
		return LoadFromPath(path)
	}

	cfg := Default()
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a file; the format follows the
// extension (.json, .yaml/.yml, anything else TOML).
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish applies env overrides, migration, defaults and validation.
func finish(cfg *Config) error {
	cfg.ApplyEnvOverrides()
	if err := cfg.Migrate(); err != nil {
		return fmt.Errorf("config migration failed: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadYAML decodes a YAML file over cfg.
func LoadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes cfg as TOML with a header comment, atomically and with
// 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	err := util.WriteFileAtomic(path, 0o600, func(w io.Writer) error {
		if _, err := io.WriteString(w, "# AnnaTranslator configuration file\n# Reloaded automatically while `anna serve` runs\n\n"); err != nil {
			return err
		}
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		return nil
	})
	if err != nil {
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

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate returns a ValidateErrors listing every invalid field, or nil.
// Rewrite rules are not checked here; a bad pattern is skipped at install.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("must be 1-65535, got %d", c.Server.Port),
		})
	}

	validFormats := map[string]bool{"auto": true, "raw": true, "json": true}
	if !validFormats[c.Server.SubmitFormat] {
		errs = append(errs, ValidationError{
			Field:   "server.submit_format",
			Message: fmt.Sprintf("invalid format '%s', must be one of: auto, raw, json", c.Server.SubmitFormat),
		})
	}

	if c.Server.MaxBodyBytes < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_bytes",
			Message: "must be positive",
		})
	}

	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: "must be non-negative (0 disables)",
		})
	}

	if c.Clipboard.IdlePollMs < 10 {
		errs = append(errs, ValidationError{
			Field:   "clipboard.idle_poll_ms",
			Message: fmt.Sprintf("must be at least 10, got %d", c.Clipboard.IdlePollMs),
		})
	}
	if c.Clipboard.ActivePollMs < 10 {
		errs = append(errs, ValidationError{
			Field:   "clipboard.active_poll_ms",
			Message: fmt.Sprintf("must be at least 10, got %d", c.Clipboard.ActivePollMs),
		})
	}

	if c.Cache.MemoSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.memo_size",
			Message: "must be non-negative (0 disables)",
		})
	}
	if c.Cache.MaxConcurrent < 1 || c.Cache.MaxConcurrent > 64 {
		errs = append(errs, ValidationError{
			Field:   "cache.max_concurrent",
			Message: fmt.Sprintf("must be 1-64, got %d", c.Cache.MaxConcurrent),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero-value fields with defaults. Booleans are left alone.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
	}
	if c.Server.SubmitFormat == "" {
		c.Server.SubmitFormat = defaults.Server.SubmitFormat
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}

	if c.Clipboard.IdlePollMs == 0 {
		c.Clipboard.IdlePollMs = defaults.Clipboard.IdlePollMs
	}
	if c.Clipboard.ActivePollMs == 0 {
		c.Clipboard.ActivePollMs = defaults.Clipboard.ActivePollMs
	}

	if c.Cache.MaxConcurrent == 0 {
		c.Cache.MaxConcurrent = defaults.Cache.MaxConcurrent
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
}

// Migrate normalizes spellings accepted from older or hand-written files.
func (c *Config) Migrate() error {
	c.Server.SubmitFormat = strings.ToLower(strings.TrimSpace(c.Server.SubmitFormat))
	if c.Server.SubmitFormat == "text" || c.Server.SubmitFormat == "plain" {
		c.Server.SubmitFormat = "raw"
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - TRANSLATOR_PORT: overrides server.port (ignored unless a valid port)
//   - ANNA_DATA_DIR: overrides data_dir
//   - ANNA_LOG_LEVEL: overrides logging.level
//   - ANNA_OPENAI_COMPAT: "1" or "true" enables server.openai_compatible_input
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.ParseUint(strings.TrimSpace(v), 10, 16); err == nil && port > 0 {
			c.Server.Port = int(port)
		}
	}

	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.DataDir = dir
	}

	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = level
	}

	if compat := os.Getenv(EnvOpenAICompat); compat != "" {
		c.Server.OpenAICompatibleInput = compat == "1" || strings.EqualFold(compat, "true")
	}
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access. A load failure falls back to defaults.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
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
