// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/keocheung/AnnaTranslator/internal/replace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// isolate points the user config dir at a temp directory and clears the
// override variables.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	for _, k := range []string{EnvPort, EnvDataDir, EnvLogLevel, EnvOpenAICompat} {
		t.Setenv(k, "")
	}
	return dir
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

// =============================================================================
// DEFAULTS AND LOADING
// =============================================================================

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 17889, cfg.Server.Port)
	assert.Equal(t, "auto", cfg.Server.SubmitFormat)
	assert.False(t, cfg.Server.OpenAICompatibleInput)
	assert.False(t, cfg.Clipboard.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Clipboard.IdlePoll())
	assert.Equal(t, 1500*time.Millisecond, cfg.Clipboard.ActivePoll())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Zero(t, cfg.Cache.MemoSize, "memo must be opt-in: other writers share the cache file")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_FindsTOMLInConfigDir(t *testing.T) {
	home := isolate(t)
	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, AppDirName), dir)

	writeFile(t, filepath.Join(dir, "config.toml"), "[server]\nport = 18000\n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 18000, cfg.Server.Port)
}

func TestLoadFromPath_Formats(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	files := map[string]string{
		"c.toml": `
data_dir = "/tmp/anna"

[server]
port = 18001
submit_format = "JSON"
openai_compatible_input = true

[clipboard]
enabled = true

[[replacements]]
pattern = "\\s+"
replacement = ""
flags = "x"
`,
		"c.yaml": `
data_dir: /tmp/anna
server:
  port: 18001
  submit_format: json
  openai_compatible_input: true
clipboard:
  enabled: true
replacements:
  - pattern: '\s+'
    replacement: ""
    flags: x
`,
		"c.json": `{
  "data_dir": "/tmp/anna",
  "server": {"port": 18001, "submit_format": "json", "openai_compatible_input": true},
  "clipboard": {"enabled": true},
  "replacements": [{"pattern": "\\s+", "replacement": "", "flags": "x"}]
}`,
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, body)

			cfg, err := LoadFromPath(path)
			require.NoError(t, err)
			assert.Equal(t, "/tmp/anna", cfg.DataDir)
			assert.Equal(t, 18001, cfg.Server.Port)
			assert.Equal(t, "json", cfg.Server.SubmitFormat)
			assert.True(t, cfg.Server.OpenAICompatibleInput)
			assert.True(t, cfg.Clipboard.Enabled)
			// Unset sections keep defaults.
			assert.Equal(t, 1500, cfg.Clipboard.ActivePollMs)
			assert.Equal(t, []replace.RuleSpec{{Pattern: `\s+`, Replacement: "", Flags: "x"}}, cfg.Replacements)
		})
	}
}

func TestLoadFromPath_Errors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	_, err := LoadFromPath(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[server\nport = ")
	_, err = LoadFromPath(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.toml")
	writeFile(t, invalid, "[server]\nport = 70000\n")
	_, err = LoadFromPath(invalid)
	require.Error(t, err)
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "server.port", verrs[0].Field)
}

// =============================================================================
// VALIDATION / MIGRATION
// =============================================================================

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port high", func(c *Config) { c.Server.Port = 65536 }, "server.port"},
		{"submit format", func(c *Config) { c.Server.SubmitFormat = "xml" }, "server.submit_format"},
		{"body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "server.max_body_bytes"},
		{"rate limit", func(c *Config) { c.Server.RateLimitPerMinute = -1 }, "server.rate_limit_per_minute"},
		{"idle poll", func(c *Config) { c.Clipboard.IdlePollMs = 5 }, "clipboard.idle_poll_ms"},
		{"active poll", func(c *Config) { c.Clipboard.ActivePollMs = 0 }, "clipboard.active_poll_ms"},
		{"memo", func(c *Config) { c.Cache.MemoSize = -1 }, "cache.memo_size"},
		{"concurrency", func(c *Config) { c.Cache.MaxConcurrent = 0 }, "cache.max_concurrent"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Logging.Level = "loud"

	var verrs ValidateErrors
	require.True(t, errors.As(cfg.Validate(), &verrs))
	assert.Len(t, verrs, 2)
}

func TestConfig_MigrateAndDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Server.SubmitFormat = " Plain "
	cfg.Logging.Level = "WARNING"

	require.NoError(t, cfg.Migrate())
	cfg.SetDefaults()

	assert.Equal(t, "raw", cfg.Server.SubmitFormat)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 4, cfg.Cache.MaxConcurrent)
	// Zero rate limit means disabled and is kept.
	assert.Equal(t, 0, cfg.Server.RateLimitPerMinute)
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)

	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, c *Config)
	}{
		{
			name:  "port",
			env:   map[string]string{EnvPort: "18123"},
			check: func(t *testing.T, c *Config) { assert.Equal(t, 18123, c.Server.Port) },
		},
		{
			name:  "invalid port ignored",
			env:   map[string]string{EnvPort: "not-a-port"},
			check: func(t *testing.T, c *Config) { assert.Equal(t, DefaultPort, c.Server.Port) },
		},
		{
			name:  "port out of range ignored",
			env:   map[string]string{EnvPort: "70000"},
			check: func(t *testing.T, c *Config) { assert.Equal(t, DefaultPort, c.Server.Port) },
		},
		{
			name:  "data dir and level",
			env:   map[string]string{EnvDataDir: "/srv/anna", EnvLogLevel: "debug"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "/srv/anna", c.DataDir)
				assert.Equal(t, "debug", c.Logging.Level)
			},
		},
		{
			name:  "openai compat",
			env:   map[string]string{EnvOpenAICompat: "TRUE"},
			check: func(t *testing.T, c *Config) { assert.True(t, c.Server.OpenAICompatibleInput) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := Default()
			cfg.ApplyEnvOverrides()
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromPath_EnvBeatsFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[server]\nport = 18000\n")
	t.Setenv(EnvPort, "18999")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 18999, cfg.Server.Port)
}

// =============================================================================
// PATHS
// =============================================================================

func TestResolvedPaths(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.DataDir = "/data/anna"
	dir, err := cfg.ResolvedDataDir()
	require.NoError(t, err)
	assert.Equal(t, "/data/anna", dir)

	p, err := cfg.ResolvedDictionaryPath()
	require.NoError(t, err)
	assert.Empty(t, p)

	cfg.Furigana.DictionaryPath = "user.dict"
	p, err = cfg.ResolvedDictionaryPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/anna", DictionaryDirName, "user.dict"), p)

	cfg.Furigana.DictionaryPath = "/opt/ipa.dict"
	p, err = cfg.ResolvedDictionaryPath()
	require.NoError(t, err)
	assert.Equal(t, "/opt/ipa.dict", p)

	cfg.DataDir = ""
	dir, err = cfg.ResolvedDataDir()
	require.NoError(t, err)
	assert.Equal(t, AppDirName, filepath.Base(dir))
}

// =============================================================================
// SAVE
// =============================================================================

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Server.Port = 18555
	cfg.Replacements = []replace.RuleSpec{{Pattern: "a", Replacement: "b", Flags: "i"}}
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server, loaded.Server)
	assert.Equal(t, cfg.Replacements, loaded.Replacements)
}

// =============================================================================
// GLOBAL
// =============================================================================

// resetGlobal clears the process-wide config so Global reloads it.
func resetGlobal() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal()
// can be safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	resetGlobal()
	defer resetGlobal()

	var wg sync.WaitGroup

	// 50 writers using SetGlobal, 50 readers using Global
	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func(id int) {
			defer wg.Done()
			c := Default()
			c.Server.Port = 18000 + id
			SetGlobal(c)
		}(i)

		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
}

func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	resetGlobal()
	defer resetGlobal()

	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[server]\nport = 18444\n")
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cfg, err := LoadFromPath(path)
			if err != nil {
				t.Errorf("LoadFromPath: %v", err)
				return
			}
			SetGlobal(cfg)
		}()
		go func() {
			defer wg.Done()
			_ = Global().Server.Port
		}()
	}
	wg.Wait()

	assert.Equal(t, 18444, Global().Server.Port)
}

func TestConfig_GlobalInitialization(t *testing.T) {
	isolate(t)
	resetGlobal()
	defer resetGlobal()

	cfg := Global()
	require.NotNil(t, cfg)
	assert.Same(t, cfg, Global())
}

func TestConfig_SetGlobalOverwrites(t *testing.T) {
	isolate(t)
	resetGlobal()
	defer resetGlobal()

	c1 := Default()
	c1.Server.Port = 18001
	SetGlobal(c1)
	assert.Equal(t, 18001, Global().Server.Port)

	c2 := Default()
	c2.Server.Port = 18002
	SetGlobal(c2)
	assert.Equal(t, 18002, Global().Server.Port)
}

// =============================================================================
// WATCH
// =============================================================================

func TestWatch_ReloadsOnChange(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[server]\nport = 18000\n")

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, zap.NewNop(), func(c *Config) {
			changes <- c
		})
	}()

	// The watch is registered asynchronously; keep saving until it is seen.
	var got *Config
	require.Eventually(t, func() bool {
		select {
		case got = <-changes:
			return true
		default:
			writeFile(t, path, "[server]\nport = 18777\n")
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 18777, got.Server.Port)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_InvalidFileKeepsWatching(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[server]\nport = 18000\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, nil, func(c *Config) { changes <- c })
	}()

	// Unrelated files in the directory are ignored, broken ones are skipped.
	require.Eventually(t, func() bool {
		select {
		case c := <-changes:
			return c.Server.Port == 18321
		default:
			writeFile(t, filepath.Join(dir, "other.toml"), "[server]\nport = 1\n")
			writeFile(t, path, "[server\n")
			time.Sleep(40 * time.Millisecond)
			writeFile(t, path, "[server]\nport = 18321\n")
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
