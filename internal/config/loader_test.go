package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the forge config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "forge")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	setupTestHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "python:3.11-slim", cfg.Sandbox.Image)
	assert.Equal(t, "bridge", cfg.Sandbox.Network)
	assert.Equal(t, 60*time.Second, cfg.Command.Timeout.Duration())
	assert.Equal(t, "forge_repo_memory", cfg.Memory.Qdrant.Collection)
	assert.Equal(t, uint64(1536), cfg.Memory.Qdrant.VectorSize)
	assert.Equal(t, 5, cfg.Memory.Limit)
	assert.True(t, cfg.Memory.Chromem.Compress)
	assert.True(t, cfg.Secrets.Enabled)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, filepath.Join(dir, "config.yaml"), `
workspace:
  root: /tmp/forge-out
  history: true
sandbox:
  image: python:3.12-slim
  network: none
  timeout: 90s
memory:
  provider: chromem
  chromem:
    path: /tmp/forge-mem
`, 0600)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/forge-out", cfg.Workspace.Root)
	assert.True(t, cfg.Workspace.History)
	assert.Equal(t, "python:3.12-slim", cfg.Sandbox.Image)
	assert.Equal(t, "none", cfg.Sandbox.Network)
	assert.Equal(t, 90*time.Second, cfg.Sandbox.Timeout.Duration())
	assert.Equal(t, "chromem", cfg.Memory.Provider)
	assert.Equal(t, "/tmp/forge-mem", cfg.Memory.Chromem.Path)
	// untouched keys keep their defaults
	assert.Equal(t, "forge_repo_memory", cfg.Memory.Chromem.Collection)
	assert.Equal(t, "/app", cfg.Sandbox.MountPath)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	writeConfig(t, filepath.Join(dir, "config.yaml"), "sandbox:\n  image: from-file\n", 0600)

	t.Setenv("FORGE_SANDBOX_IMAGE", "from-env")
	t.Setenv("FORGE_COMMAND_TIMEOUT", "5s")
	t.Setenv("FORGE_MEMORY_QDRANT_HOST", "qdrant.internal")
	t.Setenv("FORGE_SERVER_PORT", "8088")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Sandbox.Image)
	assert.Equal(t, 5*time.Second, cfg.Command.Timeout.Duration())
	assert.Equal(t, "qdrant.internal", cfg.Memory.Qdrant.Host)
	assert.Equal(t, 8088, cfg.Server.Port)
}

func TestLoad_ProviderKeyFallback(t *testing.T) {
	setupTestHome(t)
	t.Setenv("FORGE_GENERATION_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-test", cfg.Generation.APIKey.Value())
}

func TestLoad_ExplicitPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "forge.yaml")
	writeConfig(t, path, "server:\n  port: 7070\n", 0600)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	dir := setupTestHome(t)
	writeConfig(t, filepath.Join(dir, "config.yaml"), "sandbox:\n  image: x\n", 0644)

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsOversizedFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "big.yaml")
	big := make([]byte, maxConfigFileSize+10)
	for i := range big {
		big[i] = '#'
	}
	writeConfig(t, path, string(big), 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoad_InvalidValues(t *testing.T) {
	setupTestHome(t)
	t.Setenv("FORGE_SANDBOX_NETWORK", "host")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sandbox.network")
}

func TestValidateConfigPath(t *testing.T) {
	dir := setupTestHome(t)

	assert.NoError(t, validateConfigPath(filepath.Join(dir, "config.yaml")))
	assert.NoError(t, validateConfigPath("/etc/forge/config.yaml"))
	assert.Error(t, validateConfigPath("/tmp/config.yaml"))
	assert.Error(t, validateConfigPath(dir+"-evil/config.yaml"))
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"FORGE_SANDBOX_IMAGE":           "sandbox.image",
		"FORGE_GENERATION_API_KEY":      "generation.api_key",
		"FORGE_MEMORY_QDRANT_HOST":      "memory.qdrant.host",
		"FORGE_MEMORY_CHROMEM_PATH":     "memory.chromem.path",
		"FORGE_MEMORY_LIMIT":            "memory.limit",
		"FORGE_SERVER_SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad provider", mutate: func(c *Config) { c.Generation.Provider = "local" }, wantErr: "generation.provider"},
		{name: "bad memory", mutate: func(c *Config) { c.Memory.Provider = "redis" }, wantErr: "memory.provider"},
		{name: "zero limit", mutate: func(c *Config) { c.Memory.Limit = 0 }, wantErr: "memory.limit"},
		{name: "relative mount", mutate: func(c *Config) { c.Sandbox.MountPath = "app" }, wantErr: "mount_path"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "trace level", mutate: func(c *Config) { c.Logging.Level = "trace" }},
		{name: "events without url", mutate: func(c *Config) { c.Events.Enabled = true; c.Events.URL = "" }, wantErr: "events.url"},
		{
			name: "telemetry protocol",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.Protocol = "udp"
			},
			wantErr: "telemetry.protocol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-123", s.Value())

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(data))

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
