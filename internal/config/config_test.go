package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	a := assert.New(t)
	cfg, err := New("")
	a.NoError(err)
	a.Equal(Default(), cfg)
	a.Equal(":2099", cfg.RPC.Address)
	a.Equal(int64(100), cfg.Bag.RangeCeiling)
	a.Equal(int64(10), cfg.Bag.BatchSize)
}

func TestNewOverridesDefaults(t *testing.T) {
	a := assert.New(t)
	path := writeConfig(t, `
[server]
name = "Primes"
log_level = "debug"

[rpc]
address = "127.0.0.1:3000"
transport = "udp"

[storage]
engine = "bolt"
path = "/tmp/taskbag.db"
in_memory = false

[bag]
poll_interval = "250ms"
take_timeout = "5s"
tasks_key = "jobs"
`)
	cfg, err := New(path)
	require.NoError(t, err)
	a.Equal("Primes", cfg.Server.Name)
	a.Equal(slog.LevelDebug, cfg.Server.LogLevel)
	a.Equal("127.0.0.1:3000", cfg.RPC.Address)
	a.Equal(TransportUDP, cfg.RPC.Transport)
	a.Equal(EngineBolt, cfg.Storage.Engine)
	a.Equal(250*time.Millisecond, cfg.Bag.PollInterval)
	a.Equal(5*time.Second, cfg.Bag.TakeTimeout)
	a.Equal("jobs", cfg.Bag.TasksKey)
	// untouched sections keep their defaults
	a.Equal(Default().HTTP, cfg.HTTP)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		key    string
	}{
		{
			name:   "unknown transport",
			modify: func(c *Config) { c.RPC.Transport = "sctp" },
			key:    "rpc.transport",
		},
		{
			name:   "unknown engine",
			modify: func(c *Config) { c.Storage.Engine = "sqlite" },
			key:    "storage.engine",
		},
		{
			name: "on-disk without path",
			modify: func(c *Config) {
				c.Storage.InMemory = false
				c.Storage.Path = ""
			},
			key: "storage.path",
		},
		{
			name:   "zero batch size",
			modify: func(c *Config) { c.Bag.BatchSize = 0 },
			key:    "bag.batch_size",
		},
		{
			name:   "zero poll interval",
			modify: func(c *Config) { c.Bag.PollInterval = 0 },
			key:    "bag.poll_interval",
		},
		{
			name:   "empty tasks key",
			modify: func(c *Config) { c.Bag.TasksKey = "" },
			key:    "bag.tasks_key",
		},
		{
			name: "in-memory bolt",
			modify: func(c *Config) {
				c.Storage.Engine = EngineBolt
				c.Storage.InMemory = true
			},
			key: "bolt",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestNewMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestExampleConfig(t *testing.T) {
	cfg, err := New(filepath.Join("..", "..", ".assets", "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, EngineBadger, cfg.Storage.Engine)
	assert.False(t, cfg.Storage.InMemory)
	assert.Equal(t, slog.LevelWarn, cfg.Storage.LogLevel)
	assert.Equal(t, time.Second, cfg.Bag.PollInterval)
	assert.Equal(t, "tasks", cfg.Bag.TasksKey)
}
