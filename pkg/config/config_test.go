package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.Task.Window)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "task.toml", `
[task]
script = "strategy.dp"
input = "/data/prices.csv"
format = "ndjson"
window = 50
partition_by = "symbol"
workers = 8
package_paths = ["lib"]
max_rows = 100
timeout = "30s"

[log]
level = "debug"
format = "json"

[sink.sqlite]
path = "out/results.db"
table = "signals"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	dir := filepath.Dir(path)
	assert.Equal(t, filepath.Join(dir, "strategy.dp"), cfg.Task.Script)
	assert.Equal(t, "/data/prices.csv", cfg.Task.Input)
	assert.Equal(t, 50, cfg.Task.Window)
	assert.Equal(t, "symbol", cfg.Task.PartitionBy)
	assert.Equal(t, []string{filepath.Join(dir, "lib")}, cfg.Task.PackagePaths)
	assert.Equal(t, 30*time.Second, cfg.Task.Timeout.Duration)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, filepath.Join(dir, "out", "results.db"), cfg.Sink.SQLite.Path)
	assert.Equal(t, "signals", cfg.Sink.SQLite.Table)
	assert.Equal(t, "127.0.0.1:8765", cfg.Server.Addr, "unset values keep defaults")
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "task.yaml", `
task:
  script: s.dp
  window: 3
  timeout: 1m
log:
  level: info
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Task.Window)
	assert.Equal(t, time.Minute, cfg.Task.Timeout.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Task.Format)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "config file not found")

	_, err = config.Load(writeFile(t, "bad.toml", "[task\n"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = config.Load(writeFile(t, "bad.toml", "[task]\ntimeout = \"soon\"\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Task.Format = "xml"
	cfg.Task.Window = 0
	cfg.Log.Level = "loud"
	cfg.Sink.SQLite = config.SQLite{Path: "x.db"}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "task.format")
	assert.Contains(t, msg, "task.window")
	assert.Contains(t, msg, "log.level")
	assert.Contains(t, msg, "sink.sqlite.table")
}
