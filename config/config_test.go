package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "0xc101b42b", cfg.Prover.Selector)
	require.Equal(t, "groth16", cfg.Prover.ReceiptKind)
	require.False(t, cfg.Cache.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 127.0.0.1:9000
  fetch_timeout: 5s
log:
  level: debug
  format: json
scheduler:
  workers: 4
  queue_depth: 0
  timeout: 10m
prover:
  backend: remote
remote:
  url: https://api.example.com
  api_key: secret
  poll_interval: 2s
cache:
  enabled: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.Equal(t, 5*time.Second, cfg.Server.FetchTimeout)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, 4, cfg.Scheduler.Workers)
	require.Zero(t, cfg.Scheduler.QueueDepth)
	require.Equal(t, 10*time.Minute, cfg.Scheduler.Timeout)
	require.Equal(t, BackendRemote, cfg.Prover.Backend)
	require.Equal(t, 2*time.Second, cfg.Remote.PollInterval)
	require.True(t, cfg.Cache.Enabled)

	// untouched fields keep their defaults
	require.Equal(t, "1.2.0", cfg.Remote.Version)
	require.Equal(t, 32<<20, cfg.Cache.MaxBytes)
	require.True(t, cfg.Server.Metrics)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prover.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  wrokers: 2\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "wrokers")
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prover.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PROVER_SCHEDULER_WORKERS":    "3",
		"PROVER_SCHEDULER_TIMEOUT":    "90s",
		"PROVER_BACKEND":              "external",
		"PROVER_EXTERNAL_PATH":        "/usr/local/bin/host",
		"PROVER_EXTERNAL_ARGS":        "--dev  --verbose",
		"PROVER_CACHE_ENABLED":        "true",
		"PROVER_LOG_LEVEL":            "warn",
		"PROVER_CIRCUIT_BUCKET":       "artifacts",
		"UNRELATED_SCHEDULER_WORKERS": "9",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	require.NoError(t, cfg.Validate())
	require.Equal(t, 3, cfg.Scheduler.Workers)
	require.Equal(t, 90*time.Second, cfg.Scheduler.Timeout)
	require.Equal(t, BackendExternal, cfg.Prover.Backend)
	require.Equal(t, []string{"--dev", "--verbose"}, cfg.External.Args)
	require.True(t, cfg.Cache.Enabled)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "artifacts", cfg.Circuit.Bucket)

	for _, bad := range []map[string]string{
		{"PROVER_SCHEDULER_WORKERS": "many"},
		{"PROVER_CACHE_ENABLED": "perhaps"},
		{"PROVER_SCHEDULER_TIMEOUT": "soon"},
	} {
		err := Default().ApplyEnv(func(k string) (string, bool) { v, ok := bad[k]; return v, ok })
		require.Error(t, err)
	}
}

func TestLoadAppliesEnv(t *testing.T) {
	t.Setenv("PROVER_SERVER_ADDR", ":9999")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.Addr)
}

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		mutate func(*Config)
		field  string
	}{
		"no addr":       {func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		"log format":    {func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		"log level":     {func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		"workers":       {func(c *Config) { c.Scheduler.Workers = 0 }, "scheduler.workers"},
		"queue depth":   {func(c *Config) { c.Scheduler.QueueDepth = -1 }, "scheduler.queue_depth"},
		"timeout":       {func(c *Config) { c.Scheduler.Timeout = -time.Second }, "scheduler.timeout"},
		"kind":          {func(c *Config) { c.Prover.ReceiptKind = "stark" }, "prover.receipt_kind"},
		"max input":     {func(c *Config) { c.Prover.MaxInputSize = 0 }, "prover.max_input_size"},
		"selector":      {func(c *Config) { c.Prover.Selector = "0xc101" }, "prover.selector"},
		"fingerprint":   {func(c *Config) { c.Prover.RootFingerprint = "abcd" }, "prover.root_fingerprint"},
		"cache size":    {func(c *Config) { c.Cache.Enabled = true; c.Cache.MaxBytes = 0 }, "cache.max_bytes"},
		"backend":       {func(c *Config) { c.Prover.Backend = "cloud" }, "prover.backend"},
		"circuit dir":   {func(c *Config) { c.Circuit.Dir = "" }, "circuit.dir"},
		"remote url":    {func(c *Config) { c.Prover.Backend = BackendRemote }, "remote.url"},
		"remote key":    {func(c *Config) { c.Prover.Backend = BackendRemote; c.Remote.URL = "https://x" }, "remote.api_key"},
		"external path": {func(c *Config) { c.Prover.Backend = BackendExternal }, "external.path"},
		"fetch timeout": {func(c *Config) { c.Server.FetchTimeout = -1 }, "server.fetch_timeout"},
	} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tc.field, verr.Field)
		})
	}
}
