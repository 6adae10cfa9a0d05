// Package config loads the prover configuration from a YAML file and PROVER_* environment
// variables.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/zkattest/nitro-prover/abiproof"
	"github.com/zkattest/nitro-prover/scheduler"
	"github.com/zkattest/nitro-prover/zkvm"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PROVER_"

// Backend names.
const (
	BackendLocal    = "local"
	BackendRemote   = "remote"
	BackendExternal = "external"
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Log       LogConfig        `yaml:"log"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Prover    ProverConfig     `yaml:"prover"`
	Remote    RemoteConfig     `yaml:"remote"`
	External  ExternalConfig   `yaml:"external"`
	Circuit   CircuitConfig    `yaml:"circuit"`
	Cache     CacheConfig      `yaml:"cache"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	Metrics      bool          `yaml:"metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

type ProverConfig struct {
	Backend      string `yaml:"backend"`
	ReceiptKind  string `yaml:"receipt_kind"`
	MaxInputSize int    `yaml:"max_input_size"`
	Selector     string `yaml:"selector"`
	// RootFingerprint overrides the pinned attestation root certificate fingerprint (hex sha256).
	RootFingerprint string `yaml:"root_fingerprint"`
	Verify          bool   `yaml:"verify"`
}

type RemoteConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"api_key"`
	Version      string        `yaml:"version"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// ELF is the guest binary uploaded when the service does not know the image yet.
	ELF string `yaml:"elf"`
}

type ExternalConfig struct {
	Path        string        `yaml:"path"`
	Args        []string      `yaml:"args"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// CircuitConfig locates the Groth16 artifacts of the local backend. Missing artifacts are
// downloaded from Bucket when it is set.
type CircuitConfig struct {
	Dir    string `yaml:"dir"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

type CacheConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxBytes int  `yaml:"max_bytes"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			FetchTimeout: 30 * time.Second,
			Metrics:      true,
		},
		Log: LogConfig{Level: "info", Format: "console"},
		Scheduler: scheduler.Config{
			Workers:    1,
			QueueDepth: 16,
		},
		Prover: ProverConfig{
			Backend:      BackendLocal,
			ReceiptKind:  zkvm.KindGroth16.String(),
			MaxInputSize: zkvm.DefaultMaxInputSize,
			Selector:     abiproof.DefaultSelector.String(),
		},
		Remote: RemoteConfig{
			Version:      "1.2.0",
			PollInterval: 5 * time.Second,
		},
		External: ExternalConfig{GracePeriod: 10 * time.Second},
		Circuit:  CircuitConfig{Dir: "build", Region: "us-east-2"},
		Cache:    CacheConfig{MaxBytes: 32 << 20},
	}
}

// Load reads path (if not empty) over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "opening config file")
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, errors.Wrapf(err, "parsing %s", path)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// ApplyEnv overrides fields from PROVER_* variables, for example PROVER_SCHEDULER_WORKERS.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, o := range c.envOverrides() {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.set(v); err != nil {
			return errors.Wrapf(err, "parsing %s%s", EnvPrefix, o.name)
		}
	}
	return nil
}

type envOverride struct {
	name string
	set  func(string) error
}

func (c *Config) envOverrides() []envOverride {
	return []envOverride{
		{"SERVER_ADDR", setString(&c.Server.Addr)},
		{"SERVER_FETCH_TIMEOUT", setDuration(&c.Server.FetchTimeout)},
		{"SERVER_METRICS", setBool(&c.Server.Metrics)},
		{"LOG_LEVEL", setString(&c.Log.Level)},
		{"LOG_FORMAT", setString(&c.Log.Format)},
		{"SCHEDULER_WORKERS", setInt(&c.Scheduler.Workers)},
		{"SCHEDULER_QUEUE_DEPTH", setInt(&c.Scheduler.QueueDepth)},
		{"SCHEDULER_TIMEOUT", setDuration(&c.Scheduler.Timeout)},
		{"BACKEND", setString(&c.Prover.Backend)},
		{"RECEIPT_KIND", setString(&c.Prover.ReceiptKind)},
		{"MAX_INPUT_SIZE", setInt(&c.Prover.MaxInputSize)},
		{"SELECTOR", setString(&c.Prover.Selector)},
		{"ROOT_FINGERPRINT", setString(&c.Prover.RootFingerprint)},
		{"VERIFY", setBool(&c.Prover.Verify)},
		{"REMOTE_URL", setString(&c.Remote.URL)},
		{"REMOTE_API_KEY", setString(&c.Remote.APIKey)},
		{"REMOTE_VERSION", setString(&c.Remote.Version)},
		{"REMOTE_POLL_INTERVAL", setDuration(&c.Remote.PollInterval)},
		{"REMOTE_ELF", setString(&c.Remote.ELF)},
		{"EXTERNAL_PATH", setString(&c.External.Path)},
		{"EXTERNAL_ARGS", setFields(&c.External.Args)},
		{"EXTERNAL_GRACE_PERIOD", setDuration(&c.External.GracePeriod)},
		{"CIRCUIT_DIR", setString(&c.Circuit.Dir)},
		{"CIRCUIT_BUCKET", setString(&c.Circuit.Bucket)},
		{"CIRCUIT_PREFIX", setString(&c.Circuit.Prefix)},
		{"CIRCUIT_REGION", setString(&c.Circuit.Region)},
		{"CACHE_ENABLED", setBool(&c.Cache.Enabled)},
		{"CACHE_MAX_BYTES", setInt(&c.Cache.MaxBytes)},
	}
}

func setString(p *string) func(string) error {
	return func(v string) error { *p = v; return nil }
}

func setFields(p *[]string) func(string) error {
	return func(v string) error { *p = strings.Fields(v); return nil }
}

func setInt(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func setBool(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func setDuration(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config [%s]: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "must not be empty")
	}
	if c.Server.FetchTimeout < 0 {
		return invalid("server.fetch_timeout", "must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return invalid("log.format", "unknown format %q", c.Log.Format)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%v", err)
	}
	if c.Scheduler.Workers < 1 {
		return invalid("scheduler.workers", "must be at least 1")
	}
	if c.Scheduler.QueueDepth < 0 {
		return invalid("scheduler.queue_depth", "must not be negative")
	}
	if c.Scheduler.Timeout < 0 {
		return invalid("scheduler.timeout", "must not be negative")
	}
	if _, err := zkvm.ParseReceiptKind(c.Prover.ReceiptKind); err != nil {
		return invalid("prover.receipt_kind", "%v", err)
	}
	if c.Prover.MaxInputSize < 1 {
		return invalid("prover.max_input_size", "must be positive")
	}
	if _, err := abiproof.ParseSelector(c.Prover.Selector); err != nil {
		return invalid("prover.selector", "%v", err)
	}
	if c.Prover.RootFingerprint != "" {
		if _, err := zkvm.ParseDigest(c.Prover.RootFingerprint); err != nil {
			return invalid("prover.root_fingerprint", "%v", err)
		}
	}
	if c.Cache.Enabled && c.Cache.MaxBytes < 1 {
		return invalid("cache.max_bytes", "must be positive when the cache is enabled")
	}

	switch c.Prover.Backend {
	case BackendLocal:
		if c.Circuit.Dir == "" {
			return invalid("circuit.dir", "must not be empty")
		}
	case BackendRemote:
		if c.Remote.URL == "" {
			return invalid("remote.url", "required by the remote backend")
		}
		if c.Remote.APIKey == "" {
			return invalid("remote.api_key", "required by the remote backend")
		}
		if c.Remote.PollInterval <= 0 {
			return invalid("remote.poll_interval", "must be positive")
		}
	case BackendExternal:
		if c.External.Path == "" {
			return invalid("external.path", "required by the external backend")
		}
		if c.External.GracePeriod < 0 {
			return invalid("external.grace_period", "must not be negative")
		}
	default:
		return invalid("prover.backend", "unknown backend %q", c.Prover.Backend)
	}
	return nil
}
