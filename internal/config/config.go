// Package config loads the ledgerflow YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// State backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Defaults applied before the file is decoded.
const (
	DefaultDatabase     = "ledgerflow.db"
	DefaultRetention    = 24 * time.Hour
	DefaultPollInterval = 6 * time.Second
	DefaultRedisPrefix  = "ledgerflow"
)

// Network is one ledger endpoint and the assets tracked on it.
type Network struct {
	ID       string   `yaml:"id"`
	Endpoint string   `yaml:"endpoint"`
	Assets   []string `yaml:"assets"`
}

// State selects the application state backend.
type State struct {
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
}

// SubmitLimit caps submissions per second. Zero Rate disables the limit.
type SubmitLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Config is the whole file.
type Config struct {
	Networks       []Network `yaml:"networks"`
	DefaultNetwork string    `yaml:"default_network"`
	Database       string    `yaml:"database"`
	State          State     `yaml:"state"`

	// Retention is how long resolved transactions are kept, in memory and
	// in the history table.
	Retention    time.Duration `yaml:"retention"`
	PollInterval time.Duration `yaml:"poll_interval"`

	SubmitLimit SubmitLimit `yaml:"submit_limit"`

	// MetricsAddr serves /metrics when set, e.g. ":9102".
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
}

// Default returns a config with every default filled in and no networks.
func Default() *Config {
	return &Config{
		Database:     DefaultDatabase,
		State:        State{Backend: BackendMemory, RedisPrefix: DefaultRedisPrefix},
		Retention:    DefaultRetention,
		PollInterval: DefaultPollInterval,
	}
}

// Load reads path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes YAML from r over Default. Unknown fields are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.DefaultNetwork == "" && len(cfg.Networks) == 1 {
		cfg.DefaultNetwork = cfg.Networks[0].ID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	seen := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.ID == "" {
			result = multierror.Append(result, fmt.Errorf("networks[%d]: id is required", i))
			continue
		}
		if seen[n.ID] {
			result = multierror.Append(result, fmt.Errorf("networks[%d]: duplicate id %q", i, n.ID))
		}
		seen[n.ID] = true
		if n.Endpoint == "" {
			result = multierror.Append(result, fmt.Errorf("networks[%d]: endpoint is required", i))
		}
	}
	if c.DefaultNetwork != "" && !seen[c.DefaultNetwork] {
		result = multierror.Append(result, fmt.Errorf("default_network %q is not configured", c.DefaultNetwork))
	}

	switch c.State.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database == "" {
			result = multierror.Append(result, fmt.Errorf("state backend sqlite requires database"))
		}
	case BackendRedis:
		if c.State.RedisAddr == "" {
			result = multierror.Append(result, fmt.Errorf("state backend redis requires redis_addr"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown state backend %q: must be memory, sqlite or redis", c.State.Backend))
	}

	if c.Retention < 0 {
		result = multierror.Append(result, fmt.Errorf("retention must not be negative"))
	}
	if c.PollInterval < time.Second {
		result = multierror.Append(result, fmt.Errorf("poll_interval must be at least 1s, got %s", c.PollInterval))
	}
	if c.SubmitLimit.Rate < 0 || c.SubmitLimit.Burst < 0 {
		result = multierror.Append(result, fmt.Errorf("submit_limit must not be negative"))
	}
	if c.SubmitLimit.Rate > 0 && c.SubmitLimit.Burst == 0 {
		result = multierror.Append(result, fmt.Errorf("submit_limit.burst is required when rate is set"))
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			result = multierror.Append(result, fmt.Errorf("metrics_addr: %w", err))
		}
	}

	return result.ErrorOrNil()
}

// Network looks a network up by id. An empty id means the default.
func (c *Config) Network(id string) (Network, error) {
	if id == "" {
		id = c.DefaultNetwork
	}
	if id == "" {
		return Network{}, fmt.Errorf("no network given and no default_network configured")
	}
	for _, n := range c.Networks {
		if n.ID == id {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("unknown network %q", id)
}

// Assets maps network id to its tracked assets.
func (c *Config) Assets() map[string][]string {
	out := make(map[string][]string, len(c.Networks))
	for _, n := range c.Networks {
		out[n.ID] = append([]string(nil), n.Assets...)
	}
	return out
}
