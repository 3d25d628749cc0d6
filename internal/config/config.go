package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Daytona  DaytonaConfig  `toml:"daytona"`
	Docker   DockerConfig   `toml:"docker"`
	Database DatabaseConfig `toml:"database"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DaytonaConfig struct {
	APIURL string `toml:"api_url"`
	APIKey string `toml:"api_key"`
	Target string `toml:"target"`
}

type DockerConfig struct {
	// Enabled switches the daemon to the local docker provider.
	Enabled     bool   `toml:"enabled"`
	PreviewHost string `toml:"preview_host"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver"`
	Path   string `toml:"path"` // sqlite file
	DSN    string `toml:"dsn"`  // postgres connection string
}

type SandboxConfig struct {
	Image          string `toml:"image"`
	RetentionDays  int    `toml:"retention_days"`
	SweepInterval  string `toml:"sweep_interval"` // Go duration, e.g. "30m"
	CallTimeoutSec int    `toml:"call_timeout_sec"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8090"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "lagoon.db"},
		Sandbox: SandboxConfig{
			RetentionDays:  7,
			SweepInterval:  "30m",
			CallTimeoutSec: 30,
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "lagoon.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("LAGOON_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LAGOON_DAYTONA_API_URL"); v != "" {
		cfg.Daytona.APIURL = v
	}
	if v := os.Getenv("LAGOON_DAYTONA_API_KEY"); v != "" {
		cfg.Daytona.APIKey = v
	}
	if v := os.Getenv("LAGOON_DAYTONA_TARGET"); v != "" {
		cfg.Daytona.Target = v
	}
	if v := os.Getenv("LAGOON_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LAGOON_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LAGOON_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LAGOON_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := os.Getenv("LAGOON_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sandbox.RetentionDays = n
		}
	}
	if v := os.Getenv("LAGOON_SWEEP_INTERVAL"); v != "" {
		cfg.Sandbox.SweepInterval = v
	}
	if os.Getenv("LAGOON_DOCKER") == "true" || os.Getenv("LAGOON_DOCKER") == "1" {
		cfg.Docker.Enabled = true
	}
	if os.Getenv("LAGOON_OBSERVER_ENABLED") == "true" || os.Getenv("LAGOON_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// Retention returns the reaper retention threshold.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Sandbox.RetentionDays) * 24 * time.Hour
}

// SweepEvery returns the parsed sweep interval, falling back to 30 minutes
// on a malformed value.
func (c Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.SweepInterval)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// CallTimeout returns the per-call timeout for provider and directory
// operations.
func (c Config) CallTimeout() time.Duration {
	if c.Sandbox.CallTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sandbox.CallTimeoutSec) * time.Second
}
