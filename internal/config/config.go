// Package config loads the browserpool YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/neboloop/browserpool/internal/defaults"
)

// Config is the full browserpool configuration.
type Config struct {
	DataDir  string         `yaml:"data_dir"`
	Browser  BrowserConfig  `yaml:"browser"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Pool     PoolConfig     `yaml:"pool"`
	Master   MasterConfig   `yaml:"master"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Login    LoginConfig    `yaml:"login"`
	Router   RouterConfig   `yaml:"router"`
	Admin    AdminConfig    `yaml:"admin"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BrowserConfig configures launched browsers.
type BrowserConfig struct {
	// ExecutablePath overrides the Playwright-managed Chromium. "system"
	// auto-detects an installed browser.
	ExecutablePath  string   `yaml:"executable_path"`
	Headless        bool     `yaml:"headless"`
	NoSandbox       bool     `yaml:"no_sandbox"`
	LaunchTimeoutMs int      `yaml:"launch_timeout_ms"`
	Args            []string `yaml:"args"`
	InitScripts     []string `yaml:"init_scripts"`
}

// ProfilesConfig locates profile directories. Relative roots are resolved
// against the data directory.
type ProfilesConfig struct {
	EphemeralRoot string `yaml:"ephemeral_root"`
	MasterRoot    string `yaml:"master_root"`
	SnapshotRoot  string `yaml:"snapshot_root"`
	DefaultID     string `yaml:"default_id"`
	MasterID      string `yaml:"master_id"`
	IDPattern     string `yaml:"id_pattern"`
}

// PoolConfig sizes the ephemeral pool.
type PoolConfig struct {
	MinWorkers     int `yaml:"min_workers"`
	MaxWorkers     int `yaml:"max_workers"`
	QueueTimeoutMs int `yaml:"queue_timeout_ms"`
}

// MasterConfig configures the master pool.
type MasterConfig struct {
	Headless       bool `yaml:"headless"`
	LockTimeoutMs  int  `yaml:"lock_timeout_ms"`
	LockRetryMs    int  `yaml:"lock_retry_ms"`
	QueueTimeoutMs int  `yaml:"queue_timeout_ms"`
}

// SnapshotConfig configures snapshot publishing.
type SnapshotConfig struct {
	PublishTimeoutMs int  `yaml:"publish_timeout_ms"`
	RetryIntervalMs  int  `yaml:"retry_interval_ms"`
	SeedEphemeral    bool `yaml:"seed_ephemeral"`
}

// LoginConfig configures manual login sessions.
type LoginConfig struct {
	RefreshSpec   string `yaml:"refresh_spec"`
	StartURL      string `yaml:"start_url"`
	LockTimeoutMs int    `yaml:"lock_timeout_ms"`
}

// RouterConfig configures task routing.
type RouterConfig struct {
	FallbackToEphemeral bool `yaml:"fallback_to_ephemeral"`
}

// AdminConfig configures the admin HTTP endpoint of serve. An empty
// listen address disables it.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig configures the default logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Browser: BrowserConfig{
			Headless:        true,
			LaunchTimeoutMs: 30000,
		},
		Profiles: ProfilesConfig{
			EphemeralRoot: filepath.Join("profiles", "ephemeral"),
			MasterRoot:    filepath.Join("profiles", "master"),
			SnapshotRoot:  "snapshots",
			DefaultID:     "master",
			MasterID:      "master",
		},
		Pool: PoolConfig{
			MinWorkers:     0,
			MaxWorkers:     2,
			QueueTimeoutMs: 30000,
		},
		Master: MasterConfig{
			Headless:       true,
			LockTimeoutMs:  5000,
			LockRetryMs:    200,
			QueueTimeoutMs: 30000,
		},
		Snapshot: SnapshotConfig{
			PublishTimeoutMs: 5000,
			RetryIntervalMs:  50,
			SeedEphemeral:    true,
		},
		Login: LoginConfig{
			RefreshSpec:   "@every 30s",
			LockTimeoutMs: 10000,
		},
		Admin: AdminConfig{
			Listen: "127.0.0.1:9470",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDataDir returns the platform-appropriate data directory.
func DefaultDataDir() string {
	dir, err := defaults.DataDir()
	if err != nil {
		return ".browserpool"
	}
	return dir
}

// Load loads config.yaml from the data directory. A missing file yields
// the defaults.
func Load() (*Config, error) {
	path := filepath.Join(DefaultDataDir(), defaults.ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			return cfg, cfg.Normalize()
		}
		return nil, err
	}
	return LoadFromBytes(data)
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromBytes parses YAML over the defaults, expanding $VARS first.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize expands ~ in paths, resolves profile roots against the data
// directory and validates values that cannot be clamped.
func (c *Config) Normalize() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.DataDir = expandHome(c.DataDir)

	for _, p := range []*string{&c.Profiles.EphemeralRoot, &c.Profiles.MasterRoot, &c.Profiles.SnapshotRoot} {
		*p = expandHome(*p)
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(c.DataDir, *p)
		}
	}
	c.Browser.ExecutablePath = expandHome(c.Browser.ExecutablePath)

	if c.Profiles.MasterID == "" {
		c.Profiles.MasterID = "master"
	}
	if c.Profiles.IDPattern != "" {
		if _, err := regexp.Compile(c.Profiles.IDPattern); err != nil {
			return fmt.Errorf("profiles.id_pattern: %w", err)
		}
	}
	if c.Profiles.EphemeralRoot == c.Profiles.MasterRoot {
		return fmt.Errorf("profiles: ephemeral_root and master_root must differ")
	}
	if c.Login.RefreshSpec == "" {
		c.Login.RefreshSpec = "@every 30s"
	}
	return nil
}

// Ms converts a millisecond setting to a duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
