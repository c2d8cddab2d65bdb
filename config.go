package nostrcache

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the flat configuration surface of the whole engine. It is
// constructed once at startup and passed into each component's constructor;
// there is no ambient global. Values are treated as already validated.
type Config struct {
	// Relays is the list of relay endpoints to coordinate.
	Relays []string `yaml:"relays"`

	// QueryTimeout bounds each pool query across all relays.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// Backend selects the local store: "memory", "sqlite" or "file".
	Backend string `yaml:"backend"`

	// DataDir is where the sqlite and file backends keep their data.
	DataDir string `yaml:"data_dir"`

	// MaxEvents caps the memory/file backends; on overflow the oldest ~10%
	// are evicted. Zero means unlimited.
	MaxEvents int `yaml:"max_events"`

	// MaxRetries bounds reconnection attempts for live subscriptions.
	MaxRetries int `yaml:"max_retries"`

	// AutoSyncInterval is the default interval for recurring sync runs.
	AutoSyncInterval time.Duration `yaml:"auto_sync_interval"`
}

// DefaultConfig returns the defaults every field falls back to.
func DefaultConfig() Config {
	return Config{
		QueryTimeout:     7 * time.Second,
		Backend:          "sqlite",
		DataDir:          ".",
		MaxEvents:        100_000,
		MaxRetries:       3,
		AutoSyncInterval: 5 * time.Minute,
	}
}

// LoadConfig reads a YAML config file, filling unset fields with defaults.
// A missing file returns the defaults silently.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(file.Relays) > 0 {
		cfg.Relays = file.Relays
	}
	if file.QueryTimeout > 0 {
		cfg.QueryTimeout = file.QueryTimeout
	}
	if file.Backend != "" {
		cfg.Backend = file.Backend
	}
	if file.DataDir != "" {
		cfg.DataDir = file.DataDir
	}
	if file.MaxEvents > 0 {
		cfg.MaxEvents = file.MaxEvents
	}
	if file.MaxRetries > 0 {
		cfg.MaxRetries = file.MaxRetries
	}
	if file.AutoSyncInterval > 0 {
		cfg.AutoSyncInterval = file.AutoSyncInterval
	}

	return cfg, nil
}
