package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "REFLOW_"

// Duration wraps time.Duration so config files can write "250ms" or "5s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML and
// environment decoders.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler; the YAML decoder does not
// consult TextUnmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

// SnapshotConfig controls the persisted-state saver.
type SnapshotConfig struct {
	// Dir is the snapshot directory. Empty disables snapshots.
	Dir string `toml:"dir" yaml:"dir" env:"DIR"`

	// Interval is the flush cadence.
	Interval Duration `toml:"interval" yaml:"interval" env:"INTERVAL"`
}

// ScriptConfig controls the scripted reducer host.
type ScriptConfig struct {
	// Dir holds reducer scripts, one slice per file. Empty disables
	// scripted reducers.
	Dir string `toml:"dir" yaml:"dir" env:"DIR"`

	// Timeout bounds one scripted reducer call.
	Timeout Duration `toml:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// Config is the full runtime configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" yaml:"log_level" env:"LOG_LEVEL"`

	// QueueSize is the task queue capacity of each service scheduler.
	QueueSize int `toml:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`

	// InitTimeout bounds each service init call.
	InitTimeout Duration `toml:"init_timeout" yaml:"init_timeout" env:"INIT_TIMEOUT"`

	Snapshot SnapshotConfig `toml:"snapshot" yaml:"snapshot" envPrefix:"SNAPSHOT_"`
	Script   ScriptConfig   `toml:"script" yaml:"script" envPrefix:"SCRIPT_"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:    "info",
		QueueSize:   256,
		InitTimeout: Duration(5 * time.Second),
		Snapshot: SnapshotConfig{
			Interval: Duration(2 * time.Second),
		},
		Script: ScriptConfig{
			Timeout: Duration(100 * time.Millisecond),
		},
	}
}

// Load resolves configuration: defaults, then the file at path when one
// is given, then REFLOW_* environment variables. The file format follows
// its extension (.toml, .yaml, .yml). A missing file with an empty path
// is fine; a named file that does not exist is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := decodeFile(path, data, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

func (c Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	if c.InitTimeout <= 0 {
		return fmt.Errorf("init_timeout must be positive, got %s", c.InitTimeout.Std())
	}
	if c.Snapshot.Dir != "" && c.Snapshot.Interval <= 0 {
		return fmt.Errorf("snapshot.interval must be positive, got %s", c.Snapshot.Interval.Std())
	}
	if c.Script.Dir != "" && c.Script.Timeout <= 0 {
		return fmt.Errorf("script.timeout must be positive, got %s", c.Script.Timeout.Std())
	}
	return nil
}
