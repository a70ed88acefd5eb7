package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/stackctl/internal/drain"
	"github.com/loykin/stackctl/internal/logger"
	"github.com/loykin/stackctl/internal/service"
	"github.com/loykin/stackctl/internal/store"
)

// ServiceConfig is the TOML shape of one managed service.
type ServiceConfig struct {
	Name       string           `toml:"name" mapstructure:"name"`
	Port       int              `toml:"port" mapstructure:"port"`
	Command    string           `toml:"command" mapstructure:"command"`
	WorkDir    string           `toml:"workdir" mapstructure:"workdir"`
	HealthPath string           `toml:"health_path" mapstructure:"health_path"`
	DrainPath  string           `toml:"drain_path" mapstructure:"drain_path"`
	LogPath    string           `toml:"log_path" mapstructure:"log_path"`
	Dir        string           `toml:"dir" mapstructure:"dir"` // frontend static directory
	Log        *LogCaptureEntry `toml:"log" mapstructure:"log"`
}

// LogCaptureEntry mirrors logger.Config for TOML parsing.
type LogCaptureEntry struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// DrainEntry is the TOML shape of the drain observation parameters.
type DrainEntry struct {
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	MaxWait      time.Duration `toml:"max_wait" mapstructure:"max_wait"`
	WarnEvery    time.Duration `toml:"warn_every" mapstructure:"warn_every"`
	Markers      []string      `toml:"markers" mapstructure:"markers"`
	TailLines    int           `toml:"tail_lines" mapstructure:"tail_lines"`
}

// HistoryEntry configures optional lifecycle-event sinks.
type HistoryEntry struct {
	ClickHouse *ClickHouseEntry `toml:"clickhouse" mapstructure:"clickhouse"`
}

// ClickHouseEntry points at a ClickHouse event table.
type ClickHouseEntry struct {
	Addr  string `toml:"addr" mapstructure:"addr"`
	Table string `toml:"table" mapstructure:"table"`
}

// Config is the top-level TOML structure.
type Config struct {
	Backend  ServiceConfig `toml:"backend" mapstructure:"backend"`
	Frontend ServiceConfig `toml:"frontend" mapstructure:"frontend"`
	Drain    DrainEntry    `toml:"drain" mapstructure:"drain"`
	Store    store.Config  `toml:"store" mapstructure:"store"`
	History  HistoryEntry  `toml:"history" mapstructure:"history"`
}

// Load reads a TOML config file. A missing path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	b := service.DefaultBackend()
	if c.Backend.Name == "" {
		c.Backend.Name = b.Name
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = b.Port
	}
	if c.Backend.HealthPath == "" {
		c.Backend.HealthPath = b.HealthPath
	}
	if c.Backend.DrainPath == "" {
		c.Backend.DrainPath = b.DrainPath
	}
	f := service.DefaultFrontend()
	if c.Frontend.Name == "" {
		c.Frontend.Name = f.Name
	}
	if c.Frontend.Port == 0 {
		c.Frontend.Port = f.Port
	}
	if c.Frontend.Dir == "" {
		c.Frontend.Dir = "frontend"
	}
}

// BackendDescriptor materializes the backend service.Descriptor.
func (c *Config) BackendDescriptor() service.Descriptor {
	return descriptor(c.Backend)
}

// FrontendDescriptor materializes the frontend service.Descriptor.
// The frontend never carries a drain path regardless of config.
func (c *Config) FrontendDescriptor() service.Descriptor {
	d := descriptor(c.Frontend)
	d.DrainPath = ""
	return d
}

func descriptor(sc ServiceConfig) service.Descriptor {
	d := service.Descriptor{
		Name:       sc.Name,
		Port:       sc.Port,
		Command:    sc.Command,
		WorkDir:    sc.WorkDir,
		HealthPath: sc.HealthPath,
		DrainPath:  sc.DrainPath,
		LogPath:    sc.LogPath,
	}
	if sc.Log != nil {
		d.Log = logger.Config{
			Dir:        sc.Log.Dir,
			StdoutPath: sc.Log.Stdout,
			StderrPath: sc.Log.Stderr,
			MaxSizeMB:  sc.Log.MaxSizeMB,
			MaxBackups: sc.Log.MaxBackups,
			MaxAgeDays: sc.Log.MaxAgeDays,
			Compress:   sc.Log.Compress,
		}
	}
	return d
}

// DrainConfig materializes the drain.Config with file overrides applied.
func (c *Config) DrainConfig() drain.Config {
	return drain.Config{
		PollInterval: c.Drain.PollInterval,
		MaxWait:      c.Drain.MaxWait,
		WarnEvery:    c.Drain.WarnEvery,
		Markers:      c.Drain.Markers,
		TailLines:    c.Drain.TailLines,
	}
}
