// Package config loads the agent configuration from defaults, an optional
// file, and HOSTAGENT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// UnassignedResourceID is the placeholder that means "register on start".
const UnassignedResourceID = "auto-generate-on-first-run"

// MaxRetryAttempts bounds retry_attempts.
const MaxRetryAttempts = 10

// EnvPrefix is the prefix for environment overrides, e.g.
// HOSTAGENT_API_URL or HOSTAGENT_COLLECTORS_PING_ENABLED.
const EnvPrefix = "HOSTAGENT"

// Config holds the agent configuration.
type Config struct {
	APIURL   string `mapstructure:"api_url"`
	AgentKey string `mapstructure:"agent_key"`
	TenantID string `mapstructure:"tenant_id"`

	// ResourceID is the host identity assigned by the backend. Empty or
	// UnassignedResourceID means the agent registers on start.
	ResourceID string `mapstructure:"resource_id"`
	// Hostname overrides the detected hostname; "auto-detect" or empty
	// uses the OS hostname.
	Hostname string `mapstructure:"hostname"`

	CollectionInterval   time.Duration `mapstructure:"collection_interval"`
	CollectorTimeout     time.Duration `mapstructure:"collector_timeout"`
	InventoryInterval    time.Duration `mapstructure:"inventory_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	MaxBufferedSnapshots int           `mapstructure:"max_buffered_snapshots"`

	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	CompressRequests bool          `mapstructure:"compress_requests"`

	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`
	StatePath   string `mapstructure:"state_path"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Collectors CollectorsConfig `mapstructure:"collectors"`
}

// CollectorsConfig toggles and tunes the individual collectors.
type CollectorsConfig struct {
	CPU     Toggle        `mapstructure:"cpu"`
	Memory  Toggle        `mapstructure:"memory"`
	Disk    DiskConfig    `mapstructure:"disk"`
	Network NetworkConfig `mapstructure:"network"`
	Load    Toggle        `mapstructure:"load"`
	Process ProcessConfig `mapstructure:"process"`
	Docker  Toggle        `mapstructure:"docker"`
	Ping    PingConfig    `mapstructure:"ping"`
}

// Toggle is the configuration of a collector with no extra settings.
type Toggle struct {
	Enabled bool `mapstructure:"enabled"`
}

// DiskConfig configures the disk collector.
type DiskConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// MountPoints restricts usage aggregation; empty means all real
	// filesystems.
	MountPoints []string `mapstructure:"mount_points"`
}

// NetworkConfig configures the network collector.
type NetworkConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Interfaces restricts aggregation; empty means every interface.
	Interfaces []string `mapstructure:"interfaces"`
}

// ProcessConfig configures the process collector and inventory.
type ProcessConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	TopN       int  `mapstructure:"top_n"`
	CollectAll bool `mapstructure:"collect_all"`
}

// PingConfig configures the ICMP latency collector.
type PingConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Target  string        `mapstructure:"target"`
	Count   int           `mapstructure:"count"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// HasResourceID reports whether a usable identity is configured.
func (c *Config) HasResourceID() bool {
	return c.ResourceID != "" && c.ResourceID != UnassignedResourceID
}

// defaults is the single source of default values; durations are strings
// so the YAML rendering stays readable.
var defaults = map[string]any{
	"api_url":                "",
	"agent_key":              "",
	"tenant_id":              "",
	"resource_id":            "",
	"hostname":               "auto-detect",
	"collection_interval":    "60s",
	"collector_timeout":      "30s",
	"inventory_interval":     "5m",
	"batch_size":             10,
	"max_buffered_snapshots": 10000,
	"retry_attempts":         3,
	"retry_delay":            "5s",
	"request_timeout":        "30s",
	"compress_requests":      false,
	"log_level":              "info",
	"log_file":               "",
	"state_path":             "hostagent.db",
	"metrics_addr":           "",

	"collectors.cpu.enabled":         true,
	"collectors.memory.enabled":      true,
	"collectors.disk.enabled":        true,
	"collectors.disk.mount_points":   []string{},
	"collectors.network.enabled":     true,
	"collectors.network.interfaces":  []string{},
	"collectors.load.enabled":        true,
	"collectors.process.enabled":     true,
	"collectors.process.top_n":       50,
	"collectors.process.collect_all": false,
	"collectors.docker.enabled":      true,
	"collectors.ping.enabled":        false,
	"collectors.ping.target":         "",
	"collectors.ping.count":          3,
	"collectors.ping.timeout":        "5s",
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration in increasing priority: defaults, the config
// file, then environment variables. An empty path searches
// ./hostagent.{yaml,json} and /etc/hostagent/; a missing file is only an
// error when path is explicit.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	} else {
		v.SetConfigName("hostagent")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hostagent")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.AgentKey == "" {
		errs = append(errs, errors.New("agent_key is required"))
	}
	if c.TenantID == "" {
		errs = append(errs, errors.New("tenant_id is required"))
	}
	if c.CollectionInterval <= 0 {
		errs = append(errs, fmt.Errorf("collection_interval must be positive, got %s", c.CollectionInterval))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize))
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > MaxRetryAttempts {
		errs = append(errs, fmt.Errorf("retry_attempts must be between 1 and %d, got %d", MaxRetryAttempts, c.RetryAttempts))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry_delay must not be negative, got %s", c.RetryDelay))
	}
	if c.Collectors.Ping.Enabled && c.Collectors.Ping.Target == "" {
		errs = append(errs, errors.New("collectors.ping.target is required when ping is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// WriteDefaults renders the default configuration as YAML.
func WriteDefaults(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newViper().AllSettings()); err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	return enc.Close()
}
