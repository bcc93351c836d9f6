// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration.
// Maps to the `netpcap:` root key in YAML.
type Config struct {
	Log        LogConfig             `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig         `mapstructure:"metrics" yaml:"metrics"`
	Source     SourceConfig          `mapstructure:"source" yaml:"source"`
	Dispatch   DispatchConfig        `mapstructure:"dispatch" yaml:"dispatch"`
	Processors []ProcessorConfig     `mapstructure:"processors" yaml:"processors"`
	Post       []PostProcessorConfig `mapstructure:"post" yaml:"post"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Source ───

// Source types.
const (
	SourceFile     = "file"
	SourceLive     = "live"
	SourceAFPacket = "afpacket"
	SourceDead     = "dead"
)

// SourceConfig selects and configures the capture source.
type SourceConfig struct {
	Type         string `mapstructure:"type" yaml:"type"`           // file | live | afpacket | dead
	Path         string `mapstructure:"path" yaml:"path,omitempty"` // file
	Interface    string `mapstructure:"interface" yaml:"interface,omitempty"`
	SnapLen      int    `mapstructure:"snap_len" yaml:"snap_len"`
	Promiscuous  bool   `mapstructure:"promiscuous" yaml:"promiscuous"`
	Immediate    bool   `mapstructure:"immediate" yaml:"immediate"`
	Timeout      string `mapstructure:"timeout" yaml:"timeout"` // read timeout, e.g. "500ms"
	BPFFilter    string `mapstructure:"bpf_filter" yaml:"bpf_filter,omitempty"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb" yaml:"buffer_size_mb"`
	FanoutID     uint16 `mapstructure:"fanout_id" yaml:"fanout_id,omitempty"` // afpacket
	LinkType     string `mapstructure:"link_type" yaml:"link_type,omitempty"` // dead

	timeout time.Duration
}

// ReadTimeout is the parsed Timeout.
func (c SourceConfig) ReadTimeout() time.Duration { return c.timeout }

// ─── Dispatch ───

// DispatchConfig controls how the CLI drives the pipeline.
type DispatchConfig struct {
	// Count is the total number of frames to deliver; <= 0 runs until the
	// source is exhausted or the process is signalled.
	Count int64 `mapstructure:"count" yaml:"count"`
	// Batch is the count requested per dispatch call.
	Batch          int64  `mapstructure:"batch" yaml:"batch"`
	Representation string `mapstructure:"representation" yaml:"representation"`
}

// ─── Processors ───

// ProcessorConfig declares one pre-processor. Settings are decoded by the
// processor's factory.
type ProcessorConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	Priority *int           `mapstructure:"priority" yaml:"priority,omitempty"` // nil = type default
	Enabled  *bool          `mapstructure:"enabled" yaml:"enabled,omitempty"`   // nil = true
	Settings map[string]any `mapstructure:"settings" yaml:"settings,omitempty"`
}

// IsEnabled reports whether the processor should be registered enabled.
func (c ProcessorConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// PostProcessorConfig declares one post-processor.
type PostProcessorConfig struct {
	Type     string         `mapstructure:"type" yaml:"type"`
	Name     string         `mapstructure:"name" yaml:"name,omitempty"`
	Priority int            `mapstructure:"priority" yaml:"priority"`
	Settings map[string]any `mapstructure:"settings" yaml:"settings,omitempty"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netpcap: ...`.
type configRoot struct {
	Netpcap Config `mapstructure:"netpcap"`
}

// Load loads configuration from file. An empty path loads defaults only.
// The YAML file uses `netpcap:` as root key; env vars use the NETPCAP_ prefix
// (e.g., NETPCAP_LOG_LEVEL).
func Load(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides loads like Load, then applies overrides keyed relative to
// the root (e.g. "source.path"). Command line flags come in this way.
func LoadWithOverrides(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `netpcap.` key prefix maps to `NETPCAP_` via the key replacer
	// (e.g., key "netpcap.log.level" → env "NETPCAP_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for k, val := range overrides {
		v.Set("netpcap."+k, val)
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netpcap

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "netpcap." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("netpcap.log.level", "info")
	v.SetDefault("netpcap.log.format", "text")
	v.SetDefault("netpcap.log.outputs.file.enabled", false)
	v.SetDefault("netpcap.log.outputs.file.path", "/var/log/netpcap/netpcap.log")
	v.SetDefault("netpcap.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netpcap.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netpcap.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netpcap.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("netpcap.metrics.enabled", false)
	v.SetDefault("netpcap.metrics.listen", ":9091")
	v.SetDefault("netpcap.metrics.path", "/metrics")

	// Source defaults
	v.SetDefault("netpcap.source.type", SourceFile)
	v.SetDefault("netpcap.source.path", "")
	v.SetDefault("netpcap.source.interface", "")
	v.SetDefault("netpcap.source.bpf_filter", "")
	v.SetDefault("netpcap.source.snap_len", 262144)
	v.SetDefault("netpcap.source.promiscuous", true)
	v.SetDefault("netpcap.source.timeout", "500ms")
	v.SetDefault("netpcap.source.buffer_size_mb", 32)
	v.SetDefault("netpcap.source.link_type", "Ethernet")

	// Dispatch defaults
	v.SetDefault("netpcap.dispatch.count", 0)
	v.SetDefault("netpcap.dispatch.batch", 1024)
	v.SetDefault("netpcap.dispatch.representation", "packet")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── Source validation ──
	src := &cfg.Source
	switch src.Type {
	case SourceFile:
		if src.Path == "" {
			return fmt.Errorf("source.path is required when source.type=file")
		}
	case SourceLive, SourceAFPacket:
		if src.Interface == "" {
			return fmt.Errorf("source.interface is required when source.type=%s", src.Type)
		}
	case SourceDead:
	default:
		return fmt.Errorf("invalid source type: %s (must be file/live/afpacket/dead)", src.Type)
	}
	if src.SnapLen <= 0 {
		return fmt.Errorf("source.snap_len must be positive, got %d", src.SnapLen)
	}
	d, err := time.ParseDuration(src.Timeout)
	if err != nil {
		return fmt.Errorf("invalid source.timeout %q: %w", src.Timeout, err)
	}
	src.timeout = d

	// ── Dispatch validation ──
	if cfg.Dispatch.Batch <= 0 {
		cfg.Dispatch.Batch = 1024
	}
	switch cfg.Dispatch.Representation {
	case "native", "array", "buffer", "foreign", "packet":
	default:
		return fmt.Errorf("invalid dispatch.representation: %s", cfg.Dispatch.Representation)
	}

	// ── Processor validation ──
	for i, p := range cfg.Processors {
		if p.Type == "" {
			return fmt.Errorf("processors[%d].type is required", i)
		}
	}
	for i, p := range cfg.Post {
		if p.Type == "" {
			return fmt.Errorf("post[%d].type is required", i)
		}
	}
	return nil
}

// YAML renders the effective configuration under its root key.
func (cfg *Config) YAML() ([]byte, error) {
	return yaml.Marshal(map[string]*Config{"netpcap": cfg})
}
