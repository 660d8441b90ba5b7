// Package config loads rs_recon settings from a YAML file, RS_RECON_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"rs_recon/internal/errors"
	"rs_recon/internal/logging"
	"rs_recon/internal/resolve"
)

// EnvPrefix is prepended to every environment override, e.g.
// RS_RECON_SCAN_RATE=5000.
const EnvPrefix = "RS_RECON"

// Config represents the top-level configuration structure.
type Config struct {
	Scan    ScanConfig     `mapstructure:"scan" yaml:"scan"`
	Trace   TraceConfig    `mapstructure:"trace" yaml:"trace"`
	Output  OutputConfig   `mapstructure:"output" yaml:"output"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	DNS     resolve.Config `mapstructure:"dns" yaml:"dns"`
}

// ScanConfig holds all settings related to the scanning process.
type ScanConfig struct {
	Type      string        `mapstructure:"type" validate:"oneof=syn tcp-ping icmp udp"`
	Targets   TargetsConfig `mapstructure:"targets"`
	Ports     string        `mapstructure:"ports"`     // "22,80,443,8000-8100", T:/U: prefixes allowed
	Interface string        `mapstructure:"interface"` // empty picks the default route's interface
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Wait      time.Duration `mapstructure:"wait" validate:"gte=0"`
	Rate      int           `mapstructure:"rate" validate:"gte=0"` // packets per second, 0 = unlimited
	Delay     time.Duration `mapstructure:"delay" validate:"gte=0"`
	Mode      string        `mapstructure:"mode" validate:"oneof=sync async"`
	SourceIP  string        `mapstructure:"source_ip" validate:"omitempty,ip"`
	GwMAC     string        `mapstructure:"gw_mac" validate:"omitempty,mac"`
	SrcPort   uint16        `mapstructure:"src_port"`
	Replay    string        `mapstructure:"replay"` // pcap file instead of live capture
	Dump      string        `mapstructure:"dump"`   // write probes to a pcap file instead of the wire
	Batch     bool          `mapstructure:"batch"`  // sendmmsg batching on Linux
	Shuffle   bool          `mapstructure:"shuffle"`
}

// TargetsConfig defines included and excluded target expressions.
type TargetsConfig struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

// TraceConfig controls the traceroute command.
type TraceConfig struct {
	MaxHops      int           `mapstructure:"max_hops" validate:"min=1,max=255"`
	Queries      int           `mapstructure:"queries" validate:"min=1,max=10"`
	QueryTimeout time.Duration `mapstructure:"query_timeout" validate:"gt=0"`
	Names        bool          `mapstructure:"names"` // reverse-resolve hop addresses
}

// OutputConfig controls how results are reported.
type OutputConfig struct {
	File     string `mapstructure:"file"`
	Format   string `mapstructure:"format" validate:"oneof=jsonl csv text grep yaml table"`
	OpenOnly bool   `mapstructure:"open_only"`
	NoTUI    bool   `mapstructure:"no_tui"`
	Quiet    bool   `mapstructure:"quiet"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Scan: ScanConfig{
			Type:    "syn",
			Ports:   "22,80,443",
			Timeout: 10 * time.Second,
			Wait:    2 * time.Second,
			Rate:    1000,
			Mode:    "sync",
			Shuffle: true,
		},
		Trace: TraceConfig{
			MaxHops:      30,
			Queries:      3,
			QueryTimeout: time.Second,
		},
		Output: OutputConfig{Format: "text"},
		Log:    logging.DefaultConfig(),
		DNS:    resolve.Config{Timeout: 2 * time.Second},
	}
}

// SetDefaults registers Defaults() on v so that file, env and flag values
// are layered on top of them. Every key is registered, which is what lets
// AutomaticEnv overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("scan.type", d.Scan.Type)
	v.SetDefault("scan.ports", d.Scan.Ports)
	v.SetDefault("scan.timeout", d.Scan.Timeout)
	v.SetDefault("scan.wait", d.Scan.Wait)
	v.SetDefault("scan.rate", d.Scan.Rate)
	v.SetDefault("scan.delay", d.Scan.Delay)
	v.SetDefault("scan.mode", d.Scan.Mode)
	v.SetDefault("scan.shuffle", d.Scan.Shuffle)
	v.SetDefault("scan.interface", "")
	v.SetDefault("scan.source_ip", "")
	v.SetDefault("scan.gw_mac", "")
	v.SetDefault("scan.src_port", 0)
	v.SetDefault("scan.replay", "")
	v.SetDefault("scan.dump", "")
	v.SetDefault("scan.batch", false)
	v.SetDefault("scan.targets.include", []string{})
	v.SetDefault("scan.targets.exclude", []string{})
	v.SetDefault("trace.names", false)
	v.SetDefault("output.file", "")
	v.SetDefault("output.open_only", false)
	v.SetDefault("output.no_tui", false)
	v.SetDefault("output.quiet", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("dns.servers", []string{})
	v.SetDefault("trace.max_hops", d.Trace.MaxHops)
	v.SetDefault("trace.queries", d.Trace.Queries)
	v.SetDefault("trace.query_timeout", d.Trace.QueryTimeout)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("dns.timeout", d.DNS.Timeout)
}

// Load reads path (optional) into a fresh viper instance.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith layers defaults, the config file at path (skipped when empty),
// environment variables and whatever flags the caller bound on v, then
// validates the result.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.CodeConfiguration, "read config file", err).WithTarget(path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.CodeConfiguration, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			msgs := make([]string, 0, len(fields))
			for _, f := range fields {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", f.Namespace(), f.Tag(), f.Value()))
			}
			return errors.New(errors.CodeConfiguration, strings.Join(msgs, "; "))
		}
		return errors.Wrap(errors.CodeConfiguration, "validate config", err)
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return errors.Wrap(errors.CodeConfiguration, "metrics.addr", err)
		}
	}
	if c.Scan.Replay != "" && c.Scan.Dump == "" && c.Scan.Interface == "" {
		return errors.New(errors.CodeConfiguration, "scan.replay needs scan.dump or scan.interface")
	}
	return nil
}
