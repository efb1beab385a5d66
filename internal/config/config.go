package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"lanscan/internal/logging"
	"lanscan/internal/scan"
)

// Config represents the application configuration
type Config struct {
	LogLevel     string          `mapstructure:"log_level" yaml:"log_level"`
	RegistryPath string          `mapstructure:"registry_path" yaml:"registry_path"`
	Scan         ScanConfig      `mapstructure:"scan" yaml:"scan"`
	Browse       BrowseConfig    `mapstructure:"browse" yaml:"browse"`
	Services     []ServiceConfig `mapstructure:"services" yaml:"services"`
}

// ScanConfig sizes the liveness pool and bounds each probe.
type ScanConfig struct {
	Concurrency     int           `mapstructure:"concurrency" yaml:"concurrency"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout" yaml:"liveness_timeout"`
	SSDPTimeout     time.Duration `mapstructure:"ssdp_timeout" yaml:"ssdp_timeout"`
	MDNSTimeout     time.Duration `mapstructure:"mdns_timeout" yaml:"mdns_timeout"`
	ADBTimeout      time.Duration `mapstructure:"adb_timeout" yaml:"adb_timeout"`
	TCPTimeout      time.Duration `mapstructure:"tcp_timeout" yaml:"tcp_timeout"`
}

// BrowseConfig controls the announcement browser.
type BrowseConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Services []string      `mapstructure:"services" yaml:"services"`
}

// ServiceConfig adds or overrides one entry of the port table.
type ServiceConfig struct {
	Port      int           `mapstructure:"port" yaml:"port"`
	Name      string        `mapstructure:"name" yaml:"name"`
	Family    string        `mapstructure:"family" yaml:"family"`
	Transport string        `mapstructure:"transport" yaml:"transport,omitempty"`
	Payload   string        `mapstructure:"payload" yaml:"payload,omitempty"`
	Match     []string      `mapstructure:"match" yaml:"match,omitempty"`
	Pattern   string        `mapstructure:"pattern" yaml:"pattern,omitempty"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// EnvPrefix prefixes environment overrides, e.g. LANSCAN_SCAN_CONCURRENCY.
const EnvPrefix = "LANSCAN"

// Load reads configuration from a YAML file.
// If path is empty, it searches for lanscan.yaml in the current directory and
// the user config directory, falling back to defaults when none exists.
// A nil logger discards the lookup details.
func Load(path string, logger *zap.Logger) (*Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lanscan")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "lanscan"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.Debug("No config file found, using defaults")
	} else {
		logger.Debug("Loaded config", zap.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("registry_path", cfg.RegistryPath)
	v.SetDefault("scan.concurrency", cfg.Scan.Concurrency)
	v.SetDefault("scan.liveness_timeout", cfg.Scan.LivenessTimeout)
	v.SetDefault("scan.ssdp_timeout", cfg.Scan.SSDPTimeout)
	v.SetDefault("scan.mdns_timeout", cfg.Scan.MDNSTimeout)
	v.SetDefault("scan.adb_timeout", cfg.Scan.ADBTimeout)
	v.SetDefault("scan.tcp_timeout", cfg.Scan.TCPTimeout)
	v.SetDefault("browse.timeout", cfg.Browse.Timeout)
	v.SetDefault("browse.services", cfg.Browse.Services)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.LogLevel != "" {
		if _, err := logging.ParseLevel(c.LogLevel); err != nil {
			errs = append(errs, err)
		}
	}

	if c.RegistryPath == "" {
		errs = append(errs, errors.New("registry_path cannot be empty"))
	}

	if c.Scan.Concurrency <= 0 {
		errs = append(errs, errors.New("scan.concurrency must be positive"))
	}

	for name, d := range map[string]time.Duration{
		"scan.liveness_timeout": c.Scan.LivenessTimeout,
		"scan.ssdp_timeout":     c.Scan.SSDPTimeout,
		"scan.mdns_timeout":     c.Scan.MDNSTimeout,
		"scan.adb_timeout":      c.Scan.ADBTimeout,
		"scan.tcp_timeout":      c.Scan.TCPTimeout,
		"browse.timeout":        c.Browse.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	seen := make(map[int]bool, len(c.Services))
	for i, svc := range c.Services {
		if seen[svc.Port] {
			errs = append(errs, fmt.Errorf("services[%d]: duplicate port %d", i, svc.Port))
		}
		seen[svc.Port] = true
		if _, err := svc.Definition(); err != nil {
			errs = append(errs, fmt.Errorf("services[%d]: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Definition converts the entry to a port table definition.
func (s ServiceConfig) Definition() (scan.Definition, error) {
	if s.Port < 1 || s.Port > 65535 {
		return scan.Definition{}, fmt.Errorf("%w: port %d out of range", scan.ErrInvalidArgument, s.Port)
	}
	family := scan.FamilyBanner
	if s.Family != "" {
		f, err := scan.ParseFamily(s.Family)
		if err != nil {
			return scan.Definition{}, err
		}
		family = f
	}

	def := scan.Definition{
		Port:    uint16(s.Port),
		Name:    s.Name,
		Family:  family,
		Payload: s.Payload,
		Match:   s.Match,
		Pattern: s.Pattern,
		Timeout: s.Timeout,
	}
	switch strings.ToLower(s.Transport) {
	case "", "tcp":
	case "tls":
		def.TLS = true
	default:
		return scan.Definition{}, fmt.Errorf("%w: unknown transport %q", scan.ErrInvalidArgument, s.Transport)
	}
	if _, err := def.Build(); err != nil {
		return scan.Definition{}, err
	}
	return def, nil
}

// ProbeSpecs returns the built-in port table with the configured services
// merged over it by port. Entries without a timeout get the scan timeout of their family.
func (c *Config) ProbeSpecs() ([]scan.ProbeSpec, error) {
	defs := scan.DefaultDefinitions()
	index := make(map[uint16]int, len(defs))
	for i, def := range defs {
		index[def.Port] = i
	}
	for _, svc := range c.Services {
		def, err := svc.Definition()
		if err != nil {
			return nil, err
		}
		if i, ok := index[def.Port]; ok {
			defs[i] = def
			continue
		}
		index[def.Port] = len(defs)
		defs = append(defs, def)
	}

	specs := make([]scan.ProbeSpec, 0, len(defs))
	for _, def := range defs {
		if def.Timeout <= 0 {
			def.Timeout = c.familyTimeout(def.Family)
		}
		spec, err := def.Build()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Table builds the probe table from ProbeSpecs.
func (c *Config) Table() (*scan.Table, error) {
	specs, err := c.ProbeSpecs()
	if err != nil {
		return nil, err
	}
	return scan.NewTable(specs...), nil
}

// EngineOptions maps the scan section onto engine options.
func (c *Config) EngineOptions() scan.Options {
	return scan.Options{
		Concurrency:     c.Scan.Concurrency,
		LivenessTimeout: c.Scan.LivenessTimeout,
		SSDPTimeout:     c.Scan.SSDPTimeout,
		MDNSTimeout:     c.Scan.MDNSTimeout,
		ADBTimeout:      c.Scan.ADBTimeout,
	}
}

func (c *Config) familyTimeout(f scan.Family) time.Duration {
	switch f {
	case scan.FamilySSDP:
		return c.Scan.SSDPTimeout
	case scan.FamilyMDNS:
		return c.Scan.MDNSTimeout
	case scan.FamilyADB:
		return c.Scan.ADBTimeout
	default:
		return c.Scan.TCPTimeout
	}
}
