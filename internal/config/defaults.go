package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"lanscan/internal/scan"
)

// DefaultRegistryFile is the registry file name inside the lanscan config directory.
const DefaultRegistryFile = "devices.db"

// DefaultBrowseServices are the DNS-SD service types browsed by default.
var DefaultBrowseServices = []string{
	"_googlecast._tcp",
	"_adb-tls-connect._tcp",
	"_adb._tcp",
	"_airplay._tcp",
	"_http._tcp",
	"_hap._tcp",
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel:     "",
		RegistryPath: DefaultRegistryPath(),
		Scan: ScanConfig{
			Concurrency:     scan.DefaultConcurrency,
			LivenessTimeout: scan.DefaultLivenessTimeout,
			SSDPTimeout:     scan.DefaultSSDPTimeout,
			MDNSTimeout:     scan.DefaultMDNSTimeout,
			ADBTimeout:      scan.DefaultADBTimeout,
			TCPTimeout:      scan.DefaultTCPTimeout,
		},
		Browse: BrowseConfig{
			Timeout:  3 * time.Second,
			Services: append([]string(nil), DefaultBrowseServices...),
		},
		Services: []ServiceConfig{},
	}
}

// DefaultRegistryPath places the registry in the user config directory, or
// the working directory when that cannot be determined.
func DefaultRegistryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultRegistryFile
	}
	return filepath.Join(dir, "lanscan", DefaultRegistryFile)
}

// exampleServices shows the shape of a services entry in a fresh config file.
var exampleServices = []ServiceConfig{
	{Port: 8096, Name: "Jellyfin", Family: "http"},
	{Port: 23, Name: "Telnet", Family: "banner", Match: []string{"login:"}},
}

// WriteDefault writes a default configuration to the specified path
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	cfg.Services = exampleServices

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
