// Package config provides YAML configuration loading and validation for
// ais_manager, the host-level application supervisor.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for ais_manager.
type Config struct {
	// ListenAddr is the TCP address the command dispatcher listens on for
	// framed control-protocol connections (e.g. "0.0.0.0:9800"). Defaults to
	// "0.0.0.0:9800" when omitted.
	ListenAddr string `yaml:"listen_addr"`

	// Catalog controls where the resolver looks for managed applications.
	Catalog CatalogConfig `yaml:"catalog"`

	// Portal describes how the portal client discovers and registers with
	// the central coordinator.
	Portal PortalConfig `yaml:"portal"`

	// LedgerPath is the file the usage ledger is persisted to. Defaults to
	// "/opt/artisan/ladger.json" when omitted, matching the on-disk layout
	// of the original supervisor.
	LedgerPath string `yaml:"ledger_path"`

	// RegisteredAppsPath is where the status registry is serialized on
	// shutdown. Defaults to "/opt/artisan/registered_apps.json".
	RegisteredAppsPath string `yaml:"registered_apps_path"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// LockTimeout bounds every shared-state lock acquisition. Defaults to
	// 2s when omitted or non-positive.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// GateTimeout bounds how long a command waits on the pause gate before
	// it gives up with "Server not accepting requests". Defaults to 5s.
	GateTimeout time.Duration `yaml:"gate_timeout"`

	// ReconcileInterval is the cadence of the reconciler's outer loop.
	// Defaults to 1s when omitted or non-positive.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// CatalogConfig locates the on-disk inputs the resolver reads.
type CatalogConfig struct {
	// BinDir is the directory scanned for client-app binaries. Defaults to
	// "/opt/artisan/bin".
	BinDir string `yaml:"bin_dir"`

	// StateFilePattern is a printf-style pattern (one %s verb for the app
	// name) locating each managed app's self-persisted state file. Defaults
	// to "/tmp/.%s.state".
	StateFilePattern string `yaml:"state_file_pattern"`

	// EnvFilePattern is a printf-style pattern (one %s verb for the app
	// name) locating each managed app's optional environment file. Defaults
	// to "/etc/%s/.env".
	EnvFilePattern string `yaml:"env_file_pattern"`

	// CredentialsPath is the portal credentials file whose project-id set
	// gates which client apps are adopted. Required.
	CredentialsPath string `yaml:"credentials_path"`

	// CgroupRoot is the slice directory scanned by the bandwidth tracker to
	// join PIDs to service names. Defaults to
	// "/sys/fs/cgroup/artisan.slice".
	CgroupRoot string `yaml:"cgroup_root"`
}

// PortalConfig describes the central coordinator endpoint(s).
type PortalConfig struct {
	// Hostname is the DNS name resolved to discover portal endpoints.
	// Required.
	Hostname string `yaml:"hostname"`

	// FallbackIP is used when DNS resolution of Hostname fails. Required.
	FallbackIP string `yaml:"fallback_ip"`

	// Port is the portal's listening port. Defaults to 9801. The portal
	// client does not read it; it always dials portal.Port.
	Port int `yaml:"port"`

	// Interval is how often the full registration pass runs across all
	// endpoints. Defaults to 30s.
	Interval time.Duration `yaml:"interval"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing every validation failure encountered, joined with errors.Join.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:9800"
	}
	if cfg.Catalog.BinDir == "" {
		cfg.Catalog.BinDir = "/opt/artisan/bin"
	}
	if cfg.Catalog.StateFilePattern == "" {
		cfg.Catalog.StateFilePattern = "/tmp/.%s.state"
	}
	if cfg.Catalog.EnvFilePattern == "" {
		cfg.Catalog.EnvFilePattern = "/etc/%s/.env"
	}
	if cfg.Catalog.CgroupRoot == "" {
		cfg.Catalog.CgroupRoot = "/sys/fs/cgroup/artisan.slice"
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "/opt/artisan/ladger.json"
	}
	if cfg.RegisteredAppsPath == "" {
		cfg.RegisteredAppsPath = "/opt/artisan/registered_apps.json"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	if cfg.GateTimeout <= 0 {
		cfg.GateTimeout = 5 * time.Second
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = time.Second
	}
	if cfg.Portal.Port == 0 {
		cfg.Portal.Port = 9801
	}
	if cfg.Portal.Interval <= 0 {
		cfg.Portal.Interval = 30 * time.Second
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Catalog.CredentialsPath == "" {
		errs = append(errs, errors.New("catalog.credentials_path is required"))
	}
	if cfg.Portal.Hostname == "" {
		errs = append(errs, errors.New("portal.hostname is required"))
	}
	if cfg.Portal.FallbackIP == "" {
		errs = append(errs, errors.New("portal.fallback_ip is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
