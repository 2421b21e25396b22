package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artisan-hosting/ais_manager/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
listen_addr: "0.0.0.0:9800"
catalog:
  bin_dir: "/opt/artisan/bin"
  credentials_path: "/etc/artisan/portal.credentials"
portal:
  hostname: "portal.artisan.internal"
  fallback_ip: "10.0.0.1"
log_level: debug
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9800" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Catalog.CredentialsPath != "/etc/artisan/portal.credentials" {
		t.Errorf("Catalog.CredentialsPath = %q", cfg.Catalog.CredentialsPath)
	}
	if cfg.Portal.Hostname != "portal.artisan.internal" {
		t.Errorf("Portal.Hostname = %q", cfg.Portal.Hostname)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	yaml := `
catalog:
  credentials_path: "/etc/artisan/portal.credentials"
portal:
  hostname: "portal.artisan.internal"
  fallback_ip: "10.0.0.1"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.ListenAddr != "0.0.0.0:9800" {
		t.Errorf("default ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.Catalog.BinDir != "/opt/artisan/bin" {
		t.Errorf("default Catalog.BinDir = %q", cfg.Catalog.BinDir)
	}
	if cfg.Catalog.StateFilePattern != "/tmp/.%s.state" {
		t.Errorf("default Catalog.StateFilePattern = %q", cfg.Catalog.StateFilePattern)
	}
	if cfg.LedgerPath != "/opt/artisan/ladger.json" {
		t.Errorf("default LedgerPath = %q", cfg.LedgerPath)
	}
	if cfg.Portal.Port != 9801 {
		t.Errorf("default Portal.Port = %d, want 9801", cfg.Portal.Port)
	}
	if cfg.ReconcileInterval.Seconds() != 1 {
		t.Errorf("default ReconcileInterval = %v, want 1s", cfg.ReconcileInterval)
	}
}

func TestLoadConfig_MissingCredentialsPath(t *testing.T) {
	yaml := `
portal:
  hostname: "portal.artisan.internal"
  fallback_ip: "10.0.0.1"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing credentials_path, got nil")
	}
	if !strings.Contains(err.Error(), "credentials_path") {
		t.Errorf("error %q does not mention credentials_path", err.Error())
	}
}

func TestLoadConfig_MissingPortalHostname(t *testing.T) {
	yaml := `
catalog:
  credentials_path: "/etc/artisan/portal.credentials"
portal:
  fallback_ip: "10.0.0.1"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing portal.hostname, got nil")
	}
	if !strings.Contains(err.Error(), "hostname") {
		t.Errorf("error %q does not mention hostname", err.Error())
	}
}

func TestLoadConfig_InvalidLogLevel(t *testing.T) {
	yaml := `
catalog:
  credentials_path: "/etc/artisan/portal.credentials"
portal:
  hostname: "portal.artisan.internal"
  fallback_ip: "10.0.0.1"
log_level: "verbose"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err.Error())
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := config.LoadConfig(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTemp(t, ":::invalid yaml:::")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoadConfig_MultipleErrorsJoined(t *testing.T) {
	yaml := `log_level: "verbose"`
	path := writeTemp(t, yaml)
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"credentials_path", "hostname", "fallback_ip", "log_level"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}
