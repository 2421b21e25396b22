// Package resolver turns the on-disk catalog — the fixed system-app name
// list, a scan of the binary directory, and the portal credentials file —
// into the authoritative system and client application sets, per §4.1.
//
// Both entrypoints are idempotent: re-running either one simply produces a
// fresh map that replaces the prior one wholesale in the registry.
package resolver

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
)

// SelfName is the literal system-app name the manager uses to refer to
// itself, exempt from the "ais_" prefix convention.
const SelfName = "ais_manager"

// systemAppBaseNames is the closed set of system applications, before the
// "ais_" prefix (and before the "self" special case) is applied.
var systemAppBaseNames = []string{"gitmon", "mailler"}

// maxCatalogEntries bounds how many client binaries a single resolve pass
// will import, guarding against an unbounded directory from stalling a
// reconciler tick.
const maxCatalogEntries = 600

// Resolver reads catalog inputs from disk and writes the resolved sets into
// a Registry.
type Resolver struct {
	BinDir          string
	StateFilePattern string // e.g. "/tmp/.%s.state"
	EnvFilePattern   string // e.g. "/etc/%s/.env"
	CredentialsPath  string

	Logger *slog.Logger
}

// New constructs a Resolver. logger defaults to slog.Default() if nil.
func New(binDir, stateFilePattern, envFilePattern, credentialsPath string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		BinDir:           binDir,
		StateFilePattern: stateFilePattern,
		EnvFilePattern:   envFilePattern,
		CredentialsPath:  credentialsPath,
		Logger:           logger,
	}
}

// systemAppNames returns the full, prefixed closed set, with SelfName last.
func systemAppNames() []string {
	names := make([]string, 0, len(systemAppBaseNames)+1)
	for _, base := range systemAppBaseNames {
		names = append(names, "ais_"+base)
	}
	names = append(names, SelfName)
	return names
}

// ResolveSystem loads state for every name in the closed system-app set,
// silently keeping an empty state for any whose state file is absent, and replaces the
// registry's system catalog with the result.
func (r *Resolver) ResolveSystem(reg *registry.Registry) error {
	entries := make(map[string]state.AppCatalogEntry)

	for _, name := range systemAppNames() {
		path := filepath.Join(r.BinDir, name)
		entry := state.AppCatalogEntry{
			Name:   name,
			OnDisk: path,
			Exists: fileExists(path) || name == SelfName,
		}

		statePath := fmt.Sprintf(r.StateFilePattern, name)
		if fileExists(statePath) {
			st, err := loadAppState(statePath)
			if err != nil {
				r.Logger.Warn("resolver: skip system app with unreadable state",
					slog.String("app", name), slog.Any("error", err))
			} else {
				entry.Config.State = *st
			}
		}

		entries[name] = entry
	}

	if err := reg.ReplaceSystemCatalog(entries); err != nil {
		return fmt.Errorf("resolver: resolve system: %w", err)
	}
	return nil
}

// ResolveClient lists the binary directory, filters to names present in the
// portal credentials file and absent from the system-app set, loads each
// survivor's (required) state file and (optional) environment file, and
// replaces the registry's client catalog with the result.
func (r *Resolver) ResolveClient(reg *registry.Registry) error {
	names, err := listBinaryDir(r.BinDir)
	if err != nil {
		return fmt.Errorf("resolver: resolve client: read bin dir: %w", err)
	}

	projectIDs, err := loadCredentials(r.CredentialsPath)
	if err != nil {
		return fmt.Errorf("resolver: resolve client: %w", err)
	}

	sysSet := make(map[string]struct{}, len(systemAppBaseNames)+1)
	for _, n := range systemAppNames() {
		sysSet[n] = struct{}{}
	}

	entries := make(map[string]state.AppCatalogEntry)
	imported := 0

	for _, name := range names {
		if imported >= maxCatalogEntries {
			r.Logger.Warn("resolver: client catalog truncated at cap",
				slog.Int("cap", maxCatalogEntries))
			break
		}
		if _, isSystem := sysSet[name]; isSystem {
			continue
		}
		stripped := strings.TrimPrefix(name, "ais_")
		if _, ok := projectIDs[stripped]; !ok {
			continue
		}

		path := filepath.Join(r.BinDir, name)
		statePath := fmt.Sprintf(r.StateFilePattern, name)

		if !fileExists(statePath) {
			r.Logger.Warn("resolver: skip client app with missing required state",
				slog.String("app", name))
			continue
		}
		st, err := loadAppState(statePath)
		if err != nil {
			r.Logger.Warn("resolver: skip client app with unreadable state",
				slog.String("app", name), slog.Any("error", err))
			continue
		}

		entry := state.AppCatalogEntry{
			Name:   name,
			OnDisk: path,
			Exists: fileExists(path),
			Config: state.ApplicationConfig{State: *st},
		}

		envPath := fmt.Sprintf(r.EnvFilePattern, name)
		if fileExists(envPath) {
			env, err := loadEnvironment(envPath)
			if err != nil {
				r.Logger.Warn("resolver: ignoring unparseable environment file",
					slog.String("app", name), slog.Any("error", err))
			} else {
				entry.Config.Environment = env
			}
		}

		entries[name] = entry
		imported++
	}

	if err := reg.ReplaceClientCatalog(entries); err != nil {
		return fmt.Errorf("resolver: resolve client: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func listBinaryDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func loadAppState(path string) (*state.AppState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st state.AppState
	if err := yaml.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfigParsing, err)
	}
	return &st, nil
}

func loadEnvironment(path string) (*state.Environment, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env state.Environment
	if err := yaml.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConfigParsing, err)
	}
	return &env, nil
}

// credentialsFile is the on-disk shape of the portal credentials file: a
// flat list of project identifiers (already hashed) that gate which
// discovered binaries are adopted as client applications.
type credentialsFile struct {
	Projects []string `yaml:"projects"`
}

// loadCredentials reads the portal credentials file and returns its
// project-id set. A missing or malformed file is a global failure: it
// propagates rather than being swallowed per-entry, per §4.1's error
// policy.
func loadCredentials(path string) (map[string]struct{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading portal credentials: %v", apperrors.ErrConfigParsing, err)
	}
	var cf credentialsFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return nil, fmt.Errorf("%w: parsing portal credentials: %v", apperrors.ErrConfigParsing, err)
	}
	out := make(map[string]struct{}, len(cf.Projects))
	for _, p := range cf.Projects {
		out[p] = struct{}{}
	}
	return out, nil
}
