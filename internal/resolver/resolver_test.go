package resolver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/registry"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestResolveSystem_SkipsMissingStateSilently(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, filepath.Join(dir, "state-%s.yaml"), filepath.Join(dir, "env-%s.yaml"), "", nil)
	reg := registry.New(time.Second)

	if err := r.ResolveSystem(reg); err != nil {
		t.Fatalf("ResolveSystem: %v", err)
	}
	cat, err := reg.SystemCatalog()
	if err != nil {
		t.Fatalf("SystemCatalog: %v", err)
	}
	if _, ok := cat[SelfName]; !ok {
		t.Errorf("system catalog missing self entry %q", SelfName)
	}
	if !cat[SelfName].Exists {
		t.Error("self entry should always report Exists = true")
	}
	if _, ok := cat["ais_gitmon"]; !ok {
		t.Error("system catalog missing ais_gitmon entry even with no state file")
	}
}

func TestResolveSystem_LoadsExistingState(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state-ais_gitmon.yaml")
	mustWrite(t, statePath, "name: ais_gitmon\nversion: \"1.0\"\npid: 42\n")

	r := New(dir, filepath.Join(dir, "state-%s.yaml"), filepath.Join(dir, "env-%s.yaml"), "", nil)
	reg := registry.New(time.Second)

	if err := r.ResolveSystem(reg); err != nil {
		t.Fatalf("ResolveSystem: %v", err)
	}
	cat, err := reg.SystemCatalog()
	if err != nil {
		t.Fatalf("SystemCatalog: %v", err)
	}
	if cat["ais_gitmon"].Config.State.PID != 42 {
		t.Errorf("PID = %d, want 42", cat["ais_gitmon"].Config.State.PID)
	}
}

func TestResolveClient_FiltersByCredentialsAndSystemSet(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	mustWrite(t, filepath.Join(binDir, "ais_myapp"), "binary")
	mustWrite(t, filepath.Join(binDir, "ais_untrusted"), "binary")
	mustWrite(t, filepath.Join(binDir, "ais_gitmon"), "binary") // in system set, must be excluded

	statePattern := filepath.Join(dir, "state-%s.yaml")
	mustWrite(t, filepath.Join(dir, "state-ais_myapp.yaml"), "name: ais_myapp\n")
	mustWrite(t, filepath.Join(dir, "state-ais_untrusted.yaml"), "name: ais_untrusted\n")

	credPath := filepath.Join(dir, "credentials.yaml")
	mustWrite(t, credPath, "projects:\n  - myapp\n")

	r := New(binDir, statePattern, filepath.Join(dir, "env-%s.yaml"), credPath, nil)
	reg := registry.New(time.Second)

	if err := r.ResolveClient(reg); err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	cat, err := reg.ClientCatalog()
	if err != nil {
		t.Fatalf("ClientCatalog: %v", err)
	}
	if _, ok := cat["ais_myapp"]; !ok {
		t.Error("client catalog missing ais_myapp")
	}
	if _, ok := cat["ais_untrusted"]; ok {
		t.Error("client catalog should not contain an app absent from credentials")
	}
	if _, ok := cat["ais_gitmon"]; ok {
		t.Error("client catalog should not contain a system-app name")
	}
}

func TestResolveClient_RequiresStateFile(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	mustWrite(t, filepath.Join(binDir, "ais_myapp"), "binary")

	credPath := filepath.Join(dir, "credentials.yaml")
	mustWrite(t, credPath, "projects:\n  - myapp\n")

	r := New(binDir, filepath.Join(dir, "state-%s.yaml"), filepath.Join(dir, "env-%s.yaml"), credPath, nil)
	reg := registry.New(time.Second)

	if err := r.ResolveClient(reg); err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	cat, err := reg.ClientCatalog()
	if err != nil {
		t.Fatalf("ClientCatalog: %v", err)
	}
	if _, ok := cat["ais_myapp"]; ok {
		t.Error("client catalog should exclude an app missing its required state file")
	}
}

func TestResolveClient_MissingCredentialsFilePropagates(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	mustWrite(t, filepath.Join(binDir, "ais_myapp"), "binary")

	r := New(binDir, filepath.Join(dir, "state-%s.yaml"), filepath.Join(dir, "env-%s.yaml"),
		filepath.Join(dir, "missing-credentials.yaml"), nil)
	reg := registry.New(time.Second)

	if err := r.ResolveClient(reg); err == nil {
		t.Fatal("expected error for missing credentials file, got nil")
	}
}

func TestResolveClient_OptionalEnvironment(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	mustWrite(t, filepath.Join(binDir, "ais_myapp"), "binary")
	mustWrite(t, filepath.Join(dir, "state-ais_myapp.yaml"), "name: ais_myapp\n")
	mustWrite(t, filepath.Join(dir, "env-ais_myapp.yaml"), "path: /srv/myapp\nvars:\n  FOO: bar\n")

	credPath := filepath.Join(dir, "credentials.yaml")
	mustWrite(t, credPath, "projects:\n  - myapp\n")

	r := New(binDir, filepath.Join(dir, "state-%s.yaml"), filepath.Join(dir, "env-%s.yaml"), credPath, nil)
	reg := registry.New(time.Second)

	if err := r.ResolveClient(reg); err != nil {
		t.Fatalf("ResolveClient: %v", err)
	}
	cat, err := reg.ClientCatalog()
	if err != nil {
		t.Fatalf("ClientCatalog: %v", err)
	}
	entry := cat["ais_myapp"]
	if entry.Config.Environment == nil {
		t.Fatal("expected environment to be parsed")
	}
	if entry.Config.Environment.Vars["FOO"] != "bar" {
		t.Errorf("env var FOO = %q, want bar", entry.Config.Environment.Vars["FOO"])
	}
}
