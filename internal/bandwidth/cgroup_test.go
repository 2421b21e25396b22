package bandwidth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScanCgroupServices(t *testing.T) {
	root := t.TempDir()
	mkService := func(name string, pids string) {
		dir := filepath.Join(root, name+".service")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "cgroup.procs"), []byte(pids), 0o644); err != nil {
			t.Fatalf("write cgroup.procs: %v", err)
		}
	}
	mkService("myapp", "100\n101\n")
	mkService("otherapp", "200\n")
	// A non-.service directory must be ignored.
	if err := os.MkdirAll(filepath.Join(root, "not-a-unit"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := scanCgroupServices(root)
	if err != nil {
		t.Fatalf("scanCgroupServices: %v", err)
	}
	want := map[int]string{100: "myapp", 101: "myapp", 200: "otherapp"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(got), len(want), got)
	}
	for pid, svc := range want {
		if got[pid] != svc {
			t.Errorf("pid %d -> %q, want %q", pid, got[pid], svc)
		}
	}
}

func TestScanCgroupServices_MissingRoot(t *testing.T) {
	_, err := scanCgroupServices(filepath.Join(t.TempDir(), "nonexistent"))
	if err == nil {
		t.Fatal("expected error for a missing cgroup root")
	}
}

func TestScanCgroupServices_SkipsUnreadableUnit(t *testing.T) {
	root := t.TempDir()
	// A .service directory with no cgroup.procs file at all.
	if err := os.MkdirAll(filepath.Join(root, "broken.service"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, err := scanCgroupServices(root)
	if err != nil {
		t.Fatalf("scanCgroupServices: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no entries, got %v", got)
	}
}
