package supervised

import (
	"errors"
	"os"
	"testing"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
)

func TestReclaim_Self(t *testing.T) {
	pid := os.Getpid()
	s, err := Reclaim(pid)
	if err != nil {
		t.Fatalf("Reclaim(self) = %v, want nil error", err)
	}
	if s.Pid() != pid {
		t.Errorf("Pid() = %d, want %d", s.Pid(), pid)
	}
	if s.Kind != Adopted {
		t.Errorf("Kind = %v, want Adopted", s.Kind)
	}
	if !s.Running() {
		t.Error("Running() = false for the test process itself")
	}
}

func TestReclaim_NonexistentPid(t *testing.T) {
	// A PID unlikely to exist: far above typical pid_max and not reused
	// within a single test run.
	_, err := Reclaim(999999)
	if !errors.Is(err, apperrors.ErrNoSuchSupervisedProcess) {
		t.Errorf("Reclaim(999999) = %v, want ErrNoSuchSupervisedProcess", err)
	}
}

func TestReclaim_InvalidPid(t *testing.T) {
	_, err := Reclaim(0)
	if !errors.Is(err, apperrors.ErrNoSuchSupervisedProcess) {
		t.Errorf("Reclaim(0) = %v, want ErrNoSuchSupervisedProcess", err)
	}
	_, err = Reclaim(-5)
	if !errors.Is(err, apperrors.ErrNoSuchSupervisedProcess) {
		t.Errorf("Reclaim(-5) = %v, want ErrNoSuchSupervisedProcess", err)
	}
}

func TestMonitor_StoreLoadTerminate(t *testing.T) {
	m := &Monitor{}
	if m.Stopped() {
		t.Fatal("new Monitor reports Stopped()")
	}
	m.Store(42.0, 17.5)
	cpu, mem := m.Load()
	if cpu != 42.0 || mem != 17.5 {
		t.Errorf("Load() = (%v, %v), want (42.0, 17.5)", cpu, mem)
	}
	m.Terminate()
	if !m.Stopped() {
		t.Error("Stopped() = false after Terminate()")
	}
}

func TestNewOwnedChild(t *testing.T) {
	s := NewOwnedChild(1234)
	if s.Kind != OwnedChild {
		t.Errorf("Kind = %v, want OwnedChild", s.Kind)
	}
	if s.Pid() != 1234 {
		t.Errorf("Pid() = %d, want 1234", s.Pid())
	}
	if s.Monitor() == nil {
		t.Error("Monitor() is nil")
	}
}

func TestSupervised_TerminateMonitor(t *testing.T) {
	s := NewOwnedChild(1234)
	s.TerminateMonitor()
	if !s.Monitor().Stopped() {
		t.Error("TerminateMonitor did not stop the underlying Monitor")
	}
}
