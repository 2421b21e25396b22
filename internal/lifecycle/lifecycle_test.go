package lifecycle

import (
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
)

// fakeUnit is an in-memory UnitService double so these tests never touch a
// real init system.
type fakeUnit struct {
	active      bool
	startErr    error
	stopErr     error
	restartErr  error
	isActiveErr error
	starts      int
	stops       int
	restarts    int
	kills       int
}

func (f *fakeUnit) IsActive() (bool, error) {
	if f.isActiveErr != nil {
		return false, f.isActiveErr
	}
	return f.active, nil
}

func (f *fakeUnit) Start() error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.active = true
	return nil
}

func (f *fakeUnit) Stop() error {
	f.stops++
	if f.stopErr != nil {
		return f.stopErr
	}
	f.active = false
	return nil
}

func (f *fakeUnit) Restart() error {
	f.restarts++
	return f.restartErr
}

func (f *fakeUnit) Kill() error {
	f.kills++
	f.active = false
	return nil
}

func (f *fakeUnit) Close() error {
	return nil
}

func newTestRegistry(t *testing.T, id state.AppId, pid int) (*registry.Registry, *fakeUnit) {
	t.Helper()
	reg := registry.New(time.Second)
	if err := reg.PutStatus(id, &state.AppStatus{
		AppID:   id,
		AppData: state.ApplicationConfig{State: state.AppState{Name: "widget", PID: pid}},
	}); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}
	return reg, &fakeUnit{}
}

func TestStartApplication_StartsInactiveUnit(t *testing.T) {
	id := state.NewAppId("machine-1", "widget")
	reg, unit := newTestRegistry(t, id, 0)

	ctrl := New(reg, func(string) (UnitService, error) { return unit, nil }, 0, nil)
	if err := ctrl.StartApplication(id); err != nil {
		t.Fatalf("StartApplication: %v", err)
	}
	if unit.starts != 1 {
		t.Errorf("expected 1 start, got %d", unit.starts)
	}
}

func TestStartApplication_StopsActiveUnit(t *testing.T) {
	id := state.NewAppId("machine-1", "widget")
	reg, unit := newTestRegistry(t, id, 0)
	unit.active = true

	ctrl := New(reg, func(string) (UnitService, error) { return unit, nil }, 0, nil)
	if err := ctrl.StartApplication(id); err != nil {
		t.Fatalf("StartApplication: %v", err)
	}
	if unit.kills != 1 {
		t.Errorf("expected StartApplication on an active unit to kill it, got %d kills", unit.kills)
	}
}

func TestStartApplication_UnknownId(t *testing.T) {
	reg := registry.New(time.Second)
	ctrl := New(reg, func(string) (UnitService, error) { return &fakeUnit{}, nil }, 0, nil)

	err := ctrl.StartApplication(state.NewAppId("machine-1", "ghost"))
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStopApplication_MarksStoppedAndClearsMetrics(t *testing.T) {
	id := state.NewAppId("machine-1", "widget")
	reg, unit := newTestRegistry(t, id, 0)
	unit.active = true

	ctrl := New(reg, func(string) (UnitService, error) { return unit, nil }, 0, nil)
	if err := ctrl.StopApplication(id); err != nil {
		t.Fatalf("StopApplication: %v", err)
	}

	status, err := reg.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status() != state.StatusStopped {
		t.Errorf("expected StatusStopped, got %v", status.Status())
	}
	if status.Metrics != nil {
		t.Error("expected Metrics cleared after stop")
	}
	if unit.kills != 1 {
		t.Errorf("expected 1 unit kill, got %d", unit.kills)
	}
}

func TestStopApplication_EscalatesToSigkillAfterGrace(t *testing.T) {
	// A real child process, so the SIGKILL escalation path has something
	// of its own to terminate rather than signaling the test runner.
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn test subprocess: %v", err)
	}
	// Wait is called exactly once below, by the goroutine that reaps the
	// child; this defer is only a safety net if the escalation path failed
	// to kill it, so tests don't leave a 30s sleep orphaned.
	defer func() { _ = cmd.Process.Kill() }()
	pid := cmd.Process.Pid

	id := state.NewAppId("machine-1", "widget")
	reg := registry.New(time.Second)
	if err := reg.PutStatus(id, &state.AppStatus{
		AppID:   id,
		AppData: state.ApplicationConfig{State: state.AppState{Name: "widget", PID: pid}},
	}); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}

	unit := &fakeUnit{active: true}
	// stubbornUnit reports itself as always active regardless of Kill calls,
	// simulating a unit that never converges, forcing escalation.
	stubborn := &stubbornUnit{fakeUnit: unit}
	ctrl := New(reg, func(string) (UnitService, error) { return stubborn, nil }, 0, nil)

	if err := ctrl.StopApplication(id); err != nil {
		t.Fatalf("StopApplication: %v", err)
	}
	if unit.kills != 1 {
		t.Errorf("expected unit Kill to be called once, got %d", unit.kills)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case err := <-waitErr:
		if err == nil {
			t.Error("expected child process to exit from SIGKILL, but Wait reported success")
		}
	case <-time.After(2 * time.Second):
		t.Error("expected SIGKILL escalation to terminate the child process")
	}
}

// stubbornUnit reports itself as always active regardless of Kill calls, to
// exercise the SIGKILL escalation path deterministically.
type stubbornUnit struct {
	*fakeUnit
}

func (s *stubbornUnit) IsActive() (bool, error) { return true, nil }

func TestReloadApplication_RequiresLivePid(t *testing.T) {
	id := state.NewAppId("machine-1", "widget")
	reg, unit := newTestRegistry(t, id, 999999)
	ctrl := New(reg, func(string) (UnitService, error) { return unit, nil }, 0, nil)

	err := ctrl.ReloadApplication(id)
	if !errors.Is(err, apperrors.ErrNoSuchSupervisedProcess) {
		t.Fatalf("expected ErrNoSuchSupervisedProcess, got %v", err)
	}
}

func TestReloadApplication_SignalsLiveProcess(t *testing.T) {
	// A subshell trapping SIGHUP so delivery doesn't tear down the child
	// (and, if something were wired wrong, this test process) under the
	// default terminate-on-SIGHUP disposition.
	cmd := exec.Command("sh", "-c", "trap : HUP; sleep 5")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn test subprocess: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	id := state.NewAppId("machine-1", "widget")
	reg, unit := newTestRegistry(t, id, cmd.Process.Pid)
	ctrl := New(reg, func(string) (UnitService, error) { return unit, nil }, 0, nil)

	if err := ctrl.ReloadApplication(id); err != nil {
		t.Fatalf("ReloadApplication: %v", err)
	}
}
