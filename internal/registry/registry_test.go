package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/supervised"
)

func newTestRegistry() *Registry {
	return New(100 * time.Millisecond)
}

func TestRegistry_StatusPutGetDelete(t *testing.T) {
	r := newTestRegistry()
	id := state.NewAppId("machine-1", "myapp")
	status := &state.AppStatus{AppID: id}

	if err := r.PutStatus(id, status); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}
	got, err := r.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.AppID != status.AppID {
		t.Errorf("Status returned AppID %v, want %v", got.AppID, status.AppID)
	}

	if err := r.DeleteStatus(id); err != nil {
		t.Fatalf("DeleteStatus: %v", err)
	}
	if _, err := r.Status(id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Status after delete = %v, want ErrNotFound", err)
	}
}

func TestRegistry_AllStatusesIsSnapshot(t *testing.T) {
	r := newTestRegistry()
	id := state.NewAppId("machine-1", "myapp")
	if err := r.PutStatus(id, &state.AppStatus{AppID: id}); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}

	snap, err := r.AllStatuses()
	if err != nil {
		t.Fatalf("AllStatuses: %v", err)
	}
	delete(snap, id)

	if _, err := r.Status(id); err != nil {
		t.Errorf("mutating the snapshot affected the registry: %v", err)
	}
}

func TestRegistry_SystemAndClientHandlersAreIndependent(t *testing.T) {
	r := newTestRegistry()
	id := state.NewAppId("machine-1", "sysapp")

	h, err := supervised.Reclaim(1)
	if err == nil {
		// The reclaimed pid-1 handle is not used: the test always puts an
		// owned-child handle with a fixed PID, so the map plumbing is
		// exercised the same way whether or not pid 1 is reachable.
		_ = h
	}
	owned := supervised.NewOwnedChild(99999)

	if err := r.PutSystemHandler(id, owned); err != nil {
		t.Fatalf("PutSystemHandler: %v", err)
	}
	if _, err := r.ClientHandler(id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("ClientHandler found an entry put only in the system map")
	}
	got, err := r.SystemHandler(id)
	if err != nil {
		t.Fatalf("SystemHandler: %v", err)
	}
	if got.Pid() != 99999 {
		t.Errorf("SystemHandler.Pid() = %d, want 99999", got.Pid())
	}

	if err := r.DeleteSystemHandler(id); err != nil {
		t.Fatalf("DeleteSystemHandler: %v", err)
	}
	if _, err := r.SystemHandler(id); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("SystemHandler after delete = %v, want ErrNotFound", err)
	}
}

func TestRegistry_LedgerRoundTrip(t *testing.T) {
	r := newTestRegistry()
	m := state.LatestMetrics{AppName: "myapp", CPUUsage: 12.5, RecordedAt: state.Now()}
	if err := r.PutLedgerEntry("myapp", m); err != nil {
		t.Fatalf("PutLedgerEntry: %v", err)
	}
	snap, err := r.LedgerSnapshot()
	if err != nil {
		t.Fatalf("LedgerSnapshot: %v", err)
	}
	if snap["myapp"].CPUUsage != 12.5 {
		t.Errorf("ledger entry CPUUsage = %v, want 12.5", snap["myapp"].CPUUsage)
	}

	if err := r.LoadLedger(nil); err != nil {
		t.Fatalf("LoadLedger(nil): %v", err)
	}
	snap, err = r.LedgerSnapshot()
	if err != nil {
		t.Fatalf("LedgerSnapshot after LoadLedger(nil): %v", err)
	}
	if len(snap) != 0 {
		t.Errorf("LoadLedger(nil) left %d entries, want 0", len(snap))
	}
}

func TestRegistry_PortalEndpoints(t *testing.T) {
	r := newTestRegistry()
	ep := state.PortalEndpoint{Address: "10.0.0.5", Port: 9801}
	if err := r.PutPortalEndpoint(ep); err != nil {
		t.Fatalf("PutPortalEndpoint: %v", err)
	}
	snap, err := r.PortalEndpoints()
	if err != nil {
		t.Fatalf("PortalEndpoints: %v", err)
	}
	if got := snap["10.0.0.5"]; got.Port != 9801 {
		t.Errorf("endpoint port = %d, want 9801", got.Port)
	}
}

func TestRegistry_CatalogsAreIndependent(t *testing.T) {
	r := newTestRegistry()
	if err := r.PutSystemCatalogEntry("sysapp", state.AppCatalogEntry{Name: "sysapp", Exists: true}); err != nil {
		t.Fatalf("PutSystemCatalogEntry: %v", err)
	}
	sys, err := r.SystemCatalog()
	if err != nil {
		t.Fatalf("SystemCatalog: %v", err)
	}
	if _, ok := sys["sysapp"]; !ok {
		t.Fatal("system catalog missing entry")
	}
	client, err := r.ClientCatalog()
	if err != nil {
		t.Fatalf("ClientCatalog: %v", err)
	}
	if _, ok := client["sysapp"]; ok {
		t.Error("client catalog unexpectedly contains a system-only entry")
	}
}

func TestRegistry_IdentityRoundTrip(t *testing.T) {
	r := newTestRegistry()
	r.SetIdentity("machine-xyz")
	if got := r.Identity(); got != "machine-xyz" {
		t.Errorf("Identity() = %q, want %q", got, "machine-xyz")
	}
}

func TestRegistry_ResetHandlersClearsBothMaps(t *testing.T) {
	r := newTestRegistry()
	sysID := state.NewAppId("machine-1", "gitmon")
	clientID := state.NewAppId("machine-1", "widget")

	if err := r.PutSystemHandler(sysID, supervised.NewOwnedChild(1)); err != nil {
		t.Fatalf("PutSystemHandler: %v", err)
	}
	if err := r.PutClientHandler(clientID, supervised.NewOwnedChild(2)); err != nil {
		t.Fatalf("PutClientHandler: %v", err)
	}

	if err := r.ResetHandlers(); err != nil {
		t.Fatalf("ResetHandlers: %v", err)
	}

	if _, err := r.SystemHandler(sysID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("SystemHandler after reset = %v, want ErrNotFound", err)
	}
	if _, err := r.ClientHandler(clientID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("ClientHandler after reset = %v, want ErrNotFound", err)
	}
}

// blockingLocker never succeeds, so lockTimeout/rLockTimeout are forced to
// time out — exercising the ErrLockTimeout path independent of a real
// sync.RWMutex contention scenario.
type blockingLocker struct{}

func (blockingLocker) TryLock() bool   { return false }
func (blockingLocker) Unlock()         {}
func (blockingLocker) TryRLock() bool  { return false }
func (blockingLocker) RUnlock()        {}

func TestLockTimeout_Expires(t *testing.T) {
	err := lockTimeout(blockingLocker{}, 20*time.Millisecond)
	if !errors.Is(err, apperrors.ErrLockTimeout) {
		t.Errorf("lockTimeout = %v, want ErrLockTimeout", err)
	}
}

func TestRLockTimeout_Expires(t *testing.T) {
	err := rLockTimeout(blockingLocker{}, 20*time.Millisecond)
	if !errors.Is(err, apperrors.ErrLockTimeout) {
		t.Errorf("rLockTimeout = %v, want ErrLockTimeout", err)
	}
}
