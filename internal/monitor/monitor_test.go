package monitor

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/supervised"
)

func TestResourceMonitor_SampleSystem_UpdatesMonitorAndLedger(t *testing.T) {
	reg := registry.New(time.Second)
	id := state.NewAppId("machine-1", "self")

	h, err := supervised.Reclaim(os.Getpid())
	if err != nil {
		t.Fatalf("Reclaim(self): %v", err)
	}
	if err := reg.PutStatus(id, &state.AppStatus{
		AppID:   id,
		AppData: state.ApplicationConfig{State: state.AppState{Name: "self"}},
	}); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}
	if err := reg.PutSystemHandler(id, h); err != nil {
		t.Fatalf("PutSystemHandler: %v", err)
	}

	m := New(reg, nil, "", nil)
	if err := m.SampleSystem(context.Background()); err != nil {
		t.Fatalf("SampleSystem: %v", err)
	}

	status, err := reg.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Metrics == nil {
		t.Fatal("expected Metrics to be populated after a sample pass")
	}

	ledger, err := reg.LedgerSnapshot()
	if err != nil {
		t.Fatalf("LedgerSnapshot: %v", err)
	}
	if _, ok := ledger["self"]; !ok {
		t.Error("expected a ledger entry for \"self\" after sampling")
	}
}

func TestResourceMonitor_SampleSkipsDeadHandler(t *testing.T) {
	reg := registry.New(time.Second)
	id := state.NewAppId("machine-1", "deadapp")

	h := supervised.NewOwnedChild(999999) // not a live PID
	if err := reg.PutStatus(id, &state.AppStatus{AppID: id}); err != nil {
		t.Fatalf("PutStatus: %v", err)
	}
	if err := reg.PutSystemHandler(id, h); err != nil {
		t.Fatalf("PutSystemHandler: %v", err)
	}

	m := New(reg, nil, "", nil)
	if err := m.SampleSystem(context.Background()); err != nil {
		t.Fatalf("SampleSystem: %v", err)
	}

	status, err := reg.Status(id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Metrics != nil {
		t.Error("expected Metrics to remain nil for a dead handler")
	}
}
