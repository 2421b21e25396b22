package observability

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artisan-hosting/ais_manager/internal/state"
)

func TestMetrics_HandlerServesObservedSamples(t *testing.T) {
	m := New()
	m.ObserveReconcile(0.25)
	m.ObserveLockWait("status", 0.01)
	m.SetAppStatus("ais_gitmon", state.StatusRunning)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()

	for _, want := range []string{
		"ais_manager_reconciler_tick_duration_seconds",
		`ais_manager_registry_lock_wait_seconds_bucket{resource="status"`,
		`ais_manager_app_status{app_name="ais_gitmon"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q, got:\n%s", want, body)
		}
	}
}

func TestMetrics_UsesPrivateRegistryNotDefault(t *testing.T) {
	m1 := New()
	m2 := New()

	m1.ObserveReconcile(1)
	m2.ObserveReconcile(2)

	rec := httptest.NewRecorder()
	m1.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if strings.Count(rec.Body.String(), "ais_manager_reconciler_tick_duration_seconds_count") != 1 {
		t.Error("expected each Metrics instance's registry to be independent")
	}
}
