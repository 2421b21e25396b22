// Package reconcile implements the Status Reconciler (§4.5): the single
// task that runs a fixed seven-phase sequence on a ~1s cadence, each phase
// separated by a short sleep so other tasks can interleave, to bring the
// shared status registry back in line with what is actually running and
// what every managed app has self-reported.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/monitor"
	"github.com/artisan-hosting/ais_manager/internal/procfs"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/supervised"
)

// timeoutWindow is how long an app can go without self-reporting before
// calculateUptime considers it timed out.
const timeoutWindow = 30 * time.Second

// maxErrorLog and maxOutputLines bound how much of an app's self-reported
// error/stdout/stderr history phase 6/7 keep per pass.
const (
	maxErrorLog    = 5
	maxOutputLines = 500
)

// phaseDelay separates each of the seven phases within one pass.
const phaseDelay = 150 * time.Millisecond

// resolver is the subset of *resolver.Resolver the reconciler needs.
type resolver interface {
	ResolveSystem(reg *registry.Registry) error
	ResolveClient(reg *registry.Registry) error
}

// Reconciler drives one Registry through the seven-phase pass.
type Reconciler struct {
	Registry  *registry.Registry
	Resolver  resolver
	Monitor   *monitor.ResourceMonitor
	MachineID string
	Logger    *slog.Logger

	// OnTick, if set, is called after every RunOnce invoked through Run
	// with that pass's wall-clock duration in seconds — the hook
	// internal/observability's Metrics.ObserveReconcile attaches to.
	OnTick func(seconds float64)
}

// New constructs a Reconciler. logger defaults to slog.Default() if nil.
func New(reg *registry.Registry, res resolver, mon *monitor.ResourceMonitor, machineID string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Registry: reg, Resolver: res, Monitor: mon, MachineID: machineID, Logger: logger}
}

// Run loops RunOnce every interval until ctx is done.
func (rc *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		err := rc.RunOnce(ctx)
		if rc.OnTick != nil {
			rc.OnTick(time.Since(start).Seconds())
		}
		if err != nil {
			rc.Logger.Error("reconcile: pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce executes the seven phases in order, sleeping phaseDelay between
// each so other tasks get a chance to interleave.
func (rc *Reconciler) RunOnce(ctx context.Context) error {
	phases := []func(context.Context) error{
		rc.adoptNewSystemApps,
		rc.adoptNewClientApps,
		rc.sampleSystemApps,
		rc.sampleClientApps,
		rc.reapDeadHandlers,
		rc.importClientStateFiles,
		rc.importSystemStateFiles,
	}

	for i, phase := range phases {
		if err := phase(ctx); err != nil {
			rc.Logger.Warn("reconcile: phase failed", slog.Int("phase", i+1), slog.Any("error", err))
		}
		if i < len(phases)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(phaseDelay):
			}
		}
	}
	return nil
}

// --- phases 1 & 2: adopt new system/client apps ---

func (rc *Reconciler) adoptNewSystemApps(context.Context) error {
	if err := rc.Resolver.ResolveSystem(rc.Registry); err != nil {
		return err
	}
	catalog, err := rc.Registry.SystemCatalog()
	if err != nil {
		return err
	}
	return rc.adopt(catalog, rc.Registry.SystemHandler, rc.Registry.PutSystemHandler)
}

func (rc *Reconciler) adoptNewClientApps(context.Context) error {
	if err := rc.Resolver.ResolveClient(rc.Registry); err != nil {
		return err
	}
	catalog, err := rc.Registry.ClientCatalog()
	if err != nil {
		return err
	}
	return rc.adopt(catalog, rc.Registry.ClientHandler, rc.Registry.PutClientHandler)
}

func (rc *Reconciler) adopt(
	catalog map[string]state.AppCatalogEntry,
	getHandler func(state.AppId) (*supervised.Supervised, error),
	putHandler func(state.AppId, *supervised.Supervised) error,
) error {
	for name, entry := range catalog {
		id := state.NewAppId(rc.MachineID, name)
		if _, err := getHandler(id); err == nil {
			continue // already adopted
		}

		h, err := supervised.Reclaim(entry.Config.State.PID)
		if err != nil {
			if !apperrors.IsExpected(err) {
				rc.Logger.Warn("reconcile: reclaim failed", slog.String("app", name), slog.Any("error", err))
			}
			continue
		}

		pid := h.Pid()
		if err := rc.Registry.UpsertStatus(id, func(status *state.AppStatus) {
			status.AppData = entry.Config
			status.AppData.State.PID = pid
			status.Timestamp = state.Now()
		}); err != nil {
			return err
		}
		if err := putHandler(id, h); err != nil {
			return err
		}
	}
	return nil
}

// --- phases 3 & 4: sample system/client apps ---

func (rc *Reconciler) sampleSystemApps(ctx context.Context) error {
	if rc.Monitor == nil {
		return nil
	}
	return rc.Monitor.SampleSystem(ctx)
}

func (rc *Reconciler) sampleClientApps(ctx context.Context) error {
	if rc.Monitor == nil {
		return nil
	}
	return rc.Monitor.SampleClient(ctx)
}

// --- phase 5: reap dead handlers ---

func (rc *Reconciler) reapDeadHandlers(context.Context) error {
	if err := rc.reapFrom(rc.Registry.SystemHandlerIds, rc.Registry.SystemHandler, rc.Registry.DeleteSystemHandler); err != nil {
		return err
	}
	return rc.reapFrom(rc.Registry.ClientHandlerIds, rc.Registry.ClientHandler, rc.Registry.DeleteClientHandler)
}

func (rc *Reconciler) reapFrom(
	listIds func() ([]state.AppId, error),
	getHandler func(state.AppId) (*supervised.Supervised, error),
	deleteHandler func(state.AppId) error,
) error {
	ids, err := listIds()
	if err != nil {
		return err
	}
	for _, id := range ids {
		h, err := getHandler(id)
		if err != nil {
			continue
		}
		if h.Running() {
			continue
		}

		h.TerminateMonitor()
		_ = rc.Registry.UpdateStatus(id, func(status *state.AppStatus) {
			status.SetStatus(state.StatusStopped)
			status.Metrics = nil
			status.Uptime = nil
			status.Timestamp = state.Now()
		})
		if err := deleteHandler(id); err != nil {
			return err
		}
	}
	return nil
}

// --- phases 6 & 7: import client/system state files ---

func (rc *Reconciler) importClientStateFiles(context.Context) error {
	catalog, err := rc.Registry.ClientCatalog()
	if err != nil {
		return err
	}
	return rc.importStateFiles(catalog)
}

func (rc *Reconciler) importSystemStateFiles(context.Context) error {
	catalog, err := rc.Registry.SystemCatalog()
	if err != nil {
		return err
	}
	return rc.importStateFiles(catalog)
}

func (rc *Reconciler) importStateFiles(catalog map[string]state.AppCatalogEntry) error {
	for name, entry := range catalog {
		id := state.NewAppId(rc.MachineID, name)
		latest := entry.Config.State

		err := rc.Registry.UpdateStatus(id, func(status *state.AppStatus) {
			status.AppData.State.Status = latest.Status
			status.AppData.State.ErrorLog = latest.ErrorLog
			status.AppData.State.Stdout = latest.Stdout
			status.AppData.State.Stderr = latest.Stderr
			status.AppData.State.LastUpdated = latest.LastUpdated
			status.AppData.State.EventCounter = latest.EventCounter

			pid := status.AppData.State.PID
			if pid <= 0 || !procfs.Alive(pid) {
				status.AppData.State.ErrorLog = nil
				status.SetStatus(state.StatusStopped)
			} else {
				status.AppData.State.ErrorLog = truncateTail(status.AppData.State.ErrorLog, maxErrorLog)
				status.AppData.State.Stdout = truncateTail(status.AppData.State.Stdout, maxOutputLines)
				status.AppData.State.Stderr = truncateTail(status.AppData.State.Stderr, maxOutputLines)
			}

			calculateUptime(status)
		})
		if err != nil {
			continue // no status entry yet; adoption phases own creating it
		}
	}
	return nil
}

func truncateTail(lines []string, max int) []string {
	if len(lines) <= max {
		return lines
	}
	return lines[len(lines)-max:]
}

// calculateUptime implements the calculate_uptime(app, state) policy: run
// check_balances first, then fold in the timed-out determination, then
// derive uptime from whether the app is currently "running".
func calculateUptime(status *state.AppStatus) {
	checkBalances(status)

	now := state.Now()
	pid := status.AppData.State.PID
	timedOut := status.AppData.State.LastUpdated <= now-int64(timeoutWindow.Seconds())

	if timedOut {
		switch {
		case pid > 0 && procfs.Alive(pid):
			status.SetStatus(state.StatusWarning)
			status.AppData.State.ErrorLog = append(status.AppData.State.ErrorLog,
				"TIMED OUT. LAST UPDATED "+timeString(status.AppData.State.LastUpdated))
			uptime := uint64(now - status.Timestamp)
			status.Uptime = &uptime
		case pid > 0:
			status.SetStatus(state.StatusStopped)
			status.Metrics = nil
			status.Uptime = nil
		default:
			status.Metrics = nil
			status.Uptime = nil
		}
	}

	running := status.Status() != state.StatusUnknown &&
		status.Status() != state.StatusStopping &&
		status.Status() != state.StatusStopped
	switch {
	case !running:
		status.Uptime = nil
	case running && !timedOut:
		uptime := uint64(now - status.Timestamp)
		status.Uptime = &uptime
	}
}

// checkBalances implements the check_balances(app) policy: a set of
// status-normalization rules applied before calculate_uptime's own
// timed-out logic.
func checkBalances(status *state.AppStatus) {
	now := state.Now()

	if status.Status() == state.StatusStopped {
		status.Timestamp = now
		status.Uptime = nil
	}
	if status.Status() == state.StatusRunning && status.HasErrors() {
		status.SetStatus(state.StatusWarning)
	}
	if status.Status() == state.StatusUnknown || status.Status() == state.StatusStopped {
		status.Metrics = nil
		status.AppData.State.ErrorLog = nil
		status.Timestamp = now
	}
	if status.Status() == state.StatusStopping {
		status.SetStatus(state.StatusStopped)
	}
}

func timeString(unixSeconds int64) string {
	return time.Unix(unixSeconds, 0).UTC().Format(time.RFC3339)
}
