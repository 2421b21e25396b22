package pause

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
)

// resolver is the subset of *resolver.Resolver the dispatcher needs, kept
// as an interface so tests can substitute a fake without touching disk.
type resolver interface {
	ResolveSystem(reg *registry.Registry) error
	ResolveClient(reg *registry.Registry) error
}

// ledgerStore is the subset of *ledger.Store the dispatcher needs to flush
// the usage ledger on shutdown, kept as an interface so tests can
// substitute an in-memory fake instead of opening a real database.
type ledgerStore interface {
	Save(state.UsageLedger) error
}

// Dispatcher is the Signal & Pause Gate (§4.7): it owns the Gate, installs
// the OS signal listener, and carries out reload and the shutdown flush
// sequence.
type Dispatcher struct {
	Gate     *Gate
	Registry *registry.Registry
	Resolver resolver

	// Ledger is where shutdown persists the usage ledger snapshot.
	Ledger ledgerStore

	// RegisteredAppsPath is where shutdown persists the status registry
	// snapshot.
	RegisteredAppsPath string

	// SelfID and SelfStatePath locate the supervisor's own status entry
	// and the file its wind-down state gets written to.
	SelfID        state.AppId
	SelfStatePath string

	Logger *slog.Logger

	// Exit is called with the shutdown flush's result code. Defaults to
	// os.Exit; overridable so tests can observe the code without actually
	// terminating the test binary.
	Exit func(code int)
}

// NewDispatcher constructs a Dispatcher. The logger defaults to
// slog.Default() and Exit defaults to os.Exit.
func NewDispatcher(gate *Gate, reg *registry.Registry, res resolver) *Dispatcher {
	return &Dispatcher{
		Gate:     gate,
		Registry: reg,
		Resolver: res,
		Logger:   slog.Default(),
		Exit:     os.Exit,
	}
}

// Listen installs the signal handlers and blocks, dispatching SIGHUP to
// Reload and SIGUSR1/SIGINT to Shutdown, until ctx is done.
func (d *Dispatcher) Listen(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGINT)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				d.Logger.Info("pause: received SIGHUP, reloading")
				if err := d.Reload(); err != nil {
					d.Logger.Error("pause: reload failed", slog.Any("error", err))
				}
			case syscall.SIGUSR1, syscall.SIGINT:
				d.Logger.Info("pause: received shutdown signal", slog.String("signal", sig.String()))
				d.Shutdown()
				return
			}
		}
	}
}

// Reload pauses the gate, drops every handler so the reconciler re-adopts
// every managed process on its next pass, re-runs both resolvers, and
// resumes the gate.
func (d *Dispatcher) Reload() error {
	d.Gate.Pause()
	defer d.Gate.Resume()

	if err := d.Registry.ResetHandlers(); err != nil {
		return err
	}
	if err := d.Resolver.ResolveSystem(d.Registry); err != nil {
		return err
	}
	if err := d.Resolver.ResolveClient(d.Registry); err != nil {
		return err
	}
	return nil
}

// Shutdown runs the wind-down flush: pause the gate, persist the usage
// ledger, persist the status registry as "registered_apps", wind-down
// persist the supervisor's own state (status=Terminated, "wind down
// requested" pushed to its error log), then exit 0 — or exit 1 if any
// persist step failed. The gate is never resumed: the process is exiting.
func (d *Dispatcher) Shutdown() {
	d.Gate.Pause()

	if err := d.persistLedger(); err != nil {
		d.Logger.Error("pause: shutdown: persist ledger failed", slog.Any("error", err))
		d.Exit(1)
		return
	}
	if err := d.persistRegisteredApps(); err != nil {
		d.Logger.Error("pause: shutdown: persist registered apps failed", slog.Any("error", err))
		d.Exit(1)
		return
	}
	if err := d.persistSelfWindDown(); err != nil {
		d.Logger.Error("pause: shutdown: persist self state failed", slog.Any("error", err))
		d.Exit(1)
		return
	}

	d.Logger.Info("pause: shutdown flush complete")
	d.Exit(0)
}

func (d *Dispatcher) persistLedger() error {
	if d.Ledger == nil {
		return nil
	}
	snapshot, err := d.Registry.LedgerSnapshot()
	if err != nil {
		return err
	}
	return d.Ledger.Save(snapshot)
}

func (d *Dispatcher) persistRegisteredApps() error {
	statuses, err := d.Registry.AllStatuses()
	if err != nil {
		return err
	}
	return writeJSON(d.RegisteredAppsPath, statuses)
}

func (d *Dispatcher) persistSelfWindDown() error {
	if d.SelfStatePath == "" {
		return nil
	}
	var (
		appState state.AppState
		found    bool
	)
	err := d.Registry.UpdateStatus(d.SelfID, func(status *state.AppStatus) {
		status.SetStatus(state.StatusTerminated)
		status.AppData.State.ErrorLog = append(status.AppData.State.ErrorLog, "wind down requested")
		appState = status.AppData.State
		found = true
	})
	if err != nil || !found {
		// No self status entry yet (e.g. never resolved) — nothing to
		// wind-down persist.
		return nil
	}

	b, err := yaml.Marshal(appState)
	if err != nil {
		return err
	}
	return os.WriteFile(d.SelfStatePath, b, 0o644)
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
