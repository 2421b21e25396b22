// Package apphost wires the global context singleton (§9): one object,
// constructed once at startup and passed by shared reference to every
// task, replacing the source's module-level registries.
//
// Grounded on the teacher's cmd/agent/main.go wiring sequence (config load
// -> component construction -> task spawn) generalized from one agent
// orchestrator into this supervisor's full component graph.
package apphost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/bandwidth"
	"github.com/artisan-hosting/ais_manager/internal/config"
	"github.com/artisan-hosting/ais_manager/internal/identity"
	"github.com/artisan-hosting/ais_manager/internal/ledger"
	"github.com/artisan-hosting/ais_manager/internal/lifecycle"
	"github.com/artisan-hosting/ais_manager/internal/monitor"
	"github.com/artisan-hosting/ais_manager/internal/observability"
	"github.com/artisan-hosting/ais_manager/internal/pause"
	"github.com/artisan-hosting/ais_manager/internal/portal"
	"github.com/artisan-hosting/ais_manager/internal/reconcile"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/resolver"
	"github.com/artisan-hosting/ais_manager/internal/rpc"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/summary"
)

// SelfName is this supervisor's own app name, used for the self-stop/
// self-restart override both the pause dispatcher and the command
// dispatcher honor.
const SelfName = resolver.SelfName

// identityPath and selfStatePath are the supervisor's own on-disk
// bookkeeping files, distinct from the per-managed-app state files the
// resolver reads.
const (
	identityPath  = "/opt/artisan/identity.yaml"
	selfStatePath = "/opt/artisan/ais_manager.state"
)

// Context is the global context singleton: every component any task
// needs, constructed once and shared by reference.
type Context struct {
	Config    *config.Config
	Logger    *slog.Logger
	StartedAt time.Time

	Identity   *identity.Identifier
	Registry   *registry.Registry
	Resolver   *resolver.Resolver
	Bandwidth  *bandwidth.Tracker
	Monitor    *monitor.ResourceMonitor
	Reconciler *reconcile.Reconciler
	Lifecycle  *lifecycle.Controller
	Gate       *pause.Gate
	Dispatcher *pause.Dispatcher
	Ledger     *ledger.Store
	Persister  *ledger.Persister
	Summary    *summary.Composer
	Portal     *portal.Client
	RPC        *rpc.Dispatcher
	Metrics    *observability.Metrics
}

// Build performs the full startup sequence (§9): identity -> config ->
// persisted state -> bandwidth tracker -> resolvers -> component wiring.
// cfg must already be loaded and validated.
func Build(cfg *config.Config, version, gitConfig string, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	id, err := identity.LoadOrCreate(identityPath, hostname)
	if err != nil {
		return nil, fmt.Errorf("apphost: load identity: %w", err)
	}
	id.Display(logger)

	reg := registry.New(cfg.LockTimeout)
	reg.SetIdentity(id.MachineID)

	metrics := observability.New()
	registry.SetLockWaitObserver(metrics.ObserveLockWait)

	ledgerStore, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("apphost: open ledger: %w", err)
	}
	snapshot, err := ledgerStore.Load()
	if err != nil {
		return nil, fmt.Errorf("apphost: load ledger: %w", err)
	}
	if err := reg.LoadLedger(snapshot); err != nil {
		return nil, fmt.Errorf("apphost: seed ledger: %w", err)
	}

	bw, err := bandwidth.New()
	if err != nil {
		return nil, fmt.Errorf("apphost: init bandwidth tracker: %w", err)
	}

	res := resolver.New(cfg.Catalog.BinDir, cfg.Catalog.StateFilePattern,
		cfg.Catalog.EnvFilePattern, cfg.Catalog.CredentialsPath, logger)

	if err := res.ResolveSystem(reg); err != nil {
		return nil, fmt.Errorf("apphost: resolve system apps: %w", err)
	}
	if err := res.ResolveClient(reg); err != nil {
		return nil, fmt.Errorf("apphost: resolve client apps: %w", err)
	}

	mon := monitor.New(reg, bw, cfg.Catalog.CgroupRoot, logger)

	rec := reconcile.New(reg, res, mon, id.MachineID, logger)
	rec.OnTick = func(seconds float64) {
		metrics.ObserveReconcile(seconds)
		reportAppStatuses(reg, metrics)
	}

	lc := lifecycle.New(reg, lifecycle.OpenSystemdUnit, 10*time.Second, logger)

	gate := pause.New()
	dispatcher := pause.NewDispatcher(gate, reg, res)
	dispatcher.Ledger = ledgerStore
	dispatcher.RegisteredAppsPath = cfg.RegisteredAppsPath
	dispatcher.SelfID = state.NewAppId(id.MachineID, SelfName)
	dispatcher.SelfStatePath = selfStatePath

	persister := ledger.NewPersister(reg, ledgerStore, logger)

	sum := summary.New(reg, version, gitConfig, time.Now(), logger)

	portalClient := portal.New(reg, id, identity.AcceptAllVerifier{}, sum,
		cfg.Portal.Hostname, cfg.Portal.FallbackIP, logger)

	rpcDispatcher := rpc.New(reg, gate, lc, sum, dispatcher, SelfName, id.MachineID, cfg.GateTimeout, logger)

	return &Context{
		Config:     cfg,
		Logger:     logger,
		StartedAt:  time.Now(),
		Identity:   id,
		Registry:   reg,
		Resolver:   res,
		Bandwidth:  bw,
		Monitor:    mon,
		Reconciler: rec,
		Lifecycle:  lc,
		Gate:       gate,
		Dispatcher: dispatcher,
		Ledger:     ledgerStore,
		Persister:  persister,
		Summary:    sum,
		Portal:     portalClient,
		RPC:        rpcDispatcher,
		Metrics:    metrics,
	}, nil
}

// Close releases resources Build acquired that must be cleaned up even on
// a startup failure path the caller decides not to run (e.g. the ledger's
// open database handle).
func (c *Context) Close() error {
	if c.Bandwidth != nil {
		if err := c.Bandwidth.Close(); err != nil {
			c.Logger.Warn("apphost: close bandwidth tracker", slog.Any("error", err))
		}
	}
	if c.Ledger != nil {
		return c.Ledger.Close()
	}
	return nil
}

// Run spawns every independent task the control flow names (§2) and
// blocks until ctx is done: signal listening, signal dispatch, the
// bandwidth-tracker PID refresh, usage-ledger persistence, the
// reconciliation pipeline, the portal registration loop, and the network
// listener's accept loop.
func (c *Context) Run(ctx context.Context) error {
	go c.Dispatcher.Listen(ctx)
	go c.Reconciler.Run(ctx, c.Config.ReconcileInterval)
	go c.Persister.Run(ctx, 30*time.Second)
	go c.Portal.Run(ctx, c.Config.Portal.Interval)
	go c.refreshBandwidthPIDs(ctx, 5*time.Second)

	return c.RPC.ListenAndServe(ctx, c.Config.ListenAddr)
}

// refreshBandwidthPIDs re-registers every live managed PID with the
// bandwidth tracker and reaps tracking state for PIDs that have exited,
// on a fixed cadence (§4.3).
func (c *Context) refreshBandwidthPIDs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.refreshBandwidthPIDsOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Context) refreshBandwidthPIDsOnce() {
	for _, lookup := range []func() ([]state.AppId, error){c.Registry.SystemHandlerIds, c.Registry.ClientHandlerIds} {
		ids, err := lookup()
		if err != nil {
			continue
		}
		for _, id := range ids {
			status, err := c.Registry.Status(id)
			if err != nil || status.AppData.State.PID <= 0 {
				continue
			}
			if err := c.Bandwidth.TrackPID(status.AppData.State.PID); err != nil {
				c.Logger.Debug("apphost: track pid failed", slog.Int("pid", status.AppData.State.PID), slog.Any("error", err))
			}
		}
	}
	if err := c.Bandwidth.CleanupDeadPIDs(); err != nil {
		c.Logger.Warn("apphost: cleanup dead pids failed", slog.Any("error", err))
	}
}

func reportAppStatuses(reg *registry.Registry, metrics *observability.Metrics) {
	all, err := reg.AllStatuses()
	if err != nil {
		return
	}
	for _, st := range all {
		metrics.SetAppStatus(st.AppData.State.Name, st.Status())
	}
}
