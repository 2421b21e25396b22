package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/registry"
)

// Persister runs the usage-ledger persistence task (§2: 30s cadence) that
// snapshots the registry's in-memory ledger and writes it through to the
// backing Store.
type Persister struct {
	Registry *registry.Registry
	Store    *Store
	Logger   *slog.Logger
}

// NewPersister constructs a Persister. logger defaults to slog.Default()
// if nil.
func NewPersister(reg *registry.Registry, store *Store, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{Registry: reg, Store: store, Logger: logger}
}

// Run persists the ledger every interval until ctx is done. Per-tick
// failures are logged and swallowed; the next tick retries.
func (p *Persister) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.RunOnce(); err != nil {
			p.Logger.Error("ledger: persist tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce snapshots and persists the ledger once.
func (p *Persister) RunOnce() error {
	snapshot, err := p.Registry.LedgerSnapshot()
	if err != nil {
		return err
	}
	return p.Store.Save(snapshot)
}
