// Package registry is the Shared State Registry: the single place every
// other component reads and mutates the live status map, the handler maps
// for system and client apps, the resolved catalogs, the usage ledger, and
// the portal endpoint table.
//
// Every field is guarded by a sync.RWMutex (the two catalogs share one),
// taken through the bounded-wait helpers in timedlock.go. Callers that need more
// than one field MUST acquire them in the documented order — status
// registry, system handler map, client handler map, usage ledger, portal
// map — to satisfy the no-inconsistent-lock-order invariant; acquiring out
// of order risks deadlock against a concurrent holder going the other way.
// Single-field accessors below always respect this order implicitly since
// they only ever take one lock at a time.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/supervised"
)

// Registry is the process-wide shared state. Construct with New.
type Registry struct {
	statusMu sync.RWMutex
	statuses map[state.AppId]*state.AppStatus

	sysHandlerMu   sync.RWMutex
	systemHandlers map[state.AppId]*supervised.Supervised

	clientHandlerMu sync.RWMutex
	clientHandlers  map[state.AppId]*supervised.Supervised

	catalogMu      sync.RWMutex
	systemCatalog  map[string]state.AppCatalogEntry
	clientCatalog  map[string]state.AppCatalogEntry

	ledgerMu sync.RWMutex
	ledger   state.UsageLedger

	portalMu sync.RWMutex
	portal   map[string]state.PortalEndpoint

	identityMu sync.RWMutex
	identity   string

	// LockTimeout bounds every acquisition made through this registry's
	// accessor methods.
	LockTimeout time.Duration
}

// New constructs an empty Registry. timeout bounds every lock acquisition
// made through the accessor methods below.
func New(timeout time.Duration) *Registry {
	return &Registry{
		statuses:       make(map[state.AppId]*state.AppStatus),
		systemHandlers: make(map[state.AppId]*supervised.Supervised),
		clientHandlers: make(map[state.AppId]*supervised.Supervised),
		systemCatalog:  make(map[string]state.AppCatalogEntry),
		clientCatalog:  make(map[string]state.AppCatalogEntry),
		ledger:         make(state.UsageLedger),
		portal:         make(map[string]state.PortalEndpoint),
		LockTimeout:    timeout,
	}
}

// --- identity ---

// SetIdentity stores the machine identity used to derive AppIds.
func (r *Registry) SetIdentity(id string) {
	r.identityMu.Lock()
	defer r.identityMu.Unlock()
	r.identity = id
}

// Identity returns the machine identity.
func (r *Registry) Identity() string {
	r.identityMu.RLock()
	defer r.identityMu.RUnlock()
	return r.identity
}

// --- status registry ---

// PutStatus inserts or replaces the status entry for id.
func (r *Registry) PutStatus(id state.AppId, s *state.AppStatus) error {
	if err := lockTimeoutNamed(&r.statusMu, "status", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: put status %s: %w", id, err)
	}
	defer r.statusMu.Unlock()
	r.statuses[id] = s
	return nil
}

// Status returns a safe copy of the status entry for id. Callers must not
// rely on mutating the returned value to affect the registry's own entry —
// use UpdateStatus (or UpsertStatus) for that, so the read-modify-write
// happens atomically under the write lock instead of racing concurrent
// readers and writers of the live entry.
func (r *Registry) Status(id state.AppId) (*state.AppStatus, error) {
	if err := rLockTimeoutNamed(&r.statusMu, "status", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: get status %s: %w", id, err)
	}
	defer r.statusMu.RUnlock()
	s, ok := r.statuses[id]
	if !ok {
		return nil, fmt.Errorf("registry: status %s: %w", id, apperrors.ErrNotFound)
	}
	return s.Clone(), nil
}

// AllStatuses returns a snapshot of every status entry, each a safe copy
// per the same rule as Status.
func (r *Registry) AllStatuses() (map[state.AppId]*state.AppStatus, error) {
	if err := rLockTimeoutNamed(&r.statusMu, "status", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: list statuses: %w", err)
	}
	defer r.statusMu.RUnlock()
	out := make(map[state.AppId]*state.AppStatus, len(r.statuses))
	for k, v := range r.statuses {
		out[k] = v.Clone()
	}
	return out, nil
}

// UpdateStatus applies fn to the stored status entry for id while holding
// the write lock for fn's entire duration, so the read-modify-write is
// atomic with respect to every other reader and writer. Returns
// apperrors.ErrNotFound if no entry exists yet — callers that want
// get-or-create semantics instead should use UpsertStatus.
func (r *Registry) UpdateStatus(id state.AppId, fn func(*state.AppStatus)) error {
	if err := lockTimeoutNamed(&r.statusMu, "status", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: update status %s: %w", id, err)
	}
	defer r.statusMu.Unlock()
	s, ok := r.statuses[id]
	if !ok {
		return fmt.Errorf("registry: update status %s: %w", id, apperrors.ErrNotFound)
	}
	fn(s)
	return nil
}

// UpsertStatus is UpdateStatus, but creates a fresh entry for id first if
// none exists yet — matching AppStatus's "created on first population"
// lifecycle (§3), used by the reconciler's adoption phases.
func (r *Registry) UpsertStatus(id state.AppId, fn func(*state.AppStatus)) error {
	if err := lockTimeoutNamed(&r.statusMu, "status", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: upsert status %s: %w", id, err)
	}
	defer r.statusMu.Unlock()
	s, ok := r.statuses[id]
	if !ok {
		s = &state.AppStatus{AppID: id}
		r.statuses[id] = s
	}
	fn(s)
	return nil
}

// DeleteStatus removes the status entry for id.
func (r *Registry) DeleteStatus(id state.AppId) error {
	if err := lockTimeoutNamed(&r.statusMu, "status", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: delete status %s: %w", id, err)
	}
	defer r.statusMu.Unlock()
	delete(r.statuses, id)
	return nil
}

// --- system handler map ---

// PutSystemHandler registers h for id. Per Invariant 1, callers must ensure
// a status entry for id already exists before calling this; it is the
// caller's responsibility (the reconciler always writes status before
// handler) rather than this method's, since checking both under one lock
// would violate the documented lock order.
func (r *Registry) PutSystemHandler(id state.AppId, h *supervised.Supervised) error {
	if err := lockTimeoutNamed(&r.sysHandlerMu, "system_handler", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: put system handler %s: %w", id, err)
	}
	defer r.sysHandlerMu.Unlock()
	r.systemHandlers[id] = h
	return nil
}

// SystemHandler returns the registered handler for id.
func (r *Registry) SystemHandler(id state.AppId) (*supervised.Supervised, error) {
	if err := rLockTimeoutNamed(&r.sysHandlerMu, "system_handler", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: get system handler %s: %w", id, err)
	}
	defer r.sysHandlerMu.RUnlock()
	h, ok := r.systemHandlers[id]
	if !ok {
		return nil, fmt.Errorf("registry: system handler %s: %w", id, apperrors.ErrNotFound)
	}
	return h, nil
}

// SystemHandlerIds returns a snapshot of every registered system AppId.
func (r *Registry) SystemHandlerIds() ([]state.AppId, error) {
	if err := rLockTimeoutNamed(&r.sysHandlerMu, "system_handler", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: list system handlers: %w", err)
	}
	defer r.sysHandlerMu.RUnlock()
	ids := make([]state.AppId, 0, len(r.systemHandlers))
	for id := range r.systemHandlers {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteSystemHandler removes the registered handler for id.
func (r *Registry) DeleteSystemHandler(id state.AppId) error {
	if err := lockTimeoutNamed(&r.sysHandlerMu, "system_handler", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: delete system handler %s: %w", id, err)
	}
	defer r.sysHandlerMu.Unlock()
	delete(r.systemHandlers, id)
	return nil
}

// --- client handler map ---

// PutClientHandler registers h for id.
func (r *Registry) PutClientHandler(id state.AppId, h *supervised.Supervised) error {
	if err := lockTimeoutNamed(&r.clientHandlerMu, "client_handler", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: put client handler %s: %w", id, err)
	}
	defer r.clientHandlerMu.Unlock()
	r.clientHandlers[id] = h
	return nil
}

// ClientHandler returns the registered handler for id.
func (r *Registry) ClientHandler(id state.AppId) (*supervised.Supervised, error) {
	if err := rLockTimeoutNamed(&r.clientHandlerMu, "client_handler", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: get client handler %s: %w", id, err)
	}
	defer r.clientHandlerMu.RUnlock()
	h, ok := r.clientHandlers[id]
	if !ok {
		return nil, fmt.Errorf("registry: client handler %s: %w", id, apperrors.ErrNotFound)
	}
	return h, nil
}

// ClientHandlerIds returns a snapshot of every registered client AppId.
func (r *Registry) ClientHandlerIds() ([]state.AppId, error) {
	if err := rLockTimeoutNamed(&r.clientHandlerMu, "client_handler", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: list client handlers: %w", err)
	}
	defer r.clientHandlerMu.RUnlock()
	ids := make([]state.AppId, 0, len(r.clientHandlers))
	for id := range r.clientHandlers {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteClientHandler removes the registered handler for id.
func (r *Registry) DeleteClientHandler(id state.AppId) error {
	if err := lockTimeoutNamed(&r.clientHandlerMu, "client_handler", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: delete client handler %s: %w", id, err)
	}
	defer r.clientHandlerMu.Unlock()
	delete(r.clientHandlers, id)
	return nil
}

// ResetHandlers drops every entry from both handler maps, used by the
// signal dispatcher on reload to force re-adoption of every managed
// process on the reconciler's next pass.
func (r *Registry) ResetHandlers() error {
	if err := lockTimeoutNamed(&r.sysHandlerMu, "system_handler", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: reset system handlers: %w", err)
	}
	r.systemHandlers = make(map[state.AppId]*supervised.Supervised)
	r.sysHandlerMu.Unlock()

	if err := lockTimeoutNamed(&r.clientHandlerMu, "client_handler", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: reset client handlers: %w", err)
	}
	r.clientHandlers = make(map[state.AppId]*supervised.Supervised)
	r.clientHandlerMu.Unlock()

	return nil
}

// --- catalogs ---

// PutSystemCatalogEntry stores the resolved entry for name.
func (r *Registry) PutSystemCatalogEntry(name string, e state.AppCatalogEntry) error {
	if err := lockTimeoutNamed(&r.catalogMu, "catalog", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: put system catalog %s: %w", name, err)
	}
	defer r.catalogMu.Unlock()
	r.systemCatalog[name] = e
	return nil
}

// PutClientCatalogEntry stores the resolved entry for name.
func (r *Registry) PutClientCatalogEntry(name string, e state.AppCatalogEntry) error {
	if err := lockTimeoutNamed(&r.catalogMu, "catalog", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: put client catalog %s: %w", name, err)
	}
	defer r.catalogMu.Unlock()
	r.clientCatalog[name] = e
	return nil
}

// SystemCatalog returns a snapshot copy of the resolved system catalog.
func (r *Registry) SystemCatalog() (map[string]state.AppCatalogEntry, error) {
	if err := rLockTimeoutNamed(&r.catalogMu, "catalog", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: list system catalog: %w", err)
	}
	defer r.catalogMu.RUnlock()
	out := make(map[string]state.AppCatalogEntry, len(r.systemCatalog))
	for k, v := range r.systemCatalog {
		out[k] = v
	}
	return out, nil
}

// ClientCatalog returns a snapshot copy of the resolved client catalog.
func (r *Registry) ClientCatalog() (map[string]state.AppCatalogEntry, error) {
	if err := rLockTimeoutNamed(&r.catalogMu, "catalog", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: list client catalog: %w", err)
	}
	defer r.catalogMu.RUnlock()
	out := make(map[string]state.AppCatalogEntry, len(r.clientCatalog))
	for k, v := range r.clientCatalog {
		out[k] = v
	}
	return out, nil
}

// ReplaceSystemCatalog atomically replaces the entire system catalog with
// entries, per §4.1's "whole-map replace semantics": a name that resolved
// on a prior pass but is absent from entries is dropped, not left stale.
func (r *Registry) ReplaceSystemCatalog(entries map[string]state.AppCatalogEntry) error {
	if err := lockTimeoutNamed(&r.catalogMu, "catalog", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: replace system catalog: %w", err)
	}
	defer r.catalogMu.Unlock()
	fresh := make(map[string]state.AppCatalogEntry, len(entries))
	for k, v := range entries {
		fresh[k] = v
	}
	r.systemCatalog = fresh
	return nil
}

// ReplaceClientCatalog is ReplaceSystemCatalog for the client catalog: a
// binary that was removed or renamed since the prior resolve is dropped
// rather than left behind forever.
func (r *Registry) ReplaceClientCatalog(entries map[string]state.AppCatalogEntry) error {
	if err := lockTimeoutNamed(&r.catalogMu, "catalog", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: replace client catalog: %w", err)
	}
	defer r.catalogMu.Unlock()
	fresh := make(map[string]state.AppCatalogEntry, len(entries))
	for k, v := range entries {
		fresh[k] = v
	}
	r.clientCatalog = fresh
	return nil
}

// --- usage ledger ---

// PutLedgerEntry records or updates the latest metrics sample for appName.
func (r *Registry) PutLedgerEntry(appName string, m state.LatestMetrics) error {
	if err := lockTimeoutNamed(&r.ledgerMu, "ledger", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: put ledger entry %s: %w", appName, err)
	}
	defer r.ledgerMu.Unlock()
	r.ledger[appName] = m
	return nil
}

// LedgerSnapshot returns a copy of the full usage ledger, for persistence.
func (r *Registry) LedgerSnapshot() (state.UsageLedger, error) {
	if err := rLockTimeoutNamed(&r.ledgerMu, "ledger", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: snapshot ledger: %w", err)
	}
	defer r.ledgerMu.RUnlock()
	out := make(state.UsageLedger, len(r.ledger))
	for k, v := range r.ledger {
		out[k] = v
	}
	return out, nil
}

// LoadLedger replaces the in-memory ledger, used at startup to restore a
// persisted ledger file.
func (r *Registry) LoadLedger(l state.UsageLedger) error {
	if err := lockTimeoutNamed(&r.ledgerMu, "ledger", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: load ledger: %w", err)
	}
	defer r.ledgerMu.Unlock()
	if l == nil {
		l = make(state.UsageLedger)
	}
	r.ledger = l
	return nil
}

// --- portal endpoints ---

// PutPortalEndpoint inserts or replaces the tracked endpoint keyed by its
// address.
func (r *Registry) PutPortalEndpoint(e state.PortalEndpoint) error {
	if err := lockTimeoutNamed(&r.portalMu, "portal", r.LockTimeout); err != nil {
		return fmt.Errorf("registry: put portal endpoint %s: %w", e, err)
	}
	defer r.portalMu.Unlock()
	r.portal[e.Address] = e
	return nil
}

// PortalEndpoints returns a snapshot copy of every tracked endpoint.
func (r *Registry) PortalEndpoints() (map[string]state.PortalEndpoint, error) {
	if err := rLockTimeoutNamed(&r.portalMu, "portal", r.LockTimeout); err != nil {
		return nil, fmt.Errorf("registry: list portal endpoints: %w", err)
	}
	defer r.portalMu.RUnlock()
	out := make(map[string]state.PortalEndpoint, len(r.portal))
	for k, v := range r.portal {
		out[k] = v
	}
	return out, nil
}
