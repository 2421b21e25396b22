// Package supervised models the tagged "Supervised" handle the engine holds
// for every process it is tracking, and the PID-reclaim operation that
// constructs one without spawning anything.
//
// Per spec §9 ("heterogeneous supervised abstraction"), this is a tagged
// variant rather than an interface hierarchy: Kind tags the variant, and
// the shared methods behave the same for both kinds. A second, secondary kind (OwnedChild) is kept for the legacy
// spawn path the spec says is present but no longer primary.
package supervised

import (
	"fmt"
	"sync"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/procfs"
)

// Kind distinguishes how a Supervised handle came to exist.
type Kind int

const (
	// Adopted is a PID the engine did not spawn but has taken supervisory
	// control of, identified purely by its PID.
	Adopted Kind = iota
	// OwnedChild is a process the engine spawned itself. Present for the
	// legacy exec path; the current design delegates lifecycle to the
	// init-system unit instead.
	OwnedChild
)

// Monitor holds the last resource-usage sample taken for a Supervised
// handle. internal/monitor writes to it; AppStatus.Metrics is built by
// internal/monitor from the same sample, not read back from here.
type Monitor struct {
	mu        sync.RWMutex
	cpu       float32
	memory    float32
	updatedAt time.Time
	stopped   bool
}

// Store records the latest CPU/RAM sample.
func (m *Monitor) Store(cpu, mem float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cpu, m.memory = cpu, mem
	m.updatedAt = time.Now()
}

// Load returns the latest CPU/RAM sample.
func (m *Monitor) Load() (cpu, mem float32) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cpu, m.memory
}

// Terminate marks the monitor as no longer tracking a live process. It does
// not stop any goroutine; it only sets the flag Stopped reports. The
// Resource Monitor decides what to sample by process liveness, not by this
// flag.
func (m *Monitor) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// Stopped reports whether Terminate has been called.
func (m *Monitor) Stopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// Supervised is a handle the engine holds for one managed process.
type Supervised struct {
	Kind    Kind
	pid     int
	monitor *Monitor

	// child is non-nil only for Kind == OwnedChild, carrying the legacy
	// spawn handle.
	child *ownedChild
}

// ownedChild is the legacy spawn-path payload.
type ownedChild struct {
	pid int
}

// Pid returns the process ID this handle supervises.
func (s *Supervised) Pid() int { return s.pid }

// Monitor returns the shared resource-usage monitor for this handle.
func (s *Supervised) Monitor() *Monitor { return s.monitor }

// Running reports whether the underlying process is still alive. Both
// Kind values delegate to the same liveness probe: adoption carries no
// special knowledge beyond the PID, and legacy owned children are tracked
// by PID post-spawn exactly the same way.
func (s *Supervised) Running() bool {
	return procfs.Alive(s.pid)
}

// TerminateMonitor stops the resource monitor associated with this handle.
// It does not signal or kill the underlying process.
func (s *Supervised) TerminateMonitor() {
	s.monitor.Terminate()
}

// Reclaim constructs a Supervised handle for pid without spawning anything.
// It returns apperrors.ErrNoSuchSupervisedProcess, wrapped with pid context,
// when pid does not identify a live, non-zombie process — callers must not
// log that case as an error; it simply means there is nothing to adopt.
func Reclaim(pid int) (*Supervised, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("supervised: reclaim pid %d: %w", pid, apperrors.ErrNoSuchSupervisedProcess)
	}
	if !procfs.Alive(pid) {
		return nil, fmt.Errorf("supervised: reclaim pid %d: %w", pid, apperrors.ErrNoSuchSupervisedProcess)
	}
	if procfs.IsZombie(pid) {
		return nil, fmt.Errorf("supervised: reclaim pid %d: %w", pid, apperrors.ErrNoSuchSupervisedProcess)
	}
	return &Supervised{
		Kind:    Adopted,
		pid:     pid,
		monitor: &Monitor{},
	}, nil
}

// NewOwnedChild wraps a just-spawned process as a Supervised handle. Kept
// for the legacy exec path; current code never calls this in normal
// operation since lifecycle is delegated to the unit service.
func NewOwnedChild(pid int) *Supervised {
	return &Supervised{
		Kind:    OwnedChild,
		pid:     pid,
		monitor: &Monitor{},
		child:   &ownedChild{pid: pid},
	}
}
