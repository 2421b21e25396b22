package registry

import (
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
)

// timedRWMutex is a sync.RWMutex that can fail with apperrors.ErrLockTimeout
// instead of blocking forever, matching spec §5's "every lock acquisition
// uses a bounded timeout" requirement. It is built on the stdlib's
// TryLock/TryRLock (available since Go 1.18) rather than a hand-rolled
// channel semaphore, since the engine runs cooperative, single-process
// tasks and a short poll loop is simpler and sufficient here.
type timedRWMutex struct {
	mu rwLocker
}

// rwLocker is satisfied by *sync.RWMutex; defined so tests can substitute a
// fake that forces timeouts.
type rwLocker interface {
	TryLock() bool
	Unlock()
	TryRLock() bool
	RUnlock()
}

const lockPollInterval = time.Millisecond

// lockWaitObserver, when non-nil, is called with the resource name and the
// seconds spent polling before every successful or timed-out acquisition —
// the hook internal/observability's Metrics.ObserveLockWait attaches to.
var lockWaitObserver func(resource string, seconds float64)

// SetLockWaitObserver installs fn as the process-wide lock-wait hook. Pass
// nil to disable observation.
func SetLockWaitObserver(fn func(resource string, seconds float64)) {
	lockWaitObserver = fn
}

// lockTimeout acquires the write lock, retrying until d elapses.
func lockTimeout(l rwLocker, d time.Duration) error {
	return lockTimeoutNamed(l, "", d)
}

// rLockTimeout acquires the read lock, retrying until d elapses.
func rLockTimeout(l rwLocker, d time.Duration) error {
	return rLockTimeoutNamed(l, "", d)
}

// lockTimeoutNamed acquires the write lock, retrying until d elapses, and
// reports the wait time against resource if an observer is installed.
func lockTimeoutNamed(l rwLocker, resource string, d time.Duration) error {
	start := time.Now()
	deadline := start.Add(d)
	for {
		if l.TryLock() {
			observeLockWait(resource, start)
			return nil
		}
		if time.Now().After(deadline) {
			observeLockWait(resource, start)
			return apperrors.ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

// rLockTimeoutNamed acquires the read lock, retrying until d elapses, and
// reports the wait time against resource if an observer is installed.
func rLockTimeoutNamed(l rwLocker, resource string, d time.Duration) error {
	start := time.Now()
	deadline := start.Add(d)
	for {
		if l.TryRLock() {
			observeLockWait(resource, start)
			return nil
		}
		if time.Now().After(deadline) {
			observeLockWait(resource, start)
			return apperrors.ErrLockTimeout
		}
		time.Sleep(lockPollInterval)
	}
}

func observeLockWait(resource string, start time.Time) {
	if lockWaitObserver == nil || resource == "" {
		return
	}
	lockWaitObserver(resource, time.Since(start).Seconds())
}
