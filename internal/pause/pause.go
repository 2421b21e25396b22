// Package pause implements the Pause Gate (§4.7): a binary semaphore every
// mutating command handler must acquire before touching shared state, and
// that the signal dispatcher holds for the duration of a reload or
// shutdown so those operations never race a concurrent command.
package pause

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
)

// Gate is a cooperative pause/resume coordination primitive. It is not a
// mutex over any particular data structure — callers that need the gate to
// actually exclude writers must take it before touching shared state, per
// the documented command-handler discipline.
type Gate struct {
	mu     sync.RWMutex
	paused bool
}

// New returns a Gate in the resumed (not paused) state.
func New() *Gate {
	return &Gate{}
}

// Pause puts the gate into the paused state. Only the signal dispatcher
// calls this, immediately before a reload or shutdown mutates shared state.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
}

// Resume clears the paused state, letting waiters proceed.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
}

// Paused reports the current state.
func (g *Gate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// WaitIfPaused blocks until the gate is resumed or ctx is done.
func (g *Gate) WaitIfPaused(ctx context.Context) error {
	const pollInterval = 10 * time.Millisecond
	for g.Paused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return nil
}

// WaitWithTimeout blocks until the gate is resumed or timeout elapses. On
// timeout it returns apperrors.ErrLockTimeout — the command dispatcher turns
// this into the well-formed "Server not accepting requests" response rather
// than dropping the connection.
func (g *Gate) WaitWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := g.WaitIfPaused(ctx); err != nil {
		return fmt.Errorf("pause: gate wait: %w", apperrors.ErrLockTimeout)
	}
	return nil
}
