package pause

import (
	"errors"
	"testing"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
)

func TestGate_DefaultsToResumed(t *testing.T) {
	g := New()
	if g.Paused() {
		t.Fatal("expected new gate to start resumed")
	}
	if err := g.WaitWithTimeout(10 * time.Millisecond); err != nil {
		t.Fatalf("WaitWithTimeout on resumed gate: %v", err)
	}
}

func TestGate_PauseBlocksUntilResume(t *testing.T) {
	g := New()
	g.Pause()

	done := make(chan error, 1)
	go func() { done <- g.WaitWithTimeout(time.Second) }()

	time.Sleep(20 * time.Millisecond)
	g.Resume()

	if err := <-done; err != nil {
		t.Fatalf("expected wait to succeed after resume, got %v", err)
	}
}

func TestGate_WaitWithTimeout_Expires(t *testing.T) {
	g := New()
	g.Pause()
	defer g.Resume()

	err := g.WaitWithTimeout(20 * time.Millisecond)
	if !errors.Is(err, apperrors.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
