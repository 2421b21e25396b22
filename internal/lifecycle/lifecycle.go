// Package lifecycle implements the Lifecycle Controller (§4.6):
// start_application, stop_application, reload_application, driven through
// an abstract unit-service interface rather than exec'ing anything
// directly — the core never spawns managed processes itself.
package lifecycle

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/procfs"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
)

// UnitService is the abstract init-system backend §6 requires: "new(name),
// is_active()→bool, start(), stop(), restart(), kill()". Implementations
// talk to whatever the host's init system actually is (systemd, runit,
// ...); this package only depends on the interface.
type UnitService interface {
	IsActive() (bool, error)
	Start() error
	Stop() error
	Restart() error
	Kill() error
	Close() error
}

// UnitServiceFactory opens a UnitService handle for a given app name.
type UnitServiceFactory func(appName string) (UnitService, error)

// Controller drives the Lifecycle Controller operations against a
// Registry and a pluggable UnitServiceFactory.
type Controller struct {
	Registry   *registry.Registry
	OpenUnit   UnitServiceFactory
	KillGrace  time.Duration
	Logger     *slog.Logger
}

// New constructs a Controller. killGrace bounds how long stop_application
// waits after the unit Kill before escalating to SIGKILL. logger defaults to
// slog.Default() if nil.
func New(reg *registry.Registry, openUnit UnitServiceFactory, killGrace time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{Registry: reg, OpenUnit: openUnit, KillGrace: killGrace, Logger: logger}
}

// StartApplication implements start_application(id).
func (c *Controller) StartApplication(id state.AppId) error {
	status, err := c.Registry.Status(id)
	if err != nil {
		return fmt.Errorf("lifecycle: start %s: %w", id, apperrors.ErrNotFound)
	}

	unit, err := c.OpenUnit(status.AppData.State.Name)
	if err != nil {
		return fmt.Errorf("lifecycle: start %s: open unit: %w", id, apperrors.ErrUnauthorized)
	}
	defer c.closeUnit(id, unit)

	active, err := unit.IsActive()
	if err != nil {
		return fmt.Errorf("lifecycle: start %s: %w", id, apperrors.ErrUnauthorized)
	}
	if active {
		return c.StopApplication(id)
	}
	if err := unit.Start(); err != nil {
		return fmt.Errorf("lifecycle: start %s: %w", id, apperrors.ErrUnauthorized)
	}
	return nil
}

// StopApplication implements stop_application(id): mark Stopping, detach
// the handler from whichever map owns it, mark Stopped, then kill via the
// unit service — escalating to SIGKILL against the PID directly only if
// the unit still reports active after the grace period (§4.6; §9's
// resolved open question: the latest iteration kills via the unit service
// first and escalates to signal 9 only if the unit remains active).
// A failure to mark the app Stopping, or to open the unit, ends the call at
// once with that error; failures of the other steps are recorded, the
// remaining steps still run, and the first recorded error is returned.
func (c *Controller) StopApplication(id state.AppId) error {
	status, err := c.Registry.Status(id)
	if err != nil {
		return fmt.Errorf("lifecycle: stop %s: %w", id, apperrors.ErrNotFound)
	}
	appName := status.AppData.State.Name
	pid := status.AppData.State.PID

	if err := c.Registry.UpdateStatus(id, func(s *state.AppStatus) {
		s.SetStatus(state.StatusStopping)
	}); err != nil {
		return fmt.Errorf("lifecycle: stop %s: %w", id, err)
	}

	if h, err := c.Registry.SystemHandler(id); err == nil {
		h.TerminateMonitor()
		_ = c.Registry.DeleteSystemHandler(id)
	}
	if h, err := c.Registry.ClientHandler(id); err == nil {
		h.TerminateMonitor()
		_ = c.Registry.DeleteClientHandler(id)
	}

	var firstErr error
	if err := c.Registry.UpdateStatus(id, func(s *state.AppStatus) {
		s.SetStatus(state.StatusStopped)
		s.Metrics = nil
		s.Uptime = nil
	}); err != nil {
		firstErr = fmt.Errorf("lifecycle: stop %s: %w", id, err)
	}

	unit, err := c.OpenUnit(appName)
	if err != nil {
		return fmt.Errorf("lifecycle: stop %s: %w", id, apperrors.ErrUnauthorized)
	}
	defer c.closeUnit(id, unit)

	if err := unit.Kill(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("lifecycle: stop %s: unit kill: %w", id, err)
	}

	if c.KillGrace > 0 {
		time.Sleep(c.KillGrace)
	}
	if active, err := unit.IsActive(); err == nil && active {
		c.Logger.Warn("lifecycle: unit still active after kill, escalating to SIGKILL",
			slog.String("app_id", string(id)), slog.Int("pid", pid))
		if pid > 0 && procfs.Alive(pid) {
			if err := unix.Kill(pid, unix.SIGKILL); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("lifecycle: stop %s: sigkill pid %d: %w", id, pid, err)
			}
		}
	}

	return firstErr
}

// closeUnit releases a unit handle opened via OpenUnit, logging rather
// than propagating a close failure — the lifecycle operation it supported
// has already completed by the time Close runs.
func (c *Controller) closeUnit(id state.AppId, unit UnitService) {
	if err := unit.Close(); err != nil {
		c.Logger.Warn("lifecycle: close unit connection", slog.String("app_id", string(id)), slog.Any("error", err))
	}
}

// ReloadApplication implements reload_application(id): deliver SIGHUP to
// the handle's PID without touching status — the app is expected to
// re-report its own state after handling the signal.
func (c *Controller) ReloadApplication(id state.AppId) error {
	status, err := c.Registry.Status(id)
	if err != nil {
		return fmt.Errorf("lifecycle: reload %s: %w", id, apperrors.ErrNotFound)
	}
	pid := status.AppData.State.PID
	if pid <= 0 || !procfs.Alive(pid) {
		return fmt.Errorf("lifecycle: reload %s: %w", id, apperrors.ErrNoSuchSupervisedProcess)
	}
	if err := unix.Kill(pid, unix.SIGHUP); err != nil {
		return fmt.Errorf("lifecycle: reload %s: %w", id, apperrors.ErrGeneral)
	}
	return nil
}
