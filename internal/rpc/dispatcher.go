// The Command Dispatcher itself: accepts framed connections, validates
// each against the pause gate, and routes Command payloads to the
// Lifecycle Controller, the Shared State Registry, or the Manager
// Summary composer, per §4.10's routing table.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apperrors"
	"github.com/artisan-hosting/ais_manager/internal/lifecycle"
	"github.com/artisan-hosting/ais_manager/internal/pause"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/summary"
)

// SelfControl is the subset of *pause.Dispatcher the command dispatcher
// needs for the self-stop/self-restart override (§4.5's tie-break rule:
// the supervisor's own app name is re-interpreted as a signal, never a
// lifecycle call).
type SelfControl interface {
	Shutdown()
	Reload() error
}

// Dispatcher is the Command Dispatcher (§4.10).
type Dispatcher struct {
	Registry    *registry.Registry
	Gate        *pause.Gate
	Lifecycle   *lifecycle.Controller
	Summary     *summary.Composer
	Self        SelfControl
	SelfName    string
	MachineID   string
	GateTimeout time.Duration
	Logger      *slog.Logger
}

// New constructs a Dispatcher. logger defaults to slog.Default() if nil.
func New(reg *registry.Registry, gate *pause.Gate, lc *lifecycle.Controller, sum *summary.Composer,
	self SelfControl, selfName, machineID string, gateTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Registry: reg, Gate: gate, Lifecycle: lc, Summary: sum,
		Self: self, SelfName: selfName, MachineID: machineID,
		GateTimeout: gateTimeout, Logger: logger,
	}
}

// ListenAndServe accepts connections on addr until ctx is done, serving
// each on its own goroutine.
func (d *Dispatcher) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			d.Logger.Warn("rpc: accept failed", slog.Any("error", err))
			continue
		}
		go d.handleConn(conn)
	}
}

// handleConn reads exactly one Command frame, validates it against the
// pause gate, dispatches it, and writes exactly one reply frame before
// closing the connection.
func (d *Dispatcher) handleConn(conn net.Conn) {
	defer conn.Close()

	fr := NewFrameReader(conn)
	fw := NewFrameWriter(conn)

	env, err := fr.ReadFrame()
	if err != nil {
		return
	}

	cmd, ok := env.Payload.(Command)
	if !ok {
		_ = fw.WriteFrame(Envelope{Type: TypeError, Payload: ErrorPayload{Message: "illegal payload for this entrypoint"}})
		return
	}

	if err := d.Gate.WaitWithTimeout(d.GateTimeout); err != nil {
		_ = fw.WriteFrame(Envelope{Type: TypeResponse, Payload: Response{
			Success: false, Message: "Server not accepting requests",
		}})
		return
	}

	resp, after := d.dispatch(cmd)
	_ = fw.WriteFrame(resp)
	conn.Close()

	if after != nil {
		after()
	}
}

func (d *Dispatcher) dispatch(cmd Command) (Envelope, func()) {
	switch cmd.Op {
	case "Start":
		return d.handleStart(cmd.AppID), nil
	case "Stop":
		return d.handleStop(cmd.AppID)
	case "Restart":
		return d.handleRestart(cmd.AppID)
	case "Status":
		return d.handleStatus(cmd.AppID), nil
	case "AllStatus":
		return d.handleAllStatus(), nil
	case "Info":
		return d.handleInfo(), nil
	default:
		return respond(false, "not implemented"), nil
	}
}

func (d *Dispatcher) handleStart(appName string) Envelope {
	id := state.NewAppId(d.MachineID, appName)
	if err := d.Lifecycle.StartApplication(id); err != nil {
		return errorResponse(err)
	}
	return respond(true, "")
}

func (d *Dispatcher) handleStop(appName string) (Envelope, func()) {
	if appName == d.SelfName {
		return respond(true, "triggered manager shutdown !"), d.Self.Shutdown
	}
	id := state.NewAppId(d.MachineID, appName)
	if err := d.Lifecycle.StopApplication(id); err != nil {
		return errorResponse(err), nil
	}
	return respond(true, ""), nil
}

func (d *Dispatcher) handleRestart(appName string) (Envelope, func()) {
	if appName == d.SelfName {
		return respond(true, "triggered manager reload !"), func() {
			if err := d.Self.Reload(); err != nil {
				d.Logger.Error("rpc: self-restart reload failed", slog.Any("error", err))
			}
		}
	}
	id := state.NewAppId(d.MachineID, appName)
	if err := d.Lifecycle.ReloadApplication(id); err != nil {
		return errorResponse(err), nil
	}
	return respond(true, ""), nil
}

func (d *Dispatcher) handleStatus(appName string) Envelope {
	id := state.NewAppId(d.MachineID, appName)
	st, err := d.Registry.Status(id)
	if err != nil {
		return respond(false, "not in our store")
	}

	// §4.10: "zero the timestamp before serializing". Copy first so the
	// registry's own entry is untouched.
	snapshot := *st
	snapshot.Timestamp = 0

	b, err := json.Marshal(snapshot)
	if err != nil {
		return errorResponse(err)
	}
	return Envelope{Type: TypeManagerInfo, Payload: ManagerInfoPayload{JSON: b}}
}

func (d *Dispatcher) handleAllStatus() Envelope {
	all, err := d.Registry.AllStatuses()
	if err != nil {
		return errorResponse(err)
	}
	list := make([]*state.AppStatus, 0, len(all))
	for _, st := range all {
		list = append(list, st)
	}
	b, err := json.Marshal(list)
	if err != nil {
		return errorResponse(err)
	}
	return Envelope{Type: TypeManagerInfo, Payload: ManagerInfoPayload{JSON: b}}
}

func (d *Dispatcher) handleInfo() Envelope {
	info, err := d.Summary.Compose()
	if err != nil {
		return errorResponse(err)
	}
	b, err := json.Marshal(info)
	if err != nil {
		return errorResponse(err)
	}
	return Envelope{Type: TypeManagerInfo, Payload: ManagerInfoPayload{JSON: b}}
}

func respond(success bool, message string) Envelope {
	return Envelope{Type: TypeResponse, Payload: Response{Success: success, Message: message}}
}

// errorResponse converts an internal error into the wire-level
// CommandResponse failure §4.10/§7 require — the dispatcher never drops
// the connection for an internal error, only for a malformed payload.
func errorResponse(err error) Envelope {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return respond(false, "not found")
	case errors.Is(err, apperrors.ErrUnauthorized):
		return respond(false, "unauthorized")
	default:
		return respond(false, err.Error())
	}
}
