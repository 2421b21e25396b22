// Package summary composes the Manager Summary (§4.9): the node-level
// report the Info command returns and that every portal registration
// handshake carries.
//
// Grounded on the teacher's agent.HealthStatus / Agent.Health() shape
// (internal/agent/agent.go) — a small, lock-guarded read of several
// independent fields into one flat, JSON-serializable struct — generalized
// from "agent health" to "node-level manager summary".
package summary

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/registry"
)

// Info is the payload returned by the Info command and embedded in every
// portal RegisterRequest.
type Info struct {
	Version       string `json:"version"`
	GitConfig     string `json:"git_config"`
	SystemApps    int    `json:"system_apps"`
	ClientApps    int    `json:"client_apps"`
	Warning       int    `json:"warning"`
	Hostname      string `json:"hostname"`
	Identity      string `json:"identity"`
	Address       string `json:"address"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Composer builds Info snapshots from a Registry and the supervisor's own
// build/identity metadata.
type Composer struct {
	Registry  *registry.Registry
	Version   string
	GitConfig string
	StartedAt time.Time
	Logger    *slog.Logger
}

// New constructs a Composer. logger defaults to slog.Default() if nil.
func New(reg *registry.Registry, version, gitConfig string, startedAt time.Time, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{Registry: reg, Version: version, GitConfig: gitConfig, StartedAt: startedAt, Logger: logger}
}

// Compose builds the current Info snapshot: counts of resolved system and
// client applications, the sum of every catalog entry's error-log length
// as the aggregate warning count, the host's local IPv4 address, and
// elapsed uptime since StartedAt.
func (c *Composer) Compose() (Info, error) {
	sysCatalog, err := c.Registry.SystemCatalog()
	if err != nil {
		return Info{}, fmt.Errorf("summary: compose: %w", err)
	}
	clientCatalog, err := c.Registry.ClientCatalog()
	if err != nil {
		return Info{}, fmt.Errorf("summary: compose: %w", err)
	}

	warnings := 0
	for _, e := range sysCatalog {
		warnings += len(e.Config.State.ErrorLog)
	}
	for _, e := range clientCatalog {
		warnings += len(e.Config.State.ErrorLog)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		c.Logger.Warn("summary: could not determine hostname", slog.Any("error", err))
	}

	return Info{
		Version:       c.Version,
		GitConfig:     c.GitConfig,
		SystemApps:    len(sysCatalog),
		ClientApps:    len(clientCatalog),
		Warning:       warnings,
		Hostname:      hostname,
		Identity:      c.Registry.Identity(),
		Address:       localIPv4(),
		UptimeSeconds: int64(time.Since(c.StartedAt).Seconds()),
	}, nil
}

// localIPv4 returns the first non-loopback IPv4 address bound to the host,
// or "" if none is found.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ""
}
