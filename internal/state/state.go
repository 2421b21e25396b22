// Package state defines the data model shared across every component of
// ais_manager: the supervisor's status-machine types, the persisted
// application state format, and the live, in-memory status snapshot.
//
// Types in this package are plain data; they carry no locking or I/O of
// their own. internal/registry owns the locks that guard mutation of these
// values across goroutines.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// AppKind distinguishes the two classes of managed application.
type AppKind int

const (
	// SystemApp is a member of the fixed, enumerated set of applications
	// the supervisor always expects to find (e.g. "ais_gitmon").
	SystemApp AppKind = iota
	// ClientApp is discovered dynamically from the binary directory and
	// gated by the portal credentials file.
	ClientApp
)

func (k AppKind) String() string {
	switch k {
	case SystemApp:
		return "system"
	case ClientApp:
		return "client"
	default:
		return "unknown"
	}
}

// Status is the closed set of states an application can occupy.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusIdle
	StatusWarning
	StatusStopping
	StatusStopped
	StatusStarting
	// StatusTerminated is the terminal state the supervisor persists for
	// its own AppState during a wind-down shutdown; no managed app is ever
	// set to this status.
	StatusTerminated
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "Running"
	case StatusIdle:
		return "Idle"
	case StatusWarning:
		return "Warning"
	case StatusStopping:
		return "Stopping"
	case StatusStopped:
		return "Stopped"
	case StatusStarting:
		return "Starting"
	case StatusTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders Status as its human name, matching the wire format
// the original supervisor's serialized AppStatus used.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// statusFromName parses the human names Status.String() produces; any
// other value resolves to StatusUnknown rather than erroring, since a
// managed app reporting an unrecognized status string is a warning
// condition, not a parse failure.
func statusFromName(name string) Status {
	switch name {
	case "Running":
		return StatusRunning
	case "Idle":
		return StatusIdle
	case "Warning":
		return StatusWarning
	case "Stopping":
		return StatusStopping
	case "Stopped":
		return StatusStopped
	case "Starting":
		return StatusStarting
	case "Terminated":
		return StatusTerminated
	default:
		return StatusUnknown
	}
}

// UnmarshalJSON accepts the human-name string form MarshalJSON produces.
func (s *Status) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	*s = statusFromName(name)
	return nil
}

// UnmarshalYAML accepts the same human-name string form, since managed
// apps persist their own state files in YAML using Status's name.
func (s *Status) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err != nil {
		return err
	}
	*s = statusFromName(name)
	return nil
}

// MarshalYAML renders Status as its human name, the form UnmarshalYAML
// reads back.
func (s Status) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// AppId is a short, stable identifier for a managed app, derived from the
// machine identity and the app name. It is the sole linkage between the
// status registry, the handler maps, and the catalogs (see NewAppId).
type AppId string

// NewAppId derives the stable AppId for appName on the host identified by
// machineID: truncate_20(sha256(machineID + "-" + appName)).
func NewAppId(machineID, appName string) AppId {
	sum := sha256.Sum256([]byte(machineID + "-" + appName))
	hexSum := hex.EncodeToString(sum[:])
	if len(hexSum) > 20 {
		hexSum = hexSum[:20]
	}
	return AppId(hexSum)
}

// Environment bundles the optional run-as identity and environment
// overrides read from an app's .env file.
type Environment struct {
	UID        *int              `json:"uid,omitempty" yaml:"uid,omitempty"`
	GID        *int              `json:"gid,omitempty" yaml:"gid,omitempty"`
	PathPrefix string            `json:"path,omitempty" yaml:"path,omitempty"`
	Vars       map[string]string `json:"vars,omitempty" yaml:"vars,omitempty"`
}

// ApplicationConfig bundles an app's last-persisted state with its optional
// environment override block.
type ApplicationConfig struct {
	State       AppState     `json:"state"`
	Environment *Environment `json:"environment,omitempty"`
}

// AppState is the structure each managed app writes to its own state file
// on a cadence. The resolver reads it; the reconciler re-imports it on every
// pass.
type AppState struct {
	Name              string   `json:"name" yaml:"name"`
	Version           string   `json:"version" yaml:"version"`
	Data              string   `json:"data" yaml:"data"`
	LastUpdated       int64    `json:"last_updated" yaml:"last_updated"`
	EventCounter      uint64   `json:"event_counter" yaml:"event_counter"`
	PID               int      `json:"pid" yaml:"pid"`
	Status            Status   `json:"status" yaml:"status"`
	ErrorLog          []string `json:"error_log" yaml:"error_log"`
	Stdout            []string `json:"stdout" yaml:"stdout"`
	Stderr            []string `json:"stderr" yaml:"stderr"`
	SystemApplication bool     `json:"system_application" yaml:"system_application"`
	StartedAt         int64    `json:"started_at" yaml:"started_at"`
}

// AppCatalogEntry is what the resolver produces for a single resolved app.
type AppCatalogEntry struct {
	Name      string
	OnDisk    string
	Exists    bool
	Config    ApplicationConfig
}

// NetworkUsage is the per-service byte-counter pair the bandwidth tracker
// reports.
type NetworkUsage struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

// Metrics is the resource-usage snapshot folded into AppStatus on every
// Resource Monitor pass.
type Metrics struct {
	CPUUsage    float32       `json:"cpu_usage"`
	MemoryUsage float32       `json:"memory_usage"`
	Network     *NetworkUsage `json:"network,omitempty"`
}

// AppStatus is the live, in-memory status of a single managed app. It is
// the unit of serialization for the Status/AllStatus commands and for the
// shutdown-time registered-apps snapshot.
type AppStatus struct {
	AppID          AppId             `json:"app_id"`
	GitID          string            `json:"git_id,omitempty"`
	AppData        ApplicationConfig `json:"app_data"`
	Uptime         *uint64           `json:"uptime,omitempty"`
	Metrics        *Metrics          `json:"metrics,omitempty"`
	Timestamp      int64             `json:"timestamp"`
	ExpectedStatus Status            `json:"expected_status"`
}

// Status is a convenience accessor for the app's current status, stored
// inside the embedded AppState.
func (a *AppStatus) Status() Status { return a.AppData.State.Status }

// SetStatus updates the app's current status.
func (a *AppStatus) SetStatus(s Status) { a.AppData.State.Status = s }

// HasErrors reports whether the app's error log is non-empty.
func (a *AppStatus) HasErrors() bool { return len(a.AppData.State.ErrorLog) > 0 }

// Clone returns a deep-enough copy of a: a caller holding no lock can read
// every field safely while a writer mutates the registry's own entry
// concurrently. Slice fields are copied rather than shared, and Metrics/
// Uptime are copied by value rather than by pointer.
func (a *AppStatus) Clone() *AppStatus {
	if a == nil {
		return nil
	}
	clone := *a
	clone.AppData.State.ErrorLog = append([]string(nil), a.AppData.State.ErrorLog...)
	clone.AppData.State.Stdout = append([]string(nil), a.AppData.State.Stdout...)
	clone.AppData.State.Stderr = append([]string(nil), a.AppData.State.Stderr...)
	if a.AppData.Environment != nil {
		env := *a.AppData.Environment
		env.Vars = make(map[string]string, len(a.AppData.Environment.Vars))
		for k, v := range a.AppData.Environment.Vars {
			env.Vars[k] = v
		}
		clone.AppData.Environment = &env
	}
	if a.Metrics != nil {
		m := *a.Metrics
		if a.Metrics.Network != nil {
			net := *a.Metrics.Network
			m.Network = &net
		}
		clone.Metrics = &m
	}
	if a.Uptime != nil {
		u := *a.Uptime
		clone.Uptime = &u
	}
	return &clone
}

// Now returns the current Unix time in seconds. Defined once here so every
// component measures "now" identically.
func Now() int64 { return time.Now().Unix() }

// PortalEndpoint is a single coordinator address the portal client tracks
// liveness for.
type PortalEndpoint struct {
	Address string
	Port    uint32
	InTime  bool
}

func (e PortalEndpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// LatestMetrics is one entry of the persisted usage ledger.
type LatestMetrics struct {
	AppName     string  `json:"app_name"`
	CPUUsage    float32 `json:"cpu_usage"`
	MemoryUsage float32 `json:"memory_usage"`
	RxBytes     uint64  `json:"rx_bytes"`
	TxBytes     uint64  `json:"tx_bytes"`
	RecordedAt  int64   `json:"recorded_at"`
}

// UsageLedger is the append/update-in-place map persisted across restarts.
type UsageLedger map[string]LatestMetrics
