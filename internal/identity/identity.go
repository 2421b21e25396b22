// Package identity manages the supervisor's persisted machine identity —
// the value every AppId is derived from (state.NewAppId) and the object
// exchanged during the portal handshake's identify step (§4.8).
//
// Per spec.md §1, concrete identity/credential crypto is an external
// collaborator ("consumed as opaque verifiable objects"); this package
// carries the identity record and a pluggable Verifier interface, never a
// concrete signature scheme.
package identity

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Identifier is the persisted machine identity record, grounded on the
// original supervisor's IdentityData round trip
// (original_source/src/system/portal.rs): a stable machine ID, the
// hostname it was minted on, and a per-mint nonce used as the handshake's
// proof-of-possession value.
type Identifier struct {
	MachineID string `yaml:"machine_id" json:"machine_id"`
	Hostname  string `yaml:"hostname" json:"hostname"`
	Nonce     string `yaml:"nonce" json:"nonce"`
}

// Verifier checks a peer-presented Identifier cryptographically. Real
// deployments supply an implementation backed by whatever credential
// system issued the identity; this package never implements one itself.
type Verifier interface {
	Verify(id *Identifier) bool
}

// AcceptAllVerifier is a Verifier that accepts any identity. It is the
// default when no credential system is configured, matching environments
// where the portal handshake's identify step is advisory rather than a
// hard trust boundary.
type AcceptAllVerifier struct{}

// Verify always reports true.
func (AcceptAllVerifier) Verify(*Identifier) bool { return true }

// LoadOrCreate loads the identity persisted at path, or mints a new one
// (using a random UUID for both MachineID and Nonce, the same library the
// teacher uses for transport-layer identifiers) and persists it if path
// does not yet exist.
func LoadOrCreate(path, hostname string) (*Identifier, error) {
	if b, err := os.ReadFile(path); err == nil {
		var id Identifier
		if err := yaml.Unmarshal(b, &id); err != nil {
			return nil, fmt.Errorf("identity: parse %q: %w", path, err)
		}
		return &id, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %q: %w", path, err)
	}

	id := &Identifier{
		MachineID: uuid.NewString(),
		Hostname:  hostname,
		Nonce:     uuid.NewString(),
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}

// Save persists the identity to path as YAML, the same format every other
// on-disk supervisor record uses.
func (id *Identifier) Save(path string) error {
	b, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("identity: write %q: %w", path, err)
	}
	return nil
}

// Display logs the identity at info level, matching the original
// supervisor's "display_id" step on a successful portal handshake.
func (id *Identifier) Display(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("identity: active",
		slog.String("machine_id", id.MachineID),
		slog.String("hostname", id.Hostname),
	)
}

// RefreshNonce replaces Nonce with a freshly minted value. The portal
// client does not call it; each identify exchange sends the current Nonce.
func (id *Identifier) RefreshNonce() {
	id.Nonce = uuid.NewString()
}
