package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreate_MintsAndPersistsNewIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")

	id, err := LoadOrCreate(path, "host-a")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.MachineID == "" || id.Nonce == "" {
		t.Fatalf("expected minted identity to carry a machine id and nonce, got %+v", id)
	}
	if id.Hostname != "host-a" {
		t.Errorf("expected hostname host-a, got %q", id.Hostname)
	}

	reloaded, err := LoadOrCreate(path, "host-b")
	if err != nil {
		t.Fatalf("LoadOrCreate (reload): %v", err)
	}
	if reloaded.MachineID != id.MachineID {
		t.Errorf("expected reload to return the persisted machine id, got %q want %q", reloaded.MachineID, id.MachineID)
	}
	if reloaded.Hostname != "host-a" {
		t.Errorf("expected reload to keep the persisted hostname, not the new hint, got %q", reloaded.Hostname)
	}
}

func TestIdentifier_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	id := &Identifier{MachineID: "m-1", Hostname: "h-1", Nonce: "n-1"}
	if err := id.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadOrCreate(path, "ignored")
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if *reloaded != *id {
		t.Errorf("expected reload to match saved identity, got %+v want %+v", reloaded, id)
	}
}

func TestIdentifier_RefreshNonceChangesNonce(t *testing.T) {
	id := &Identifier{MachineID: "m-1", Hostname: "h-1", Nonce: "n-1"}
	id.RefreshNonce()
	if id.Nonce == "n-1" {
		t.Error("expected RefreshNonce to mint a new nonce")
	}
}

func TestAcceptAllVerifier_AlwaysAccepts(t *testing.T) {
	v := AcceptAllVerifier{}
	if !v.Verify(&Identifier{}) {
		t.Error("expected AcceptAllVerifier to accept any identity")
	}
	if !v.Verify(nil) {
		t.Error("expected AcceptAllVerifier to accept a nil identity")
	}
}
