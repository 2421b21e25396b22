// Package rpc implements the Command Dispatcher (§4.10) and the wire
// framing it and the portal client (§4.8) share (§6).
//
// The concrete wire codec is explicitly out of spec scope (§1: "the
// concrete wire codec" is an external collaborator, specified only by
// interface). FrameReader/FrameWriter below are that interface; this
// package's default implementation is a stdlib encoding/gob payload
// wrapped in the end-of-line-delimited framing §6 describes, since no
// generated protobuf bindings exist in this retrieval pack to wire a real
// gRPC stack against (see DESIGN.md).
package rpc

import "encoding/gob"

// Envelope is the tagged payload unit exchanged over every connection this
// package frames: the network listener's control protocol and the portal
// client's registration handshake both speak the same envelope shape,
// differing only in which concrete payload types are legal at a given
// point in the exchange.
type Envelope struct {
	Type    string
	Payload any
}

// The payload type names, matching §6's tagged-union list.
const (
	TypeCommand          = "Command"
	TypeResponse         = "Response"
	TypeManagerInfo      = "ManagerInfo"
	TypeDiscover         = "Discover"
	TypeIdRequest        = "IdRequest"
	TypeIdResponse       = "IdResponse"
	TypeRegisterRequest  = "RegisterRequest"
	TypeRegisterResponse = "RegisterResponse"
	TypeError            = "Error"
	TypeRegister         = "Register"
	TypeDeregister       = "Deregister"
	TypeUpdate           = "Update"
)

// Command is the request payload for Start/Stop/Restart/Status/AllStatus/Info.
type Command struct {
	Op    string
	AppID string
}

// Response is the generic success/failure reply for Start/Stop/Restart and
// for protocol-level failures (gate timeout, unknown command).
type Response struct {
	Success bool
	Message string
}

// ManagerInfoPayload wraps a JSON-encoded body: used for the Status
// command's AppStatus blob, the AllStatus command's array, and the Info
// command's summary.Info, distinguished only by which command requested
// them (the dispatcher never needs to parse its own output back).
type ManagerInfoPayload struct {
	JSON []byte
}

// Discover opens the portal identify handshake (§4.8 step 1).
type Discover struct{}

// IdRequest asks the peer to present its identity.
type IdRequest struct{}

// IdResponse carries an identity, or Present=false for "I have none to
// offer yet".
type IdResponse struct {
	MachineID string
	Hostname  string
	Nonce     string
	Present   bool
}

// RegisterRequest is the portal registration payload (§4.8 step 2): the
// client's identity plus its manager summary.
type RegisterRequest struct {
	MachineID string
	Hostname  string
	Address   string
	Info      ManagerInfoPayload
}

// RegisterResponse acknowledges a successful registration.
type RegisterResponse struct {
	OK bool
}

// Register, Deregister, and Update round out the wire union §6 names.
// No operation in this core drives them yet; they are reserved payload
// shapes for future command-dispatcher entrypoints mentioned by name in
// the spec's framing section but never assigned a routing rule in §4.10's
// command table.
type Register struct{ AppName string }
type Deregister struct{ AppName string }
type Update struct {
	AppName string
	Data    []byte
}

// ErrorPayload is sent when a connection receives an illegal payload for
// its entrypoint, or when a handshake step fails.
type ErrorPayload struct {
	Message string
}

func init() {
	gob.Register(Command{})
	gob.Register(Response{})
	gob.Register(ManagerInfoPayload{})
	gob.Register(Discover{})
	gob.Register(IdRequest{})
	gob.Register(IdResponse{})
	gob.Register(RegisterRequest{})
	gob.Register(RegisterResponse{})
	gob.Register(ErrorPayload{})
	gob.Register(Register{})
	gob.Register(Deregister{})
	gob.Register(Update{})
}
