// Package portal implements the Portal Client (§4.8): the periodic task
// that discovers, identifies against, and registers this supervisor with
// one or more portal coordinators.
//
// Grounded on original_source/src/portal.rs's query_portal/get_portal_addr/
// register_with_portal trio: a two-connection handshake (discover+identify,
// then register) against a resolved coordinator address, carried over to
// this repo's internal/rpc framing instead of the original's simple_comms
// transport.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/identity"
	"github.com/artisan-hosting/ais_manager/internal/registry"
	"github.com/artisan-hosting/ais_manager/internal/rpc"
	"github.com/artisan-hosting/ais_manager/internal/state"
	"github.com/artisan-hosting/ais_manager/internal/summary"
)

// Port is the portal port per the original implementation's get_portal_addr.
const Port = 9801

// Dialer abstracts the network dial so tests can substitute an in-memory
// transport.
type Dialer func(network, address string) (net.Conn, error)

// Client is the Portal Client. It resolves coordinator endpoints, performs
// the discover/identify handshake against each, and then registers.
type Client struct {
	Registry *registry.Registry
	Identity *identity.Identifier
	Verifier identity.Verifier
	Summary  *summary.Composer
	Dial     Dialer

	// Hostname is resolved via DNS to find coordinator endpoints.
	Hostname string
	// FallbackIP is used when that resolution fails, per config.PortalConfig.
	FallbackIP string

	Logger *slog.Logger
}

// New constructs a Client. logger defaults to slog.Default() if nil; Dial
// defaults to net.Dial.
func New(reg *registry.Registry, id *identity.Identifier, verifier identity.Verifier,
	sum *summary.Composer, hostname, fallbackIP string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if verifier == nil {
		verifier = identity.AcceptAllVerifier{}
	}
	return &Client{
		Registry: reg, Identity: id, Verifier: verifier, Summary: sum,
		Dial: net.Dial, Hostname: hostname, FallbackIP: fallbackIP, Logger: logger,
	}
}

// Run resolves the portal endpoint set and performs one discover+register
// pass every interval until ctx is done.
func (c *Client) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce resolves the current set of coordinator endpoints and attempts
// the handshake against each, isolating failures per endpoint so one
// unreachable coordinator never aborts the rest of the pass (§8 S5).
func (c *Client) RunOnce(ctx context.Context) {
	addrs, err := c.resolveEndpoints()
	if err != nil {
		c.Logger.Error("portal: failed to resolve coordinator endpoints", slog.Any("error", err))
		return
	}

	for _, addr := range addrs {
		endpoint := state.PortalEndpoint{Address: addr, Port: Port}
		if err := c.handshake(addr); err != nil {
			c.Logger.Warn("portal: handshake failed", slog.String("endpoint", addr), slog.Any("error", err))
			endpoint.InTime = false
		} else {
			endpoint.InTime = true
		}
		if err := c.Registry.PutPortalEndpoint(endpoint); err != nil {
			c.Logger.Error("portal: failed to record endpoint state", slog.Any("error", err))
		}
	}
}

// resolveEndpoints mirrors get_portal_addr: a DNS lookup of Hostname,
// falling back to FallbackIP if that resolution fails or returns nothing.
func (c *Client) resolveEndpoints() ([]string, error) {
	ips, err := net.LookupIP(c.Hostname)
	if err != nil || len(ips) == 0 {
		if c.FallbackIP == "" {
			return nil, fmt.Errorf("portal: resolve %s: %w", c.Hostname, err)
		}
		c.Logger.Warn("portal: dns resolution failed, using fallback address",
			slog.String("hostname", c.Hostname), slog.String("fallback", c.FallbackIP))
		return []string{c.FallbackIP}, nil
	}

	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	return addrs, nil
}

// handshake performs the two-connection exchange against one coordinator:
// first discover+identify (verifying whatever identity the coordinator
// hands back, or re-offering our own if it has none, and adopting it in
// memory), then a fresh connection to register.
func (c *Client) handshake(addr string) error {
	if err := c.identify(addr); err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	if err := c.register(addr); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

func (c *Client) dialFrame(addr string) (net.Conn, rpc.FrameReader, rpc.FrameWriter, error) {
	conn, err := c.Dial("tcp", fmt.Sprintf("%s:%d", addr, Port))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, rpc.NewFrameReader(conn), rpc.NewFrameWriter(conn), nil
}

// identify implements query_portal: Discover -> IdRequest -> IdResponse,
// then verify and display whichever identity resolves and copy it into
// c.Identity. The adopted identity is not written to disk.
func (c *Client) identify(addr string) error {
	conn, fr, fw, err := c.dialFrame(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := rpc.Call(fr, fw, rpc.Envelope{Type: rpc.TypeDiscover, Payload: rpc.Discover{}})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if _, ok := resp.Payload.(rpc.IdRequest); !ok {
		return fmt.Errorf("discover: unexpected payload %T", resp.Payload)
	}

	resp, err = rpc.Call(fr, fw, rpc.Envelope{Type: rpc.TypeIdResponse, Payload: rpc.IdResponse{
		MachineID: c.Identity.MachineID,
		Hostname:  c.Identity.Hostname,
		Nonce:     c.Identity.Nonce,
		Present:   true,
	}})
	if err != nil {
		return fmt.Errorf("identity exchange: %w", err)
	}

	peerID, ok := resp.Payload.(rpc.IdResponse)
	if !ok {
		return fmt.Errorf("identity exchange: unexpected payload %T", resp.Payload)
	}

	var candidate identity.Identifier
	if peerID.Present {
		candidate = identity.Identifier{MachineID: peerID.MachineID, Hostname: peerID.Hostname, Nonce: peerID.Nonce}
	} else {
		candidate = *c.Identity
	}

	if !c.Verifier.Verify(&candidate) {
		return fmt.Errorf("identity failed verification")
	}
	candidate.Display(c.Logger)
	c.Identity.MachineID = candidate.MachineID
	c.Identity.Hostname = candidate.Hostname
	c.Identity.Nonce = candidate.Nonce
	return nil
}

// register implements register_with_portal: a fresh connection carrying
// the identity and manager summary.
func (c *Client) register(addr string) error {
	conn, fr, fw, err := c.dialFrame(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	info, err := c.Summary.Compose()
	if err != nil {
		return fmt.Errorf("compose summary: %w", err)
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	resp, err := rpc.Call(fr, fw, rpc.Envelope{Type: rpc.TypeRegisterRequest, Payload: rpc.RegisterRequest{
		MachineID: c.Identity.MachineID,
		Hostname:  c.Identity.Hostname,
		Address:   info.Address,
		Info:      rpc.ManagerInfoPayload{JSON: infoJSON},
	}})
	if err != nil {
		return fmt.Errorf("register request: %w", err)
	}

	switch p := resp.Payload.(type) {
	case rpc.RegisterResponse:
		if !p.OK {
			return fmt.Errorf("coordinator rejected registration")
		}
		return nil
	case rpc.ErrorPayload:
		return fmt.Errorf("coordinator error: %s", p.Message)
	default:
		return fmt.Errorf("unexpected payload %T", resp.Payload)
	}
}
