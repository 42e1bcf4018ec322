// Package demorules assembles a small, non-VPC rule set demonstrating the
// pipeline end to end (spec.md §8 scenarios 1-6): address-resolution
// hairpins, a stateful SNAT translation, and a default-deny backstop. It is
// not a VPC security-group compiler — there's no subnet/peer model here,
// just enough rules for cmd/optesim and cmd/optetop to drive a real Port.
package demorules

import (
	"net"
	"net/netip"

	"github.com/luqmana/opte/internal/hairpin"
	"github.com/luqmana/opte/internal/port"
)

// Config is everything needed to stand up the demo pipeline on one Port.
type Config struct {
	// Identity is the virtual port's own L2/L3 addresses, answered for by
	// the services layer's ARP/NDP/ICMP-echo hairpins.
	Identity hairpin.Identity

	// DHCP is the server identity/lease pool the services layer hairpins
	// DHCPDISCOVER/DHCPREQUEST against. A nil Pool disables DHCP hairpins.
	DHCP hairpin.DHCPConfig

	// NAT describes the stateful outbound translation the nat layer
	// applies. A zero ExternalIP disables the NAT layer's rule, leaving
	// it a pure default-allow passthrough.
	NAT NATConfig

	// UFTCapacity/UFTIdleTTL/TimeWaitTicks forward to port.Config.
	UFTCapacity   int
	UFTIdleTTL    int64
	TimeWaitTicks int64
}

// BuildDemoPort wires the services and nat layers onto a fresh Port in
// the order a packet should see them: answer what can be answered
// locally first, then translate/filter. The nat layer's own default
// (Deny once NAT.ExternalIP is set, see BuildNATLayer) supplies spec.md
// §8 scenario 4's default-deny backstop, so a standalone deny layer
// isn't part of this pipeline — see BuildDenyLayer for a bare
// single-layer demonstration of that scenario on its own.
func BuildDemoPort(cfg Config) (*port.Port, error) {
	p := port.New(port.Config{
		Name:          "demo0",
		UFTCapacity:   cfg.UFTCapacity,
		UFTIdleTTL:    cfg.UFTIdleTTL,
		TimeWaitTicks: cfg.TimeWaitTicks,
	})

	services, err := BuildServicesLayer(cfg.Identity, cfg.DHCP)
	if err != nil {
		return nil, err
	}
	nat, err := BuildNATLayer(cfg.NAT)
	if err != nil {
		return nil, err
	}

	p.AddLayer(services, 0)
	p.AddLayer(nat, 1)
	return p, nil
}

// NATConfig describes the single outbound SNAT translation the nat layer
// applies to traffic from InsidePrefix, and the ephemeral port range it
// draws the rewritten source port from.
type NATConfig struct {
	InsidePrefix netip.Prefix
	ExternalIP   net.IP
	EphemeralLo  uint16
	EphemeralHi  uint16
}
