// Package hairpin implements reply generators for the Hairpin action kind
// (spec.md §4.3: "gen_reply(view, meta) -> Result<Frame, GenHpError>") —
// the four address-resolution/liveness protocols a virtual port answers
// locally rather than forwarding: ARP, IPv6 Neighbor Discovery, DHCPv4,
// and ICMP/ICMPv6 echo. Each constructor here returns an
// action.GenReplyFunc closure suitable for action.NewHairpin, closing
// over the port's own L2/L3 identity so the generator needs no extra
// context beyond match.Meta's raw-frame entry (internal/match.MetaKeyRawFrame).
//
// Grounded on grimm-is-flywall/internal/services/dhcp/service.go's
// handleDiscover/handleRequest request-to-reply shape (adapted: that
// service answers over a real UDP socket with a persistent LeaseStore;
// this package answers in-datapath with an in-memory Pool, since
// SPEC_FULL.md's Non-goals exclude a durable lease database) and on
// gopacket's layers package for ARP/ICMPv6/ICMPv4 frame construction,
// already this module's established packet-building library
// (internal/parser, internal/port's tests).
package hairpin

import (
	"net"
	"net/netip"

	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
)

// rawFrame extracts the current frame bytes a Hairpin generator needs to
// inspect the original request (sender MAC, DHCP options, echo id/seq)
// that match.Fields alone does not expose.
func rawFrame(meta match.Meta) ([]byte, error) {
	raw, ok := meta[match.MetaKeyRawFrame].([]byte)
	if !ok {
		return nil, opteerr.New(opteerr.KindHairpin, "raw frame not present in pipeline metadata")
	}
	return raw, nil
}

// Identity is a virtual port's own L2/L3 addresses, the closure context
// every generator in this package needs to answer "is this request
// addressed to me" and "what do I say I am".
type Identity struct {
	MAC  net.HardwareAddr
	IPv4 netip.Addr
	IPv6 netip.Addr
}
