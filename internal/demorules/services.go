package demorules

import (
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/flowid"
	"github.com/luqmana/opte/internal/hairpin"
	"github.com/luqmana/opte/internal/layer"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/rule"
)

// BuildServicesLayer builds the address-resolution/liveness layer: ARP and
// NDP answered for id's own addresses, ICMP/ICMPv6 echo answered locally,
// and (when dhcp.Pool is set) DHCPv4 lease hairpins — spec.md §8 scenario
// 3's "Hairpin ARP" generalized to the other three protocols
// internal/hairpin implements. Every match here is inbound: these are
// requests arriving at the port, answered back out the same direction
// they came from (port.Process emits an OutcomeHairpin reply in the
// opposite direction; the rule table side stays inbound).
//
// Anything that isn't one of these four protocols falls through to the
// layer's default, which is Allow in both directions — the services
// layer only intercepts what it can answer locally, it is not a filter.
func BuildServicesLayer(id hairpin.Identity, dhcp hairpin.DHCPConfig) (*layer.Layer, error) {
	l, err := layer.New(layer.Config{
		Name:            "services",
		LFTCapacity:     256,
		OutboundDefault: action.NewAllow(),
		InboundDefault:  action.NewAllow(),
	})
	if err != nil {
		return nil, err
	}

	arpReply := action.NewHairpin(hairpin.NewARPReplyGenerator(id))
	l.Inbound.Add(rule.New(100,
		match.All{match.EtherTypeIs{EtherType: uint16(layers.EthernetTypeARP)}},
		arpReply,
	))

	ndpReply := action.NewHairpin(hairpin.NewNDPReplyGenerator(id))
	l.Inbound.Add(rule.New(100,
		match.All{
			match.ProtocolIs{Proto: flowid.ProtoICMPv6},
			match.ICMPTypeIs{Type: uint8(layers.ICMPv6TypeNeighborSolicitation)},
		},
		ndpReply,
	))

	echoReply := action.NewHairpin(hairpin.NewICMPEchoReplyGenerator(id))
	l.Inbound.Add(rule.New(90,
		match.All{
			match.ProtocolIs{Proto: flowid.ProtoICMP},
			match.ICMPTypeIs{Type: uint8(layers.ICMPv4TypeEchoRequest)},
		},
		echoReply,
	))
	l.Inbound.Add(rule.New(90,
		match.All{
			match.ProtocolIs{Proto: flowid.ProtoICMPv6},
			match.ICMPTypeIs{Type: uint8(layers.ICMPv6TypeEchoRequest)},
		},
		echoReply,
	))

	if dhcp.Pool != nil {
		dhcpReply := action.NewHairpin(hairpin.NewDHCPReplyGenerator(dhcp))
		l.Inbound.Add(rule.New(80,
			match.All{
				match.ProtocolIs{Proto: flowid.ProtoUDP},
				match.ExactField{Field: match.FieldDstPort, Value: 67},
			},
			dhcpReply,
		))
	}

	return l, nil
}
