package hairpin

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
)

// NewARPReplyGenerator builds a GenReplyFunc answering ARP requests whose
// target protocol address is id.IPv4. Requests for any other address
// return a GenHpError, which the engine treats as a resolvable-but-wrong
// pipeline failure (spec.md §4.3) rather than silently dropping — a
// misconfigured rule that hairpins ARP for the wrong subnet should be
// loud, not silent.
func NewARPReplyGenerator(id Identity) action.GenReplyFunc {
	return func(_ match.Fields, meta match.Meta) ([]byte, error) {
		raw, err := rawFrame(meta)
		if err != nil {
			return nil, err
		}

		pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.NoCopy)
		arpLayer := pkt.Layer(layers.LayerTypeARP)
		if arpLayer == nil {
			return nil, opteerr.New(opteerr.KindHairpin, "no ARP layer in hairpin request frame")
		}
		req := arpLayer.(*layers.ARP)
		if req.Operation != layers.ARPRequest {
			return nil, opteerr.New(opteerr.KindHairpin, "ARP hairpin generator invoked on a non-request frame")
		}

		target, ok := netip.AddrFromSlice(req.DstProtAddress)
		if !ok || target.As4() != id.IPv4.As4() {
			return nil, opteerr.Errorf(opteerr.KindHairpin, "ARP request target %v does not match port address %v", req.DstProtAddress, id.IPv4)
		}

		ethReq := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)

		ethReply := &layers.Ethernet{
			SrcMAC:       id.MAC,
			DstMAC:       ethReq.SrcMAC,
			EthernetType: layers.EthernetTypeARP,
		}
		arpReply := &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPReply,
			SourceHwAddress:   id.MAC,
			SourceProtAddress: req.DstProtAddress,
			DstHwAddress:      req.SourceHwAddress,
			DstProtAddress:    req.SourceProtAddress,
		}

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true}
		if err := gopacket.SerializeLayers(buf, opts, ethReply, arpReply); err != nil {
			return nil, opteerr.Wrap(err, opteerr.KindHairpin, "serializing ARP reply")
		}
		return buf.Bytes(), nil
	}
}
