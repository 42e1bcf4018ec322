package hairpin_test

import (
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/hairpin"
	"github.com/luqmana/opte/internal/match"
)

func wrapClientDHCPFrame(t *testing.T, clientMAC net.HardwareAddr, msg *dhcpv4.DHCPv4) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       clientMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4zero,
		DstIP:    net.IPv4bcast,
	}
	udp := &layers.UDP{SrcPort: 68, DstPort: 67}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip4))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip4, udp, gopacket.Payload(msg.ToBytes())))
	return buf.Bytes()
}

func testDHCPConfig(pool *hairpin.Pool) hairpin.DHCPConfig {
	return hairpin.DHCPConfig{
		ServerIP:  net.ParseIP("192.168.0.1").To4(),
		ServerMAC: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x50},
		Router:    net.ParseIP("192.168.0.1").To4(),
		Netmask:   net.IPv4Mask(255, 255, 255, 0),
		DNS:       []net.IP{net.ParseIP("192.168.0.1").To4()},
		LeaseTime: time.Hour,
		Pool:      pool,
	}
}

func TestDHCPReplyGeneratorAnswersDiscoverWithOffer(t *testing.T) {
	clientMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x60}
	discover, err := dhcpv4.NewDiscovery(clientMAC)
	require.NoError(t, err)
	frame := wrapClientDHCPFrame(t, clientMAC, discover)

	pool := hairpin.NewPool(net.ParseIP("192.168.0.100").To4(), net.ParseIP("192.168.0.200").To4())
	gen := hairpin.NewDHCPReplyGenerator(testDHCPConfig(pool))

	reply, err := gen(nil, match.Meta{match.MetaKeyRawFrame: frame})
	require.NoError(t, err)

	pkt := gopacket.NewPacket(reply, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	require.NotNil(t, udpLayer)

	offer, err := dhcpv4.FromBytes(udpLayer.(*layers.UDP).LayerPayload())
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeOffer, offer.MessageType())
	require.Equal(t, "192.168.0.100", offer.YourIPAddr.String())
}

func TestDHCPReplyGeneratorAnswersRequestWithAck(t *testing.T) {
	clientMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x61}
	request, err := dhcpv4.NewDiscovery(clientMAC)
	require.NoError(t, err)
	request.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeRequest))
	frame := wrapClientDHCPFrame(t, clientMAC, request)

	pool := hairpin.NewPool(net.ParseIP("192.168.0.100").To4(), net.ParseIP("192.168.0.200").To4())
	gen := hairpin.NewDHCPReplyGenerator(testDHCPConfig(pool))

	reply, err := gen(nil, match.Meta{match.MetaKeyRawFrame: frame})
	require.NoError(t, err)

	pkt := gopacket.NewPacket(reply, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	require.NotNil(t, udpLayer)

	ack, err := dhcpv4.FromBytes(udpLayer.(*layers.UDP).LayerPayload())
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeAck, ack.MessageType())
	require.Equal(t, "192.168.0.100", ack.YourIPAddr.String())
}

func TestDHCPReplyGeneratorNaksWhenPoolExhausted(t *testing.T) {
	pool := hairpin.NewPool(net.ParseIP("192.168.0.100").To4(), net.ParseIP("192.168.0.100").To4())
	cfg := testDHCPConfig(pool)
	gen := hairpin.NewDHCPReplyGenerator(cfg)

	firstMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x62}
	firstDiscover, err := dhcpv4.NewDiscovery(firstMAC)
	require.NoError(t, err)
	_, err = gen(nil, match.Meta{match.MetaKeyRawFrame: wrapClientDHCPFrame(t, firstMAC, firstDiscover)})
	require.NoError(t, err)

	secondMAC := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x63}
	secondRequest, err := dhcpv4.NewDiscovery(secondMAC)
	require.NoError(t, err)
	secondRequest.UpdateOption(dhcpv4.OptMessageType(dhcpv4.MessageTypeRequest))
	frame := wrapClientDHCPFrame(t, secondMAC, secondRequest)

	reply, err := gen(nil, match.Meta{match.MetaKeyRawFrame: frame})
	require.NoError(t, err)

	pkt := gopacket.NewPacket(reply, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	require.NotNil(t, udpLayer)

	nak, err := dhcpv4.FromBytes(udpLayer.(*layers.UDP).LayerPayload())
	require.NoError(t, err)
	require.Equal(t, dhcpv4.MessageTypeNak, nak.MessageType())
}
