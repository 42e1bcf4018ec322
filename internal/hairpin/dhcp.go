package hairpin

import (
	"net"
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
)

// Pool is an in-memory, sequential-scan DHCPv4 lease allocator keyed by
// client MAC. Grounded on grimm-is-flywall/internal/services/dhcp's
// LeaseStore.Allocate (linear scan over [RangeStart, RangeEnd], an
// isTaken reverse-lookup map, an incIP helper), simplified to a pure
// in-memory map since SPEC_FULL.md's Non-goals exclude a persistent
// lease database — this engine's hairpin DHCP server only needs to
// answer consistently within one run, not survive a restart.
type Pool struct {
	mu        sync.Mutex
	start, end net.IP
	taken     map[string]net.IP // mac -> ip
	reverse   map[string]bool   // ip.String() -> in use
}

// NewPool builds a Pool over the inclusive IPv4 range [start, end].
func NewPool(start, end net.IP) *Pool {
	return &Pool{
		start: start.To4(), end: end.To4(),
		taken:   make(map[string]net.IP),
		reverse: make(map[string]bool),
	}
}

// Allocate returns mac's existing lease, or scans for the next free
// address in the pool's range.
func (p *Pool) Allocate(mac string) (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ip, ok := p.taken[mac]; ok {
		return ip, nil
	}
	for ip := p.start; !ip.Equal(p.end); ip = incIP(ip) {
		if !p.reverse[ip.String()] {
			p.taken[mac] = ip
			p.reverse[ip.String()] = true
			return ip, nil
		}
	}
	if !p.reverse[p.end.String()] {
		p.taken[mac] = p.end
		p.reverse[p.end.String()] = true
		return p.end, nil
	}
	return nil, opteerr.New(opteerr.KindHairpin, "DHCP pool exhausted")
}

func incIP(ip net.IP) net.IP {
	ret := make(net.IP, len(ip))
	copy(ret, ip)
	for i := len(ret) - 1; i >= 0; i-- {
		ret[i]++
		if ret[i] > 0 {
			break
		}
	}
	return ret
}

// DHCPConfig holds the fixed per-port DHCP server identity.
type DHCPConfig struct {
	ServerIP  net.IP
	ServerMAC net.HardwareAddr
	Router    net.IP
	Netmask   net.IPMask
	DNS       []net.IP
	LeaseTime time.Duration
	Pool      *Pool
}

// NewDHCPReplyGenerator builds a GenReplyFunc answering DHCPDISCOVER with
// DHCPOFFER and DHCPREQUEST with DHCPACK/DHCPNAK, mirroring
// handleDiscover/handleRequest's modifier-list-then-NewReplyFromRequest
// shape from the teacher's DHCP service (adapted from a persistent,
// reservation-aware LeaseStore to this package's in-memory Pool).
func NewDHCPReplyGenerator(cfg DHCPConfig) action.GenReplyFunc {
	return func(_ match.Fields, meta match.Meta) ([]byte, error) {
		raw, err := rawFrame(meta)
		if err != nil {
			return nil, err
		}

		udpPayload, perr := extractUDPPayload(raw)
		if perr != nil {
			return nil, perr
		}

		req, err := dhcpv4.FromBytes(udpPayload)
		if err != nil {
			return nil, opteerr.Wrap(err, opteerr.KindHairpin, "parsing DHCPv4 request")
		}

		mac := req.ClientHWAddr.String()

		switch req.MessageType() {
		case dhcpv4.MessageTypeDiscover:
			ip, err := cfg.Pool.Allocate(mac)
			if err != nil {
				return nil, opteerr.Wrap(err, opteerr.KindHairpin, "allocating DHCP lease")
			}
			reply, err := dhcpv4.NewReplyFromRequest(req,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
				dhcpv4.WithYourIP(ip),
				dhcpv4.WithServerIP(cfg.ServerIP),
				dhcpv4.WithRouter(cfg.Router),
				dhcpv4.WithNetmask(cfg.Netmask),
				dhcpv4.WithDNS(cfg.DNS...),
				dhcpv4.WithLeaseTime(uint32(cfg.LeaseTime.Seconds())),
			)
			if err != nil {
				return nil, opteerr.Wrap(err, opteerr.KindHairpin, "building DHCPOFFER")
			}
			return wrapUDPReply(raw, cfg, reply.ToBytes())

		case dhcpv4.MessageTypeRequest:
			ip, err := cfg.Pool.Allocate(mac)
			if err != nil {
				nak, nerr := dhcpv4.NewReplyFromRequest(req,
					dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
					dhcpv4.WithServerIP(cfg.ServerIP),
				)
				if nerr != nil {
					return nil, opteerr.Wrap(nerr, opteerr.KindHairpin, "building DHCPNAK")
				}
				return wrapUDPReply(raw, cfg, nak.ToBytes())
			}
			reply, err := dhcpv4.NewReplyFromRequest(req,
				dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
				dhcpv4.WithYourIP(ip),
				dhcpv4.WithServerIP(cfg.ServerIP),
				dhcpv4.WithRouter(cfg.Router),
				dhcpv4.WithNetmask(cfg.Netmask),
				dhcpv4.WithDNS(cfg.DNS...),
				dhcpv4.WithLeaseTime(uint32(cfg.LeaseTime.Seconds())),
			)
			if err != nil {
				return nil, opteerr.Wrap(err, opteerr.KindHairpin, "building DHCPACK")
			}
			return wrapUDPReply(raw, cfg, reply.ToBytes())

		default:
			return nil, opteerr.Errorf(opteerr.KindHairpin, "unsupported DHCP message type %s for hairpin reply", req.MessageType())
		}
	}
}
