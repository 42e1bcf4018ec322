package demorules

import (
	"math/rand/v2"
	"sync"

	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/ht"
	"github.com/luqmana/opte/internal/layer"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/rule"
)

// portAllocator hands out a random port in [lo, hi] each time it's asked,
// recording every port it has handed out and preferring ones not yet
// handed out. A recorded port is never released, not even once its flow's
// UFT/LFT entries age out (stateful actions have no "release" callback).
// Each allocation makes span random draws; if none of them finds an
// unrecorded port, it returns a random port from the range, which may
// already be in use by another flow.
type portAllocator struct {
	mu     sync.Mutex
	lo, hi uint16
	inUse  map[uint16]struct{}
}

func newPortAllocator(lo, hi uint16) *portAllocator {
	if lo == 0 || hi < lo {
		lo, hi = 40000, 60000
	}
	return &portAllocator{lo: lo, hi: hi, inUse: make(map[uint16]struct{})}
}

func (a *portAllocator) allocate() uint16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	span := int(a.hi-a.lo) + 1
	for i := 0; i < span; i++ {
		p := a.lo + uint16(rand.IntN(span))
		if _, busy := a.inUse[p]; !busy {
			a.inUse[p] = struct{}{}
			return p
		}
	}
	// No unrecorded port found: fall back to random reuse rather than
	// fail the translation outright.
	return a.lo + uint16(rand.IntN(span))
}

// BuildNATLayer builds a one-rule stateful SNAT layer combining spec.md
// §8 scenarios 2 and 4: outbound traffic from InsidePrefix gets its
// source address rewritten to ExternalIP with a freshly allocated
// ephemeral source port, with the reverse half of the generated HT
// undoing both on the reply path; anything that doesn't match (wrong
// source prefix, or a reply with no matching reverse UFT entry) hits
// this layer's default, which is Deny once NAT is configured — the
// layer doubles as the pipeline's firewall, not just a translator. A
// zero ExternalIP disables the rule and leaves the layer pure
// default-allow passthrough, for scenarios that only need the services
// layer's hairpins.
func BuildNATLayer(cfg NATConfig) (*layer.Layer, error) {
	defaultAction := action.NewAllow()
	if cfg.ExternalIP != nil {
		defaultAction = action.NewDeny()
	}
	l, err := layer.New(layer.Config{
		Name:            "nat",
		LFTCapacity:     1024,
		OutboundDefault: defaultAction,
		InboundDefault:  defaultAction,
	})
	if err != nil {
		return nil, err
	}
	if cfg.ExternalIP == nil {
		return l, nil
	}

	extIP4 := cfg.ExternalIP.To4()
	ports := newPortAllocator(cfg.EphemeralLo, cfg.EphemeralHi)

	snat := action.NewStateful(func(flow match.Fields, _ match.Meta) (ht.HT, ht.HT, action.StateDesc, error) {
		newPort := ports.allocate()
		portBytes := []byte{byte(newPort >> 8), byte(newPort)}

		out := ht.New(
			ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL3, Field: "src_ip", Value: extIP4},
			ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL4, Field: "src_port", Value: portBytes},
		)

		srcIP := flow.SrcIP().As4()
		srcPortBytes := []byte{byte(flow.SrcPort() >> 8), byte(flow.SrcPort())}
		in := ht.New(
			ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL3, Field: "dst_ip", Value: srcIP[:]},
			ht.Edit{Op: ht.OpSet, Layer: ht.LayerInnerL4, Field: "dst_port", Value: srcPortBytes},
		)

		return out, in, "snat", nil
	})

	addrSet := match.NewAddrSet("nat-inside", match.AddrSrc, cfg.InsidePrefix)
	l.Outbound.Add(rule.New(10, match.All{addrSet}, snat))

	return l, nil
}
