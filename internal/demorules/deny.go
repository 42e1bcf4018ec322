package demorules

import (
	"github.com/luqmana/opte/internal/action"
	"github.com/luqmana/opte/internal/layer"
)

// BuildDenyLayer builds a standalone demonstration of spec.md §8
// scenario 4 in isolation: no rules, default-deny both directions. Not
// part of BuildDemoPort's pipeline — BuildNATLayer's own default already
// denies unmatched traffic once NAT is configured (see its doc comment)
// — this is for a scenario that wants to show the bare default-deny
// behavior (SPEC_FULL.md §6's resolution of the "what happens with no
// matching rule" Open Question) without the nat layer's translation
// logic in the way.
func BuildDenyLayer() (*layer.Layer, error) {
	return layer.New(layer.Config{
		Name:            "deny",
		LFTCapacity:     64,
		OutboundDefault: action.NewDeny(),
		InboundDefault:  action.NewDeny(),
	})
}
