// Package config loads the engine-level configuration (port names,
// per-port layer ordering, per-layer per-direction default action,
// LFT/UFT capacities, idle/TimeWait timeouts) from HCL and builds the
// corresponding internal/port.Port and internal/layer.Layer values.
//
// The actual VPC rule set (specific predicates/actions a layer's rule
// table holds) is out of scope here per spec.md's own non-goals — this
// package only wires the generic knobs every port/layer needs
// regardless of which rule set is loaded into it afterward.
//
// Grounded on grimm-is-flywall/internal/config/hcl.go's typed-decode +
// Validate()/DeepValidate() shape.
package config

// EngineConfig is the top-level decoded configuration: an ordered list
// of ports, each with an ordered list of layers.
type EngineConfig struct {
	Ports []PortConfig `hcl:"port,block"`
}

// PortConfig configures one internal/port.Port.
type PortConfig struct {
	Name            string        `hcl:"name,label"`
	UFTCapacity     int           `hcl:"uft_capacity,optional"`
	UFTIdleTTLTicks int64         `hcl:"uft_idle_ttl_ticks,optional"`
	TimeWaitTicks   int64         `hcl:"timewait_ticks,optional"`
	Layers          []LayerConfig `hcl:"layer,block"`
}

// LayerConfig configures one internal/layer.Layer. Both directions'
// default policy are required HCL blocks with no implicit fallback
// (spec.md §9 Open Question #1, resolved this way — see DESIGN.md).
type LayerConfig struct {
	Name            string          `hcl:"name,label"`
	LFTCapacity     int             `hcl:"lft_capacity,optional"`
	LFTIdleTTLTicks int64           `hcl:"lft_idle_ttl_ticks,optional"`
	Outbound        DirectionPolicy `hcl:"outbound,block"`
	Inbound         DirectionPolicy `hcl:"inbound,block"`
}

// DefaultActionKind names the generic default-action policies the config
// package can express without reaching into a specific rule set.
type DefaultActionKind string

const (
	DefaultAllow DefaultActionKind = "allow"
	DefaultDeny  DefaultActionKind = "deny"
)

// DirectionPolicy holds one direction's default-action keyword. The HCL
// attribute itself is optional so a missing value decodes to "" instead
// of a hard decode error — Validate is what enforces "required, no
// implicit fallback" (spec.md §9 Open Question #1), so the distinction
// between "omitted" and "explicitly invalid" stays visible to callers
// inspecting ValidationErrors instead of being swallowed by the decoder.
type DirectionPolicy struct {
	Default string `hcl:"default_action,optional"`
}

// defaultUFTCapacity/defaultLFTCapacity/defaultIdleTTLTicks fill in
// zero-valued optional HCL attributes (see hcl.go), mirroring the teacher's "@default:" doc-comment convention
// of documented implicit defaults for optional fields only — direction
// defaults remain required (see LayerConfig).
const (
	defaultUFTCapacity  = 4096
	defaultLFTCapacity  = 4096
	defaultIdleTTLTicks = 120
)
