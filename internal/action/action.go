// Package action implements the tagged Action variant from spec.md §3/§4.3:
// Static, Stateful, Hairpin, Meta, Deny, Allow. Per spec.md §9 ("avoid
// heap-allocated boxed trait objects where a tagged enum and inline storage
// suffice"), Action is a single struct carrying a Kind discriminator and
// the fields relevant to that kind, not an interface hierarchy — grounded
// on the teacher's internal/ebpf/types verdict enums, generalized with the
// per-kind generator callbacks spec.md requires.
package action

import (
	"github.com/luqmana/opte/internal/ht"
	"github.com/luqmana/opte/internal/match"
	"github.com/luqmana/opte/internal/opteerr"
)

// Kind discriminates the six action variants.
type Kind uint8

const (
	KindStatic Kind = iota
	KindStateful
	KindHairpin
	KindMeta
	KindDeny
	KindAllow
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindStateful:
		return "stateful"
	case KindHairpin:
		return "hairpin"
	case KindMeta:
		return "meta"
	case KindDeny:
		return "deny"
	case KindAllow:
		return "allow"
	default:
		return "unknown"
	}
}

// StateDesc is an opaque per-flow state descriptor produced by a Stateful
// action's generator (e.g. the chosen NAT port, a rewrite mapping). The
// engine stores it alongside the LFT entry but never inspects it.
type StateDesc any

// GenDescFunc is a Stateful action's HT/state generator (spec.md §4.3:
// "gen_desc(flow_id, view, meta) -> Result<(HT_out, HT_in, StateDesc),
// GenDescError>"). Errors bubble as a KindActionGen pipeline failure.
type GenDescFunc func(flow match.Fields, meta match.Meta) (htOut, htIn ht.HT, desc StateDesc, err error)

// GenReplyFunc is a Hairpin action's reply synthesizer (spec.md §4.3:
// "gen_reply(view, meta) -> Result<Frame, GenHpError>").
type GenReplyFunc func(view match.Fields, meta match.Meta) (reply []byte, err error)

// MetaFunc is a Meta action's metadata mutator. It never touches the frame.
type MetaFunc func(meta match.Meta) error

// Action is the resolved behavior a matching Rule (or a layer's default
// policy) carries.
type Action struct {
	Kind Kind

	// Static
	StaticHT ht.HT

	// Stateful
	GenDesc GenDescFunc

	// Hairpin
	GenReply GenReplyFunc

	// Meta
	MetaFn MetaFunc

	// Name is a short human label used in telemetry and dump_* snapshots;
	// optional.
	Name string
}

// NewStatic builds a Static action from a fixed HT (spec.md §4.3:
// "generation is free").
func NewStatic(h ht.HT) *Action { return &Action{Kind: KindStatic, StaticHT: h} }

// NewStateful builds a Stateful action from its descriptor generator.
func NewStateful(gen GenDescFunc) *Action { return &Action{Kind: KindStateful, GenDesc: gen} }

// NewHairpin builds a Hairpin action from its reply generator.
func NewHairpin(gen GenReplyFunc) *Action { return &Action{Kind: KindHairpin, GenReply: gen} }

// NewMeta builds a Meta action from its metadata mutator.
func NewMeta(fn MetaFunc) *Action { return &Action{Kind: KindMeta, MetaFn: fn} }

// NewDeny builds the Deny action (drop, no state).
func NewDeny() *Action { return &Action{Kind: KindDeny} }

// NewAllow builds the Allow action (pass through untransformed).
func NewAllow() *Action { return &Action{Kind: KindAllow} }

// Outcome is the effect of resolving one Action against a packet.
type Outcome uint8

const (
	// OutcomeTransform means HTOut/HTIn (and optionally Desc) were
	// produced and should be applied/cached by the caller.
	OutcomeTransform Outcome = iota
	// OutcomeHairpin means Reply holds a synthesized frame and the
	// engine should terminate processing for this packet.
	OutcomeHairpin
	// OutcomeDeny means the packet should be dropped.
	OutcomeDeny
	// OutcomeMeta means only pipeline metadata changed; no HT to apply.
	OutcomeMeta
)

// Resolution is the generic result of Resolve, covering every Kind so
// internal/layer does not need a type switch at every call site.
type Resolution struct {
	Outcome  Outcome
	HTOut    ht.HT
	HTIn     ht.HT
	Desc     StateDesc
	HasDesc  bool
	Reply    []byte
}

// Resolve executes the action against the current packet view and
// metadata, per spec.md §4.4 step 4 ("resolve the action: generate HT for
// stateful; static HT for static; terminate for hairpin/deny").
func (a *Action) Resolve(view match.Fields, meta match.Meta) (Resolution, error) {
	switch a.Kind {
	case KindStatic:
		return Resolution{Outcome: OutcomeTransform, HTOut: a.StaticHT, HTIn: a.StaticHT}, nil
	case KindAllow:
		return Resolution{Outcome: OutcomeTransform, HTOut: ht.Identity(), HTIn: ht.Identity()}, nil
	case KindDeny:
		return Resolution{Outcome: OutcomeDeny}, nil
	case KindMeta:
		if a.MetaFn == nil {
			return Resolution{}, opteerr.New(opteerr.KindActionGen, "meta action missing MetaFn")
		}
		if err := a.MetaFn(meta); err != nil {
			return Resolution{}, opteerr.Wrap(err, opteerr.KindActionGen, "meta action failed")
		}
		return Resolution{Outcome: OutcomeMeta}, nil
	case KindStateful:
		if a.GenDesc == nil {
			return Resolution{}, opteerr.New(opteerr.KindActionGen, "stateful action missing GenDesc")
		}
		htOut, htIn, desc, err := a.GenDesc(view, meta)
		if err != nil {
			return Resolution{}, opteerr.Wrap(err, opteerr.KindActionGen, "gen_desc failed")
		}
		return Resolution{Outcome: OutcomeTransform, HTOut: htOut, HTIn: htIn, Desc: desc, HasDesc: true}, nil
	case KindHairpin:
		if a.GenReply == nil {
			return Resolution{}, opteerr.New(opteerr.KindHairpin, "hairpin action missing GenReply")
		}
		reply, err := a.GenReply(view, meta)
		if err != nil {
			return Resolution{}, opteerr.Wrap(err, opteerr.KindHairpin, "gen_reply failed")
		}
		return Resolution{Outcome: OutcomeHairpin, Reply: reply}, nil
	default:
		return Resolution{}, opteerr.Errorf(opteerr.KindInternal, "unknown action kind %v", a.Kind)
	}
}
