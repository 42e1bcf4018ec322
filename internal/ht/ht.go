// Package ht implements the Header Transformation (HT) type: an ordered
// list of primitive edits per header layer, and the composition rules
// spec.md §3 requires (associativity, push+pop -> identity, repeated set
// keeps the later edit).
package ht

import (
	"github.com/luqmana/opte/internal/buf"
	"github.com/luqmana/opte/internal/opteerr"
)

// HeaderLayer names which parsed header an Edit targets.
type HeaderLayer uint8

const (
	LayerOuterEther HeaderLayer = iota
	LayerOuterL3
	LayerOuterL4
	LayerInnerEther
	LayerInnerL3
	LayerInnerL4
)

// EditOp is the kind of primitive edit.
type EditOp uint8

const (
	OpPush EditOp = iota
	OpPop
	OpSet
	OpModify
	OpCopy
)

// Edit is a single primitive header edit.
type Edit struct {
	Op     EditOp
	Layer  HeaderLayer
	Field  string // e.g. "src_ip", "src_port" — opaque to HT, meaningful to Apply
	Value  []byte // for Push/Set: the bytes to write
	Delta  int64  // for Modify: signed delta applied to the field's integer value
	FromField string // for Copy: source field name within the same Layer
}

// HT is an ordered list of Edits. Composition is associative:
// compose(compose(a,b), c) == compose(a, compose(b,c)) over the observable
// frame (spec.md §8), because composition is simply list concatenation
// followed by canonicalization, and canonicalization is confluent.
type HT struct {
	edits []Edit
}

// New builds an HT from a list of edits, applying canonicalization.
func New(edits ...Edit) HT {
	return HT{edits: canonicalize(edits)}
}

// Identity is the empty, no-op transformation.
func Identity() HT { return HT{} }

// IsIdentity reports whether this HT has no observable effect.
func (h HT) IsIdentity() bool { return len(h.edits) == 0 }

// Edits returns the canonical edit list. Callers must not mutate it.
func (h HT) Edits() []Edit { return h.edits }

// ChangesLength reports whether applying this HT can change the frame's
// byte length (any Push or Pop present). Resolves spec.md §9's open
// question: port.Process (hot path) and port.coldPath re-parse only when
// this is true (see DESIGN.md).
func (h HT) ChangesLength() bool {
	for _, e := range h.edits {
		if e.Op == OpPush || e.Op == OpPop {
			return true
		}
	}
	return false
}

// Compose returns the HT that applies a then b: compose(a,b). The composed
// HT is recorded as a single entry for the UFT (spec.md §3).
func Compose(a, b HT) HT {
	merged := make([]Edit, 0, len(a.edits)+len(b.edits))
	merged = append(merged, a.edits...)
	merged = append(merged, b.edits...)
	return HT{edits: canonicalize(merged)}
}

// ComposeAll folds a list of HTs left-to-right: compose(compose(h0,h1),h2)...
// Used to build a layer-walk's composed chain and the UFT entry (spec.md §4.4).
func ComposeAll(hts ...HT) HT {
	out := Identity()
	for _, h := range hts {
		out = Compose(out, h)
	}
	return out
}

// canonicalize applies the two reduction rules from spec.md §3:
//   - a Push of header X immediately followed (for the same Layer) by a Pop
//     of header X reduces to identity (both edits removed).
//   - two Set edits targeting the same (Layer, Field) collapse to the later
//     one.
//
// The algorithm processes edits in order, maintaining a stack of pending
// pushes per layer to detect push/pop cancellation, and a last-writer map
// per (layer, field) to detect redundant sets. Non-Set/Push/Pop ops pass
// through unchanged and are never collapsed with each other (Modify and
// Copy are not idempotent in the general case).
func canonicalize(edits []Edit) []Edit {
	type key struct {
		layer HeaderLayer
		field string
	}

	// First pass: cancel adjacent Push/Pop pairs on the same layer. We scan
	// with a small stack per layer of indices of un-cancelled pushes.
	kept := make([]bool, len(edits))
	for i := range kept {
		kept[i] = true
	}
	pushStack := map[HeaderLayer][]int{}
	for i, e := range edits {
		if !kept[i] {
			continue
		}
		switch e.Op {
		case OpPush:
			pushStack[e.Layer] = append(pushStack[e.Layer], i)
		case OpPop:
			stack := pushStack[e.Layer]
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				pushStack[e.Layer] = stack[:len(stack)-1]
				kept[top] = false
				kept[i] = false
			}
		}
	}

	// Second pass: among remaining edits, collapse repeated Set on the same
	// (layer, field) to keep only the last one (later ones shadow earlier
	// ones; we drop the earlier).
	lastSet := map[key]int{}
	for i, e := range edits {
		if !kept[i] || e.Op != OpSet {
			continue
		}
		k := key{e.Layer, e.Field}
		if prev, ok := lastSet[k]; ok {
			kept[prev] = false
		}
		lastSet[k] = i
	}

	out := make([]Edit, 0, len(edits))
	for i, e := range edits {
		if kept[i] {
			out = append(out, e)
		}
	}
	return out
}

// FieldResolver maps a (Layer, Field) edit to a byte offset/length and an
// integer accessor within a parsed view, so Apply can operate generically
// over header kinds without needing to know IPv4 from TCP from Ethernet
// internals. internal/parser implements this interface for its ParsedView.
type FieldResolver interface {
	// FieldOffset returns the byte offset and length of the named field
	// within the given header layer.
	FieldOffset(layer HeaderLayer, field string) (off, length int, err error)
	// HeaderOffset returns the start offset and length of a present header
	// of the given layer (used by Pop, which removes an existing header).
	HeaderOffset(layer HeaderLayer) (off, length int, err error)
	// PushOffset returns the splice point at which a new header of the
	// given (necessarily absent) layer would be inserted (used by Push).
	PushOffset(layer HeaderLayer) (off int, err error)
}

// Apply applies h's edits, in order, to v using resolver to locate fields.
// Errors abort application and are returned as-is (callers treat this as a
// datapath error per spec.md §7).
func Apply(h HT, v *buf.View, resolver FieldResolver) error {
	for _, e := range h.edits {
		if err := applyOne(e, v, resolver); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(e Edit, v *buf.View, resolver FieldResolver) error {
	switch e.Op {
	case OpSet:
		off, length, err := resolver.FieldOffset(e.Layer, e.Field)
		if err != nil {
			return err
		}
		val := e.Value
		if len(val) != length {
			val = padOrTrim(val, length)
		}
		return v.SetBytes(off, val)
	case OpModify:
		off, length, err := resolver.FieldOffset(e.Layer, e.Field)
		if err != nil {
			return err
		}
		cur, err := v.Slice(off, length)
		if err != nil {
			return err
		}
		n := beToInt(cur)
		n += e.Delta
		return v.SetBytes(off, intToBE(n, length))
	case OpCopy:
		dstOff, dstLen, err := resolver.FieldOffset(e.Layer, e.Field)
		if err != nil {
			return err
		}
		srcOff, srcLen, err := resolver.FieldOffset(e.Layer, e.FromField)
		if err != nil {
			return err
		}
		src, err := v.Slice(srcOff, srcLen)
		if err != nil {
			return err
		}
		return v.SetBytes(dstOff, padOrTrim(src, dstLen))
	case OpPush:
		if len(e.Value) == 0 {
			return opteerr.Errorf(opteerr.KindConfig, "push edit for layer %d carries no header bytes", e.Layer)
		}
		off, err := resolver.PushOffset(e.Layer)
		if err != nil {
			return err
		}
		if err := v.PushFront(off, len(e.Value)); err != nil {
			return err
		}
		return v.SetBytes(off, e.Value)
	case OpPop:
		off, length, err := resolver.HeaderOffset(e.Layer)
		if err != nil {
			return err
		}
		return v.PopFront(off, length)
	}
	return nil
}

func padOrTrim(b []byte, n int) []byte {
	if len(b) == n {
		return b
	}
	out := make([]byte, n)
	if len(b) > n {
		copy(out, b[len(b)-n:])
	} else {
		copy(out[n-len(b):], b)
	}
	return out
}

func beToInt(b []byte) int64 {
	var n int64
	for _, c := range b {
		n = n<<8 | int64(c)
	}
	return n
}

func intToBE(n int64, length int) []byte {
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(n & 0xff)
		n >>= 8
	}
	return out
}
