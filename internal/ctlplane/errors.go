package ctlplane

import (
	"fmt"

	"github.com/luqmana/opte/internal/opteerr"
)

// OpteError mirrors the control-plane error variants spec.md §6
// enumerates: PortNotFound, LayerNotFound, RuleNotFound, BadArgument(msg),
// ResourceExhausted, GenDescFailed(msg), Internal(msg), BufferTooSmall(needed).
// It is a plain, gob/json-marshalable struct (unlike opteerr.Error, whose
// Attributes map and wrapped error are not guaranteed to round-trip) so it
// can cross the net/rpc boundary as a response payload.
type OpteError struct {
	Variant string
	Message string
	Needed  int // populated only for BufferTooSmall
}

func (e *OpteError) Error() string {
	if e.Message == "" {
		return e.Variant
	}
	return fmt.Sprintf("%s: %s", e.Variant, e.Message)
}

const (
	VariantPortNotFound       = "PortNotFound"
	VariantLayerNotFound      = "LayerNotFound"
	VariantRuleNotFound       = "RuleNotFound"
	VariantBadArgument        = "BadArgument"
	VariantResourceExhausted  = "ResourceExhausted"
	VariantGenDescFailed      = "GenDescFailed"
	VariantInternal           = "Internal"
	VariantBufferTooSmall     = "BufferTooSmall"
)

// CurrentAPIVersion is the wire layout version every command on the
// control-plane channel carries (spec.md §6: "The wire layout is
// versioned by an api_version integer on every command; mismatches
// return BadArgument").
const CurrentAPIVersion = 1

// checkAPIVersion validates a request's carried api_version against
// CurrentAPIVersion, returning a BadArgument OpteError on mismatch.
func checkAPIVersion(got int) *OpteError {
	if got != CurrentAPIVersion {
		return &OpteError{
			Variant: VariantBadArgument,
			Message: fmt.Sprintf("api_version mismatch: got %d, server runs %d", got, CurrentAPIVersion),
		}
	}
	return nil
}

// fromOpteErr maps an internal opteerr.Error (by Kind) to the wire-safe
// OpteError variant spec.md §6 names. Kinds with no named control-plane
// variant fall back to Internal.
func fromOpteErr(err error) *OpteError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch opteerr.KindOf(err) {
	case opteerr.KindPortNotFound:
		return &OpteError{Variant: VariantPortNotFound, Message: msg}
	case opteerr.KindLayerNotFound:
		return &OpteError{Variant: VariantLayerNotFound, Message: msg}
	case opteerr.KindRuleNotFound:
		return &OpteError{Variant: VariantRuleNotFound, Message: msg}
	case opteerr.KindBadArgument:
		return &OpteError{Variant: VariantBadArgument, Message: msg}
	case opteerr.KindResourceExhausted:
		return &OpteError{Variant: VariantResourceExhausted, Message: msg}
	case opteerr.KindGenDescFailed:
		return &OpteError{Variant: VariantGenDescFailed, Message: msg}
	case opteerr.KindBufferTooSmall:
		return &OpteError{Variant: VariantBufferTooSmall, Message: msg}
	default:
		return &OpteError{Variant: VariantInternal, Message: msg}
	}
}

func notFound(variant, format string, args ...any) *OpteError {
	return &OpteError{Variant: variant, Message: fmt.Sprintf(format, args...)}
}
