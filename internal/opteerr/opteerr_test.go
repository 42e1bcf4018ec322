package opteerr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqmana/opte/internal/opteerr"
)

func TestErrorMessage(t *testing.T) {
	err := opteerr.New(opteerr.KindCapacity, "uft full")
	assert.Equal(t, "capacity: uft full", err.Error())
}

func TestWrapUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := opteerr.Wrap(base, opteerr.KindParse, "truncated frame")
	require.ErrorIs(t, err, base)
	assert.Equal(t, base, err.Unwrap())
}

func TestKindOf(t *testing.T) {
	err := opteerr.New(opteerr.KindRuleMiss, "no match")
	assert.Equal(t, opteerr.KindRuleMiss, opteerr.KindOf(err))
	assert.Equal(t, opteerr.KindUnknown, opteerr.KindOf(nil))
	assert.Equal(t, opteerr.KindInternal, opteerr.KindOf(errors.New("plain")))
}

func TestWithAttributes(t *testing.T) {
	err := opteerr.New(opteerr.KindActionGen, "gen_desc failed").
		With("flow", "1.2.3.4:80").
		With("layer", "nat")
	assert.Equal(t, "1.2.3.4:80", err.Attributes["flow"])
	assert.Equal(t, "nat", err.Attributes["layer"])
}
