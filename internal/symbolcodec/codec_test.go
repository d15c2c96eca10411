package symbolcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_AlreadyCanonical(t *testing.T) {
	assert.Equal(t, "NIFTY31JUL2624000CE", Canonicalize("nifty31jul2624000ce"))
}

func TestCanonicalize_DirectionPrefix(t *testing.T) {
	assert.Equal(t, "NIFTY31JUL2624000CE", Canonicalize("NIFTY31JUL26C24000"))
}

func TestCanonicalize_DirectionSuffix(t *testing.T) {
	assert.Equal(t, "NIFTY31JUL2624000PE", Canonicalize("NIFTY31JUL2624000P"))
}

func TestCanonicalize_Blank(t *testing.T) {
	assert.Equal(t, "", Canonicalize(""))
	assert.Equal(t, "", Canonicalize("none"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("nifty31jul2624000ce", "NIFTY31JUL26C24000"))
	assert.False(t, Equal("", ""))
}

func TestParse(t *testing.T) {
	ps, ok := Parse("NIFTY31JUL2624000CE")
	require.True(t, ok)
	assert.Equal(t, "NIFTY", ps.Underlying)
	assert.Equal(t, 24000, ps.Strike)
	assert.Equal(t, "CE", ps.Side)
	assert.Equal(t, 2026, ps.Expiry.Year())
	assert.Equal(t, 31, ps.Expiry.Day())
}

func TestParse_InvalidSymbol(t *testing.T) {
	_, ok := Parse("NOTANOPTION")
	assert.False(t, ok)
}
