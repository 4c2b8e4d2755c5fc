package symbol_test

import (
	"testing"

	"github.com/hotmeshio/hotmesh-go/symbol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKey_RoundTrip(t *testing.T) {
	for _, ordinal := range []int{0, 1, 51, 52, 2703, 140606, symbol.MaxKeyOrdinal} {
		sym, err := symbol.EncodeKey(ordinal)
		require.NoError(t, err)
		assert.Len(t, sym, symbol.KeyWidth)

		back, err := symbol.DecodeKey(sym)
		require.NoError(t, err)
		assert.Equal(t, ordinal, back)
	}
}

func TestEncodeKey_OutOfRange(t *testing.T) {
	_, err := symbol.EncodeKey(symbol.MaxKeyOrdinal + 1)
	assert.ErrorIs(t, err, symbol.ErrOutOfRange)

	_, err = symbol.EncodeKey(-1)
	assert.ErrorIs(t, err, symbol.ErrOutOfRange)
}

func TestEncodeValue_OutOfRange(t *testing.T) {
	_, err := symbol.EncodeValue(symbol.MaxValueOrdinal + 1)
	assert.ErrorIs(t, err, symbol.ErrOutOfRange)
}

func TestFormatParseField_RoundTrip(t *testing.T) {
	field := symbol.FormatField("AxY", []int{0, 0, 0, 1})
	assert.Equal(t, "AxY,0,0,0,1", field)

	sym, dims, err := symbol.ParseField(field)
	require.NoError(t, err)
	assert.Equal(t, "AxY", sym)
	assert.Equal(t, []int{0, 0, 0, 1}, dims)
}

func TestFormatField_NoDims(t *testing.T) {
	field := symbol.FormatField("AaA", nil)
	assert.Equal(t, "AaA", field)

	sym, dims, err := symbol.ParseField(field)
	require.NoError(t, err)
	assert.Equal(t, "AaA", sym)
	assert.Nil(t, dims)
}

func TestIsKeySymbol(t *testing.T) {
	assert.True(t, symbol.IsKeySymbol("AaA"))
	assert.False(t, symbol.IsKeySymbol("AaA,0"))
	assert.False(t, symbol.IsKeySymbol(":"))
	assert.False(t, symbol.IsKeySymbol("-mark"))
}
