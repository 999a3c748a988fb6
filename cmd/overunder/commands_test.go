package main

import (
	"math"
	"math/bits"
	"testing"

	"github.com/nhowze/overunder/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUint32(t *testing.T) {
	v, err := toUint32("threshold", 25)
	require.NoError(t, err)
	assert.Equal(t, uint32(25), v)

	v, err = toUint32("threshold", math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), v)

	if bits.UintSize == 32 {
		return
	}
	// 1<<32 + 1 would truncate to a line of 1
	big := uint64(math.MaxUint32) + 2
	_, err = toUint32("threshold", uint(big))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-threshold 4294967297 exceeds 4294967295")
}

func TestAddressOr(t *testing.T) {
	fallback := domain.Address{0xad}
	got, err := addressOr("", fallback)
	require.NoError(t, err)
	assert.Equal(t, fallback, got)

	got, err = addressOr("0x71562b71999873DB5b286dF957af199Ec94617F7", fallback)
	require.NoError(t, err)
	assert.Equal(t, "0x71562b71999873DB5b286dF957af199Ec94617F7", got.Hex())

	_, err = addressOr("nope", fallback)
	assert.Error(t, err)
}
