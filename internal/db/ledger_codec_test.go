package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/spawnerd/internal/ledger"
)

func TestContentsCodec_RoundTrip(t *testing.T) {
	flesh := ledger.NewSignature("ROTTEN_FLESH", 64, nil)
	pearl := ledger.NewSignature("ENDER_PEARL", 16, nil)
	named := ledger.NewSignature("BOW", 1, map[string]string{"name": "Longshot", "enchant": "power:5"})

	in := map[ledger.Signature]int64{flesh: 1000, pearl: 17, named: 1}

	blob, err := EncodeContents(in)
	require.NoError(t, err)

	out, err := DecodeContents(blob)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestContentsCodec_Deterministic(t *testing.T) {
	a := ledger.NewSignature("A", 64, nil)
	b := ledger.NewSignature("B", 64, nil)

	first, err := EncodeContents(map[ledger.Signature]int64{a: 1, b: 2})
	require.NoError(t, err)
	for range 10 {
		again, err := EncodeContents(map[ledger.Signature]int64{b: 2, a: 1})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestContentsCodec_SkipsEmptyLines(t *testing.T) {
	a := ledger.NewSignature("A", 64, nil)

	blob, err := EncodeContents(map[ledger.Signature]int64{a: 0})
	require.NoError(t, err)
	out, err := DecodeContents(blob)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeContents_EmptyAndGarbage(t *testing.T) {
	out, err := DecodeContents(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = DecodeContents([]byte("definitely not zstd"))
	assert.Error(t, err)
}
