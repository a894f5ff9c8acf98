package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedding_Deterministic(t *testing.T) {
	a := HashEmbedding("search_document: alpha", 384)
	b := HashEmbedding("search_document: alpha", 384)
	require.Len(t, a, 384)
	assert.Equal(t, a, b)
}

func TestHashEmbedding_DifferentText(t *testing.T) {
	a := HashEmbedding("alpha", 64)
	b := HashEmbedding("beta", 64)
	assert.NotEqual(t, a, b)
}

func TestHashEmbedding_Range(t *testing.T) {
	for _, dims := range []int{1, 7, 8, 9, 100, 1024} {
		v := HashEmbedding("range check", dims)
		require.Len(t, v, dims)
		for _, x := range v {
			assert.GreaterOrEqual(t, x, -1.0)
			assert.LessOrEqual(t, x, 1.0)
		}
	}
}

func TestHashEmbedding_PrefixStable(t *testing.T) {
	// A longer vector extends a shorter one: each counter's digest is fixed.
	short := HashEmbedding("text", 8)
	long := HashEmbedding("text", 20)
	assert.Equal(t, short, long[:8])
}

func TestHashEmbedding_ZeroDims(t *testing.T) {
	assert.Empty(t, HashEmbedding("x", 0))
	assert.Empty(t, HashEmbedding("x", -3))
}
