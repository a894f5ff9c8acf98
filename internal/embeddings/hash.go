package embeddings

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strconv"
)

// HashEmbedding returns a deterministic pseudo-embedding of text with dims
// components in [-1, 1].
//
// Successive SHA-256 digests of text+":"+counter (counter from 0) are
// concatenated and read as big-endian signed 32-bit integers, each divided
// by 2^31-1. The result depends only on (text, dims) and carries no semantic
// meaning beyond exact-text equality.
func HashEmbedding(text string, dims int) []float64 {
	if dims <= 0 {
		return []float64{}
	}
	out := make([]float64, 0, dims)
	for counter := 0; len(out) < dims; counter++ {
		sum := sha256.Sum256([]byte(text + ":" + strconv.Itoa(counter)))
		for i := 0; i+4 <= len(sum) && len(out) < dims; i += 4 {
			v := float64(int32(binary.BigEndian.Uint32(sum[i:i+4]))) / math.MaxInt32
			out = append(out, math.Max(-1, v))
		}
	}
	return out
}
