package vectorstore

import (
	"math"
	"sort"
)

// zeroMagnitude is the norm at or below which a vector scores 0.
const zeroMagnitude = 1e-9

// CosineSimilarity compares a and b over their shared prefix. Vectors of
// different length are truncated to the shorter one. A near-zero vector
// scores 0.
func CosineSimilarity(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	ma, mb := math.Sqrt(na), math.Sqrt(nb)
	if ma <= zeroMagnitude || mb <= zeroMagnitude {
		return 0
	}
	s := dot / (ma * mb)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// sanitizeQuery replaces non-finite components with 0. It reports false
// for an empty vector or one with no finite component.
func sanitizeQuery(v []float64) ([]float64, bool) {
	out := make([]float64, len(v))
	finite := 0
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		out[i] = x
		finite++
	}
	return out, finite > 0
}

// rankRecords scores records against query in order, keeps those accepted
// by match, and returns the top limit. Ties keep record order. mismatched
// counts records whose dimension differs from the query.
func rankRecords(records []Record, query []float64, limit int, includeVectors bool, match matcher) (hits []Hit, mismatched int) {
	type scored struct {
		rec   Record
		score float64
	}
	candidates := make([]scored, 0, len(records))
	for _, r := range records {
		if match != nil && !match(r.Payload) {
			continue
		}
		if len(r.Vector) != len(query) {
			mismatched++
		}
		candidates = append(candidates, scored{rec: r, score: CosineSimilarity(query, r.Vector)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hits = make([]Hit, len(candidates))
	for i, c := range candidates {
		score := c.score
		hits[i] = Hit{Payload: c.rec.Payload.normalized(), Score: &score}
		if includeVectors {
			hits[i].Vector = append([]float64(nil), c.rec.Vector...)
		}
	}
	return hits, mismatched
}
