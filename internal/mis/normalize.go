package mis

import "math"

// l2Normalize returns a unit-length copy of v. Every embedding this
// service returns passes through here before the response leaves the
// process; callers may still re-normalize defensively.
func l2Normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
