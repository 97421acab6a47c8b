package mis

import (
	"math"
	"testing"
)

func TestL2NormalizeUnitLength(t *testing.T) {
	v := []float32{3, 4}
	out := l2Normalize(v)

	var sumSq float64
	for _, x := range out {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-3 {
		t.Errorf("||l2Normalize(v)|| = %v, want ~1.0", norm)
	}
	if math.Abs(float64(out[0])-0.6) > 1e-3 || math.Abs(float64(out[1])-0.8) > 1e-3 {
		t.Errorf("l2Normalize([3,4]) = %v, want [0.6, 0.8]", out)
	}
}

func TestL2NormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	out := l2Normalize(v)
	for i, x := range out {
		if x != 0 {
			t.Errorf("l2Normalize(zero vector)[%d] = %v, want 0", i, x)
		}
	}
}

func TestL2NormalizeDoesNotMutateInput(t *testing.T) {
	v := []float32{1, 2, 3}
	orig := append([]float32(nil), v...)
	_ = l2Normalize(v)
	for i := range v {
		if v[i] != orig[i] {
			t.Errorf("l2Normalize mutated input at index %d", i)
		}
	}
}
