package service

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"mismatched", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cosineSimilarity(tt.a, tt.b); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("cosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWeightedSumRenormalizes(t *testing.T) {
	got := weightedSum([][]float32{{1, 0}, {0, 1}}, []float64{3, 1})
	if math.Abs(float64(got[0])-0.75) > 1e-6 || math.Abs(float64(got[1])-0.25) > 1e-6 {
		t.Errorf("weightedSum() = %v, want [0.75 0.25]", got)
	}

	even := weightedSum([][]float32{{2, 0}, {0, 2}}, []float64{0, 0})
	if even[0] != 1 || even[1] != 1 {
		t.Errorf("weightedSum() with zero weights = %v, want [1 1]", even)
	}
}

func TestMeanVectorSkipsMismatched(t *testing.T) {
	got := meanVector([][]float32{{1, 3}, {3, 5}, {100}})
	if got[0] != 2 || got[1] != 4 {
		t.Errorf("meanVector() = %v, want [2 4]", got)
	}
	if meanVector(nil) != nil {
		t.Error("meanVector(nil) should be nil")
	}
}

func TestL2Normalize(t *testing.T) {
	v := l2Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("l2Normalize() = %v, want [0.6 0.8]", v)
	}
	zero := l2Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("l2Normalize() of zero vector = %v", zero)
	}
}

func TestClamp01(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.4: 0.4, 2: 1, math.NaN(): 0} {
		if got := clamp01(in); got != want {
			t.Errorf("clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
