package service

import "math"

// cosineSimilarity returns 0 for empty or mismatched vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// l2Normalize scales v to unit length in place. Zero vectors are left alone.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// weightedSum combines equally sized vectors. Weights are renormalized to sum to 1.
func weightedSum(vectors [][]float32, weights []float64) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		total = float64(len(weights))
		for i := range weights {
			weights[i] = 1
		}
	}

	out := make([]float32, len(vectors[0]))
	for i, v := range vectors {
		w := weights[i] / total
		for d := range out {
			out[d] += float32(w * float64(v[d]))
		}
	}
	return out
}

// meanVector is the per-dimension mean. Vectors whose length differs from the
// first are skipped.
func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sums := make([]float64, dim)
	n := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for d, x := range v {
			sums[d] += float64(x)
		}
		n++
	}
	out := make([]float32, dim)
	for d := range sums {
		out[d] = float32(sums[d] / float64(n))
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
