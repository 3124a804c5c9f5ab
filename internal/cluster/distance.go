// Package cluster groups face embeddings into people using density-based clustering.
package cluster

import (
	"fmt"
	"math"
)

// Vector is a fixed-length face embedding. Vectors are never modified once produced.
type Vector []float32

// Distance returns the Euclidean (L2) distance between two embeddings.
// Vectors of different length are a programming error and cause a panic.
func Distance(a, b Vector) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("cluster: dimension mismatch: %d != %d", len(a), len(b)))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Centroid returns the component-wise mean of the given vectors.
// Returns nil for an empty set.
func Centroid(vectors []Vector) Vector {
	if len(vectors) == 0 {
		return nil
	}

	acc := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		if len(v) != len(acc) {
			panic(fmt.Sprintf("cluster: dimension mismatch: %d != %d", len(v), len(acc)))
		}
		for i, x := range v {
			acc[i] += float64(x)
		}
	}

	out := make(Vector, len(acc))
	n := float64(len(vectors))
	for i, x := range acc {
		out[i] = float32(x / n)
	}
	return out
}
