// Package embedding defines the fixed-length face descriptor used for matching
// and its storage encoding.
package embedding

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Dim is the descriptor length produced by the face extractor.
const Dim = 128

// Embedding is a face descriptor. It is never assumed to be unit-norm.
type Embedding []float32

var (
	// ErrDimension is returned when an embedding does not have Dim components.
	ErrDimension = errors.New("embedding has wrong dimension")
	// ErrNotFinite is returned when an embedding contains NaN or Inf.
	ErrNotFinite = errors.New("embedding contains non-finite values")
)

// Validate checks the dimension and that every component is finite.
func (e Embedding) Validate() error {
	if len(e) != Dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(e), Dim)
	}
	for i, v := range e {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: component %d", ErrNotFinite, i)
		}
	}
	return nil
}

// Clone returns a copy that does not share the backing array.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Distance returns the Euclidean (L2) distance between a and b.
// Vectors of different length are infinitely far apart.
func Distance(a, b Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	if len(a) == 0 {
		return 0
	}

	// Stack buffers keep the hot path allocation-free for Dim-length vectors.
	var bufA, bufB [Dim]float64
	var x, y []float64
	if len(a) <= Dim {
		x, y = bufA[:len(a)], bufB[:len(b)]
	} else {
		x, y = make([]float64, len(a)), make([]float64, len(b))
	}
	for i := range a {
		x[i] = float64(a[i])
		y[i] = float64(b[i])
	}
	return floats.Distance(x, y, 2)
}

// FromFloat64 converts a float64 descriptor (as produced by dlib-style extractors).
func FromFloat64(v []float64) Embedding {
	if v == nil {
		return nil
	}
	out := make(Embedding, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
