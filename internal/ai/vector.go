package ai

import "fmt"

// Vector is an embedding of fixed dimensionality. Build it with NewVector or
// FallbackVector so the length is checked against the configured dimension.
type Vector []float32

func NewVector(values []float32, dim int) (Vector, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	if len(values) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: got %d, want %d", len(values), dim)
	}
	v := make(Vector, dim)
	copy(v, values)
	return v, nil
}

// FallbackVector returns a vector of dim components all equal to value.
func FallbackVector(dim int, value float32) Vector {
	v := make(Vector, dim)
	for i := range v {
		v[i] = value
	}
	return v
}

func (v Vector) Dim() int { return len(v) }
