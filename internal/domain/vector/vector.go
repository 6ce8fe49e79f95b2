// Package vector holds the embedding blob codec and the small amount of
// vector math shared by search and the reducer.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kailas-cloud/postmap/internal/domain"
)

// FloatBytes is the stored width of one component: float32, little-endian.
const FloatBytes = 4

// Encode serializes v as len(v)*4 little-endian float32 bytes.
func Encode(v []float32) []byte {
	buf := make([]byte, len(v)*FloatBytes)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*FloatBytes:], math.Float32bits(f))
	}
	return buf
}

// Decode parses a blob written by Encode. The blob must hold exactly dim
// components; anything else is ErrCorruptEmbedding.
func Decode(b []byte, dim int) ([]float32, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("decode: dimension must be positive, got %d", dim)
	}
	if len(b) != dim*FloatBytes {
		return nil, fmt.Errorf("decode: got %d bytes, want %d (%d x float32): %w",
			len(b), dim*FloatBytes, dim, domain.ErrCorruptEmbedding)
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*FloatBytes:]))
	}
	return v, nil
}

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Zero vectors and length mismatches score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Weighted returns wa*a + wb*b element-wise. Lengths must match.
func Weighted(a, b []float32, wa, wb float32) ([]float32, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("combine %d and %d components: %w", len(a), len(b), domain.ErrVectorDimMismatch)
	}
	out := make([]float32, len(a))
	for i := range a {
		out[i] = wa*a[i] + wb*b[i]
	}
	return out, nil
}

// Normalize scales v to unit L2 norm in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// IsFinite reports whether every component is a finite number.
func IsFinite(v []float32) bool {
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}
