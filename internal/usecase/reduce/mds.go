package reduce

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/kailas-cloud/postmap/internal/domain/mapview"
)

// MDS defaults.
const (
	DefaultMaxIter   = 300
	DefaultTolerance = 1e-6
)

// MDSConfig tunes the SMACOF iteration.
type MDSConfig struct {
	MaxIter   int
	Tolerance float64
	Seed      uint64
}

// DefaultMDSConfig returns the library defaults.
func DefaultMDSConfig() MDSConfig {
	return MDSConfig{MaxIter: DefaultMaxIter, Tolerance: DefaultTolerance, Seed: DefaultSeed}
}

// MDS is metric multidimensional scaling: it places points so that 2D
// Euclidean distances match the original Euclidean distances, minimizing
// raw stress with the Guttman transform.
type MDS struct {
	cfg MDSConfig
}

// NewMDS validates cfg.
func NewMDS(cfg MDSConfig) (*MDS, error) {
	if cfg.MaxIter <= 0 {
		return nil, fmt.Errorf("mds config: max_iter must be positive, got %d", cfg.MaxIter)
	}
	if cfg.Tolerance <= 0 {
		return nil, fmt.Errorf("mds config: tolerance must be positive, got %v", cfg.Tolerance)
	}
	return &MDS{cfg: cfg}, nil
}

// Name implements Strategy.
func (m *MDS) Name() string { return "mds" }

// Project implements Strategy.
func (m *MDS) Project(ctx context.Context, vectors [][]float32) ([]mapview.Point, error) {
	n := len(vectors)
	delta, err := euclideanMatrix(ctx, vectors)
	if err != nil {
		return nil, err
	}

	var scale float64
	for i := range n {
		for j := i + 1; j < n; j++ {
			scale = max(scale, delta[i*n+j])
		}
	}
	if scale == 0 {
		scale = 1
	}

	rng := rand.New(rand.NewPCG(m.cfg.Seed, m.cfg.Seed^0x9e3779b97f4a7c15))
	x := make([][2]float64, n)
	for i := range x {
		x[i] = [2]float64{(rng.Float64() - 0.5) * scale, (rng.Float64() - 0.5) * scale}
	}

	next := make([][2]float64, n)
	dist := make([]float64, n*n)
	prev := math.Inf(1)

	for range m.cfg.MaxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stress := 0.0
		for i := range n {
			for j := i + 1; j < n; j++ {
				d := math.Sqrt(sqDist(x[i], x[j]))
				dist[i*n+j], dist[j*n+i] = d, d
				r := delta[i*n+j] - d
				stress += r * r
			}
		}
		if prev-stress < m.cfg.Tolerance*prev {
			break
		}
		prev = stress

		// Guttman transform: X' = B(X)·X / n.
		for i := range n {
			var bii float64
			var acc [2]float64
			for j := range n {
				if j == i || dist[i*n+j] == 0 {
					continue
				}
				bij := -delta[i*n+j] / dist[i*n+j]
				bii -= bij
				acc[0] += bij * x[j][0]
				acc[1] += bij * x[j][1]
			}
			next[i] = [2]float64{
				(acc[0] + bii*x[i][0]) / float64(n),
				(acc[1] + bii*x[i][1]) / float64(n),
			}
		}
		x, next = next, x
	}

	out := make([]mapview.Point, n)
	for i, p := range x {
		out[i] = mapview.Point{X: p[0], Y: p[1]}
	}
	return out, nil
}

// euclideanMatrix returns the full n×n distance matrix, row-major.
func euclideanMatrix(ctx context.Context, vectors [][]float32) ([]float64, error) {
	n := len(vectors)
	out := make([]float64, n*n)
	for i := range n {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := i + 1; j < n; j++ {
			var s float64
			for d := range vectors[i] {
				diff := float64(vectors[i][d]) - float64(vectors[j][d])
				s += diff * diff
			}
			dd := math.Sqrt(s)
			out[i*n+j], out[j*n+i] = dd, dd
		}
	}
	return out, nil
}
