package reduce

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/kailas-cloud/postmap/internal/domain/mapview"
)

// UMAP defaults.
const (
	DefaultNeighbors = 15
	MinNeighbors     = 2
	MaxNeighbors     = 100
	DefaultMinDist   = 0.1
	DefaultSpread    = 1.0
	DefaultSeed      = 42

	negativeRate   = 5
	gradientClip   = 4.0
	initialAlpha   = 1.0
	initRange      = 10.0
	sigmaSearchMax = 64
	sigmaTolerance = 1e-5
	minSigmaScale  = 1e-3
	largeCorpus    = 10000
)

// UMAPConfig tunes the manifold projection.
type UMAPConfig struct {
	Neighbors int
	MinDist   float64
	Spread    float64
	// Epochs of 0 picks 500, or 200 above 10000 points.
	Epochs int
	Seed   uint64
}

// Validate checks the ranges the layout is defined for.
func (c UMAPConfig) Validate() error {
	if c.Neighbors < MinNeighbors || c.Neighbors > MaxNeighbors {
		return fmt.Errorf("neighbors must be in [%d, %d], got %d", MinNeighbors, MaxNeighbors, c.Neighbors)
	}
	if c.Spread <= 0 {
		return fmt.Errorf("spread must be positive, got %v", c.Spread)
	}
	if c.MinDist < 0 || c.MinDist > c.Spread {
		return fmt.Errorf("min_dist must be in [0, spread], got %v", c.MinDist)
	}
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must not be negative, got %d", c.Epochs)
	}
	return nil
}

// DefaultUMAPConfig returns the library defaults.
func DefaultUMAPConfig() UMAPConfig {
	return UMAPConfig{
		Neighbors: DefaultNeighbors,
		MinDist:   DefaultMinDist,
		Spread:    DefaultSpread,
		Seed:      DefaultSeed,
	}
}

// UMAP builds a fuzzy kNN graph under cosine distance and lays it out in 2D
// by stochastic gradient descent with negative sampling. Output is fully
// determined by the input and the seed.
type UMAP struct {
	cfg  UMAPConfig
	a, b float64
}

// NewUMAP validates cfg and fits the low-dimensional curve to MinDist/Spread.
func NewUMAP(cfg UMAPConfig) (*UMAP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("umap config: %w", err)
	}
	a, b := fitCurve(cfg.MinDist, cfg.Spread)
	return &UMAP{cfg: cfg, a: a, b: b}, nil
}

// Name implements Strategy.
func (u *UMAP) Name() string { return "umap" }

// Project implements Strategy.
func (u *UMAP) Project(ctx context.Context, vectors [][]float32) ([]mapview.Point, error) {
	n := len(vectors)
	k := min(u.cfg.Neighbors, n-1)

	rows := unitRows(vectors)
	knn, err := exactKNN(ctx, rows, k)
	if err != nil {
		return nil, err
	}

	edges := fuzzyUnion(smoothMemberships(knn, k))
	if len(edges) == 0 {
		return nil, fmt.Errorf("umap: empty neighbour graph")
	}

	epochs := u.cfg.Epochs
	if epochs == 0 {
		epochs = 500
		if n > largeCorpus {
			epochs = 200
		}
	}

	rng := rand.New(rand.NewPCG(u.cfg.Seed, u.cfg.Seed^0x9e3779b97f4a7c15))
	emb := make([][2]float64, n)
	for i := range emb {
		emb[i] = [2]float64{rng.Float64()*2*initRange - initRange, rng.Float64()*2*initRange - initRange}
	}

	if err := u.optimize(ctx, emb, edges, epochs, rng); err != nil {
		return nil, err
	}

	out := make([]mapview.Point, n)
	for i, p := range emb {
		out[i] = mapview.Point{X: p[0], Y: p[1]}
	}
	return out, nil
}

type edge struct {
	head, tail int
	weight     float64
}

// smoothMemberships turns kNN distances into membership strengths
// exp(-(d - rho) / sigma), with rho the distance to the nearest neighbour and
// sigma chosen so that memberships of a point sum to log2(k).
func smoothMemberships(knn [][]neighbor, k int) []map[int]float64 {
	target := math.Log2(float64(k))

	var meanAll float64
	var count int
	for _, nb := range knn {
		for _, x := range nb {
			meanAll += x.dist
			count++
		}
	}
	if count > 0 {
		meanAll /= float64(count)
	}

	out := make([]map[int]float64, len(knn))
	for i, nb := range knn {
		rho := 0.0
		for _, x := range nb {
			if x.dist > 0 {
				rho = x.dist
				break
			}
		}

		lo, hi, sigma := 0.0, math.Inf(1), 1.0
		for range sigmaSearchMax {
			var psum float64
			for _, x := range nb {
				if d := x.dist - rho; d > 0 {
					psum += math.Exp(-d / sigma)
				} else {
					psum++
				}
			}
			if math.Abs(psum-target) < sigmaTolerance {
				break
			}
			if psum > target {
				hi = sigma
				sigma = (lo + hi) / 2
			} else {
				lo = sigma
				if math.IsInf(hi, 1) {
					sigma *= 2
				} else {
					sigma = (lo + hi) / 2
				}
			}
		}

		var meanI float64
		for _, x := range nb {
			meanI += x.dist
		}
		meanI /= float64(len(nb))
		if rho > 0 {
			sigma = max(sigma, minSigmaScale*meanI)
		} else {
			sigma = max(sigma, minSigmaScale*meanAll)
		}

		row := make(map[int]float64, len(nb))
		for _, x := range nb {
			if d := x.dist - rho; d > 0 && sigma > 0 {
				row[x.index] = math.Exp(-d / sigma)
			} else {
				row[x.index] = 1
			}
		}
		out[i] = row
	}
	return out
}

// fuzzyUnion symmetrizes memberships with w = a + b - a*b and returns both
// directions of every edge, sorted by (head, tail).
func fuzzyUnion(rows []map[int]float64) []edge {
	var edges []edge
	for i, row := range rows {
		for j, a := range row {
			b := rows[j][i]
			if b > 0 && j < i {
				continue
			}
			w := a + b - a*b
			if w <= 0 {
				continue
			}
			edges = append(edges, edge{head: i, tail: j, weight: w}, edge{head: j, tail: i, weight: w})
		}
	}
	sort.Slice(edges, func(x, y int) bool {
		if edges[x].head != edges[y].head {
			return edges[x].head < edges[y].head
		}
		return edges[x].tail < edges[y].tail
	})
	return edges
}

func (u *UMAP) optimize(ctx context.Context, emb [][2]float64, edges []edge, epochs int, rng *rand.Rand) error {
	maxW := 0.0
	for _, e := range edges {
		maxW = max(maxW, e.weight)
	}

	// Edges are sampled proportionally to weight; the heaviest once per epoch.
	perSample := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	perNegative := make([]float64, len(edges))
	nextNegative := make([]float64, len(edges))
	for i, e := range edges {
		s := float64(epochs) * e.weight / maxW
		if s <= 0 {
			perSample[i] = -1
			continue
		}
		perSample[i] = float64(epochs) / s
		nextSample[i] = perSample[i]
		perNegative[i] = perSample[i] / negativeRate
		nextNegative[i] = perNegative[i]
	}

	a, b := u.a, u.b
	n := len(emb)
	for epoch := range epochs {
		if err := ctx.Err(); err != nil {
			return err
		}
		alpha := initialAlpha * (1 - float64(epoch)/float64(epochs))
		fe := float64(epoch)

		for i, e := range edges {
			if perSample[i] <= 0 || nextSample[i] > fe {
				continue
			}
			cur, other := &emb[e.head], &emb[e.tail]

			d2 := sqDist(*cur, *other)
			if d2 > 0 {
				coeff := -2 * a * b * math.Pow(d2, b-1) / (a*math.Pow(d2, b) + 1)
				for d := range 2 {
					g := clip(coeff * (cur[d] - other[d]))
					cur[d] += g * alpha
					other[d] -= g * alpha
				}
			}
			nextSample[i] += perSample[i]

			negatives := int((fe - nextNegative[i]) / perNegative[i])
			for range negatives {
				k := rng.IntN(n)
				if k == e.head {
					continue
				}
				neg := emb[k]
				d2 := sqDist(*cur, neg)
				if d2 <= 0 {
					continue
				}
				coeff := 2 * b / ((0.001 + d2) * (a*math.Pow(d2, b) + 1))
				for d := range 2 {
					cur[d] += clip(coeff*(cur[d]-neg[d])) * alpha
				}
			}
			nextNegative[i] += float64(negatives) * perNegative[i]
		}
	}
	return nil
}

func sqDist(p, q [2]float64) float64 {
	dx, dy := p[0]-q[0], p[1]-q[1]
	return dx*dx + dy*dy
}

func clip(v float64) float64 {
	return max(-gradientClip, min(gradientClip, v))
}

// Curve parameters for min_dist=0.1, spread=1, used when the fit diverges.
const (
	fallbackA = 1.577
	fallbackB = 0.895
)

// fitCurve finds a, b so that 1/(1 + a*x^(2b)) approximates 1 below minDist
// and exp(-(x - minDist)/spread) above it, by Levenberg-Marquardt least squares
// over 300 samples of [0, 3*spread].
func fitCurve(minDist, spread float64) (float64, float64) {
	const samples = 300
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		x := 3 * spread * float64(i) / float64(samples-1)
		xs[i] = x
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	cost := func(a, b float64) float64 {
		var s float64
		for i, x := range xs {
			r := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
			s += r * r
		}
		return s
	}

	a, b := fallbackA, fallbackB
	lambda := 1e-3
	current := cost(a, b)
	for range 200 {
		var jaa, jab, jbb, ga, gb float64
		for i, x := range xs {
			if x == 0 {
				continue
			}
			u := math.Pow(x, 2*b)
			den := 1 + a*u
			r := 1/den - ys[i]
			da := -u / (den * den)
			db := -a * u * 2 * math.Log(x) / (den * den)
			jaa += da * da
			jab += da * db
			jbb += db * db
			ga += da * r
			gb += db * r
		}

		// Solve (JᵀJ + λ·diag(JᵀJ)) δ = -Jᵀr.
		m00, m11 := jaa*(1+lambda), jbb*(1+lambda)
		det := m00*m11 - jab*jab
		if det == 0 || math.IsNaN(det) {
			break
		}
		stepA := (-ga*m11 + gb*jab) / det
		stepB := (-gb*m00 + ga*jab) / det

		na, nb := a+stepA, b+stepB
		if na > 0 && nb > 0 {
			if c := cost(na, nb); c < current {
				improved := current - c
				a, b, current = na, nb, c
				lambda /= 10
				if improved < 1e-12 {
					break
				}
				continue
			}
		}
		lambda *= 10
		if lambda > 1e10 {
			break
		}
	}

	if math.IsNaN(a) || math.IsNaN(b) || a <= 0 || b <= 0 {
		return fallbackA, fallbackB
	}
	return a, b
}
