package reduce

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/mapview"
)

// twoClusters returns n vectors of dimension dim; the first half sits around
// one direction, the second half around an orthogonal one.
func twoClusters(n, dim int) ([][]float32, []int) {
	rng := rand.New(rand.NewPCG(7, 11))
	vectors := make([][]float32, n)
	labels := make([]int, n)
	for i := range vectors {
		label := 0
		if i >= n/2 {
			label = 1
		}
		v := make([]float32, dim)
		for d := range v {
			base := 0.0
			if (d < dim/2) == (label == 0) {
				base = 1
			}
			v[d] = float32(base + (rng.Float64()-0.5)*0.1)
		}
		vectors[i] = v
		labels[i] = label
	}
	return vectors, labels
}

// sameClusterNeighbourShare is the fraction of points whose nearest 2D
// neighbour carries the same label.
func sameClusterNeighbourShare(points []mapview.Point, labels []int) float64 {
	hits := 0
	for i := range points {
		best, bestDist := -1, math.Inf(1)
		for j := range points {
			if i == j {
				continue
			}
			dx, dy := points[i].X-points[j].X, points[i].Y-points[j].Y
			if d := dx*dx + dy*dy; d < bestDist {
				best, bestDist = j, d
			}
		}
		if labels[best] == labels[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(points))
}

func mustUMAP(t *testing.T, cfg UMAPConfig) *UMAP {
	t.Helper()
	u, err := NewUMAP(cfg)
	if err != nil {
		t.Fatalf("NewUMAP: %v", err)
	}
	return u
}

func mustMDS(t *testing.T) *MDS {
	t.Helper()
	m, err := NewMDS(DefaultMDSConfig())
	if err != nil {
		t.Fatalf("NewMDS: %v", err)
	}
	return m
}

func TestUMAP_SeparatesClusters(t *testing.T) {
	vectors, labels := twoClusters(50, 32)
	svc := New(mustUMAP(t, DefaultUMAPConfig()), zap.NewNop())

	points, err := svc.Reduce(context.Background(), vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 50 {
		t.Fatalf("expected 50 points, got %d", len(points))
	}
	if share := sameClusterNeighbourShare(points, labels); share < 0.95 {
		t.Errorf("expected >= 95%% same-cluster neighbours, got %.2f", share)
	}
}

func TestMDS_SeparatesClusters(t *testing.T) {
	vectors, labels := twoClusters(50, 32)
	svc := New(mustMDS(t), zap.NewNop())

	points, err := svc.Reduce(context.Background(), vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if share := sameClusterNeighbourShare(points, labels); share < 0.95 {
		t.Errorf("expected >= 95%% same-cluster neighbours, got %.2f", share)
	}
}

func TestMDS_PreservesDistances(t *testing.T) {
	// Points already in a plane: MDS should recover pairwise distances.
	vectors := [][]float32{{0, 0, 0}, {3, 0, 0}, {0, 4, 0}, {3, 4, 0}}
	points, err := mustMDS(t).Project(context.Background(), vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := func(i, j int) float64 {
		return math.Hypot(points[i].X-points[j].X, points[i].Y-points[j].Y)
	}
	if math.Abs(d(0, 3)-5) > 0.05 || math.Abs(d(0, 1)-3) > 0.05 || math.Abs(d(0, 2)-4) > 0.05 {
		t.Errorf("distances not preserved: d03=%.3f d01=%.3f d02=%.3f", d(0, 3), d(0, 1), d(0, 2))
	}
}

func TestReduce_Deterministic(t *testing.T) {
	vectors, _ := twoClusters(30, 16)
	for _, s := range []Strategy{mustUMAP(t, DefaultUMAPConfig()), mustMDS(t)} {
		a, err := s.Project(context.Background(), vectors)
		if err != nil {
			t.Fatalf("%s: %v", s.Name(), err)
		}
		b, _ := s.Project(context.Background(), vectors)
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("%s: point %d differs between runs: %v vs %v", s.Name(), i, a[i], b[i])
			}
		}
	}
}

func TestReduce_Empty(t *testing.T) {
	svc := New(mustUMAP(t, DefaultUMAPConfig()), zap.NewNop())
	points, err := svc.Reduce(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if points == nil || len(points) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", points)
	}
}

func TestReduce_SingleVector(t *testing.T) {
	svc := New(mustUMAP(t, DefaultUMAPConfig()), zap.NewNop())
	_, err := svc.Reduce(context.Background(), [][]float32{{1, 2, 3}})
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestReduce_TwoVectors(t *testing.T) {
	svc := New(mustUMAP(t, DefaultUMAPConfig()), zap.NewNop())
	points, err := svc.Reduce(context.Background(), [][]float32{{1, 0, 0}, {0, 1, 0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 || !points[0].Finite() || !points[1].Finite() {
		t.Errorf("expected two finite points, got %v", points)
	}
}

func TestReduce_IdenticalVectors(t *testing.T) {
	vectors := make([][]float32, 10)
	for i := range vectors {
		vectors[i] = []float32{0.5, 0.5, 0.5}
	}
	for _, s := range []Strategy{mustUMAP(t, DefaultUMAPConfig()), mustMDS(t)} {
		points, err := New(s, zap.NewNop()).Reduce(context.Background(), vectors)
		if err != nil {
			t.Fatalf("%s: %v", s.Name(), err)
		}
		if len(points) != 10 || !allFinite(points) {
			t.Errorf("%s: expected 10 finite points, got %v", s.Name(), points)
		}
	}
}

func TestReduce_DimensionMismatch(t *testing.T) {
	svc := New(mustMDS(t), zap.NewNop())
	_, err := svc.Reduce(context.Background(), [][]float32{{1, 2}, {1, 2, 3}})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

type stubStrategy struct {
	points []mapview.Point
	err    error
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Project(context.Context, [][]float32) ([]mapview.Point, error) {
	return s.points, s.err
}

func TestReduce_FallbackOnNonFinite(t *testing.T) {
	svc := New(&stubStrategy{points: []mapview.Point{{X: math.NaN()}, {X: 1, Y: 1}, {X: 2, Y: 2}}}, zap.NewNop())
	vectors := [][]float32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}

	points, err := svc.Reduce(context.Background(), vectors)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range vectors {
		want := mapview.Point{X: float64(v[0]), Y: float64(v[1])}
		if points[i] != want {
			t.Errorf("point %d = %v, want %v", i, points[i], want)
		}
	}
}

func TestReduce_FallbackOnError(t *testing.T) {
	svc := New(&stubStrategy{err: errors.New("singular matrix")}, zap.NewNop())

	points, err := svc.Reduce(context.Background(), [][]float32{{3}, {5}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []mapview.Point{{X: 3}, {X: 5}}
	if points[0] != want[0] || points[1] != want[1] {
		t.Errorf("got %v, want %v", points, want)
	}
}

func TestReduce_FallbackOnShortResult(t *testing.T) {
	svc := New(&stubStrategy{points: []mapview.Point{{X: 1, Y: 1}}}, zap.NewNop())

	points, err := svc.Reduce(context.Background(), [][]float32{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 || points[1] != (mapview.Point{X: 3, Y: 4}) {
		t.Errorf("expected naive projection, got %v", points)
	}
}

func TestReduce_PreservesOrder(t *testing.T) {
	// Two tight groups; shuffling input order must shuffle output the same way.
	vectors, labels := twoClusters(20, 8)
	perm := rand.New(rand.NewPCG(1, 2)).Perm(len(vectors))
	shuffled := make([][]float32, len(vectors))
	shuffledLabels := make([]int, len(vectors))
	for i, p := range perm {
		shuffled[i] = vectors[p]
		shuffledLabels[i] = labels[p]
	}

	points, err := New(mustMDS(t), zap.NewNop()).Reduce(context.Background(), shuffled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if share := sameClusterNeighbourShare(points, shuffledLabels); share < 0.95 {
		t.Errorf("output order does not follow input order: share=%.2f", share)
	}
}

func TestReduce_CancelledWhileWaiting(t *testing.T) {
	svc := New(mustMDS(t), zap.NewNop(), WithMaxConcurrent(1))
	if err := svc.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer svc.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Reduce(ctx, [][]float32{{1, 2}, {3, 4}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReduce_ConcurrentCallsQueue(t *testing.T) {
	svc := New(mustMDS(t), zap.NewNop(), WithMaxConcurrent(1))
	vectors, _ := twoClusters(12, 4)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Reduce(context.Background(), vectors)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: %v", i, err)
		}
	}
}

func TestFitCurve_DefaultParameters(t *testing.T) {
	a, b := fitCurve(0.1, 1.0)
	if math.Abs(a-1.577) > 0.05 || math.Abs(b-0.895) > 0.02 {
		t.Errorf("fitCurve(0.1, 1) = (%.4f, %.4f), want about (1.577, 0.895)", a, b)
	}
}

func TestExactKNN_ClampedAndOrdered(t *testing.T) {
	rows := unitRows([][]float32{{1, 0}, {1, 0.1}, {0, 1}, {1, 0.05}})
	knn, err := exactKNN(context.Background(), rows, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if knn[0][0].index != 3 || knn[0][1].index != 1 {
		t.Errorf("unexpected neighbours of 0: %+v", knn[0])
	}
	for i, nb := range knn {
		for _, x := range nb {
			if x.index == i {
				t.Errorf("point %d lists itself", i)
			}
		}
	}
}

func TestUMAPConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*UMAPConfig)
		wantErr bool
	}{
		{"defaults", func(*UMAPConfig) {}, false},
		{"neighbors too small", func(c *UMAPConfig) { c.Neighbors = 1 }, true},
		{"neighbors too large", func(c *UMAPConfig) { c.Neighbors = 101 }, true},
		{"negative min_dist", func(c *UMAPConfig) { c.MinDist = -0.1 }, true},
		{"min_dist above spread", func(c *UMAPConfig) { c.MinDist = 2 }, true},
		{"zero spread", func(c *UMAPConfig) { c.Spread = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultUMAPConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewStrategy(t *testing.T) {
	cfg := Config{UMAP: DefaultUMAPConfig(), MDS: DefaultMDSConfig()}
	for name, want := range map[string]string{"": "umap", "umap": "umap", "mds": "mds"} {
		cfg.Strategy = name
		s, err := NewStrategy(cfg)
		if err != nil {
			t.Fatalf("NewStrategy(%q): %v", name, err)
		}
		if s.Name() != want {
			t.Errorf("NewStrategy(%q).Name() = %q, want %q", name, s.Name(), want)
		}
	}
	cfg.Strategy = "tsne"
	if _, err := NewStrategy(cfg); err == nil {
		t.Error("expected error for unknown strategy")
	}
}
