package reduce

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/mapview"
	"github.com/kailas-cloud/postmap/internal/metrics"
)

// Config selects and tunes the strategy.
type Config struct {
	Strategy      string
	MaxConcurrent int
	UMAP          UMAPConfig
	MDS           MDSConfig
}

// NewStrategy builds the strategy named in cfg ("umap" or "mds").
func NewStrategy(cfg Config) (Strategy, error) {
	switch cfg.Strategy {
	case "", "umap":
		return NewUMAP(cfg.UMAP)
	case "mds":
		return NewMDS(cfg.MDS)
	default:
		return nil, fmt.Errorf("unknown reduce strategy %q (want umap or mds)", cfg.Strategy)
	}
}

// Service runs reductions on a bounded pool and never hands back a
// non-finite layout.
type Service struct {
	strategy Strategy
	sem      *semaphore.Weighted
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMaxConcurrent bounds simultaneous reductions; the default is GOMAXPROCS.
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// New creates a reducer service.
func New(strategy Strategy, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		strategy: strategy,
		sem:      semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StrategyName reports the configured strategy.
func (s *Service) StrategyName() string { return s.strategy.Name() }

// Reduce maps vectors[i] to the returned point i. Zero vectors give an empty
// layout and a single vector is ErrInsufficientData. When the strategy fails
// or produces a non-finite coordinate, every point falls back to its first
// two components.
func (s *Service) Reduce(ctx context.Context, vectors [][]float32) ([]mapview.Point, error) {
	switch len(vectors) {
	case 0:
		return []mapview.Point{}, nil
	case 1:
		return nil, fmt.Errorf("reduce 1 vector: %w", domain.ErrInsufficientData)
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("reduce: empty vectors: %w", domain.ErrVectorDimMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("reduce: vector %d has %d components, want %d: %w",
				i, len(v), dim, domain.ErrVectorDimMismatch)
		}
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("reduce: wait for worker: %w", err)
	}
	defer s.sem.Release(1)

	name := s.strategy.Name()
	start := time.Now()
	points, err := s.strategy.Project(ctx, vectors)
	metrics.ReduceDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.ReducePoints.Observe(float64(len(vectors)))

	if err == nil && len(points) != len(vectors) {
		err = fmt.Errorf("%s returned %d points for %d vectors", name, len(points), len(vectors))
	}
	if err == nil && !allFinite(points) {
		err = fmt.Errorf("%s produced non-finite coordinates", name)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("reduce: %w", ctx.Err())
		}
		metrics.ReduceFallbackTotal.WithLabelValues(name).Inc()
		s.logger.Warn("Reduction failed, using first two components",
			zap.String("strategy", name),
			zap.Int("points", len(vectors)),
			zap.Error(err),
		)
		return naiveProjection(vectors), nil
	}

	s.logger.Debug("Reduction completed",
		zap.String("strategy", name),
		zap.Int("points", len(vectors)),
		zap.Int("dimensions", dim),
		zap.Duration("duration", time.Since(start)),
	)
	return points, nil
}

func allFinite(points []mapview.Point) bool {
	for _, p := range points {
		if !p.Finite() {
			return false
		}
	}
	return true
}

// naiveProjection keeps (v[0], v[1]), or (v[0], 0) for one-dimensional input.
func naiveProjection(vectors [][]float32) []mapview.Point {
	out := make([]mapview.Point, len(vectors))
	for i, v := range vectors {
		p := mapview.Point{X: float64(v[0])}
		if len(v) > 1 {
			p.Y = float64(v[1])
		}
		out[i] = p
	}
	return out
}
