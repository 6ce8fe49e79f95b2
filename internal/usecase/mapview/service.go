// Package mapview builds the 2D post map: embeddings are decoded, projected
// and joined back onto their posts.
//
// Every request recomputes the layout over the whole selection, so the
// coordinates of existing posts move when posts are added.
package mapview

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	dommap "github.com/kailas-cloud/postmap/internal/domain/mapview"
	"github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/request"
	"github.com/kailas-cloud/postmap/internal/metrics"
)

// Skipped counts posts that did not make it onto the map.
type Skipped struct {
	Corrupt     int
	NonFinite   int
	WriteFailed int
}

// View is one computed map.
type View struct {
	LayoutID string
	Strategy string
	Skipped  Skipped
	Entries  []dommap.Entry
}

// Service computes post maps.
type Service struct {
	repo     Repository
	reducer  Reducer
	searcher Searcher
	dim      int
	logger   *zap.Logger
}

// New creates a map service. searcher may be nil, in which case query maps
// are rejected.
func New(repo Repository, reducer Reducer, searcher Searcher, dim int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, reducer: reducer, searcher: searcher, dim: dim, logger: logger}
}

// Build lays out every embedded post, or only the hits of q when q is not nil.
// Full-corpus layouts are written back to the coordinate cache; query layouts
// are not, since they would overwrite the shared positions with a subset's.
func (s *Service) Build(ctx context.Context, q *request.Request) (View, error) {
	var (
		posts []post.Post
		err   error
	)
	if q == nil {
		posts, err = s.repo.ListWithEmbeddings(ctx)
		if err != nil {
			return View{}, fmt.Errorf("list embedded posts: %w", err)
		}
	} else {
		posts, err = s.searchPosts(ctx, q)
		if err != nil {
			return View{}, err
		}
	}

	view := View{LayoutID: uuid.NewString(), Strategy: s.reducer.StrategyName()}

	placed, vectors := s.decode(posts, &view.Skipped)
	points, err := s.project(ctx, vectors)
	if err != nil {
		return View{}, err
	}

	for _, pt := range points {
		if !pt.Finite() {
			view.Skipped.NonFinite++
		}
	}
	if view.Skipped.NonFinite > 0 {
		metrics.SkippedItemsTotal.WithLabelValues("map", "non_finite").Add(float64(view.Skipped.NonFinite))
	}

	if q == nil {
		view.Skipped.WriteFailed = s.writeBack(ctx, placed, points)
	}

	view.Entries = dommap.Assemble(placed, points)
	s.logger.Debug("map built",
		zap.String("layout_id", view.LayoutID),
		zap.String("strategy", view.Strategy),
		zap.Int("points", len(view.Entries)),
		zap.Int("corrupt", view.Skipped.Corrupt),
		zap.Int("non_finite", view.Skipped.NonFinite),
	)
	return view, nil
}

// Cached returns the map from stored coordinates without recomputing it.
// Posts that were never laid out are left out.
func (s *Service) Cached(ctx context.Context) (View, error) {
	posts, err := s.repo.ListWithEmbeddings(ctx)
	if err != nil {
		return View{}, fmt.Errorf("list embedded posts: %w", err)
	}
	return View{Strategy: "cached", Entries: dommap.FromCache(posts)}, nil
}

func (s *Service) searchPosts(ctx context.Context, q *request.Request) ([]post.Post, error) {
	if s.searcher == nil {
		return nil, fmt.Errorf("%w: query maps are disabled", domain.ErrInvalidInput)
	}
	hits, err := s.searcher.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	posts := make([]post.Post, len(hits))
	for i := range hits {
		posts[i] = hits[i].Post()
	}
	return posts, nil
}

// decode keeps posts whose blob decodes; the rest are counted and skipped.
func (s *Service) decode(posts []post.Post, skipped *Skipped) ([]post.Post, [][]float32) {
	placed := make([]post.Post, 0, len(posts))
	vectors := make([][]float32, 0, len(posts))
	for i := range posts {
		v, err := posts[i].Vector(s.dim)
		if err != nil {
			skipped.Corrupt++
			s.logger.Warn("skip corrupt embedding", zap.Int64("post_id", posts[i].ID()), zap.Error(err))
			continue
		}
		placed = append(placed, posts[i])
		vectors = append(vectors, v)
	}
	if skipped.Corrupt > 0 {
		metrics.SkippedItemsTotal.WithLabelValues("map", "corrupt").Add(float64(skipped.Corrupt))
	}
	return placed, vectors
}

// project runs the reducer. A single post sits at the origin.
func (s *Service) project(ctx context.Context, vectors [][]float32) ([]dommap.Point, error) {
	switch len(vectors) {
	case 0:
		return []dommap.Point{}, nil
	case 1:
		return []dommap.Point{{X: 0, Y: 0}}, nil
	}
	points, err := s.reducer.Reduce(ctx, vectors)
	if errors.Is(err, domain.ErrInsufficientData) {
		return make([]dommap.Point, len(vectors)), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}
	return points, nil
}

// writeBack caches finite positions. Failure is logged and counted; the map
// is still served.
func (s *Service) writeBack(ctx context.Context, posts []post.Post, points []dommap.Point) int {
	coords := make(map[int64]dommap.Point, len(posts))
	for i := range posts {
		if i < len(points) && points[i].Finite() {
			coords[posts[i].ID()] = points[i]
		}
	}
	if len(coords) == 0 {
		return 0
	}
	if err := s.repo.UpdateCoordinates(ctx, coords); err != nil {
		s.logger.Warn("coordinate write-back failed", zap.Int("posts", len(coords)), zap.Error(err))
		metrics.SkippedItemsTotal.WithLabelValues("map", "write_failed").Add(float64(len(coords)))
		return len(coords)
	}
	return 0
}
