package search

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/filter"
	"github.com/kailas-cloud/postmap/internal/domain/search/mode"
	"github.com/kailas-cloud/postmap/internal/domain/search/request"
	"github.com/kailas-cloud/postmap/internal/domain/search/result"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
	"github.com/kailas-cloud/postmap/internal/metrics"
)

// Service ranks posts by cosine similarity to a query.
type Service struct {
	repo    Repository
	embed   Embedder
	index   Index
	dim     int
	backend mode.Backend
	logger  *zap.Logger
}

// Option configures the service.
type Option func(*Service)

// WithIndex enables the index backend.
func WithIndex(idx Index) Option {
	return func(s *Service) { s.index = idx }
}

// WithDefaultBackend sets the backend used when a request does not name one.
func WithDefaultBackend(b mode.Backend) Option {
	return func(s *Service) { s.backend = b }
}

// New creates a search service for dim-dimensional embeddings. The default
// backend is exact.
func New(repo Repository, embed Embedder, dim int, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{repo: repo, embed: embed, dim: dim, backend: mode.Exact, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search returns up to req.TopK() hits, best first. A free-text request embeds
// the query; a similar-post request uses the stored embedding of that post and
// never returns the post itself.
func (s *Service) Search(ctx context.Context, req *request.Request) ([]result.Hit, error) {
	backend := req.Backend()
	if backend == "" {
		backend = s.backend
	}
	if backend == mode.Index && s.index == nil {
		return nil, fmt.Errorf("%w: index backend is disabled", domain.ErrInvalidInput)
	}

	vec, exclude, err := s.queryVector(ctx, req)
	if err != nil {
		return nil, err
	}

	switch backend {
	case mode.Exact:
		return s.searchExact(ctx, vec, exclude, req)
	case mode.Index:
		return s.searchIndex(ctx, vec, exclude, req)
	default:
		return nil, fmt.Errorf("unsupported search backend: %s", backend)
	}
}

func (s *Service) queryVector(ctx context.Context, req *request.Request) ([]float32, int64, error) {
	if id := req.PostID(); id != 0 {
		p, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, 0, fmt.Errorf("get reference post: %w", err)
		}
		vec, err := p.Vector(s.dim)
		if err != nil {
			return nil, 0, fmt.Errorf("reference post: %w", err)
		}
		return vec, id, nil
	}

	vec, err := s.embed.EmbedQuery(ctx, req.Query())
	if err != nil {
		return nil, 0, fmt.Errorf("vectorize query: %w", err)
	}
	return vec, 0, nil
}

// searchExact scores every decodable stored embedding. Ties keep the lower post id first.
func (s *Service) searchExact(
	ctx context.Context, vec []float32, exclude int64, req *request.Request,
) ([]result.Hit, error) {
	posts, err := s.repo.ListWithEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list embedded posts: %w", err)
	}

	f := req.Filter()
	hits := make([]result.Hit, 0, min(len(posts), req.TopK()))
	var corrupt int
	for i := range posts {
		p := &posts[i]
		if p.ID() == exclude || !f.Matches(p) {
			continue
		}
		pv, err := p.Vector(s.dim)
		if err != nil {
			corrupt++
			s.logger.Warn("skip corrupt embedding", zap.Int64("post_id", p.ID()), zap.Error(err))
			continue
		}
		score := vector.Cosine(vec, pv)
		if score < req.MinSimilarity() {
			continue
		}
		hits = append(hits, result.New(*p, score))
	}
	if corrupt > 0 {
		metrics.SkippedItemsTotal.WithLabelValues("search", "corrupt").Add(float64(corrupt))
	}

	slices.SortFunc(hits, func(a, b result.Hit) int {
		if c := cmp.Compare(b.Score(), a.Score()); c != 0 {
			return c
		}
		return cmp.Compare(a.PostID(), b.PostID())
	})
	if len(hits) > req.TopK() {
		hits = hits[:req.TopK()]
	}
	return hits, nil
}

// searchIndex asks the ANN index and hydrates the hits in index order. Keys
// whose post no longer exists, or belongs to another author, are dropped.
func (s *Service) searchIndex(
	ctx context.Context, vec []float32, exclude int64, req *request.Request,
) ([]result.Hit, error) {
	k := req.TopK()
	if exclude != 0 {
		k++
	}
	matches, err := s.index.Query(ctx, vec, k, req.Filter())
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", domain.ErrIndexMirror, err)
	}
	if len(matches) == 0 {
		return []result.Hit{}, nil
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.PostID)
	}
	posts, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate index hits: %w", err)
	}

	return hydrate(matches, posts, exclude, req.Filter(), req.MinSimilarity(), req.TopK()), nil
}

func hydrate(
	matches []result.Match, posts map[int64]post.Post,
	exclude int64, f filter.Filter, minSim float64, topK int,
) []result.Hit {
	hits := make([]result.Hit, 0, len(matches))
	for _, m := range matches {
		if m.PostID == exclude || m.Score < minSim {
			continue
		}
		p, ok := posts[m.PostID]
		if !ok || p.AuthorID() != m.UserID || !f.Matches(&p) {
			continue
		}
		hits = append(hits, result.New(p, m.Score))
		if len(hits) == topK {
			break
		}
	}
	return hits
}
