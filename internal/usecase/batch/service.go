// Package batch runs the embedding backfill: posts without a usable
// embedding are embedded, and every post is re-mirrored into the ANN index.
package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/postmap/internal/domain"
	dombatch "github.com/kailas-cloud/postmap/internal/domain/batch"
	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
	"github.com/kailas-cloud/postmap/internal/metrics"
)

// DefaultMaxPosts caps how many missing embeddings one run fills.
const DefaultMaxPosts = 1000

// Report is the outcome of a backfill run. Results hold one entry per post
// that was considered: OK when it was embedded, Skipped when its stored
// embedding was already valid, Error otherwise.
type Report struct {
	Results      []dombatch.Result
	Summary      dombatch.Summary
	Mirrored     int
	MirrorFailed int
	Corpus       Corpus
}

// Corpus counts posts after the run. Indexed is only meaningful when
// IndexCounted is set; Embedded - Indexed is the mirror drift.
type Corpus struct {
	Posts        int64
	Embedded     int64
	Indexed      int
	IndexCounted bool
}

// Service runs backfills.
type Service struct {
	repo     Repository
	embed    Embedder
	mirror   Mirror
	dim      int
	limiter  *rate.Limiter
	maxPosts int
	logger   *zap.Logger
}

// New creates a backfill service. The embedder is not throttled until
// WithRateLimit is set.
func New(repo Repository, embed Embedder, mirror Mirror, dim int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		embed:    embed,
		mirror:   mirror,
		dim:      dim,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		maxPosts: DefaultMaxPosts,
		logger:   logger,
	}
}

// WithRateLimit throttles embedding calls to perSecond with the given burst.
func (s *Service) WithRateLimit(perSecond float64, burst int) *Service {
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return s
}

// WithMaxPosts caps the number of posts embedded per run.
func (s *Service) WithMaxPosts(n int) *Service {
	if n > 0 {
		s.maxPosts = n
	}
	return s
}

// Run embeds posts that have no embedding or a corrupt one, then re-mirrors
// every post with a valid embedding. A quota or rate-limit error from the
// provider fails the remaining items without calling it again.
func (s *Service) Run(ctx context.Context) (Report, error) {
	missing, err := s.repo.ListMissingEmbeddings(ctx, s.maxPosts)
	if err != nil {
		return Report{}, fmt.Errorf("list posts without embedding: %w", err)
	}
	stored, err := s.repo.ListWithEmbeddings(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list embedded posts: %w", err)
	}

	var report Report
	todo := missing
	current := make([]dompost.Post, 0, len(stored))
	vecs := make([][]float32, 0, len(stored))
	for i := range stored {
		v, err := stored[i].Vector(s.dim)
		if err != nil {
			s.logger.Info("re-embedding corrupt post", zap.Int64("post_id", stored[i].ID()), zap.Error(err))
			todo = append(todo, stored[i])
			continue
		}
		report.Results = append(report.Results, dombatch.NewSkipped(stored[i].ID()))
		current = append(current, stored[i])
		vecs = append(vecs, v)
	}

	results, embedded, embeddedVecs := s.embedAll(ctx, todo)
	report.Results = append(report.Results, results...)
	current = append(current, embedded...)
	vecs = append(vecs, embeddedVecs...)

	if s.mirror.Enabled() {
		n, err := s.mirror.UpsertMany(ctx, current, vecs)
		report.Mirrored = n
		report.MirrorFailed = len(current) - n
		if err != nil {
			s.logger.Warn("backfill mirror incomplete", zap.Int("failed", report.MirrorFailed), zap.Error(err))
		}
	}
	report.Corpus = s.corpus(ctx)

	report.Summary = dombatch.Summarize(report.Results)
	if report.Summary.Failed > 0 {
		metrics.SkippedItemsTotal.WithLabelValues("backfill", "error").Add(float64(report.Summary.Failed))
	}
	s.logger.Info("backfill finished",
		zap.Int("embedded", report.Summary.OK),
		zap.Int("unchanged", report.Summary.Skipped),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("mirrored", report.Mirrored),
		zap.Int("mirror_failed", report.MirrorFailed),
		zap.Int64("embedded_total", report.Corpus.Embedded),
		zap.Int("indexed_total", report.Corpus.Indexed),
	)
	return report, nil
}

// corpus counts are informational; failures are logged and leave zeros.
func (s *Service) corpus(ctx context.Context) Corpus {
	var c Corpus
	total, embedded, err := s.repo.Count(ctx)
	if err != nil {
		s.logger.Warn("count posts failed", zap.Error(err))
	} else {
		c.Posts, c.Embedded = total, embedded
	}
	if !s.mirror.Enabled() {
		return c
	}
	n, err := s.mirror.Count(ctx)
	if err != nil {
		s.logger.Warn("count index entries failed", zap.Error(err))
		return c
	}
	c.Indexed, c.IndexCounted = n, true
	return c
}

// embedAll embeds and stores each post in order. It returns one result per
// post plus the successfully stored posts with their vectors.
func (s *Service) embedAll(
	ctx context.Context, posts []dompost.Post,
) ([]dombatch.Result, []dompost.Post, [][]float32) {
	results := make([]dombatch.Result, len(posts))
	done := make([]dompost.Post, 0, len(posts))
	vecs := make([][]float32, 0, len(posts))

	for i := range posts {
		p := &posts[i]
		cascade, vec, err := s.embedOne(ctx, p)
		if err != nil {
			results[i] = dombatch.NewError(p.ID(), err)
			if cascade {
				for j := i + 1; j < len(posts); j++ {
					results[j] = dombatch.NewError(posts[j].ID(), err)
				}
				return results, done, vecs
			}
			continue
		}
		results[i] = dombatch.NewOK(p.ID())
		done = append(done, *p)
		vecs = append(vecs, vec)
	}
	return results, done, vecs
}

// embedOne returns cascade=true when the error will repeat for every
// remaining post: quota, rate limit, or a cancelled context.
func (s *Service) embedOne(ctx context.Context, p *dompost.Post) (bool, []float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return true, nil, fmt.Errorf("rate limiter: %w", err)
	}

	vec, err := s.embed.EmbedPost(ctx, p.Title(), p.Description())
	if err != nil {
		cascade := errors.Is(err, domain.ErrEmbeddingQuotaExceeded) ||
			errors.Is(err, domain.ErrRateLimited)
		return cascade, nil, fmt.Errorf("vectorize: %w", err)
	}
	if len(vec) != s.dim {
		return false, nil, fmt.Errorf("vector dimension mismatch: got %d, want %d: %w",
			len(vec), s.dim, domain.ErrVectorDimMismatch)
	}

	blob := vector.Encode(vec)
	if err := s.repo.UpdateEmbedding(ctx, p.ID(), blob); err != nil {
		return false, nil, fmt.Errorf("store embedding: %w", err)
	}
	p.SetEmbedding(blob)
	return false, vec, nil
}
