package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

// PostEmbedder turns a post's title and description into the single vector
// stored for the post, and embeds free-text search queries into the same space.
type PostEmbedder struct {
	embedder    domain.Embedder
	titleWeight float32
}

// NewPostEmbedder uses cfg.TitleWeight for the title and the rest for the description.
func NewPostEmbedder(e domain.Embedder, cfg domain.VectorConfig) *PostEmbedder {
	return &PostEmbedder{embedder: e, titleWeight: cfg.TitleWeight}
}

// EmbedPost embeds both fields and returns titleWeight*title + (1-titleWeight)*description.
func (p *PostEmbedder) EmbedPost(ctx context.Context, title, description string) ([]float32, error) {
	titleVec, descVec, err := p.embedPair(ctx, title, description)
	if err != nil {
		return nil, err
	}
	combined, err := vector.Weighted(titleVec, descVec, p.titleWeight, 1-p.titleWeight)
	if err != nil {
		return nil, fmt.Errorf("combine post embedding: %w", err)
	}
	return combined, nil
}

// EmbedQuery embeds a search query.
func (p *PostEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	res, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return res.Embedding, nil
}

// HealthCheck delegates to the embedder chain.
func (p *PostEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.embedder.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (p *PostEmbedder) embedPair(ctx context.Context, title, description string) ([]float32, []float32, error) {
	if be, ok := p.embedder.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, []string{title, description})
		if err != nil {
			return nil, nil, fmt.Errorf("embed post: %w", err)
		}
		if len(res.Embeddings) != 2 {
			return nil, nil, fmt.Errorf("embed post: got %d vectors for 2 texts: %w", len(res.Embeddings), domain.ErrEncoding)
		}
		return res.Embeddings[0], res.Embeddings[1], nil
	}

	var titleVec, descVec []float32
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := p.embedder.Embed(gctx, title)
		if err != nil {
			return fmt.Errorf("embed title: %w", err)
		}
		titleVec = res.Embedding
		return nil
	})
	g.Go(func() error {
		res, err := p.embedder.Embed(gctx, description)
		if err != nil {
			return fmt.Errorf("embed description: %w", err)
		}
		descVec = res.Embedding
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return titleVec, descVec, nil
}
