// Package post handles post creation with embedding and index mirroring.
package post

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/postmap/internal/domain"
	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

// Service handles post CRUD with automatic vectorization.
type Service struct {
	repo            Repository
	embed           Embedder
	mirror          Mirror
	dim             int
	defaultPageSize int
	maxPageSize     int
}

// New creates a post service for dim-dimensional embeddings.
func New(repo Repository, embed Embedder, mirror Mirror, dim int) *Service {
	return &Service{
		repo:            repo,
		embed:           embed,
		mirror:          mirror,
		dim:             dim,
		defaultPageSize: 20,
		maxPageSize:     100,
	}
}

// WithPagination configures page size limits.
func (s *Service) WithPagination(defaultPageSize, maxPageSize int) *Service {
	if defaultPageSize > 0 {
		s.defaultPageSize = defaultPageSize
	}
	if maxPageSize > 0 {
		s.maxPageSize = maxPageSize
	}
	return s
}

// Create validates the draft, embeds title and description, stores the row
// and then mirrors the vector. A failed embedding or insert fails the call;
// a failed mirror does not.
func (s *Service) Create(ctx context.Context, d dompost.Draft) (dompost.Post, error) {
	p, err := dompost.New(d)
	if err != nil {
		return dompost.Post{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	vec, err := s.embed.EmbedPost(ctx, p.Title(), p.Description())
	if err != nil {
		return dompost.Post{}, fmt.Errorf("vectorize post: %w", err)
	}
	if len(vec) != s.dim {
		return dompost.Post{}, fmt.Errorf("vector dimension mismatch: got %d, want %d: %w",
			len(vec), s.dim, domain.ErrVectorDimMismatch)
	}
	p.SetEmbedding(vector.Encode(vec))

	if err := s.repo.Create(ctx, &p); err != nil {
		return dompost.Post{}, fmt.Errorf("create post: %w", err)
	}

	_ = s.mirror.Upsert(ctx, &p, vec)

	return p, nil
}

// Get returns one post.
func (s *Service) Get(ctx context.Context, id int64) (dompost.Post, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return dompost.Post{}, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// List returns posts newest first, optionally for one author (authorID 0 means all).
func (s *Service) List(ctx context.Context, authorID int64, limit, offset int) ([]dompost.Post, error) {
	if limit <= 0 {
		limit = s.defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative: %w", domain.ErrInvalidInput)
	}

	posts, err := s.repo.List(ctx, authorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return posts, nil
}

// Delete removes the post row and then its index entry.
func (s *Service) Delete(ctx context.Context, id int64) error {
	p, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	_ = s.mirror.Delete(ctx, p.AuthorID(), p.ID())
	return nil
}
