package post

import (
	"context"

	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
)

// Repository defines the relational storage contract for posts.
type Repository interface {
	Create(ctx context.Context, p *dompost.Post) error
	Get(ctx context.Context, id int64) (dompost.Post, error)
	List(ctx context.Context, authorID int64, limit, offset int) ([]dompost.Post, error)
	Delete(ctx context.Context, id int64) (dompost.Post, error)
}

// Embedder produces the combined post vector.
type Embedder interface {
	EmbedPost(ctx context.Context, title, description string) ([]float32, error)
}

// Mirror copies vectors into the ANN index on a best-effort basis.
type Mirror interface {
	Upsert(ctx context.Context, p *dompost.Post, vec []float32) error
	Delete(ctx context.Context, userID int64, postIDs ...int64) error
}
