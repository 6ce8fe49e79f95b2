package batch

import (
	"context"

	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
)

// Repository reads posts that need work and stores fresh embeddings.
type Repository interface {
	ListWithEmbeddings(ctx context.Context) ([]dompost.Post, error)
	ListMissingEmbeddings(ctx context.Context, limit int) ([]dompost.Post, error)
	UpdateEmbedding(ctx context.Context, id int64, blob []byte) error
	Count(ctx context.Context) (total, embedded int64, err error)
}

// Embedder produces the combined post vector.
type Embedder interface {
	EmbedPost(ctx context.Context, title, description string) ([]float32, error)
}

// Mirror copies vectors into the ANN index on a best-effort basis.
type Mirror interface {
	Enabled() bool
	UpsertMany(ctx context.Context, posts []dompost.Post, vecs [][]float32) (int, error)
	Count(ctx context.Context) (int, error)
}
