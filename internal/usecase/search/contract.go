package search

import (
	"context"

	"github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/filter"
	"github.com/kailas-cloud/postmap/internal/domain/search/result"
)

// Repository reads posts and their stored embeddings.
type Repository interface {
	Get(ctx context.Context, id int64) (post.Post, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]post.Post, error)
	ListWithEmbeddings(ctx context.Context) ([]post.Post, error)
}

// Index is the external ANN index queried by the index backend.
type Index interface {
	Query(ctx context.Context, vec []float32, k int, f filter.Filter) ([]result.Match, error)
}

// Embedder vectorizes a search query.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}
