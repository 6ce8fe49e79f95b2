package mapview

import (
	"context"

	dommap "github.com/kailas-cloud/postmap/internal/domain/mapview"
	"github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/request"
	"github.com/kailas-cloud/postmap/internal/domain/search/result"
)

// Repository reads embedded posts and stores the computed layout.
type Repository interface {
	ListWithEmbeddings(ctx context.Context) ([]post.Post, error)
	UpdateCoordinates(ctx context.Context, coords map[int64]dommap.Point) error
}

// Reducer projects embeddings onto the plane.
type Reducer interface {
	Reduce(ctx context.Context, vectors [][]float32) ([]dommap.Point, error)
	StrategyName() string
}

// Searcher picks the subset of posts for a query-restricted map.
type Searcher interface {
	Search(ctx context.Context, req *request.Request) ([]result.Hit, error)
}
