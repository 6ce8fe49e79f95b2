package chi

import (
	"context"

	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/request"
	"github.com/kailas-cloud/postmap/internal/domain/search/result"
	domusage "github.com/kailas-cloud/postmap/internal/domain/usage"
	domuser "github.com/kailas-cloud/postmap/internal/domain/user"
	batchuc "github.com/kailas-cloud/postmap/internal/usecase/batch"
	healthuc "github.com/kailas-cloud/postmap/internal/usecase/health"
	mapuc "github.com/kailas-cloud/postmap/internal/usecase/mapview"
)

// UserService registers and removes users.
type UserService interface {
	Register(ctx context.Context, username string) (domuser.User, error)
	Get(ctx context.Context, id int64) (domuser.User, error)
	Delete(ctx context.Context, id int64) error
}

// PostService creates, reads and deletes posts.
type PostService interface {
	Create(ctx context.Context, d dompost.Draft) (dompost.Post, error)
	Get(ctx context.Context, id int64) (dompost.Post, error)
	List(ctx context.Context, authorID int64, limit, offset int) ([]dompost.Post, error)
	Delete(ctx context.Context, id int64) error
}

// SearchService ranks posts against a query or a reference post.
type SearchService interface {
	Search(ctx context.Context, req *request.Request) ([]result.Hit, error)
}

// MapService builds the 2D post map.
type MapService interface {
	Build(ctx context.Context, q *request.Request) (mapuc.View, error)
	Cached(ctx context.Context) (mapuc.View, error)
}

// BackfillService fills in missing embeddings.
type BackfillService interface {
	Run(ctx context.Context) (batchuc.Report, error)
}

// UsageService reports embedding token usage.
type UsageService interface {
	GetReport(ctx context.Context, period domusage.Period) domusage.Report
}

// HealthService checks dependencies.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}
