package user

import (
	"context"

	domuser "github.com/kailas-cloud/postmap/internal/domain/user"
)

// Repository defines the storage contract for users.
type Repository interface {
	Create(ctx context.Context, u *domuser.User) error
	Get(ctx context.Context, id int64) (domuser.User, error)
	// Delete removes the user and their posts, returning the deleted post ids.
	Delete(ctx context.Context, id int64) ([]int64, error)
}

// IndexCleaner drops index entries of deleted posts.
type IndexCleaner interface {
	Delete(ctx context.Context, userID int64, postIDs ...int64) error
}
