package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kailas-cloud/postmap/internal/database"
	"github.com/kailas-cloud/postmap/internal/domain"
	domuser "github.com/kailas-cloud/postmap/internal/domain/user"
	"github.com/kailas-cloud/postmap/internal/repository/schema"
)

// Repo implements usecase/user.Repository over the users table.
type Repo struct {
	db  database.Database
	now func() time.Time
}

// New creates a user repository.
func New(db database.Database) *Repo {
	return &Repo{db: db, now: time.Now}
}

// Create inserts u and assigns its id. A taken username is ErrUsernameTaken.
func (r *Repo) Create(ctx context.Context, u *domuser.User) error {
	m := schema.UserModel{Username: u.Username(), CreatedAt: r.now().UTC()}

	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&schema.UserModel{}).Where("username = ?", m.Username).Count(&n).Error; err != nil {
			return fmt.Errorf("check username: %w", err)
		}
		if n > 0 {
			return domain.ErrUsernameTaken
		}
		if err := tx.Create(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrUsernameTaken
			}
			return fmt.Errorf("insert user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	*u = domuser.Reconstruct(m.ID, m.Username, m.CreatedAt)
	return nil
}

// Get returns a user by id.
func (r *Repo) Get(ctx context.Context, id int64) (domuser.User, error) {
	var m schema.UserModel
	if err := r.db.Session(ctx).First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domuser.User{}, domain.ErrUserNotFound
		}
		return domuser.User{}, fmt.Errorf("get user %d: %w", id, err)
	}
	return domuser.Reconstruct(m.ID, m.Username, m.CreatedAt), nil
}

// Delete removes a user and all of their posts in one transaction. It returns
// the ids of the removed posts so index entries can be cleaned up.
func (r *Repo) Delete(ctx context.Context, id int64) ([]int64, error) {
	return database.WithTransactionResult(ctx, r.db, func(tx *gorm.DB) ([]int64, error) {
		var m schema.UserModel
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, domain.ErrUserNotFound
			}
			return nil, fmt.Errorf("get user %d: %w", id, err)
		}

		var postIDs []int64
		if err := tx.Model(&schema.PostModel{}).Where("author_id = ?", id).
			Order("id ASC").Pluck("id", &postIDs).Error; err != nil {
			return nil, fmt.Errorf("list posts of user %d: %w", id, err)
		}
		if err := tx.Where("author_id = ?", id).Delete(&schema.PostModel{}).Error; err != nil {
			return nil, fmt.Errorf("delete posts of user %d: %w", id, err)
		}
		if err := tx.Delete(&schema.UserModel{}, id).Error; err != nil {
			return nil, fmt.Errorf("delete user %d: %w", id, err)
		}
		return postIDs, nil
	})
}
