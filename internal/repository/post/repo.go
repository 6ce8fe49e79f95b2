package post

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kailas-cloud/postmap/internal/database"
	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/mapview"
	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/repository/schema"
)

// Repo implements usecase/post.Repository over the posts table.
type Repo struct {
	db  database.Database
	now func() time.Time
}

// New creates a post repository.
func New(db database.Database) *Repo {
	return &Repo{db: db, now: time.Now}
}

// Create inserts p and assigns its id and creation time. The author must exist.
func (r *Repo) Create(ctx context.Context, p *dompost.Post) error {
	m := toModel(p)
	m.CreatedAt = r.now().UTC()

	err := database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&schema.UserModel{}).Where("id = ?", m.AuthorID).Count(&n).Error; err != nil {
			return fmt.Errorf("check author %d: %w", m.AuthorID, err)
		}
		if n == 0 {
			return domain.ErrUserNotFound
		}
		if err := tx.Create(&m).Error; err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.SetID(m.ID)
	p.SetCreatedAt(m.CreatedAt)
	return nil
}

// Get returns a post by id.
func (r *Repo) Get(ctx context.Context, id int64) (dompost.Post, error) {
	var m schema.PostModel
	err := r.db.Session(ctx).First(&m, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dompost.Post{}, domain.ErrPostNotFound
		}
		return dompost.Post{}, fmt.Errorf("get post %d: %w", id, err)
	}
	return toDomain(m), nil
}

// GetMany returns the posts that exist among ids, keyed by id.
func (r *Repo) GetMany(ctx context.Context, ids []int64) (map[int64]dompost.Post, error) {
	out := make(map[int64]dompost.Post, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var models []schema.PostModel
	if err := r.db.Session(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("get posts: %w", err)
	}
	for _, m := range models {
		out[m.ID] = toDomain(m)
	}
	return out, nil
}

// List returns posts newest first. authorID 0 lists every author.
func (r *Repo) List(ctx context.Context, authorID int64, limit, offset int) ([]dompost.Post, error) {
	q := r.db.Session(ctx).Order("created_at DESC, id DESC")
	if authorID > 0 {
		q = q.Where("author_id = ?", authorID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var models []schema.PostModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return toDomainSlice(models), nil
}

// ListWithEmbeddings returns every post that has an embedding, in id order.
// Blobs are returned as stored; length validation is the caller's job.
func (r *Repo) ListWithEmbeddings(ctx context.Context) ([]dompost.Post, error) {
	var models []schema.PostModel
	err := r.db.Session(ctx).
		Where("embedding IS NOT NULL").
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list embedded posts: %w", err)
	}
	return toDomainSlice(models), nil
}

// ListMissingEmbeddings returns up to limit posts without an embedding, in id order.
func (r *Repo) ListMissingEmbeddings(ctx context.Context, limit int) ([]dompost.Post, error) {
	q := r.db.Session(ctx).Where("embedding IS NULL").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []schema.PostModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list posts without embedding: %w", err)
	}
	return toDomainSlice(models), nil
}

// UpdateEmbedding stores a new embedding blob for a post.
func (r *Repo) UpdateEmbedding(ctx context.Context, id int64, blob []byte) error {
	res := r.db.Session(ctx).Model(&schema.PostModel{}).Where("id = ?", id).Update("embedding", blob)
	if res.Error != nil {
		return fmt.Errorf("update embedding %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// UpdateCoordinates writes cached map positions in one transaction.
// Posts deleted since the layout was computed are ignored.
func (r *Repo) UpdateCoordinates(ctx context.Context, coords map[int64]mapview.Point) error {
	if len(coords) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, r.db, func(tx *gorm.DB) error {
		for id, pt := range coords {
			err := tx.Model(&schema.PostModel{}).Where("id = ?", id).
				Updates(map[string]any{"x_coord": pt.X, "y_coord": pt.Y}).Error
			if err != nil {
				return fmt.Errorf("update coordinates %d: %w", id, err)
			}
		}
		return nil
	})
}

// Delete removes a post.
func (r *Repo) Delete(ctx context.Context, id int64) (dompost.Post, error) {
	return database.WithTransactionResult(ctx, r.db, func(tx *gorm.DB) (dompost.Post, error) {
		var m schema.PostModel
		if err := tx.First(&m, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dompost.Post{}, domain.ErrPostNotFound
			}
			return dompost.Post{}, fmt.Errorf("get post %d: %w", id, err)
		}
		if err := tx.Delete(&schema.PostModel{}, id).Error; err != nil {
			return dompost.Post{}, fmt.Errorf("delete post %d: %w", id, err)
		}
		return toDomain(m), nil
	})
}

// Count returns the number of posts, with and without embeddings.
func (r *Repo) Count(ctx context.Context) (total, embedded int64, err error) {
	if err := r.db.Session(ctx).Model(&schema.PostModel{}).Count(&total).Error; err != nil {
		return 0, 0, fmt.Errorf("count posts: %w", err)
	}
	if err := r.db.Session(ctx).Model(&schema.PostModel{}).
		Where("embedding IS NOT NULL").Count(&embedded).Error; err != nil {
		return 0, 0, fmt.Errorf("count embedded posts: %w", err)
	}
	return total, embedded, nil
}
