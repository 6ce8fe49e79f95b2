// Package schema holds the GORM table models for users and posts.
package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/postmap/internal/database"
)

// UserModel is a row of the users table.
type UserModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Username  string    `gorm:"size:50;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName pins the table name.
func (UserModel) TableName() string { return "users" }

// PostModel is a row of the posts table. Embedding holds D little-endian
// float32 values; x_coord and y_coord cache the map coordinates from the last
// full layout.
type PostModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	AuthorID     int64     `gorm:"not null;index"`
	ActivityType string    `gorm:"size:50"`
	Status       string    `gorm:"size:10;not null;default:did"`
	Comment      string    `gorm:"size:50"`
	Title        string    `gorm:"size:100;not null"`
	Description  string    `gorm:"size:200;not null"`
	Embedding    []byte
	X            *float64  `gorm:"column:x_coord"`
	Y            *float64  `gorm:"column:y_coord"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

// TableName pins the table name.
func (PostModel) TableName() string { return "posts" }

// AutoMigrate creates or updates the users and posts tables.
func AutoMigrate(ctx context.Context, db database.Database) error {
	if err := db.Session(ctx).AutoMigrate(&UserModel{}, &PostModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
