// Package user registers post authors and removes them with their posts.
package user

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/postmap/internal/domain"
	domuser "github.com/kailas-cloud/postmap/internal/domain/user"
)

// Service handles user registration and deletion.
type Service struct {
	repo  Repository
	index IndexCleaner
}

// New creates a user service.
func New(repo Repository, index IndexCleaner) *Service {
	return &Service{repo: repo, index: index}
}

// Register creates a user with a unique username.
func (s *Service) Register(ctx context.Context, username string) (domuser.User, error) {
	u, err := domuser.New(username)
	if err != nil {
		return domuser.User{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := s.repo.Create(ctx, &u); err != nil {
		return domuser.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (domuser.User, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return domuser.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// Delete removes the user and their posts, then drops the posts' index
// entries. Index failures are not reported.
func (s *Service) Delete(ctx context.Context, id int64) error {
	postIDs, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	_ = s.index.Delete(ctx, id, postIDs...)
	return nil
}
