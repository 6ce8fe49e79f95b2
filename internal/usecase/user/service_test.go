package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/postmap/internal/domain"
	domuser "github.com/kailas-cloud/postmap/internal/domain/user"
)

type mockRepo struct {
	createFn func(ctx context.Context, u *domuser.User) error
	getFn    func(ctx context.Context, id int64) (domuser.User, error)
	deleteFn func(ctx context.Context, id int64) ([]int64, error)
}

func (m *mockRepo) Create(ctx context.Context, u *domuser.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, u)
	}
	return nil
}

func (m *mockRepo) Get(ctx context.Context, id int64) (domuser.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return domuser.User{}, domain.ErrUserNotFound
}

func (m *mockRepo) Delete(ctx context.Context, id int64) ([]int64, error) {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil, nil
}

type mockIndex struct {
	userID  int64
	postIDs []int64
	calls   int
	err     error
}

func (m *mockIndex) Delete(_ context.Context, userID int64, postIDs ...int64) error {
	m.calls++
	m.userID, m.postIDs = userID, postIDs
	return m.err
}

func TestRegister(t *testing.T) {
	repo := &mockRepo{createFn: func(_ context.Context, u *domuser.User) error {
		*u = domuser.Reconstruct(4, u.Username(), time.Now())
		return nil
	}}
	svc := New(repo, &mockIndex{})

	u, err := svc.Register(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID() != 4 || u.Username() != "alice" {
		t.Errorf("unexpected user: id=%d name=%q", u.ID(), u.Username())
	}
}

func TestRegister_InvalidUsername(t *testing.T) {
	called := false
	svc := New(&mockRepo{createFn: func(context.Context, *domuser.User) error {
		called = true
		return nil
	}}, &mockIndex{})

	for _, name := range []string{"", "has space", "way-too-long-username-way-too-long-username-way-too-long"} {
		if _, err := svc.Register(context.Background(), name); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Register(%q): expected ErrInvalidInput, got %v", name, err)
		}
	}
	if called {
		t.Error("expected repository not to be called")
	}
}

func TestRegister_Taken(t *testing.T) {
	svc := New(&mockRepo{createFn: func(context.Context, *domuser.User) error {
		return domain.ErrUsernameTaken
	}}, &mockIndex{})

	if _, err := svc.Register(context.Background(), "alice"); !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := New(&mockRepo{}, &mockIndex{})
	if _, err := svc.Get(context.Background(), 1); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDelete_CleansIndex(t *testing.T) {
	idx := &mockIndex{err: domain.ErrIndexMirror}
	svc := New(&mockRepo{deleteFn: func(context.Context, int64) ([]int64, error) {
		return []int64{10, 11}, nil
	}}, idx)

	if err := svc.Delete(context.Background(), 3); err != nil {
		t.Fatalf("index failure must not fail deletion, got %v", err)
	}
	if idx.calls != 1 || idx.userID != 3 || len(idx.postIDs) != 2 {
		t.Errorf("unexpected index cleanup: %+v", idx)
	}
}

func TestDelete_NotFound(t *testing.T) {
	idx := &mockIndex{}
	svc := New(&mockRepo{deleteFn: func(context.Context, int64) ([]int64, error) {
		return nil, domain.ErrUserNotFound
	}}, idx)

	if err := svc.Delete(context.Background(), 3); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if idx.calls != 0 {
		t.Error("expected no index cleanup")
	}
}
