package mapview

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/postmap/internal/domain"
	dommap "github.com/kailas-cloud/postmap/internal/domain/mapview"
	"github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/request"
	"github.com/kailas-cloud/postmap/internal/domain/search/result"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
	"github.com/kailas-cloud/postmap/internal/usecase/reduce"
)

// --- Mocks ---

type mockRepo struct {
	posts     []post.Post
	listErr   error
	updateErr error
	updated   map[int64]dommap.Point
}

func (m *mockRepo) ListWithEmbeddings(context.Context) ([]post.Post, error) {
	return m.posts, m.listErr
}

func (m *mockRepo) UpdateCoordinates(_ context.Context, coords map[int64]dommap.Point) error {
	m.updated = coords
	return m.updateErr
}

type mockReducer struct {
	points []dommap.Point
	err    error
	gotN   int
	called bool
}

func (m *mockReducer) Reduce(_ context.Context, vectors [][]float32) ([]dommap.Point, error) {
	m.called = true
	m.gotN = len(vectors)
	if m.points == nil && m.err == nil {
		out := make([]dommap.Point, len(vectors))
		for i := range out {
			out[i] = dommap.Point{X: float64(i), Y: -float64(i)}
		}
		return out, nil
	}
	return m.points, m.err
}

func (m *mockReducer) StrategyName() string { return "stub" }

type mockSearcher struct {
	hits []result.Hit
	err  error
}

func (m *mockSearcher) Search(context.Context, *request.Request) ([]result.Hit, error) {
	return m.hits, m.err
}

func embedded(id int64, vec ...float32) post.Post {
	return post.Reconstruct(post.Snapshot{
		ID: id, AuthorID: 1, Title: "t", Status: post.StatusDid, Embedding: vector.Encode(vec),
	})
}

// --- Tests ---

func TestBuild_AssemblesAndWritesBack(t *testing.T) {
	repo := &mockRepo{posts: []post.Post{embedded(4, 1, 0), embedded(2, 0, 1), embedded(9, 1, 1)}}
	svc := New(repo, &mockReducer{}, nil, 2, nil)

	view, err := svc.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.LayoutID == "" || view.Strategy != "stub" {
		t.Errorf("unexpected metadata: %+v", view)
	}
	if len(view.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(view.Entries))
	}
	for i, want := range []int64{4, 2, 9} {
		if view.Entries[i].ID != want || view.Entries[i].X != float64(i) {
			t.Errorf("entry %d = %+v, want id %d at x=%d", i, view.Entries[i], want, i)
		}
	}
	if len(repo.updated) != 3 || repo.updated[9] != (dommap.Point{X: 2, Y: -2}) {
		t.Errorf("unexpected write-back: %v", repo.updated)
	}
}

func TestBuild_Empty(t *testing.T) {
	red := &mockReducer{}
	svc := New(&mockRepo{}, red, nil, 2, nil)

	view, err := svc.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Entries == nil || len(view.Entries) != 0 {
		t.Errorf("expected empty entries, got %v", view.Entries)
	}
	if red.called {
		t.Error("reducer must not run on an empty corpus")
	}
}

func TestBuild_SinglePostAtOrigin(t *testing.T) {
	red := &mockReducer{}
	svc := New(&mockRepo{posts: []post.Post{embedded(1, 0.3, 0.4)}}, red, nil, 2, nil)

	view, err := svc.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if red.called {
		t.Error("reducer must not run for a single post")
	}
	if len(view.Entries) != 1 || view.Entries[0].X != 0 || view.Entries[0].Y != 0 {
		t.Errorf("expected one entry at the origin, got %+v", view.Entries)
	}
}

func TestBuild_SkipsCorrupt(t *testing.T) {
	bad := post.Reconstruct(post.Snapshot{ID: 5, Embedding: make([]byte, 7)})
	red := &mockReducer{}
	repo := &mockRepo{posts: []post.Post{embedded(1, 1, 0), bad, embedded(2, 0, 1)}}
	svc := New(repo, red, nil, 2, nil)

	view, err := svc.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Skipped.Corrupt != 1 {
		t.Errorf("Skipped.Corrupt = %d, want 1", view.Skipped.Corrupt)
	}
	if red.gotN != 2 {
		t.Errorf("reducer got %d vectors, want 2", red.gotN)
	}
	for _, e := range view.Entries {
		if e.ID == 5 {
			t.Error("corrupt post must not be placed")
		}
	}
}

func TestBuild_DropsNonFinitePoints(t *testing.T) {
	red := &mockReducer{points: []dommap.Point{{X: math.NaN(), Y: 0}, {X: 1, Y: 1}}}
	repo := &mockRepo{posts: []post.Post{embedded(1, 1, 0), embedded(2, 0, 1)}}
	svc := New(repo, red, nil, 2, nil)

	view, err := svc.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Entries) != 1 || view.Entries[0].ID != 2 {
		t.Errorf("expected only post 2, got %+v", view.Entries)
	}
	if view.Skipped.NonFinite != 1 {
		t.Errorf("Skipped.NonFinite = %d, want 1", view.Skipped.NonFinite)
	}
	if _, ok := repo.updated[1]; ok {
		t.Error("non-finite point must not be cached")
	}
}

func TestBuild_WriteBackFailureIsNotFatal(t *testing.T) {
	repo := &mockRepo{
		posts:     []post.Post{embedded(1, 1, 0), embedded(2, 0, 1)},
		updateErr: errors.New("database is locked"),
	}
	svc := New(repo, &mockReducer{}, nil, 2, nil)

	view, err := svc.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("write-back failure must not fail the map: %v", err)
	}
	if view.Skipped.WriteFailed != 2 || len(view.Entries) != 2 {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestBuild_ReducerError(t *testing.T) {
	repo := &mockRepo{posts: []post.Post{embedded(1, 1, 0), embedded(2, 0, 1)}}
	svc := New(repo, &mockReducer{err: context.Canceled}, nil, 2, nil)
	if _, err := svc.Build(context.Background(), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuild_ListError(t *testing.T) {
	svc := New(&mockRepo{listErr: errors.New("boom")}, &mockReducer{}, nil, 2, nil)
	if _, err := svc.Build(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuild_QuerySubsetIsNotCached(t *testing.T) {
	repo := &mockRepo{posts: []post.Post{embedded(1, 1, 0), embedded(2, 0, 1), embedded(3, 1, 1)}}
	searcher := &mockSearcher{hits: []result.Hit{
		result.New(embedded(3, 1, 1), 0.9),
		result.New(embedded(1, 1, 0), 0.8),
	}}
	red := &mockReducer{}
	svc := New(repo, red, searcher, 2, nil)

	req, err := request.New("bread", request.Options{}, request.DefaultLimits())
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	view, err := svc.Build(context.Background(), &req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if red.gotN != 2 || len(view.Entries) != 2 || view.Entries[0].ID != 3 {
		t.Errorf("expected a 2-post layout in hit order, got %+v", view.Entries)
	}
	if repo.updated != nil {
		t.Error("query maps must not overwrite cached coordinates")
	}
}

func TestBuild_QueryWithoutSearcher(t *testing.T) {
	svc := New(&mockRepo{}, &mockReducer{}, nil, 2, nil)
	req, _ := request.New("bread", request.Options{}, request.DefaultLimits())
	if _, err := svc.Build(context.Background(), &req); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBuild_QuerySearchError(t *testing.T) {
	svc := New(&mockRepo{}, &mockReducer{}, &mockSearcher{err: domain.ErrEncoding}, 2, nil)
	req, _ := request.New("bread", request.Options{}, request.DefaultLimits())
	if _, err := svc.Build(context.Background(), &req); !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}

func TestCached(t *testing.T) {
	x, y := 1.5, -2.5
	laidOut := post.Reconstruct(post.Snapshot{ID: 1, X: &x, Y: &y, Embedding: make([]byte, 8)})
	fresh := embedded(2, 1, 0)
	red := &mockReducer{}
	svc := New(&mockRepo{posts: []post.Post{laidOut, fresh}}, red, nil, 2, nil)

	view, err := svc.Cached(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if red.called {
		t.Error("cached map must not run the reducer")
	}
	if len(view.Entries) != 1 || view.Entries[0].X != 1.5 {
		t.Errorf("expected only the laid-out post, got %+v", view.Entries)
	}
}

func TestBuild_WithMDSReducer(t *testing.T) {
	mds, err := reduce.NewMDS(reduce.DefaultMDSConfig())
	if err != nil {
		t.Fatalf("NewMDS: %v", err)
	}
	repo := &mockRepo{posts: []post.Post{
		embedded(1, 1, 0, 0), embedded(2, 0, 1, 0), embedded(3, 0, 0, 1), embedded(4, 1, 1, 1),
	}}
	svc := New(repo, reduce.New(mds, nil), nil, 3, nil)

	view, err := svc.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Strategy != "mds" || len(view.Entries) != 4 {
		t.Fatalf("unexpected view: %+v", view)
	}
	for _, e := range view.Entries {
		if !(dommap.Point{X: e.X, Y: e.Y}).Finite() {
			t.Errorf("non-finite entry %+v", e)
		}
	}
}
