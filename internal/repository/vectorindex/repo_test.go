package vectorindex

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/postmap/internal/db"
	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/filter"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

func TestKeyRoundTrip(t *testing.T) {
	k := Key(3, 12)
	if k != "3#12" {
		t.Fatalf("unexpected key %q", k)
	}
	u, p, err := ParseKey("postmap:vec:" + k)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if u != 3 || p != 12 {
		t.Errorf("got (%d, %d), want (3, 12)", u, p)
	}
}

func TestParseKey_Malformed(t *testing.T) {
	for _, k := range []string{"", "12", "a#1", "1#b", "postmap:vec:1-2"} {
		if _, _, err := ParseKey(k); err == nil {
			t.Errorf("expected error for %q", k)
		}
	}
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	repo, ms := newTestRepo(t, 768)
	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	if created == nil {
		t.Fatal("expected CreateIndex to be called")
	}
	if created.Name != "postmap:posts:idx" || created.Prefixes[0] != "postmap:vec:" {
		t.Errorf("unexpected definition: %+v", created)
	}
	last := created.Fields[len(created.Fields)-1]
	if last.VectorDim != 768 || last.VectorDistance != db.DistanceCosine || last.Alias != "vector" {
		t.Errorf("unexpected vector field: %+v", last)
	}
}

func TestEnsureIndex_Idempotent(t *testing.T) {
	repo, ms := newTestRepo(t, 4)
	ms.indexExistsFn = func(context.Context, string) (bool, error) { return true, nil }
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Fatal("CreateIndex must not be called for an existing index")
		return nil
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}

	// Lost race with another instance.
	ms.indexExistsFn = nil
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex after race: %v", err)
	}
}

func TestUpsert_WritesFields(t *testing.T) {
	repo, ms := newTestRepo(t, 2)
	p := testPost(12, 3)
	vec := []float32{0.25, -1}

	var gotKey string
	var gotFields map[string]string
	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		gotKey, gotFields = key, fields
		return nil
	}

	if err := repo.Upsert(context.Background(), &p, vec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if gotKey != "postmap:vec:3#12" {
		t.Errorf("unexpected key %q", gotKey)
	}
	if gotFields["post_id"] != "12" || gotFields["author_id"] != "3" || gotFields["status"] != "want-to" {
		t.Errorf("unexpected fields %v", gotFields)
	}
	decoded, err := vector.Decode([]byte(gotFields["embedding"]), 2)
	if err != nil || decoded[1] != -1 {
		t.Errorf("vector field does not round trip: %v %v", decoded, err)
	}
}

func TestUpsert_DimMismatch(t *testing.T) {
	repo, _ := newTestRepo(t, 3)
	p := testPost(1, 1)
	err := repo.Upsert(context.Background(), &p, []float32{1})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestUpsertMany(t *testing.T) {
	repo, ms := newTestRepo(t, 1)
	var n int
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		n = len(items)
		return nil
	}
	posts := []post.Post{testPost(1, 1), testPost(2, 1)}
	if err := repo.UpsertMany(context.Background(), posts, [][]float32{{1}, {2}}); err != nil {
		t.Fatalf("UpsertMany: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 items, got %d", n)
	}
}

func TestDelete_Keys(t *testing.T) {
	repo, ms := newTestRepo(t, 1)
	var got []string
	ms.delFn = func(_ context.Context, keys ...string) error {
		got = keys
		return nil
	}
	if err := repo.Delete(context.Background(), 5, 7, 8); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(got) != 2 || got[0] != "postmap:vec:5#7" || got[1] != "postmap:vec:5#8" {
		t.Errorf("unexpected keys %v", got)
	}

	ms.delFn = func(context.Context, ...string) error {
		t.Fatal("Del must not be called without ids")
		return nil
	}
	if err := repo.Delete(context.Background(), 5); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestQuery_ParsesKeysAndDropsMalformed(t *testing.T) {
	repo, ms := newTestRepo(t, 2)
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "postmap:posts:idx" || q.K != 5 || q.TagFilters != nil {
			t.Errorf("unexpected query %+v", q)
		}
		return &db.SearchResult{Total: 3, Entries: []db.SearchEntry{
			{Key: "postmap:vec:1#10", Score: 0.9},
			{Key: "postmap:vec:garbage", Score: 0.8},
			{Key: "postmap:vec:2#20", Score: 0.7},
		}}, nil
	}

	matches, err := repo.Query(context.Background(), []float32{1, 0}, 5, filter.Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].PostID != 10 || matches[1].PostID != 20 || matches[1].UserID != 2 {
		t.Errorf("unexpected matches %+v", matches)
	}
}

func TestQuery_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t, 2)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, &db.Error{Op: db.OpSearch, Err: errors.New("conn refused")}
	}
	if _, err := repo.Query(context.Background(), []float32{1, 0}, 5, filter.Filter{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestQuery_PassesFilterAsTags(t *testing.T) {
	repo, ms := newTestRepo(t, 2)
	var got map[string]string
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		got = q.TagFilters
		return &db.SearchResult{}, nil
	}
	f, err := filter.New(7, "doing")
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	if _, err := repo.Query(context.Background(), []float32{1, 0}, 3, f); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got["author_id"] != "7" || got["status"] != "doing" || len(got) != 2 {
		t.Errorf("unexpected tag filters %v", got)
	}
}

func TestQuery_EFRuntime(t *testing.T) {
	ms := &mockStore{}
	repo := New(ms, 2, WithEFRuntime(64))
	var got int
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		got = q.EFRuntime
		return &db.SearchResult{}, nil
	}
	if _, err := repo.Query(context.Background(), []float32{1, 0}, 3, filter.Filter{}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got != 64 {
		t.Errorf("EFRuntime = %d, want 64", got)
	}
}
