// Package vectorindex mirrors post embeddings into a Redis/Valkey FT index
// for approximate nearest-neighbour queries.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/postmap/internal/db"
	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/domain/search/filter"
	"github.com/kailas-cloud/postmap/internal/domain/search/result"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

var (
	// IndexName is the FT index over post vectors.
	IndexName = domain.KeyPrefix + "posts:idx"
	// keyPrefix namespaces the hashes the index covers.
	keyPrefix = domain.KeyPrefix + "vec:"
)

// Hash field names.
const (
	fieldPostID   = "post_id"
	fieldAuthorID = "author_id"
	fieldStatus   = "status"
	fieldVector   = "embedding"
	vectorAlias   = "vector"
	// scoreField is the KNN distance FT.SEARCH yields for @vector.
	scoreField = "__vector_score"
)

// store is the consumer interface for the vector index (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, keys ...string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// Repo implements the post vector index.
type Repo struct {
	store     store
	dim       int
	hnswM     int
	efConstr  int
	efRuntime int
	indexName string
}

// Option configures the repository.
type Option func(*Repo)

// WithHNSW overrides the HNSW graph parameters used at index creation.
func WithHNSW(m, efConstruction int) Option {
	return func(r *Repo) {
		r.hnswM = m
		r.efConstr = efConstruction
	}
}

// WithEFRuntime sets the HNSW candidate list size used by Query.
func WithEFRuntime(ef int) Option {
	return func(r *Repo) { r.efRuntime = ef }
}

// New creates a vector index repository for dim-dimensional vectors.
func New(s store, dim int, opts ...Option) *Repo {
	r := &Repo{store: s, dim: dim, hnswM: 16, efConstr: 200, indexName: IndexName}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Key returns the logical index key "{user_id}#{post_id}".
func Key(userID, postID int64) string {
	return strconv.FormatInt(userID, 10) + "#" + strconv.FormatInt(postID, 10)
}

// ParseKey splits a logical or namespaced key into user and post ids.
func ParseKey(key string) (userID, postID int64, err error) {
	key = strings.TrimPrefix(key, keyPrefix)
	u, p, ok := strings.Cut(key, "#")
	if !ok {
		return 0, 0, fmt.Errorf("malformed index key %q", key)
	}
	userID, err = strconv.ParseInt(u, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed user id in key %q: %w", key, err)
	}
	postID, err = strconv.ParseInt(p, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed post id in key %q: %w", key, err)
	}
	return userID, postID, nil
}

func hashKey(userID, postID int64) string {
	return keyPrefix + Key(userID, postID)
}

// EnsureIndex creates the FT index when it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.indexName, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(r.indexName).
		Prefix(keyPrefix).
		Numeric(fieldPostID).
		Tag(fieldAuthorID).
		Tag(fieldStatus).
		VectorHNSW(fieldVector, vectorAlias, r.dim, r.hnswM, r.efConstr).
		Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.indexName, err)
	}
	return nil
}

// Upsert writes the post's vector under its key. The vector must have the
// configured dimensionality.
func (r *Repo) Upsert(ctx context.Context, p *post.Post, vec []float32) error {
	if len(vec) != r.dim {
		return fmt.Errorf("upsert post %d: %d components, want %d: %w",
			p.ID(), len(vec), r.dim, domain.ErrVectorDimMismatch)
	}
	key := hashKey(p.AuthorID(), p.ID())
	if err := r.store.HSet(ctx, key, fields(p, vec)); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// UpsertMany writes several posts in one pipelined round trip.
// vecs[i] belongs to posts[i].
func (r *Repo) UpsertMany(ctx context.Context, posts []post.Post, vecs [][]float32) error {
	if len(posts) != len(vecs) {
		return fmt.Errorf("upsert many: %d posts, %d vectors", len(posts), len(vecs))
	}
	items := make([]db.HashSetItem, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		if len(vecs[i]) != r.dim {
			return fmt.Errorf("upsert post %d: %d components, want %d: %w",
				p.ID(), len(vecs[i]), r.dim, domain.ErrVectorDimMismatch)
		}
		items = append(items, db.HashSetItem{Key: hashKey(p.AuthorID(), p.ID()), Fields: fields(p, vecs[i])})
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset multi: %w", err)
	}
	return nil
}

func fields(p *post.Post, vec []float32) map[string]string {
	return map[string]string{
		fieldPostID:   strconv.FormatInt(p.ID(), 10),
		fieldAuthorID: strconv.FormatInt(p.AuthorID(), 10),
		fieldStatus:   string(p.Status()),
		fieldVector:   string(vector.Encode(vec)),
	}
}

// Delete removes index entries. Missing entries are not an error.
func (r *Repo) Delete(ctx context.Context, userID int64, postIDs ...int64) error {
	if len(postIDs) == 0 {
		return nil
	}
	keys := make([]string, len(postIDs))
	for i, id := range postIDs {
		keys[i] = hashKey(userID, id)
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("del %d index entries: %w", len(keys), err)
	}
	return nil
}

// Query returns up to k nearest entries by cosine similarity, best first.
// Entries whose key cannot be parsed are dropped.
func (r *Repo) Query(ctx context.Context, vec []float32, k int, f filter.Filter) ([]result.Match, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.indexName,
		TagFilters:   tagFilters(f),
		Vector:       vec,
		K:            k,
		ReturnFields: []string{fieldPostID, scoreField},
		EFRuntime:    r.efRuntime,
	})
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	if res == nil {
		return nil, nil
	}

	matches := make([]result.Match, 0, len(res.Entries))
	for _, e := range res.Entries {
		userID, postID, err := ParseKey(e.Key)
		if err != nil {
			continue
		}
		matches = append(matches, result.Match{UserID: userID, PostID: postID, Score: e.Score})
	}
	return matches, nil
}

func tagFilters(f filter.Filter) map[string]string {
	if f.IsEmpty() {
		return nil
	}
	tags := make(map[string]string, 2)
	if id := f.AuthorID(); id != 0 {
		tags[fieldAuthorID] = strconv.FormatInt(id, 10)
	}
	if st := f.Status(); st != "" {
		tags[fieldStatus] = string(st)
	}
	return tags
}

// Count returns the number of indexed posts.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, r.indexName, "*")
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.indexName, err)
	}
	return n, nil
}
