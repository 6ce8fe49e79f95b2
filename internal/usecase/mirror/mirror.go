// Package mirror writes post vectors to the ANN index after the relational
// commit. Failures are logged and counted, never fatal to the caller.
package mirror

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/post"
	logpkg "github.com/kailas-cloud/postmap/internal/logger"
	"github.com/kailas-cloud/postmap/internal/metrics"
)

// DefaultTimeout bounds one mirror call.
const DefaultTimeout = 3 * time.Second

// bulkChunk is the number of posts pipelined per UpsertMany round trip.
const bulkChunk = 256

// Index is the ANN index the mirror writes to.
type Index interface {
	Upsert(ctx context.Context, p *post.Post, vec []float32) error
	UpsertMany(ctx context.Context, posts []post.Post, vecs [][]float32) error
	Delete(ctx context.Context, userID int64, postIDs ...int64) error
	Count(ctx context.Context) (int, error)
}

// Mirror is a best-effort writer. A nil *Mirror, or one without an index, is
// a no-op so deployments without Redis need no special casing.
type Mirror struct {
	index   Index
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a mirror. timeout <= 0 uses DefaultTimeout.
func New(index Index, timeout time.Duration, logger *zap.Logger) *Mirror {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Mirror{index: index, timeout: timeout, logger: logger}
}

// Enabled reports whether an index is attached.
func (m *Mirror) Enabled() bool { return m != nil && m.index != nil }

// Upsert writes p's vector. The call is detached from ctx cancellation so a
// client disconnect after commit does not skip it. The returned error wraps
// ErrIndexMirror; it has already been logged.
func (m *Mirror) Upsert(ctx context.Context, p *post.Post, vec []float32) error {
	if !m.Enabled() {
		return nil
	}
	ctx, cancel := m.detach(ctx)
	defer cancel()

	err := m.index.Upsert(ctx, p, vec)
	return m.observe(ctx, "upsert", err, zap.Int64("post_id", p.ID()), zap.Int64("author_id", p.AuthorID()))
}

// UpsertMany pipelines posts into the index in chunks; vecs[i] belongs to
// posts[i]. It returns how many posts were written. A failed chunk counts as
// entirely unwritten and the first failure is returned after all chunks ran.
func (m *Mirror) UpsertMany(ctx context.Context, posts []post.Post, vecs [][]float32) (int, error) {
	if !m.Enabled() || len(posts) == 0 {
		return 0, nil
	}
	if len(posts) != len(vecs) {
		return 0, fmt.Errorf("mirror upsert_many: %d posts, %d vectors", len(posts), len(vecs))
	}

	var written int
	var firstErr error
	for start := 0; start < len(posts); start += bulkChunk {
		end := min(start+bulkChunk, len(posts))
		cctx, cancel := m.detach(ctx)
		err := m.index.UpsertMany(cctx, posts[start:end], vecs[start:end])
		err = m.observe(cctx, "upsert_many", err, zap.Int("posts", end-start), zap.Int("offset", start))
		cancel()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		written += end - start
	}
	return written, firstErr
}

// Count returns the number of entries in the index.
func (m *Mirror) Count(ctx context.Context) (int, error) {
	if !m.Enabled() {
		return 0, nil
	}
	ctx, cancel := m.detach(ctx)
	defer cancel()
	n, err := m.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count index entries: %w: %w", domain.ErrIndexMirror, err)
	}
	return n, nil
}

// Delete removes the entries of postIDs owned by userID.
func (m *Mirror) Delete(ctx context.Context, userID int64, postIDs ...int64) error {
	if !m.Enabled() || len(postIDs) == 0 {
		return nil
	}
	ctx, cancel := m.detach(ctx)
	defer cancel()

	err := m.index.Delete(ctx, userID, postIDs...)
	return m.observe(ctx, "delete", err, zap.Int64("author_id", userID), zap.Int("posts", len(postIDs)))
}

func (m *Mirror) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
}

func (m *Mirror) observe(ctx context.Context, op string, err error, fields ...zap.Field) error {
	if err == nil {
		metrics.IndexMirrorTotal.WithLabelValues(op, "ok").Inc()
		return nil
	}
	metrics.IndexMirrorTotal.WithLabelValues(op, "error").Inc()
	logpkg.FromContext(ctx, m.logger).Warn("Index mirror failed",
		append(fields, zap.String("op", op), zap.Error(err))...)
	return fmt.Errorf("mirror %s: %w: %w", op, domain.ErrIndexMirror, err)
}
