// Package embcache keeps computed post embeddings in the Redis/Valkey KV
// space so re-embedding an unchanged title or description is free.
//
// Entries are keyed by model, dimension and a digest of the text. A stored
// blob that does not decode to the configured dimension is treated as a miss
// and overwritten.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/db"
	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

const keySpace = domain.KeyPrefix + "emb:"

type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Embedder is a read-through cache in front of another domain.Embedder.
type Embedder struct {
	inner  domain.Embedder
	kv     kv
	prefix string
	dim    int
	ttl    time.Duration
	hits   *prometheus.CounterVec
	logger *zap.Logger
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithTTL expires entries after ttl. Zero stores them without expiry.
func WithTTL(ttl time.Duration) Option {
	return func(e *Embedder) { e.ttl = ttl }
}

// WithCounter counts lookups under the "hit" and "miss" labels.
func WithCounter(c *prometheus.CounterVec) Option {
	return func(e *Embedder) { e.hits = c }
}

// New wraps inner. dim is the vector width the deployment is configured for;
// cached blobs of any other width are ignored.
func New(inner domain.Embedder, store kv, model string, dim int, logger *zap.Logger, opts ...Option) *Embedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Embedder{
		inner:  inner,
		kv:     store,
		prefix: keySpace + model + ":" + strconv.Itoa(dim) + ":",
		dim:    dim,
		logger: logger.Named("embcache"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Embed serves text from the cache, falling back to the inner embedder. A
// hit reports zero tokens.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := e.key(text)
	if vec, ok := e.load(ctx, key); ok {
		return domain.EmbeddingResult{Embedding: vec}, nil
	}

	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	e.store(ctx, key, res.Embedding)
	return res, nil
}

// BatchEmbed looks every text up, then embeds the distinct misses in a single
// inner call. Duplicate texts in one batch are embedded once.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	out := make([][]float32, len(texts))
	cached := make(map[string][]float32)
	pending := make(map[string][]int) // key -> positions waiting on the inner call
	var missKeys []string
	var missTexts []string

	for i, text := range texts {
		key := e.key(text)
		if vec, ok := cached[key]; ok {
			out[i] = vec
			continue
		}
		if waiting, ok := pending[key]; ok {
			pending[key] = append(waiting, i)
			continue
		}
		if vec, ok := e.load(ctx, key); ok {
			cached[key] = vec
			out[i] = vec
			continue
		}
		pending[key] = []int{i}
		missKeys = append(missKeys, key)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return domain.BatchEmbeddingResult{Embeddings: out}, nil
	}

	res, err := domain.EmbedBatch(ctx, e.inner, missTexts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("embed %d uncached texts: %w", len(missTexts), err)
	}
	for n, key := range missKeys {
		vec := res.Embeddings[n]
		for _, i := range pending[key] {
			out[i] = vec
		}
		e.store(ctx, key, vec)
	}

	return domain.BatchEmbeddingResult{
		Embeddings:   out,
		PromptTokens: res.PromptTokens,
		TotalTokens:  res.TotalTokens,
	}, nil
}

// HealthCheck forwards to the inner embedder when it supports one.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if hc, ok := e.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return e.prefix + hex.EncodeToString(sum[:])
}

func (e *Embedder) load(ctx context.Context, key string) ([]float32, bool) {
	data, err := e.kv.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		e.count("miss")
		return nil, false
	case err != nil:
		e.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		e.count("miss")
		return nil, false
	}

	vec, err := vector.Decode(data, e.dim)
	if err != nil {
		e.logger.Warn("discarding cached embedding", zap.String("key", key), zap.Error(err))
		e.count("miss")
		return nil, false
	}
	e.count("hit")
	return vec, true
}

func (e *Embedder) store(ctx context.Context, key string, vec []float32) {
	if len(vec) != e.dim || !vector.IsFinite(vec) {
		return
	}
	blob := vector.Encode(vec)
	var err error
	if e.ttl > 0 {
		err = e.kv.SetWithTTL(ctx, key, blob, e.ttl)
	} else {
		err = e.kv.Set(ctx, key, blob)
	}
	if err != nil {
		e.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (e *Embedder) count(result string) {
	if e.hits != nil {
		e.hits.WithLabelValues(result).Inc()
	}
}
