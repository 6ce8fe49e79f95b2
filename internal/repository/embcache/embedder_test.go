package embcache

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

func TestEmbed_MissThenHit(t *testing.T) {
	inner := &fakeEmbedder{tokensPerText: 7}
	ce, kv := newTestEmbedder(t, inner)
	ctx := context.Background()

	first, err := ce.Embed(ctx, "hiking")
	if err != nil {
		t.Fatalf("first Embed: %v", err)
	}
	if first.TotalTokens != 7 {
		t.Errorf("miss should report inner tokens, got %d", first.TotalTokens)
	}

	second, err := ce.Embed(ctx, "hiking")
	if err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls)
	}
	if second.TotalTokens != 0 {
		t.Errorf("hit should report zero tokens, got %d", second.TotalTokens)
	}
	if !slices.Equal(first.Embedding, second.Embedding) {
		t.Errorf("hit %v differs from miss %v", second.Embedding, first.Embedding)
	}
	if !hasPrefix(kv.keys(), "postmap:emb:mpnet:3:") {
		t.Errorf("unexpected keys %v", kv.keys())
	}
}

func TestEmbed_InnerErrorNotCached(t *testing.T) {
	inner := &fakeEmbedder{err: errors.New("provider down")}
	ce, kv := newTestEmbedder(t, inner)

	if _, err := ce.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error from inner embedder")
	}
	if kv.writes != 0 {
		t.Errorf("failed embed must not be cached, got %d writes", kv.writes)
	}
}

func TestEmbed_StoreFailuresAreSoft(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memKV)
	}{
		{"read error", func(m *memKV) { m.readErr = errors.New("conn reset") }},
		{"write error", func(m *memKV) { m.writeErr = errors.New("OOM") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inner := &fakeEmbedder{}
			ce, kv := newTestEmbedder(t, inner)
			tc.setup(kv)

			res, err := ce.Embed(context.Background(), "abc")
			if err != nil {
				t.Fatalf("cache failure must not fail Embed: %v", err)
			}
			if res.Embedding[0] != 3 {
				t.Errorf("unexpected embedding %v", res.Embedding)
			}
		})
	}
}

func TestEmbed_WrongWidthEntryIsReplaced(t *testing.T) {
	inner := &fakeEmbedder{tokensPerText: 1}
	ce, kv := newTestEmbedder(t, inner)
	kv.put(ce, "ab", vector.Encode([]float32{9, 9})) // two floats, want three

	res, err := ce.Embed(context.Background(), "ab")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if inner.calls != 1 || res.TotalTokens != 1 {
		t.Errorf("corrupt entry should be a miss: calls=%d tokens=%d", inner.calls, res.TotalTokens)
	}
	got, _ := kv.Get(context.Background(), ce.key("ab"))
	if len(got) != testDim*vector.FloatBytes {
		t.Errorf("entry not rewritten, len=%d", len(got))
	}
}

func TestEmbed_DoesNotCacheUnusableVectors(t *testing.T) {
	inner := &fixedEmbedder{vec: []float32{1, 2}} // wrong width
	ce, kv := newTestEmbedder(t, inner)

	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if kv.writes != 0 {
		t.Errorf("wrong-width vector cached")
	}
}

func TestEmbed_TTL(t *testing.T) {
	ce, kv := newTestEmbedder(t, &fakeEmbedder{}, WithTTL(time.Hour))

	if _, err := ce.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if ttl := kv.ttls[ce.key("hello")]; ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}
}

func TestBatchEmbed_MixedAndDuplicates(t *testing.T) {
	inner := &fakeEmbedder{tokensPerText: 2}
	ce, kv := newTestEmbedder(t, inner)
	kv.put(ce, "cached", vector.Encode([]float32{42, 0, 0}))

	texts := []string{"a", "cached", "bb", "a", "cached"}
	res, err := ce.BatchEmbed(context.Background(), texts)
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if len(res.Embeddings) != len(texts) {
		t.Fatalf("got %d embeddings, want %d", len(res.Embeddings), len(texts))
	}
	if inner.batchCalls != 1 || !slices.Equal(inner.batchInputs[0], []string{"a", "bb"}) {
		t.Errorf("inner batch inputs = %v", inner.batchInputs)
	}
	if res.TotalTokens != 4 {
		t.Errorf("TotalTokens = %d, want 4 (two distinct misses)", res.TotalTokens)
	}
	for _, i := range []int{1, 4} {
		if res.Embeddings[i][0] != 42 {
			t.Errorf("position %d should come from cache, got %v", i, res.Embeddings[i])
		}
	}
	if res.Embeddings[0][0] != 1 || res.Embeddings[3][0] != 1 || res.Embeddings[2][0] != 2 {
		t.Errorf("misses resolved wrong: %v", res.Embeddings)
	}
}

func TestBatchEmbed_AllHitsSkipsInner(t *testing.T) {
	inner := &fakeEmbedder{}
	ce, kv := newTestEmbedder(t, inner)
	kv.put(ce, "a", vector.Encode([]float32{1, 1, 1}))
	kv.put(ce, "b", vector.Encode([]float32{2, 2, 2}))

	res, err := ce.BatchEmbed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if inner.batchCalls != 0 || inner.calls != 0 {
		t.Errorf("inner should not be called on all hits")
	}
	if res.TotalTokens != 0 || res.Embeddings[1][0] != 2 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestBatchEmbed_InnerError(t *testing.T) {
	ce, _ := newTestEmbedder(t, &fakeEmbedder{err: domain.ErrRateLimited})

	_, err := ce.BatchEmbed(context.Background(), []string{"a"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestBatchEmbed_Empty(t *testing.T) {
	inner := &fakeEmbedder{}
	ce, _ := newTestEmbedder(t, inner)

	res, err := ce.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if res.Embeddings != nil || inner.batchCalls != 0 {
		t.Errorf("empty input should be a no-op")
	}
}

func TestKey_ScopedByModelAndDim(t *testing.T) {
	kv := newMemKV()
	a := New(&fakeEmbedder{}, kv, "model-a", 768, nil)
	b := New(&fakeEmbedder{}, kv, "model-b", 768, nil)
	c := New(&fakeEmbedder{}, kv, "model-a", 384, nil)

	if a.key("t") == b.key("t") || a.key("t") == c.key("t") {
		t.Fatal("keys must differ across model and dimension")
	}
	if a.key("t") != a.key("t") {
		t.Fatal("key must be stable")
	}
}

func TestCounter(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	ce, _ := newTestEmbedder(t, &fakeEmbedder{}, WithCounter(counter))
	ctx := context.Background()

	_, _ = ce.Embed(ctx, "x")
	_, _ = ce.Embed(ctx, "x")
	_, _ = ce.Embed(ctx, "x")

	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss = %v, want 1", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 2 {
		t.Errorf("hit = %v, want 2", got)
	}
}

func TestHealthCheck(t *testing.T) {
	plain, _ := newTestEmbedder(t, &fakeEmbedder{})
	if err := plain.HealthCheck(context.Background()); err != nil {
		t.Errorf("embedder without a check should be healthy, got %v", err)
	}

	down := errors.New("down")
	checked := New(&healthyEmbedder{healthErr: down}, newMemKV(), "m", testDim, zap.NewNop())
	if err := checked.HealthCheck(context.Background()); !errors.Is(err, down) {
		t.Errorf("expected inner health error, got %v", err)
	}
}

type fixedEmbedder struct{ vec []float32 }

func (f *fixedEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: f.vec}, nil
}
