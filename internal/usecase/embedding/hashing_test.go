package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

func TestHashingEmbedder_Deterministic(t *testing.T) {
	h, err := NewHashingEmbedder(64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, err := h.Embed(context.Background(), "Climbed Mont Blanc at sunrise")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := h.Embed(context.Background(), "Climbed Mont Blanc at sunrise")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range a.Embedding {
		if math.Float32bits(a.Embedding[i]) != math.Float32bits(b.Embedding[i]) {
			t.Fatalf("component %d differs: %v vs %v", i, a.Embedding[i], b.Embedding[i])
		}
	}
	if a.TotalTokens != 5 {
		t.Errorf("expected 5 tokens, got %d", a.TotalTokens)
	}
}

func TestHashingEmbedder_UnitNorm(t *testing.T) {
	h, _ := NewHashingEmbedder(768)
	res, err := h.Embed(context.Background(), "learning to bake sourdough bread")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 768 {
		t.Fatalf("expected 768 components, got %d", len(res.Embedding))
	}
	var sum float64
	for _, f := range res.Embedding {
		sum += float64(f) * float64(f)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("expected unit norm, got %v", math.Sqrt(sum))
	}
}

func TestHashingEmbedder_SimilarTextsCloser(t *testing.T) {
	h, _ := NewHashingEmbedder(768)
	ctx := context.Background()

	base, _ := h.Embed(ctx, "weekend hiking trip in the alps")
	near, _ := h.Embed(ctx, "weekend hiking trip in the Alps!")
	far, _ := h.Embed(ctx, "reading a novel about medieval chess")

	simNear := vector.Cosine(base.Embedding, near.Embedding)
	simFar := vector.Cosine(base.Embedding, far.Embedding)
	if simNear < 0.99 {
		t.Errorf("expected case/punctuation variants to match, got %v", simNear)
	}
	if simFar >= simNear {
		t.Errorf("expected unrelated text to score lower: near=%v far=%v", simNear, simFar)
	}
}

func TestHashingEmbedder_NoWords(t *testing.T) {
	h, _ := NewHashingEmbedder(16)
	if _, err := h.Embed(context.Background(), "?!  ..."); !errors.Is(err, domain.ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}

func TestHashingEmbedder_InvalidDimension(t *testing.T) {
	if _, err := NewHashingEmbedder(0); err == nil {
		t.Fatal("expected error for zero dimension")
	}
}

func TestHashingEmbedder_BatchMatchesSingle(t *testing.T) {
	h, _ := NewHashingEmbedder(32)
	ctx := context.Background()

	batch, err := h.BatchEmbed(ctx, []string{"one", "two"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	single, _ := h.Embed(ctx, "two")
	if vector.Cosine(batch.Embeddings[1], single.Embedding) < 0.9999 {
		t.Errorf("expected batch item to equal single embedding")
	}
}
