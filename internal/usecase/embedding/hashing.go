package embedding

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
)

// HashingModel is the model name reported for the feature-hashing encoder.
const HashingModel = "hashing-xxh64-v1"

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// HashingEmbedder is a deterministic encoder with no model files: word
// unigrams and character trigrams are hashed with xxhash into signed buckets
// and the result is L2-normalized. Texts that share words or word fragments
// land close together, which is enough for local runs and tests.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an encoder producing dim-component vectors.
func NewHashingEmbedder(dim int) (*HashingEmbedder, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hashing embedder: dimension must be positive, got %d", dim)
	}
	return &HashingEmbedder{dim: dim}, nil
}

// Embed hashes text into a unit vector. Tokens reported equal the word count.
func (h *HashingEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	words := tokenize(text)
	if len(words) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("hashing embedder: no word characters in %q: %w", text, domain.ErrEncoding)
	}

	v := make([]float32, h.dim)
	for _, w := range words {
		h.add(v, "w:"+w, wordWeight)
		padded := []rune(" " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(v, "c:"+string(padded[i:i+3]), trigramWeight)
		}
	}
	vector.Normalize(v)

	return domain.EmbeddingResult{
		Embedding:    v,
		PromptTokens: len(words),
		TotalTokens:  len(words),
	}, nil
}

// BatchEmbed embeds each text in order.
func (h *HashingEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return domain.BatchFallback(ctx, h, texts)
}

// HealthCheck always succeeds; there is no backend.
func (h *HashingEmbedder) HealthCheck(context.Context) error { return nil }

// add folds one feature into v. The top hash bit picks the sign so that
// bucket collisions cancel out on average.
func (h *HashingEmbedder) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := sum % uint64(h.dim)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
