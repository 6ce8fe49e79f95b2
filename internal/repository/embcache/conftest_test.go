package embcache

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/db"
	"github.com/kailas-cloud/postmap/internal/domain"
)

const testDim = 3

// fakeEmbedder returns a vector derived from the text length so callers can
// tell results apart.
type fakeEmbedder struct {
	tokensPerText int
	err           error
	calls         int
	batchCalls    int
	batchInputs   [][]string
}

func (f *fakeEmbedder) vec(text string) []float32 {
	return []float32{float32(len(text)), 1, 0}
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	f.calls++
	if f.err != nil {
		return domain.EmbeddingResult{}, f.err
	}
	return domain.EmbeddingResult{
		Embedding:    f.vec(text),
		PromptTokens: f.tokensPerText,
		TotalTokens:  f.tokensPerText,
	}, nil
}

func (f *fakeEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	f.batchCalls++
	f.batchInputs = append(f.batchInputs, append([]string(nil), texts...))
	if f.err != nil {
		return domain.BatchEmbeddingResult{}, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vec(t)
	}
	n := f.tokensPerText * len(texts)
	return domain.BatchEmbeddingResult{Embeddings: out, PromptTokens: n, TotalTokens: n}, nil
}

type healthyEmbedder struct {
	fakeEmbedder
	healthErr error
}

func (h *healthyEmbedder) HealthCheck(context.Context) error { return h.healthErr }

// memKV is an in-memory kv. readErr fails every Get; writeErr every write.
type memKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	ttls     map[string]time.Duration
	readErr  error
	writeErr error
	writes   int
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memKV) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, 0)
}

func (m *memKV) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

// put stores raw bytes under the key the cache would use for text.
func (m *memKV) put(e *Embedder, text string, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[e.key(text)] = blob
}

func (m *memKV) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	return out
}

func newTestEmbedder(t *testing.T, inner domain.Embedder, opts ...Option) (*Embedder, *memKV) {
	t.Helper()
	kv := newMemKV()
	return New(inner, kv, "mpnet", testDim, zap.NewNop(), opts...), kv
}

func hasPrefix(keys []string, prefix string) bool {
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
	}
	return len(keys) > 0
}
