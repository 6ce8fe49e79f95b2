package domain

import (
	"context"
	"sync/atomic"
)

type embeddingUsageKey struct{}

// EmbeddingUsage accumulates the embedding tokens spent serving one request.
// A post embeds its title and description concurrently when the provider has
// no batch call, so the counters are atomic.
type EmbeddingUsage struct {
	tokens atomic.Int64
	calls  atomic.Int64
}

// NewContextWithUsage returns a context carrying a fresh collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext returns the collector, nil outside a request.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// AddTokens records one provider call. Safe on a nil receiver.
func (u *EmbeddingUsage) AddTokens(n int) {
	if u == nil {
		return
	}
	u.tokens.Add(int64(n))
	u.calls.Add(1)
}

// Tokens is the total recorded so far.
func (u *EmbeddingUsage) Tokens() int64 {
	if u == nil {
		return 0
	}
	return u.tokens.Load()
}

// Calls is the number of provider calls recorded so far.
func (u *EmbeddingUsage) Calls() int64 {
	if u == nil {
		return 0
	}
	return u.calls.Load()
}
