// Package embedding holds the embedder decorators and the post embedding policy.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/domain/vector"
	"github.com/kailas-cloud/postmap/internal/metrics"
)

// DefaultMaxAPIBatchSize caps the number of texts per provider batch call.
const DefaultMaxAPIBatchSize = 256

// BudgetChecker is the local interface for budget enforcement.
type BudgetChecker interface {
	Check(ctx context.Context) error
	Record(tokens int64)
	RemainingDaily() int64
	RemainingMonthly() int64
}

// InstrumentedConfig names the provider chain and pins the expected output width.
type InstrumentedConfig struct {
	Provider string
	Model    string
	// Dimensions is the required vector length; 0 disables the check.
	Dimensions   int
	MaxBatchSize int
}

// InstrumentedEmbedder is the outermost embedder decorator. It rejects empty
// input, enforces the token budget, checks the output width and records
// usage. Every failure it returns wraps domain.ErrEncoding.
type InstrumentedEmbedder struct {
	inner  domain.Embedder
	cfg    InstrumentedConfig
	budget BudgetChecker
	logger *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder with validation, budget and observability.
func NewInstrumentedEmbedder(
	inner domain.Embedder, cfg InstrumentedConfig,
	budget BudgetChecker, logger *zap.Logger,
) *InstrumentedEmbedder {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxAPIBatchSize
	}
	return &InstrumentedEmbedder{
		inner:  inner,
		cfg:    cfg,
		budget: budget,
		logger: logger,
	}
}

// Embed validates text, delegates to the inner embedder and checks the result.
func (p *InstrumentedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: empty text: %w", domain.ErrEncoding)
	}
	if err := p.checkBudget(ctx, 1); err != nil {
		return domain.EmbeddingResult{}, err
	}

	start := time.Now()
	result, err := p.inner.Embed(ctx, text)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.cfg.Provider),
			zap.String("model", p.cfg.Model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, encodingErr("embed", err)
	}
	if err := p.checkVector(result.Embedding); err != nil {
		return domain.EmbeddingResult{}, err
	}

	p.recordUsage(ctx, result.TotalTokens)

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.cfg.Provider),
		zap.String("model", p.cfg.Model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// BatchEmbed validates every text, splits into provider-sized chunks and
// re-checks the budget between chunks.
func (p *InstrumentedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed [%d]: empty text: %w", i, domain.ErrEncoding)
		}
	}

	start := time.Now()
	var out domain.BatchEmbeddingResult

	for offset := 0; offset < len(texts); offset += p.cfg.MaxBatchSize {
		if err := p.checkBudget(ctx, len(texts)); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}

		chunk := texts[offset:min(offset+p.cfg.MaxBatchSize, len(texts))]
		metrics.EmbeddingBatchSize.WithLabelValues(p.cfg.Provider).Observe(float64(len(chunk)))
		res, err := p.embedInner(ctx, chunk)
		if err != nil {
			p.logger.Error("Batch embedding request failed",
				zap.String("provider", p.cfg.Provider),
				zap.String("model", p.cfg.Model),
				zap.Int("chunk_offset", offset),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(err),
			)
			return domain.BatchEmbeddingResult{}, encodingErr("batch embed", err)
		}
		for _, v := range res.Embeddings {
			if err := p.checkVector(v); err != nil {
				return domain.BatchEmbeddingResult{}, err
			}
		}

		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
	}

	p.recordUsage(ctx, out.TotalTokens)

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.cfg.Provider),
		zap.String("model", p.cfg.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("batch_size", len(texts)),
		zap.Int("total_tokens", out.TotalTokens),
	)

	return out, nil
}

// HealthCheck delegates to the inner embedder when it can check itself.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (p *InstrumentedEmbedder) embedInner(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	return domain.EmbedBatch(ctx, p.inner, texts)
}

func (p *InstrumentedEmbedder) checkBudget(ctx context.Context, batchSize int) error {
	if p.budget == nil {
		return nil
	}
	if err := p.budget.Check(ctx); err != nil {
		p.logger.Error("Budget exceeded",
			zap.String("provider", p.cfg.Provider),
			zap.String("model", p.cfg.Model),
			zap.Int("batch_size", batchSize),
			zap.Error(err),
		)
		return fmt.Errorf("budget check: %w: %w", domain.ErrEncoding, err)
	}
	return nil
}

func (p *InstrumentedEmbedder) checkVector(v []float32) error {
	if p.cfg.Dimensions > 0 && len(v) != p.cfg.Dimensions {
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.cfg.Provider, p.cfg.Model, "dimension_mismatch").Inc()
		return fmt.Errorf("embed: got %d components, want %d: %w: %w",
			len(v), p.cfg.Dimensions, domain.ErrEncoding, domain.ErrVectorDimMismatch)
	}
	if !vector.IsFinite(v) {
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.cfg.Provider, p.cfg.Model, "non_finite").Inc()
		return fmt.Errorf("embed: non-finite component: %w", domain.ErrEncoding)
	}
	return nil
}

func (p *InstrumentedEmbedder) recordUsage(ctx context.Context, tokens int) {
	domain.UsageFromContext(ctx).AddTokens(tokens)

	if p.budget != nil && tokens > 0 {
		p.budget.Record(int64(tokens))
		remaining := metrics.EmbeddingBudgetTokensRemaining
		remaining.WithLabelValues(p.cfg.Provider, "daily").Set(float64(p.budget.RemainingDaily()))
		remaining.WithLabelValues(p.cfg.Provider, "monthly").Set(float64(p.budget.RemainingMonthly()))
	}
}

func encodingErr(op string, err error) error {
	if errors.Is(err, domain.ErrEncoding) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrEncoding, err)
}
