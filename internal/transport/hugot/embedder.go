// Package hugot is the local embedding provider: a sentence-transformer ONNX
// model run in-process by the pure-Go hugot backend.
package hugot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"

	"github.com/kailas-cloud/postmap/internal/domain"
	"github.com/kailas-cloud/postmap/internal/metrics"
)

// DefaultBatchSize bounds the number of texts per pipeline run.
const DefaultBatchSize = 16

// Config holds the local model settings.
type Config struct {
	// ModelDir is either the model directory itself or a directory holding
	// one model subdirectory; the model directory contains tokenizer.json.
	ModelDir  string
	Model     string
	BatchSize int
	Logger    *zap.Logger
}

// Embedder runs a feature-extraction pipeline with mean pooling and L2
// normalization. The session is created lazily on first use and inference
// is serialized; the pure-Go backend is not safe for concurrent runs.
type Embedder struct {
	cfg Config

	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewEmbedder validates the model location; the model is loaded on first use.
func NewEmbedder(cfg Config) (*Embedder, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Model == "" {
		cfg.Model = "local"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if _, err := ResolveModelPath(cfg.ModelDir); err != nil {
		return nil, err
	}
	return &Embedder{cfg: cfg}, nil
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0]}, nil
}

// BatchEmbed implements domain.BatchEmbedder, running the pipeline in
// BatchSize chunks. Local inference reports no token usage.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.initLocked(); err != nil {
		metrics.EmbeddingErrorsTotal.WithLabelValues("hugot", e.cfg.Model, "init").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf("initialize hugot: %w", err)
	}

	start := time.Now()
	out := make([][]float32, 0, len(texts))
	for offset := 0; offset < len(texts); offset += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
		chunk := texts[offset:min(offset+e.cfg.BatchSize, len(texts))]
		result, err := e.pipeline.RunPipeline(chunk)
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues("hugot", e.cfg.Model, "error").Inc()
			return domain.BatchEmbeddingResult{}, fmt.Errorf("run embedding pipeline: %w", err)
		}
		if len(result.Embeddings) != len(chunk) {
			metrics.EmbeddingRequestsTotal.WithLabelValues("hugot", e.cfg.Model, "error").Inc()
			return domain.BatchEmbeddingResult{}, fmt.Errorf("pipeline returned %d vectors for %d texts", len(result.Embeddings), len(chunk))
		}
		out = append(out, result.Embeddings...)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues("hugot", e.cfg.Model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues("hugot", e.cfg.Model).Observe(time.Since(start).Seconds())

	return domain.BatchEmbeddingResult{Embeddings: out}, nil
}

// HealthCheck reports whether the model files are still in place.
func (e *Embedder) HealthCheck(context.Context) error {
	_, err := ResolveModelPath(e.cfg.ModelDir)
	return err
}

// Close releases the session.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session, e.pipeline = nil, nil
	return err
}

func (e *Embedder) initLocked() error {
	if e.pipeline != nil {
		return nil
	}

	modelPath, err := ResolveModelPath(e.cfg.ModelDir)
	if err != nil {
		return err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return fmt.Errorf("create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "postmap-embeddings",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	})
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	e.session = session
	e.pipeline = pipeline
	e.cfg.Logger.Info("Local embedding model loaded", zap.String("path", modelPath))
	return nil
}

// ResolveModelPath returns dir when it contains tokenizer.json, otherwise the
// first subdirectory of dir that does.
func ResolveModelPath(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("hugot model directory is not configured")
	}
	if fileExists(filepath.Join(dir, "tokenizer.json")) {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read model directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if fileExists(filepath.Join(candidate, "tokenizer.json")) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no model with tokenizer.json found in %s", dir)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
