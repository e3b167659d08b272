package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/quiby-ai/review-search/config"
)

type Embedder interface {
	EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error)
}

// NewEmbedder returns an OpenAI-compatible embedder when an API key is
// configured and the stub otherwise.
func NewEmbedder(cfg *config.Config, logger *slog.Logger) Embedder {
	if cfg.OpenAI.APIKey == "" {
		logger.Info("No OpenAI API key provided, using stub embedder")
		return NewStubEmbedder(cfg.Vectorizer.MaxVectorLength, logger)
	}

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		Model:      cfg.OpenAI.Model,
		Dimensions: cfg.OpenAI.Dimensions,
		BatchSize:  cfg.Vectorizer.BatchSize,
		MaxRetries: cfg.OpenAI.MaxRetries,
		Timeout:    cfg.OpenAI.Timeout,
	}, logger)
	if err != nil {
		logger.Warn("Failed to initialize OpenAI client, falling back to stub", "error", err)
		return NewStubEmbedder(cfg.Vectorizer.MaxVectorLength, logger)
	}

	return NewOpenAIEmbedder(client, logger)
}

type OpenAIEmbedder struct {
	client *OpenAIClient
	logger *slog.Logger
}

func NewOpenAIEmbedder(client *OpenAIClient, logger *slog.Logger) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: client,
		logger: logger,
	}
}

// EmbedBatch returns one vector per input, in input order. Callers drop
// inputs that preprocessText rejects before calling it.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	processedInputs := make([]string, len(inputs))
	for i, input := range inputs {
		processed := preprocessText(input)
		if processed == "" {
			return nil, fmt.Errorf("input %d is empty after preprocessing", i)
		}
		processedInputs[i] = processed
	}

	e.logger.Debug("Generating embeddings", "count", len(processedInputs))

	vectors, err := e.client.CreateEmbeddings(ctx, processedInputs)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(vectors))
	}

	e.logger.Debug("Generated embeddings successfully", "count", len(vectors))
	return vectors, nil
}

// StubEmbedder derives a unit vector from a hash of the text. Equal texts get
// equal vectors, which keeps search reproducible without a model.
type StubEmbedder struct {
	dim    int
	logger *slog.Logger
}

func NewStubEmbedder(dim int, logger *slog.Logger) *StubEmbedder {
	return &StubEmbedder{
		dim:    dim,
		logger: logger,
	}
}

func (e *StubEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	e.logger.Debug("Generating stub embeddings", "count", len(inputs), "dim", e.dim)

	vectors := make([][]float32, len(inputs))
	for i, input := range inputs {
		h := fnv.New64a()
		h.Write([]byte(preprocessText(input)))
		rng := rand.New(rand.NewPCG(h.Sum64(), 0))

		vector := make([]float32, e.dim)
		var norm float64
		for j := range vector {
			v := rng.NormFloat64()
			vector[j] = float32(v)
			norm += v * v
		}
		norm = math.Sqrt(norm)
		for j := range vector {
			vector[j] = float32(float64(vector[j]) / norm)
		}
		vectors[i] = vector
	}

	e.logger.Debug("Generated stub embeddings", "count", len(vectors))
	return vectors, nil
}

func preprocessText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Join(strings.Fields(text), " ")

	if len(text) < 3 {
		return ""
	}

	return text
}
