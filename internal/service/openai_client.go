package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cfg        OpenAIConfig
	logger     *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
	// RetryDelay is multiplied by the attempt number between retries.
	RetryDelay time.Duration
}

type EmbeddingRequest struct {
	Input      any    `json:"input"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type EmbeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type OpenAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}

	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
	}

	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

func (c *OpenAIClient) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.BatchSize
	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))

		batch := texts[i:end]
		vectors, err := c.processBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("failed to process batch %d-%d: %w", i, end, err)
		}

		allVectors = append(allVectors, vectors...)
		c.logger.Debug("Processed embedding batch", "start", i, "end", end, "total_vectors", len(allVectors))
	}

	return allVectors, nil
}

func (c *OpenAIClient) processBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := EmbeddingRequest{
		Input:      texts,
		Model:      c.cfg.Model,
		Dimensions: c.cfg.Dimensions,
	}

	var resp *EmbeddingResponse
	var err error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying OpenAI request", "attempt", attempt+1, "max_attempts", c.cfg.MaxRetries+1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.cfg.RetryDelay):
			}
		}

		resp, err = c.makeRequest(ctx, req)
		if err == nil {
			break
		}

		c.logger.Warn("OpenAI request failed", "attempt", attempt+1, "error", err)
	}

	if err != nil {
		return nil, fmt.Errorf("all retry attempts failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, embedding := range resp.Data {
		if embedding.Index < 0 || embedding.Index >= len(texts) || vectors[embedding.Index] != nil {
			return nil, fmt.Errorf("unexpected embedding index %d", embedding.Index)
		}
		vector := make([]float32, len(embedding.Embedding))
		for j, val := range embedding.Embedding {
			vector[j] = float32(val)
		}
		vectors[embedding.Index] = vector
	}

	return vectors, nil
}

func (c *OpenAIClient) makeRequest(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var openAIErr OpenAIError
		if err := json.Unmarshal(body, &openAIErr); err == nil && openAIErr.Error.Message != "" {
			return nil, fmt.Errorf("OpenAI API error: %s (code: %s)", openAIErr.Error.Message, openAIErr.Error.Code)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var embeddingResp EmbeddingResponse
	if err := json.Unmarshal(body, &embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &embeddingResp, nil
}
