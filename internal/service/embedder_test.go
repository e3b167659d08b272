package service

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessText(t *testing.T) {
	assert.Equal(t, "great product", preprocessText("  great \n\t product "))
	assert.Equal(t, "", preprocessText("  "))
	assert.Equal(t, "", preprocessText("ok"))
	assert.Equal(t, "良い", preprocessText(" 良い "))
}

func TestStubEmbedderDeterministic(t *testing.T) {
	e := NewStubEmbedder(16, discardLogger())

	a, err := e.EmbedBatch(context.Background(), []string{"great product", "terrible", "great  product"})
	require.NoError(t, err)
	require.Len(t, a, 3)

	b, err := e.EmbedBatch(context.Background(), []string{"great product"})
	require.NoError(t, err)

	assert.Equal(t, a[0], b[0])
	assert.Equal(t, a[0], a[2], "whitespace differences embed identically")
	assert.NotEqual(t, a[0], a[1])

	for _, v := range a {
		require.Len(t, v, 16)
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
}

type embeddingsServer struct {
	failures atomic.Int32
	calls    atomic.Int32
	mu       sync.Mutex
	requests []EmbeddingRequest
}

func (s *embeddingsServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if s.failures.Load() > 0 {
			s.failures.Add(-1)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"rate limited","code":"rate_limit_exceeded"}}`))
			return
		}

		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, EmbeddingRequest{Input: req.Input, Model: req.Model, Dimensions: req.Dimensions})
		s.mu.Unlock()

		// answer in reverse order; clients must place vectors by index
		type item struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Embedding: []float64{float64(len(req.Input[i])), float64(i)}, Index: i})
		}
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": req.Model})
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, retries int) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		Model:      "text-embedding-3-small",
		Dimensions: 2,
		BatchSize:  2,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	}, discardLogger())
	require.NoError(t, err)
	return client
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	s := &embeddingsServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	e := NewOpenAIEmbedder(newTestClient(t, srv, 0), discardLogger())
	vectors, err := e.EmbedBatch(context.Background(), []string{"abc", "abcd", "  abcde  "})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{3, 0}, {4, 1}, {5, 0}}, vectors)
	assert.Equal(t, int32(2), s.calls.Load(), "three inputs in batches of two")
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.requests, 2)
	assert.Equal(t, 2, s.requests[0].Dimensions)
	assert.Equal(t, "text-embedding-3-small", s.requests[0].Model)
	assert.Equal(t, []string{"abcde"}, s.requests[1].Input)
}

func TestOpenAIEmbedderRejectsShortInput(t *testing.T) {
	s := &embeddingsServer{}
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	e := NewOpenAIEmbedder(newTestClient(t, srv, 0), discardLogger())
	_, err := e.EmbedBatch(context.Background(), []string{"fine text", "ok"})
	assert.Error(t, err)
	assert.Zero(t, s.calls.Load())
}

func TestOpenAIClientRetries(t *testing.T) {
	s := &embeddingsServer{}
	s.failures.Store(2)
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	vectors, err := newTestClient(t, srv, 2).CreateEmbeddings(context.Background(), []string{"abc"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestOpenAIClientGivesUp(t *testing.T) {
	s := &embeddingsServer{}
	s.failures.Store(5)
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	_, err := newTestClient(t, srv, 1).CreateEmbeddings(context.Background(), []string{"abc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestOpenAIClientStopsRetryingOnCancel(t *testing.T) {
	s := &embeddingsServer{}
	s.failures.Store(5)
	srv := httptest.NewServer(s.handler(t))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		MaxRetries: 3,
		RetryDelay: time.Hour,
	}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.CreateEmbeddings(ctx, []string{"abc"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{}, discardLogger())
	assert.Error(t, err)
}

func TestNewEmbedderFallsBackToStub(t *testing.T) {
	cfg := testConfig(t.TempDir())
	assert.IsType(t, &StubEmbedder{}, NewEmbedder(cfg, discardLogger()))

	cfg.OpenAI.APIKey = "sk-test"
	assert.IsType(t, &OpenAIEmbedder{}, NewEmbedder(cfg, discardLogger()))
}
