package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/quiby-ai/common/pkg/events"
	"github.com/quiby-ai/review-search/config"
	"github.com/quiby-ai/review-search/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Dataset: config.DatasetConfig{
			Dir:       dir,
			Languages: []string{"en", "fr"},
		},
		Sampling:   config.SamplingConfig{Seed: 42},
		Ingest:     config.IngestConfig{BatchSize: 4, UseSamples: true},
		Vectorizer: config.VectorizerConfig{Model: "stub", MaxVectorLength: 8},
		Server:     config.ServerConfig{MaxLimit: 8},
	}
}

// memoryRepository ranks points by cosine similarity like the pgvector query.
type memoryRepository struct {
	mu        sync.Mutex
	shards    map[string][]*storage.Point
	failShard map[string]error
	failAfter int
	upserts   int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		shards:    make(map[string][]*storage.Point),
		failShard: make(map[string]error),
		failAfter: -1,
	}
}

func (r *memoryRepository) EnsureShards(ctx context.Context, languages []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, lang := range languages {
		if err := storage.ValidateShardKey(lang); err != nil {
			return err
		}
		if _, ok := r.shards[lang]; !ok {
			r.shards[lang] = nil
		}
	}
	return nil
}

func (r *memoryRepository) UpsertPoints(ctx context.Context, language string, points []*storage.Point) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shards[language]; !ok {
		return 0, storage.ErrInvalidShard
	}
	r.upserts++
	if r.failAfter >= 0 && r.upserts > r.failAfter {
		return 0, errors.New("connection reset")
	}
	r.shards[language] = append(r.shards[language], points...)
	return len(points), nil
}

func (r *memoryRepository) Search(ctx context.Context, q storage.SearchQuery) ([]storage.SearchHit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failShard[q.Shard]; err != nil {
		return nil, err
	}
	points, ok := r.shards[q.Shard]
	if !ok {
		return nil, errors.New("relation does not exist")
	}

	var hits []storage.SearchHit
	for _, p := range points {
		if len(q.Stars) > 0 && !slices.Contains(q.Stars, int(p.Stars)) {
			continue
		}
		hits = append(hits, storage.SearchHit{
			ID:       p.ID.String(),
			Language: p.Language,
			Stars:    int(p.Stars),
			Text:     p.Text,
			Score:    cosine(q.Vector, p.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (r *memoryRepository) GetTableStats(ctx context.Context) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	shards := make(map[string]int64)
	for lang, points := range r.shards {
		shards[lang] = int64(len(points))
		total += int64(len(points))
	}
	return map[string]any{"total_points": total, "shards": shards}, nil
}

func (r *memoryRepository) Close() error { return nil }

func (r *memoryRepository) count(lang string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shards[lang])
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

type failingEmbedder struct{ err error }

func (e failingEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	return nil, e.err
}

// blockingEmbedder waits for ctx to end.
type blockingEmbedder struct{}

func (blockingEmbedder) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) PublishCompleted(ctx context.Context, req events.VectorizeRequest, sagaID string) error {
	p.keys = append(p.keys, sagaID)
	return nil
}
