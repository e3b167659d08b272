package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quiby-ai/review-search/config"
	"github.com/quiby-ai/review-search/internal/storage"
)

var ErrInvalidRequest = errors.New("invalid request")

type SearchRequest struct {
	Query     string
	Languages []string
	Stars     []int
	Limit     int
}

type SearchResult struct {
	Query string              `json:"query"`
	Limit int                 `json:"limit"`
	Hits  []storage.SearchHit `json:"hits"`
	// Errors maps a shard to the reason it was left out of Hits.
	Errors map[string]string `json:"errors,omitempty"`
}

type SearchService struct {
	repo     storage.Repository
	embedder Embedder
	cfg      *config.Config
	logger   *slog.Logger
}

func NewSearchService(repo storage.Repository, embedder Embedder, cfg *config.Config, logger *slog.Logger) *SearchService {
	return &SearchService{
		repo:     repo,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With("component", "search"),
	}
}

func (s *SearchService) maxLimit() int {
	if s.cfg.Server.MaxLimit > 0 {
		return s.cfg.Server.MaxLimit
	}
	return 8
}

// clampLimit maps an unset limit to the maximum and caps the rest.
func (s *SearchService) clampLimit(limit int) int {
	if limit <= 0 || limit > s.maxLimit() {
		return s.maxLimit()
	}
	return limit
}

// Search embeds the query once, asks every selected shard for its best
// limit hits and keeps the global top limit by score.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	query := strings.TrimSpace(req.Query)
	limit := s.clampLimit(req.Limit)
	result := SearchResult{Query: query, Limit: limit, Hits: []storage.SearchHit{}}

	if query == "" {
		return result, nil
	}

	languages := req.Languages
	if len(languages) == 0 {
		languages = s.cfg.Dataset.Languages
	}
	for _, lang := range languages {
		if err := storage.ValidateShardKey(lang); err != nil {
			return result, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}
	for _, stars := range req.Stars {
		if stars < 1 || stars > 5 {
			return result, fmt.Errorf("%w: stars must be between 1 and 5, got %d", ErrInvalidRequest, stars)
		}
	}

	vectors, err := s.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return result, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return result, fmt.Errorf("expected 1 query embedding, got %d", len(vectors))
	}

	var mu sync.Mutex
	var collected []storage.SearchHit

	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range languages {
		g.Go(func() error {
			hits, err := s.repo.Search(gctx, storage.SearchQuery{
				Shard:  lang,
				Vector: vectors[0],
				Stars:  req.Stars,
				Limit:  limit,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error("Shard query failed", "shard", lang, "error", err)
				if result.Errors == nil {
					result.Errors = make(map[string]string)
				}
				result.Errors[lang] = err.Error()
				return nil
			}
			collected = append(collected, hits...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	sort.Slice(collected, func(i, j int) bool {
		a, b := collected[i], collected[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		return a.ID < b.ID
	})

	if len(collected) > limit {
		collected = collected[:limit]
	}
	for i := range collected {
		collected[i].Score = roundScore(collected[i].Score)
	}
	result.Hits = append(result.Hits, collected...)

	s.logger.Debug("Search completed",
		"query", query,
		"languages", languages,
		"hits", len(result.Hits),
		"failed_shards", len(result.Errors))

	return result, nil
}

func roundScore(score float64) float64 {
	return math.Round(score*1000) / 1000
}

// AddReview embeds a single review and stores it in its language shard.
func (s *SearchService) AddReview(ctx context.Context, text, lang string, stars int) (*storage.Point, error) {
	if preprocessText(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidRequest)
	}
	if err := storage.ValidateShardKey(lang); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if stars < 1 || stars > 5 {
		return nil, fmt.Errorf("%w: stars must be between 1 and 5, got %d", ErrInvalidRequest, stars)
	}

	vectors, err := s.embedder.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed review: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 review embedding, got %d", len(vectors))
	}

	if err := s.repo.EnsureShards(ctx, []string{lang}); err != nil {
		return nil, fmt.Errorf("failed to ensure shard: %w", err)
	}

	point := storage.NewPoint(lang, stars, strings.TrimSpace(text), vectors[0])
	point.Model = s.cfg.Vectorizer.Model

	if _, err := s.repo.UpsertPoints(ctx, lang, []*storage.Point{point}); err != nil {
		return nil, fmt.Errorf("failed to store review: %w", err)
	}

	s.logger.Info("Review added", "id", point.ID, "language", lang, "stars", stars)
	return point, nil
}

// Stats reports point counts per shard.
func (s *SearchService) Stats(ctx context.Context) (map[string]any, error) {
	stats, err := s.repo.GetTableStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get table stats: %w", err)
	}
	return stats, nil
}
