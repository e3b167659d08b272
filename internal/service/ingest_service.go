package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quiby-ai/common/pkg/events"
	"github.com/quiby-ai/review-search/config"
	"github.com/quiby-ai/review-search/internal/corpus"
	"github.com/quiby-ai/review-search/internal/storage"
)

type IngestRequest struct {
	Languages  []string
	UseSamples bool
}

type IngestResult struct {
	Processed   int            `json:"processed"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	PerLanguage map[string]int `json:"per_language"`
}

// Publisher announces finished pipeline runs.
type Publisher interface {
	PublishCompleted(ctx context.Context, req events.VectorizeRequest, sagaID string) error
}

type IngestService struct {
	repo      storage.Repository
	embedder  Embedder
	cfg       *config.Config
	logger    *slog.Logger
	publisher Publisher
}

// NewIngestService builds the service. publisher may be nil when no
// completion events are needed.
func NewIngestService(repo storage.Repository, embedder Embedder, cfg *config.Config, logger *slog.Logger, publisher Publisher) *IngestService {
	return &IngestService{
		repo:      repo,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger.With("component", "ingest"),
		publisher: publisher,
	}
}

// DatasetPath returns the file ingested for lang: the reduced sample when
// useSamples is set and the sample exists, the full download otherwise.
func DatasetPath(dir, lang string, useSamples bool) string {
	if useSamples {
		sample := filepath.Join(dir, lang+"_sample.parquet")
		if _, err := os.Stat(sample); err == nil {
			return sample
		}
	}
	return filepath.Join(dir, lang+".parquet")
}

func (s *IngestService) RunOnce(ctx context.Context, req IngestRequest) (IngestResult, error) {
	startTime := time.Now()

	languages := req.Languages
	if len(languages) == 0 {
		languages = s.cfg.Dataset.Languages
	}

	s.logger.Info("Starting ingest run",
		"languages", languages,
		"use_samples", req.UseSamples,
		"batch_size", s.batchSize(),
		"model", s.cfg.Vectorizer.Model,
		"dim", s.cfg.Vectorizer.MaxVectorLength)

	if err := s.repo.EnsureShards(ctx, languages); err != nil {
		return IngestResult{}, fmt.Errorf("failed to ensure shards: %w", err)
	}

	result := IngestResult{PerLanguage: make(map[string]int, len(languages))}

	for _, lang := range languages {
		path := DatasetPath(s.cfg.Dataset.Dir, lang, req.UseSamples)

		langResult, err := s.ingestFile(ctx, lang, path)
		result.Processed += langResult.Processed
		result.Skipped += langResult.Skipped
		result.Failed += langResult.Failed
		result.PerLanguage[lang] = langResult.Processed

		if ctx.Err() != nil {
			s.logger.Info("Context cancelled, stopping ingest", "language", lang, "processed", result.Processed)
			return result, ctx.Err()
		}
		if err != nil {
			s.logger.Error("Failed to ingest language", "language", lang, "path", path, "error", err)
			continue
		}

		s.logger.Info("Language ingested",
			"language", lang,
			"path", path,
			"processed", langResult.Processed,
			"skipped", langResult.Skipped,
			"failed", langResult.Failed)
	}

	s.logger.Info("Ingest run completed",
		"duration", time.Since(startTime),
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result, nil
}

func (s *IngestService) batchSize() int {
	if s.cfg.Ingest.BatchSize > 0 {
		return s.cfg.Ingest.BatchSize
	}
	return 1024
}

func (s *IngestService) ingestFile(ctx context.Context, lang, path string) (IngestResult, error) {
	result := IngestResult{}

	reader, err := corpus.OpenParquet(path)
	if err != nil {
		return result, err
	}
	defer reader.Close()

	if reader.RatingField() == "" {
		return result, corpus.ErrMissingRatingField
	}

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		rows, err := reader.ReadBatch(s.batchSize())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("failed to read batch: %w", err)
		}

		batchResult := s.processBatch(ctx, lang, reader.RatingField(), rows)
		result.Processed += batchResult.Processed
		result.Skipped += batchResult.Skipped
		result.Failed += batchResult.Failed
	}

	return result, nil
}

func (s *IngestService) processBatch(ctx context.Context, lang string, field corpus.RatingField, rows []corpus.Row) IngestResult {
	result := IngestResult{}
	batchStart := time.Now()

	texts := make([]string, 0, len(rows))
	kept := make([]corpus.Row, 0, len(rows))
	for _, row := range rows {
		if preprocessText(row.Text) == "" {
			result.Skipped++
			continue
		}
		texts = append(texts, row.Text)
		kept = append(kept, row)
	}

	if len(texts) == 0 {
		s.logger.Debug("No valid texts in batch", "language", lang)
		return result
	}

	vectors, err := s.embed(ctx, texts)
	if err != nil {
		s.logger.Error("Failed to embed batch", "language", lang, "count", len(texts), "error", err)
		result.Failed += len(texts)
		return result
	}

	points := make([]*storage.Point, len(kept))
	for i, row := range kept {
		points[i] = s.createPoint(lang, corpus.NormalizeRating(field, row.Rating), row.Text, vectors[i])
	}

	stored, err := s.repo.UpsertPoints(ctx, lang, points)
	result.Processed += stored
	if err != nil {
		s.logger.Error("Failed to store points", "language", lang, "stored", stored, "error", err)
		result.Failed += len(points) - stored
	}

	s.logger.Debug("Batch processed",
		"language", lang,
		"count", len(rows),
		"duration", time.Since(batchStart),
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed)

	return result
}

// embed bounds a single embedding call by vectorizer.timeout_seconds.
func (s *IngestService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if timeout := s.cfg.Vectorizer.TimeoutPerBatch; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.embedder.EmbedBatch(ctx, texts)
}

func (s *IngestService) createPoint(lang string, stars int, text string, embedding []float32) *storage.Point {
	point := storage.NewPoint(lang, stars, text, embedding)
	point.Model = s.cfg.Vectorizer.Model
	return point
}

// Handle runs an ingest of the configured languages for a pipeline event
// and publishes a completion event keyed by sagaID.
func (s *IngestService) Handle(ctx context.Context, payload any, sagaID string) error {
	s.logger.Info("Processing ingest event", "saga_id", sagaID, "payload_type", fmt.Sprintf("%T", payload))

	result, err := s.RunOnce(ctx, s.defaultRequest())
	if err != nil {
		s.logger.Error("Ingest failed", "error", err, "saga_id", sagaID)
		return fmt.Errorf("ingest failed: %w", err)
	}

	s.logger.Info("Ingest completed successfully",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"saga_id", sagaID)

	if err = s.publishCompletedEvent(ctx, payload, sagaID); err != nil {
		s.logger.Error("Failed to publish completed event", "error", err, "saga_id", sagaID)
	}

	return nil
}

// defaultRequest covers every configured language. Pipeline events only
// trigger a run; they carry no ingest options.
func (s *IngestService) defaultRequest() IngestRequest {
	return IngestRequest{
		Languages:  s.cfg.Dataset.Languages,
		UseSamples: s.cfg.Ingest.UseSamples,
	}
}

func (s *IngestService) publishCompletedEvent(ctx context.Context, payload any, sagaID string) error {
	if s.publisher == nil {
		return nil
	}

	evt, ok := payload.(events.VectorizeRequest)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}

	return s.publisher.PublishCompleted(ctx, evt, sagaID)
}
