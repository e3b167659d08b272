package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/quiby-ai/review-search/config"
	"github.com/quiby-ai/review-search/internal/corpus"
	"github.com/quiby-ai/review-search/internal/sampler"
)

type ReduceResult struct {
	Language string `json:"language"`
	Input    int    `json:"input"`
	Output   int    `json:"output"`
	Path     string `json:"path"`
}

// ReduceService shrinks downloaded language files to their configured
// sampling targets.
type ReduceService struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewReduceService(cfg *config.Config, logger *slog.Logger) *ReduceService {
	return &ReduceService{
		cfg:    cfg,
		logger: logger.With("component", "reduce"),
	}
}

// Run writes {lang}_sample.parquet next to every {lang}.parquet that has a
// target. Languages without a target or without a file are skipped.
func (s *ReduceService) Run(ctx context.Context, languages []string) ([]ReduceResult, error) {
	if len(languages) == 0 {
		languages = s.cfg.Dataset.Languages
	}

	var results []ReduceResult
	for _, lang := range languages {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		target, ok := s.cfg.Sampling.Targets[lang]
		if !ok {
			s.logger.Info("No sampling target, skipping", "language", lang)
			continue
		}

		src := filepath.Join(s.cfg.Dataset.Dir, lang+".parquet")
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Dataset file not found, skipping", "language", lang, "path", src)
			continue
		}

		result, err := s.reduce(lang, src, target)
		if err != nil {
			return results, fmt.Errorf("failed to reduce %s: %w", lang, err)
		}

		s.logger.Info("Language reduced",
			"language", lang,
			"target", target.String(),
			"input", result.Input,
			"output", result.Output,
			"path", result.Path)
		results = append(results, result)
	}

	return results, nil
}

func (s *ReduceService) reduce(lang, src string, target sampler.Target) (ReduceResult, error) {
	ds, err := corpus.ReadParquet(src, lang)
	if err != nil {
		return ReduceResult{}, err
	}

	sample, err := sampler.Sample(ds, target, s.cfg.Sampling.Seed)
	if err != nil {
		return ReduceResult{}, err
	}

	dst := filepath.Join(s.cfg.Dataset.Dir, lang+"_sample.parquet")
	if err := corpus.WriteParquet(dst, sample); err != nil {
		return ReduceResult{}, err
	}

	return ReduceResult{
		Language: lang,
		Input:    ds.Len(),
		Output:   sample.Len(),
		Path:     dst,
	}, nil
}
