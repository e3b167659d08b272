package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiby-ai/review-search/internal/corpus"
	"github.com/quiby-ai/review-search/internal/sampler"
)

func TestReduceRun(t *testing.T) {
	dir := t.TempDir()
	writeLanguage(t, dir, "en.parquet", corpus.FieldLabel, 500)
	writeLanguage(t, dir, "fr.parquet", corpus.FieldStars, 50)
	writeLanguage(t, dir, "ja.parquet", corpus.FieldStars, 50)

	cfg := testConfig(dir)
	cfg.Sampling.Targets = map[string]sampler.Target{
		"en": sampler.Count(50),
		"fr": sampler.Fraction(0.2),
		"de": sampler.Count(10),
	}
	svc := NewReduceService(cfg, discardLogger())

	results, err := svc.Run(context.Background(), []string{"en", "fr", "de", "ja"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, ReduceResult{Language: "en", Input: 500, Output: 50, Path: filepath.Join(dir, "en_sample.parquet")}, results[0])
	assert.Equal(t, ReduceResult{Language: "fr", Input: 50, Output: 10, Path: filepath.Join(dir, "fr_sample.parquet")}, results[1])

	sample, err := corpus.ReadParquet(results[0].Path, "en")
	require.NoError(t, err)
	assert.Equal(t, corpus.FieldStars, sample.RatingField)

	perStars := map[int]int{}
	for i := range sample.Rows {
		perStars[sample.Stars(i)]++
	}
	assert.Equal(t, map[int]int{1: 10, 2: 10, 3: 10, 4: 10, 5: 10}, perStars)

	assert.NoFileExists(t, filepath.Join(dir, "ja_sample.parquet"))
	assert.NoFileExists(t, filepath.Join(dir, "de_sample.parquet"))
}

func TestReduceDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeLanguage(t, dir, "fr.parquet", corpus.FieldStars, 40)

	cfg := testConfig(dir)
	cfg.Sampling.Targets = map[string]sampler.Target{"fr": sampler.Count(12)}
	svc := NewReduceService(cfg, discardLogger())

	texts := func() []string {
		results, err := svc.Run(context.Background(), []string{"fr"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		ds, err := corpus.ReadParquet(results[0].Path, "fr")
		require.NoError(t, err)
		var out []string
		for _, row := range ds.Rows {
			out = append(out, row.Text)
		}
		return out
	}

	first := texts()
	assert.Len(t, first, 12)
	assert.Equal(t, first, texts())
}

func TestReduceTargetTooLarge(t *testing.T) {
	dir := t.TempDir()
	writeLanguage(t, dir, "fr.parquet", corpus.FieldStars, 5)

	cfg := testConfig(dir)
	cfg.Sampling.Targets = map[string]sampler.Target{"fr": sampler.Count(6)}

	_, err := NewReduceService(cfg, discardLogger()).Run(context.Background(), []string{"fr"})
	assert.ErrorIs(t, err, sampler.ErrInvalidTarget)
}
