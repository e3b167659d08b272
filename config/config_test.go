package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiby-ai/review-search/internal/sampler"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[dataset]
dir = "/srv/data"
languages = ["fr", "ja"]

[sampling]
seed = 7

[sampling.targets]
fr = 500
ja = 0.25

[openai]
timeout_seconds = "5s"

[server]
max_limit = 5
`)
	t.Setenv("PG_DSN", "postgres://localhost/reviews")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/data", cfg.Dataset.Dir)
	assert.Equal(t, []string{"fr", "ja"}, cfg.Dataset.Languages)
	assert.Equal(t, int64(7), cfg.Sampling.Seed)
	assert.Equal(t, map[string]sampler.Target{"fr": sampler.Count(500), "ja": sampler.Fraction(0.25)}, cfg.Sampling.Targets)
	assert.Equal(t, 5*time.Second, cfg.OpenAI.Timeout)
	assert.Equal(t, 5, cfg.Server.MaxLimit)
	assert.Equal(t, "postgres://localhost/reviews", cfg.Postgres.DSN)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)

	// untouched keys keep their defaults
	assert.Equal(t, 1024, cfg.Ingest.BatchSize)
	assert.Equal(t, 384, cfg.Vectorizer.MaxVectorLength)
	assert.Equal(t, "review_points", cfg.Postgres.Table)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"en", "de", "fr", "es", "ja", "zh"}, cfg.Dataset.Languages)
	assert.Equal(t, int64(42), cfg.Sampling.Seed)
	assert.Equal(t, sampler.Count(70000), cfg.Sampling.Targets["fr"])
	assert.Equal(t, sampler.Count(30000), cfg.Sampling.Targets["zh"])
	assert.NotContains(t, cfg.Sampling.Targets, "en")
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9999")
	t.Setenv("INGEST_BATCH_SIZE", "16")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 16, cfg.Ingest.BatchSize)
}

func TestLoadInvalidTarget(t *testing.T) {
	path := writeConfig(t, `
[sampling.targets]
fr = -3
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, sampler.ErrInvalidTarget)
}

func TestLoadTargetValueTypes(t *testing.T) {
	path := writeConfig(t, `
[sampling.targets]
fr = 1.0
es = 0.5
ja = 1
zh = "0.1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, map[string]sampler.Target{
		"fr": sampler.Fraction(1),
		"es": sampler.Fraction(0.5),
		"ja": sampler.Count(1),
		"zh": sampler.Fraction(0.1),
	}, cfg.Sampling.Targets)
	assert.True(t, cfg.Sampling.Targets["fr"].IsFraction())
}

func TestLoadTargetFractionOutOfRange(t *testing.T) {
	path := writeConfig(t, `
[sampling.targets]
fr = 1.5
`)
	_, err := Load(path)
	assert.ErrorIs(t, err, sampler.ErrInvalidTarget)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
