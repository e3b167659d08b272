package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quiby-ai/review-search/internal/sampler"
)

type Config struct {
	Kafka      KafkaConfig
	Postgres   PostgresConfig
	Dataset    DatasetConfig
	Sampling   SamplingConfig
	Ingest     IngestConfig
	Vectorizer VectorizerConfig
	OpenAI     OpenAIConfig
	Server     ServerConfig
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

type PostgresConfig struct {
	DSN   string
	Table string
}

type DatasetConfig struct {
	Dir            string
	Languages      []string
	HubURL         string
	HFToken        string
	MirrorRepo     string
	FallbackRepo   string
	FallbackConfig string
	Split          string
	Timeout        time.Duration
}

type SamplingConfig struct {
	Seed    int64
	Targets map[string]sampler.Target
}

type IngestConfig struct {
	BatchSize  int
	UseSamples bool
}

type VectorizerConfig struct {
	Model           string
	BatchSize       int
	TimeoutPerBatch time.Duration
	MaxVectorLength int
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	MaxRetries int
	Timeout    time.Duration
}

type ServerConfig struct {
	Addr            string
	MaxLimit        int
	ShutdownTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "review-search")

	v.SetDefault("postgres.table", "review_points")

	v.SetDefault("dataset.dir", "data")
	v.SetDefault("dataset.languages", []string{"en", "de", "fr", "es", "ja", "zh"})
	v.SetDefault("dataset.hub_url", "https://huggingface.co")
	v.SetDefault("dataset.mirror_repo", "mteb/amazon_reviews_multi")
	v.SetDefault("dataset.fallback_repo", "srvmishra832/multilingual-amazon-reviews-6-languages")
	v.SetDefault("dataset.fallback_config", "default")
	v.SetDefault("dataset.split", "train")
	v.SetDefault("dataset.timeout_seconds", "10m")

	v.SetDefault("sampling.seed", 42)
	v.SetDefault("sampling.targets", map[string]any{
		"fr": 70000,
		"es": 70000,
		"ja": 30000,
		"zh": 30000,
	})

	v.SetDefault("ingest.batch_size", 1024)
	v.SetDefault("ingest.use_samples", true)

	v.SetDefault("vectorizer.model", "BAAI/bge-small-en-v1.5")
	v.SetDefault("vectorizer.batch_size", 64)
	v.SetDefault("vectorizer.timeout_seconds", "60s")
	v.SetDefault("vectorizer.max_vector_length", 384)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "text-embedding-3-small")
	v.SetDefault("openai.dimensions", 384)
	v.SetDefault("openai.max_retries", 3)
	v.SetDefault("openai.timeout_seconds", "30s")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_limit", 8)
	v.SetDefault("server.shutdown_timeout", "10s")
}

// Load reads path when given, otherwise config.toml from the working
// directory or /. A missing file is not an error; defaults and the
// environment still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.BindEnv("OPENAI_API_KEY")
	v.BindEnv("PG_DSN")
	v.BindEnv("HF_TOKEN")

	targets, err := parseTargets(v.GetStringMap("sampling.targets"))
	if err != nil {
		return nil, err
	}

	var config = &Config{
		Kafka: KafkaConfig{
			Brokers: v.GetStringSlice("kafka.brokers"),
			GroupID: v.GetString("kafka.group_id"),
		},
		Postgres: PostgresConfig{
			DSN:   v.GetString("PG_DSN"),
			Table: v.GetString("postgres.table"),
		},
		Dataset: DatasetConfig{
			Dir:            v.GetString("dataset.dir"),
			Languages:      v.GetStringSlice("dataset.languages"),
			HubURL:         v.GetString("dataset.hub_url"),
			HFToken:        v.GetString("HF_TOKEN"),
			MirrorRepo:     v.GetString("dataset.mirror_repo"),
			FallbackRepo:   v.GetString("dataset.fallback_repo"),
			FallbackConfig: v.GetString("dataset.fallback_config"),
			Split:          v.GetString("dataset.split"),
			Timeout:        v.GetDuration("dataset.timeout_seconds"),
		},
		Sampling: SamplingConfig{
			Seed:    v.GetInt64("sampling.seed"),
			Targets: targets,
		},
		Ingest: IngestConfig{
			BatchSize:  v.GetInt("ingest.batch_size"),
			UseSamples: v.GetBool("ingest.use_samples"),
		},
		Vectorizer: VectorizerConfig{
			Model:           v.GetString("vectorizer.model"),
			BatchSize:       v.GetInt("vectorizer.batch_size"),
			MaxVectorLength: v.GetInt("vectorizer.max_vector_length"),
			TimeoutPerBatch: v.GetDuration("vectorizer.timeout_seconds"),
		},
		OpenAI: OpenAIConfig{
			APIKey:     v.GetString("OPENAI_API_KEY"),
			BaseURL:    v.GetString("openai.base_url"),
			Model:      v.GetString("openai.model"),
			Dimensions: v.GetInt("openai.dimensions"),
			MaxRetries: v.GetInt("openai.max_retries"),
			Timeout:    v.GetDuration("openai.timeout_seconds"),
		},
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			MaxLimit:        v.GetInt("server.max_limit"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
	}

	if config.Vectorizer.MaxVectorLength <= 0 {
		return nil, fmt.Errorf("vectorizer.max_vector_length must be positive, got %d", config.Vectorizer.MaxVectorLength)
	}

	return config, nil
}

// parseTargets keeps the TOML value type: integers are row counts and
// floats are proportions, so 1.0 is the whole file rather than one row.
func parseTargets(raw map[string]any) (map[string]sampler.Target, error) {
	targets := make(map[string]sampler.Target, len(raw))
	for lang, value := range raw {
		t, err := parseTarget(value)
		if err != nil {
			return nil, fmt.Errorf("sampling.targets.%s: %w", lang, err)
		}
		targets[lang] = t
	}
	return targets, nil
}

func parseTarget(value any) (sampler.Target, error) {
	var t sampler.Target
	switch v := value.(type) {
	case int:
		t = sampler.Count(v)
	case int64:
		t = sampler.Count(int(v))
	case float64:
		t = sampler.Fraction(v)
	case string:
		return sampler.ParseTarget(v)
	default:
		return sampler.Target{}, fmt.Errorf("%w: unsupported value %v (%T)", sampler.ErrInvalidTarget, value, value)
	}
	return t, t.Validate()
}
