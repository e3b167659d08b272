package storage

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,40}$`)

type Repository interface {
	EnsureShards(ctx context.Context, languages []string) error
	UpsertPoints(ctx context.Context, language string, points []*Point) (int, error)
	Search(ctx context.Context, query SearchQuery) ([]SearchHit, error)
	GetTableStats(ctx context.Context) (map[string]any, error)
	Close() error
}

type postgresRepository struct {
	db    *pgxpool.Pool
	table string
	dim   int
}

// NewPostgresRepository connects to dsn and creates the partitioned points
// table. Each language is stored in its own LIST partition (shard).
func NewPostgresRepository(ctx context.Context, dsn, table string, dim int) (Repository, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", dim)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &postgresRepository{db: pool, table: table, dim: dim}

	if err := repo.initTables(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return repo, nil
}

func (r *postgresRepository) initTables(ctx context.Context) error {
	table := pgx.Identifier{r.table}.Sanitize()
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			point_id UUID NOT NULL,
			language VARCHAR(8) NOT NULL,
			stars SMALLINT NOT NULL,
			text TEXT,
			model VARCHAR(100) NOT NULL,
			dim INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			PRIMARY KEY (language, point_id)
		) PARTITION BY LIST (language);`, table, r.dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(stars);`,
			pgx.Identifier{"idx_" + r.table + "_stars"}.Sanitize(), table),
	}

	for i, query := range queries {
		if _, err := r.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query %d: %w", i+1, err)
		}
	}

	return nil
}

func (r *postgresRepository) shardTable(language string) string {
	return pgx.Identifier{r.table + "_" + language}.Sanitize()
}

// EnsureShards creates a partition with an HNSW cosine index for every
// language that does not have one yet.
func (r *postgresRepository) EnsureShards(ctx context.Context, languages []string) error {
	parent := pgx.Identifier{r.table}.Sanitize()

	for _, lang := range languages {
		if err := ValidateShardKey(lang); err != nil {
			return err
		}

		shard := r.shardTable(lang)
		queries := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN ('%s');`, shard, parent, lang),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops);`,
				pgx.Identifier{r.table + "_" + lang + "_embedding_idx"}.Sanitize(), shard),
		}

		for _, query := range queries {
			if _, err := r.db.Exec(ctx, query); err != nil {
				return fmt.Errorf("failed to create shard %s: %w", lang, err)
			}
		}
	}

	return nil
}

func (r *postgresRepository) UpsertPoints(ctx context.Context, language string, points []*Point) (int, error) {
	if err := ValidateShardKey(language); err != nil {
		return 0, err
	}
	if len(points) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s
			(point_id, language, stars, text, model, dim, embedding)
		VALUES
			($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (language, point_id) DO UPDATE SET
			stars = EXCLUDED.stars,
			text = EXCLUDED.text,
			model = EXCLUDED.model,
			dim = EXCLUDED.dim,
			embedding = EXCLUDED.embedding,
			updated_at = NOW();
	`, r.shardTable(language))

	batch := &pgx.Batch{}
	for _, p := range points {
		if p.Language != language {
			return 0, fmt.Errorf("point %s has language %q, shard is %q", p.ID, p.Language, language)
		}
		if len(p.Embedding) != r.dim {
			return 0, fmt.Errorf("point %s has dimension %d, expected %d", p.ID, len(p.Embedding), r.dim)
		}
		batch.Queue(query,
			p.ID.String(),
			p.Language,
			p.Stars,
			p.Text,
			p.Model,
			p.Dim,
			pgvector.NewVector(p.Embedding),
		)
	}

	br := r.db.SendBatch(ctx, batch)

	stored := 0
	for _, p := range points {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return stored, fmt.Errorf("failed to upsert point %s: %w", p.ID, err)
		}
		stored++
	}

	if err := br.Close(); err != nil {
		return stored, fmt.Errorf("failed to close batch: %w", err)
	}

	return stored, nil
}

func (r *postgresRepository) Search(ctx context.Context, q SearchQuery) ([]SearchHit, error) {
	if err := ValidateShardKey(q.Shard); err != nil {
		return nil, err
	}

	var stars []int16
	for _, s := range q.Stars {
		stars = append(stars, int16(s))
	}

	query := fmt.Sprintf(`
		SELECT point_id::text, language, stars, COALESCE(text, ''), 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($2::smallint[] IS NULL OR stars = ANY($2::smallint[]))
		ORDER BY embedding <=> $1
		LIMIT $3;
	`, r.shardTable(q.Shard))

	rows, err := r.db.Query(ctx, query, pgvector.NewVector(q.Vector), stars, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query shard %s: %w", q.Shard, err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		var s int16
		if err := rows.Scan(&hit.ID, &hit.Language, &s, &hit.Text, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hit.Stars = int(s)
		hits = append(hits, hit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return hits, nil
}

func (r *postgresRepository) GetTableStats(ctx context.Context) (map[string]any, error) {
	query := fmt.Sprintf(`
		SELECT language, COUNT(*)
		FROM %s
		GROUP BY language
		ORDER BY language;
	`, pgx.Identifier{r.table}.Sanitize())

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table stats: %w", err)
	}
	defer rows.Close()

	var total int64
	shards := make(map[string]int64)
	for rows.Next() {
		var lang string
		var count int64
		if err := rows.Scan(&lang, &count); err != nil {
			return nil, fmt.Errorf("failed to scan table stats: %w", err)
		}
		shards[lang] = count
		total += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	stats := map[string]any{
		"total_points": total,
		"shards":       shards,
		"dimension":    r.dim,
	}

	return stats, nil
}

func (r *postgresRepository) Close() error {
	r.db.Close()
	return nil
}
