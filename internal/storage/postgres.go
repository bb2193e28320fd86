// Package storage holds the PostgreSQL-backed artifact store and the audit
// log. Both share one connection pool.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"agent-toolgate/internal/cache"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// EnsureSchema creates the artifact and audit tables when absent.
func (db *DB) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS artifacts (
			submission_hash TEXT PRIMARY KEY,
			language        TEXT NOT NULL,
			validated_code  TEXT NOT NULL,
			result          JSONB NOT NULL,
			dependencies    TEXT[] NOT NULL DEFAULT '{}',
			execution       JSONB NOT NULL,
			ref_count       INTEGER NOT NULL DEFAULT 0,
			usage_count     BIGINT NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS validations (
			id              UUID PRIMARY KEY,
			submission_hash TEXT NOT NULL,
			language        TEXT NOT NULL,
			is_valid        BOOLEAN NOT NULL,
			violation_count INTEGER NOT NULL,
			cache_hit       BOOLEAN NOT NULL,
			policy_id       TEXT NOT NULL,
			policy_version  INTEGER NOT NULL,
			duration_ms     BIGINT NOT NULL,
			request_ip      TEXT NOT NULL DEFAULT '',
			api_key_hash    TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_validations_hash ON validations (submission_hash);
		CREATE INDEX IF NOT EXISTS idx_validations_created ON validations (created_at DESC);`

	if _, err := db.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// ArtifactStore implements cache.Store over the artifacts table.
type ArtifactStore struct {
	db *DB
}

func NewArtifactStore(db *DB) *ArtifactStore {
	return &ArtifactStore{db: db}
}

func (s *ArtifactStore) Get(ctx context.Context, key string) (*cache.CachedArtifact, error) {
	const query = `
		SELECT submission_hash, language, validated_code, result, dependencies,
			execution, ref_count, usage_count, created_at
		FROM artifacts WHERE submission_hash = $1`

	var (
		art        cache.CachedArtifact
		resultJSON []byte
		execJSON   []byte
	)
	err := s.db.pool.QueryRow(ctx, query, key).Scan(
		&art.SubmissionHash, &art.Language, &art.ValidatedCode,
		&resultJSON, &art.Dependencies, &execJSON,
		&art.RefCount, &art.UsageCount, &art.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying artifact %s: %w", key, err)
	}

	if err := json.Unmarshal(resultJSON, &art.Result); err != nil {
		return nil, fmt.Errorf("decoding artifact result %s: %w", key, err)
	}
	if err := json.Unmarshal(execJSON, &art.Execution); err != nil {
		return nil, fmt.Errorf("decoding artifact execution %s: %w", key, err)
	}
	return &art, nil
}

func (s *ArtifactStore) Put(ctx context.Context, artifact *cache.CachedArtifact) error {
	resultJSON, err := json.Marshal(artifact.Result)
	if err != nil {
		return fmt.Errorf("encoding artifact result: %w", err)
	}
	execJSON, err := json.Marshal(artifact.Execution)
	if err != nil {
		return fmt.Errorf("encoding artifact execution: %w", err)
	}

	const query = `
		INSERT INTO artifacts (submission_hash, language, validated_code, result,
			dependencies, execution, ref_count, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (submission_hash) DO UPDATE SET
			result = EXCLUDED.result,
			execution = EXCLUDED.execution,
			dependencies = EXCLUDED.dependencies,
			ref_count = EXCLUDED.ref_count,
			usage_count = EXCLUDED.usage_count,
			updated_at = now()`

	deps := artifact.Dependencies
	if deps == nil {
		deps = []string{}
	}
	_, err = s.db.pool.Exec(ctx, query,
		artifact.SubmissionHash, artifact.Language, artifact.ValidatedCode,
		resultJSON, deps, execJSON,
		artifact.RefCount, artifact.UsageCount, artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing artifact %s: %w", artifact.SubmissionHash, err)
	}
	return nil
}

func (s *ArtifactStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM artifacts WHERE submission_hash = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking artifact %s: %w", key, err)
	}
	return exists, nil
}

func (s *ArtifactStore) Delete(ctx context.Context, key string) error {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM artifacts WHERE submission_hash = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting artifact %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// LogValidation inserts an audit record.
func (db *DB) LogValidation(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO validations (id, submission_hash, language, is_valid,
			violation_count, cache_hit, policy_id, policy_version, duration_ms,
			request_ip, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.SubmissionHash, rec.Language, rec.IsValid,
		rec.ViolationCount, rec.CacheHit, rec.PolicyID, rec.PolicyVersion,
		rec.DurationMS, rec.RequestIP, rec.APIKeyHash, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting validation record: %w", err)
	}
	return nil
}

// ListValidations queries audit records with optional filters.
func (db *DB) ListValidations(ctx context.Context, filter RecordFilter) ([]Record, error) {
	const query = `
		SELECT id, submission_hash, language, is_valid, violation_count,
			cache_hit, policy_id, policy_version, duration_ms, created_at
		FROM validations
		WHERE ($1 = '' OR language = $1)
		  AND ($2::boolean IS NULL OR is_valid = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, query,
		filter.Language, filter.Valid, filter.Since, filter.Until, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying validations: %w", err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.SubmissionHash, &rec.Language, &rec.IsValid,
			&rec.ViolationCount, &rec.CacheHit, &rec.PolicyID, &rec.PolicyVersion,
			&rec.DurationMS, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning validation row: %w", err)
		}
		results = append(results, rec)
	}

	return results, rows.Err()
}
