package dna

import (
	"context"
	"fmt"
	"time"

	"github.com/agentoven/uiforge/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore persists design DNA in PostgreSQL so a project's tokens
// survive across sessions and server restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings and creates the token table if needed.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("dna connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dna ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dna migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL design DNA store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS uiforge_design_tokens (
			project_id TEXT NOT NULL,
			name       TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (project_id, name)
		);
	`)
	return err
}

func (s *PostgresStore) Kind() string { return "postgres" }

func (s *PostgresStore) ExtractAndMerge(ctx context.Context, projectID string, tokens []models.DesignToken) (models.DesignDNA, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dna begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, tok := range tokens {
		if tok.Name == "" {
			continue
		}
		batch.Queue(`INSERT INTO uiforge_design_tokens (project_id, name, value, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project_id, name) DO UPDATE SET
				value = EXCLUDED.value,
				updated_at = EXCLUDED.updated_at`,
			projectID, tok.Name, tok.Value, now)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("dna upsert: %w", err)
		}
	}

	merged, err := readTokens(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dna commit: %w", err)
	}
	return merged, nil
}

func (s *PostgresStore) Read(ctx context.Context, projectID string) (models.DesignDNA, error) {
	return readTokens(ctx, s.pool, projectID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func readTokens(ctx context.Context, q querier, projectID string) (models.DesignDNA, error) {
	rows, err := q.Query(ctx,
		`SELECT name, value FROM uiforge_design_tokens WHERE project_id = $1`, projectID)
	if err != nil {
		return nil, fmt.Errorf("dna query: %w", err)
	}
	defer rows.Close()

	out := make(models.DesignDNA)
	for rows.Next() {
		var tok models.DesignToken
		if err := rows.Scan(&tok.Name, &tok.Value); err != nil {
			return nil, fmt.Errorf("dna scan: %w", err)
		}
		out[tok.Name] = tok
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
