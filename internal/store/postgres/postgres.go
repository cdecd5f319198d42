// Package postgres is the primary remote backend. All record kinds
// share one table keyed by (kind, key) with a JSONB document column.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/config"
	"github.com/yerzhan-dev/manybot/internal/store"
	"github.com/yerzhan-dev/manybot/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    kind       TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    doc        JSONB       NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (kind, key)
)`

type Store struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// New builds the connection pool without requiring the database to be
// reachable: availability is probed per call so the failover layer can
// pick up the primary again when the network recovers.
func New(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse db config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create pool: %w", err)
	}

	log.Info("postgres pool configured",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name))

	return &Store{pool: pool, log: log}, nil
}

// Migrate creates the records table. A failure here is non-fatal to
// startup; the failover layer keeps serving from the fallback.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, kind store.Kind, key string, rec []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (kind, key, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (kind, key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		string(kind), key, rec)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, kind store.Kind, key string) ([]byte, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM records WHERE kind = $1 AND key = $2`,
		string(kind), key).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return doc, nil
}

func (s *Store) List(ctx context.Context, kind store.Kind) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, doc FROM records WHERE kind = $1`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	recs := make(map[string][]byte)
	for rows.Next() {
		var key string
		var doc []byte
		if err := rows.Scan(&key, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		recs[key] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return recs, nil
}

func (s *Store) Delete(ctx context.Context, kind store.Kind, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE kind = $1 AND key = $2`,
		string(kind), key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
	s.log.Info("postgres connection pool closed")
}
