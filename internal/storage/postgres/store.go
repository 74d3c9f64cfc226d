package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"curvescan/internal/model"
	"curvescan/internal/storage"
)

// Store is the primary (durable, synchronous) token store.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	token_address         TEXT PRIMARY KEY,
	bonding_curve_address TEXT NOT NULL UNIQUE,
	complete              BOOLEAN NOT NULL DEFAULT FALSE,
	creator               TEXT NOT NULL DEFAULT '',
	name                  TEXT NOT NULL DEFAULT '',
	symbol                TEXT NOT NULL DEFAULT '',
	uri                   TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	image                 TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tokens_created_at_idx ON tokens (created_at DESC);
`

// The insert binds the record's created_at so a restore from the secondary
// store keeps original creation times; a conflict never touches it. The
// update clause latches complete to true and fires only when a non-key
// field actually differs, so updated_at never churns on identical
// re-processing. RETURNING (xmax = 0) distinguishes insert from update;
// no row back at all means the write was a no-op duplicate.
const upsertSQL = `
INSERT INTO tokens (
	token_address, bonding_curve_address, complete, creator,
	name, symbol, uri, description, image, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
ON CONFLICT (token_address) DO UPDATE SET
	bonding_curve_address = EXCLUDED.bonding_curve_address,
	complete = tokens.complete OR EXCLUDED.complete,
	creator = EXCLUDED.creator,
	name = EXCLUDED.name,
	symbol = EXCLUDED.symbol,
	uri = EXCLUDED.uri,
	description = EXCLUDED.description,
	image = EXCLUDED.image,
	updated_at = now()
WHERE (tokens.bonding_curve_address, tokens.complete, tokens.creator, tokens.name,
       tokens.symbol, tokens.uri, tokens.description, tokens.image)
	IS DISTINCT FROM
      (EXCLUDED.bonding_curve_address, tokens.complete OR EXCLUDED.complete, EXCLUDED.creator,
       EXCLUDED.name, EXCLUDED.symbol, EXCLUDED.uri, EXCLUDED.description, EXCLUDED.image)
RETURNING (xmax = 0) AS inserted
`

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// UpsertOne writes or updates a single record. A no-change duplicate is
// success, not an error.
func (s *Store) UpsertOne(ctx context.Context, record model.TokenRecord) error {
	row := s.pool.QueryRow(ctx, upsertSQL, upsertArgs(record)...)
	var inserted bool
	if err := row.Scan(&inserted); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("upsert token %s: %w", record.TokenAddress, err)
	}
	return nil
}

// UpsertBatch writes records in one pipelined batch and classifies each
// row as inserted, updated (counted as inserted), or no-change duplicate.
func (s *Store) UpsertBatch(ctx context.Context, records []model.TokenRecord) (storage.UpsertStats, error) {
	stats := storage.UpsertStats{}
	if len(records) == 0 {
		return stats, nil
	}

	batch := &pgx.Batch{}
	for _, record := range records {
		batch.Queue(upsertSQL, upsertArgs(record)...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range records {
		var inserted bool
		err := results.QueryRow().Scan(&inserted)
		switch {
		case err == nil:
			stats.Inserted++
		case errors.Is(err, pgx.ErrNoRows):
			stats.Duplicates++
		default:
			// A statement failure aborts the rest of the pipeline.
			stats.Errors += len(records) - i
			return stats, fmt.Errorf("upsert batch: %w", err)
		}
	}
	return stats, nil
}

func upsertArgs(record model.TokenRecord) []interface{} {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []interface{}{
		record.TokenAddress,
		record.BondingCurveAddress,
		record.Complete,
		record.Creator,
		record.Name,
		record.Symbol,
		record.URI,
		record.Description,
		record.Image,
		createdAt,
	}
}

// QueryAll returns records newest-first, optionally filtered by a search
// term (name, symbol, or exact token address) and completion state.
func (s *Store) QueryAll(ctx context.Context, filter storage.Filter) ([]model.TokenRecord, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT token_address, bonding_curve_address, complete, creator,
		       name, symbol, uri, description, image, created_at, updated_at
		FROM tokens
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR symbol ILIKE '%' || $1 || '%' OR token_address = $1)
		  AND ($2::boolean IS NULL OR complete = $2)
		ORDER BY created_at DESC
	`)
	args := []interface{}{filter.Search, filter.Complete}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var records []model.TokenRecord
	for rows.Next() {
		var record model.TokenRecord
		if err := rows.Scan(
			&record.TokenAddress,
			&record.BondingCurveAddress,
			&record.Complete,
			&record.Creator,
			&record.Name,
			&record.Symbol,
			&record.URI,
			&record.Description,
			&record.Image,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tokens`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return count, nil
}

// DistinctBondingCurveAddresses lists every persisted bonding-curve
// address; the backfill job diffs the chain against this set.
func (s *Store) DistinctBondingCurveAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT bonding_curve_address FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("distinct bonding curves: %w", err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("scan bonding curve address: %w", err)
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}
