package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"curvescan/internal/model"
	"curvescan/internal/storage"
)

// Store is the secondary token store: a local SQLite file written behind
// the primary by the flush queue and the sync job.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	token_address         TEXT PRIMARY KEY,
	bonding_curve_address TEXT NOT NULL UNIQUE,
	complete              INTEGER NOT NULL DEFAULT 0,
	creator               TEXT NOT NULL DEFAULT '',
	name                  TEXT NOT NULL DEFAULT '',
	symbol                TEXT NOT NULL DEFAULT '',
	uri                   TEXT NOT NULL DEFAULT '',
	description           TEXT NOT NULL DEFAULT '',
	image                 TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tokens_created_at_idx ON tokens (created_at DESC);
`

const upsertSQL = `
INSERT INTO tokens (
	token_address, bonding_curve_address, complete, creator,
	name, symbol, uri, description, image, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (token_address) DO UPDATE SET
	bonding_curve_address = excluded.bonding_curve_address,
	complete = (tokens.complete OR excluded.complete),
	creator = excluded.creator,
	name = excluded.name,
	symbol = excluded.symbol,
	uri = excluded.uri,
	description = excluded.description,
	image = excluded.image,
	updated_at = excluded.updated_at
WHERE tokens.bonding_curve_address <> excluded.bonding_curve_address
   OR (tokens.complete OR excluded.complete) <> tokens.complete
   OR tokens.creator <> excluded.creator
   OR tokens.name <> excluded.name
   OR tokens.symbol <> excluded.symbol
   OR tokens.uri <> excluded.uri
   OR tokens.description <> excluded.description
   OR tokens.image <> excluded.image
`

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer keeps "database is locked" errors out of the flush path.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertOne(ctx context.Context, record model.TokenRecord) error {
	if _, _, err := s.upsertRow(ctx, s.db, record); err != nil {
		return fmt.Errorf("upsert token %s: %w", record.TokenAddress, err)
	}
	return nil
}

// UpsertBatch writes records inside one transaction, classifying each as
// inserted, no-change duplicate, or error. A single bad record does not
// poison the rest.
func (s *Store) UpsertBatch(ctx context.Context, records []model.TokenRecord) (storage.UpsertStats, error) {
	stats := storage.UpsertStats{}
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin upsert batch: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		existed, changed, err := s.upsertRow(ctx, tx, record)
		switch {
		case err != nil:
			stats.Errors++
		case existed && !changed:
			stats.Duplicates++
		default:
			stats.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit upsert batch: %w", err)
	}
	return stats, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) upsertRow(ctx context.Context, db execer, record model.TokenRecord) (existed, changed bool, err error) {
	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM tokens WHERE token_address = ?`, record.TokenAddress).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		existed = false
	case err != nil:
		return false, false, err
	default:
		existed = true
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	result, err := db.ExecContext(ctx, upsertSQL,
		record.TokenAddress,
		record.BondingCurveAddress,
		record.Complete,
		record.Creator,
		record.Name,
		record.Symbol,
		record.URI,
		record.Description,
		record.Image,
		createdAt.UTC().Format(time.RFC3339Nano),
		now,
	)
	if err != nil {
		return existed, false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return existed, false, err
	}
	return existed, affected > 0, nil
}

func (s *Store) QueryAll(ctx context.Context, filter storage.Filter) ([]model.TokenRecord, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT token_address, bonding_curve_address, complete, creator,
		       name, symbol, uri, description, image, created_at, updated_at
		FROM tokens
		WHERE (? = '' OR name LIKE '%' || ? || '%' OR symbol LIKE '%' || ? || '%' OR token_address = ?)
	`)
	args := []interface{}{filter.Search, filter.Search, filter.Search, filter.Search}
	if filter.Complete != nil {
		sb.WriteString(" AND complete = ?")
		args = append(args, *filter.Complete)
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(" OFFSET ?")
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var records []model.TokenRecord
	for rows.Next() {
		var record model.TokenRecord
		var createdAt, updatedAt string
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
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		record.CreatedAt = parseTime(createdAt)
		record.UpdatedAt = parseTime(updatedAt)
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *Store) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tokens`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return count, nil
}

func (s *Store) DistinctBondingCurveAddresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT bonding_curve_address FROM tokens`)
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

func parseTime(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
