package storage

import (
	"context"

	"curvescan/internal/model"
)

// Filter narrows QueryAll results. Zero values mean "no constraint".
type Filter struct {
	Limit    int
	Offset   int
	Search   string
	Complete *bool
}

// UpsertStats reports the outcome of a batched upsert.
type UpsertStats struct {
	Inserted   int
	Duplicates int
	Errors     int
}

// Add accumulates another batch's stats.
func (s *UpsertStats) Add(other UpsertStats) {
	s.Inserted += other.Inserted
	s.Duplicates += other.Duplicates
	s.Errors += other.Errors
}

// Store is the persistence contract shared by the primary and secondary
// stores. Writes are upsert-by-unique-key: a colliding key updates the
// existing row (or is a no-op when nothing changed), never a duplicate.
type Store interface {
	UpsertOne(ctx context.Context, record model.TokenRecord) error
	UpsertBatch(ctx context.Context, records []model.TokenRecord) (UpsertStats, error)
	QueryAll(ctx context.Context, filter Filter) ([]model.TokenRecord, error)
	CountAll(ctx context.Context) (int64, error)
	DistinctBondingCurveAddresses(ctx context.Context) ([]string, error)
	Close() error
}
