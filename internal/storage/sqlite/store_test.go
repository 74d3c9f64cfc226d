package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"curvescan/internal/model"
	"curvescan/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "tokens.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecord(token string) model.TokenRecord {
	now := time.Now().UTC()
	return model.TokenRecord{
		TokenAddress:        token,
		BondingCurveAddress: "curve-" + token,
		Creator:             "creator-" + token,
		Name:                "Token " + token,
		Symbol:              "TOK",
		URI:                 "https://example.com/" + token + ".json",
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func TestUpsertBatchIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	records := []model.TokenRecord{sampleRecord("tok1"), sampleRecord("tok2"), sampleRecord("tok3")}

	stats, err := store.UpsertBatch(ctx, records)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if stats.Inserted != 3 || stats.Duplicates != 0 || stats.Errors != 0 {
		t.Fatalf("first batch stats %+v, want 3 inserted", stats)
	}

	stats, err = store.UpsertBatch(ctx, records)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if stats.Inserted != 0 || stats.Duplicates != 3 {
		t.Fatalf("second batch stats %+v, want 3 duplicates", stats)
	}

	count, err := store.CountAll(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count %d, want 3 (no duplicate rows)", count)
	}
}

func TestUpsertUpdatedAtAdvancesOnlyOnChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord("tok1")
	if err := store.UpsertOne(ctx, record); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := store.QueryAll(ctx, storage.Filter{})
	if err != nil || len(first) != 1 {
		t.Fatalf("query after insert: %v (%d rows)", err, len(first))
	}

	// Identical rewrite: no-op, timestamp untouched.
	if err := store.UpsertOne(ctx, record); err != nil {
		t.Fatalf("identical rewrite: %v", err)
	}
	unchanged, _ := store.QueryAll(ctx, storage.Filter{})
	if !unchanged[0].UpdatedAt.Equal(first[0].UpdatedAt) {
		t.Fatalf("updated_at churned on identical write")
	}

	// Real field change: timestamp advances.
	record.Description = "now described"
	if err := store.UpsertOne(ctx, record); err != nil {
		t.Fatalf("update: %v", err)
	}
	changed, _ := store.QueryAll(ctx, storage.Filter{})
	if !changed[0].UpdatedAt.After(first[0].UpdatedAt) {
		t.Fatalf("updated_at did not advance on field change")
	}
	if !changed[0].CreatedAt.Equal(first[0].CreatedAt) {
		t.Fatalf("created_at must never change on update")
	}
}

func TestCompleteOnlyLatchesTrue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := sampleRecord("tok1")
	record.Complete = true
	if err := store.UpsertOne(ctx, record); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// A stale re-process reporting complete=false must not regress it.
	record.Complete = false
	if err := store.UpsertOne(ctx, record); err != nil {
		t.Fatalf("stale rewrite: %v", err)
	}

	rows, err := store.QueryAll(ctx, storage.Filter{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("query: %v (%d rows)", err, len(rows))
	}
	if !rows[0].Complete {
		t.Fatalf("complete flag regressed to false")
	}
}

func TestQueryAllFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := sampleRecord("tok1")
	done.Name = "Moon Cat"
	done.Complete = true
	pending := sampleRecord("tok2")
	pending.Name = "Dog Coin"

	if _, err := store.UpsertBatch(ctx, []model.TokenRecord{done, pending}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rows, err := store.QueryAll(ctx, storage.Filter{Search: "moon"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "Moon Cat" {
		t.Fatalf("search results: %+v", rows)
	}

	complete := true
	rows, err = store.QueryAll(ctx, storage.Filter{Complete: &complete})
	if err != nil {
		t.Fatalf("complete filter: %v", err)
	}
	if len(rows) != 1 || !rows[0].Complete {
		t.Fatalf("complete filter results: %+v", rows)
	}

	addresses, err := store.DistinctBondingCurveAddresses(ctx)
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	if len(addresses) != 2 {
		t.Fatalf("distinct addresses: %v", addresses)
	}
}
