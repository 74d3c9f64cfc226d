package postgres

import (
	"strings"
	"testing"
	"time"

	"curvescan/internal/model"
)

func TestUpsertArgsPreserveCreatedAt(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	args := upsertArgs(model.TokenRecord{TokenAddress: "tok", CreatedAt: created})

	if len(args) != strings.Count(upsertSQL, "$") {
		t.Fatalf("%d args for %d placeholders", len(args), strings.Count(upsertSQL, "$"))
	}
	got, ok := args[len(args)-1].(time.Time)
	if !ok || !got.Equal(created) {
		t.Fatalf("created_at bound as %v, want %v", args[len(args)-1], created)
	}
}

func TestUpsertArgsDefaultCreatedAt(t *testing.T) {
	before := time.Now().UTC()
	args := upsertArgs(model.TokenRecord{TokenAddress: "tok"})

	got, ok := args[len(args)-1].(time.Time)
	if !ok || got.IsZero() || got.Before(before) {
		t.Fatalf("zero created_at should default to the write time, got %v", args[len(args)-1])
	}
}
