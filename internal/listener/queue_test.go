package listener

import (
	"context"
	"fmt"
	"testing"

	"curvescan/internal/model"
	"curvescan/internal/storage"
)

// stubStore is a storage.Store backed by a map, with per-token write
// failures for fault injection.
type stubStore struct {
	records map[string]model.TokenRecord
	failFor map[string]bool
	upserts int
}

func newStubStore() *stubStore {
	return &stubStore{
		records: make(map[string]model.TokenRecord),
		failFor: make(map[string]bool),
	}
}

func (s *stubStore) UpsertOne(_ context.Context, record model.TokenRecord) error {
	s.upserts++
	if s.failFor[record.TokenAddress] {
		return fmt.Errorf("injected write failure for %s", record.TokenAddress)
	}
	s.records[record.TokenAddress] = record
	return nil
}

func (s *stubStore) UpsertBatch(ctx context.Context, records []model.TokenRecord) (storage.UpsertStats, error) {
	stats := storage.UpsertStats{}
	for _, record := range records {
		if err := s.UpsertOne(ctx, record); err != nil {
			stats.Errors++
			continue
		}
		stats.Inserted++
	}
	return stats, nil
}

func (s *stubStore) QueryAll(_ context.Context, _ storage.Filter) ([]model.TokenRecord, error) {
	out := make([]model.TokenRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out, nil
}

func (s *stubStore) CountAll(_ context.Context) (int64, error) {
	return int64(len(s.records)), nil
}

func (s *stubStore) DistinctBondingCurveAddresses(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record.BondingCurveAddress)
	}
	return out, nil
}

func (s *stubStore) Close() error { return nil }

func record(token string) model.TokenRecord {
	return model.TokenRecord{
		TokenAddress:        token,
		BondingCurveAddress: "curve-" + token,
	}
}

func TestQueueFlushDrains(t *testing.T) {
	queue := NewQueue()
	secondary := newStubStore()

	for i := 0; i < 5; i++ {
		queue.Enqueue(record(fmt.Sprintf("tok%d", i)))
	}

	flushed, requeued := queue.Flush(context.Background(), secondary, nil)
	if flushed != 5 || requeued != 0 {
		t.Fatalf("flushed=%d requeued=%d, want 5/0", flushed, requeued)
	}
	if queue.Len() != 0 {
		t.Fatalf("queue should be empty, has %d", queue.Len())
	}
}

func TestQueueFlushRequeuesOnlyFailures(t *testing.T) {
	queue := NewQueue()
	secondary := newStubStore()
	secondary.failFor["tok2"] = true

	for i := 0; i < 5; i++ {
		queue.Enqueue(record(fmt.Sprintf("tok%d", i)))
	}

	flushed, requeued := queue.Flush(context.Background(), secondary, nil)
	if flushed != 4 || requeued != 1 {
		t.Fatalf("flushed=%d requeued=%d, want 4/1", flushed, requeued)
	}
	if queue.Len() != 1 {
		t.Fatalf("queue should hold exactly the failed record, has %d", queue.Len())
	}

	// The failed record drains once the fault clears; nothing duplicated.
	secondary.failFor["tok2"] = false
	flushed, requeued = queue.Flush(context.Background(), secondary, nil)
	if flushed != 1 || requeued != 0 {
		t.Fatalf("flushed=%d requeued=%d, want 1/0", flushed, requeued)
	}
	if len(secondary.records) != 5 {
		t.Fatalf("secondary has %d records, want 5", len(secondary.records))
	}
}

func TestQueueSnapshotKeepsConcurrentEnqueues(t *testing.T) {
	queue := NewQueue()
	queue.Enqueue(record("tok0"))

	// Simulate a record arriving while a flush is in progress: the
	// snapshot was already taken, so the new record must survive.
	backlog := queue.snapshot()
	queue.Enqueue(record("tok1"))

	if len(backlog) != 1 {
		t.Fatalf("snapshot has %d records, want 1", len(backlog))
	}
	if queue.Len() != 1 {
		t.Fatalf("queue should keep the concurrent enqueue, has %d", queue.Len())
	}
}
