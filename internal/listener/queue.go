package listener

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"curvescan/internal/model"
	"curvescan/internal/storage"
)

// Queue buffers records awaiting the secondary store. It is owned by the
// Listener: constructed on start, drained one last time on stop.
type Queue struct {
	mu      sync.Mutex
	records []model.TokenRecord
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(record model.TokenRecord) {
	q.mu.Lock()
	q.records = append(q.records, record)
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// snapshot swaps the backlog out under the lock so records enqueued while
// a flush is in progress are never lost or double-written.
func (q *Queue) snapshot() []model.TokenRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	taken := q.records
	q.records = nil
	return taken
}

// Flush drains the current backlog into the secondary store. Records whose
// write fails are re-enqueued for the next cycle; the secondary store may
// lag but never silently loses data while the process is alive.
func (q *Queue) Flush(ctx context.Context, secondary storage.Store, logger *zap.Logger) (flushed, requeued int) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backlog := q.snapshot()
	for _, record := range backlog {
		if err := secondary.UpsertOne(ctx, record); err != nil {
			logger.Warn("secondary store write failed, record requeued",
				zap.String("token", record.TokenAddress),
				zap.Error(err),
			)
			q.Enqueue(record)
			requeued++
			continue
		}
		flushed++
	}
	return flushed, requeued
}
