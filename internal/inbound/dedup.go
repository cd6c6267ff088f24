package inbound

import (
	"context"
	"time"

	"github.com/nerrad567/therapy-core/internal/infrastructure/cache"
)

// MarkStore sets a key once.
type MarkStore interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Deduplicator suppresses repeated inbound message ids across every
// instance sharing the cache.
type Deduplicator struct {
	store  MarkStore
	logger Logger
}

// NewDeduplicator creates a deduplicator over store.
func NewDeduplicator(store MarkStore) *Deduplicator {
	return &Deduplicator{store: store, logger: noopLogger{}}
}

// SetLogger sets the logger for the deduplicator.
func (d *Deduplicator) SetLogger(logger Logger) {
	d.logger = logger
}

// CheckAndMark reports whether the caller should process msgID, marking
// it seen for ttl.
//
// An empty id always proceeds. When the cache cannot be reached the
// message also proceeds: a possible duplicate is preferred over a dropped
// report.
func (d *Deduplicator) CheckAndMark(ctx context.Context, msgID string, ttl time.Duration) bool {
	if msgID == "" {
		return true
	}
	created, err := d.store.SetIfAbsent(ctx, cache.DedupKey(msgID), ttl)
	if err != nil {
		d.logger.Warn("dedup check failed, processing message", "msg_id", msgID, "error", err)
		return true
	}
	return created
}
