package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pulsewire/pkg/interfaces"
	"pulsewire/pkg/types"
)

// Defaults favor recency over completeness: this is a best-effort transport
// buffer for temporarily offline users, not a durable log.
const (
	DefaultMaxQueueSize = 100
	DefaultMessageTTL   = time.Hour
)

// Queue holds not-yet-delivered messages per user until their next connect.
// Operations never fail the caller: a full queue drops its oldest entry, a
// missing user degrades to an empty result, and store failures are logged
// and absorbed.
type Queue struct {
	store interfaces.QueueStore
	ttl   time.Duration
	log   *zap.Logger
}

// NewQueue creates an offline queue over the given backing store. A nil
// store selects the in-memory default.
func NewQueue(store interfaces.QueueStore, ttl time.Duration, log *zap.Logger) *Queue {
	if store == nil {
		store = NewMemoryStore(DefaultMaxQueueSize)
	}
	if ttl <= 0 {
		ttl = DefaultMessageTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{store: store, ttl: ttl, log: log}
}

// Enqueue appends to the user's bounded FIFO. At capacity the oldest entry
// is silently dropped to admit the new one.
func (q *Queue) Enqueue(ctx context.Context, userID string, msg *types.Message) {
	if msg == nil {
		return
	}
	if err := q.store.Append(ctx, userID, msg, time.Now().UTC()); err != nil {
		q.log.Warn("offline enqueue failed, message dropped",
			zap.String("user_id", userID),
			zap.String("message_type", msg.Type),
			zap.Error(err))
	}
}

// DequeueAll atomically drains and returns all non-expired messages for the
// user, oldest first. Expired entries are silently discarded. A second call
// returns an empty result.
func (q *Queue) DequeueAll(ctx context.Context, userID string) []*types.Message {
	cutoff := time.Now().UTC().Add(-q.ttl)
	msgs, err := q.store.DrainAll(ctx, userID, cutoff)
	if err != nil {
		q.log.Warn("offline drain failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil
	}
	return msgs
}

// QueueSize returns the user's current count. Expired entries are not swept
// here; only DequeueAll sweeps.
func (q *Queue) QueueSize(ctx context.Context, userID string) int {
	n, err := q.store.Len(ctx, userID)
	if err != nil {
		q.log.Warn("offline queue size read failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0
	}
	return n
}

// Total returns the queued message count across all users, for metrics.
func (q *Queue) Total(ctx context.Context) int {
	n, err := q.store.Total(ctx)
	if err != nil {
		q.log.Warn("offline queue total read failed", zap.Error(err))
		return 0
	}
	return n
}

// Close releases the backing store.
func (q *Queue) Close() error {
	return q.store.Close()
}
