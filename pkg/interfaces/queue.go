package interfaces

import (
	"context"
	"time"

	"pulsewire/pkg/types"
)

// QueueStore is the pluggable backing store for per-user offline messages.
// The in-memory store is the default; SQLite and Redis stores provide
// durability across process restarts behind the same contract.
//
// Stores enforce ring-buffer capacity on append (oldest entry evicted, never
// rejection). TTL expiry is applied lazily on drain.
type QueueStore interface {
	// Append adds a message to the user's FIFO, evicting the oldest entry
	// if the queue is at capacity.
	Append(ctx context.Context, userID string, msg *types.Message, enqueuedAt time.Time) error

	// DrainAll atomically removes and returns all non-expired messages for
	// the user in FIFO order. Entries enqueued before cutoff are discarded.
	DrainAll(ctx context.Context, userID string, cutoff time.Time) ([]*types.Message, error)

	// Len returns the user's current queue length without sweeping expired
	// entries.
	Len(ctx context.Context, userID string) (int, error)

	// Total returns the number of queued messages across all users.
	Total(ctx context.Context) (int, error)

	// Close releases store resources.
	Close() error
}
