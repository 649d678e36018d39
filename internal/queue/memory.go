package queue

import (
	"context"
	"sync"
	"time"

	"pulsewire/pkg/types"
)

type queuedMessage struct {
	msg        *types.Message
	enqueuedAt time.Time
}

// MemoryStore is the default, ephemeral backing store: per-user slices with
// ring-buffer overflow. State does not survive process restart.
type MemoryStore struct {
	mu      sync.Mutex
	maxSize int
	queues  map[string][]queuedMessage
}

// NewMemoryStore creates an in-memory store bounded at maxSize entries per
// user.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	return &MemoryStore{
		maxSize: maxSize,
		queues:  make(map[string][]queuedMessage),
	}
}

func (s *MemoryStore) Append(_ context.Context, userID string, msg *types.Message, enqueuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := append(s.queues[userID], queuedMessage{msg: msg, enqueuedAt: enqueuedAt})
	if len(q) > s.maxSize {
		// Re-slice onto a fresh array so the evicted head can be collected.
		q = append([]queuedMessage(nil), q[len(q)-s.maxSize:]...)
	}
	s.queues[userID] = q
	return nil
}

func (s *MemoryStore) DrainAll(_ context.Context, userID string, cutoff time.Time) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, exists := s.queues[userID]
	if !exists {
		return nil, nil
	}
	delete(s.queues, userID)

	msgs := make([]*types.Message, 0, len(q))
	for _, entry := range q {
		if entry.enqueuedAt.Before(cutoff) {
			continue // expired
		}
		msgs = append(msgs, entry.msg)
	}
	return msgs, nil
}

func (s *MemoryStore) Len(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[userID]), nil
}

func (s *MemoryStore) Total(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues = make(map[string][]queuedMessage)
	return nil
}
