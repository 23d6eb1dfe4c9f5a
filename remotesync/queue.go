package remotesync

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/housepoints/ledger-go/ledger"
)

// QueuedPush is a balance push that failed delivery after its bounded retries
// and is parked for a later reconciliation pass. The fingerprint is the one
// the original delivery carried, so a replayed push is still recognizable.
type QueuedPush struct {
	FamilyID    uuid.UUID        `json:"family_id"`
	MemberID    uuid.UUID        `json:"member_id"`
	Points      ledger.PointsInt `json:"points"`
	Reason      string           `json:"reason"`
	Fingerprint string           `json:"fingerprint"`
	QueuedAt    time.Time        `json:"queued_at"`
}

// PushQueue receives balance pushes that exhausted their delivery retries.
type PushQueue interface {
	Enqueue(ctx context.Context, push QueuedPush) error
}

// MemoryQueue is an in-process PushQueue for single-instance deployments and
// tests. A reconciliation pass drains it; if the process dies the queued
// pushes are lost, which the next reconciliation run heals anyway.
type MemoryQueue struct {
	mu     sync.Mutex
	pushes []QueuedPush
}

// NewMemoryQueue creates an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue appends the push. It never fails.
func (q *MemoryQueue) Enqueue(_ context.Context, push QueuedPush) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pushes = append(q.pushes, push)

	return nil
}

// Drain returns all queued pushes and empties the queue.
func (q *MemoryQueue) Drain() []QueuedPush {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.pushes
	q.pushes = nil

	return drained
}

// Len returns the number of queued pushes.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pushes)
}
