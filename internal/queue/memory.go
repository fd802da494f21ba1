package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process DeliveryQueue for development and tests.
// Messages are held in order with the same grouping and dedup semantics
// the SQS queue would apply; nothing is ever delivered.
type MemoryQueue struct {
	mu       sync.Mutex
	messages []OutboundMessage
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg OutboundMessage) (*EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return &EnqueueResult{
		MessageID:    uuid.New().String(),
		SQSMessageID: uuid.New().String(),
		GroupKey:     msg.UserID,
		DedupID:      newDedupID(),
		DelaySeconds: ComplianceDelaySeconds,
	}, nil
}

func (q *MemoryQueue) Ping(ctx context.Context) error { return nil }

// Messages returns a snapshot of everything enqueued so far.
func (q *MemoryQueue) Messages() []OutboundMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]OutboundMessage, len(q.messages))
	copy(out, q.messages)
	return out
}
