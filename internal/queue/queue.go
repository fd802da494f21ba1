// Package queue implements rate-limited outbound delivery through an SQS
// FIFO queue. Grouping by user preserves per-user message order, content
// deduplication coalesces retries inside the dedup window, and a fixed
// delivery delay gives compliance tooling a window to intercept a message
// before it leaves the platform.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/fanforge/fanforge/orchestration/pkg/models"
	"github.com/google/uuid"
)

// ComplianceDelaySeconds is the mandatory hold applied to every outbound
// message before the messaging platform may pick it up.
const ComplianceDelaySeconds = 45

// OutboundMessage is one unit of delivery handed to the queue.
type OutboundMessage struct {
	WorkflowID  string               `json:"workflow_id"`
	UserID      string               `json:"user_id"`
	RecipientID string               `json:"recipient_id"`
	Content     string               `json:"content"`
	Trace       *models.TraceContext `json:"trace_context,omitempty"`
}

// EnqueueResult describes a successfully queued message.
type EnqueueResult struct {
	MessageID    string
	SQSMessageID string
	GroupKey     string
	DedupID      string
	DelaySeconds int32
}

// DeliveryQueue is the outbound-delivery interface consumed by the
// orchestrator. An Enqueue failure means the message is NOT queued; the
// caller records it as failed and reports partial success, it never
// retries inline.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, msg OutboundMessage) (*EnqueueResult, error)
	Ping(ctx context.Context) error
}

// DeliveryQueueError wraps a queue send failure. The workflow result that
// produced the message is still valid; only delivery is pending.
type DeliveryQueueError struct {
	MessageID string
	Err       error
}

func (e *DeliveryQueueError) Error() string {
	return fmt.Sprintf("delivery queue: message %s not queued: %v", e.MessageID, e.Err)
}

func (e *DeliveryQueueError) Unwrap() error { return e.Err }

// newDedupID builds the deduplication token for one send: a fresh UUID
// joined with the current unix timestamp. Unique per run, stable long
// enough for SQS to coalesce a duplicate send inside the dedup window.
func newDedupID() string {
	return fmt.Sprintf("%s-%d", uuid.New().String(), time.Now().Unix())
}
