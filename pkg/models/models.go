package models

import (
	"time"
)

// ── Task Types ───────────────────────────────────────────────

// TaskType enumerates the kinds of work the orchestrator knows how to route.
type TaskType string

const (
	TaskContentPlanning   TaskType = "content_planning"
	TaskMessageGeneration TaskType = "message_generation"
	TaskFanEngagement     TaskType = "fan_engagement"
	TaskMarketingCampaign TaskType = "marketing_campaign"
)

// KnownTaskTypes lists every task type the router has a policy for.
func KnownTaskTypes() []TaskType {
	return []TaskType{
		TaskContentPlanning,
		TaskMessageGeneration,
		TaskFanEngagement,
		TaskMarketingCampaign,
	}
}

// ── Providers ────────────────────────────────────────────────

// ProviderID identifies a backend capability the orchestrator can call.
type ProviderID string

const (
	// ProviderPlanning is the primary planning/content-generation backend.
	ProviderPlanning ProviderID = "planning"
	// ProviderGeneration is the fallback text-generation backend.
	ProviderGeneration ProviderID = "generation"
	// ProviderMessaging is the outbound messaging platform gateway.
	ProviderMessaging ProviderID = "messaging"

	// ProviderHybrid is the sentinel recorded while a run is still deciding
	// (or has fallen back) between the planning and generation providers.
	ProviderHybrid ProviderID = "hybrid"
)

// KnownProviders lists every concrete provider a workflow tracks state for.
// ProviderHybrid is a sentinel, not a callable provider, so it is excluded.
func KnownProviders() []ProviderID {
	return []ProviderID{ProviderPlanning, ProviderGeneration, ProviderMessaging}
}

// ProviderState is the per-run status of one provider.
type ProviderState string

const (
	ProviderPending ProviderState = "pending"
	ProviderSuccess ProviderState = "success"
	ProviderFailed  ProviderState = "failed"
)

// ── Trace Context ────────────────────────────────────────────

// TraceContext carries distributed-tracing identifiers across workflow
// boundaries. A trace spans the whole causal chain of related runs; a span
// identifies one run's contribution within it.
type TraceContext struct {
	TraceID      string    `json:"trace_id"`
	SpanID       string    `json:"span_id"`
	ParentSpanID string    `json:"parent_span_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	WorkflowID   string    `json:"workflow_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ── Workflow Request / Result ────────────────────────────────

// DeliveryRequest asks for the run's output to be queued for outbound
// delivery to the messaging platform.
type DeliveryRequest struct {
	Enabled     bool   `json:"enabled"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// WorkflowRequest is the input to one orchestration run.
type WorkflowRequest struct {
	Type    TaskType               `json:"type"`
	UserID  string                 `json:"user_id"`
	Payload map[string]interface{} `json:"payload,omitempty"`

	// ForceProvider bypasses the default routing policy when it names a
	// known provider.
	ForceProvider ProviderID `json:"force_provider,omitempty"`

	// Deliver requests outbound delivery of the result.
	Deliver DeliveryRequest `json:"deliver,omitempty"`

	// TraceContext is the optional inbound trace context propagated from a
	// calling workflow.
	TraceContext *TraceContext `json:"trace_context,omitempty"`
}

// DeliveryStatus reports the outcome of the outbound-delivery leg of a run.
type DeliveryStatus struct {
	Status       MessageStatus `json:"status"`
	SQSMessageID string        `json:"sqs_message_id,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// WorkflowResult is the output of one orchestration run. A failed run still
// produces a result describing which providers were tried and why each
// failed; the orchestrator never lets a provider error escape raw.
type WorkflowResult struct {
	WorkflowID       string                 `json:"workflow_id"`
	Provider         ProviderID             `json:"provider,omitempty"`
	Content          string                 `json:"content,omitempty"`
	Raw              map[string]interface{} `json:"raw,omitempty"`
	FallbackOccurred bool                   `json:"fallback_occurred"`
	FallbackHistory  []FallbackEvent        `json:"fallback_history,omitempty"`
	TraceContext     TraceContext           `json:"trace_context"`
	Delivery         *DeliveryStatus        `json:"delivery,omitempty"`
	Err              string                 `json:"error,omitempty"`
	DurationMs       int64                  `json:"duration_ms"`
}

// Failed reports whether the run produced no usable content.
func (r *WorkflowResult) Failed() bool { return r.Err != "" }

// ── Persisted Workflow ───────────────────────────────────────

// FallbackEvent records one primary→secondary provider transition.
type FallbackEvent struct {
	From      ProviderID `json:"from"`
	To        ProviderID `json:"to"`
	Reason    string     `json:"reason"`
	Timestamp time.Time  `json:"timestamp"`
}

// CheckpointData is the append-only structured log recorded against a
// workflow. Entries are only ever appended, never overwritten.
type CheckpointData struct {
	FallbackHistory []FallbackEvent `json:"fallback_history"`
}

// Workflow is the durable record of one orchestration run. The orchestrator
// creates it before the first provider call and never deletes it; retention
// is an external concern.
type Workflow struct {
	WorkflowID      string                       `json:"workflow_id"`
	UserID          string                       `json:"user_id"`
	CurrentProvider ProviderID                   `json:"current_provider"`
	ProviderStates  map[ProviderID]ProviderState `json:"provider_states"`
	Checkpoint      CheckpointData               `json:"checkpoint_data"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// NewWorkflow builds a workflow record with every known provider initialized
// to pending, so a crash mid-run leaves an inspectable partial record.
func NewWorkflow(workflowID, userID string) *Workflow {
	states := make(map[ProviderID]ProviderState, len(KnownProviders()))
	for _, p := range KnownProviders() {
		states[p] = ProviderPending
	}
	now := time.Now().UTC()
	return &Workflow{
		WorkflowID:      workflowID,
		UserID:          userID,
		CurrentProvider: ProviderHybrid,
		ProviderStates:  states,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ── Queued Messages ──────────────────────────────────────────

// MessageStatus is the lifecycle state of one outbound message.
type MessageStatus string

const (
	MessageQueued MessageStatus = "queued"
	MessageFailed MessageStatus = "failed"
)

// QueuedMessage is the persisted record of one unit of outbound delivery.
// GroupKey equals the owning user's ID so the FIFO queue preserves per-user
// ordering; DedupID is run-unique so retries within the dedup window
// coalesce.
type QueuedMessage struct {
	ID           string        `json:"id"`
	WorkflowID   string        `json:"workflow_id"`
	RecipientID  string        `json:"recipient_id"`
	Content      string        `json:"content"`
	GroupKey     string        `json:"group_key"`
	DedupID      string        `json:"dedup_id"`
	SQSMessageID string        `json:"sqs_message_id,omitempty"`
	Status       MessageStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}
