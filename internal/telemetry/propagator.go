package telemetry

import (
	"time"

	"github.com/fanforge/fanforge/orchestration/pkg/models"
	"github.com/google/uuid"
)

// DeriveChildContext derives the trace context for one orchestration run.
//
// With no parent, it starts a new trace: fresh trace id, root span id, no
// parent span. With a parent, the trace id is copied unchanged so the whole
// causal chain shares one trace, the parent's span id becomes ParentSpanID,
// and a fresh span id is generated for this run. The new span id is never
// equal to the parent's.
func DeriveChildContext(parent *models.TraceContext, userID, workflowID string) models.TraceContext {
	child := models.TraceContext{
		SpanID:     newSpanID(),
		UserID:     userID,
		WorkflowID: workflowID,
		Timestamp:  time.Now().UTC(),
	}

	if parent == nil || parent.TraceID == "" {
		child.TraceID = uuid.New().String()
		return child
	}

	child.TraceID = parent.TraceID
	child.ParentSpanID = parent.SpanID
	for child.SpanID == parent.SpanID {
		child.SpanID = newSpanID()
	}
	return child
}

// Dimensions flattens a trace context into metric dimensions.
func Dimensions(tc models.TraceContext) map[string]string {
	dims := map[string]string{
		"trace_id": tc.TraceID,
		"span_id":  tc.SpanID,
	}
	if tc.UserID != "" {
		dims["user_id"] = tc.UserID
	}
	if tc.WorkflowID != "" {
		dims["workflow_id"] = tc.WorkflowID
	}
	return dims
}

func newSpanID() string {
	return uuid.New().String()
}
