package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/fanforge/fanforge/orchestration/internal/metrics"
	"github.com/fanforge/fanforge/orchestration/internal/orchestrator"
	"github.com/fanforge/fanforge/orchestration/internal/provider"
	"github.com/fanforge/fanforge/orchestration/internal/queue"
	"github.com/fanforge/fanforge/orchestration/internal/router"
	"github.com/fanforge/fanforge/orchestration/internal/store"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// ── Stubs ────────────────────────────────────────────────────

type stubProvider struct {
	id      models.ProviderID
	content string
	err     error
	calls   int
	healthy bool
}

func (s *stubProvider) ID() models.ProviderID { return s.id }

func (s *stubProvider) Execute(ctx context.Context, task provider.Task) (*provider.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Result{Provider: s.id, Content: s.content}, nil
}

func (s *stubProvider) HealthCheck(ctx context.Context) error {
	if s.healthy {
		return nil
	}
	return errors.New("unhealthy")
}

type stubQueue struct {
	enqueued []queue.OutboundMessage
	err      error
	pingErr  error
}

func (q *stubQueue) Enqueue(ctx context.Context, msg queue.OutboundMessage) (*queue.EnqueueResult, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.enqueued = append(q.enqueued, msg)
	return &queue.EnqueueResult{
		MessageID:    "msg-1",
		SQSMessageID: "sqs-1",
		GroupKey:     msg.UserID,
		DedupID:      "dedup-1",
		DelaySeconds: queue.ComplianceDelaySeconds,
	}, nil
}

func (q *stubQueue) Ping(ctx context.Context) error { return q.pingErr }

// ── Harness ──────────────────────────────────────────────────

type harness struct {
	orch       *orchestrator.Hybrid
	store      *store.MemoryStore
	sink       *metrics.MemorySink
	queue      *stubQueue
	planning   *stubProvider
	generation *stubProvider
	messaging  *stubProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      store.NewMemoryStore(),
		sink:       metrics.NewMemorySink(),
		queue:      &stubQueue{},
		planning:   &stubProvider{id: models.ProviderPlanning, content: "plan output", healthy: true},
		generation: &stubProvider{id: models.ProviderGeneration, content: "generated output", healthy: true},
		messaging:  &stubProvider{id: models.ProviderMessaging, content: "sent", healthy: true},
	}
	h.orch = orchestrator.New(
		h.store,
		router.NewController(h.sink),
		map[models.ProviderID]provider.Provider{
			models.ProviderPlanning:   h.planning,
			models.ProviderGeneration: h.generation,
			models.ProviderMessaging:  h.messaging,
		},
		h.queue,
		h.sink,
	)
	t.Cleanup(func() { h.store.Close() })
	return h
}

// ── Tests ────────────────────────────────────────────────────

func TestExecuteWorkflow_PrimarySucceeds(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.ExecuteWorkflow(context.Background(), "user-1", models.WorkflowRequest{
		Type: models.TaskContentPlanning,
	})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	if res.Provider != models.ProviderPlanning {
		t.Errorf("provider = %q, want planning", res.Provider)
	}
	if res.Content != "plan output" {
		t.Errorf("content = %q", res.Content)
	}
	if res.FallbackOccurred {
		t.Error("no fallback should have occurred")
	}
	if h.generation.calls != 0 {
		t.Errorf("secondary was called %d times, want 0", h.generation.calls)
	}

	wf, err := h.store.GetWorkflow(context.Background(), res.WorkflowID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if wf.CurrentProvider != models.ProviderPlanning {
		t.Errorf("current provider = %q", wf.CurrentProvider)
	}
	if wf.ProviderStates[models.ProviderPlanning] != models.ProviderSuccess {
		t.Errorf("planning state = %q", wf.ProviderStates[models.ProviderPlanning])
	}
	if wf.ProviderStates[models.ProviderGeneration] != models.ProviderPending {
		t.Errorf("generation state = %q, want pending", wf.ProviderStates[models.ProviderGeneration])
	}
	if len(wf.Checkpoint.FallbackHistory) != 0 {
		t.Errorf("fallback history should be empty, got %d", len(wf.Checkpoint.FallbackHistory))
	}
}

func TestExecuteWorkflow_FallbackRecovers(t *testing.T) {
	h := newHarness(t)
	h.planning.err = context.DeadlineExceeded

	res, err := h.orch.ExecuteWorkflow(context.Background(), "user-1", models.WorkflowRequest{
		Type: models.TaskContentPlanning,
	})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	if !res.FallbackOccurred {
		t.Fatal("fallback should have occurred")
	}
	if res.Provider != models.ProviderGeneration {
		t.Errorf("provider = %q, want generation", res.Provider)
	}
	if res.Content != "generated output" {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.FallbackHistory) != 1 {
		t.Fatalf("fallback history length = %d, want 1", len(res.FallbackHistory))
	}
	ev := res.FallbackHistory[0]
	if ev.From != models.ProviderPlanning || ev.To != models.ProviderGeneration {
		t.Errorf("fallback event %+v", ev)
	}
	if ev.Reason != provider.ReasonTimeout {
		t.Errorf("reason = %q, want timeout", ev.Reason)
	}

	wf, _ := h.store.GetWorkflow(context.Background(), res.WorkflowID)
	if wf.ProviderStates[models.ProviderPlanning] != models.ProviderFailed {
		t.Errorf("planning state = %q, want failed", wf.ProviderStates[models.ProviderPlanning])
	}
	if wf.ProviderStates[models.ProviderGeneration] != models.ProviderSuccess {
		t.Errorf("generation state = %q, want success", wf.ProviderStates[models.ProviderGeneration])
	}
	if wf.CurrentProvider != models.ProviderGeneration {
		t.Errorf("current provider = %q", wf.CurrentProvider)
	}
	if len(wf.Checkpoint.FallbackHistory) != 1 {
		t.Errorf("persisted history length = %d", len(wf.Checkpoint.FallbackHistory))
	}

	// One attempt metric per call: primary failure, secondary success.
	attempts := h.sink.ByName("provider_attempt_duration_ms")
	if len(attempts) != 2 {
		t.Fatalf("attempt metrics = %d, want 2", len(attempts))
	}
	if attempts[0].Dims["status"] != "failure" || attempts[1].Dims["status"] != "success" {
		t.Errorf("attempt statuses = %q, %q", attempts[0].Dims["status"], attempts[1].Dims["status"])
	}
}

func TestExecuteWorkflow_ExhaustionReturnsResultNotError(t *testing.T) {
	h := newHarness(t)
	h.generation.err = errors.New("model overloaded")
	h.planning.err = &provider.StatusError{Code: 429, Body: "slow down"}

	res, err := h.orch.ExecuteWorkflow(context.Background(), "user-1", models.WorkflowRequest{
		Type: models.TaskMessageGeneration,
	})
	if err != nil {
		t.Fatalf("exhaustion must not surface as an error: %v", err)
	}
	if !res.Failed() {
		t.Fatal("result should report failure")
	}
	if !strings.Contains(res.Err, "exhausted") {
		t.Errorf("error text = %q", res.Err)
	}
	if h.generation.calls != 1 || h.planning.calls != 1 {
		t.Errorf("calls = %d/%d, want exactly one each", h.generation.calls, h.planning.calls)
	}

	wf, _ := h.store.GetWorkflow(context.Background(), res.WorkflowID)
	if wf.ProviderStates[models.ProviderGeneration] != models.ProviderFailed {
		t.Errorf("generation state = %q", wf.ProviderStates[models.ProviderGeneration])
	}
	if wf.ProviderStates[models.ProviderPlanning] != models.ProviderFailed {
		t.Errorf("planning state = %q", wf.ProviderStates[models.ProviderPlanning])
	}
	// No provider owns the absent output.
	if wf.CurrentProvider != models.ProviderHybrid {
		t.Errorf("current provider = %q, want hybrid sentinel", wf.CurrentProvider)
	}
}

func TestExecuteWorkflow_UnknownTaskType(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ExecuteWorkflow(context.Background(), "user-1", models.WorkflowRequest{
		Type: "video_editing",
	})
	var cfg *router.ConfigurationError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestExecuteWorkflow_DeliveryQueued(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.ExecuteWorkflow(context.Background(), "u1", models.WorkflowRequest{
		Type:    models.TaskFanEngagement,
		Deliver: models.DeliveryRequest{Enabled: true, RecipientID: "fan-7"},
	})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	if res.Delivery == nil || res.Delivery.Status != models.MessageQueued {
		t.Fatalf("delivery = %+v, want queued", res.Delivery)
	}
	if res.Delivery.SQSMessageID != "sqs-1" {
		t.Errorf("sqs message id = %q", res.Delivery.SQSMessageID)
	}

	if len(h.queue.enqueued) != 1 {
		t.Fatalf("enqueued %d messages", len(h.queue.enqueued))
	}
	sent := h.queue.enqueued[0]
	if sent.UserID != "u1" || sent.RecipientID != "fan-7" {
		t.Errorf("enqueued message %+v", sent)
	}
	if sent.Trace == nil || sent.Trace.TraceID != res.TraceContext.TraceID {
		t.Error("trace context not attached to the outbound message")
	}

	msg, err := h.store.GetMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if msg.Status != models.MessageQueued || msg.GroupKey != "u1" {
		t.Errorf("persisted message %+v", msg)
	}
}

func TestExecuteWorkflow_DeliveryFailureIsPartialSuccess(t *testing.T) {
	h := newHarness(t)
	h.queue.err = &queue.DeliveryQueueError{MessageID: "msg-x", Err: errors.New("queue down")}

	res, err := h.orch.ExecuteWorkflow(context.Background(), "u1", models.WorkflowRequest{
		Type:    models.TaskFanEngagement,
		Deliver: models.DeliveryRequest{Enabled: true, RecipientID: "fan-7"},
	})
	if err != nil {
		t.Fatalf("queue failure must not fail the run: %v", err)
	}

	if res.Failed() {
		t.Error("run should still be a success")
	}
	if res.Content == "" {
		t.Error("content should survive a delivery failure")
	}
	if res.Delivery == nil || res.Delivery.Status != models.MessageFailed {
		t.Fatalf("delivery = %+v, want failed", res.Delivery)
	}

	msg, err := h.store.GetMessage(context.Background(), "msg-x")
	if err != nil {
		t.Fatalf("failed delivery should still be persisted: %v", err)
	}
	if msg.Status != models.MessageFailed {
		t.Errorf("message status = %q", msg.Status)
	}
}

func TestExecuteWorkflow_TraceContinuity(t *testing.T) {
	h := newHarness(t)

	parent := &models.TraceContext{TraceID: "trace-root", SpanID: "span-parent"}
	res, err := h.orch.ExecuteWorkflow(context.Background(), "u1", models.WorkflowRequest{
		Type:         models.TaskContentPlanning,
		TraceContext: parent,
	})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}

	tc := res.TraceContext
	if tc.TraceID != "trace-root" {
		t.Errorf("trace id = %q, want inherited", tc.TraceID)
	}
	if tc.ParentSpanID != "span-parent" {
		t.Errorf("parent span = %q", tc.ParentSpanID)
	}
	if tc.SpanID == "" || tc.SpanID == "span-parent" {
		t.Errorf("span id = %q, want fresh", tc.SpanID)
	}
	if tc.WorkflowID != res.WorkflowID {
		t.Errorf("trace workflow id = %q", tc.WorkflowID)
	}
}

func TestExecuteWorkflow_ForceProviderOverride(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.ExecuteWorkflow(context.Background(), "u1", models.WorkflowRequest{
		Type:          models.TaskContentPlanning,
		ForceProvider: models.ProviderGeneration,
	})
	if err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if res.Provider != models.ProviderGeneration {
		t.Errorf("provider = %q, want forced generation", res.Provider)
	}
	if h.planning.calls != 0 {
		t.Errorf("planning called %d times despite override", h.planning.calls)
	}
}

func TestHealthCheck_ProbesIndependently(t *testing.T) {
	h := newHarness(t)
	h.generation.healthy = false
	h.queue.pingErr = errors.New("no queue")

	got := h.orch.HealthCheck(context.Background())

	want := map[string]bool{
		"database":   true,
		"queue":      false,
		"planning":   true,
		"generation": false,
		"messaging":  true,
	}
	for name, healthy := range want {
		if got[name] != healthy {
			t.Errorf("%s healthy = %v, want %v", name, got[name], healthy)
		}
	}
}
