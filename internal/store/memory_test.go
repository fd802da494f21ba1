package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fanforge/fanforge/orchestration/internal/store"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateWorkflow_InitializesAllProvidersPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := models.NewWorkflow("wf-1", "user-1")
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	got, err := s.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.CurrentProvider != models.ProviderHybrid {
		t.Errorf("current provider = %q, want %q", got.CurrentProvider, models.ProviderHybrid)
	}
	for _, p := range models.KnownProviders() {
		if got.ProviderStates[p] != models.ProviderPending {
			t.Errorf("provider %s state = %q, want pending", p, got.ProviderStates[p])
		}
	}
	if len(got.Checkpoint.FallbackHistory) != 0 {
		t.Errorf("expected empty fallback history, got %d entries", len(got.Checkpoint.FallbackHistory))
	}
}

func TestGetWorkflow_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWorkflow(context.Background(), "missing")
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if nf.Entity != "workflow" {
		t.Errorf("entity = %q, want workflow", nf.Entity)
	}
}

func TestGetWorkflow_ReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := models.NewWorkflow("wf-1", "user-1")
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	got, _ := s.GetWorkflow(ctx, "wf-1")
	got.ProviderStates[models.ProviderPlanning] = models.ProviderFailed

	again, _ := s.GetWorkflow(ctx, "wf-1")
	if again.ProviderStates[models.ProviderPlanning] != models.ProviderPending {
		t.Error("mutating a returned workflow leaked into the store")
	}
}

func TestSetProviderState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateWorkflow(ctx, models.NewWorkflow("wf-1", "user-1"))
	if err := s.SetProviderState(ctx, "wf-1", models.ProviderPlanning, models.ProviderSuccess); err != nil {
		t.Fatalf("SetProviderState: %v", err)
	}

	got, _ := s.GetWorkflow(ctx, "wf-1")
	if got.ProviderStates[models.ProviderPlanning] != models.ProviderSuccess {
		t.Errorf("planning state = %q, want success", got.ProviderStates[models.ProviderPlanning])
	}
	if got.ProviderStates[models.ProviderGeneration] != models.ProviderPending {
		t.Error("unrelated provider state changed")
	}

	err := s.SetProviderState(ctx, "missing", models.ProviderPlanning, models.ProviderSuccess)
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound for missing workflow, got %v", err)
	}
}

func TestAppendFallback_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateWorkflow(ctx, models.NewWorkflow("wf-1", "user-1"))

	first := models.FallbackEvent{
		From:      models.ProviderPlanning,
		To:        models.ProviderGeneration,
		Reason:    "timeout",
		Timestamp: time.Now().UTC(),
	}
	second := models.FallbackEvent{
		From:      models.ProviderGeneration,
		To:        models.ProviderPlanning,
		Reason:    "rate_limited",
		Timestamp: time.Now().UTC(),
	}
	if err := s.AppendFallback(ctx, "wf-1", first); err != nil {
		t.Fatalf("AppendFallback: %v", err)
	}
	if err := s.AppendFallback(ctx, "wf-1", second); err != nil {
		t.Fatalf("AppendFallback: %v", err)
	}

	got, _ := s.GetWorkflow(ctx, "wf-1")
	history := got.Checkpoint.FallbackHistory
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Reason != "timeout" || history[1].Reason != "rate_limited" {
		t.Errorf("history out of order: %+v", history)
	}
}

func TestListWorkflows_FiltersByUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.CreateWorkflow(ctx, models.NewWorkflow(fmt.Sprintf("wf-a-%d", i), "alice"))
	}
	s.CreateWorkflow(ctx, models.NewWorkflow("wf-b-0", "bob"))

	got, err := s.ListWorkflows(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d workflows for alice, want 3", len(got))
	}

	all, _ := s.ListWorkflows(ctx, "", 10)
	if len(all) != 4 {
		t.Errorf("got %d workflows unfiltered, want 4", len(all))
	}

	limited, _ := s.ListWorkflows(ctx, "", 2)
	if len(limited) != 2 {
		t.Errorf("got %d workflows with limit 2, want 2", len(limited))
	}
}

func TestConcurrentUpdates_DistinctWorkflows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		s.CreateWorkflow(ctx, models.NewWorkflow(fmt.Sprintf("wf-%d", i), "user-1"))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("wf-%d", i)
			s.SetProviderState(ctx, id, models.ProviderPlanning, models.ProviderSuccess)
			s.SetCurrentProvider(ctx, id, models.ProviderPlanning)
			s.AppendFallback(ctx, id, models.FallbackEvent{
				From: models.ProviderPlanning, To: models.ProviderGeneration, Reason: "timeout",
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		got, err := s.GetWorkflow(ctx, fmt.Sprintf("wf-%d", i))
		if err != nil {
			t.Fatalf("GetWorkflow wf-%d: %v", i, err)
		}
		if got.ProviderStates[models.ProviderPlanning] != models.ProviderSuccess {
			t.Errorf("wf-%d planning state = %q", i, got.ProviderStates[models.ProviderPlanning])
		}
		if len(got.Checkpoint.FallbackHistory) != 1 {
			t.Errorf("wf-%d history length = %d, want 1", i, len(got.Checkpoint.FallbackHistory))
		}
	}
}

func TestMessages_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &models.QueuedMessage{
		ID:          "msg-1",
		WorkflowID:  "wf-1",
		RecipientID: "fan-9",
		Content:     "hello",
		GroupKey:    "user-1",
		DedupID:     "abc-123",
		Status:      models.MessageQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	got, err := s.GetMessage(ctx, "msg-1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.GroupKey != "user-1" || got.Status != models.MessageQueued {
		t.Errorf("unexpected message: %+v", got)
	}

	_, err = s.GetMessage(ctx, "missing")
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPipelines_CreateUpdateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Pipeline{
		ID:     "pl-1",
		Type:   "launch_campaign",
		UserID: "user-1",
		Status: models.PipelineRunning,
		Steps: []models.PipelineStep{
			{Name: "plan", Stack: models.StackAI, Status: models.StepPending},
		},
	}
	if err := s.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	p.Status = models.PipelineCompleted
	p.Steps[0].Status = models.StepCompleted
	if err := s.UpdatePipeline(ctx, p); err != nil {
		t.Fatalf("UpdatePipeline: %v", err)
	}

	got, err := s.GetPipeline(ctx, "pl-1")
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if got.Status != models.PipelineCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Steps[0].Status != models.StepCompleted {
		t.Errorf("step status = %q, want completed", got.Steps[0].Status)
	}

	err = s.UpdatePipeline(ctx, &models.Pipeline{ID: "missing"})
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound updating missing pipeline, got %v", err)
	}
}

func TestGetPipeline_ReturnsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &models.Pipeline{
		ID:     "pl-1",
		Type:   "launch_campaign",
		UserID: "user-1",
		Status: models.PipelineCompleted,
		Steps: []models.PipelineStep{
			{
				Name:   "plan",
				Stack:  models.StackAI,
				Status: models.StepCompleted,
				Result: map[string]interface{}{"content": "original"},
			},
		},
		Results: map[string]map[string]interface{}{
			"plan": {"content": "original"},
		},
	}
	if err := s.CreatePipeline(ctx, p); err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}

	got, _ := s.GetPipeline(ctx, "pl-1")
	got.Steps[0].Result["content"] = "mutated"
	got.Results["plan"]["content"] = "mutated"

	again, _ := s.GetPipeline(ctx, "pl-1")
	if again.Steps[0].Result["content"] != "original" {
		t.Error("mutating a returned step result leaked into the store")
	}
	if again.Results["plan"]["content"] != "original" {
		t.Error("mutating a returned results map leaked into the store")
	}
}
