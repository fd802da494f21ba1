package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// MemoryStore implements Store with in-memory maps. A single RWMutex
// serializes all writes, which trivially satisfies per-workflow write
// serialization while keeping distinct workflows from corrupting each other.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
	messages  map[string]*models.QueuedMessage
	pipelines map[string]*models.Pipeline
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*models.Workflow),
		messages:  make(map[string]*models.QueuedMessage),
		pipelines: make(map[string]*models.Pipeline),
	}
}

// ── Workflows ────────────────────────────────────────────────

func (m *MemoryStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := cloneWorkflow(wf)
	m.workflows[wf.WorkflowID] = copied
	return nil
}

func (m *MemoryStore) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	return cloneWorkflow(wf), nil
}

func (m *MemoryStore) ListWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Workflow
	for _, wf := range m.workflows {
		if userID == "" || wf.UserID == userID {
			out = append(out, *cloneWorkflow(wf))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SetProviderState(ctx context.Context, workflowID string, p models.ProviderID, state models.ProviderState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	wf.ProviderStates[p] = state
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetCurrentProvider(ctx context.Context, workflowID string, p models.ProviderID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	wf.CurrentProvider = p
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) AppendFallback(ctx context.Context, workflowID string, event models.FallbackEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return &ErrNotFound{Entity: "workflow", Key: workflowID}
	}
	wf.Checkpoint.FallbackHistory = append(wf.Checkpoint.FallbackHistory, event)
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

// ── Messages ─────────────────────────────────────────────────

func (m *MemoryStore) CreateMessage(ctx context.Context, msg *models.QueuedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *msg
	m.messages[msg.ID] = &copied
	return nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, id string) (*models.QueuedMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "message", Key: id}
	}
	copied := *msg
	return &copied, nil
}

// ── Pipelines ────────────────────────────────────────────────

func (m *MemoryStore) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelines[p.ID] = clonePipeline(p)
	return nil
}

func (m *MemoryStore) UpdatePipeline(ctx context.Context, p *models.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[p.ID]; !ok {
		return &ErrNotFound{Entity: "pipeline", Key: p.ID}
	}
	m.pipelines[p.ID] = clonePipeline(p)
	return nil
}

func (m *MemoryStore) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "pipeline", Key: id}
	}
	return clonePipeline(p), nil
}

// ── Lifecycle ────────────────────────────────────────────────

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// ── Clone helpers ────────────────────────────────────────────
// Stored records are cloned on the way in and out so callers can't mutate
// shared state behind the mutex.

func cloneWorkflow(wf *models.Workflow) *models.Workflow {
	copied := *wf
	copied.ProviderStates = make(map[models.ProviderID]models.ProviderState, len(wf.ProviderStates))
	for k, v := range wf.ProviderStates {
		copied.ProviderStates[k] = v
	}
	copied.Checkpoint.FallbackHistory = append([]models.FallbackEvent(nil), wf.Checkpoint.FallbackHistory...)
	return &copied
}

func clonePipeline(p *models.Pipeline) *models.Pipeline {
	copied := *p
	copied.Steps = append([]models.PipelineStep(nil), p.Steps...)
	for i := range copied.Steps {
		copied.Steps[i].Result = cloneResult(copied.Steps[i].Result)
	}
	copied.Errors = append([]string(nil), p.Errors...)
	if p.Results != nil {
		copied.Results = make(map[string]map[string]interface{}, len(p.Results))
		for k, v := range p.Results {
			copied.Results[k] = cloneResult(v)
		}
	}
	return &copied
}

func cloneResult(res map[string]interface{}) map[string]interface{} {
	if res == nil {
		return nil
	}
	copied := make(map[string]interface{}, len(res))
	for k, v := range res {
		copied[k] = v
	}
	return copied
}
