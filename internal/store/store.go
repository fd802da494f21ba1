// Package store provides the workflow state store: the durable record of
// each orchestration run and its outbound messages. Handler and
// orchestrator code depend on the Store interface, making it easy to swap
// between in-memory (tests, local dev) and PostgreSQL (production)
// implementations.
package store

import (
	"context"
	"fmt"

	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// Store is the persistence interface consumed by the orchestrator.
//
// All writes for one workflow are serialized by workflow id; writes for
// distinct workflows are independent. Callers never need external locking.
type Store interface {
	WorkflowStore
	MessageStore
	PipelineStore

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// WorkflowStore manages orchestration-run records. CreateWorkflow must
// persist every known provider at pending before the first provider call,
// so a crash mid-run leaves an inspectable partial record. Workflows are
// never deleted here; retention is an external concern.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error)

	// SetProviderState transitions one provider's per-run status. States
	// move monotonically from pending to success or failed and never revert.
	SetProviderState(ctx context.Context, workflowID string, p models.ProviderID, state models.ProviderState) error

	// SetCurrentProvider records which provider the run is attributed to.
	SetCurrentProvider(ctx context.Context, workflowID string, p models.ProviderID) error

	// AppendFallback appends one event to the workflow's checkpoint
	// fallback history. Append-only: existing entries are never rewritten.
	AppendFallback(ctx context.Context, workflowID string, event models.FallbackEvent) error
}

// MessageStore persists outbound-delivery records.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.QueuedMessage) error
	GetMessage(ctx context.Context, id string) (*models.QueuedMessage, error)
}

// PipelineStore persists cross-stack pipeline runs.
type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *models.Pipeline) error
	UpdatePipeline(ctx context.Context, p *models.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*models.Pipeline, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// PersistenceError is a failed store write. It is fatal for the step that
// needed the checkpoint but never corrupts other workflows.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
