package models

import "time"

// ── Cross-Stack Pipelines ────────────────────────────────────

// Stack names one of the external subsystems a pipeline step can target.
type Stack string

const (
	StackAI        Stack = "ai"
	StackContent   Stack = "content"
	StackMarketing Stack = "marketing"
	StackPlatform  Stack = "platform"
	StackAnalytics Stack = "analytics"
)

// StepStatus is the lifecycle state of one pipeline step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PipelineStatus is the workflow-level lifecycle state.
type PipelineStatus string

const (
	PipelinePending   PipelineStatus = "pending"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
)

// PipelineStep is one unit of a cross-stack pipeline, delegated to the
// handler registered for its stack.
type PipelineStep struct {
	Name        string                 `json:"name"`
	Stack       Stack                  `json:"stack"`
	Status      StepStatus             `json:"status"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Pipeline is one cross-stack workflow: an ordered sequence of steps that
// executes strictly in declared order and halts on the first step failure.
type Pipeline struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	UserID      string         `json:"user_id"`
	Status      PipelineStatus `json:"status"`
	Steps       []PipelineStep `json:"steps"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	// Results accumulates each completed step's output keyed by step name.
	Results map[string]map[string]interface{} `json:"results,omitempty"`
	Errors  []string                          `json:"errors,omitempty"`
}
