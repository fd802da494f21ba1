// Package coordinator sequences multi-step workflows across the platform's
// subsystem stacks. Each step names a stack and an operation; the
// coordinator dispatches to the registered handler for that stack, threading
// the accumulated results of earlier steps into each later one.
//
// Execution is strictly sequential. The first failing step halts the run:
// its error is recorded, later steps stay pending, and the pipeline is
// marked failed. Step results are threaded as an explicit accumulator that
// is copied before every step, so a handler can read everything produced so
// far but can never mutate history.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fanforge/fanforge/orchestration/internal/metrics"
	"github.com/fanforge/fanforge/orchestration/internal/notify"
	"github.com/fanforge/fanforge/orchestration/internal/store"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

const metricNamespace = "fanforge"

// StackHandler executes the steps that target one subsystem stack. The
// results argument is a read-only snapshot of every earlier step's output,
// keyed by step name.
type StackHandler interface {
	Stack() models.Stack
	ExecuteStep(ctx context.Context, userID string, step models.PipelineStep, results map[string]map[string]interface{}) (map[string]interface{}, error)
}

// Coordinator runs cross-stack pipelines.
type Coordinator struct {
	store    store.PipelineStore
	hub      notify.Hub
	sink     metrics.Sink
	handlers map[models.Stack]StackHandler
}

// New builds a coordinator. Handlers for each stack are registered with
// Register before the first run.
func New(s store.PipelineStore, hub notify.Hub, sink metrics.Sink) *Coordinator {
	return &Coordinator{
		store:    s,
		hub:      hub,
		sink:     sink,
		handlers: make(map[models.Stack]StackHandler),
	}
}

// Register installs the handler for its stack, replacing any previous one.
func (c *Coordinator) Register(h StackHandler) {
	c.handlers[h.Stack()] = h
	log.Info().Str("stack", string(h.Stack())).Msg("Registered stack handler")
}

// Run executes the given steps in order and persists the pipeline record
// through every transition. A step failure is encoded in the returned
// pipeline, not in the error; the error is non-nil only when persistence
// fails.
func (c *Coordinator) Run(ctx context.Context, userID, pipelineType string, steps []models.PipelineStep) (*models.Pipeline, error) {
	now := time.Now().UTC()
	p := &models.Pipeline{
		ID:        uuid.New().String(),
		Type:      pipelineType,
		UserID:    userID,
		Status:    models.PipelineRunning,
		Steps:     make([]models.PipelineStep, len(steps)),
		StartedAt: &now,
		Results:   map[string]map[string]interface{}{},
	}
	copy(p.Steps, steps)
	for i := range p.Steps {
		p.Steps[i].Status = models.StepPending
		p.Steps[i].StartedAt = nil
		p.Steps[i].CompletedAt = nil
		p.Steps[i].Result = nil
		p.Steps[i].Error = ""
	}

	if err := c.store.CreatePipeline(ctx, p); err != nil {
		return nil, err
	}

	log.Info().
		Str("pipeline_id", p.ID).
		Str("type", pipelineType).
		Str("user_id", userID).
		Int("steps", len(steps)).
		Msg("Pipeline started")

	// The accumulator threads each step's output to its successors. It is
	// re-copied before every step so no handler can rewrite history.
	results := map[string]map[string]interface{}{}

	for i := range p.Steps {
		step := &p.Steps[i]
		stepStart := time.Now().UTC()
		step.Status = models.StepRunning
		step.StartedAt = &stepStart
		if err := c.store.UpdatePipeline(ctx, p); err != nil {
			return nil, err
		}

		dims := c.stepDims(p, step)
		c.sink.Emit(metricNamespace, "pipeline_step_started", 1, dims)

		output, err := c.dispatch(ctx, p.UserID, *step, snapshot(results))
		stepDone := time.Now().UTC()
		step.CompletedAt = &stepDone
		elapsed := stepDone.Sub(stepStart).Milliseconds()

		if err != nil {
			step.Status = models.StepFailed
			step.Error = err.Error()
			p.Status = models.PipelineFailed
			p.Errors = append(p.Errors, fmt.Sprintf("Step %s failed: %v", step.Name, err))

			dims["status"] = "failure"
			c.sink.Emit(metricNamespace, "pipeline_step_duration_ms", float64(elapsed), dims)

			log.Warn().
				Str("pipeline_id", p.ID).
				Str("step", step.Name).
				Str("stack", string(step.Stack)).
				Err(err).
				Msg("Pipeline step failed, halting")
			break
		}

		step.Status = models.StepCompleted
		step.Result = output
		results = withResult(results, step.Name, output)

		dims["status"] = "success"
		c.sink.Emit(metricNamespace, "pipeline_step_duration_ms", float64(elapsed), dims)
	}

	if p.Status != models.PipelineFailed {
		p.Status = models.PipelineCompleted
	}
	done := time.Now().UTC()
	p.CompletedAt = &done
	p.Results = results

	if err := c.store.UpdatePipeline(ctx, p); err != nil {
		return nil, err
	}
	c.publish(ctx, p)

	log.Info().
		Str("pipeline_id", p.ID).
		Str("status", string(p.Status)).
		Msg("Pipeline finished")
	return p, nil
}

// GetPipeline returns one persisted pipeline record.
func (c *Coordinator) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	return c.store.GetPipeline(ctx, id)
}

func (c *Coordinator) dispatch(ctx context.Context, userID string, step models.PipelineStep, results map[string]map[string]interface{}) (map[string]interface{}, error) {
	h, ok := c.handlers[step.Stack]
	if !ok {
		return nil, fmt.Errorf("no handler for stack %q", step.Stack)
	}
	return h.ExecuteStep(ctx, userID, step, results)
}

// publish sends the one per-run hub notification. A failed pipeline is
// high priority; anything else medium.
func (c *Coordinator) publish(ctx context.Context, p *models.Pipeline) {
	priority := notify.PriorityMedium
	eventType := "pipeline.completed"
	if p.Status == models.PipelineFailed {
		priority = notify.PriorityHigh
		eventType = "pipeline.failed"
	}

	err := c.hub.Notify(ctx, notify.Event{
		ID:       uuid.New().String(),
		Type:     eventType,
		Source:   "orchestration",
		UserID:   p.UserID,
		Priority: priority,
		Data: map[string]interface{}{
			"pipeline_id": p.ID,
			"type":        p.Type,
			"status":      string(p.Status),
			"errors":      p.Errors,
		},
	})
	if err != nil {
		log.Warn().Err(err).Str("pipeline_id", p.ID).Msg("Hub notification failed")
	}
}

func (c *Coordinator) stepDims(p *models.Pipeline, step *models.PipelineStep) map[string]string {
	return map[string]string{
		"pipeline_id": p.ID,
		"user_id":     p.UserID,
		"stack":       string(step.Stack),
		"step":        step.Name,
	}
}

// snapshot deep-copies the accumulator one level down so a handler cannot
// mutate another step's recorded output.
func snapshot(results map[string]map[string]interface{}) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{}, len(results))
	for name, res := range results {
		copied := make(map[string]interface{}, len(res))
		for k, v := range res {
			copied[k] = v
		}
		out[name] = copied
	}
	return out
}

// withResult returns a new accumulator extending results with one entry.
func withResult(results map[string]map[string]interface{}, name string, output map[string]interface{}) map[string]map[string]interface{} {
	out := snapshot(results)
	out[name] = output
	return out
}
