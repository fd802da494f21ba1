// Package orchestrator composes routing, fallback, persistence, delivery,
// and trace propagation into one workflow execution engine.
//
// Error policy: ExecuteWorkflow returns a non-nil error only for defects the
// caller must fix — an unroutable task type or a persistence failure. A run
// where every provider failed, or where the result could not be queued for
// delivery, still returns a WorkflowResult describing exactly what happened;
// provider errors never escape raw.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fanforge/fanforge/orchestration/internal/metrics"
	"github.com/fanforge/fanforge/orchestration/internal/provider"
	"github.com/fanforge/fanforge/orchestration/internal/queue"
	"github.com/fanforge/fanforge/orchestration/internal/router"
	"github.com/fanforge/fanforge/orchestration/internal/store"
	"github.com/fanforge/fanforge/orchestration/internal/telemetry"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

const metricNamespace = "fanforge"

// Hybrid orchestrates multi-provider workflow runs. It owns no provider
// logic itself; providers are registered at composition time.
type Hybrid struct {
	store      store.Store
	controller *router.Controller
	providers  map[models.ProviderID]provider.Provider
	queue      queue.DeliveryQueue
	sink       metrics.Sink
}

// New builds an orchestrator over the given collaborators.
func New(s store.Store, c *router.Controller, providers map[models.ProviderID]provider.Provider, q queue.DeliveryQueue, sink metrics.Sink) *Hybrid {
	return &Hybrid{
		store:      s,
		controller: c,
		providers:  providers,
		queue:      q,
		sink:       sink,
	}
}

// ExecuteWorkflow runs one workflow end to end: route, persist, call with
// fallback, record provider states, optionally queue delivery, and emit the
// run metric. The returned result always carries the derived trace context.
func (h *Hybrid) ExecuteWorkflow(ctx context.Context, userID string, req models.WorkflowRequest) (*models.WorkflowResult, error) {
	start := time.Now()
	workflowID := uuid.New().String()

	trace := telemetry.DeriveChildContext(req.TraceContext, userID, workflowID)

	sel, err := router.Select(req.Type, req.ForceProvider)
	if err != nil {
		return nil, err
	}
	primary, ok := h.providers[sel.Primary]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", sel.Primary)
	}
	secondary, ok := h.providers[sel.Secondary]
	if !ok {
		return nil, fmt.Errorf("provider %q not registered", sel.Secondary)
	}

	// Persist the run before the first provider call so a crash mid-run
	// leaves an inspectable record with every provider at pending.
	wf := models.NewWorkflow(workflowID, userID)
	if err := h.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}

	log.Info().
		Str("workflow_id", workflowID).
		Str("user_id", userID).
		Str("task_type", string(req.Type)).
		Str("primary", string(sel.Primary)).
		Str("secondary", string(sel.Secondary)).
		Bool("forced", sel.Forced).
		Str("trace_id", trace.TraceID).
		Msg("Workflow started")

	result := &models.WorkflowResult{
		WorkflowID:   workflowID,
		TraceContext: trace,
	}

	outcome, runErr := h.controller.RunWithFallback(ctx, primary, secondary, provider.Task{
		Type:    req.Type,
		UserID:  userID,
		Payload: req.Payload,
		Trace:   trace,
	})

	switch {
	case runErr == nil:
		if err := h.recordOutcome(ctx, workflowID, sel, outcome, result); err != nil {
			return nil, err
		}
		result.Provider = outcome.ProviderUsed
		result.Content = outcome.Result.Content
		result.Raw = outcome.Result.Raw

	default:
		// Both providers failed. The run is over but the result is still a
		// result; the caller decides what to surface.
		if err := h.recordExhaustion(ctx, workflowID, sel, runErr, result); err != nil {
			return nil, err
		}
		result.Err = runErr.Error()
	}

	if req.Deliver.Enabled && !result.Failed() {
		if err := h.deliver(ctx, workflowID, userID, req, trace, result); err != nil {
			return nil, err
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()

	status := "success"
	if result.Failed() {
		status = "failure"
	}
	dims := telemetry.Dimensions(trace)
	dims["task_type"] = string(req.Type)
	dims["status"] = status
	h.sink.Emit(metricNamespace, "workflow_duration_ms", float64(result.DurationMs), dims)

	log.Info().
		Str("workflow_id", workflowID).
		Str("status", status).
		Bool("fallback", result.FallbackOccurred).
		Int64("duration_ms", result.DurationMs).
		Msg("Workflow finished")

	return result, nil
}

// recordOutcome persists provider states and fallback history for a run
// that produced content.
func (h *Hybrid) recordOutcome(ctx context.Context, workflowID string, sel router.Selection, outcome *router.Outcome, result *models.WorkflowResult) error {
	if outcome.FallbackOccurred {
		event := models.FallbackEvent{
			From:      sel.Primary,
			To:        sel.Secondary,
			Reason:    outcome.FallbackReason,
			Timestamp: time.Now().UTC(),
		}
		if err := h.store.SetProviderState(ctx, workflowID, sel.Primary, models.ProviderFailed); err != nil {
			return err
		}
		if err := h.store.AppendFallback(ctx, workflowID, event); err != nil {
			return err
		}
		result.FallbackOccurred = true
		result.FallbackHistory = append(result.FallbackHistory, event)
	}
	if err := h.store.SetProviderState(ctx, workflowID, outcome.ProviderUsed, models.ProviderSuccess); err != nil {
		return err
	}
	return h.store.SetCurrentProvider(ctx, workflowID, outcome.ProviderUsed)
}

// recordExhaustion persists the failure of both providers. The fallback to
// the secondary DID happen, so it is recorded; the current provider stays
// at the hybrid sentinel because no provider owns the (absent) output.
func (h *Hybrid) recordExhaustion(ctx context.Context, workflowID string, sel router.Selection, runErr error, result *models.WorkflowResult) error {
	var reason string
	if ex, ok := runErr.(*router.ExhaustedError); ok && ex.Primary != nil {
		reason = ex.Primary.Reason
	}

	if err := h.store.SetProviderState(ctx, workflowID, sel.Primary, models.ProviderFailed); err != nil {
		return err
	}
	event := models.FallbackEvent{
		From:      sel.Primary,
		To:        sel.Secondary,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := h.store.AppendFallback(ctx, workflowID, event); err != nil {
		return err
	}
	result.FallbackOccurred = true
	result.FallbackHistory = append(result.FallbackHistory, event)

	return h.store.SetProviderState(ctx, workflowID, sel.Secondary, models.ProviderFailed)
}

// deliver queues the run's content for outbound delivery and persists the
// message record. A queue failure downgrades the run to partial success:
// the result keeps its content, Delivery reports the failure, and no error
// is returned unless persisting the record itself fails.
func (h *Hybrid) deliver(ctx context.Context, workflowID, userID string, req models.WorkflowRequest, trace models.TraceContext, result *models.WorkflowResult) error {
	enq, err := h.queue.Enqueue(ctx, queue.OutboundMessage{
		WorkflowID:  workflowID,
		UserID:      userID,
		RecipientID: req.Deliver.RecipientID,
		Content:     result.Content,
		Trace:       &trace,
	})

	msg := &models.QueuedMessage{
		WorkflowID:  workflowID,
		RecipientID: req.Deliver.RecipientID,
		Content:     result.Content,
		GroupKey:    userID,
		CreatedAt:   time.Now().UTC(),
	}

	if err != nil {
		if dqe, ok := err.(*queue.DeliveryQueueError); ok {
			msg.ID = dqe.MessageID
		} else {
			msg.ID = uuid.New().String()
		}
		msg.Status = models.MessageFailed
		result.Delivery = &models.DeliveryStatus{
			Status: models.MessageFailed,
			Error:  err.Error(),
		}
		log.Warn().Err(err).Str("workflow_id", workflowID).Msg("Delivery enqueue failed, run is partial success")
	} else {
		msg.ID = enq.MessageID
		msg.GroupKey = enq.GroupKey
		msg.DedupID = enq.DedupID
		msg.SQSMessageID = enq.SQSMessageID
		msg.Status = models.MessageQueued
		result.Delivery = &models.DeliveryStatus{
			Status:       models.MessageQueued,
			SQSMessageID: enq.SQSMessageID,
		}
	}

	return h.store.CreateMessage(ctx, msg)
}

// ── Introspection ────────────────────────────────────────────

// GetWorkflow returns the persisted record of one run.
func (h *Hybrid) GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return h.store.GetWorkflow(ctx, workflowID)
}

// ListWorkflows returns up to limit recent runs, optionally filtered by user.
func (h *Hybrid) ListWorkflows(ctx context.Context, userID string, limit int) ([]models.Workflow, error) {
	return h.store.ListWorkflows(ctx, userID, limit)
}

// HealthCheck probes every provider plus the store and the delivery queue,
// each independently; one hung dependency cannot mask the others.
func (h *Hybrid) HealthCheck(ctx context.Context) map[string]bool {
	type probe struct {
		name  string
		check func(context.Context) error
	}

	probes := []probe{
		{"database", h.store.Ping},
		{"queue", h.queue.Ping},
	}
	for id, p := range h.providers {
		probes = append(probes, probe{string(id), p.HealthCheck})
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]bool, len(probes))
	)
	for _, pr := range probes {
		wg.Add(1)
		go func(pr probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err := pr.check(pctx)
			mu.Lock()
			out[pr.name] = err == nil
			mu.Unlock()
		}(pr)
	}
	wg.Wait()
	return out
}
