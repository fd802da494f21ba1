// Package router implements the task router: the pure provider-selection
// policy and the one-hop fallback controller that wraps provider calls.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/fanforge/fanforge/orchestration/internal/metrics"
	"github.com/fanforge/fanforge/orchestration/internal/provider"
	"github.com/fanforge/fanforge/orchestration/internal/telemetry"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
	"github.com/rs/zerolog/log"
)

const metricNamespace = "fanforge"

// ConfigurationError reports a task type the routing policy has no entry
// for. It is fatal to the run and never retried.
type ConfigurationError struct {
	TaskType models.TaskType
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no routing policy for task type %q", e.TaskType)
}

// ExhaustedError reports that both the primary and secondary providers
// failed. It carries both underlying errors; nothing further is retried.
type ExhaustedError struct {
	Primary   *provider.ExecutionError
	Secondary *provider.ExecutionError
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted: primary %v; secondary %v", e.Primary, e.Secondary)
}

// Selection is the outcome of the routing policy for one task.
type Selection struct {
	Primary   models.ProviderID
	Secondary models.ProviderID
	Forced    bool
}

// Select applies the routing policy. A force override naming a known
// provider always wins; otherwise planning-heavy task types route to the
// planning provider and conversational ones to the generation provider,
// each backed by the other as secondary. Pure: no side effects, no I/O.
func Select(taskType models.TaskType, force models.ProviderID) (Selection, error) {
	if force != "" && isKnown(force) {
		return Selection{Primary: force, Secondary: secondaryFor(force), Forced: true}, nil
	}

	switch taskType {
	case models.TaskContentPlanning, models.TaskMarketingCampaign:
		return Selection{Primary: models.ProviderPlanning, Secondary: models.ProviderGeneration}, nil
	case models.TaskMessageGeneration, models.TaskFanEngagement:
		return Selection{Primary: models.ProviderGeneration, Secondary: models.ProviderPlanning}, nil
	default:
		return Selection{}, &ConfigurationError{TaskType: taskType}
	}
}

func isKnown(id models.ProviderID) bool {
	for _, p := range models.KnownProviders() {
		if p == id {
			return true
		}
	}
	return false
}

// secondaryFor picks the fallback partner. The planning and generation
// providers back each other; the messaging gateway falls back to generation.
func secondaryFor(primary models.ProviderID) models.ProviderID {
	if primary == models.ProviderGeneration {
		return models.ProviderPlanning
	}
	return models.ProviderGeneration
}

// ── Fallback Controller ──────────────────────────────────────

// Outcome reports one fallback-controlled provider call.
type Outcome struct {
	Result           *provider.Result
	ProviderUsed     models.ProviderID
	FallbackOccurred bool
	// FallbackReason is the classified reason for the primary's failure,
	// set only when FallbackOccurred.
	FallbackReason string
}

// Controller wraps provider calls with the one-hop fallback protocol and
// per-attempt metric emission.
type Controller struct {
	sink metrics.Sink
}

// NewController creates a fallback controller emitting to sink.
func NewController(sink metrics.Sink) *Controller {
	return &Controller{sink: sink}
}

// RunWithFallback invokes primary; on any failure it classifies the reason
// and invokes secondary exactly once. Exactly one metric is emitted per
// attempt. Both failing yields an *ExhaustedError carrying both causes.
func (c *Controller) RunWithFallback(ctx context.Context, primary, secondary provider.Provider, task provider.Task) (*Outcome, error) {
	res, err := c.attempt(ctx, primary, task)
	if err == nil {
		return &Outcome{Result: res, ProviderUsed: primary.ID()}, nil
	}

	primaryErr := provider.Classify(primary.ID(), err)
	log.Warn().
		Str("provider", string(primary.ID())).
		Str("reason", primaryErr.Reason).
		Str("task_type", string(task.Type)).
		Err(err).
		Msg("Primary provider failed, falling back")

	res, err = c.attempt(ctx, secondary, task)
	if err == nil {
		return &Outcome{
			Result:           res,
			ProviderUsed:     secondary.ID(),
			FallbackOccurred: true,
			FallbackReason:   primaryErr.Reason,
		}, nil
	}

	secondaryErr := provider.Classify(secondary.ID(), err)
	log.Error().
		Str("primary", string(primary.ID())).
		Str("secondary", string(secondary.ID())).
		Str("task_type", string(task.Type)).
		Msg("All providers exhausted")

	return nil, &ExhaustedError{Primary: primaryErr, Secondary: secondaryErr}
}

// attempt runs one provider call and emits its attempt metric. The run's
// trace context rides along as dimensions so an attempt can always be
// joined back to the workflow that made it.
func (c *Controller) attempt(ctx context.Context, p provider.Provider, task provider.Task) (*provider.Result, error) {
	start := time.Now()
	res, err := p.Execute(ctx, task)

	status := "success"
	if err != nil {
		status = "failure"
	}
	dims := telemetry.Dimensions(task.Trace)
	dims["provider"] = string(p.ID())
	dims["task_type"] = string(task.Type)
	dims["status"] = status
	c.sink.Emit(metricNamespace, "provider_attempt_duration_ms",
		float64(time.Since(start).Milliseconds()), dims)

	return res, err
}
