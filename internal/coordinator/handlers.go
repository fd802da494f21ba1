package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fanforge/fanforge/orchestration/internal/orchestrator"
	"github.com/fanforge/fanforge/orchestration/internal/queue"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// AIStackHandler executes ai-stack steps by running a full orchestrated
// workflow per step. The step's Result carries the run's content and
// workflow id so downstream steps can build on it.
type AIStackHandler struct {
	orch *orchestrator.Hybrid
}

// NewAIStackHandler wraps the orchestrator as a stack handler.
func NewAIStackHandler(orch *orchestrator.Hybrid) *AIStackHandler {
	return &AIStackHandler{orch: orch}
}

func (h *AIStackHandler) Stack() models.Stack { return models.StackAI }

// stepTasks maps ai-stack step names to orchestrator task types.
var stepTasks = map[string]models.TaskType{
	"plan_content":     models.TaskContentPlanning,
	"generate_message": models.TaskMessageGeneration,
	"engage_fans":      models.TaskFanEngagement,
	"plan_campaign":    models.TaskMarketingCampaign,
}

func (h *AIStackHandler) ExecuteStep(ctx context.Context, userID string, step models.PipelineStep, results map[string]map[string]interface{}) (map[string]interface{}, error) {
	taskType, ok := stepTasks[step.Name]
	if !ok {
		return nil, fmt.Errorf("unknown ai step %q", step.Name)
	}

	// Earlier step outputs become the run payload, so e.g. a generated plan
	// feeds the message-generation step that follows it.
	payload := map[string]interface{}{}
	for name, res := range results {
		payload[name] = res
	}

	res, err := h.orch.ExecuteWorkflow(ctx, userID, models.WorkflowRequest{
		Type:    taskType,
		UserID:  userID,
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, errors.New(res.Err)
	}

	return map[string]interface{}{
		"workflow_id": res.WorkflowID,
		"provider":    string(res.Provider),
		"content":     res.Content,
		"fallback":    res.FallbackOccurred,
	}, nil
}

// PlatformStackHandler executes platform-stack steps against the outbound
// delivery queue, shipping content produced by earlier steps to the
// messaging platform under the queue's rate-limiting rules.
type PlatformStackHandler struct {
	queue queue.DeliveryQueue
}

// NewPlatformStackHandler wraps the delivery queue as a stack handler.
func NewPlatformStackHandler(q queue.DeliveryQueue) *PlatformStackHandler {
	return &PlatformStackHandler{queue: q}
}

func (h *PlatformStackHandler) Stack() models.Stack { return models.StackPlatform }

func (h *PlatformStackHandler) ExecuteStep(ctx context.Context, userID string, step models.PipelineStep, results map[string]map[string]interface{}) (map[string]interface{}, error) {
	if step.Name != "deliver_message" {
		return nil, fmt.Errorf("unknown platform step %q", step.Name)
	}

	source, content := deliverableContent(results)
	if content == "" {
		return nil, errors.New("no earlier step produced content to deliver")
	}

	msg := queue.OutboundMessage{
		UserID:  userID,
		Content: content,
	}
	if id, ok := source["workflow_id"].(string); ok {
		msg.WorkflowID = id
	}
	if id, ok := source["recipient_id"].(string); ok && id != "" {
		msg.RecipientID = id
	} else {
		// Without an explicit recipient the message goes back to the
		// creator, e.g. a draft for review.
		msg.RecipientID = userID
	}

	res, err := h.queue.Enqueue(ctx, msg)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message_id":    res.MessageID,
		"group_key":     res.GroupKey,
		"delay_seconds": res.DelaySeconds,
	}, nil
}

// deliverySources lists producing steps in preference order. Message-like
// output ships before planning output when a pipeline ran both.
var deliverySources = []string{"generate_message", "engage_fans", "plan_campaign", "plan_content"}

// deliverableContent picks the result to deliver: a known producer in
// preference order, then any other step with content, by name.
func deliverableContent(results map[string]map[string]interface{}) (map[string]interface{}, string) {
	for _, name := range deliverySources {
		if c, ok := results[name]["content"].(string); ok && c != "" {
			return results[name], c
		}
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c, ok := results[name]["content"].(string); ok && c != "" {
			return results[name], c
		}
	}
	return nil, ""
}
