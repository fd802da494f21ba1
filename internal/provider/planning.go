package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fanforge/fanforge/orchestration/internal/config"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// PlanningProvider calls the content-planning service: given a task payload
// it returns a structured plan (content calendar entries, campaign briefs,
// engagement sequences). It is the default backend for planning-heavy task
// types.
type PlanningProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewPlanningProvider creates the planning adapter from config.
func NewPlanningProvider(cfg config.ProviderConfig) *PlanningProvider {
	return &PlanningProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   newHTTPClient(cfg.TimeoutSecs),
	}
}

func (p *PlanningProvider) ID() models.ProviderID { return models.ProviderPlanning }

type planRequest struct {
	TaskType string                 `json:"task_type"`
	UserID   string                 `json:"user_id"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	TraceID  string                 `json:"trace_id,omitempty"`
}

type planResponse struct {
	Plan    string                 `json:"plan"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (p *PlanningProvider) Execute(ctx context.Context, task Task) (*Result, error) {
	body, _ := json.Marshal(planRequest{
		TaskType: string(task.Type),
		UserID:   task.UserID,
		Payload:  task.Payload,
		TraceID:  task.Trace.TraceID,
	})

	url := p.endpoint + "/v1/plans"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("planning: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("planning: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("planning: %w", &StatusError{Code: httpResp.StatusCode, Body: string(respBody)})
	}

	var resp planResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("planning: decode response: %w", err)
	}

	return &Result{
		Provider: models.ProviderPlanning,
		Content:  resp.Plan,
		Raw:      resp.Details,
	}, nil
}

func (p *PlanningProvider) HealthCheck(ctx context.Context) error {
	url := p.endpoint + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("planning unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
