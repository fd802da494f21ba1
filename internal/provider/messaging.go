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

// MessagingProvider calls the creator-platform messaging gateway. It is not
// part of the planning/generation fallback pair; the orchestrator tracks it
// for health checks and direct platform tasks, while actual outbound sends
// go through the rate-limited delivery queue.
type MessagingProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewMessagingProvider creates the messaging-gateway adapter from config.
func NewMessagingProvider(cfg config.ProviderConfig) *MessagingProvider {
	return &MessagingProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   newHTTPClient(cfg.TimeoutSecs),
	}
}

func (p *MessagingProvider) ID() models.ProviderID { return models.ProviderMessaging }

type gatewayRequest struct {
	UserID  string                 `json:"user_id"`
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

func (p *MessagingProvider) Execute(ctx context.Context, task Task) (*Result, error) {
	body, _ := json.Marshal(gatewayRequest{
		UserID:  task.UserID,
		Action:  string(task.Type),
		Payload: task.Payload,
	})

	url := p.endpoint + "/v1/actions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("messaging: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("messaging: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("messaging: %w", &StatusError{Code: httpResp.StatusCode, Body: string(respBody)})
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("messaging: decode response: %w", err)
	}

	content, _ := resp["result"].(string)
	return &Result{
		Provider: models.ProviderMessaging,
		Content:  content,
		Raw:      resp,
	}, nil
}

func (p *MessagingProvider) HealthCheck(ctx context.Context) error {
	url := p.endpoint + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("messaging unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
