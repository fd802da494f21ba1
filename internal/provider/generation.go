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

// GenerationProvider calls an OpenAI-compatible chat-completions endpoint.
// It is the fallback backend when the planning service fails, and the
// default for direct message-generation task types.
type GenerationProvider struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewGenerationProvider creates the generation adapter from config.
func NewGenerationProvider(cfg config.ProviderConfig) *GenerationProvider {
	return &GenerationProvider{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    "gpt-4o-mini",
		client:   newHTTPClient(cfg.TimeoutSecs),
	}
}

func (p *GenerationProvider) ID() models.ProviderID { return models.ProviderGeneration }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (p *GenerationProvider) Execute(ctx context.Context, task Task) (*Result, error) {
	prompt := buildPrompt(task)

	body, _ := json.Marshal(chatRequest{
		Model:    p.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})

	url := p.endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generation: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("generation: %w", &StatusError{Code: httpResp.StatusCode, Body: string(respBody)})
	}

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("generation: decode response: %w", err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	return &Result{
		Provider: models.ProviderGeneration,
		Content:  content,
		Raw: map[string]interface{}{
			"id":           resp.ID,
			"total_tokens": resp.Usage.TotalTokens,
		},
	}, nil
}

// buildPrompt flattens the task payload into a single user message. Payload
// key "prompt" wins when present; otherwise the payload is serialized.
func buildPrompt(task Task) string {
	if task.Payload != nil {
		if p, ok := task.Payload["prompt"].(string); ok && p != "" {
			return p
		}
	}
	payloadJSON, _ := json.Marshal(task.Payload)
	return fmt.Sprintf("Task: %s\nInput: %s", task.Type, string(payloadJSON))
}

func (p *GenerationProvider) HealthCheck(ctx context.Context) error {
	url := p.endpoint + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("generation unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
