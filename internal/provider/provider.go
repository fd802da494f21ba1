// Package provider contains the adapters for each backend capability the
// orchestrator can call: the planning service, the fallback text-generation
// service, and the outbound messaging-platform gateway. Adapters are
// stateless and safe to share across concurrent workflow runs.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// Task is the unit of work handed to a provider.
type Task struct {
	Type    models.TaskType
	UserID  string
	Payload map[string]interface{}
	Trace   models.TraceContext
}

// Result is what a provider produced for one task.
type Result struct {
	Provider models.ProviderID
	Content  string
	// Raw carries the provider's full structured response for callers that
	// need more than the extracted content.
	Raw map[string]interface{}
}

// Provider is the uniform adapter interface over backend capabilities.
type Provider interface {
	ID() models.ProviderID
	Execute(ctx context.Context, task Task) (*Result, error)
	HealthCheck(ctx context.Context) error
}

// ── Failure classification ───────────────────────────────────

const (
	ReasonTimeout     = "timeout"
	ReasonRateLimited = "rate_limited"
	ReasonError       = "error"
)

// ExecutionError is a single failed provider call, classified so the
// fallback controller can record why the transition happened.
type ExecutionError struct {
	Provider models.ProviderID
	Reason   string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Classify wraps err in an ExecutionError with the failure reason derived
// from the error shape: deadline expiry → timeout, HTTP 429 → rate_limited,
// anything else → error. Already-classified errors pass through.
func Classify(id models.ProviderID, err error) *ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}

	reason := ReasonError
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests {
		reason = ReasonRateLimited
	}

	return &ExecutionError{Provider: id, Reason: reason, Err: err}
}

// StatusError is a non-2xx HTTP response from a provider endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// newHTTPClient builds the shared per-adapter client with the configured
// call timeout. The timeout is what turns a hung provider into a
// classifiable failure instead of blocking the fallback path.
func newHTTPClient(timeoutSecs int) *http.Client {
	if timeoutSecs <= 0 {
		timeoutSecs = 60
	}
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}
