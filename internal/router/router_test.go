package router_test

import (
	"context"
	"errors"
	"testing"

	"github.com/fanforge/fanforge/orchestration/internal/metrics"
	"github.com/fanforge/fanforge/orchestration/internal/provider"
	"github.com/fanforge/fanforge/orchestration/internal/router"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// stubProvider is a scripted test provider.
type stubProvider struct {
	id      models.ProviderID
	content string
	err     error
	calls   int
}

func (s *stubProvider) ID() models.ProviderID { return s.id }
func (s *stubProvider) Execute(ctx context.Context, task provider.Task) (*provider.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Result{Provider: s.id, Content: s.content}, nil
}
func (s *stubProvider) HealthCheck(ctx context.Context) error { return s.err }

// ── Selection policy ─────────────────────────────────────────

func TestSelect_DefaultPolicy(t *testing.T) {
	cases := []struct {
		taskType models.TaskType
		primary  models.ProviderID
	}{
		{models.TaskContentPlanning, models.ProviderPlanning},
		{models.TaskMarketingCampaign, models.ProviderPlanning},
		{models.TaskMessageGeneration, models.ProviderGeneration},
		{models.TaskFanEngagement, models.ProviderGeneration},
	}

	for _, tc := range cases {
		sel, err := router.Select(tc.taskType, "")
		if err != nil {
			t.Fatalf("Select(%s) error = %v", tc.taskType, err)
		}
		if sel.Primary != tc.primary {
			t.Errorf("Select(%s).Primary = %q, want %q", tc.taskType, sel.Primary, tc.primary)
		}
		if sel.Secondary == sel.Primary {
			t.Errorf("Select(%s) secondary must differ from primary", tc.taskType)
		}
		if sel.Forced {
			t.Errorf("Select(%s) without override should not be forced", tc.taskType)
		}
	}
}

func TestSelect_OverrideAlwaysWins(t *testing.T) {
	for _, taskType := range models.KnownTaskTypes() {
		for _, forced := range models.KnownProviders() {
			sel, err := router.Select(taskType, forced)
			if err != nil {
				t.Fatalf("Select(%s, %s) error = %v", taskType, forced, err)
			}
			if sel.Primary != forced {
				t.Errorf("Select(%s, force=%s).Primary = %q, want the override", taskType, forced, sel.Primary)
			}
			if !sel.Forced {
				t.Errorf("Select(%s, force=%s).Forced = false, want true", taskType, forced)
			}
		}
	}
}

func TestSelect_UnknownTaskType(t *testing.T) {
	_, err := router.Select("video_editing", "")
	var cfgErr *router.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Select(unknown) error = %v, want *ConfigurationError", err)
	}
	if cfgErr.TaskType != "video_editing" {
		t.Errorf("ConfigurationError.TaskType = %q, want video_editing", cfgErr.TaskType)
	}
}

func TestSelect_UnknownOverrideFallsThrough(t *testing.T) {
	// An override naming an unknown provider does not win; the default
	// policy applies instead.
	sel, err := router.Select(models.TaskContentPlanning, "mystery")
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if sel.Primary != models.ProviderPlanning {
		t.Errorf("Primary = %q, want planning (default policy)", sel.Primary)
	}
	if sel.Forced {
		t.Error("Unknown override should not mark the selection forced")
	}
}

func TestSelect_IsPure(t *testing.T) {
	a, _ := router.Select(models.TaskContentPlanning, "")
	b, _ := router.Select(models.TaskContentPlanning, "")
	if a != b {
		t.Errorf("Select() not deterministic: %+v vs %+v", a, b)
	}
}

// ── Fallback controller ──────────────────────────────────────

func TestRunWithFallback_PrimarySucceeds(t *testing.T) {
	sink := metrics.NewMemorySink()
	ctrl := router.NewController(sink)

	primary := &stubProvider{id: models.ProviderPlanning, content: "plan"}
	secondary := &stubProvider{id: models.ProviderGeneration}

	out, err := ctrl.RunWithFallback(context.Background(), primary, secondary, provider.Task{Type: models.TaskContentPlanning})
	if err != nil {
		t.Fatalf("RunWithFallback() error = %v", err)
	}
	if out.ProviderUsed != models.ProviderPlanning {
		t.Errorf("ProviderUsed = %q, want planning", out.ProviderUsed)
	}
	if out.FallbackOccurred {
		t.Error("FallbackOccurred = true, want false")
	}
	if secondary.calls != 0 {
		t.Errorf("Secondary called %d times, want 0", secondary.calls)
	}
	if n := len(sink.ByName("provider_attempt_duration_ms")); n != 1 {
		t.Errorf("Emitted %d attempt metrics, want exactly 1 per attempt", n)
	}
}

func TestRunWithFallback_SecondaryRecovers(t *testing.T) {
	sink := metrics.NewMemorySink()
	ctrl := router.NewController(sink)

	primary := &stubProvider{id: models.ProviderPlanning, err: context.DeadlineExceeded}
	secondary := &stubProvider{id: models.ProviderGeneration, content: "X"}

	out, err := ctrl.RunWithFallback(context.Background(), primary, secondary, provider.Task{Type: models.TaskContentPlanning})
	if err != nil {
		t.Fatalf("RunWithFallback() error = %v", err)
	}
	if out.ProviderUsed != models.ProviderGeneration {
		t.Errorf("ProviderUsed = %q, want generation", out.ProviderUsed)
	}
	if !out.FallbackOccurred {
		t.Error("FallbackOccurred = false, want true")
	}
	if out.FallbackReason != provider.ReasonTimeout {
		t.Errorf("FallbackReason = %q, want timeout", out.FallbackReason)
	}
	if out.Result.Content != "X" {
		t.Errorf("Result.Content = %q, want X", out.Result.Content)
	}

	attempts := sink.ByName("provider_attempt_duration_ms")
	if len(attempts) != 2 {
		t.Fatalf("Emitted %d attempt metrics, want 2", len(attempts))
	}
	if attempts[0].Dims["status"] != "failure" || attempts[1].Dims["status"] != "success" {
		t.Errorf("Attempt statuses = %q/%q, want failure/success",
			attempts[0].Dims["status"], attempts[1].Dims["status"])
	}
}

func TestRunWithFallback_AttemptMetricsCarryTrace(t *testing.T) {
	sink := metrics.NewMemorySink()
	ctrl := router.NewController(sink)

	primary := &stubProvider{id: models.ProviderPlanning, err: errors.New("down")}
	secondary := &stubProvider{id: models.ProviderGeneration, content: "X"}

	task := provider.Task{
		Type: models.TaskContentPlanning,
		Trace: models.TraceContext{
			TraceID:    "trace-1",
			SpanID:     "span-1",
			UserID:     "u1",
			WorkflowID: "wf-1",
		},
	}
	if _, err := ctrl.RunWithFallback(context.Background(), primary, secondary, task); err != nil {
		t.Fatalf("RunWithFallback() error = %v", err)
	}

	attempts := sink.ByName("provider_attempt_duration_ms")
	if len(attempts) != 2 {
		t.Fatalf("Emitted %d attempt metrics, want 2", len(attempts))
	}
	for i, a := range attempts {
		if a.Dims["trace_id"] != "trace-1" || a.Dims["span_id"] != "span-1" {
			t.Errorf("Attempt %d trace dims = %s/%s, want trace-1/span-1",
				i, a.Dims["trace_id"], a.Dims["span_id"])
		}
		if a.Dims["workflow_id"] != "wf-1" {
			t.Errorf("Attempt %d workflow_id = %q, want wf-1", i, a.Dims["workflow_id"])
		}
	}
}

func TestRunWithFallback_Exhaustion(t *testing.T) {
	sink := metrics.NewMemorySink()
	ctrl := router.NewController(sink)

	primary := &stubProvider{id: models.ProviderPlanning, err: errors.New("down")}
	secondary := &stubProvider{id: models.ProviderGeneration, err: errors.New("also down")}

	_, err := ctrl.RunWithFallback(context.Background(), primary, secondary, provider.Task{Type: models.TaskContentPlanning})

	var exhausted *router.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("RunWithFallback() error = %v, want *ExhaustedError", err)
	}
	if exhausted.Primary.Provider != models.ProviderPlanning {
		t.Errorf("Primary cause provider = %q, want planning", exhausted.Primary.Provider)
	}
	if exhausted.Secondary.Provider != models.ProviderGeneration {
		t.Errorf("Secondary cause provider = %q, want generation", exhausted.Secondary.Provider)
	}

	// Exactly one hop: two provider calls total, never more.
	if primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("Call counts = %d/%d, want 1/1", primary.calls, secondary.calls)
	}
	if n := len(sink.ByName("provider_attempt_duration_ms")); n != 2 {
		t.Errorf("Emitted %d attempt metrics, want 2", n)
	}
}
