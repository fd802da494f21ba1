package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("fanforge-orchestration")

// Telemetry opens one server span per request. Trace context propagated by
// an upstream stack is picked up from the headers, so a pipeline that calls
// through this service stays on the caller's trace.
func Telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(ctx))

		// The matched route is only known once the mux has run. Rename the
		// span to the low-cardinality pattern and tag the resource ids.
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(r.Method + " " + pattern)
			}
			if id := rctx.URLParam("workflowID"); id != "" {
				span.SetAttributes(attribute.String("fanforge.workflow_id", id))
			}
			if id := rctx.URLParam("pipelineID"); id != "" {
				span.SetAttributes(attribute.String("fanforge.pipeline_id", id))
			}
		}

		span.SetAttributes(
			attribute.Int("http.response.status_code", rec.status),
			attribute.Int("http.response.body.size", rec.bytes),
		)
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}
