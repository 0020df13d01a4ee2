// Package observability provides metrics and distributed tracing for
// memexcli's DAG executor and backend runner.
//
// # Overview
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using the Prometheus client library and track:
//   - DAG task completion status and duration
//   - Session duration and active session counts
//   - Tool policy events and gatekeeper decisions
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track a finished DAG task
//	metrics.RecordDAGTask(task.ID, "success", time.Since(start).Seconds())
//
//	// Track a gatekeeper decision
//	metrics.RecordGatekeeperDecision("inject")
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a run across the
// session runtime, backend runner, and DAG executor:
//   - End-to-end request visualization
//   - Per-task and per-backend-invocation spans
//   - Error correlation across retries
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "memexcli",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	// Trace one DAG task across all of its retry attempts
//	ctx, span := tracer.TraceDAGTask(ctx, task.ID, attempt)
//	defer span.End()
//
//	// Trace a backend runner invocation
//	ctx, backendSpan := tracer.TraceBackendInvocation(ctx, runner.Name(), sessionID)
//	defer backendSpan.End()
//	if err != nil {
//	    tracer.RecordError(backendSpan, err)
//	}
//
// # Context Propagation
//
// Spans inherit context the normal OpenTelemetry way:
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// Trace context propagates to child spans
//
// # Testing
//
//   - Metrics can be verified using prometheus/testutil
//   - Tracing works against a no-op exporter when Endpoint is empty,
//     which is what NewTracer returns in tests
package observability
