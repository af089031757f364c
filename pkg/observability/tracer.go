// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Tracer wraps an OpenTelemetry tracer with span helpers for the
// engine's three cross-component boundaries: Worker -> Executor
// Registry, Scheduler -> Queue, and the Context Pack Builder's vault
// query.
type Tracer struct {
	provider       *sdktrace.TracerProvider
	tracer         trace.Tracer
	debugExporter  *DebugExporter
	capturePayload bool
	serviceName    string
}

// TracerOption configures the Tracer.
type TracerOption func(*Tracer)

// WithDebugExporter adds a debug exporter for local span inspection.
func WithDebugExporter(exporter *DebugExporter) TracerOption {
	return func(t *Tracer) {
		t.debugExporter = exporter
	}
}

// WithCapturePayloads enables capturing task input/output on spans.
func WithCapturePayloads(capture bool) TracerOption {
	return func(t *Tracer) {
		t.capturePayload = capture
	}
}

// NewTracer creates a Tracer from configuration, or returns (nil, nil)
// when tracing is disabled.
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.TraceIDRatioBased(cfg.SamplingRate)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{
		provider:    provider,
		tracer:      provider.Tracer(cfg.ServiceName),
		serviceName: cfg.ServiceName,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.debugExporter != nil {
		provider.RegisterSpanProcessor(sdktrace.NewSimpleSpanProcessor(t.debugExporter))
	}

	return t, nil
}

func createExporter(ctx context.Context, cfg *TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		return createOTLPExporter(ctx, cfg)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "jaeger", "zipkin":
		// Modern collectors for both accept OTLP directly.
		return createOTLPExporter(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
}

func createOTLPExporter(ctx context.Context, cfg *TracingConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}

	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}

// Start begins a new span with the given name.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, noopSpan()
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartTaskExecution begins a span covering one Worker's invocation of
// the Executor Registry for a dequeued task.
func (t *Tracer) StartTaskExecution(ctx context.Context, taskID, taskType, target, workerID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanTaskExecution,
		trace.WithAttributes(
			attribute.String(AttrTaskID, taskID),
			attribute.String(AttrTaskType, taskType),
			attribute.String(AttrTaskTarget, target),
			attribute.String(AttrWorkerID, workerID),
		),
	)
}

// StartQueueEnqueue begins a span covering the Scheduler's enqueue of
// one TaskSpec onto the Job Queue.
func (t *Tracer) StartQueueEnqueue(ctx context.Context, phase, topic string, agentCount int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanQueueEnqueue,
		trace.WithAttributes(
			attribute.String(AttrSchedulerPhase, phase),
			attribute.String(AttrQueueTopic, topic),
			attribute.Int(AttrSchedulerAgents, agentCount),
		),
	)
}

// StartQueueConsume begins a span covering one pass of a consumer
// group's claim-and-dispatch loop.
func (t *Tracer) StartQueueConsume(ctx context.Context, topic, group, consumer string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanQueueConsume,
		trace.WithAttributes(
			attribute.String(AttrQueueTopic, topic),
			attribute.String(AttrQueueGroup, group),
			attribute.String(AttrQueueConsumer, consumer),
		),
	)
}

// StartVaultQuery begins a span covering the Context Pack Builder's
// retrieval of candidate frames for a MemoryQuery.
func (t *Tracer) StartVaultQuery(ctx context.Context, scope, themePrefix string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanVaultQuery,
		trace.WithAttributes(
			attribute.String(AttrVaultScope, scope),
			attribute.String(AttrVaultThemePrefix, themePrefix),
		),
	)
}

// AddTaskResult records the outcome of a task execution span.
func (t *Tracer) AddTaskResult(span trace.Span, status string, durationMS int64) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrTaskStatus, status),
		attribute.Int64("task.duration_ms", durationMS),
	)
}

// AddPreemption records a preemption decision on a priority scheduling span.
func (t *Tracer) AddPreemption(span trace.Span, preemptingTaskID, preemptedTaskID string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrPreemptingTaskID, preemptingTaskID),
		attribute.String(AttrPreemptedTaskID, preemptedTaskID),
	)
}

// AddVaultResult records how many frames a vault query matched and the
// resulting context pack's token size.
func (t *Tracer) AddVaultResult(span trace.Span, frameCount, tokenSize int) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int(AttrVaultFrameCount, frameCount),
		attribute.Int("vault.token_size", tokenSize),
	)
}

// AddPayload attaches captured task input/output to a span, when
// payload capture is enabled.
func (t *Tracer) AddPayload(span trace.Span, input, output string) {
	if span == nil || t == nil || !t.capturePayload {
		return
	}
	if input != "" {
		span.SetAttributes(attribute.String("task.input", input))
	}
	if output != "" {
		span.SetAttributes(attribute.String("task.output", output))
	}
}

// RecordError records an error on a span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(AttrErrorType, fmt.Sprintf("%T", err)),
		attribute.String(AttrErrorMessage, err.Error()),
	)
}

// DebugExporter returns the debug exporter if configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown gracefully shuts down the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// noopSpan returns a no-op span satisfying trace.Span.
func noopSpan() trace.Span {
	_, span := trace.NewNoopTracerProvider().Tracer("noop").Start(context.Background(), "noop")
	return span
}
