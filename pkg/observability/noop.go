// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// No-op Manager
// =============================================================================

// NoopManager returns a no-operation Manager that does nothing.
// Use this when observability is completely disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// =============================================================================
// No-op Tracer
// =============================================================================

// NoopTracer returns a no-operation Tracer.
type NoopTracer struct{}

// Start returns a no-op span.
func (NoopTracer) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartTaskExecution returns a no-op span.
func (NoopTracer) StartTaskExecution(ctx context.Context, _, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartQueueEnqueue returns a no-op span.
func (NoopTracer) StartQueueEnqueue(ctx context.Context, _, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartQueueConsume returns a no-op span.
func (NoopTracer) StartQueueConsume(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// StartVaultQuery returns a no-op span.
func (NoopTracer) StartVaultQuery(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan()
}

// AddTaskResult is a no-op.
func (NoopTracer) AddTaskResult(_ trace.Span, _ string, _ int64) {}

// AddPreemption is a no-op.
func (NoopTracer) AddPreemption(_ trace.Span, _, _ string) {}

// AddVaultResult is a no-op.
func (NoopTracer) AddVaultResult(_ trace.Span, _, _ int) {}

// AddPayload is a no-op.
func (NoopTracer) AddPayload(_ trace.Span, _, _ string) {}

// RecordError is a no-op.
func (NoopTracer) RecordError(_ trace.Span, _ error) {}

// DebugExporter returns nil.
func (NoopTracer) DebugExporter() *DebugExporter { return nil }

// Shutdown is a no-op.
func (NoopTracer) Shutdown(_ context.Context) error { return nil }

// =============================================================================
// No-op Metrics
// =============================================================================

// NoopMetrics is a metrics implementation that does nothing.
type NoopMetrics struct{}

// Task metrics - no-op
func (NoopMetrics) RecordTaskDuration(_, _ string, _ time.Duration) {}
func (NoopMetrics) RecordTaskError(_, _ string)                     {}
func (NoopMetrics) IncTasksActive(_ string)                         {}
func (NoopMetrics) DecTasksActive(_ string)                         {}

// Queue metrics - no-op
func (NoopMetrics) SetQueueDepth(_ string, _ int64)  {}
func (NoopMetrics) RecordEnqueue(_, _ string)        {}

// Priority scheduler metrics - no-op
func (NoopMetrics) RecordPreemption(_ string) {}

// Memory vault metrics - no-op
func (NoopMetrics) RecordVaultQuery(_ string, _ time.Duration)  {}
func (NoopMetrics) RecordGroundingScore(_ string, _ float64)    {}
func (NoopMetrics) RecordContextPack(_ string, _, _ int)        {}

// HTTP metrics - no-op
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64) {}

// Handler returns a handler that returns 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}

// =============================================================================
// Recorder Interface
// =============================================================================

// Recorder defines the interface for recording engine metrics. This
// allows for dependency injection and easier testing.
type Recorder interface {
	RecordTaskDuration(taskType, status string, duration time.Duration)
	RecordTaskError(taskType, errorType string)
	IncTasksActive(phase string)
	DecTasksActive(phase string)

	SetQueueDepth(topic string, depth int64)
	RecordEnqueue(phase, topic string)

	RecordPreemption(resource string)

	RecordVaultQuery(scope string, duration time.Duration)
	RecordGroundingScore(scope string, score float64)
	RecordContextPack(scope string, tokens, frameCount int)

	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
