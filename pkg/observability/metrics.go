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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for the engine: task
// execution, queue depth, priority preemption, memory vault retrieval,
// and the admin HTTP surface itself.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	// Task metrics (Worker -> Executor Registry)
	taskDuration *prometheus.HistogramVec
	taskErrors   *prometheus.CounterVec
	tasksActive  *prometheus.GaugeVec

	// Queue metrics (Scheduler -> Queue, and the consume loop)
	queueDepth    *prometheus.GaugeVec
	queueEnqueued *prometheus.CounterVec

	// Priority scheduler metrics
	preemptions *prometheus.CounterVec

	// Memory vault metrics (Context Pack Builder)
	vaultQueries     *prometheus.CounterVec
	vaultQueryDur    *prometheus.HistogramVec
	groundingScore   *prometheus.HistogramVec
	contextPackSize  *prometheus.HistogramVec
	contextPackFrame *prometheus.HistogramVec

	// HTTP metrics (admin surface)
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpRequestSize  *prometheus.HistogramVec
	httpResponseSize *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance from configuration.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	cfg.SetDefaults()

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),
	}

	m.initTaskMetrics()
	m.initQueueMetrics()
	m.initPriorityMetrics()
	m.initVaultMetrics()
	m.initHTTPMetrics()

	return m, nil
}

func (m *Metrics) initTaskMetrics() {
	m.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Task execution duration in seconds, from dequeue to commit",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 100ms to 55min
		},
		[]string{"task_type", "status"},
	)

	m.taskErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "errors_total",
			Help:      "Total number of task executions that failed",
		},
		[]string{"task_type", "error_type"},
	)

	m.tasksActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "task",
			Name:      "active",
			Help:      "Number of tasks currently running across all workers",
		},
		[]string{"phase"},
	)

	m.registry.MustRegister(m.taskDuration, m.taskErrors, m.tasksActive)
}

func (m *Metrics) initQueueMetrics() {
	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.config.Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of messages appended to a topic's stream",
		},
		[]string{"topic"},
	)

	m.queueEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of TaskSpecs enqueued by the scheduler",
		},
		[]string{"phase", "topic"},
	)

	m.registry.MustRegister(m.queueDepth, m.queueEnqueued)
}

func (m *Metrics) initPriorityMetrics() {
	m.preemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "priority",
			Name:      "preemptions_total",
			Help:      "Total number of tasks preempted by a higher-priority task",
		},
		[]string{"resource"},
	)

	m.registry.MustRegister(m.preemptions)
}

func (m *Metrics) initVaultMetrics() {
	m.vaultQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "vault",
			Name:      "queries_total",
			Help:      "Total number of Context Pack Builder queries",
		},
		[]string{"scope"},
	)

	m.vaultQueryDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "vault",
			Name:      "query_duration_seconds",
			Help:      "Context pack build duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to 2s
		},
		[]string{"scope"},
	)

	m.groundingScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "vault",
			Name:      "grounding_score",
			Help:      "Freshness-weighted grounding score of frames admitted to a context pack",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11), // 0.0 .. 1.0
		},
		[]string{"scope"},
	)

	m.contextPackSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "vault",
			Name:      "context_pack_tokens",
			Help:      "Token size of the assembled context pack",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10), // 64 .. 32768
		},
		[]string{"scope"},
	)

	m.contextPackFrame = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "vault",
			Name:      "context_pack_frames",
			Help:      "Number of frames admitted to the context pack",
			Buckets:   prometheus.LinearBuckets(0, 5, 11), // 0, 5, .. 50
		},
		[]string{"scope"},
	)

	m.registry.MustRegister(m.vaultQueries, m.vaultQueryDur, m.groundingScore, m.contextPackSize, m.contextPackFrame)
}

func (m *Metrics) initHTTPMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
		},
		[]string{"method", "path"},
	)

	m.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.config.Namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7), // 100B to 100MB
		},
		[]string{"method", "path"},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpRequestSize, m.httpResponseSize)
}

// =============================================================================
// Task Metrics
// =============================================================================

// RecordTaskDuration records one task execution's outcome and duration.
func (m *Metrics) RecordTaskDuration(taskType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.taskDuration.WithLabelValues(taskType, status).Observe(duration.Seconds())
}

// RecordTaskError records a task failure.
func (m *Metrics) RecordTaskError(taskType, errorType string) {
	if m == nil {
		return
	}
	m.taskErrors.WithLabelValues(taskType, errorType).Inc()
}

// IncTasksActive increments the active-task gauge for a phase.
func (m *Metrics) IncTasksActive(phase string) {
	if m == nil {
		return
	}
	m.tasksActive.WithLabelValues(phase).Inc()
}

// DecTasksActive decrements the active-task gauge for a phase.
func (m *Metrics) DecTasksActive(phase string) {
	if m == nil {
		return
	}
	m.tasksActive.WithLabelValues(phase).Dec()
}

// =============================================================================
// Queue Metrics
// =============================================================================

// SetQueueDepth records the current depth of a topic's stream.
func (m *Metrics) SetQueueDepth(topic string, depth int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(topic).Set(float64(depth))
}

// RecordEnqueue records a scheduler enqueue onto a topic.
func (m *Metrics) RecordEnqueue(phase, topic string) {
	if m == nil {
		return
	}
	m.queueEnqueued.WithLabelValues(phase, topic).Inc()
}

// =============================================================================
// Priority Scheduler Metrics
// =============================================================================

// RecordPreemption records a resource preemption.
func (m *Metrics) RecordPreemption(resource string) {
	if m == nil {
		return
	}
	m.preemptions.WithLabelValues(resource).Inc()
}

// =============================================================================
// Memory Vault Metrics
// =============================================================================

// RecordVaultQuery records one Context Pack Builder query.
func (m *Metrics) RecordVaultQuery(scope string, duration time.Duration) {
	if m == nil {
		return
	}
	m.vaultQueries.WithLabelValues(scope).Inc()
	m.vaultQueryDur.WithLabelValues(scope).Observe(duration.Seconds())
}

// RecordGroundingScore records the grounding score of an admitted frame.
func (m *Metrics) RecordGroundingScore(scope string, score float64) {
	if m == nil {
		return
	}
	m.groundingScore.WithLabelValues(scope).Observe(score)
}

// RecordContextPack records the size of an assembled context pack.
func (m *Metrics) RecordContextPack(scope string, tokens, frameCount int) {
	if m == nil {
		return
	}
	m.contextPackSize.WithLabelValues(scope).Observe(float64(tokens))
	m.contextPackFrame.WithLabelValues(scope).Observe(float64(frameCount))
}

// =============================================================================
// HTTP Metrics
// =============================================================================

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	status := statusCodeLabel(statusCode)
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if reqSize > 0 {
		m.httpRequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	}
	if respSize > 0 {
		m.httpResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
	}
}

// statusCodeLabel converts a status code to a label string.
func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// =============================================================================
// HTTP Handler
// =============================================================================

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
