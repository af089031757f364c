package observability

// Resource and error attributes, shared across spans and log lines.
const (
	AttrServiceName    = "service.name"
	AttrServiceVersion = "service.version"
	AttrErrorType      = "error.type"
	AttrErrorMessage   = "error.message"

	AttrHTTPMethod       = "http.method"
	AttrHTTPPath         = "http.path"
	AttrHTTPStatusCode   = "http.status_code"
	AttrHTTPResponseSize = "http.response_size"
)

// Task Execution attributes: the Worker -> Executor Registry boundary.
const (
	AttrTaskID     = "task.id"
	AttrTaskType   = "task.type"
	AttrTaskTarget = "task.target"
	AttrTaskPhase  = "task.phase"
	AttrTaskStatus = "task.status"
	AttrWorkerID   = "worker.id"
)

// Scheduler / Queue attributes: the Scheduler -> Queue boundary and the
// Queue's own consume loop.
const (
	AttrQueueTopic       = "queue.topic"
	AttrQueueGroup       = "queue.group"
	AttrQueueConsumer    = "queue.consumer"
	AttrQueueMessageKey  = "queue.message_key"
	AttrSchedulerPhase   = "scheduler.phase"
	AttrSchedulerAgents  = "scheduler.agent_count"
	AttrPreemptedTaskID  = "priority.preempted_task_id"
	AttrPreemptingTaskID = "priority.preempting_task_id"
)

// Memory Vault attributes: the Context Pack Builder's Query/Gate boundary.
const (
	AttrVaultScope       = "vault.scope"
	AttrVaultThemePrefix = "vault.theme_prefix"
	AttrVaultFrameCount  = "vault.frame_count"
)

// Span names.
const (
	SpanTaskExecution = "worker.task_execution"
	SpanQueueEnqueue  = "scheduler.queue_enqueue"
	SpanQueueConsume  = "queue.consume"
	SpanVaultQuery    = "vault.query"
	SpanHTTPRequest   = "http.request"
)

const (
	DefaultServiceName  = "pipeline-engine"
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultSamplingRate = 1.0
	DefaultMetricsPath  = "/metrics"
)
