package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_commands_total", Help: "Commands executed through the bus"},
		[]string{"command", "result"},
	)
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "courier_command_duration_seconds", Help: "Command latency including commit"},
		[]string{"command"},
	)
	Queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_queries_total", Help: "Queries answered through the bus"},
		[]string{"query", "result"},
	)
	Dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_dispatch_attempts_total", Help: "Dispatch attempts by plugin and outcome"},
		[]string{"plugin", "dispatch_type", "result"},
	)
	DispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "courier_dispatch_latency_seconds", Help: "Plugin dispatch latency"},
		[]string{"plugin"},
	)
	MessagesFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_messages_finalized_total", Help: "Messages moved out of pending"},
		[]string{"status"},
	)
	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_outbox_events_total", Help: "Outbox rows consumed"},
		[]string{"result"},
	)
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_poll_cycles_total", Help: "Poller cycles by outcome"},
		[]string{"poller", "result"},
	)
	QueueMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_queue_messages_total", Help: "Queue messages handled by the worker"},
		[]string{"result"},
	)
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "courier_provider_calls_total", Help: "Outbound provider calls"},
		[]string{"provider", "result", "http_status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests, Commands, CommandDuration, Queries,
		Dispatches, DispatchLatency, MessagesFinalized,
		OutboxPublished, PollCycles, QueueMessages, ProviderCalls,
	)
}
