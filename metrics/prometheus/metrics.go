// Package prometheus provides Prometheus metrics for the agentmesh
// orchestration layer.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentmesh"

var (
	// a2aRequestsTotal counts JSON-RPC requests handled by the A2A server.
	a2aRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "a2a_requests_total",
			Help:      "Total number of A2A JSON-RPC requests",
		},
		[]string{"method", "code"}, // code: "ok" or the JSON-RPC error code
	)

	// a2aRequestDuration is a histogram of A2A request handling duration.
	a2aRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "a2a_request_duration_seconds",
			Help:      "Histogram of A2A request handling duration in seconds",
			Buckets:   prometheus.DefBuckets, // .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10
		},
		[]string{"method"},
	)

	// tasksActive is a gauge of tasks currently held by the task manager.
	tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Number of tasks currently held by the task manager",
		},
	)

	// taskTransitionsTotal counts task state transitions.
	taskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of task state transitions",
		},
		[]string{"state"},
	)

	// subscriberDropsTotal counts events dropped on slow task subscribers.
	subscriberDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Total number of task events dropped on slow subscribers",
		},
	)

	// subscriberPanicsTotal counts panics recovered in subscriber callbacks.
	subscriberPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_panics_total",
			Help:      "Total number of panics recovered in task subscriber callbacks",
		},
	)

	// swarmSpawnsTotal counts swarm runs by consensus strategy and outcome.
	swarmSpawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swarm_spawns_total",
			Help:      "Total number of swarm runs",
		},
		[]string{"consensus", "status"}, // status: completed, failed
	)

	// swarmAgentDuration is a histogram of per-agent execution duration.
	swarmAgentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swarm_agent_duration_seconds",
			Help:      "Duration of swarm agent executions in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"role"},
	)

	// gatewayConnectionsActive is a gauge of open gateway connections.
	gatewayConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections_active",
			Help:      "Number of currently open gateway connections",
		},
	)

	// gatewayFramesTotal counts gateway frames by direction and kind.
	gatewayFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_frames_total",
			Help:      "Total number of gateway frames",
		},
		[]string{"direction", "kind"}, // direction: in, out; kind: request, response, event
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		a2aRequestsTotal,
		a2aRequestDuration,
		tasksActive,
		taskTransitionsTotal,
		subscriberDropsTotal,
		subscriberPanicsTotal,
		swarmSpawnsTotal,
		swarmAgentDuration,
		gatewayConnectionsActive,
		gatewayFramesTotal,
	}
)

// RecordA2ARequest records a handled A2A JSON-RPC request.
func RecordA2ARequest(method, code string, durationSeconds float64) {
	a2aRequestsTotal.WithLabelValues(method, code).Inc()
	a2aRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// SetTasksActive records the current task count.
func SetTasksActive(n int) {
	tasksActive.Set(float64(n))
}

// RecordTaskTransition records a task state transition.
func RecordTaskTransition(state string) {
	taskTransitionsTotal.WithLabelValues(state).Inc()
}

// RecordSubscriberDrop records an event dropped on a slow subscriber.
func RecordSubscriberDrop() {
	subscriberDropsTotal.Inc()
}

// RecordSubscriberPanic records a panic recovered in a subscriber callback.
func RecordSubscriberPanic() {
	subscriberPanicsTotal.Inc()
}

// RecordSwarmSpawn records a completed or failed swarm run.
func RecordSwarmSpawn(consensus, status string) {
	swarmSpawnsTotal.WithLabelValues(consensus, status).Inc()
}

// RecordSwarmAgentDuration records the execution duration of one agent.
func RecordSwarmAgentDuration(role string, durationSeconds float64) {
	swarmAgentDuration.WithLabelValues(role).Observe(durationSeconds)
}

// RecordGatewayConnect records a gateway connection being opened.
func RecordGatewayConnect() {
	gatewayConnectionsActive.Inc()
}

// RecordGatewayDisconnect records a gateway connection being closed.
func RecordGatewayDisconnect() {
	gatewayConnectionsActive.Dec()
}

// RecordGatewayFrame records a gateway frame.
func RecordGatewayFrame(direction, kind string) {
	gatewayFramesTotal.WithLabelValues(direction, kind).Inc()
}
