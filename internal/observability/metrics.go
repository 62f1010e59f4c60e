package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aide"

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	flowRunTotal       *prometheus.CounterVec
	flowStepTotal      *prometheus.CounterVec
	nodeDuration       *prometheus.HistogramVec
	budgetExceeded     *prometheus.CounterVec
	engineErrorsTotal  *prometheus.CounterVec
	stepsPerTurn       *prometheus.HistogramVec
	paramRepairTotal   *prometheus.CounterVec
	paramFailuresTotal prometheus.Counter

	toolInvocationTotal    *prometheus.CounterVec
	toolInvocationDuration *prometheus.HistogramVec
	toolErrorsTotal        *prometheus.CounterVec

	llmCallTotal     *prometheus.CounterVec
	llmCallDuration  *prometheus.HistogramVec
	llmTokensTotal   *prometheus.CounterVec
	providerCooldown *prometheus.GaugeVec

	cacheEntries      prometheus.Gauge
	cacheCreatedTotal prometheus.Counter
	cacheEvictedTotal *prometheus.CounterVec

	historyOpDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "turn_total",
					Help:      "Total conversation turns by mode and status.",
				},
				[]string{"mode", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "turn_duration_seconds",
					Help:      "Conversation turn duration in seconds by mode.",
					Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
				},
				[]string{"mode"},
			),
			flowRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "flow_run_total",
					Help:      "Total flow engine runs by topology and outcome.",
				},
				[]string{"topology", "outcome"},
			),
			flowStepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "flow_step_total",
					Help:      "Total node executions by topology, node and returned action.",
				},
				[]string{"topology", "node", "action"},
			),
			nodeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "node_duration_seconds",
					Help:      "Node execution duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"topology", "node"},
			),
			budgetExceeded: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "flow_budget_exceeded_total",
					Help:      "Runs forced into the fallback node by the step or time ceiling.",
				},
				[]string{"topology", "reason"},
			),
			engineErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "flow_engine_errors_total",
					Help:      "Runs aborted by a missing transition.",
				},
				[]string{"topology", "node"},
			),
			stepsPerTurn: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "flow_steps_per_run",
					Help:      "Node executions per run.",
					Buckets:   prometheus.LinearBuckets(1, 5, 12),
				},
				[]string{"topology"},
			),
			paramRepairTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "param_repair_total",
					Help:      "Parameter payloads normalized, by the stage that produced a parse.",
				},
				[]string{"stage"},
			),
			paramFailuresTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "param_failures_total",
					Help:      "Parameter payloads that could not be repaired or validated.",
				},
			),
			toolInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_invocation_total",
					Help:      "Total tool invocations by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_invocation_duration_seconds",
					Help:      "Tool invocation duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_errors_total",
					Help:      "Total tool invocation errors by tool and kind.",
				},
				[]string{"tool", "kind"},
			),
			llmCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_call_total",
					Help:      "Total LLM completions by provider and status.",
				},
				[]string{"provider", "status"},
			),
			llmCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "llm_call_duration_seconds",
					Help:      "LLM completion duration in seconds by provider.",
					Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
				},
				[]string{"provider"},
			),
			llmTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "llm_tokens_total",
					Help:      "Tokens consumed by provider and direction.",
				},
				[]string{"provider", "direction"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "llm_profile_cooldown_active",
					Help:      "Profile cooldown active state (1 active, 0 inactive).",
				},
				[]string{"profile"},
			),
			cacheEntries: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "session_cache_entries",
					Help:      "Orchestrator instances currently cached.",
				},
			),
			cacheCreatedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_cache_created_total",
					Help:      "Orchestrator instances constructed.",
				},
			),
			cacheEvictedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_cache_evicted_total",
					Help:      "Orchestrator instances evicted by reason.",
				},
				[]string{"reason"},
			),
			historyOpDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "history_op_duration_seconds",
					Help:      "Conversation history store operation duration by backend and operation.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"backend", "op"},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.flowRunTotal,
			m.flowStepTotal,
			m.nodeDuration,
			m.budgetExceeded,
			m.engineErrorsTotal,
			m.stepsPerTurn,
			m.paramRepairTotal,
			m.paramFailuresTotal,
			m.toolInvocationTotal,
			m.toolInvocationDuration,
			m.toolErrorsTotal,
			m.llmCallTotal,
			m.llmCallDuration,
			m.llmTokensTotal,
			m.providerCooldown,
			m.cacheEntries,
			m.cacheCreatedTotal,
			m.cacheEvictedTotal,
			m.historyOpDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordTurn(mode string, duration time.Duration, success bool) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(mode, status(success)).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFlowRun records the outcome of one engine run. Outcome is one of
// completed, budget_exceeded, engine_error, cancelled or failed.
func RecordFlowRun(topology, outcome string, steps int) {
	m := getMetrics()
	m.flowRunTotal.WithLabelValues(topology, outcome).Inc()
	m.stepsPerTurn.WithLabelValues(topology).Observe(float64(steps))
}

func RecordFlowStep(topology, node, action string, duration time.Duration) {
	m := getMetrics()
	m.flowStepTotal.WithLabelValues(topology, node, action).Inc()
	m.nodeDuration.WithLabelValues(topology, node).Observe(duration.Seconds())
}

func RecordBudgetExceeded(topology, reason string) {
	getMetrics().budgetExceeded.WithLabelValues(topology, reason).Inc()
}

func RecordEngineError(topology, node string) {
	getMetrics().engineErrorsTotal.WithLabelValues(topology, node).Inc()
}

func RecordParamRepair(stage string) {
	getMetrics().paramRepairTotal.WithLabelValues(stage).Inc()
}

func RecordParamFailure() {
	getMetrics().paramFailuresTotal.Inc()
}

func RecordToolInvocation(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolInvocationTotal.WithLabelValues(tool, status(success)).Inc()
	m.toolInvocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolError(tool, kind string) {
	getMetrics().toolErrorsTotal.WithLabelValues(tool, kind).Inc()
}

func RecordLLMCall(provider string, duration time.Duration, success bool, inputTokens, outputTokens int) {
	m := getMetrics()
	m.llmCallTotal.WithLabelValues(provider, status(success)).Inc()
	m.llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.llmTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}

func SetProviderCooldown(profile string, active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.providerCooldown.WithLabelValues(profile).Set(value)
}

func SetCacheEntries(count int) {
	getMetrics().cacheEntries.Set(float64(count))
}

func RecordCacheCreated() {
	getMetrics().cacheCreatedTotal.Inc()
}

func RecordCacheEviction(reason string) {
	getMetrics().cacheEvictedTotal.WithLabelValues(reason).Inc()
}

func RecordHistoryOp(backend, op string, duration time.Duration) {
	getMetrics().historyOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}
