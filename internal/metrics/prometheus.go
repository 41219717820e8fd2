package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/pullsub/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	stateTransitions   *prometheus.CounterVec
	deadlineGauge      prometheus.Gauge
	adaptationTicks    prometheus.Counter
	adaptationLatency  prometheus.Gauge
	connectionStarts   *prometheus.CounterVec
	connectionFailures prometheus.Counter
	messagesTotal      prometheus.Counter
	messageBytes       prometheus.Counter
	ackLatency         prometheus.Histogram
	extensions         prometheus.Counter
	outstandingMsgs    prometheus.Gauge
	outstandingBytes   prometheus.Gauge
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Metrics namespace (defaults to "pullsub" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "pullsub"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "subscriber",
			Name:      "state_transitions_total",
			Help:      "Total subscriber group state transitions by from/to state.",
		}, []string{"from", "to"})

		p.deadlineGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "subscriber",
			Name:      "stream_ack_deadline_seconds",
			Help:      "Current stream ack deadline pushed to connections.",
		})

		p.adaptationTicks = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "subscriber",
			Name:      "deadline_adaptation_ticks_total",
			Help:      "Total runs of the deadline adaptation loop.",
		})

		p.adaptationLatency = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "subscriber",
			Name:      "observed_tail_latency_seconds",
			Help:      "Tail ack latency observed by the last adaptation tick.",
		})

		p.connectionStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "connection",
			Name:      "starts_total",
			Help:      "Total connection start attempts by result.",
		}, []string{"result"})

		p.connectionFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "connection",
			Name:      "failures_total",
			Help:      "Total fatal stream connection failures.",
		})

		p.messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "connection",
			Name:      "messages_total",
			Help:      "Total messages admitted for dispatch.",
		})

		p.messageBytes = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "connection",
			Name:      "message_bytes_total",
			Help:      "Total payload bytes admitted for dispatch.",
		})

		p.ackLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "connection",
			Name:      "ack_latency_seconds",
			Help:      "Time from delivery to acknowledgment in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms .. ~7m
		})

		p.extensions = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "connection",
			Name:      "deadline_extensions_total",
			Help:      "Total ack-deadline extensions of in-flight messages.",
		})

		p.outstandingMsgs = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "flow",
			Name:      "outstanding_messages",
			Help:      "Current aggregate unacknowledged message count.",
		})

		p.outstandingBytes = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "flow",
			Name:      "outstanding_bytes",
			Help:      "Current aggregate unacknowledged byte size.",
		})

		p.reg.MustRegister(
			p.stateTransitions,
			p.deadlineGauge,
			p.adaptationTicks,
			p.adaptationLatency,
			p.connectionStarts,
			p.connectionFailures,
			p.messagesTotal,
			p.messageBytes,
			p.ackLatency,
			p.extensions,
			p.outstandingMsgs,
			p.outstandingBytes,
		)
	})
}

// RecordStateTransition records a subscriber group state transition.
func (p *PrometheusCollector) RecordStateTransition(from, to types.State) {
	p.ensureRegistered()
	p.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// RecordDeadlineUpdate records a new stream ack deadline.
func (p *PrometheusCollector) RecordDeadlineUpdate(seconds int) {
	p.ensureRegistered()
	p.deadlineGauge.Set(float64(seconds))
}

// RecordAdaptationTick records one run of the adaptation loop.
func (p *PrometheusCollector) RecordAdaptationTick(percentileSeconds int) {
	p.ensureRegistered()
	p.adaptationTicks.Inc()
	p.adaptationLatency.Set(float64(percentileSeconds))
}

// RecordConnectionStart records the outcome of a connection start attempt.
func (p *PrometheusCollector) RecordConnectionStart(success bool) {
	p.ensureRegistered()
	result := "success"
	if !success {
		result = "failure"
	}
	p.connectionStarts.WithLabelValues(result).Inc()
}

// RecordConnectionFailure records a fatal connection failure.
func (p *PrometheusCollector) RecordConnectionFailure() {
	p.ensureRegistered()
	p.connectionFailures.Inc()
}

// RecordMessage records receipt of one message.
func (p *PrometheusCollector) RecordMessage(bytes int) {
	p.ensureRegistered()
	p.messagesTotal.Inc()
	p.messageBytes.Add(float64(bytes))
}

// RecordAckLatency records the time from delivery to acknowledgment.
func (p *PrometheusCollector) RecordAckLatency(seconds float64) {
	p.ensureRegistered()
	p.ackLatency.Observe(seconds)
}

// RecordExtension records one ack-deadline extension.
func (p *PrometheusCollector) RecordExtension() {
	p.ensureRegistered()
	p.extensions.Inc()
}

// RecordOutstanding sets the current aggregate unacknowledged load.
func (p *PrometheusCollector) RecordOutstanding(messages, bytes int64) {
	p.ensureRegistered()
	p.outstandingMsgs.Set(float64(messages))
	p.outstandingBytes.Set(float64(bytes))
}
