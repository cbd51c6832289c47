package taskworker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports worker activity to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	claimed    *prometheus.CounterVec
	succeeded  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	idle       *prometheus.CounterVec
	contention *prometheus.CounterVec
	busy       *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskworker",
			Name:      "tasks_claimed_total",
			Help:      "Tasks claimed by a worker.",
		}, []string{"queue"}),
		succeeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskworker",
			Name:      "tasks_succeeded_total",
			Help:      "Tasks handled without error.",
		}, []string{"queue"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskworker",
			Name:      "tasks_failed_total",
			Help:      "Task failures recorded, by reason code.",
		}, []string{"queue", "reason_code"}),
		idle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskworker",
			Name:      "idle_polls_total",
			Help:      "Polls that found no claimable task.",
		}, []string{"queue"}),
		contention: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskworker",
			Name:      "lock_contention_total",
			Help:      "Polls skipped because another worker held the lock.",
		}, []string{"queue"}),
		busy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "taskworker",
			Name:      "workers_busy",
			Help:      "Workers currently handling a task.",
		}, []string{"queue"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskworker",
			Name:      "handle_duration_seconds",
			Help:      "Time spent in Queue.Handle.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}
	reg.MustRegister(m.claimed, m.succeeded, m.failed, m.idle, m.contention, m.busy, m.duration)
	return m
}

func (m *Metrics) taskClaimed(queue string) {
	if m == nil {
		return
	}
	m.claimed.WithLabelValues(queue).Inc()
	m.busy.WithLabelValues(queue).Inc()
}

func (m *Metrics) taskDone(queue string, elapsed time.Duration, te *TaskError) {
	if m == nil {
		return
	}
	m.busy.WithLabelValues(queue).Dec()
	m.duration.WithLabelValues(queue).Observe(elapsed.Seconds())
	if te != nil {
		m.failed.WithLabelValues(queue, te.ReasonCode).Inc()
		return
	}
	m.succeeded.WithLabelValues(queue).Inc()
}

func (m *Metrics) taskAborted(queue string) {
	if m == nil {
		return
	}
	m.busy.WithLabelValues(queue).Dec()
}

func (m *Metrics) idlePoll(queue string) {
	if m == nil {
		return
	}
	m.idle.WithLabelValues(queue).Inc()
}

func (m *Metrics) lockContended(queue string) {
	if m == nil {
		return
	}
	m.contention.WithLabelValues(queue).Inc()
}
