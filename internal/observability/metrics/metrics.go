package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulingMetrics exposes counters/histograms for scheduling workflows.
// A nil *SchedulingMetrics is valid and records nothing.
type SchedulingMetrics struct {
	workflowTotal   *prometheus.CounterVec
	externalLatency *prometheus.HistogramVec
	slotsListed     prometheus.Counter
	lockContention  prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		workflowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "workflow",
			Name:      "total",
			Help:      "Workflow executions by outcome",
		}, []string{"workflow", "outcome"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scheduler",
			Subsystem: "external",
			Name:      "call_seconds",
			Help:      "Latency of calendar and database calls made by workflows",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target", "op", "status"}),
		slotsListed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "availability",
			Name:      "slots_listed_total",
			Help:      "Free slots returned to callers",
		}),
		lockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scheduler",
			Subsystem: "workflow",
			Name:      "slot_lock_contention_total",
			Help:      "Bookings rejected because another request held the slot lock",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.workflowTotal, m.externalLatency, m.slotsListed, m.lockContention)
	return m
}

func (m *SchedulingMetrics) ObserveWorkflow(workflow, outcome string) {
	if m == nil {
		return
	}
	m.workflowTotal.WithLabelValues(workflow, outcome).Inc()
}

// ObserveExternalCall records one gateway or store call started at start.
func (m *SchedulingMetrics) ObserveExternalCall(target, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.externalLatency.WithLabelValues(target, op, status).Observe(time.Since(start).Seconds())
}

func (m *SchedulingMetrics) AddSlotsListed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.slotsListed.Add(float64(n))
}

func (m *SchedulingMetrics) IncLockContention() {
	if m == nil {
		return
	}
	m.lockContention.Inc()
}
