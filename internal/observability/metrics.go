package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors reporting side-channel activity.
type Metrics struct {
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	pendingAppended  prometheus.Counter
	pendingDrained   prometheus.Counter
	goalTransitions  *prometheus.CounterVec
	reapedTotal      prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. Created once so repeated component
// construction (tests, multiple coordinators) cannot trigger duplicate
// registration panics.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Pass a fresh registry in tests that need isolated collectors. Registration
// errors panic, matching promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	dispatchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glitchcube",
			Subsystem: "executor",
			Name:      "dispatches_total",
			Help:      "Async tool dispatches by tool type and outcome.",
		},
		[]string{"tool", "status"},
	)
	dispatchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "glitchcube",
			Subsystem: "executor",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of async tool dispatches.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
	pendingAppended := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "glitchcube",
		Subsystem: "pending",
		Name:      "appended_total",
		Help:      "Pending results appended to conversation buffers.",
	})
	pendingDrained := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "glitchcube",
		Subsystem: "pending",
		Name:      "drained_total",
		Help:      "Pending results consumed by conversation turns.",
	})
	goalTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "glitchcube",
			Subsystem: "goal",
			Name:      "transitions_total",
			Help:      "Goal lifecycle transitions by kind.",
		},
		[]string{"transition"},
	)
	reapedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "glitchcube",
		Subsystem: "reaper",
		Name:      "conversations_reaped_total",
		Help:      "Idle conversations ended by the session reaper.",
	})

	reg.MustRegister(dispatchesTotal, dispatchDuration, pendingAppended, pendingDrained, goalTransitions, reapedTotal)

	return &Metrics{
		dispatchesTotal:  dispatchesTotal,
		dispatchDuration: dispatchDuration,
		pendingAppended:  pendingAppended,
		pendingDrained:   pendingDrained,
		goalTransitions:  goalTransitions,
		reapedTotal:      reapedTotal,
	}
}

// ObserveDispatch records one finished dispatch.
func (m *Metrics) ObserveDispatch(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(tool, status).Inc()
	m.dispatchDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// PendingAppended records pending results added to a buffer.
func (m *Metrics) PendingAppended(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pendingAppended.Add(float64(n))
}

// PendingDrained records pending results consumed by a turn.
func (m *Metrics) PendingDrained(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.pendingDrained.Add(float64(n))
}

// GoalTransition records a goal lifecycle transition ("selected", "completed",
// "expired").
func (m *Metrics) GoalTransition(transition string) {
	if m == nil {
		return
	}
	m.goalTransitions.WithLabelValues(transition).Inc()
}

// ConversationsReaped records idle conversations ended in one sweep.
func (m *Metrics) ConversationsReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reapedTotal.Add(float64(n))
}
