package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

// Metrics holds the Prometheus collectors of the board
type Metrics struct {
	escalations    prometheus.Counter
	commitFailures *prometheus.CounterVec
	moves          *prometheus.CounterVec
	approvals      *prometheus.CounterVec
	tasks          *prometheus.GaugeVec
	tickDuration   prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taskboard_escalations_total",
				Help: "Total number of tasks escalated to delayed by the deadline monitor",
			},
		),
		commitFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_commit_failures_total",
				Help: "Total number of failed calls to the task authority",
			},
			[]string{"op"},
		),
		moves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_moves_total",
				Help: "Total number of move requests by outcome",
			},
			[]string{"outcome"},
		),
		approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskboard_approvals_total",
				Help: "Total number of resolved freeze and completion requests",
			},
			[]string{"kind", "state"},
		),
		tasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskboard_tasks",
				Help: "Current number of tasks held by status",
			},
			[]string{"status"},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskboard_tick_duration_seconds",
				Help:    "Time spent evaluating one deadline monitor pass",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.escalations,
			m.commitFailures,
			m.moves,
			m.approvals,
			m.tasks,
			m.tickDuration,
		)
	}
	return m
}

func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

func (m *Metrics) CommitFailed(op string) {
	if m == nil {
		return
	}
	m.commitFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) Move(outcome string) {
	if m == nil {
		return
	}
	m.moves.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Resolved(kind model.ApprovalKind, state model.ApprovalState) {
	if m == nil {
		return
	}
	m.approvals.WithLabelValues(string(kind), string(state)).Inc()
}

// ObserveTick records the duration of one monitor pass, in seconds.
func (m *Metrics) ObserveTick(seconds float64) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(seconds)
}

// SetTasks publishes the number of tasks per status.
func (m *Metrics) SetTasks(tasks []model.Task) {
	if m == nil {
		return
	}
	counts := make(map[model.Status]int, len(model.Statuses))
	for _, t := range tasks {
		counts[t.Status]++
	}
	for _, st := range model.Statuses {
		m.tasks.WithLabelValues(string(st)).Set(float64(counts[st]))
	}
}
