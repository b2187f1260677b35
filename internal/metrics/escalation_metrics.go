package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vigildash/vigil/internal/escalation"
)

var (
	// Escalation lifecycle metrics
	EscalationsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigil_escalations_open",
			Help: "Number of unresolved escalations by level",
		},
		[]string{"level"},
	)

	EscalationsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_escalations_created_total",
			Help: "Total number of escalations created by level and severity",
		},
		[]string{"level", "severity"},
	)

	EscalationTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_escalation_transitions_total",
			Help: "Total number of lifecycle transitions by action type",
		},
		[]string{"action"},
	)

	EscalationsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_escalations_resolved_total",
			Help: "Total number of escalations resolved by severity",
		},
		[]string{"severity"},
	)

	EscalationResolutionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_escalation_resolution_seconds",
			Help:    "Time from escalation creation to resolution",
			Buckets: []float64{3600, 14400, 86400, 259200, 604800, 1209600, 2592000}, // 1h to 30d
		},
		[]string{"severity"},
	)
)

// RecordEscalationCreated records a newly created escalation
func RecordEscalationCreated(e *escalation.Escalation) {
	EscalationsCreatedTotal.WithLabelValues(levelLabel(e.Level), string(e.Severity)).Inc()
}

// RecordTransition records a lifecycle transition
func RecordTransition(action escalation.ActionType, e *escalation.Escalation) {
	EscalationTransitionsTotal.WithLabelValues(string(action)).Inc()
}

// RecordResolved records a resolution and its duration
func RecordResolved(e *escalation.Escalation, took time.Duration) {
	EscalationsResolvedTotal.WithLabelValues(string(e.Severity)).Inc()
	EscalationResolutionSeconds.WithLabelValues(string(e.Severity)).Observe(took.Seconds())
}

// UpdateOpenGauges refreshes the per-level open gauges from aggregate stats
func UpdateOpenGauges(stats escalation.Stats) {
	for level, count := range stats.OpenByLevel {
		EscalationsOpen.WithLabelValues(levelLabel(escalation.Level(level))).Set(float64(count))
	}
}

func levelLabel(l escalation.Level) string {
	switch l {
	case escalation.Level1:
		return "1"
	case escalation.Level2:
		return "2"
	case escalation.Level3:
		return "3"
	default:
		return "unknown"
	}
}
