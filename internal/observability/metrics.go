package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage metrics keep cardinality bounded: category and stage are small fixed
// sets, outcome is ok|failed.
var (
	stageTickets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_stage_tickets_total",
			Help: "Tickets processed per pipeline stage.",
		},
		[]string{"category", "stage", "outcome"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triage_stage_duration_seconds",
			Help:    "Wall-clock duration of each pipeline stage.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"category", "stage"},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_runs_total",
			Help: "Pipeline runs by terminal status.",
		},
		[]string{"category", "status"},
	)
)

func init() {
	prometheus.MustRegister(stageTickets, stageDuration, runsTotal)
}

// StageTickets adds n processed tickets for one stage outcome.
func StageTickets(category, stage string, ok bool, n int) {
	if n <= 0 {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	stageTickets.WithLabelValues(category, stage, outcome).Add(float64(n))
}

// ObserveStage records one stage's duration.
func ObserveStage(category, stage string, d time.Duration) {
	stageDuration.WithLabelValues(category, stage).Observe(d.Seconds())
}

// RunFinished counts a completed run.
func RunFinished(category string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	runsTotal.WithLabelValues(category, status).Inc()
}
