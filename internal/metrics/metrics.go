package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsSubmitted counts accepted submissions by job type and backend.
	JobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genserver_jobs_submitted_total",
		Help: "Accepted generation job submissions.",
	}, []string{"type", "backend"})

	// JobsCompleted counts jobs that reached the completed status.
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genserver_jobs_completed_total",
		Help: "Generation jobs finalized as completed.",
	})

	// JobsFailed counts terminal failures by reason.
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genserver_jobs_failed_total",
		Help: "Generation jobs finalized as failed.",
	}, []string{"reason"})

	// PollTicks counts executed poller ticks.
	PollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genserver_poll_ticks_total",
		Help: "Poll ticks executed against the queue backend.",
	})

	// ArtifactsPersisted counts durably stored result artifacts.
	ArtifactsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genserver_artifacts_persisted_total",
		Help: "Result artifacts persisted to storage.",
	})
)

// Handler exposes the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
