package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the save path, connectivity state, and badge sessions.
// Exposed on /metrics via promhttp in cmd/api.
var (
	SaveAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesheet_save_attempts_total",
		Help: "Remote record write attempts, including retries.",
	})
	SaveRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesheet_save_retries_total",
		Help: "Write attempts that failed and were retried.",
	})
	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesheet_save_failures_total",
		Help: "Writes that exhausted all retries.",
	})
	SavesDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesheet_saves_deferred_total",
		Help: "Writes handed to the offline deferred queue.",
	})
	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timesheet_online",
		Help: "1 when the connectivity monitor believes the network is reachable.",
	})
	DeferredDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "timesheet_deferred_queue_depth",
		Help: "Operations waiting in the deferred queue.",
	})
	ClockIns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesheet_clock_ins_total",
		Help: "Sessions opened by clock-in.",
	})
	ClockOuts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesheet_clock_outs_total",
		Help: "Sessions closed by clock-out.",
	})
	ReplayedSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "timesheet_replayed_saves_total",
		Help: "Escalated saves re-applied by the replay worker.",
	})
)
