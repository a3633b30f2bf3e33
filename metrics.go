package glowseq

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	enqueued    prometheus.Counter
	rejected    prometheus.Counter
	played      prometheus.Counter
	dismissed   prometheus.Counter
	writeErrors prometheus.Counter
	outstanding prometheus.Gauge
	active      prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glowseq_groups_enqueued_total",
			Help: "Sequences committed to the playback queue.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glowseq_groups_rejected_total",
			Help: "Sequences that did not fit in the playback queue.",
		}),
		played: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glowseq_groups_played_total",
			Help: "Sequences that played all of their repetitions.",
		}),
		dismissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glowseq_groups_dismissed_total",
			Help: "Sequences aborted before finishing.",
		}),
		writeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glowseq_driver_write_errors_total",
			Help: "Frames that could not be sent to the LED controller.",
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glowseq_queue_outstanding_steps",
			Help: "Steps held by the playback queue, including the active group.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "glowseq_playback_active",
			Help: "1 while a sequence is playing.",
		}),
	}

	reg.MustRegister(
		m.enqueued,
		m.rejected,
		m.played,
		m.dismissed,
		m.writeErrors,
		m.outstanding,
		m.active,
	)

	return m
}
