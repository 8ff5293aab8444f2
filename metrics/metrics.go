// Package metrics exposes the Prometheus gauges and counters the Unified
// Health Monitor and Recording Consumer publish, grounded in ManuGH-xg2g's
// use of prometheus/client_golang. It answers spec.md section 9's open
// question about per-stream "last-known-good" telemetry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// StreamLastKnownGood is the UNIX timestamp a stream was last observed
	// RUNNING, per stream name.
	StreamLastKnownGood = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvr_stream_last_known_good_timestamp",
		Help: "Unix timestamp the stream was last observed RUNNING.",
	}, []string{"stream"})

	// StreamReconnectAttempts mirrors each stream's current consecutive
	// reconnect-attempt counter.
	StreamReconnectAttempts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvr_stream_reconnect_attempts",
		Help: "Current consecutive reconnect attempts for a stream.",
	}, []string{"stream"})

	// RelayRestartsTotal counts Relay subprocess restarts issued by the
	// Unified Health Monitor.
	RelayRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_relay_restarts_total",
		Help: "Total number of times the Health Monitor restarted the Relay.",
	})

	// RelayRestartsBlockedTotal counts restarts suppressed by the rate
	// limiter.
	RelayRestartsBlockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nvr_relay_restarts_blocked_total",
		Help: "Total number of Relay restarts suppressed by the rate limiter.",
	})

	// StreamRegistrationFailuresTotal counts registration failures by
	// stream.
	StreamRegistrationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_stream_registration_failures_total",
		Help: "Total Relay registration failures, by stream.",
	}, []string{"stream"})

	// SegmentsRecordedTotal counts segments closed by the Recording
	// Consumer.
	SegmentsRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nvr_segments_recorded_total",
		Help: "Total segments recorded, by stream.",
	}, []string{"stream"})
)

// MustRegister registers every metric above against reg. Call once at
// daemon startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		StreamLastKnownGood,
		StreamReconnectAttempts,
		RelayRestartsTotal,
		RelayRestartsBlockedTotal,
		StreamRegistrationFailuresTotal,
		SegmentsRecordedTotal,
	)
}
