package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_frames_total",
			Help: "Frames handled by the scan pipeline",
		},
		[]string{"result"}, // analyzed, error, discarded, suppressed
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_events_total",
			Help: "Events published to the sink",
		},
		[]string{"name"},
	)

	detectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scanner_detect_duration_seconds",
			Help:    "Time spent in the barcode detector per image",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	analyzerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanner_analyze_requests_total",
			Help: "Single-shot analysis requests",
		},
		[]string{"status"}, // ok, busy, error
	)

	sessionState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scanner_session_state",
			Help: "1 for the current session state, 0 otherwise",
		},
		[]string{"state"},
	)

	deviceReleases = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scanner_device_releases_total",
			Help: "Camera devices released",
		},
	)
)

func setStateMetric(s State) {
	for _, st := range states {
		v := 0.0
		if st == s {
			v = 1
		}
		sessionState.WithLabelValues(string(st)).Set(v)
	}
}
