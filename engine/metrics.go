package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors published during capture.
type Metrics struct {
	Transitions  prometheus.Counter
	Revolutions  prometheus.Counter
	CRCPass      prometheus.Counter
	CRCFail      prometheus.Counter
	WayOffEdges  prometheus.Counter
	Confidence   prometheus.Gauge
	RPM          prometheus.Gauge
	SpectralPeak prometheus.Gauge
}

// NewMetrics creates and registers the collectors with reg. Registering
// with an explicit registry keeps repeated engine instances from
// colliding on the global one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxdec_transitions_total",
			Help: "Flux transitions processed",
		}),
		Revolutions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxdec_revolutions_total",
			Help: "Complete index-to-index rotations seen",
		}),
		CRCPass: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxdec_crc_pass_total",
			Help: "Decoded records with a valid CRC",
		}),
		CRCFail: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxdec_crc_fail_total",
			Help: "Decoded records with a CRC mismatch",
		}),
		WayOffEdges: factory.NewCounter(prometheus.CounterOpts{
			Name: "fluxdec_wayoff_edges_total",
			Help: "Edges classified outside the trackable phase window",
		}),
		Confidence: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluxdec_detect_confidence",
			Help: "Auto-detection confidence, 0-255",
		}),
		RPM: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluxdec_rpm",
			Help: "Measured rotational speed",
		}),
		SpectralPeak: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fluxdec_spectral_peak_hz",
			Help: "Peak frequency from the background spectral analyzer",
		}),
	}
}
