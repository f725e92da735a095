package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks assignment resolution outcomes.
type Metrics struct {
	Resolutions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "notaria_assignment_resolutions_total",
			Help: "Assignment resolution outcomes by match kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncrementResolution(kind string) {
	m.Resolutions.WithLabelValues(kind).Inc()
}
