package cmap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// mapMetrics is optional Prometheus instrumentation: disabled by default
// (nil), enabled per instance via WithMetrics. Each map registers its
// metrics under its own namespace on the given registerer; promauto panics
// if two maps register the same namespace on the same registerer.
type mapMetrics struct {
	resizes   prometheus.Counter
	treeifies prometheus.Counter
	size      prometheus.GaugeFunc
}

func newMapMetrics(namespace string, reg prometheus.Registerer, sizeFn func() float64) *mapMetrics {
	factory := promauto.With(reg)

	return &mapMetrics{
		resizes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cmap_resizes_total",
			Help:      "Number of bucket table resizes performed.",
		}),
		treeifies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cmap_treeifies_total",
			Help:      "Number of chain bins converted to tree bins.",
		}),
		size: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cmap_len",
			Help:      "Advisory entry count; may lag under concurrent writes.",
		}, sizeFn),
	}
}

func (m *mapMetrics) observeResize() {
	if m == nil {
		return
	}

	m.resizes.Inc()
}

func (m *mapMetrics) observeTreeify() {
	if m == nil {
		return
	}

	m.treeifies.Inc()
}
