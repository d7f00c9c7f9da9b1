package cart

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelResult = "result"

	resultOK        = "ok"
	resultError     = "error"
	resultCoalesced = "coalesced"
	resultEncode    = "encode_error"
)

// Metrics is optional; a nil *Metrics records nothing.
type Metrics struct {
	Lines         prometheus.Gauge
	Units         prometheus.Gauge
	Writes        *prometheus.CounterVec
	WriteDuration prometheus.Histogram
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Lines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cart_lines",
			Help: "Distinct products currently in the cart",
		}),
		Units: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cart_units",
			Help: "Total quantity currently in the cart",
		}),
		Writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_persist_writes_total",
				Help: "Cart persistence writes by result",
			},
			[]string{labelResult},
		),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "cart_persist_duration_seconds",
			Help: "Cart persistence write latency",
		}),
	}

	reg.MustRegister(m.Lines, m.Units, m.Writes, m.WriteDuration)
	return m
}

func (m *Metrics) observeCart(c Cart) {
	if m == nil {
		return
	}
	m.Lines.Set(float64(len(c)))
	m.Units.Set(float64(c.Units()))
}

func (m *Metrics) observeWrite(start time.Time, err error) {
	if m == nil {
		return
	}
	m.WriteDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.Writes.WithLabelValues(resultError).Inc()
		return
	}
	m.Writes.WithLabelValues(resultOK).Inc()
}

func (m *Metrics) inc(result string) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(result).Inc()
}
