package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests *prometheus.CounterVec
	retries  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_client_requests_total",
			Help: "Requests sent to the portal backend by method and status code",
		}, []string{"method", "code"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "portal_client_auth_retries_total",
			Help: "Requests replayed after a 401 and a forced token refresh",
		}),
	}
}

func (m *metrics) request(method, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, code).Inc()
}

func (m *metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}
