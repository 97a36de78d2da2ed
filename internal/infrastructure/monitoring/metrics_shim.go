package monitoring

import "strconv"

// HTTP request metrics used by the observability middleware.

func (m *Metrics) ActiveRequestsInc(path, method string) {
	m.HTTPRequestsInFlight.WithLabelValues(path, method).Inc()
}

func (m *Metrics) ActiveRequestsDec(path, method string) {
	m.HTTPRequestsInFlight.WithLabelValues(path, method).Dec()
}

func (m *Metrics) ObserveRequestDuration(path, method string, status int, seconds float64) {
	m.HTTPRequestDuration.WithLabelValues(path, method, strconv.Itoa(status)).Observe(seconds)
}

func (m *Metrics) IncRequestErrors(path, method string, status int) {
	m.HTTPRequestErrors.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
}
