package httptelemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zenithlabs/telemetry/promregistry"
)

// A Handler consumes the Outcome of a completed request and applies it
// to one metric's aggregated state. Handlers are invoked in
// registration order once per request and must treat the Outcome as
// read-only.
type Handler interface {
	Observe(Outcome)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(Outcome)

// Observe implements the Handler interface.
func (fn HandlerFunc) Observe(o Outcome) { fn(o) }

// uidHeader is the request header surfaced as the uid label. A missing
// header yields an empty label value, never an error.
const uidHeader = "uid"

// outcomeLabels is the fixed label schema shared by the reference
// handlers. The order here is the label order of every series.
var outcomeLabels = []string{"service_name", "status_code", "status_group", "endpoint", "method", "uid"}

func labelValues(service string, o Outcome) []string {
	return []string{
		service,
		strconv.Itoa(o.StatusCode),
		o.StatusGroup,
		o.Endpoint,
		o.Method,
		o.Header.Get(uidHeader),
	}
}

// RequestCounter counts handled requests per label-tuple.
type RequestCounter struct {
	service string
	vec     *prometheus.CounterVec
}

// NewRequestCounter registers the http_requests_total counter on reg
// and returns a Handler bound to serviceName. The service name label is
// fixed for the handler's lifetime.
func NewRequestCounter(reg *promregistry.Registry, serviceName string) *RequestCounter {
	return &RequestCounter{
		service: serviceName,
		vec: reg.GetOrRegisterCounterVec(
			"http_requests_total",
			"Total count of handled HTTP requests.",
			outcomeLabels,
		),
	}
}

// Observe implements the Handler interface.
func (c *RequestCounter) Observe(o Outcome) {
	c.vec.WithLabelValues(labelValues(c.service, o)...).Inc()
}

// LatencyHistogram observes request durations per label-tuple.
type LatencyHistogram struct {
	service string
	vec     *prometheus.HistogramVec
}

// NewLatencyHistogram registers the http_request_duration_seconds
// histogram on reg and returns a Handler bound to serviceName. A nil
// buckets slice selects the default buckets.
func NewLatencyHistogram(reg *promregistry.Registry, serviceName string, buckets []float64) *LatencyHistogram {
	return &LatencyHistogram{
		service: serviceName,
		vec: reg.GetOrRegisterHistogramVec(
			"http_request_duration_seconds",
			"Histogram of HTTP request durations in seconds.",
			outcomeLabels,
			buckets,
		),
	}
}

// Observe implements the Handler interface.
func (h *LatencyHistogram) Observe(o Outcome) {
	h.vec.WithLabelValues(labelValues(h.service, o)...).Observe(o.Duration.Seconds())
}
