// Package httptelemetry provides an http.Handler middleware which times
// every request, builds a canonical outcome record for it, and fans the
// record out to a pluggable set of metric handlers. Instrument wires
// the middleware, the reference handlers, and the /metrics scrape route
// onto a chi router in one call.
package httptelemetry

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// An Outcome is the canonical record of one completed request. Exactly
// one Outcome is built per handled request, after the downstream
// handler returns, so Duration and StatusCode always reflect the full
// handling of the final response.
type Outcome struct {
	// Duration is the wall-clock time between dispatch and the
	// downstream handler returning.
	Duration time.Duration

	// Header holds the inbound request's headers. Lookups through
	// http.Header are case-insensitive. Handlers must not mutate it.
	Header http.Header

	// StatusCode is the status actually sent. A handler that never
	// wrote a header is normalized to 200.
	StatusCode int

	// StatusGroup is the coarse status class, e.g. "2xx" for 200.
	StatusGroup string

	// Endpoint is the raw request path.
	Endpoint string

	// Method is the HTTP method, upper-cased.
	Method string
}

func newOutcome(r *http.Request, status int, dur time.Duration) Outcome {
	if status == 0 {
		// Assume no Write or WriteHeader means OK.
		status = http.StatusOK
	}
	return Outcome{
		Duration:    dur,
		Header:      r.Header,
		StatusCode:  status,
		StatusGroup: statusGroup(status),
		Endpoint:    r.URL.Path,
		Method:      strings.ToUpper(r.Method),
	}
}

func statusGroup(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
