package httptelemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
)

// Middleware returns an HTTP middleware which times each request,
// builds its Outcome once the downstream handler returns, and delivers
// it to every handler in order.
//
// Paths on the skip list (the scrape route by default) pass through
// untimed and unreported, so scrape traffic never inflates its own
// series. A panicking metric handler is logged and skipped; it can't
// suppress delivery to the remaining handlers or affect the response.
func Middleware(handlers []Handler, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &telemetryMiddleware{
		handlers: handlers,
		logger:   logrus.StandardLogger(),
		skip:     map[string]struct{}{DefaultMetricsPath: {}},
	}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := m.skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						// Transport gone, no response was produced;
						// nothing to report.
						panic(p)
					}
					if ww.Status() == 0 {
						ww.WriteHeader(http.StatusInternalServerError)
					}
					m.report(newOutcome(r, ww.Status(), time.Since(start)))
					panic(p)
				}
			}()

			next.ServeHTTP(ww, r)
			m.report(newOutcome(r, ww.Status(), time.Since(start)))
		})
	}
}

// MiddlewareOption configures the telemetry middleware.
type MiddlewareOption func(*telemetryMiddleware)

// WithLogger sets the logger used when a metric handler panics.
func WithLogger(l logrus.FieldLogger) MiddlewareOption {
	return func(m *telemetryMiddleware) {
		m.logger = l
	}
}

// SkipPaths replaces the set of request paths excluded from telemetry.
func SkipPaths(paths ...string) MiddlewareOption {
	return func(m *telemetryMiddleware) {
		m.skip = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			m.skip[p] = struct{}{}
		}
	}
}

type telemetryMiddleware struct {
	handlers []Handler
	logger   logrus.FieldLogger
	skip     map[string]struct{}
}

func (m *telemetryMiddleware) report(o Outcome) {
	for _, h := range m.handlers {
		m.observe(h, o)
	}
}

func (m *telemetryMiddleware) observe(h Handler, o Outcome) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.WithFields(logrus.Fields{
				"panic":    p,
				"endpoint": o.Endpoint,
			}).Warn("telemetry handler panicked")
		}
	}()
	h.Observe(o)
}
