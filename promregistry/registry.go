// Package promregistry provides an explicit Prometheus metric registry
// with get-or-register semantics for label-tuple vectors, plus a
// multiprocess mode where every process persists its own shard of
// metric state and scrapes merge all shards into one snapshot.
package promregistry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zenithlabs/telemetry/promregistry/multiproc"
)

// A Registry owns the aggregated state for a set of named metrics. It's
// guaranteed to keep returning the same vector given the same name. All
// methods are safe for concurrent use; increments and observations on
// the returned vectors are atomic per label-tuple.
type Registry struct {
	prom     *prometheus.Registry
	gatherer prometheus.Gatherer
	writer   *multiproc.Writer
	logger   logrus.FieldLogger

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// OptionFunc used to set options on a Registry.
type OptionFunc func(*Registry)

// WithLogger sets the logger used for scrape and shard warnings.
func WithLogger(l logrus.FieldLogger) OptionFunc {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates a single-process Registry. All metric state lives in
// memory and the Gatherer reads it directly.
func New(opts ...OptionFunc) *Registry {
	r := newRegistry(opts)
	r.gatherer = r.prom
	return r
}

// NewMultiprocess creates a Registry whose state is additionally
// persisted to a private shard file inside dir, and whose Gatherer
// merges every shard found in dir on each scrape. The directory must
// already exist and be writable; a failure here is a configuration
// error and the caller should treat it as fatal.
func NewMultiprocess(dir string, opts ...OptionFunc) (*Registry, error) {
	r := newRegistry(opts)

	w, err := multiproc.NewWriter(dir, r.prom)
	if err != nil {
		return nil, err
	}
	r.writer = w
	r.gatherer = multiproc.NewGatherer(dir, r.prom, w.Filename(), r.logger)

	w.Start()
	return r, nil
}

func newRegistry(opts []OptionFunc) *Registry {
	r := &Registry{
		prom:       prometheus.NewRegistry(),
		logger:     logrus.StandardLogger(),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrRegisterCounterVec creates or finds the counter vector with the
// given name. The help text and label names are fixed by the first
// registration.
func (r *Registry) GetOrRegisterCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counters[name] == nil {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, labels)
		r.prom.MustRegister(v)
		r.counters[name] = v
	}
	return r.counters[name]
}

// GetOrRegisterHistogramVec creates or finds the histogram vector with
// the given name. A nil buckets slice selects the default buckets.
func (r *Registry) GetOrRegisterHistogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.histograms[name] == nil {
		if buckets == nil {
			buckets = prometheus.DefBuckets
		}
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: buckets,
		}, labels)
		r.prom.MustRegister(v)
		r.histograms[name] = v
	}
	return r.histograms[name]
}

// GetOrRegisterGaugeVec creates or finds the gauge vector with the
// given name. In multiprocess mode gauges merge by sum.
func (r *Registry) GetOrRegisterGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gauges[name] == nil {
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, labels)
		r.prom.MustRegister(v)
		r.gauges[name] = v
	}
	return r.gauges[name]
}

// Gatherer returns the registry view scrapes should read: the local
// state in single-process mode, the merged multi-shard snapshot in
// multiprocess mode.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

// Handler returns the scrape handler serving the exposition text for
// the current registry view. Scrape errors degrade to a partial
// snapshot instead of failing the request.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{
		ErrorLog:      handlerLogger{r.logger},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// Close stops the shard writer, after one final sync so the state of a
// cleanly exiting process survives for other scrapers. It's a no-op in
// single-process mode.
func (r *Registry) Close() error {
	if r.writer == nil {
		return nil
	}
	return r.writer.Stop()
}

type handlerLogger struct {
	l logrus.FieldLogger
}

func (h handlerLogger) Println(v ...interface{}) {
	h.l.Warnln(v...)
}
