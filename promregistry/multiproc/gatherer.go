package multiproc

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// A Gatherer is the merged multiprocess view of a shard directory. Each
// Gather folds the local registry's live state with every other
// process's shard file, producing a fresh snapshot. It never mutates
// the shards and never blocks the processes writing them.
type Gatherer struct {
	dir     string
	local   prometheus.Gatherer
	ownFile string
	logger  logrus.FieldLogger
	limiter *rate.Limiter
}

// NewGatherer returns a Gatherer over dir. The local registry is read
// live, and ownFile (this process's shard) is skipped during the fold
// so the local state isn't counted twice.
func NewGatherer(dir string, local prometheus.Gatherer, ownFile string, logger logrus.FieldLogger) *Gatherer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gatherer{
		dir:     dir,
		local:   local,
		ownFile: ownFile,
		logger:  logger,
		// Shard warnings fire once per scrape interval worth of noise
		// at most, so a persistently corrupt shard can't flood logs.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*dto.MetricFamily, error) {
	acc := newAccumulator()

	mfs, err := g.local.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range mfs {
		acc.add(mf)
	}

	shards, err := filepath.Glob(filepath.Join(g.dir, ShardPattern))
	if err != nil {
		return nil, err
	}
	for _, shard := range shards {
		if shard == g.ownFile {
			continue
		}
		if err := g.addShard(acc, shard); err != nil {
			// A shard mid-write or left by a crashed process
			// contributes zero; the scrape still succeeds.
			g.warn(err, shard)
		}
	}

	return acc.result(), nil
}

func (g *Gatherer) addShard(acc *accumulator, shard string) error {
	f, err := os.Open(shard)
	if err != nil {
		return err
	}
	defer f.Close()

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		if !acc.add(mf) {
			g.warn(nil, shard)
		}
	}
	return nil
}

func (g *Gatherer) warn(err error, shard string) {
	if !g.limiter.Allow() {
		return
	}
	l := g.logger.WithField("shard", shard)
	if err != nil {
		l.WithError(err).Warn("skipping unreadable metrics shard")
	} else {
		l.Warn("skipping shard family with mismatched type")
	}
}
