// Package multiproc implements the multiprocess strategy for metric
// state: every process persists its registry to a private shard file
// inside a shared directory, and scrapes fold all shards into one
// logical snapshot. Writes never cross process boundaries, so no
// locking between processes is needed; a crashed process's shard simply
// stops updating.
package multiproc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// ShardPattern matches the shard files maintained inside a multiprocess
// directory.
const ShardPattern = "telemetry_*.prom"

// DefaultSyncInterval is how often a running Writer persists its shard.
const DefaultSyncInterval = 5 * time.Second

// A Writer persists the local process's metric state to its shard file.
// Each shard is named by pid so no two live processes ever write the
// same file.
type Writer struct {
	gatherer prometheus.Gatherer
	filename string
	interval time.Duration

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWriter validates dir and returns a Writer for the current process.
// The directory must exist, be a directory, and be writable; any
// failure is reported immediately so misconfiguration surfaces at
// setup time rather than on the first scrape.
func NewWriter(dir string, g prometheus.Gatherer) (*Writer, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "multiprocess metrics dir %q", dir)
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("multiprocess metrics dir %q is not a directory", dir)
	}
	probe, err := os.CreateTemp(dir, ".probe")
	if err != nil {
		return nil, errors.Wrapf(err, "multiprocess metrics dir %q not writable", dir)
	}
	probe.Close()
	os.Remove(probe.Name())

	return &Writer{
		gatherer: g,
		filename: filepath.Join(dir, fmt.Sprintf("telemetry_%d.prom", os.Getpid())),
		interval: DefaultSyncInterval,
		done:     make(chan struct{}),
	}, nil
}

// Filename returns the absolute path of this process's shard file.
func (w *Writer) Filename() string {
	return w.filename
}

// Sync gathers the local registry and rewrites the shard file. The
// shard is written to a temp file and renamed into place so readers
// never observe a half-written shard.
func (w *Writer) Sync() error {
	mfs, err := w.gatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "gather for shard sync")
	}

	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return errors.Wrapf(err, "encode %s", mf.GetName())
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(w.filename), filepath.Base(w.filename)+".tmp")
	if err != nil {
		return errors.Wrap(err, "create shard temp file")
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "write shard")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "close shard temp file")
	}
	if err := os.Rename(tmp.Name(), w.filename); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "rename shard into place")
	}
	return nil
}

// Start begins syncing the shard on an interval until Stop is called.
func (w *Writer) Start() {
	w.once.Do(func() {
		w.wg.Add(1)
		go w.run()
	})
}

func (w *Writer) run() {
	defer w.wg.Done()

	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			// Sync errors here are transient; the next tick retries
			// and Stop reports the final state.
			_ = w.Sync()
		case <-w.done:
			return
		}
	}
}

// Stop halts interval syncing and writes the shard one final time so a
// cleanly exiting process leaves its last state behind for scrapers.
func (w *Writer) Stop() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.wg.Wait()
	return w.Sync()
}
