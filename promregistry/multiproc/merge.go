package multiproc

import (
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"google.golang.org/protobuf/proto"
)

// accumulator folds metric families from multiple shards into one
// logical family per name, summing aggregates label-tuple-wise.
type accumulator struct {
	families map[string]*dto.MetricFamily
	series   map[string]map[string]*dto.Metric
}

func newAccumulator() *accumulator {
	return &accumulator{
		families: make(map[string]*dto.MetricFamily),
		series:   make(map[string]map[string]*dto.Metric),
	}
}

// add folds one family into the accumulator. Families with the same
// name must agree on type; a mismatched family is rejected so one bad
// shard can't poison the merged snapshot.
func (a *accumulator) add(mf *dto.MetricFamily) bool {
	name := mf.GetName()

	existing, ok := a.families[name]
	if !ok {
		a.families[name] = &dto.MetricFamily{
			Name: proto.String(name),
			Help: proto.String(mf.GetHelp()),
			Type: mf.Type,
		}
		a.series[name] = make(map[string]*dto.Metric)
	} else if existing.GetType() != mf.GetType() {
		return false
	}

	for _, m := range mf.GetMetric() {
		sig := labelSignature(m)
		if cur, ok := a.series[name][sig]; ok {
			mergeMetric(mf.GetType(), cur, m)
		} else {
			a.series[name][sig] = cloneMetric(mf.GetType(), m)
		}
	}
	return true
}

// result returns the merged families with deterministic ordering:
// families sorted by name, series sorted by label signature.
func (a *accumulator) result() []*dto.MetricFamily {
	names := make([]string, 0, len(a.families))
	for name := range a.families {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		mf := a.families[name]

		sigs := make([]string, 0, len(a.series[name]))
		for sig := range a.series[name] {
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)

		for _, sig := range sigs {
			mf.Metric = append(mf.Metric, a.series[name][sig])
		}
		out = append(out, mf)
	}
	return out
}

// labelSignature returns a stable key for one metric's label-tuple.
func labelSignature(m *dto.Metric) string {
	pairs := make([]string, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		pairs = append(pairs, lp.GetName()+"\x00"+lp.GetValue())
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "\x01")
}

// cloneMetric copies the parts of a metric the merge sums, dropping
// per-shard noise like timestamps.
func cloneMetric(t dto.MetricType, m *dto.Metric) *dto.Metric {
	out := &dto.Metric{Label: m.GetLabel()}

	switch t {
	case dto.MetricType_COUNTER:
		out.Counter = &dto.Counter{Value: proto.Float64(m.GetCounter().GetValue())}
	case dto.MetricType_GAUGE:
		out.Gauge = &dto.Gauge{Value: proto.Float64(m.GetGauge().GetValue())}
	case dto.MetricType_UNTYPED:
		out.Untyped = &dto.Untyped{Value: proto.Float64(m.GetUntyped().GetValue())}
	case dto.MetricType_HISTOGRAM:
		h := &dto.Histogram{
			SampleCount: proto.Uint64(m.GetHistogram().GetSampleCount()),
			SampleSum:   proto.Float64(m.GetHistogram().GetSampleSum()),
		}
		for _, b := range m.GetHistogram().GetBucket() {
			h.Bucket = append(h.Bucket, &dto.Bucket{
				UpperBound:      proto.Float64(b.GetUpperBound()),
				CumulativeCount: proto.Uint64(b.GetCumulativeCount()),
			})
		}
		out.Histogram = h
	default:
		// Summaries aren't emitted by this library and can't be merged
		// meaningfully; pass the first occurrence through untouched.
		out.Summary = m.GetSummary()
	}
	return out
}

// mergeMetric folds src into dst, both of type t with identical
// label-tuples. Counters, gauges and untyped values sum; histograms sum
// bucket-wise plus sample sum and sample count.
func mergeMetric(t dto.MetricType, dst, src *dto.Metric) {
	switch t {
	case dto.MetricType_COUNTER:
		*dst.Counter.Value += src.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		*dst.Gauge.Value += src.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		*dst.Untyped.Value += src.GetUntyped().GetValue()
	case dto.MetricType_HISTOGRAM:
		dh, sh := dst.Histogram, src.GetHistogram()
		*dh.SampleCount += sh.GetSampleCount()
		*dh.SampleSum += sh.GetSampleSum()

		byBound := make(map[float64]*dto.Bucket, len(dh.GetBucket()))
		for _, b := range dh.GetBucket() {
			byBound[b.GetUpperBound()] = b
		}
		for _, b := range sh.GetBucket() {
			if cur, ok := byBound[b.GetUpperBound()]; ok {
				*cur.CumulativeCount += b.GetCumulativeCount()
			} else {
				dh.Bucket = append(dh.Bucket, &dto.Bucket{
					UpperBound:      proto.Float64(b.GetUpperBound()),
					CumulativeCount: proto.Uint64(b.GetCumulativeCount()),
				})
			}
		}
		sort.Slice(dh.Bucket, func(i, j int) bool {
			return dh.Bucket[i].GetUpperBound() < dh.Bucket[j].GetUpperBound()
		})
	}
}
