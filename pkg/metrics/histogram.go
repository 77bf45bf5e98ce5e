package metrics

import (
	"math"
	"sort"
	"strconv"

	"github.com/atlassian/ddmetrics"
)

// Names of the aggregates a Histogram can report.
const (
	AggregateMax    = "max"
	AggregateMin    = "min"
	AggregateSum    = "sum"
	AggregateAvg    = "avg"
	AggregateCount  = "count"
	AggregateMedian = "median"
)

// aggregateOrder is the order in which aggregates are emitted, regardless of
// the order they were requested in.
var aggregateOrder = []string{AggregateMax, AggregateMin, AggregateSum, AggregateAvg, AggregateCount, AggregateMedian}

// percentileEpsilon absorbs float error in p*count, so 0.07*100 selects rank 7 and not 8.
const percentileEpsilon = 1e-9

// HistogramOptions selects what a Histogram reports on flush.
type HistogramOptions struct {
	// Aggregates is a subset of max, min, sum, avg, count and median.  Unknown names are ignored.
	Aggregates []string
	// Percentiles are fractions in (0, 1].  Values outside that range are ignored.
	Percentiles []float64
}

// DefaultHistogramOptions returns all aggregates and the 75th, 85th, 95th and 99th percentiles.
func DefaultHistogramOptions() *HistogramOptions {
	return &HistogramOptions{
		Aggregates:  []string{AggregateMax, AggregateMin, AggregateSum, AggregateAvg, AggregateCount, AggregateMedian},
		Percentiles: []float64{0.75, 0.85, 0.95, 0.99},
	}
}

// percentile is a requested percentile and its pre-computed metric name.
type percentile struct {
	fraction float64
	name     string
}

// Histogram computes aggregates and nearest-rank percentiles of the samples
// seen in an interval.
type Histogram struct {
	base
	min     float64
	max     float64
	sum     float64
	count   int
	// samples keeps every (timestamp, value) pair of the interval.
	samples []ddmetrics.Point

	aggregates  map[string]bool
	percentiles []percentile
}

func newHistogram(b base, opts HistogramOptions) *Histogram {
	h := &Histogram{
		base:       b,
		min:        math.Inf(1),
		max:        math.Inf(-1),
		aggregates: make(map[string]bool, len(opts.Aggregates)),
	}
	for _, a := range opts.Aggregates {
		h.aggregates[a] = true
	}
	for _, p := range opts.Percentiles {
		if p <= 0 || p > 1 || math.IsNaN(p) {
			continue
		}
		h.percentiles = append(h.percentiles, percentile{
			fraction: p,
			name:     b.key + "." + strconv.Itoa(int(math.Floor(p*100+percentileEpsilon))) + "percentile",
		})
	}
	return h
}

func (h *Histogram) Kind() Kind {
	return KindHistogram
}

func (h *Histogram) AddPoint(value float64, timestampMillis int64) {
	ts := h.updateTimestamp(timestampMillis)
	h.min = math.Min(h.min, value)
	h.max = math.Max(h.max, value)
	h.sum += value
	h.count++
	// The sample list is only bounded by the flush interval.
	h.samples = append(h.samples, ddmetrics.NewPoint(ts, value))
}

// Flush emits one record per requested aggregate and percentile.  An empty
// histogram emits nothing.
func (h *Histogram) Flush() []ddmetrics.Series {
	if h.count == 0 {
		return nil
	}

	sorted := make([]float64, len(h.samples))
	for i, p := range h.samples {
		sorted[i] = p.Value()
	}
	sort.Float64s(sorted)

	result := make([]ddmetrics.Series, 0, len(h.aggregates)+len(h.percentiles))
	for _, a := range aggregateOrder {
		if !h.aggregates[a] {
			continue
		}
		var value float64
		metricType := ddmetrics.GAUGE
		switch a {
		case AggregateMax:
			value = h.max
		case AggregateMin:
			value = h.min
		case AggregateSum:
			value = h.sum
		case AggregateAvg:
			value = h.Average()
		case AggregateCount:
			value = float64(h.count)
			metricType = ddmetrics.COUNT
		case AggregateMedian:
			value = Median(sorted)
		}
		result = append(result, h.series(h.key+"."+a, metricType, ddmetrics.NewPoint(h.timestamp, value)))
	}

	for _, p := range h.percentiles {
		result = append(result, h.series(p.name, ddmetrics.GAUGE, ddmetrics.NewPoint(h.timestamp, NearestRank(sorted, p.fraction))))
	}
	return result
}

// Samples returns a copy of the buffered samples, each with its own timestamp,
// in insertion order.
func (h *Histogram) Samples() []ddmetrics.Point {
	samples := make([]ddmetrics.Point, len(h.samples))
	copy(samples, h.samples)
	return samples
}

// Average returns sum/count, or 0 for an empty histogram.
func (h *Histogram) Average() float64 {
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Median returns the middle element of sorted, or the mean of the two middle
// elements when the length is even.  sorted must not be empty.
func Median(sorted []float64) float64 {
	n := len(sorted)
	mid := n / 2
	if n%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// NearestRank returns the sample at index ceil(p*n)-1 of sorted, clamped to
// the valid range.  sorted must not be empty.
func NearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(math.Ceil(p*float64(n)-percentileEpsilon)) - 1
	if idx < 0 {
		idx = 0
	} else if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
