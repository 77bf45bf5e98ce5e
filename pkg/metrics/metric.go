package metrics

import (
	"fmt"
	"time"

	"github.com/atlassian/ddmetrics"
)

// Kind identifies a metric variant.  The set of variants is closed.
type Kind int

const (
	// KindGauge reports the most recent value seen in an interval.
	KindGauge Kind = iota
	// KindCounter reports the sum of all deltas seen in an interval.
	KindCounter
	// KindHistogram reports client-side aggregates and percentiles.
	KindHistogram
	// KindDistribution reports every raw sample, reduced by Datadog.
	KindDistribution
)

func (k Kind) String() string {
	switch k {
	case KindGauge:
		return "gauge"
	case KindCounter:
		return "counter"
	case KindHistogram:
		return "histogram"
	case KindDistribution:
		return "distribution"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Metric holds the accumulation state of one metric identity for one
// buffering interval.
type Metric interface {
	// Kind returns the variant of the metric, fixed at construction.
	Kind() Kind
	// AddPoint folds a sample into the metric.  A non-positive timestamp means now.
	AddPoint(value float64, timestampMillis int64)
	// Flush reduces the metric into zero or more wire records.
	Flush() []ddmetrics.Series
}

// New creates the metric variant identified by kind.  opts is only used by
// histograms; nil selects DefaultHistogramOptions.
func New(kind Kind, key string, tags ddmetrics.Tags, host string, opts *HistogramOptions, now func() time.Time) (Metric, error) {
	if now == nil {
		now = time.Now
	}
	b := base{
		key:  key,
		tags: tags,
		host: host,
		now:  now,
	}
	if b.tags == nil {
		b.tags = ddmetrics.Tags{}
	}
	switch kind {
	case KindGauge:
		return &Gauge{base: b}, nil
	case KindCounter:
		return &Counter{base: b}, nil
	case KindHistogram:
		if opts == nil {
			opts = DefaultHistogramOptions()
		}
		return newHistogram(b, *opts), nil
	case KindDistribution:
		return &Distribution{base: b}, nil
	default:
		return nil, fmt.Errorf("unknown metric kind %v", kind)
	}
}

// base is the state shared by all variants.
type base struct {
	key       string
	tags      ddmetrics.Tags
	host      string
	timestamp int64 // unix seconds of the latest point
	now       func() time.Time
}

func (b *base) updateTimestamp(timestampMillis int64) int64 {
	b.timestamp = ddmetrics.UnixSeconds(timestampMillis, b.now)
	return b.timestamp
}

func (b *base) series(name string, metricType ddmetrics.MetricType, points ...ddmetrics.Point) ddmetrics.Series {
	return ddmetrics.Series{
		Metric: name,
		Points: points,
		Type:   metricType,
		Host:   b.host,
		Tags:   b.tags,
	}
}
