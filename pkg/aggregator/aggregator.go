package aggregator

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/pkg/metrics"
)

// ErrKindMismatch is returned when a point is recorded under an identity
// already used by a different metric variant in the current interval.
var ErrKindMismatch = errors.New("metric identity already used by a different kind")

// ErrNonFiniteValue is returned for a NaN or infinite value, which cannot be
// encoded in a batch.
var ErrNonFiniteValue = errors.New("value must be finite")

// Aggregator buffers points between flushes.
type Aggregator interface {
	// AddPoint routes a point to the metric for its identity, creating the
	// metric on first sight.
	AddPoint(kind metrics.Kind, key string, value float64, tags ddmetrics.Tags, host string, timestampMillis int64, opts *metrics.HistogramOptions) error
	// Flush reduces every buffered metric into wire records and empties the buffer.
	Flush() []ddmetrics.Series
}

// BufferedAggregator is an Aggregator keyed by metric identity.  It is safe
// for concurrent use.
type BufferedAggregator struct {
	defaultTags ddmetrics.Tags
	now         func() time.Time // Returns current time. Useful for testing.

	mu     sync.Mutex
	buffer map[string]metrics.Metric
}

// NewBufferedAggregator creates a BufferedAggregator which prepends
// defaultTags to the tags of every metric.
func NewBufferedAggregator(defaultTags ddmetrics.Tags) *BufferedAggregator {
	return &BufferedAggregator{
		defaultTags: defaultTags.Copy(),
		now:         time.Now,
		buffer:      map[string]metrics.Metric{},
	}
}

// WithNow replaces the function used for points recorded without a
// timestamp.  Must be called before the aggregator is used.
func (a *BufferedAggregator) WithNow(now func() time.Time) *BufferedAggregator {
	a.now = now
	return a
}

func (a *BufferedAggregator) AddPoint(kind metrics.Kind, key string, value float64, tags ddmetrics.Tags, host string, timestampMillis int64, opts *metrics.HistogramOptions) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %q got %v", ErrNonFiniteValue, key, value)
	}
	mergedTags := a.defaultTags.Concat(tags)
	bufferKey := ddmetrics.IdentityKey(key, mergedTags)

	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.buffer[bufferKey]
	if !ok {
		var err error
		m, err = metrics.New(kind, key, mergedTags, host, opts, a.now)
		if err != nil {
			return err
		}
		a.buffer[bufferKey] = m
	} else if m.Kind() != kind {
		return fmt.Errorf("%w: %q is a %v, got a %v", ErrKindMismatch, key, m.Kind(), kind)
	}
	m.AddPoint(value, timestampMillis)
	return nil
}

// Flush atomically swaps the buffer for an empty one, then reduces the
// drained metrics.  Records are ordered by identity key.
func (a *BufferedAggregator) Flush() []ddmetrics.Series {
	a.mu.Lock()
	drained := a.buffer
	a.buffer = make(map[string]metrics.Metric, len(drained))
	a.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}

	keys := make([]string, 0, len(drained))
	for k := range drained {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	series := make([]ddmetrics.Series, 0, len(drained))
	for _, k := range keys {
		series = append(series, drained[k].Flush()...)
	}
	return series
}

// Len returns the number of metrics currently buffered.
func (a *BufferedAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}
