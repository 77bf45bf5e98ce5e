package fixtures

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/pkg/metrics"
)

// MockReporter implements ddmetrics.Reporter, failing the test on any call
// without a handler.
type MockReporter struct {
	TB testing.TB

	FnReport func(ctx context.Context, series []ddmetrics.Series) error
}

func (m *MockReporter) Report(ctx context.Context, series []ddmetrics.Series) error {
	if m.FnReport != nil {
		return m.FnReport(ctx, series)
	}
	assert.Fail(m.TB, "Reporter.Report must not be called")
	return nil
}

// MockAggregator implements aggregator.Aggregator from github.com/atlassian/ddmetrics/pkg/aggregator
type MockAggregator struct {
	TB testing.TB

	FnAddPoint func(kind metrics.Kind, key string, value float64, tags ddmetrics.Tags, host string, timestampMillis int64, opts *metrics.HistogramOptions) error
	FnFlush    func() []ddmetrics.Series
}

func (m *MockAggregator) AddPoint(kind metrics.Kind, key string, value float64, tags ddmetrics.Tags, host string, timestampMillis int64, opts *metrics.HistogramOptions) error {
	if m.FnAddPoint != nil {
		return m.FnAddPoint(kind, key, value, tags, host, timestampMillis, opts)
	}
	assert.Fail(m.TB, "Aggregator.AddPoint must not be called")
	return nil
}

func (m *MockAggregator) Flush() []ddmetrics.Series {
	if m.FnFlush != nil {
		return m.FnFlush()
	}
	assert.Fail(m.TB, "Aggregator.Flush must not be called")
	return nil
}

// CapturingReporter records every batch it is given and returns Err.
type CapturingReporter struct {
	mu      sync.Mutex
	batches [][]ddmetrics.Series
	Err     error
	// Reported, if non-nil, receives a value after every batch.
	Reported chan struct{}
}

func (c *CapturingReporter) Report(ctx context.Context, series []ddmetrics.Series) error {
	c.mu.Lock()
	c.batches = append(c.batches, series)
	err := c.Err
	c.mu.Unlock()
	if c.Reported != nil {
		select {
		case c.Reported <- struct{}{}:
		case <-ctx.Done():
		}
	}
	return err
}

// Batches returns a copy of every batch reported so far.
func (c *CapturingReporter) Batches() [][]ddmetrics.Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]ddmetrics.Series(nil), c.batches...)
}

// All returns every reported series, in order.
func (c *CapturingReporter) All() []ddmetrics.Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	var all []ddmetrics.Series
	for _, b := range c.batches {
		all = append(all, b...)
	}
	return all
}
