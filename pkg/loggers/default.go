package loggers

import (
	"context"
	"sync"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/pkg/reporters"
)

var (
	defaultMu     sync.Mutex
	defaultLogger *BufferedMetricsLogger
)

// Init replaces the logger used by the package level functions.  A
// previously initialised logger is stopped and flushed first.
func Init(opts Options) error {
	l, err := NewBufferedMetricsLogger(opts)
	if err != nil {
		return err
	}
	defaultMu.Lock()
	old := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()

	if old != nil {
		old.Stop(context.Background(), StopOptions{})
	}
	return nil
}

// Default returns the logger used by the package level functions, creating
// it from NewOptions on first use.  If that fails, typically because no API
// key is set in the environment, the error is logged and metrics are
// discarded.
func Default() *BufferedMetricsLogger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger != nil {
		return defaultLogger
	}
	l, err := NewBufferedMetricsLogger(NewOptions())
	if err != nil {
		opts := NewOptions()
		opts.Reporter = reporters.NullReporter{}
		l, _ = NewBufferedMetricsLogger(opts)
		l.logger.WithError(err).Error("could not create the default metrics logger, metrics will be discarded until Init is called")
	}
	defaultLogger = l
	return l
}

// Gauge records a gauge on the default logger.
func Gauge(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	Default().Gauge(key, value, tags, opts...)
}

// Increment adds one to a counter on the default logger.
func Increment(key string, tags ddmetrics.Tags, opts ...RecordOption) {
	Default().Increment(key, tags, opts...)
}

// IncrementBy adds value to a counter on the default logger.
func IncrementBy(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	Default().IncrementBy(key, value, tags, opts...)
}

// Histogram samples a value on the default logger.
func Histogram(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	Default().Histogram(key, value, tags, opts...)
}

// Distribution records a distribution value on the default logger.
func Distribution(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	Default().Distribution(key, value, tags, opts...)
}

// Flush sends everything buffered by the default logger.
func Flush(ctx context.Context) {
	Default().Flush(ctx)
}

// Stop stops the default logger.
func Stop(ctx context.Context, opts StopOptions) {
	Default().Stop(ctx, opts)
}
