package loggers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"
	"golang.org/x/time/rate"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/internal/util"
	"github.com/atlassian/ddmetrics/pkg/aggregator"
	"github.com/atlassian/ddmetrics/pkg/metrics"
	"github.com/atlassian/ddmetrics/pkg/reporters"
)

// State is the lifecycle state of a BufferedMetricsLogger.
type State int

const (
	// StateStopped means no automatic flushing is scheduled.
	StateStopped State = iota
	// StateRunning means flushes happen every flush interval.
	StateRunning
	// StateManual means automatic flushing is disabled and Start has no effect.
	StateManual
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateManual:
		return "manual"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopOptions modifies Stop.
type StopOptions struct {
	// SkipFlush leaves buffered metrics in place instead of sending them.
	SkipFlush bool
}

// BufferedMetricsLogger buffers recorded points and sends them to a
// Reporter in one batch per flush.  It is safe for concurrent use.
type BufferedMetricsLogger struct {
	logger        logrus.FieldLogger
	aggregator    aggregator.Aggregator
	reporter      ddmetrics.Reporter
	host          string
	prefix        string
	histogram     *metrics.HistogramOptions
	onError       func(error)
	flushInterval time.Duration
	flushAligned  bool
	clock         clock.Clock

	dropLimiter     *rate.Limiter
	deprecationOnce sync.Once

	mu         sync.Mutex
	state      State
	touched    bool // Start or Stop was called, or the scheduler was auto-started
	stopTicker context.CancelFunc
	tickerDone chan struct{}
}

// NewBufferedMetricsLogger validates opts and creates a logger.  Unless the
// flush interval is zero, automatic flushing starts with the first recorded
// point, or when Start is called.
func NewBufferedMetricsLogger(opts Options) (*BufferedMetricsLogger, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "metrics-logger")

	clck := opts.Clock
	if clck == nil {
		clck = clock.Realtime()
	}

	aggr := opts.Aggregator
	if aggr == nil {
		aggr = aggregator.NewBufferedAggregator(opts.DefaultTags).WithNow(clck.Now)
	}

	reporter := opts.Reporter
	if reporter == nil {
		dd := reporters.NewDatadogOptions(opts.APIKey)
		dd.Site = opts.Site
		dd.APIHost = opts.APIHost
		dd.Retries = opts.Retries
		dd.RetryBackoff = opts.RetryBackoff
		dd.Logger = opts.Logger
		r, err := reporters.NewDatadogReporter(dd)
		if err != nil {
			return nil, err
		}
		reporter = r
	}

	histogram := opts.Histogram
	if histogram == nil {
		histogram = metrics.DefaultHistogramOptions()
	}

	l := &BufferedMetricsLogger{
		logger:        logger,
		aggregator:    aggr,
		reporter:      reporter,
		host:          opts.Host,
		prefix:        opts.Prefix,
		histogram:     histogram,
		onError:       opts.OnError,
		flushInterval: opts.FlushInterval,
		flushAligned:  opts.FlushAligned,
		clock:         clck,
		dropLimiter:   rate.NewLimiter(rate.Every(10*time.Second), 1),
		state:         StateStopped,
	}
	if l.flushInterval == 0 {
		l.state = StateManual
	}
	if opts.ExitCoordinator != nil {
		opts.ExitCoordinator.RegisterFlushable(l)
	}

	logger.WithFields(logrus.Fields{
		"flush-interval": l.flushInterval,
		"prefix":         l.prefix,
		"host":           l.host,
	}).Info("created metrics logger")

	return l, nil
}

// RecordOption modifies a single recorded point.
type RecordOption func(*recordOptions)

type recordOptions struct {
	timestampMillis int64
	host            string
	histogram       *metrics.HistogramOptions
}

// WithTimestamp records the point at the given time in milliseconds since
// the Unix epoch, instead of now.
func WithTimestamp(millis int64) RecordOption {
	return func(ro *recordOptions) {
		ro.timestampMillis = millis
	}
}

// WithTime records the point at t instead of now.
func WithTime(t time.Time) RecordOption {
	return WithTimestamp(t.UnixNano() / int64(time.Millisecond))
}

// WithHost reports the point for host instead of the logger's host.  Host is
// not part of a metric's identity, so the host of the first point recorded
// for a metric in an interval wins.
func WithHost(host string) RecordOption {
	return func(ro *recordOptions) {
		ro.host = host
	}
}

// WithHistogramOptions overrides the logger's histogram options for a
// histogram created by this point.  It has no effect on other kinds, or on a
// histogram which already exists in the current interval.
func WithHistogramOptions(opts metrics.HistogramOptions) RecordOption {
	return func(ro *recordOptions) {
		ro.histogram = &opts
	}
}

// Gauge records the current value of a metric.  Only the most recent value
// in each interval is reported.
func (l *BufferedMetricsLogger) Gauge(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	l.addPoint(metrics.KindGauge, key, value, tags, opts)
}

// Increment adds one to a counter.
func (l *BufferedMetricsLogger) Increment(key string, tags ddmetrics.Tags, opts ...RecordOption) {
	l.addPoint(metrics.KindCounter, key, 1, tags, opts)
}

// IncrementBy adds value to a counter.
func (l *BufferedMetricsLogger) IncrementBy(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	l.addPoint(metrics.KindCounter, key, value, tags, opts)
}

// Histogram samples a value.  On flush the configured aggregates and
// percentiles of the interval's samples are reported.
func (l *BufferedMetricsLogger) Histogram(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	l.addPoint(metrics.KindHistogram, key, value, tags, opts)
}

// Distribution records a value whose statistics are computed by Datadog.
// Every sample is sent.
func (l *BufferedMetricsLogger) Distribution(key string, value float64, tags ddmetrics.Tags, opts ...RecordOption) {
	l.addPoint(metrics.KindDistribution, key, value, tags, opts)
}

func (l *BufferedMetricsLogger) addPoint(kind metrics.Kind, key string, value float64, tags ddmetrics.Tags, opts []RecordOption) {
	var ro recordOptions
	for _, opt := range opts {
		opt(&ro)
	}
	var hopts *metrics.HistogramOptions
	if kind == metrics.KindHistogram {
		hopts = ro.histogram
		if hopts == nil {
			hopts = l.histogram
		}
	}

	host := ro.host
	if host == "" {
		host = l.host
	}
	err := l.aggregator.AddPoint(kind, l.prefix+key, value, tags, host, ro.timestampMillis, hopts)
	if err != nil && l.dropLimiter.Allow() {
		l.logger.WithError(err).WithField("metric", l.prefix+key).Warn("dropped point")
	}
	l.autoStart()
}

func (l *BufferedMetricsLogger) autoStart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.touched {
		return
	}
	l.touched = true
	if l.state == StateStopped {
		l.startLocked()
	}
}

// Flush sends all buffered metrics.  Errors are passed to the OnError
// handler, or logged if there is none; they are never returned.
func (l *BufferedMetricsLogger) Flush(ctx context.Context) {
	l.flush(ctx, nil, l.onError)
}

// FlushWithCallbacks is like Flush, but calls onSuccess or onError when it
// completes.  A non-nil onError is used instead of the OnError handler.
//
// Deprecated: use Flush and an OnError handler.
func (l *BufferedMetricsLogger) FlushWithCallbacks(ctx context.Context, onSuccess func(), onError func(error)) {
	l.deprecationOnce.Do(func() {
		l.logger.Warn("FlushWithCallbacks is deprecated and will be removed, use Flush and Options.OnError instead")
	})
	if onError == nil {
		onError = l.onError
	}
	l.flush(ctx, onSuccess, onError)
}

func (l *BufferedMetricsLogger) flush(ctx context.Context, onSuccess func(), onError func(error)) {
	ctx = clock.Context(ctx, l.clock)
	series := l.aggregator.Flush()
	if len(series) > 0 {
		if err := l.report(ctx, series); err != nil {
			l.handleError(err, onError)
			return
		}
		l.logger.WithField("series", len(series)).Debug("flushed metrics")
	}
	if onSuccess != nil {
		l.call(func() { onSuccess() })
	}
}

func (l *BufferedMetricsLogger) report(ctx context.Context, series []ddmetrics.Series) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reporter panicked: %v", r)
		}
	}()
	return l.reporter.Report(ctx, series)
}

func (l *BufferedMetricsLogger) handleError(err error, onError func(error)) {
	if onError == nil {
		l.logger.WithError(err).Error("failed to send metrics")
		return
	}
	l.call(func() { onError(err) })
}

// call runs a user supplied callback, logging instead of propagating a panic.
func (l *BufferedMetricsLogger) call(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", r).Error("recovered from panic in flush callback")
		}
	}()
	f()
}

// Start begins flushing every flush interval.  It has no effect if the logger
// is already running, or automatic flushing is disabled.
func (l *BufferedMetricsLogger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.touched = true
	if l.state == StateStopped {
		l.startLocked()
	}
}

func (l *BufferedMetricsLogger) startLocked() {
	ctx, cancel := context.WithCancel(clock.Context(context.Background(), l.clock))
	done := make(chan struct{})
	l.stopTicker = cancel
	l.tickerDone = done
	l.state = StateRunning
	go l.run(ctx, done)
}

func (l *BufferedMetricsLogger) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	tckr := util.NewTicker(ctx, l.flushInterval, 0, l.flushAligned)
	defer tckr.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tckr.C:
			// Deliveries outlive the scheduler, so they do not use ctx.
			go l.Flush(context.Background())
		}
	}
}

// Stop ends automatic flushing.  When Stop returns no further automatic
// flushes will begin, although ones already in progress are not cancelled.
// Unless opts.SkipFlush is set, buffered metrics are then flushed before
// returning.
func (l *BufferedMetricsLogger) Stop(ctx context.Context, opts StopOptions) {
	l.mu.Lock()
	l.touched = true
	cancel, done := l.stopTicker, l.tickerDone
	l.stopTicker, l.tickerDone = nil, nil
	if l.state == StateRunning {
		l.state = StateStopped
	}
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if !opts.SkipFlush {
		l.Flush(ctx)
	}
}

// FlushOnExit stops the logger and flushes it.
func (l *BufferedMetricsLogger) FlushOnExit(ctx context.Context) {
	l.Stop(ctx, StopOptions{})
}

// State returns the current lifecycle state.
func (l *BufferedMetricsLogger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
