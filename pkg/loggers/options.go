package loggers

import (
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"
	"go.uber.org/multierr"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/pkg/aggregator"
	"github.com/atlassian/ddmetrics/pkg/flush"
	"github.com/atlassian/ddmetrics/pkg/metrics"
	"github.com/atlassian/ddmetrics/pkg/util"
)

const (
	// DefaultFlushInterval is how often buffered metrics are sent when not configured.
	DefaultFlushInterval = 15 * time.Second

	// EnvAPIKey and EnvAPIKeyLegacy are consulted, in that order, when no API key is given.
	EnvAPIKey       = "DD_API_KEY"
	EnvAPIKeyLegacy = "DATADOG_API_KEY"
)

// Options is used to configure a BufferedMetricsLogger.  Use NewOptions to
// start from the defaults; the zero value of each field is taken literally.
type Options struct {
	// APIKey is the Datadog API key.  Ignored if Reporter is set.
	APIKey string
	// Site is the Datadog site metrics are sent to, such as datadoghq.eu.
	// Ignored if Reporter is set.
	Site string
	// APIHost is a deprecated alias of Site.
	APIHost string
	// Host is the default host for all reported metrics.
	Host string
	// Prefix is prepended to every metric key.
	Prefix string
	// FlushInterval is how often to send metrics.  Zero disables automatic
	// flushing, and Flush must be called explicitly.
	FlushInterval time.Duration
	// FlushAligned fires automatic flushes on multiples of FlushInterval
	// instead of relative to when the logger started.
	FlushAligned bool
	// DefaultTags are added to every metric.  Ignored if Aggregator is set.
	DefaultTags ddmetrics.Tags
	// Histogram is the default for histograms recorded without their own
	// options.  Nil means metrics.DefaultHistogramOptions.
	Histogram *metrics.HistogramOptions
	// OnError is called with every error from an automatic or manual flush.
	// When nil, errors are logged.
	OnError func(error)
	// Aggregator buffers points between flushes.
	Aggregator aggregator.Aggregator
	// Reporter sends flushed series.  When nil a reporters.DatadogReporter is
	// created from APIKey, Site, Retries and RetryBackoff.
	Reporter ddmetrics.Reporter
	// Retries is how many times a failed delivery is retried.  Ignored if Reporter is set.
	Retries int
	// RetryBackoff is the wait before the first retry, doubled for each later one.
	// Ignored if Reporter is set.
	RetryBackoff time.Duration
	Logger       logrus.FieldLogger
	Clock        clock.Clock
	// ExitCoordinator, when set, flushes the logger as the process exits.
	ExitCoordinator flush.Coordinator
}

// NewOptions returns Options populated with the defaults.  The API key is
// read from the environment.
func NewOptions() Options {
	return Options{
		APIKey:        apiKeyFromEnvironment(),
		FlushInterval: DefaultFlushInterval,
		Retries:       util.DefaultRetries,
		RetryBackoff:  util.DefaultRetryBackoff,
	}
}

func apiKeyFromEnvironment() string {
	if key := os.Getenv(EnvAPIKey); key != "" {
		return key
	}
	return os.Getenv(EnvAPIKeyLegacy)
}

// Validate ensure all the values are valid,
// any values that not are reported as errors.
// All invalid values are reported together.
func (o Options) Validate() (errs error) {
	if o.FlushInterval < 0 {
		errs = multierr.Append(errs, errors.New("`FlushInterval` must not be negative"))
	}
	if o.Reporter == nil {
		if o.APIKey == "" {
			errs = multierr.Append(errs, errors.New("missing `APIKey` value, set it or the "+EnvAPIKey+" environment variable"))
		}
		if o.Retries < 0 {
			errs = multierr.Append(errs, errors.New("`Retries` must not be negative"))
		}
		if o.RetryBackoff < 0 {
			errs = multierr.Append(errs, errors.New("`RetryBackoff` must not be negative"))
		}
	}
	return errs
}
