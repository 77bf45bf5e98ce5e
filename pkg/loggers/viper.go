package loggers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/pkg/flush"
	"github.com/atlassian/ddmetrics/pkg/metrics"
	"github.com/atlassian/ddmetrics/pkg/reporters"
	"github.com/atlassian/ddmetrics/pkg/transport"
	"github.com/atlassian/ddmetrics/pkg/util"
)

const (
	ParamHost                 = "host"
	ParamPrefix               = "prefix"
	ParamFlushInterval        = "flush-interval"
	ParamFlushAligned         = "flush-aligned"
	ParamDefaultTags          = "default-tags"
	ParamHistogramAggregates  = "histogram-aggregates"
	ParamHistogramPercentiles = "histogram-percentiles"
	ParamReporter             = "reporter"

	ReporterDatadog = reporters.ReporterName
	ReporterNull    = "null"

	defaultReporter = ReporterDatadog
)

// AddFlags is used to add preconfigured entries
// into an existing `FlagSet`.  Values are read back through viper by
// NewFromViper once the flags are bound.
func AddFlags(fs *pflag.FlagSet) {
	defaults := metrics.DefaultHistogramOptions()
	fs.String(reporters.ParamAPIKey, "", "Datadog API key, defaults to $"+EnvAPIKey)
	fs.String(reporters.ParamSite, "", "Datadog site to send metrics to (default "+reporters.DefaultSite+")")
	fs.String(reporters.ParamAPIHost, "", "Deprecated, use --"+reporters.ParamSite)
	fs.String(ParamHost, "", "Default host for all reported metrics")
	fs.String(ParamPrefix, "", "Prefix prepended to every metric key")
	fs.Duration(ParamFlushInterval, DefaultFlushInterval, "How often to send metrics, 0 to only send on exit")
	fs.Bool(ParamFlushAligned, false, "Flush on multiples of the flush interval")
	fs.StringSlice(ParamDefaultTags, nil, "Tags added to every metric")
	fs.StringSlice(ParamHistogramAggregates, defaults.Aggregates, "Aggregates reported for histograms")
	fs.StringSlice(ParamHistogramPercentiles, formatFloats(defaults.Percentiles), "Percentiles reported for histograms, as fractions in (0, 1]")
	fs.Int(util.ParamRetries, util.DefaultRetries, "Retries for each failed delivery")
	fs.Duration(util.ParamRetryBackoff, util.DefaultRetryBackoff, "Wait before the first retry, doubled for each later one")
	fs.String(util.ParamRetryPolicy, util.PolicyExponential, "Retry policy: exponential, constant or disabled")
	fs.String(ParamReporter, defaultReporter, "Where to send metrics: datadog or null")
}

// NewFromViper creates a BufferedMetricsLogger configured from v.  The
// reporter is built from the same viper, using a client from pool.
func NewFromViper(logger logrus.FieldLogger, v *viper.Viper, pool *transport.Pool, coordinator flush.Coordinator) (*BufferedMetricsLogger, error) {
	defaults := metrics.DefaultHistogramOptions()
	v.SetDefault(reporters.ParamAPIKey, apiKeyFromEnvironment())
	v.SetDefault(ParamFlushInterval, DefaultFlushInterval)
	v.SetDefault(ParamFlushAligned, false)
	v.SetDefault(ParamDefaultTags, []string{})
	v.SetDefault(ParamHistogramAggregates, defaults.Aggregates)
	v.SetDefault(ParamHistogramPercentiles, defaults.Percentiles)
	v.SetDefault(ParamReporter, defaultReporter)

	percentiles, err := getFloat64Slice(v, ParamHistogramPercentiles)
	if err != nil {
		return nil, err
	}

	var reporter ddmetrics.Reporter
	switch name := v.GetString(ParamReporter); name {
	case ReporterDatadog:
		reporter, err = reporters.NewDatadogReporterFromViper(logger, v, pool)
		if err != nil {
			return nil, err
		}
	case ReporterNull:
		reporter = reporters.NullReporter{}
	default:
		return nil, fmt.Errorf("%s (%s) not one of %s or %s", ParamReporter, name, ReporterDatadog, ReporterNull)
	}

	return NewBufferedMetricsLogger(Options{
		Host:          v.GetString(ParamHost),
		Prefix:        v.GetString(ParamPrefix),
		FlushInterval: v.GetDuration(ParamFlushInterval),
		FlushAligned:  v.GetBool(ParamFlushAligned),
		DefaultTags:   ddmetrics.Tags(v.GetStringSlice(ParamDefaultTags)),
		Histogram: &metrics.HistogramOptions{
			Aggregates:  v.GetStringSlice(ParamHistogramAggregates),
			Percentiles: percentiles,
		},
		Reporter:        reporter,
		Logger:          logger,
		ExitCoordinator: coordinator,
	})
}

// getFloat64Slice reads a list of numbers, which viper has no getter for.
// The value may come from a flag, a config file list, or a comma separated
// environment variable.
func getFloat64Slice(v *viper.Viper, key string) ([]float64, error) {
	var items []interface{}
	switch raw := v.Get(key).(type) {
	case []float64:
		return raw, nil
	case string:
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
	case []string:
		for _, item := range raw {
			items = append(items, item)
		}
	default:
		var err error
		if items, err = cast.ToSliceE(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	out := make([]float64, 0, len(items))
	for _, item := range items {
		f, err := cast.ToFloat64E(item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out = append(out, f)
	}
	return out, nil
}

func formatFloats(fs []float64) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, strconv.FormatFloat(f, 'f', -1, 64))
	}
	return out
}
