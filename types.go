package ddmetrics

import (
	"time"
)

// MetricType is the Datadog type of a reported series.
type MetricType string

const (
	// GAUGE is the datadog gauge type.
	GAUGE MetricType = "gauge"
	// COUNT is the datadog count type.
	COUNT MetricType = "count"
	// RATE is the datadog rate type.
	RATE MetricType = "rate"
	// DISTRIBUTION is the type of series whose statistics are computed by Datadog.
	DISTRIBUTION MetricType = "distribution"
)

// Point is a tuple consisting of a unix timestamp in whole seconds and a value.
type Point [2]float64

// NewPoint returns a Point for the given unix timestamp and value.
func NewPoint(timestamp int64, value float64) Point {
	return Point{float64(timestamp), value}
}

// Timestamp returns the unix timestamp of the point, in seconds.
func (p Point) Timestamp() int64 {
	return int64(p[0])
}

// Value returns the value of the point.
func (p Point) Value() float64 {
	return p[1]
}

// Series is a single wire record, the unit consumed by a Reporter.
type Series struct {
	Metric string     `json:"metric"`
	Points []Point    `json:"points"`
	Type   MetricType `json:"type"`
	Host   string     `json:"host"`
	Tags   Tags       `json:"tags"`
}

// TimeSeries is the body posted to the series endpoint.
type TimeSeries struct {
	Series []Series `json:"series"`
}

// UnixSeconds converts a millisecond timestamp into whole unix seconds.  A
// non-positive timestamp means "not supplied" and now is used instead.
func UnixSeconds(timestampMillis int64, now func() time.Time) int64 {
	if timestampMillis <= 0 {
		return now().Unix()
	}
	return timestampMillis / 1000
}
