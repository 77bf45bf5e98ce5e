package metrics

import (
	"github.com/atlassian/ddmetrics"
)

// Distribution buffers raw samples.  Statistics are computed by Datadog, so
// nothing is reduced locally.
type Distribution struct {
	base
	points []ddmetrics.Point
}

func (d *Distribution) Kind() Kind {
	return KindDistribution
}

func (d *Distribution) AddPoint(value float64, timestampMillis int64) {
	ts := d.updateTimestamp(timestampMillis)
	d.points = append(d.points, ddmetrics.NewPoint(ts, value))
}

func (d *Distribution) Flush() []ddmetrics.Series {
	if len(d.points) == 0 {
		return nil
	}
	points := make([]ddmetrics.Point, len(d.points))
	copy(points, d.points)
	return []ddmetrics.Series{
		d.series(d.key, ddmetrics.DISTRIBUTION, points...),
	}
}
