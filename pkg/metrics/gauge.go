package metrics

import (
	"github.com/atlassian/ddmetrics"
)

// Gauge keeps the latest value seen.
type Gauge struct {
	base
	value float64
}

func (g *Gauge) Kind() Kind {
	return KindGauge
}

// AddPoint overwrites the current value.
func (g *Gauge) AddPoint(value float64, timestampMillis int64) {
	g.updateTimestamp(timestampMillis)
	g.value = value
}

func (g *Gauge) Flush() []ddmetrics.Series {
	return []ddmetrics.Series{
		g.series(g.key, ddmetrics.GAUGE, ddmetrics.NewPoint(g.timestamp, g.value)),
	}
}
