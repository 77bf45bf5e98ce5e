package metrics

import (
	"github.com/atlassian/ddmetrics"
)

// Counter accumulates deltas.
type Counter struct {
	base
	value float64
}

func (c *Counter) Kind() Kind {
	return KindCounter
}

// AddPoint adds value to the counter.
func (c *Counter) AddPoint(value float64, timestampMillis int64) {
	c.updateTimestamp(timestampMillis)
	c.value += value
}

func (c *Counter) Flush() []ddmetrics.Series {
	return []ddmetrics.Series{
		c.series(c.key, ddmetrics.COUNT, ddmetrics.NewPoint(c.timestamp, c.value)),
	}
}
