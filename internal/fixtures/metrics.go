package fixtures

import (
	"sort"

	"github.com/atlassian/ddmetrics"
)

type SeriesOpt func(s *ddmetrics.Series)

// MakeSeries provides a way to build an expected series for tests.
func MakeSeries(opts ...SeriesOpt) ddmetrics.Series {
	s := ddmetrics.Series{
		Metric: "name",
		Type:   ddmetrics.GAUGE,
		Tags:   ddmetrics.Tags{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func Name(n string) SeriesOpt {
	return func(s *ddmetrics.Series) {
		s.Metric = n
	}
}

func Type(t ddmetrics.MetricType) SeriesOpt {
	return func(s *ddmetrics.Series) {
		s.Type = t
	}
}

func Host(h string) SeriesOpt {
	return func(s *ddmetrics.Series) {
		s.Host = h
	}
}

func AddTag(t ...string) SeriesOpt {
	return func(s *ddmetrics.Series) {
		s.Tags = append(s.Tags, t...)
	}
}

func AddPoint(ts int64, v float64) SeriesOpt {
	return func(s *ddmetrics.Series) {
		s.Points = append(s.Points, ddmetrics.NewPoint(ts, v))
	}
}

// SortSeries orders series by metric name then host so they can be compared
// with require.Equal regardless of flush order.
func SortSeries(ss []ddmetrics.Series) {
	sort.SliceStable(ss, func(i, j int) bool {
		if ss[i].Metric == ss[j].Metric {
			return ss[i].Host < ss[j].Host
		}
		return ss[i].Metric < ss[j].Metric
	})
}
