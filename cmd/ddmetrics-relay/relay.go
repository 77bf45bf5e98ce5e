package main

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/internal/lexer"
	"github.com/atlassian/ddmetrics/pkg/loggers"
	"github.com/atlassian/ddmetrics/pkg/metrics"
)

// maxLineSize is the longest line accepted from the input.
const maxLineSize = 64 * 1024

// recorder is the part of loggers.BufferedMetricsLogger used by the relay.
type recorder interface {
	Gauge(key string, value float64, tags ddmetrics.Tags, opts ...loggers.RecordOption)
	IncrementBy(key string, value float64, tags ddmetrics.Tags, opts ...loggers.RecordOption)
	Histogram(key string, value float64, tags ddmetrics.Tags, opts ...loggers.RecordOption)
	Distribution(key string, value float64, tags ddmetrics.Tags, opts ...loggers.RecordOption)
}

// relay records parsed DogStatsD lines.  It is not safe for concurrent use.
type relay struct {
	logger         logrus.FieldLogger
	recorder       recorder
	badLineLimiter *rate.Limiter
	lexer          lexer.Lexer

	lines    uint64
	badLines uint64
}

func newRelay(logger logrus.FieldLogger, rec recorder, badLinesPerMinute float64) *relay {
	return &relay{
		logger:         logger.WithField("component", "relay"),
		recorder:       rec,
		badLineLimiter: rate.NewLimiter(rate.Limit(badLinesPerMinute/60.0), 1),
	}
}

// Run records lines until the channel is closed or ctx is done.  It returns
// true if the input was exhausted.
func (r *relay) Run(ctx context.Context, lines <-chan []byte) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case line, ok := <-lines:
			if !ok {
				r.logger.WithFields(logrus.Fields{
					"lines":     r.lines,
					"bad-lines": r.badLines,
				}).Info("input exhausted")
				return true
			}
			r.handleLine(line)
		}
	}
}

func (r *relay) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	r.lines++
	s, err := r.lexer.Run(line)
	if err != nil {
		r.badLines++
		if r.badLineLimiter.Allow() {
			// line may have been modified by the lexer, so it is not logged.
			r.logger.WithError(err).WithField("bad-lines", r.badLines).Warn("failed to parse line")
		}
		return
	}
	r.record(s)
}

func (r *relay) record(s *lexer.Sample) {
	var opts []loggers.RecordOption
	if s.Host != "" {
		opts = append(opts, loggers.WithHost(s.Host))
	}
	if s.TimestampMillis != 0 {
		opts = append(opts, loggers.WithTimestamp(s.TimestampMillis))
	}

	for _, v := range s.Values {
		switch s.Kind {
		case metrics.KindCounter:
			r.recorder.IncrementBy(s.Name, v/s.Rate, s.Tags, opts...)
		case metrics.KindGauge:
			r.recorder.Gauge(s.Name, v, s.Tags, opts...)
		case metrics.KindHistogram:
			r.recorder.Histogram(s.Name, v, s.Tags, opts...)
		case metrics.KindDistribution:
			r.recorder.Distribution(s.Name, v, s.Tags, opts...)
		}
	}
}

// scanLines sends a copy of every line of in to out.  It does not close out.
func scanLines(in io.Reader, out chan<- []byte) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		out <- line
	}
	return scanner.Err()
}
