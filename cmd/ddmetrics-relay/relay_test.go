package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tilinna/clock"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/internal/fixtures"
	"github.com/atlassian/ddmetrics/pkg/flush"
	"github.com/atlassian/ddmetrics/pkg/loggers"
)

func newTestRelay(t *testing.T, coordinator flush.Coordinator) (*relay, *loggers.BufferedMetricsLogger, *fixtures.CapturingReporter) {
	reporter := &fixtures.CapturingReporter{}
	logger := fixtures.NewTestLogger(t)
	l, err := loggers.NewBufferedMetricsLogger(loggers.Options{
		Reporter:        reporter,
		Logger:          logger,
		Clock:           clock.NewMock(fixtures.Epoch),
		ExitCoordinator: coordinator,
	})
	require.NoError(t, err)
	return newRelay(logger, l, 60), l, reporter
}

func TestRelayRecordsSamples(t *testing.T) {
	t.Parallel()
	r, l, reporter := newTestRelay(t, nil)

	for _, line := range []string{
		"req:2|c|@0.5|#a",
		"temp:20|g|h:box",
		"",
		"lat:1:2|d|T1600000010",
		"not a metric",
		"  qps:3|c\r",
		"qps:1|c",
	} {
		r.handleLine([]byte(line))
	}
	assert.EqualValues(t, 6, r.lines)
	assert.EqualValues(t, 1, r.badLines)

	l.Flush(context.Background())
	got := reporter.All()
	fixtures.SortSeries(got)
	expected := []ddmetrics.Series{
		fixtures.MakeSeries(fixtures.Name("lat"), fixtures.Type(ddmetrics.DISTRIBUTION), fixtures.AddPoint(1600000010, 1), fixtures.AddPoint(1600000010, 2)),
		fixtures.MakeSeries(fixtures.Name("qps"), fixtures.Type(ddmetrics.COUNT), fixtures.AddPoint(1600000000, 4)),
		fixtures.MakeSeries(fixtures.Name("req"), fixtures.Type(ddmetrics.COUNT), fixtures.AddTag("a"), fixtures.AddPoint(1600000000, 4)),
		fixtures.MakeSeries(fixtures.Name("temp"), fixtures.Host("box"), fixtures.AddPoint(1600000000, 20)),
	}
	require.Equal(t, expected, got)
}

func TestRelayDropsNonFiniteLines(t *testing.T) {
	t.Parallel()
	r, l, reporter := newTestRelay(t, nil)
	r.handleLine([]byte("ok:3|c"))
	r.handleLine([]byte("x:+Inf|g"))
	r.handleLine([]byte("y:NaN|g"))
	assert.EqualValues(t, 2, r.badLines)

	l.Flush(context.Background())
	require.Equal(t, []ddmetrics.Series{
		fixtures.MakeSeries(fixtures.Name("ok"), fixtures.Type(ddmetrics.COUNT), fixtures.AddPoint(1600000000, 3)),
	}, reporter.All())
}

func TestRelayHistogram(t *testing.T) {
	t.Parallel()
	r, l, reporter := newTestRelay(t, nil)
	r.handleLine([]byte("lat:10:20|ms"))
	r.handleLine([]byte("lat:30|h"))
	l.Flush(context.Background())

	got := map[string]float64{}
	for _, s := range reporter.All() {
		require.Len(t, s.Points, 1)
		got[s.Metric] = s.Points[0].Value()
	}
	assert.Equal(t, 30.0, got["lat.max"])
	assert.Equal(t, 3.0, got["lat.count"])
}

func TestServeFlushesOnEOF(t *testing.T) {
	t.Parallel()
	coordinator := flush.NewFlushCoordinator()
	r, _, reporter := newTestRelay(t, coordinator)

	in := strings.NewReader("a:1|g\nb:2|c\nbroken\n")
	err := serve(context.Background(), in, r, coordinator, time.Second)
	require.NoError(t, err)

	got := reporter.All()
	fixtures.SortSeries(got)
	require.Equal(t, []ddmetrics.Series{
		fixtures.MakeSeries(fixtures.Name("a"), fixtures.AddPoint(1600000000, 1)),
		fixtures.MakeSeries(fixtures.Name("b"), fixtures.Type(ddmetrics.COUNT), fixtures.AddPoint(1600000000, 2)),
	}, got)
	assert.EqualValues(t, 1, r.badLines)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	coordinator := flush.NewFlushCoordinator()
	r, l, reporter := newTestRelay(t, coordinator)
	l.Gauge("recorded.before.exit", 1, nil)

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, pr, r, coordinator, time.Second)
	}()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "serve did not return after cancel")
	}
	require.Len(t, reporter.Batches(), 1)
	assert.Equal(t, "recorded.before.exit", reporter.All()[0].Metric)
}

func TestServeReturnsReadError(t *testing.T) {
	t.Parallel()
	coordinator := flush.NewFlushCoordinator()
	r, _, _ := newTestRelay(t, coordinator)
	boom := errors.New("boom")

	err := serve(context.Background(), iotest.ErrReader(boom), r, coordinator, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

func TestScanLinesCopiesLines(t *testing.T) {
	t.Parallel()
	out := make(chan []byte, 3)
	require.NoError(t, scanLines(strings.NewReader("a:1|g\nb:2|g"), out))
	close(out)
	var lines []string
	for line := range out {
		lines = append(lines, string(line))
	}
	require.Equal(t, []string{"a:1|g", "b:2|g"}, lines)
}

func TestScanLinesTooLong(t *testing.T) {
	t.Parallel()
	out := make(chan []byte, 1)
	err := scanLines(strings.NewReader(strings.Repeat("x", maxLineSize+1)), out)
	require.Error(t, err)
}

func TestSetupConfiguration(t *testing.T) {
	t.Parallel()
	v, version, err := setupConfiguration("relay", []string{
		"--input=metrics.txt",
		"--flush-interval=5s",
		"--prefix=app.",
		"--bad-lines-per-minute=1",
	})
	require.NoError(t, err)
	assert.False(t, version)
	assert.Equal(t, "metrics.txt", v.GetString(ParamInput))
	assert.Equal(t, 5*time.Second, v.GetDuration(loggers.ParamFlushInterval))
	assert.Equal(t, "app.", v.GetString(loggers.ParamPrefix))
	assert.Equal(t, 1.0, v.GetFloat64(ParamBadLinesPerMinute))
	assert.Equal(t, defaultShutdownTimeout, v.GetDuration(ParamShutdownTimeout))
}

func TestSetupConfigurationDefaults(t *testing.T) {
	t.Parallel()
	v, _, err := setupConfiguration("relay", nil)
	require.NoError(t, err)
	assert.Equal(t, defaultInput, v.GetString(ParamInput))
	assert.Equal(t, defaultBadLinesPerMinute, v.GetFloat64(ParamBadLinesPerMinute))
	assert.Equal(t, loggers.DefaultFlushInterval, v.GetDuration(loggers.ParamFlushInterval))
}

func TestSetupConfigurationVersion(t *testing.T) {
	t.Parallel()
	_, version, err := setupConfiguration("relay", []string{"--version"})
	require.NoError(t, err)
	assert.True(t, version)
}

func TestSetupConfigurationErrors(t *testing.T) {
	t.Parallel()
	_, _, err := setupConfiguration("relay", []string{"--help"})
	assert.Equal(t, pflag.ErrHelp, err)

	_, _, err = setupConfiguration("relay", []string{"--no-such-flag"})
	assert.Error(t, err)

	_, _, err = setupConfiguration("relay", []string{"--config-path=" + filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestSetupConfigurationFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prefix: fromfile.\ndatadog:\n  compress-payload: true\n"), 0o600))

	v, _, err := setupConfiguration("relay", []string{"--config-path=" + path, "--host=web-1"})
	require.NoError(t, err)
	assert.Equal(t, "fromfile.", v.GetString(loggers.ParamPrefix))
	assert.Equal(t, "web-1", v.GetString(loggers.ParamHost))
	assert.True(t, v.Sub("datadog").GetBool("compress-payload"))
}

func TestOpenInput(t *testing.T) {
	t.Parallel()
	in, err := openInput(defaultInput)
	require.NoError(t, err)
	require.NoError(t, in.Close())

	_, err = openInput(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "lines")
	require.NoError(t, os.WriteFile(path, []byte("a:1|g\n"), 0o600))
	in, err = openInput(path)
	require.NoError(t, err)
	defer in.Close()
	data, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "a:1|g\n", string(data))
}
