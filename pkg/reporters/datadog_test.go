package reporters

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/internal/fixtures"
)

const testAPIKey = "abcd1234"

var testSeries = []ddmetrics.Series{
	{
		Metric: "test.requests",
		Points: []ddmetrics.Point{ddmetrics.NewPoint(1600000000, 3)},
		Type:   ddmetrics.COUNT,
		Host:   "web-1",
		Tags:   ddmetrics.Tags{"env:prod"},
	},
}

func newTestReporter(t *testing.T, endpoint string, retries int, compress bool) *DatadogReporter {
	opts := NewDatadogOptions(testAPIKey)
	opts.APIEndpoint = endpoint
	opts.Retries = retries
	opts.CompressPayload = compress
	opts.Client = &http.Client{}
	opts.Logger = fixtures.NewTestLogger(t)
	r, err := NewDatadogReporter(opts)
	require.NoError(t, err)
	return r
}

func TestReportSendsBatch(t *testing.T) {
	t.Parallel()
	for _, compress := range []bool{false, true} {
		compress := compress
		t.Run(fmt.Sprintf("compress=%t", compress), func(t *testing.T) {
			t.Parallel()
			var mu sync.Mutex
			var got ddmetrics.TimeSeries
			var calls int64
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt64(&calls, 1)
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/v1/series", r.URL.Path)
				assert.Equal(t, testAPIKey, r.URL.Query().Get("api_key"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))

				var body io.Reader = r.Body
				if compress {
					assert.Equal(t, "deflate", r.Header.Get("Content-Encoding"))
					zr, err := zlib.NewReader(r.Body)
					if !assert.NoError(t, err) {
						w.WriteHeader(http.StatusBadRequest)
						return
					}
					body = zr
				}
				data, err := io.ReadAll(body)
				assert.NoError(t, err)
				mu.Lock()
				assert.NoError(t, jsoniter.Unmarshal(data, &got))
				mu.Unlock()
				w.WriteHeader(http.StatusAccepted)
			}))
			defer ts.Close()

			r := newTestReporter(t, ts.URL, 2, compress)
			require.NoError(t, r.Report(context.Background(), testSeries))
			require.EqualValues(t, 1, atomic.LoadInt64(&calls))
			mu.Lock()
			defer mu.Unlock()
			require.Equal(t, testSeries, got.Series)
		})
	}
}

func TestReportEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Fail(t, "no request expected")
	}))
	defer ts.Close()

	r := newTestReporter(t, ts.URL, 2, false)
	require.NoError(t, r.Report(context.Background(), nil))
	require.NoError(t, r.Report(context.Background(), []ddmetrics.Series{}))
}

func TestReportAuthorizationErrorNotRetried(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		status := status
		t.Run(http.StatusText(status), func(t *testing.T) {
			t.Parallel()
			var calls int64
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt64(&calls, 1)
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"errors":["Forbidden"]}`))
			}))
			defer ts.Close()

			r := newTestReporter(t, ts.URL, 3, false)
			err := r.Report(context.Background(), testSeries)
			require.Error(t, err)

			var authErr *AuthorizationError
			require.True(t, errors.As(err, &authErr))
			require.Equal(t, status, authErr.Status)
			require.Equal(t, "DATADOG_AUTHORIZATION_ERROR", authErr.Code())
			require.EqualValues(t, 1, atomic.LoadInt64(&calls))
			require.NotContains(t, err.Error(), testAPIKey)
		})
	}
}

func TestReportRetriesWithExponentialBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx, clck, stop := fixtures.NewAdvancingClock(ctx)
	defer stop()

	var mu sync.Mutex
	var times []time.Time
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, clck.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	r := newTestReporter(t, ts.URL, 3, false)
	err := r.Report(ctx, testSeries)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	require.Equal(t, 4, deliveryErr.Attempts)
	require.Equal(t, http.StatusInternalServerError, deliveryErr.Status)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, times, 4)
	require.Equal(t, 1*time.Second, times[1].Sub(times[0]))
	require.Equal(t, 2*time.Second, times[2].Sub(times[1]))
	require.Equal(t, 4*time.Second, times[3].Sub(times[2]))
}

func TestReportRecoversAfterTransientFailures(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx, _, stop := fixtures.NewAdvancingClock(ctx)
	defer stop()

	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt64(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer ts.Close()

	r := newTestReporter(t, ts.URL, 2, false)
	require.NoError(t, r.Report(ctx, testSeries))
	require.EqualValues(t, 3, atomic.LoadInt64(&calls))
}

func TestReportClientErrorNotRetried(t *testing.T) {
	t.Parallel()
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad payload"))
	}))
	defer ts.Close()

	r := newTestReporter(t, ts.URL, 3, false)
	err := r.Report(context.Background(), testSeries)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	require.Equal(t, 1, deliveryErr.Attempts)
	require.Equal(t, http.StatusBadRequest, deliveryErr.Status)
	require.Contains(t, err.Error(), "bad payload")
	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestReportZeroRetries(t *testing.T) {
	t.Parallel()
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	r := newTestReporter(t, ts.URL, 0, false)
	err := r.Report(context.Background(), testSeries)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	require.Equal(t, 1, deliveryErr.Attempts)
	require.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestReportCancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	opts := NewDatadogOptions(testAPIKey)
	opts.APIEndpoint = ts.URL
	opts.Logger = fixtures.NewTestLogger(t)
	opts.NewBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Hour)
	}
	r, err := NewDatadogReporter(opts)
	require.NoError(t, err)

	err = r.Report(ctx, testSeries)
	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	require.True(t, errors.Is(err, context.Canceled))
}

func TestReportScrubsAPIKeyFromTransportErrors(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := ts.URL
	ts.Close()

	r := newTestReporter(t, endpoint, 0, false)
	err := r.Report(context.Background(), testSeries)
	require.Error(t, err)
	require.NotContains(t, err.Error(), testAPIKey)
	require.Contains(t, err.Error(), scrubbedAPIKey)
}

func TestReportScrubsEscapedAPIKey(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := ts.URL
	ts.Close()

	const key = "ab+cd/12=34&x"
	opts := NewDatadogOptions(key)
	opts.APIEndpoint = endpoint
	opts.Retries = 0
	opts.Client = &http.Client{}
	opts.Logger = fixtures.NewTestLogger(t)
	r, err := NewDatadogReporter(opts)
	require.NoError(t, err)

	err = r.Report(context.Background(), testSeries)
	require.Error(t, err)
	require.NotContains(t, err.Error(), key)
	require.NotContains(t, err.Error(), url.QueryEscape(key))
	require.Contains(t, err.Error(), scrubbedAPIKey)
	require.NotContains(t, r.SeriesURL(), url.QueryEscape(key))
}

func TestReportUnencodableBatchFailsWithoutRequest(t *testing.T) {
	t.Parallel()
	var calls int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
	}))
	defer ts.Close()

	r := newTestReporter(t, ts.URL, 2, false)
	series := append([]ddmetrics.Series{
		{Metric: "bad", Points: []ddmetrics.Point{ddmetrics.NewPoint(1600000000, math.NaN())}, Type: ddmetrics.GAUGE, Tags: ddmetrics.Tags{}},
	}, testSeries...)
	err := r.Report(context.Background(), series)
	require.Error(t, err)
	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Zero(t, deliveryErr.Attempts)
	assert.NotContains(t, err.Error(), "attempt")
	assert.Contains(t, err.Error(), "rendering body")
	assert.Zero(t, atomic.LoadInt64(&calls))
}

func TestNewDatadogReporterRequiresAPIKey(t *testing.T) {
	t.Parallel()
	_, err := NewDatadogReporter(NewDatadogOptions(""))
	require.Error(t, err)
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name     string
		endpoint string
		site     string
		apiHost  string
		expected string
	}{
		{name: "default", expected: "https://api.datadoghq.com"},
		{name: "site", site: "datadoghq.eu", expected: "https://api.datadoghq.eu"},
		{name: "app prefix", site: "app.datadoghq.eu", expected: "https://api.datadoghq.eu"},
		{name: "api host fallback", apiHost: "us3.datadoghq.com", expected: "https://api.us3.datadoghq.com"},
		{name: "site wins over api host", site: "datadoghq.eu", apiHost: "us3.datadoghq.com", expected: "https://api.datadoghq.eu"},
		{name: "site url", site: "http://localhost:8080/", expected: "http://localhost:8080"},
		{name: "explicit endpoint", endpoint: "https://proxy.example/", site: "datadoghq.eu", expected: "https://proxy.example"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			actual, err := resolveEndpoint(tc.endpoint, tc.site, tc.apiHost)
			require.NoError(t, err)
			require.Equal(t, tc.expected, actual)
		})
	}
}

func TestSeriesURLIsScrubbed(t *testing.T) {
	t.Parallel()
	opts := NewDatadogOptions(testAPIKey)
	opts.Site = "datadoghq.eu"
	r, err := NewDatadogReporter(opts)
	require.NoError(t, err)
	require.Equal(t, "https://api.datadoghq.eu/api/v1/series?api_key=*****", r.SeriesURL())
}

func TestRenderMatchesWireFormat(t *testing.T) {
	t.Parallel()
	r := newTestReporter(t, "http://localhost", 0, false)
	buf := &bytes.Buffer{}
	require.NoError(t, r.render(buf, testSeries))
	expected := `{"series":[{"metric":"test.requests","points":[[1600000000,3]],"type":"count","host":"web-1","tags":["env:prod"]}]}`
	require.Equal(t, expected, string(bytes.TrimSpace(buf.Bytes())))
}
