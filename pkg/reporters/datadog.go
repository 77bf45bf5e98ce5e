package reporters

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/tilinna/clock"

	"github.com/atlassian/ddmetrics"
	"github.com/atlassian/ddmetrics/pkg/pool"
	"github.com/atlassian/ddmetrics/pkg/util"
)

const (
	// ReporterName is the name used for the datadog configuration sub tree and transport.
	ReporterName = "datadog"

	DefaultSite      = "datadoghq.com"
	DefaultUserAgent = "ddmetrics"

	seriesPath = "/api/v1/series"
	// maxResponseSize is the maximum response size we are willing to read.
	maxResponseSize = 10 * 1024
	// maxErrorBodySize is how much of a failed response makes it into the error.
	maxErrorBodySize = 256
	scrubbedAPIKey   = "*****"
)

var jsonConfig = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: false,
}.Froze()

// DatadogOptions configures a DatadogReporter.
type DatadogOptions struct {
	APIKey string
	// Site is the Datadog site, such as datadoghq.com or datadoghq.eu.
	Site string
	// APIHost is a deprecated alias of Site, consulted only when Site is empty.
	APIHost string
	// APIEndpoint overrides the endpoint derived from Site, such as https://api.datadoghq.com.
	APIEndpoint string
	UserAgent   string
	// CompressPayload deflates the request body.
	CompressPayload bool
	// Retries is the number of retries after the first attempt.
	Retries int
	// RetryBackoff is the wait before the first retry, doubled for each later one.
	RetryBackoff time.Duration
	// NewBackOff overrides Retries and RetryBackoff when set.
	NewBackOff util.BackoffFactory
	Client     *http.Client
	Logger     logrus.FieldLogger
}

// NewDatadogOptions returns DatadogOptions populated with the defaults.
func NewDatadogOptions(apiKey string) DatadogOptions {
	return DatadogOptions{
		APIKey:       apiKey,
		Site:         DefaultSite,
		UserAgent:    DefaultUserAgent,
		Retries:      util.DefaultRetries,
		RetryBackoff: util.DefaultRetryBackoff,
	}
}

// DatadogReporter posts batches of series to the Datadog series API.
type DatadogReporter struct {
	logger     logrus.FieldLogger
	apiKey     string
	seriesURL  string
	userAgent  string
	compress   bool
	client     *http.Client
	newBackOff util.BackoffFactory
	buffers    *pool.BytesBuffer
}

// NewDatadogReporter returns a new DatadogReporter.  An API key is required.
func NewDatadogReporter(opts DatadogOptions) (*DatadogReporter, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("[%s] api key is required", ReporterName)
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("[%s] retries must not be negative", ReporterName)
	}
	if opts.RetryBackoff < 0 {
		return nil, fmt.Errorf("[%s] retry backoff must not be negative", ReporterName)
	}

	endpoint, err := resolveEndpoint(opts.APIEndpoint, opts.Site, opts.APIHost)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w", ReporterName, err)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("[%s] invalid endpoint %q: %w", ReporterName, endpoint, err)
	}
	q := u.Query()
	q.Set("api_key", opts.APIKey)
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/") + seriesPath

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("reporter", ReporterName)

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	newBackOff := opts.NewBackOff
	if newBackOff == nil {
		newBackOff = util.NewRetryBackoffFactory(opts.Retries, opts.RetryBackoff)
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"compress": opts.CompressPayload,
	}).Info("created reporter")

	return &DatadogReporter{
		logger:     logger,
		apiKey:     opts.APIKey,
		seriesURL:  u.String(),
		userAgent:  userAgent,
		compress:   opts.CompressPayload,
		client:     client,
		newBackOff: newBackOff,
		buffers:    pool.NewBytesBuffer(),
	}, nil
}

// resolveEndpoint picks the API endpoint: an explicit endpoint wins, then
// https://api.<site>, with the deprecated apiHost standing in for an empty site.
func resolveEndpoint(endpoint, site, apiHost string) (string, error) {
	if endpoint != "" {
		return strings.TrimSuffix(endpoint, "/"), nil
	}
	if site == "" {
		site = apiHost
	}
	if site == "" {
		site = DefaultSite
	}
	if strings.Contains(site, "://") {
		return strings.TrimSuffix(site, "/"), nil
	}
	site = strings.TrimPrefix(site, "app.")
	site = strings.TrimPrefix(site, "api.")
	if site == "" {
		return "", errors.New("site must not be empty")
	}
	return "https://api." + site, nil
}

// SeriesURL returns the URL batches are posted to, with the API key scrubbed.
func (r *DatadogReporter) SeriesURL() string {
	return r.scrub(r.seriesURL)
}

// Report posts the series as a single batch.  Transient failures (transport
// errors, 5xx, 429) are retried according to the backoff policy; the waits
// use the clock attached to ctx.
func (r *DatadogReporter) Report(ctx context.Context, series []ddmetrics.Series) error {
	if len(series) == 0 {
		return nil
	}
	buf := r.buffers.Get()
	defer r.buffers.Put(buf)
	if err := r.render(buf, series); err != nil {
		return &DeliveryError{Err: fmt.Errorf("rendering body: %w", err)}
	}
	body := buf.Bytes()
	r.logger.WithFields(logrus.Fields{
		"series": len(series),
		"bytes":  len(body),
	}).Debug("sending batch")

	bo := r.newBackOff()
	for attempt := 1; ; attempt++ {
		status, retryable, err := r.post(ctx, body)
		if err == nil {
			return nil
		}
		if !retryable {
			var authErr *AuthorizationError
			if errors.As(err, &authErr) {
				return authErr
			}
			return &DeliveryError{Attempts: attempt, Status: status, Err: err}
		}

		next := bo.NextBackOff()
		if next == backoff.Stop {
			return &DeliveryError{Attempts: attempt, Status: status, Err: err}
		}
		r.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"status":  status,
		}).Warnf("failed to send (retry in %v)", next)

		t := clock.NewTimer(ctx, next)
		select {
		case <-ctx.Done():
			t.Stop()
			return &DeliveryError{Attempts: attempt, Status: status, Err: ctx.Err()}
		case <-t.C:
		}
	}
}

func (r *DatadogReporter) render(buf *bytes.Buffer, series []ddmetrics.Series) error {
	var w io.WriteCloser = util.NopWriteCloser(buf)
	if r.compress {
		zw, err := zlib.NewWriterLevel(buf, zlib.BestCompression)
		if err != nil {
			return err
		}
		w = zw
	}

	stream := jsonConfig.BorrowStream(w)
	defer jsonConfig.ReturnStream(stream)
	stream.WriteVal(ddmetrics.TimeSeries{Series: series})
	if stream.Error != nil {
		return stream.Error
	}
	if err := stream.Flush(); err != nil {
		return err
	}
	return w.Close()
}

// post makes a single request.  It must not log, errors are returned with the
// API key already scrubbed.
func (r *DatadogReporter) post(ctx context.Context, body []byte) (status int, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.seriesURL, bytes.NewReader(body))
	if err != nil {
		return 0, false, r.scrubError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", r.userAgent)
	if r.compress {
		req.Header.Set("Content-Encoding", "deflate")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, true, r.scrubError(err)
	}
	defer util.DrainAndClose(resp.Body, maxResponseSize)

	status = resp.StatusCode
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return status, false, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	serr := &statusError{
		status: status,
		body:   r.scrub(strings.TrimSpace(string(snippet))),
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return status, false, &AuthorizationError{Status: status, Err: serr}
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return status, true, serr
	default:
		return status, false, serr
	}
}

// scrub removes the API key, raw or as escaped in the request URL.
func (r *DatadogReporter) scrub(s string) string {
	s = strings.Replace(s, r.apiKey, scrubbedAPIKey, -1)
	return strings.Replace(s, url.QueryEscape(r.apiKey), scrubbedAPIKey, -1)
}

func (r *DatadogReporter) scrubError(err error) error {
	return errors.New(r.scrub(err.Error()))
}
