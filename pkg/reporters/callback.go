package reporters

import (
	"context"
	"errors"

	"github.com/atlassian/ddmetrics"
)

// CallbackReporter is the legacy reporter shape which signals completion by
// calling exactly one of onSuccess or onError.
type CallbackReporter interface {
	Report(series []ddmetrics.Series, onSuccess func(), onError func(error))
}

// CallbackReporterFunc is an adapter to allow the use of ordinary functions as a CallbackReporter.
type CallbackReporterFunc func(series []ddmetrics.Series, onSuccess func(), onError func(error))

func (f CallbackReporterFunc) Report(series []ddmetrics.Series, onSuccess func(), onError func(error)) {
	f(series, onSuccess, onError)
}

// errNilCallbackError is reported when a CallbackReporter signals failure without an error.
var errNilCallbackError = errors.New("callback reporter failed without an error")

// FromCallbacks adapts a CallbackReporter into a Reporter.  Report returns
// once either callback fires or ctx is done.  A callback fired more than
// once is ignored after the first call.
func FromCallbacks(cr CallbackReporter) ddmetrics.Reporter {
	return ddmetrics.ReporterFunc(func(ctx context.Context, series []ddmetrics.Series) error {
		done := make(chan error, 1)
		onSuccess := func() {
			select {
			case done <- nil:
			default:
			}
		}
		onError := func(err error) {
			if err == nil {
				err = errNilCallbackError
			}
			select {
			case done <- err:
			default:
			}
		}
		cr.Report(series, onSuccess, onError)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		}
	})
}
