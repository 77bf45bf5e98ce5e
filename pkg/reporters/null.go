package reporters

import (
	"context"

	"github.com/atlassian/ddmetrics"
)

// NullReporter throws series away instead of sending them.  Useful for
// disabling metrics and for tests.
type NullReporter struct{}

// Report discards series.
func (NullReporter) Report(context.Context, []ddmetrics.Series) error {
	return nil
}
