package ddmetrics

import (
	"context"
)

// Reporter delivers a batch of series to a metrics backend.
//
// Report must treat the batch as a unit: it either accepts all of it or returns
// an error.  Implementations must be safe for concurrent use, since flushes
// are allowed to overlap.
type Reporter interface {
	Report(ctx context.Context, series []Series) error
}

// ReporterFunc is an adapter to allow the use of ordinary functions as a Reporter.
type ReporterFunc func(ctx context.Context, series []Series) error

// Report calls f(ctx, series).
func (f ReporterFunc) Report(ctx context.Context, series []Series) error {
	return f(ctx, series)
}

// Runnable is a long running function intended to be launched in a goroutine.
type Runnable func(context.Context)
