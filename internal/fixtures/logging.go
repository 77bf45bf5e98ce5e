package fixtures

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type writer struct {
	tb testing.TB
}

var _ io.Writer = (*writer)(nil)

func (w writer) Write(p []byte) (int, error) {
	w.tb.Log(string(p))
	return len(p), nil
}

// NewTestLogger returns a logger which writes through tb.Log, so output is
// only shown for failing or verbose tests.
func NewTestLogger(tb testing.TB, opts ...func(*logrus.Logger)) logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	for _, opt := range opts {
		opt(l)
	}
	l.SetOutput(writer{tb: tb})
	return l
}

// NewCapturingLogger returns a logger that also records every entry in the
// returned hook, for tests which assert on what was logged.
func NewCapturingLogger(tb testing.TB) (logrus.FieldLogger, *test.Hook) {
	l := logrus.New()
	l.SetLevel(logrus.DebugLevel)
	l.SetOutput(writer{tb: tb})
	return l, test.NewLocal(l)
}
