package util

import (
	"io"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NopWriteCloser returns a WriteCloser with a no-op Close method wrapping w,
// so plain and compressing writers can be handled the same way.
func NopWriteCloser(w io.Writer) io.WriteCloser {
	return nopWriteCloser{w}
}

// DrainAndClose reads at most limit bytes from r, then closes it.  Intended
// to safely release HTTP connections back to the pool.
func DrainAndClose(r io.ReadCloser, limit int64) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, limit))
	_ = r.Close()
}
