package util

import (
	"context"
	"time"

	"github.com/tilinna/clock"
)

// Ticker delivers flush ticks on C until Stop is called.  Ticks are dropped
// if the receiver is not keeping up.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

func (t *Ticker) Stop() {
	t.stop()
}

// NewTicker returns a Ticker firing every interval using the clock attached
// to ctx.  When aligned is true ticks fire on multiples of interval (plus
// offset) instead of interval after creation, so processes with the same
// interval flush at the same moments.
func NewTicker(ctx context.Context, interval, offset time.Duration, aligned bool) *Ticker {
	clck := clock.FromContext(ctx)
	if !aligned {
		t := clck.NewTicker(interval)
		return &Ticker{C: t.C, stop: t.Stop}
	}

	ch := make(chan time.Time, 1)
	stop := make(chan struct{})
	go runAligned(clck, interval, offset, ch, stop)
	return &Ticker{C: ch, stop: func() { close(stop) }}
}

// nextAligned returns the first instant after now of the form
// n*interval + offset.
func nextAligned(now time.Time, interval, offset time.Duration) time.Time {
	return now.Add(-offset).Truncate(interval).Add(interval + offset)
}

func runAligned(clck clock.Clock, interval, offset time.Duration, ch chan<- time.Time, stop <-chan struct{}) {
	for {
		now := clck.Now()
		next := nextAligned(now, interval, offset)
		tmr := clck.NewTimer(next.Sub(now))
		select {
		case <-stop:
			tmr.Stop()
			return
		case <-tmr.C:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
