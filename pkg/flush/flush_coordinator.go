package flush

import (
	"context"
	"sync"
)

// Coordinator owns the exit hooks of a process.  Components that hold
// buffered data register themselves, and the host application calls Flush
// once when it is about to exit.
type Coordinator interface {
	// RegisterFlushable adds f to the set flushed on exit.
	RegisterFlushable(f Flushable)
	// Flush calls FlushOnExit on every registered Flushable concurrently and
	// waits for them all to return.  Only the first call has any effect.
	Flush(ctx context.Context)
	// NotifyFlush requests that the owner of the coordinator flushes, for
	// example because the input has been exhausted.
	NotifyFlush()
	// WaitForFlush blocks until NotifyFlush is called or ctx is done.
	WaitForFlush(ctx context.Context)
}

type Flushable interface {
	FlushOnExit(ctx context.Context)
}

var _ Coordinator = (*coordinator)(nil)

type coordinator struct {
	flushChan chan struct{}
	once      sync.Once

	mu sync.Mutex
	fs []Flushable
}

func NewFlushCoordinator() Coordinator {
	return &coordinator{
		flushChan: make(chan struct{}, 1),
	}
}

func (fc *coordinator) RegisterFlushable(f Flushable) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.fs = append(fc.fs, f)
}

func (fc *coordinator) Flush(ctx context.Context) {
	fc.once.Do(func() {
		fc.mu.Lock()
		fs := append([]Flushable(nil), fc.fs...)
		fc.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(len(fs))
		for _, f := range fs {
			go func(f Flushable) {
				defer wg.Done()
				f.FlushOnExit(ctx)
			}(f)
		}
		wg.Wait()
	})
}

func (fc *coordinator) NotifyFlush() {
	select {
	case fc.flushChan <- struct{}{}:
	default: // already notified
	}
}

func (fc *coordinator) WaitForFlush(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-fc.flushChan:
	}
}

func NewNoopFlushCoordinator() Coordinator {
	return &noopFlushCoordinator{}
}

type noopFlushCoordinator struct{}

func (n *noopFlushCoordinator) RegisterFlushable(Flushable) {}

func (n *noopFlushCoordinator) Flush(context.Context) {}

func (n *noopFlushCoordinator) NotifyFlush() {}

func (n *noopFlushCoordinator) WaitForFlush(ctx context.Context) {
	<-ctx.Done()
}
