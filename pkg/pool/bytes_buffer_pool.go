package pool

import (
	"bytes"
	"sync"
)

// DefaultMaxRetained is the largest buffer capacity NewBytesBuffer keeps for reuse.
const DefaultMaxRetained = 4 * 1024 * 1024

// BytesBuffer is a strongly typed wrapper around a sync.Pool for *bytes.Buffer.
// Buffers which grew beyond maxRetained are dropped on Put, so one unusually
// large batch does not pin its memory for the life of the process.
type BytesBuffer struct {
	p           sync.Pool
	maxRetained int
}

func NewBytesBuffer() *BytesBuffer {
	return NewBytesBufferWithLimit(DefaultMaxRetained)
}

// NewBytesBufferWithLimit returns a pool which only retains buffers with a
// capacity of at most maxRetained bytes.  A maxRetained of 0 retains everything.
func NewBytesBufferWithLimit(maxRetained int) *BytesBuffer {
	return &BytesBuffer{
		p: sync.Pool{
			New: func() interface{} {
				return &bytes.Buffer{}
			},
		},
		maxRetained: maxRetained,
	}
}

// Get returns an empty buffer.
func (p *BytesBuffer) Get() *bytes.Buffer {
	buffer := p.p.Get().(*bytes.Buffer)
	buffer.Reset()
	return buffer
}

// Put returns b to the pool.  b must not be used afterwards.
func (p *BytesBuffer) Put(b *bytes.Buffer) {
	if b == nil || (p.maxRetained > 0 && b.Cap() > p.maxRetained) {
		return
	}
	p.p.Put(b)
}
