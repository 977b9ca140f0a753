package buffers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool hands out fixed-capacity frame buffers.  The number of buffers outstanding at any time is bounded;
// Get blocks once the bound is reached until another holder releases a buffer.
type Pool struct {
	size        int
	count       int
	sem         *semaphore.Weighted
	free        sync.Pool
	outstanding atomic.Int64
}

// Buffer is one segment of a frame chain.  It holds the bytes of exactly one link frame.
type Buffer struct {
	data []byte
	// Len is the number of bytes of data in use
	Len int
	// PacketLen is the running total of all frame lengths in a chain.  It is only meaningful on the head buffer.
	PacketLen int
	pool      *Pool
	released  bool
}

// Chain is the ordered list of buffers making up one logical packet.  Element 0 is the head.
type Chain []*Buffer

var ErrBadPoolSize = fmt.Errorf("buffer pool size and count must be positive")

// NewPool creates a pool of count buffers, each with a capacity of size bytes.
func NewPool(count int, size int) (*Pool, error) {
	if count <= 0 || size <= 0 {
		return nil, ErrBadPoolSize
	}
	p := &Pool{
		size:  size,
		count: count,
		sem:   semaphore.NewWeighted(int64(count)),
	}
	p.free.New = func() any {
		return &Buffer{data: make([]byte, size)}
	}
	return p, nil
}

// Size returns the capacity of each buffer in the pool
func (p *Pool) Size() int {
	return p.size
}

// Count returns the maximum number of buffers that can be outstanding at once
func (p *Pool) Count() int {
	return p.count
}

// Outstanding returns the number of buffers currently held by callers
func (p *Pool) Outstanding() int {
	return int(p.outstanding.Load())
}

func (p *Pool) take() *Buffer {
	b := p.free.Get().(*Buffer)
	b.Len = 0
	b.PacketLen = 0
	b.pool = p
	b.released = false
	p.outstanding.Add(1)
	return b
}

// Get acquires a buffer, waiting until one is available or the context is done.
func (p *Pool) Get(ctx context.Context) (*Buffer, error) {
	err := p.sem.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}
	return p.take(), nil
}

// TryGet acquires a buffer without waiting.  It returns false if the pool is exhausted.
func (p *Pool) TryGet() (*Buffer, bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	return p.take(), true
}

// Cap returns the capacity of the buffer
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Data returns the whole backing array of the buffer, regardless of Len
func (b *Buffer) Data() []byte {
	return b.data
}

// Bytes returns the in-use portion of the buffer
func (b *Buffer) Bytes() []byte {
	return b.data[:b.Len]
}

// Release returns the buffer to its pool.  The buffer must not be touched afterwards.
func (b *Buffer) Release() {
	if b.released {
		panic("buffer released twice")
	}
	b.released = true
	p := b.pool
	b.pool = nil
	if p == nil {
		return
	}
	p.outstanding.Add(-1)
	p.free.Put(b)
	p.sem.Release(1)
}

// Head returns the first buffer of the chain, or nil for an empty chain
func (c Chain) Head() *Buffer {
	if len(c) == 0 {
		return nil
	}
	return c[0]
}

// Release releases every buffer still present in the chain.  Elements already handed off should be set to nil.
func (c Chain) Release() {
	for i, b := range c {
		if b != nil {
			b.Release()
			c[i] = nil
		}
	}
}
