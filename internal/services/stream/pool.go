// Package stream turns upstream SSE bodies into normalized events and keeps
// long-lived downstream streams healthy.
package stream

import (
	"bytes"
	"sync"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// Free-list bounds.
const (
	ChunkPoolSize      = 30
	ToolCallPoolSize   = 15
	LineBufferPoolSize = 5
)

// Pool is a bounded free list. Items returned beyond the bound are dropped.
type Pool[T any] struct {
	mu    sync.Mutex
	items []T
	max   int
	newFn func() T
	reset func(T)
}

// NewPool creates a pool holding at most size idle items.
func NewPool[T any](size int, newFn func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{max: size, newFn: newFn, reset: reset}
}

// Get returns an idle item or a new one.
func (p *Pool[T]) Get() T {
	p.mu.Lock()
	if n := len(p.items); n > 0 {
		item := p.items[n-1]
		var zero T
		p.items[n-1] = zero
		p.items = p.items[:n-1]
		p.mu.Unlock()
		return item
	}
	p.mu.Unlock()
	return p.newFn()
}

// Put resets item and keeps it if the pool has room.
func (p *Pool[T]) Put(item T) {
	if p.reset != nil {
		p.reset(item)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) < p.max {
		p.items = append(p.items, item)
	}
}

// Trim drops idle items above the bound and returns how many went.
func (p *Pool[T]) Trim() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	excess := len(p.items) - p.max
	if excess <= 0 {
		return 0
	}
	clear(p.items[p.max:])
	p.items = p.items[:p.max]
	return excess
}

// Len returns the number of idle items.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Pools groups the relay's free lists.
type Pools struct {
	Chunks      *Pool[*bytes.Buffer]
	ToolCalls   *Pool[*models.ToolCall]
	LineBuffers *Pool[*LineBuffer]
}

// NewPools creates the free lists with their default bounds.
func NewPools() *Pools {
	return &Pools{
		Chunks: NewPool(ChunkPoolSize,
			func() *bytes.Buffer { return new(bytes.Buffer) },
			func(b *bytes.Buffer) { b.Reset() }),
		ToolCalls: NewPool(ToolCallPoolSize,
			func() *models.ToolCall { return &models.ToolCall{Type: "function"} },
			func(t *models.ToolCall) { t.Reset() }),
		LineBuffers: NewPool(LineBufferPoolSize,
			func() *LineBuffer { return new(LineBuffer) },
			func(l *LineBuffer) { l.Reset() }),
	}
}

// Trim applies the bounds to every pool.
func (p *Pools) Trim() int {
	return p.Chunks.Trim() + p.ToolCalls.Trim() + p.LineBuffers.Trim()
}
