// Package buffer holds decoded blocks for one stream component in
// presentation order, bounded by the time span they cover.
package buffer

import (
	"sort"
	"sync"
	"time"

	"github.com/zsiec/marquee/internal/media"
)

// Buffer is a time-ordered store of decoded blocks. Blocks are never
// removed by reading; the oldest ones are evicted when the buffered span
// exceeds the capacity. Safe for concurrent use by one writer (the decode
// loop) and many readers (render loop, state snapshots).
type Buffer struct {
	mu       sync.RWMutex
	blocks   []*media.Block
	capacity time.Duration
	evicted  int64
}

// New returns a Buffer that keeps at most capacity of presentation time.
func New(capacity time.Duration) *Buffer {
	return &Buffer{capacity: capacity}
}

// Add inserts b in start-time order. A block with the same start as a
// buffered one replaces it in place. Returns how many old blocks were
// evicted to respect the capacity.
func (b *Buffer) Add(blk *media.Block) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.blocks)
	i := sort.Search(n, func(i int) bool { return b.blocks[i].Start >= blk.Start })
	switch {
	case i < n && b.blocks[i].Start == blk.Start:
		b.blocks[i] = blk
	case i == n:
		b.blocks = append(b.blocks, blk)
	default:
		b.blocks = append(b.blocks, nil)
		copy(b.blocks[i+1:], b.blocks[i:])
		b.blocks[i] = blk
	}

	evicted := 0
	for len(b.blocks) > 1 && b.spanLocked() > b.capacity {
		b.blocks[0] = nil
		b.blocks = b.blocks[1:]
		evicted++
	}
	b.evicted += int64(evicted)
	return evicted
}

func (b *Buffer) spanLocked() time.Duration {
	if len(b.blocks) == 0 {
		return 0
	}
	return b.blocks[len(b.blocks)-1].Start - b.blocks[0].Start
}

// PeekAt returns the block whose [Start, End) contains t, or else the block
// whose start is nearest to t. It reports false only when the buffer is
// empty.
func (b *Buffer) PeekAt(t time.Duration) (*media.Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := len(b.blocks)
	if n == 0 {
		return nil, false
	}
	// i is the first block starting after t.
	i := sort.Search(n, func(i int) bool { return b.blocks[i].Start > t })
	if i > 0 && b.blocks[i-1].Contains(t) {
		return b.blocks[i-1], true
	}
	switch {
	case i == 0:
		return b.blocks[0], true
	case i == n:
		return b.blocks[n-1], true
	}
	before, after := b.blocks[i-1], b.blocks[i]
	if t-before.Start <= after.Start-t {
		return before, true
	}
	return after, true
}

// At returns the block containing t, if one is buffered.
func (b *Buffer) At(t time.Duration) (*media.Block, bool) {
	blk, ok := b.PeekAt(t)
	if !ok || !blk.Contains(t) {
		return nil, false
	}
	return blk, true
}

// Next returns the first block starting strictly after t.
func (b *Buffer) Next(t time.Duration) (*media.Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.blocks), func(i int) bool { return b.blocks[i].Start > t })
	if i == len(b.blocks) {
		return nil, false
	}
	return b.blocks[i], true
}

// Prev returns the last block starting strictly before t.
func (b *Buffer) Prev(t time.Duration) (*media.Block, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	i := sort.Search(len(b.blocks), func(i int) bool { return b.blocks[i].Start >= t })
	if i == 0 {
		return nil, false
	}
	return b.blocks[i-1], true
}

// BufferedDuration returns newest start minus oldest start.
func (b *Buffer) BufferedDuration() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.spanLocked()
}

// Ahead returns how much presentation time is buffered past t, measured to
// the end of the newest block.
func (b *Buffer) Ahead(t time.Duration) time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.blocks) == 0 {
		return 0
	}
	return max(b.blocks[len(b.blocks)-1].End()-t, 0)
}

// RangeStart returns the start of the oldest block.
func (b *Buffer) RangeStart() (time.Duration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.blocks) == 0 {
		return 0, false
	}
	return b.blocks[0].Start, true
}

// RangeEnd returns the end of the newest block.
func (b *Buffer) RangeEnd() (time.Duration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.blocks) == 0 {
		return 0, false
	}
	return b.blocks[len(b.blocks)-1].End(), true
}

// Len returns the number of buffered blocks.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blocks)
}

// Capacity returns the configured span limit.
func (b *Buffer) Capacity() time.Duration { return b.capacity }

// IsFull reports whether the buffered span has reached the capacity.
func (b *Buffer) IsFull() bool {
	return b.BufferedDuration() >= b.capacity
}

// Evicted returns the total number of blocks evicted since creation.
func (b *Buffer) Evicted() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.evicted
}

// Clear drops every block.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.blocks)
	b.blocks = b.blocks[:0]
}

// Snapshot returns a copy of the buffered block pointers in order.
func (b *Buffer) Snapshot() []*media.Block {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*media.Block, len(b.blocks))
	copy(out, b.blocks)
	return out
}
