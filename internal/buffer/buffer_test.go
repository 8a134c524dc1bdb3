package buffer

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zsiec/marquee/internal/media"
)

const frame = 40 * time.Millisecond

func block(start time.Duration) *media.Block {
	return &media.Block{Type: media.Video, Start: start, Duration: frame}
}

func TestAdd_OrderedRegardlessOfInsertOrder(t *testing.T) {
	t.Parallel()
	b := New(time.Hour)
	rng := rand.New(rand.NewPCG(1, 2))
	for _, i := range rng.Perm(200) {
		b.Add(block(time.Duration(i) * frame))
	}
	blocks := b.Snapshot()
	require.Len(t, blocks, 200)
	for i := 1; i < len(blocks); i++ {
		assert.LessOrEqual(t, blocks[i-1].Start, blocks[i].Start, "index %d", i)
	}
}

func TestAdd_SameStartReplacesInPlace(t *testing.T) {
	t.Parallel()
	b := New(time.Hour)
	b.Add(block(0))
	b.Add(block(frame))
	b.Add(block(2 * frame))

	repl := block(frame)
	repl.Text = "newer"
	b.Add(repl)

	require.Equal(t, 3, b.Len())
	got, ok := b.At(frame)
	require.True(t, ok)
	assert.Equal(t, "newer", got.Text)
}

func TestAdd_EvictsToCapacity(t *testing.T) {
	t.Parallel()
	b := New(time.Second)
	evicted := 0
	for i := range 100 {
		evicted += b.Add(block(time.Duration(i) * frame))
		assert.LessOrEqual(t, b.BufferedDuration(), time.Second)
	}
	assert.Equal(t, 26, b.Len()) // 25 frames span exactly one second
	assert.Equal(t, 74, evicted)
	assert.EqualValues(t, 74, b.Evicted())
	start, _ := b.RangeStart()
	assert.Equal(t, 74*frame, start)
	assert.True(t, b.IsFull())
}

func TestPeekAt(t *testing.T) {
	t.Parallel()
	b := New(time.Hour)
	_, ok := b.PeekAt(0)
	assert.False(t, ok, "empty buffer")

	// Blocks at 0, 40ms and 200ms leave a gap.
	b.Add(block(0))
	b.Add(block(frame))
	b.Add(block(5 * frame))

	tests := []struct {
		name string
		at   time.Duration
		want time.Duration
	}{
		{"inside first", 10 * time.Millisecond, 0},
		{"boundary belongs to next", frame, frame},
		{"gap nearer earlier", 90 * time.Millisecond, frame},
		{"gap nearer later", 170 * time.Millisecond, 5 * frame},
		{"before all", -time.Second, 0},
		{"after all", time.Hour, 5 * frame},
	}
	for _, tt := range tests {
		got, ok := b.PeekAt(tt.at)
		require.True(t, ok, tt.name)
		assert.Equal(t, tt.want, got.Start, tt.name)
	}

	_, ok = b.At(90 * time.Millisecond)
	assert.False(t, ok, "At must not return a block that does not contain t")
}

func TestNextPrevAhead(t *testing.T) {
	t.Parallel()
	b := New(time.Hour)
	for i := range 5 {
		b.Add(block(time.Duration(i) * frame))
	}
	next, ok := b.Next(frame)
	require.True(t, ok)
	assert.Equal(t, 2*frame, next.Start)
	_, ok = b.Next(4 * frame)
	assert.False(t, ok)

	prev, ok := b.Prev(frame)
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), prev.Start)
	_, ok = b.Prev(0)
	assert.False(t, ok)

	assert.Equal(t, 5*frame-frame/2, b.Ahead(frame/2))
	assert.Equal(t, time.Duration(0), b.Ahead(time.Hour))
	end, _ := b.RangeEnd()
	assert.Equal(t, 5*frame, end)
}

func TestClear(t *testing.T) {
	t.Parallel()
	b := New(time.Second)
	b.Add(block(0))
	b.Clear()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, time.Duration(0), b.BufferedDuration())
	_, ok := b.RangeStart()
	assert.False(t, ok)
}

func TestConcurrentReaders(t *testing.T) {
	t.Parallel()
	b := New(2 * time.Second)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			b.Add(block(time.Duration(i) * frame))
		}
	}()
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 1000 {
				if blk, ok := b.PeekAt(time.Duration(i) * frame); ok && blk == nil {
					t.Error("nil block reported as found")
				}
				_ = b.BufferedDuration()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, b.BufferedDuration(), 2*time.Second)
}

func BenchmarkAdd(b *testing.B) {
	buf := New(10 * time.Second)
	for i := 0; b.Loop(); i++ {
		buf.Add(block(time.Duration(i) * frame))
	}
}
