package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/marquee/internal/media"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("received %d of %d events", len(out), n)
		}
	}
	return out
}

func TestInOrderDelivery(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	defer d.Close()
	ch, _ := d.Channel(1000)

	for i := range 500 {
		d.Emit(Event{Kind: PositionChanged, Position: time.Duration(i)})
	}
	got := collect(t, ch, 500)
	for i, e := range got {
		assert.Equal(t, time.Duration(i), e.Position)
		if i > 0 {
			assert.Greater(t, e.Seq, got[i-1].Seq)
		}
	}
}

func TestConcurrentEmittersKeepSeqOrder(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	defer d.Close()
	const emitters, each = 8, 200
	ch, _ := d.Channel(emitters * each)

	var wg sync.WaitGroup
	for range emitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				d.Emit(Event{Kind: PositionChanged})
			}
		}()
	}
	wg.Wait()

	got := collect(t, ch, emitters*each)
	for i, e := range got {
		assert.Equal(t, uint64(i+1), e.Seq)
	}
}

func TestKindFilter(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	defer d.Close()
	ch, _ := d.Channel(10, MediaOpened, MediaClosed)

	d.Emit(Event{Kind: Opening})
	d.Emit(Event{Kind: MediaOpened})
	d.Emit(Event{Kind: PositionChanged})
	d.Emit(Event{Kind: MediaClosed})

	got := collect(t, ch, 2)
	assert.Equal(t, MediaOpened, got[0].Kind)
	assert.Equal(t, MediaClosed, got[1].Kind)
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	release := make(chan struct{})
	var mu sync.Mutex
	var seen int
	d.Subscribe(func(Event) {
		<-release
		mu.Lock()
		seen++
		mu.Unlock()
	})
	fast, _ := d.Channel(100)

	start := time.Now()
	for range 50 {
		d.Emit(Event{Kind: PositionChanged})
	}
	assert.Less(t, time.Since(start), time.Second)
	collect(t, fast, 50)

	close(release)
	d.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 50, seen, "Close delivers queued events")
}

func TestExecutorReceivesCalls(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	posted := make(chan func(), 10)
	var got []Kind
	d.Subscribe(func(e Event) { got = append(got, e.Kind) }, WithExecutor(func(f func()) { posted <- f }))

	d.Emit(Event{Kind: SeekingStarted})
	d.Emit(Event{Kind: SeekingEnded})
	for range 2 {
		select {
		case f := <-posted:
			f()
		case <-time.After(2 * time.Second):
			t.Fatal("executor not called")
		}
	}
	assert.Equal(t, []Kind{SeekingStarted, SeekingEnded}, got)
	d.Close()
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	defer d.Close()
	ch, sub := d.Channel(10)
	require.Equal(t, 1, d.Subscribers())
	sub.Unsubscribe()
	<-sub.Done()
	assert.Equal(t, 0, d.Subscribers())

	d.Emit(Event{Kind: MediaOpened})
	_, ok := <-ch
	assert.False(t, ok, "channel closed after unsubscribe")
}

func TestSubscribeAfterClose(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(nil)
	d.Close()
	ch, sub := d.Channel(1)
	<-sub.Done()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestEventString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "StateChanged open -> playing",
		Event{Kind: StateChanged, Previous: media.StateOpen, State: media.StatePlaying}.String())
	assert.Equal(t, "MediaFailed: boom", Event{Kind: MediaFailed, Err: errors.New("boom")}.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}
