// Package clock keeps the shared media position that every component
// renders against.
package clock

import (
	"sync"
	"time"

	"github.com/zsiec/marquee/internal/media"
)

// SubtitleTolerance is the drift window for subtitle cues.
const SubtitleTolerance = 250 * time.Millisecond

// Action tells a renderer what to do with its next block.
type Action int

// Render decisions.
const (
	Render Action = iota
	Skip
	Wait
)

func (a Action) String() string {
	switch a {
	case Render:
		return "render"
	case Skip:
		return "skip"
	case Wait:
		return "wait"
	default:
		return "unknown"
	}
}

// Clock advances media time from wall time. While running, the position is
// the anchor plus elapsed wall time scaled by the speed ratio; while paused
// it is frozen at the anchor.
type Clock struct {
	mu      sync.RWMutex
	now     func() time.Time
	anchor  time.Duration
	wall    time.Time
	speed   float64
	running bool
}

// New returns a paused clock at zero. A nil now uses time.Now.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, speed: 1}
}

func (c *Clock) positionLocked() time.Duration {
	if !c.running {
		return c.anchor
	}
	elapsed := c.now().Sub(c.wall)
	return c.anchor + time.Duration(float64(elapsed)*c.speed)
}

// Position returns the current media time.
func (c *Clock) Position() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positionLocked()
}

// Running reports whether the clock advances.
func (c *Clock) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Speed returns the speed ratio.
func (c *Clock) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

// Play starts advancing from the current position.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.wall = c.now()
	c.running = true
}

// Pause freezes the position.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchor = c.positionLocked()
	c.running = false
}

// Reset moves the position to t without changing the running state.
func (c *Clock) Reset(t time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchor = t
	c.wall = c.now()
}

// SetSpeed changes the speed ratio from now on. Non-positive ratios are
// ignored.
func (c *Clock) SetSpeed(r float64) {
	if r <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchor = c.positionLocked()
	c.wall = c.now()
	c.speed = r
}

// Sync re-anchors the clock to a master block start when it deviates from
// the position by more than tolerance. It reports whether it re-anchored.
func (c *Clock) Sync(blockStart, tolerance time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d := blockStart - c.positionLocked(); d <= tolerance && d >= -tolerance {
		return false
	}
	c.anchor = blockStart
	c.wall = c.now()
	return true
}

// Drift returns how far a block starting at next is ahead of the clock;
// negative means late.
func (c *Clock) Drift(next time.Duration) time.Duration {
	return next - c.Position()
}

// Decide tells a non-master renderer whether to render b now, skip it as
// too late, or wait because it is early. A block is late once it ended
// more than tolerance ago and early when it starts more than tolerance
// ahead.
func (c *Clock) Decide(b *media.Block, tolerance time.Duration) Action {
	pos := c.Position()
	switch {
	case b.End()+tolerance < pos:
		return Skip
	case b.Start-tolerance > pos:
		return Wait
	default:
		return Render
	}
}

// SelectMaster picks the stream type that drives the clock: video with a
// usable frame rate, else audio, else none.
func SelectMaster(streams []media.StreamDescriptor) media.Type {
	hasAudio := false
	for _, s := range streams {
		switch s.Type {
		case media.Video:
			if s.FrameRate > 0 {
				return media.Video
			}
		case media.Audio:
			hasAudio = true
		}
	}
	if hasAudio {
		return media.Audio
	}
	return media.None
}

// Tolerance is the sync window for a stream: one frame for video, the
// given number of samples for audio and a fixed window for subtitles.
func Tolerance(desc media.StreamDescriptor, audioDriftSamples int) time.Duration {
	switch desc.Type {
	case media.Video:
		if d := desc.FrameDuration(); d > 0 {
			return d
		}
		return 40 * time.Millisecond
	case media.Audio:
		if desc.SampleRate > 0 && audioDriftSamples > 0 {
			return time.Duration(audioDriftSamples) * time.Second / time.Duration(desc.SampleRate)
		}
		return 40 * time.Millisecond
	default:
		return SubtitleTolerance
	}
}
