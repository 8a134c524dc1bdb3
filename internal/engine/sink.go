package engine

import "time"

// RenderSink receives decoded media as the clock reaches it. Buffers are
// only valid for the duration of the call. A zero stride means buf holds a
// coded frame rather than pixels.
type RenderSink interface {
	OnVideoFrame(buf []byte, width, height, stride int, pts time.Duration)
	OnAudioBlock(buf []byte, byteLength int, pts time.Duration)
	OnSubtitleCue(text string, pts, duration time.Duration)
}

// VolumeSink is implemented by sinks that apply volume, balance and mute.
type VolumeSink interface {
	OnVolume(volume, balance float64, muted bool)
}

// Discard is a RenderSink that drops everything.
type Discard struct{}

func (Discard) OnVideoFrame([]byte, int, int, int, time.Duration)  {}
func (Discard) OnAudioBlock([]byte, int, time.Duration)            {}
func (Discard) OnSubtitleCue(string, time.Duration, time.Duration) {}
