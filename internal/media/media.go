// Package media defines the core types that flow through the playback
// engine, from demuxed packets through decoded blocks to the render sink.
package media

import (
	"fmt"
	"time"
)

// Packet queue capacities per component. Sized to absorb demux jitter
// without excessive memory: ~2 seconds of video, ~2.5s of audio.
const (
	VideoQueueSize    = 60
	AudioQueueSize    = 120
	SubtitleQueueSize = 30
)

// QueueSize returns the packet queue capacity for t.
func QueueSize(t Type) int {
	switch t {
	case Video:
		return VideoQueueSize
	case Audio:
		return AudioQueueSize
	default:
		return SubtitleQueueSize
	}
}

// Type identifies the kind of an elementary stream.
type Type int

// Stream types. None doubles as "no master" for the clock.
const (
	None Type = iota
	Video
	Audio
	Subtitle
)

// Types lists the playable stream types in master-preference order.
var Types = []Type{Video, Audio, Subtitle}

func (t Type) String() string {
	switch t {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Subtitle:
		return "subtitle"
	default:
		return "none"
	}
}

// StreamDescriptor describes one elementary stream of an open source.
// It is created when the source opens and is read-only afterwards.
type StreamDescriptor struct {
	Index      int
	Type       Type
	Codec      string
	SampleRate int
	Channels   int
	Width      int
	Height     int
	FrameRate  float64
	Rotation   int
	BitRate    int64
	Language   string
	// Default marks the stream the container would pick on its own.
	Default bool
}

// FrameDuration returns the nominal duration of one video frame, or zero.
func (s StreamDescriptor) FrameDuration() time.Duration {
	if s.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.FrameRate)
}

func (s StreamDescriptor) String() string {
	switch s.Type {
	case Video:
		return fmt.Sprintf("#%d %s %s %dx%d@%.3g", s.Index, s.Type, s.Codec, s.Width, s.Height, s.FrameRate)
	case Audio:
		return fmt.Sprintf("#%d %s %s %dHz %dch", s.Index, s.Type, s.Codec, s.SampleRate, s.Channels)
	default:
		return fmt.Sprintf("#%d %s %s", s.Index, s.Type, s.Codec)
	}
}

// Info is the immutable description of an opened source.
type Info struct {
	Source    string
	Format    string
	Duration  time.Duration
	StartTime time.Duration
	BitRate   int64
	Size      int64
	Seekable  bool
	Live      bool
	Streams   []StreamDescriptor
}

// Stream returns the descriptor with the given index.
func (i *Info) Stream(index int) (StreamDescriptor, bool) {
	for _, s := range i.Streams {
		if s.Index == index {
			return s, true
		}
	}
	return StreamDescriptor{}, false
}

// Packet is one demuxed unit of compressed data. Times are relative to the
// source start time.
type Packet struct {
	StreamIndex int
	Type        Type
	PTS         time.Duration
	DTS         time.Duration
	Duration    time.Duration
	Keyframe    bool
	Data        []byte
	// Pos is the byte offset of the packet in the source, or -1.
	Pos int64
	Seq int64
}

// Block is one decoded unit: a video frame, a run of audio samples or a
// subtitle cue.
type Block struct {
	StreamIndex int
	Type        Type
	Start       time.Duration
	Duration    time.Duration
	Data        []byte
	// Format names the layout of Data, e.g. "annexb" or "adts".
	Format string
	Width  int
	Height int
	// Stride is the byte length of one pixel row, or zero when Data is a
	// coded bitstream.
	Stride     int
	SampleRate int
	Channels   int
	Samples    int
	Text       string
	Keyframe   bool
}

// End returns Start + Duration.
func (b *Block) End() time.Duration { return b.Start + b.Duration }

// Contains reports whether t falls in [Start, End).
func (b *Block) Contains(t time.Duration) bool {
	return t >= b.Start && t < b.End()
}

// PlaybackState is the engine's top-level state.
type PlaybackState int

// Playback states.
const (
	StateClose PlaybackState = iota
	StateOpening
	StateOpen
	StatePlaying
	StatePaused
	StateSeeking
	StateBuffering
	StateChanging
	StateClosing
)

var stateNames = [...]string{
	StateClose:     "close",
	StateOpening:   "opening",
	StateOpen:      "open",
	StatePlaying:   "playing",
	StatePaused:    "paused",
	StateSeeking:   "seeking",
	StateBuffering: "buffering",
	StateChanging:  "changing",
	StateClosing:   "closing",
}

func (s PlaybackState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}
