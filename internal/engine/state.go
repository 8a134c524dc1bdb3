package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/zsiec/marquee/internal/media"
)

var (
	// ErrInvalidState is wrapped by every InvalidStateError.
	ErrInvalidState = errors.New("engine: command not valid in the current state")
	// ErrShutdown is returned by commands issued after Shutdown.
	ErrShutdown = errors.New("engine: shut down")
)

// InvalidStateError reports a command rejected by the state machine. The
// state is left unchanged.
type InvalidStateError struct {
	Command string
	State   media.PlaybackState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("engine: %s is not valid while %s", e.Command, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// State is an immutable snapshot of the engine. A new snapshot replaces the
// old one on every change, so a reader always sees a consistent set of
// fields.
type State struct {
	Playback    media.PlaybackState
	Position    time.Duration
	IsBuffering bool
	IsSeeking   bool
	HasEnded    bool

	// Selected maps a media type to the index of its playing stream.
	Selected map[media.Type]int

	Volume     float64
	Balance    float64
	Muted      bool
	SpeedRatio float64

	NaturalDuration time.Duration
	PlaybackStart   time.Duration
	PlaybackEnd     time.Duration
	Seekable        bool
	HasAudio        bool
	HasVideo        bool
	HasSubtitles    bool

	// BufferingProgress is the master buffer fill relative to the high
	// water mark while buffering, 0..1.
	BufferingProgress float64
	// DownloadProgress is the fraction of the source read so far, or 0
	// when the size is unknown.
	DownloadProgress float64

	Source  string
	Session string
	Info    *media.Info
}

func initialState() *State {
	return &State{
		Playback:   media.StateClose,
		Volume:     1,
		SpeedRatio: 1,
	}
}

// clone copies s so the copy can be changed without touching s.
func (s *State) clone() *State {
	c := *s
	c.Selected = maps.Clone(s.Selected)
	return &c
}

// closed returns the state after a session ends: media fields are reset,
// user preferences are kept.
func (s *State) closed() *State {
	c := initialState()
	c.Volume, c.Balance, c.Muted, c.SpeedRatio = s.Volume, s.Balance, s.Muted, s.SpeedRatio
	return c
}

// Is reports whether the playback state is one of states.
func (s *State) Is(states ...media.PlaybackState) bool {
	return slices.Contains(states, s.Playback)
}
