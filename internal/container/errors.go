package container

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	// ErrOpen is wrapped by every OpenError.
	ErrOpen = errors.New("container: open failed")
	// ErrNoStreams means the source has no stream that can be played.
	ErrNoStreams = errors.New("container: no usable streams")
	// ErrUnsupportedFormat means no backend recognizes the source.
	ErrUnsupportedFormat = errors.New("container: unsupported format")
	// ErrStalled is a transient read failure: a network source produced
	// no data within the stall window. Retrying the read may succeed.
	ErrStalled = errors.New("container: source stalled")
	// ErrSeek is wrapped by every SeekError.
	ErrSeek = errors.New("container: seek failed")
	// ErrNotSeekable is returned when seeking a live or unranged source.
	ErrNotSeekable = errors.New("container: source is not seekable")
	// ErrClosed is returned by operations on a closed container.
	ErrClosed = errors.New("container: closed")
	// ErrEndOfStream is returned by Read once every packet was delivered.
	ErrEndOfStream = io.EOF
)

// OpenError reports why a source could not be opened.
type OpenError struct {
	Source string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Source, e.Err)
}

// Unwrap exposes both ErrOpen and the underlying cause.
func (e *OpenError) Unwrap() []error { return []error{ErrOpen, e.Err} }

// ReadError is an I/O failure while reading packets. It is retryable.
type ReadError struct {
	Pos int64
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read at byte %d: %v", e.Pos, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// SeekError reports a failed seek.
type SeekError struct {
	Target time.Duration
	Err    error
}

func (e *SeekError) Error() string {
	return fmt.Sprintf("seek to %s: %v", e.Target, e.Err)
}

// Unwrap exposes both ErrSeek and the underlying cause.
func (e *SeekError) Unwrap() []error { return []error{ErrSeek, e.Err} }

// IsTransient reports whether a Read error may clear on retry.
func IsTransient(err error) bool {
	var re *ReadError
	return errors.Is(err, ErrStalled) || errors.As(err, &re)
}
