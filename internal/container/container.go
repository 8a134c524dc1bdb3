// Package container opens media sources and demultiplexes them into
// packets. MPEG-TS is read by the internal/mpegts demuxer over files, HTTP,
// HTTP/3 and SRT; MP4 and RTMP go through joy4.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/mpegts"
	"github.com/zsiec/marquee/internal/seekindex"
)

type backend interface {
	format() string
	streamList() []media.StreamDescriptor
	duration() time.Duration
	startTime() time.Duration
	seekable() bool
	seekIndex() *seekindex.Index
	read(ctx context.Context) (*media.Packet, error)
	seek(ctx context.Context, t time.Duration) (time.Duration, error)
	close() error
}

// Container is an open media source. Read and SeekTo must not be called
// concurrently; Streams, Info and Select are safe from any goroutine.
type Container struct {
	log  *slog.Logger
	opts Options
	be   backend
	info media.Info

	mu       sync.Mutex
	selected map[media.Type]int

	dropBefore time.Duration
	closed     bool
}

// Open probes source and selects its streams.
func Open(ctx context.Context, source string, opts Options) (*Container, error) {
	o := opts.withDefaults()
	log := o.Log.With("component", "container", "source", source)

	be, src, err := openBackend(ctx, source, o, log)
	if err != nil {
		return nil, &OpenError{Source: source, Err: err}
	}

	c := &Container{log: log, opts: o, be: be}
	c.info = media.Info{
		Source:    source,
		Format:    be.format(),
		Duration:  be.duration(),
		StartTime: be.startTime(),
		Seekable:  be.seekable(),
		Live:      true,
		Streams:   be.streamList(),
		Size:      -1,
	}
	if src != nil {
		c.info.Size = src.Size()
		c.info.Live = src.Live()
	}
	if c.info.Size > 0 && c.info.Duration > 0 {
		c.info.BitRate = int64(float64(c.info.Size*8) / c.info.Duration.Seconds())
	}

	c.selected = selectStreams(c.info.Streams, o)
	if len(c.selected) == 0 {
		_ = be.close()
		return nil, &OpenError{Source: source, Err: ErrNoStreams}
	}
	log.Info("opened source",
		"format", c.info.Format,
		"duration", c.info.Duration,
		"streams", len(c.info.Streams),
		"selected", len(c.selected),
		"seekable", c.info.Seekable)
	return c, nil
}

func openBackend(ctx context.Context, source string, o Options, log *slog.Logger) (backend, byteSource, error) {
	format := o.Format
	if format == "" {
		format = formatFromName(source)
	}
	if format == FormatRTMP {
		be, err := openRTMP(ctx, source, o.Protocol, log)
		return be, nil, err
	}

	src, err := openSource(ctx, source, o)
	if err != nil {
		return nil, nil, err
	}
	if format == "" {
		if format, err = sniff(src); err != nil {
			_ = src.Close()
			return nil, nil, err
		}
	}

	var be backend
	switch format {
	case FormatMPEGTS:
		be, err = openTS(ctx, src, o.Index, log)
	case FormatMP4:
		if !src.Seekable() {
			err = fmt.Errorf("%w: mp4 needs a seekable source", ErrUnsupportedFormat)
			break
		}
		be, err = openMP4(src, log)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		_ = src.Close()
		return nil, nil, err
	}
	return be, src, nil
}

// formatFromName guesses the format from the URI scheme or extension.
func formatFromName(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && len(u.Scheme) > 1 {
		switch strings.ToLower(u.Scheme) {
		case "rtmp", "rtmps":
			return FormatRTMP
		case "srt":
			return FormatMPEGTS
		}
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".ts", ".m2ts", ".mts", ".tsv":
		return FormatMPEGTS
	case ".mp4", ".m4v", ".mov", ".m4a":
		return FormatMP4
	}
	return ""
}

// sniff identifies the format from the first bytes of a seekable source
// and rewinds it. Unseekable sources are assumed to carry MPEG-TS.
func sniff(src byteSource) (string, error) {
	if !src.Seekable() {
		return FormatMPEGTS, nil
	}
	head := make([]byte, 2*mpegts.PacketSize+1)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("read header: %w", err)
	}
	head = head[:n]
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind after sniff: %w", err)
	}
	switch {
	case len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp")):
		return FormatMP4, nil
	case len(head) > 0 && head[0] == 0x47 &&
		(len(head) <= mpegts.PacketSize || head[mpegts.PacketSize] == 0x47):
		return FormatMPEGTS, nil
	}
	return "", ErrUnsupportedFormat
}

// Probe opens source, returns its description and closes it.
func Probe(ctx context.Context, source string, opts Options) (*media.Info, error) {
	c, err := Open(ctx, source, opts)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	info := c.Info()
	return &info, nil
}

// Info describes the source. Streams lists every usable stream, selected
// or not.
func (c *Container) Info() media.Info { return c.info }

// Streams returns the selected streams in index order.
func (c *Container) Streams() []media.StreamDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []media.StreamDescriptor
	for _, s := range c.info.Streams {
		if idx, ok := c.selected[s.Type]; ok && idx == s.Index {
			out = append(out, s)
		}
	}
	return out
}

// Selected returns the selected stream index for t, or -1.
func (c *Container) Selected(t media.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.selected[t]; ok {
		return idx
	}
	return -1
}

// Select re-runs stream selection with opts and returns the media types
// whose selected stream changed. Protocol and format fields are ignored.
func (c *Container) Select(opts Options) []media.Type {
	next := selectStreams(c.info.Streams, opts)
	c.mu.Lock()
	defer c.mu.Unlock()
	var changed []media.Type
	for _, t := range media.Types {
		was, hadOld := c.selected[t]
		now, hasNew := next[t]
		if hadOld != hasNew || was != now {
			changed = append(changed, t)
		}
	}
	c.selected = next
	c.opts.DisableVideo, c.opts.DisableAudio, c.opts.DisableSubtitles = opts.DisableVideo, opts.DisableAudio, opts.DisableSubtitles
	c.opts.Preferred, c.opts.Select = opts.Preferred, opts.Select
	if len(changed) > 0 {
		c.log.Info("stream selection changed", "types", changed)
	}
	return changed
}

func (c *Container) isSelected(p *media.Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.selected[p.Type]
	return ok && idx == p.StreamIndex
}

// IsSeekable reports whether SeekTo can succeed.
func (c *Container) IsSeekable() bool { return c.info.Seekable }

// Index returns the seek index being built for the reference stream, or
// nil when the format does not use one.
func (c *Container) Index() *seekindex.Index { return c.be.seekIndex() }

// Read returns the next packet of a selected stream. Packets earlier than
// the last seek's landing time are skipped.
func (c *Container) Read(ctx context.Context) (*media.Packet, error) {
	if c.closed {
		return nil, ErrClosed
	}
	for {
		p, err := c.be.read(ctx)
		if err != nil {
			return nil, err
		}
		if !c.isSelected(p) || p.PTS < c.dropBefore {
			continue
		}
		return p, nil
	}
}

// SeekTo moves to the reference keyframe at or before t and returns its
// time.
func (c *Container) SeekTo(ctx context.Context, t time.Duration) (time.Duration, error) {
	if c.closed {
		return 0, &SeekError{Target: t, Err: ErrClosed}
	}
	if !c.info.Seekable {
		return 0, &SeekError{Target: t, Err: ErrNotSeekable}
	}
	t = max(t, 0)
	if c.info.Duration > 0 {
		t = min(t, c.info.Duration)
	}
	achieved, err := c.be.seek(ctx, t)
	if err != nil {
		return 0, &SeekError{Target: t, Err: err}
	}
	c.dropBefore = achieved
	c.log.Debug("seek", "target", t, "achieved", achieved)
	return achieved, nil
}

// Prescan reads the whole source from the start so the seek index is
// complete, then rewinds to the start.
func (c *Container) Prescan(ctx context.Context) (*seekindex.Index, error) {
	idx := c.be.seekIndex()
	if idx == nil || idx.Complete() {
		return idx, nil
	}
	if !c.info.Seekable {
		return nil, ErrNotSeekable
	}
	if _, err := c.be.seek(ctx, 0); err != nil {
		return nil, err
	}
	// Rewinding drops an index with gaps.
	idx = c.be.seekIndex()
	start := time.Now()
	var packets int
	for stalls := 0; ; {
		_, err := c.be.read(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if IsTransient(err) && stalls < maxStallRetries {
			stalls++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("prescan: %w", err)
		}
		packets++
	}
	if _, err := c.be.seek(ctx, 0); err != nil {
		return nil, err
	}
	c.dropBefore = 0
	c.log.Info("prescan complete", "packets", packets, "keyframes", idx.Len(), "elapsed", time.Since(start))
	return idx, nil
}

// Close releases the source. It is safe to call more than once.
func (c *Container) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.be.close()
}
