// Package component runs one selected stream of an open source: it queues
// demuxed packets, decodes them, restores display order and stores the
// resulting blocks in a duration-capped buffer.
package component

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/marquee/internal/buffer"
	"github.com/zsiec/marquee/internal/decoder"
	"github.com/zsiec/marquee/internal/media"
)

// ErrTooManyDecodeErrors is returned by DecodeNext once the configured
// number of consecutive packets failed to decode.
var ErrTooManyDecodeErrors = errors.New("component: too many consecutive decode errors")

// Config tunes a component.
type Config struct {
	// QueueSize bounds the packet queue; zero uses media.QueueSize.
	QueueSize      int
	BufferCapacity time.Duration
	// ReorderDepth is the number of blocks held back to restore display
	// order. Zero emits blocks as decoded.
	ReorderDepth         int
	MaxConsecutiveErrors int
	Log                  *slog.Logger
}

// DefaultConfig returns the configuration for a stream of type t.
func DefaultConfig(t media.Type) Config {
	cfg := Config{
		QueueSize:            media.QueueSize(t),
		BufferCapacity:       2 * time.Second,
		MaxConsecutiveErrors: 10,
	}
	switch t {
	case media.Video:
		cfg.ReorderDepth = 4
	case media.Subtitle:
		cfg.BufferCapacity = 30 * time.Second
	}
	return cfg
}

// Stats are cumulative counters for one component.
type Stats struct {
	PacketsQueued  int64
	PacketsDecoded int64
	BlocksDecoded  int64
	DecodeErrors   int64
	Flushes        int64
}

// Component owns the packet queue, decoder, reorder window and block buffer
// of one stream. EnqueuePacket is called by the read loop; DecodeNext by a
// single decode loop; Flush only while neither loop runs.
type Component struct {
	log  *slog.Logger
	desc media.StreamDescriptor
	cfg  Config
	dec  decoder.Decoder
	buf  *buffer.Buffer

	queue chan *media.Packet

	mu       sync.Mutex
	eos      chan struct{}
	eosOnce  *sync.Once
	drained  bool
	window   []*media.Block
	lastDur  time.Duration
	failures int

	packetsQueued  atomic.Int64
	packetsDecoded atomic.Int64
	blocksDecoded  atomic.Int64
	decodeErrors   atomic.Int64
	flushes        atomic.Int64
}

// New creates a component for desc that decodes with dec.
func New(desc media.StreamDescriptor, dec decoder.Decoder, cfg Config) *Component {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = media.QueueSize(desc.Type)
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 10
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Component{
		log:     log.With("component", desc.Type.String(), "stream", desc.Index),
		desc:    desc,
		cfg:     cfg,
		dec:     dec,
		buf:     buffer.New(cfg.BufferCapacity),
		queue:   make(chan *media.Packet, cfg.QueueSize),
		eos:     make(chan struct{}),
		eosOnce: new(sync.Once),
	}
}

// Descriptor returns the stream this component plays.
func (c *Component) Descriptor() media.StreamDescriptor { return c.desc }

// Type returns the component's media type.
func (c *Component) Type() media.Type { return c.desc.Type }

// Buffer returns the component's block buffer.
func (c *Component) Buffer() *buffer.Buffer { return c.buf }

// Queued returns the number of packets waiting to be decoded.
func (c *Component) Queued() int { return len(c.queue) }

// EnqueuePacket appends p to the queue, blocking while it is full.
func (c *Component) EnqueuePacket(ctx context.Context, p *media.Packet) error {
	select {
	case c.queue <- p:
		c.packetsQueued.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EndOfStream records that no more packets will be enqueued until the
// next Flush.
func (c *Component) EndOfStream() {
	c.mu.Lock()
	once, eos := c.eosOnce, c.eos
	c.mu.Unlock()
	once.Do(func() { close(eos) })
}

// DecodeNext decodes the next queued packet, waiting for one if needed.
// It returns the blocks released from the reorder window, which are also
// added to the buffer. After EndOfStream the window is drained and io.EOF
// follows.
func (c *Component) DecodeNext(ctx context.Context) ([]*media.Block, error) {
	c.mu.Lock()
	eos := c.eos
	c.mu.Unlock()

	select {
	case pkt := <-c.queue:
		return c.decode(pkt)
	case <-eos:
		select {
		case pkt := <-c.queue:
			return c.decode(pkt)
		default:
		}
		return c.drain()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Component) decode(pkt *media.Packet) ([]*media.Block, error) {
	blocks, err := c.dec.Decode(pkt)
	c.packetsDecoded.Add(1)
	if err != nil {
		if !errors.Is(err, decoder.ErrCorruptPacket) {
			return nil, fmt.Errorf("decode stream %d: %w", c.desc.Index, err)
		}
		c.decodeErrors.Add(1)
		c.mu.Lock()
		c.failures++
		failures := c.failures
		c.mu.Unlock()
		c.log.Warn("skipping undecodable packet", "pts", pkt.PTS, "consecutive", failures, "error", err)
		if failures >= c.cfg.MaxConsecutiveErrors {
			return nil, fmt.Errorf("stream %d: %w (%d)", c.desc.Index, ErrTooManyDecodeErrors, failures)
		}
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	for _, b := range blocks {
		c.insertLocked(b)
	}
	var out []*media.Block
	for len(c.window) > c.cfg.ReorderDepth {
		out = append(out, c.popLocked())
	}
	c.store(out)
	return out, nil
}

func (c *Component) drain() ([]*media.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drained || len(c.window) == 0 {
		c.drained = true
		return nil, io.EOF
	}
	var out []*media.Block
	for len(c.window) > 0 {
		out = append(out, c.popLocked())
	}
	c.drained = true
	c.store(out)
	return out, nil
}

func (c *Component) insertLocked(b *media.Block) {
	i := sort.Search(len(c.window), func(i int) bool { return c.window[i].Start > b.Start })
	c.window = append(c.window, nil)
	copy(c.window[i+1:], c.window[i:])
	c.window[i] = b
}

// popLocked removes the earliest block, filling a missing duration from
// the following block, the stream frame rate or the previous block.
func (c *Component) popLocked() *media.Block {
	b := c.window[0]
	c.window = c.window[1:]
	if b.Duration <= 0 {
		switch {
		case len(c.window) > 0 && c.window[0].Start > b.Start:
			b.Duration = c.window[0].Start - b.Start
		case c.desc.FrameDuration() > 0:
			b.Duration = c.desc.FrameDuration()
		default:
			b.Duration = c.lastDur
		}
	}
	c.lastDur = b.Duration
	return b
}

func (c *Component) store(blocks []*media.Block) {
	for _, b := range blocks {
		c.buf.Add(b)
	}
	c.blocksDecoded.Add(int64(len(blocks)))
}

// Flush drops queued packets, the reorder window and decoder state without
// emitting anything, and rearms EndOfStream. The block buffer is kept.
func (c *Component) Flush() {
	for {
		select {
		case <-c.queue:
			continue
		default:
		}
		break
	}
	c.dec.Flush()

	c.mu.Lock()
	clear(c.window)
	c.window = c.window[:0]
	c.failures = 0
	c.drained = false
	c.eos = make(chan struct{})
	c.eosOnce = new(sync.Once)
	c.mu.Unlock()

	c.flushes.Add(1)
	c.log.Debug("flushed")
}

// Close releases the decoder.
func (c *Component) Close() error {
	return c.dec.Close()
}

// Stats returns a snapshot of the component's counters.
func (c *Component) Stats() Stats {
	return Stats{
		PacketsQueued:  c.packetsQueued.Load(),
		PacketsDecoded: c.packetsDecoded.Load(),
		BlocksDecoded:  c.blocksDecoded.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
		Flushes:        c.flushes.Load(),
	}
}
