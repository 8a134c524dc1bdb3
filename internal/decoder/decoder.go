// Package decoder turns demuxed packets into presentable blocks. Each codec
// is served by a Factory registered under its codec name; a hardware
// factory, when registered and preferred, is tried before the software one.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/media"
)

var (
	// ErrCorruptPacket marks a packet that could not be decoded. Callers
	// may skip it and continue with the next packet.
	ErrCorruptPacket = errors.New("decoder: corrupt packet")
	// ErrUnsupported is returned when no factory handles a codec.
	ErrUnsupported = errors.New("decoder: unsupported codec")
)

// DefaultCueDuration is how long a caption stays up when the stream does
// not say otherwise.
const DefaultCueDuration = 4 * time.Second

// Decoder decodes the packets of one stream. Implementations are used from
// a single goroutine.
type Decoder interface {
	// Decode consumes one packet and returns zero or more blocks.
	Decode(pkt *media.Packet) ([]*media.Block, error)
	// Flush drops any state carried between packets.
	Flush()
	Close() error
}

// Options tune decoder construction.
type Options struct {
	PreferHardware bool
	// CaptionChannel selects CC1..CC4 (1-4) or a 708 service (7-12).
	CaptionChannel int
	CueDuration    time.Duration
	Log            *slog.Logger
}

// Factory builds a decoder for a stream.
type Factory func(desc media.StreamDescriptor, opts Options) (Decoder, error)

// Registry maps codec names to factories.
type Registry struct {
	mu       sync.RWMutex
	software map[string]Factory
	hardware map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		software: make(map[string]Factory),
		hardware: make(map[string]Factory),
	}
}

// Default returns a registry with the built-in decoders.
func Default() *Registry {
	r := NewRegistry()
	r.Register(codec.H264, NewVideo)
	r.Register(codec.H265, NewVideo)
	r.Register(codec.AAC, NewAAC)
	r.Register(codec.CEA608, NewCaption)
	return r
}

// Register sets the software factory for codecName.
func (r *Registry) Register(codecName string, f Factory) {
	r.mu.Lock()
	r.software[codecName] = f
	r.mu.Unlock()
}

// RegisterHardware sets the hardware factory for codecName.
func (r *Registry) RegisterHardware(codecName string, f Factory) {
	r.mu.Lock()
	r.hardware[codecName] = f
	r.mu.Unlock()
}

// Codecs lists the codec names with a software factory.
func (r *Registry) Codecs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.software))
	for name := range r.software {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether any factory handles codecName.
func (r *Registry) Supports(codecName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, sw := r.software[codecName]
	_, hw := r.hardware[codecName]
	return sw || hw
}

// New builds a decoder for desc. With PreferHardware set the hardware
// factory is tried first; if it fails the software factory is used.
func (r *Registry) New(desc media.StreamDescriptor, opts Options) (Decoder, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.CueDuration <= 0 {
		opts.CueDuration = DefaultCueDuration
	}

	r.mu.RLock()
	hw := r.hardware[desc.Codec]
	sw := r.software[desc.Codec]
	r.mu.RUnlock()

	if opts.PreferHardware && hw != nil {
		dec, err := hw(desc, opts)
		if err == nil {
			opts.Log.Debug("using hardware decoder", "stream", desc.Index, "codec", desc.Codec)
			return dec, nil
		}
		opts.Log.Warn("hardware decoder unavailable, falling back to software",
			"stream", desc.Index, "codec", desc.Codec, "error", err)
	}
	if sw == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, desc.Codec)
	}
	return sw(desc, opts)
}
