package engine

import (
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/zsiec/marquee/internal/config"
	"github.com/zsiec/marquee/internal/decoder"
	"github.com/zsiec/marquee/internal/events"
	"github.com/zsiec/marquee/internal/seekindex"
)

type options struct {
	cfg        config.Engine
	decoder    config.Decoder
	log        *slog.Logger
	registry   *decoder.Registry
	dispatcher *events.Dispatcher
	now        func() time.Time
	store      *seekindex.Store
	fs         afero.Fs
}

// Option configures an Engine.
type Option func(*options)

// WithConfig sets the engine tunables. Without it the library
// configuration is used.
func WithConfig(cfg config.Engine) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithDecoderConfig sets the caption cue duration used by subtitle
// decoders.
func WithDecoderConfig(cfg config.Decoder) Option {
	return func(o *options) { o.decoder = cfg }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRegistry sets the decoder registry; the default registers the
// built-in decoders.
func WithRegistry(r *decoder.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithDispatcher makes the engine emit on d instead of its own dispatcher.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIndexStore loads seek indexes from store when a source opens and
// saves complete ones when it closes. fs resolves local paths for the
// source identity; nil uses the OS filesystem.
func WithIndexStore(store *seekindex.Store, fs afero.Fs) Option {
	return func(o *options) {
		o.store = store
		o.fs = fs
	}
}

func defaultOptions() options {
	lib := config.Library()
	return options{
		cfg:     lib.Engine,
		decoder: lib.Decoder,
		now:     time.Now,
	}
}

// Stats are cumulative counters for the current session.
type Stats struct {
	PacketsRead    int64
	BlocksDecoded  int64
	BlocksRendered int64
	BlocksDropped  int64
	DecodeErrors   int64
	ReadRetries    int64
	Seeks          int64
}
