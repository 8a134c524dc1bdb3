package container

import (
	"crypto/x509"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/seekindex"
)

// Format names accepted by Options.Format.
const (
	FormatMPEGTS = "mpegts"
	FormatMP4    = "mp4"
	FormatRTMP   = "rtmp"
)

// ProtocolOptions configure network transports.
type ProtocolOptions struct {
	Timeout time.Duration
	Headers map[string]string
	// HTTP3 fetches https sources over QUIC.
	HTTP3 bool
	// StallTimeout bounds how long a network read may wait for data
	// before reporting ErrStalled.
	StallTimeout time.Duration
	UserAgent    string
	// RootCAs verifies https servers; nil uses the system roots.
	RootCAs     *x509.CertPool
	SRTLatency  time.Duration
	SRTStreamID string
}

// Selector picks, per media type, the index of the stream to play from the
// available streams of that type. Returning -1 disables the type.
type Selector func(t media.Type, available []media.StreamDescriptor) int

// Options control how a source is opened and which streams are selected.
type Options struct {
	DisableVideo     bool
	DisableAudio     bool
	DisableSubtitles bool
	// Preferred maps a media type to the stream index to select for it.
	Preferred map[media.Type]int
	// Select overrides the default choice when set.
	Select Selector

	Protocol ProtocolOptions
	// PreferHardware and CaptionChannel are handed to the decoders of the
	// selected streams.
	PreferHardware bool
	CaptionChannel int
	// Format forces a backend instead of detecting it.
	Format string
	// Fs resolves local paths; nil uses the OS filesystem.
	Fs afero.Fs
	// Index, when set, is a previously built seek index for the source.
	Index *seekindex.Index
	Log   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.Protocol.Timeout <= 0 {
		o.Protocol.Timeout = 10 * time.Second
	}
	if o.Protocol.StallTimeout <= 0 {
		o.Protocol.StallTimeout = 5 * time.Second
	}
	if o.Protocol.SRTLatency <= 0 {
		o.Protocol.SRTLatency = 120 * time.Millisecond
	}
	return o
}

func (o Options) disabled(t media.Type) bool {
	switch t {
	case media.Video:
		return o.DisableVideo
	case media.Audio:
		return o.DisableAudio
	case media.Subtitle:
		return o.DisableSubtitles
	}
	return true
}

// selectStreams returns the selected stream index per media type.
func selectStreams(all []media.StreamDescriptor, o Options) map[media.Type]int {
	sel := make(map[media.Type]int)
	for _, t := range media.Types {
		if o.disabled(t) {
			continue
		}
		avail := lo.Filter(all, func(s media.StreamDescriptor, _ int) bool { return s.Type == t })
		if len(avail) == 0 {
			continue
		}
		idx := defaultStream(avail)
		if want, ok := o.Preferred[t]; ok {
			if lo.ContainsBy(avail, func(s media.StreamDescriptor) bool { return s.Index == want }) {
				idx = want
			}
		}
		if o.Select != nil {
			idx = o.Select(t, avail)
			if !lo.ContainsBy(avail, func(s media.StreamDescriptor) bool { return s.Index == idx }) {
				continue
			}
		}
		sel[t] = idx
	}
	return sel
}

func defaultStream(avail []media.StreamDescriptor) int {
	if s, ok := lo.Find(avail, func(s media.StreamDescriptor) bool { return s.Default }); ok {
		return s.Index
	}
	return avail[0].Index
}
