package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/mp4"
	"github.com/nareix/joy4/format/mp4/mp4io"
	"github.com/nareix/joy4/format/rtmp"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/seekindex"
)

// avDemuxer is the packet reader shared by the mp4 and rtmp demuxers.
type avDemuxer interface {
	Streams() ([]av.CodecData, error)
	ReadPacket() (av.Packet, error)
}

// paramSets is implemented by H.264 codec data.
type paramSets interface {
	SPS() []byte
	PPS() []byte
}

type avStream struct {
	desc   media.StreamDescriptor
	params [][]byte
}

// avBackend adapts a joy4 demuxer. Video arrives length-prefixed and audio
// as raw AAC; both are rewritten to the Annex B and ADTS forms the decoders
// expect.
type avBackend struct {
	log      *slog.Logger
	name     string
	dmx      avDemuxer
	seekTime func(time.Duration) error
	closer   io.Closer
	live     bool

	streams []media.StreamDescriptor
	byIdx   map[int8]*avStream
	ref     int8
	dur     time.Duration
	first   time.Duration
	started bool
	pending []*media.Packet
	seq     int64
}

func newAVBackend(name string, dmx avDemuxer, log *slog.Logger) (*avBackend, error) {
	b := &avBackend{
		log:   log.With("format", name),
		name:  name,
		dmx:   dmx,
		byIdx: make(map[int8]*avStream),
		ref:   -1,
	}
	codecs, err := dmx.Streams()
	if err != nil {
		return nil, fmt.Errorf("read stream headers: %w", err)
	}
	for i, cd := range codecs {
		desc := media.StreamDescriptor{Index: len(b.streams)}
		st := &avStream{}
		switch cd.Type() {
		case av.H264:
			desc.Type, desc.Codec = media.Video, codec.H264
			if v, ok := cd.(av.VideoCodecData); ok {
				desc.Width, desc.Height = v.Width(), v.Height()
			}
			if ps, ok := cd.(paramSets); ok {
				st.params = [][]byte{ps.SPS(), ps.PPS()}
				if info, err := codec.ParseSPS(ps.SPS()); err == nil {
					desc.FrameRate = info.FrameRate
				}
			}
		case av.AAC:
			desc.Type, desc.Codec = media.Audio, codec.AAC
			if a, ok := cd.(av.AudioCodecData); ok {
				desc.SampleRate, desc.Channels = a.SampleRate(), a.ChannelLayout().Count()
			}
		default:
			b.log.Debug("skipping unsupported stream", "index", i, "codec", cd.Type().String())
			continue
		}
		st.desc = desc
		b.streams = append(b.streams, desc)
		b.byIdx[int8(i)] = st
	}
	if len(b.streams) == 0 {
		return nil, ErrNoStreams
	}
	markDefaults(b.streams)
	ref := referenceStream(b.streams)
	for idx, st := range b.byIdx {
		if st.desc.Index == ref {
			b.ref = idx
		}
	}
	for idx, st := range b.byIdx {
		st.desc = b.streams[st.desc.Index]
		b.byIdx[idx] = st
	}
	return b, nil
}

func openMP4(src byteSource, log *slog.Logger) (*avBackend, error) {
	var dur time.Duration
	if atoms, err := mp4io.ReadFileAtoms(src); err == nil {
		for _, a := range atoms {
			if mv, ok := a.(*mp4io.Movie); ok && mv.Header != nil && mv.Header.TimeScale > 0 {
				dur = time.Duration(int64(mv.Header.Duration)) * time.Second / time.Duration(int64(mv.Header.TimeScale))
			}
		}
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind after atom scan: %w", err)
	}
	dmx := mp4.NewDemuxer(&patientReader{byteSource: src})
	b, err := newAVBackend(FormatMP4, dmx, log)
	if err != nil {
		return nil, err
	}
	b.dur = dur
	b.seekTime = dmx.SeekToTime
	b.closer = src
	if err := b.prime(); err != nil {
		return nil, err
	}
	return b, nil
}

func openRTMP(ctx context.Context, uri string, opts ProtocolOptions, log *slog.Logger) (*avBackend, error) {
	type dialResult struct {
		conn *rtmp.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := rtmp.Dial(uri)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}
	var conn *rtmp.Conn
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("RTMP dial %s: %w", uri, res.err)
		}
		conn = res.conn
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("RTMP dial %s timed out after %s", uri, opts.Timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}

	b, err := newAVBackend(FormatRTMP, conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.closer = conn
	b.live = true
	if err := b.prime(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// patientReader retries reads that stalled, since the mp4 demuxer treats
// any read error as fatal.
type patientReader struct {
	byteSource
}

func (r *patientReader) Read(p []byte) (int, error) {
	for stalls := 0; ; stalls++ {
		n, err := r.byteSource.Read(p)
		if errors.Is(err, ErrStalled) && n == 0 && stalls < maxStallRetries {
			continue
		}
		return n, err
	}
}

// prime reads up to the first packet of a selected stream so the start time
// is known before the first read. The packet is kept for read.
func (b *avBackend) prime() error {
	for !b.started {
		pkt, err := b.dmx.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read first packet: %w", err)
		}
		if p := b.convert(pkt); p != nil {
			b.pending = append(b.pending, p)
		}
	}
	return nil
}

func (b *avBackend) convert(pkt av.Packet) *media.Packet {
	st := b.byIdx[pkt.Idx]
	if st == nil {
		return nil
	}
	if !b.started {
		b.first, b.started = pkt.Time, true
	}
	p := &media.Packet{
		StreamIndex: st.desc.Index,
		Type:        st.desc.Type,
		PTS:         pkt.Time + pkt.CompositionTime - b.first,
		DTS:         pkt.Time - b.first,
		Keyframe:    pkt.IsKeyFrame,
		Pos:         -1,
		Seq:         b.seq,
	}
	b.seq++
	switch st.desc.Type {
	case media.Video:
		p.Duration = st.desc.FrameDuration()
		var params [][]byte
		if pkt.IsKeyFrame {
			params = st.params
		}
		data, err := codec.AVCCToAnnexB(pkt.Data, params...)
		if err != nil {
			// Leave the payload as is; the decoder reports it corrupt.
			data = pkt.Data
		}
		p.Data = data
	case media.Audio:
		p.Keyframe = true
		if st.desc.SampleRate > 0 {
			p.Duration = time.Duration(codec.SamplesPerAACFrame) * time.Second / time.Duration(st.desc.SampleRate)
		}
		data, err := codec.WrapADTS(st.desc.SampleRate, st.desc.Channels, pkt.Data)
		if err != nil {
			data = pkt.Data
		}
		p.Data = data
	}
	return p
}

func (b *avBackend) format() string                       { return b.name }
func (b *avBackend) streamList() []media.StreamDescriptor { return b.streams }
func (b *avBackend) duration() time.Duration              { return b.dur }
func (b *avBackend) startTime() time.Duration             { return b.first }
func (b *avBackend) seekable() bool                       { return b.seekTime != nil }
func (b *avBackend) seekIndex() *seekindex.Index          { return nil }
func (b *avBackend) close() error                         { return b.closer.Close() }

func (b *avBackend) read(ctx context.Context) (*media.Packet, error) {
	for {
		if len(b.pending) > 0 {
			p := b.pending[0]
			b.pending = b.pending[1:]
			return p, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pkt, err := b.dmx.ReadPacket()
		switch {
		case errors.Is(err, io.EOF):
			return nil, io.EOF
		case errors.Is(err, ErrStalled):
			return nil, ErrStalled
		case err != nil:
			return nil, &ReadError{Pos: -1, Err: err}
		}
		if p := b.convert(pkt); p != nil {
			return p, nil
		}
	}
}

// seek positions the demuxer at t and reads ahead to the first reference
// keyframe, which becomes the next packet returned.
func (b *avBackend) seek(ctx context.Context, t time.Duration) (time.Duration, error) {
	if b.seekTime == nil {
		return 0, ErrNotSeekable
	}
	// The mp4 demuxer picks the last sync sample strictly before the sample
	// at the requested time; one frame later makes a keyframe at t eligible.
	// Tracks without a sync table land on that later frame, so retry at t.
	var late time.Duration
	if st := b.byIdx[b.ref]; st != nil && st.desc.Type == media.Video {
		late = st.desc.FrameDuration()
	}
	got, err := b.seekKeyframe(ctx, t+late)
	if err == nil && got > t && late > 0 {
		got, err = b.seekKeyframe(ctx, t)
	}
	return got, err
}

func (b *avBackend) seekKeyframe(ctx context.Context, t time.Duration) (time.Duration, error) {
	if err := b.seekTime(t + b.first); err != nil {
		return 0, err
	}
	b.pending = b.pending[:0]
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		pkt, err := b.dmx.ReadPacket()
		if err != nil {
			return 0, err
		}
		p := b.convert(pkt)
		if p == nil || pkt.Idx != b.ref || !p.Keyframe {
			continue
		}
		b.pending = append(b.pending, p)
		return p.PTS, nil
	}
}
