package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zsiec/ccx"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/mpegts"
	"github.com/zsiec/marquee/internal/seekindex"
)

const (
	tsProbeBytes      = 8 << 20
	tsTailProbeBytes  = 1 << 20
	tsProbeVideoUnits = 8
	maxStallRetries   = 20
	pts33             = int64(1) << 33
)

type tsStream struct {
	desc  media.StreamDescriptor
	pid   uint16
	codec string
}

// tsBackend demuxes MPEG-TS. Packet offsets are byte positions in the
// source, which makes the stream indexable and seekable by byte.
type tsBackend struct {
	log          *slog.Logger
	src          byteSource
	dmx          *mpegts.Demuxer
	streams      []media.StreamDescriptor
	byPID        map[uint16]*tsStream
	refPID       uint16
	captionIndex int
	firstPTS     int64
	dur          time.Duration
	pending      []*media.Packet
	seq          int64
	index        *seekindex.Index
	// contiguous is true while every packet since offset 0 has been read.
	contiguous bool
	// gapped is set once a keyframe was indexed after a jump, so keyframes
	// before it may be missing.
	gapped bool
}

type tsProbe struct {
	pmt        *mpegts.PMTData
	units      []*mpegts.DemuxerData
	sps        map[uint16]codec.SPSInfo
	adts       map[uint16]codec.AACFrame
	videoUnits map[uint16]int
	videoPTS   map[uint16][]int64
	captions   bool
}

func newTSProbe() *tsProbe {
	return &tsProbe{
		sps:        make(map[uint16]codec.SPSInfo),
		adts:       make(map[uint16]codec.AACFrame),
		videoUnits: make(map[uint16]int),
		videoPTS:   make(map[uint16][]int64),
	}
}

func tsCodec(streamType uint8) (string, media.Type) {
	switch streamType {
	case mpegts.StreamTypeH264:
		return codec.H264, media.Video
	case mpegts.StreamTypeH265:
		return codec.H265, media.Video
	case mpegts.StreamTypeAAC:
		return codec.AAC, media.Audio
	}
	return "", media.None
}

func (p *tsProbe) observe(d *mpegts.DemuxerData) {
	if d.PMT != nil && p.pmt == nil {
		p.pmt = d.PMT
		return
	}
	if d.PES == nil {
		return
	}
	p.units = append(p.units, d)
	if p.pmt == nil {
		return
	}
	for _, es := range p.pmt.ElementaryStreams {
		if es.ElementaryPID != d.PID() {
			continue
		}
		name, typ := tsCodec(es.StreamType)
		switch typ {
		case media.Video:
			p.videoUnits[es.ElementaryPID]++
			if pts, ok := d.PES.PTS(); ok {
				p.videoPTS[es.ElementaryPID] = append(p.videoPTS[es.ElementaryPID], pts)
			}
			au, err := codec.InspectAccessUnit(name, d.PES.Data)
			if err != nil {
				return
			}
			if au.SPS != nil {
				parse := codec.ParseSPS
				if name == codec.H265 {
					parse = codec.ParseHEVCSPS
				}
				if info, err := parse(au.SPS); err == nil {
					p.sps[es.ElementaryPID] = info
				}
			}
			for _, sei := range au.SEI {
				if cd := ccx.ExtractCaptions(sei); cd != nil && (len(cd.CC608Pairs) > 0 || len(cd.DTVCC) > 0) {
					p.captions = true
				}
			}
		case media.Audio:
			if _, ok := p.adts[es.ElementaryPID]; !ok {
				if frames, _ := codec.ParseADTS(d.PES.Data); len(frames) > 0 {
					p.adts[es.ElementaryPID] = frames[0]
				}
			}
		}
	}
}

func (p *tsProbe) complete() bool {
	if p.pmt == nil {
		return false
	}
	for _, es := range p.pmt.ElementaryStreams {
		_, typ := tsCodec(es.StreamType)
		switch typ {
		case media.Video:
			if _, ok := p.sps[es.ElementaryPID]; !ok || p.videoUnits[es.ElementaryPID] < tsProbeVideoUnits {
				return false
			}
		case media.Audio:
			if _, ok := p.adts[es.ElementaryPID]; !ok {
				return false
			}
		}
	}
	return true
}

// frameRateFromPTS estimates a frame rate from the smallest positive gap
// between successive video timestamps.
func frameRateFromPTS(pts []int64) float64 {
	var best int64
	for i := 1; i < len(pts); i++ {
		if d := pts[i] - pts[i-1]; d > 0 && (best == 0 || d < best) {
			best = d
		}
	}
	if best == 0 {
		return 0
	}
	return 90000 / float64(best)
}

func openTS(ctx context.Context, src byteSource, preload *seekindex.Index, log *slog.Logger) (*tsBackend, error) {
	b := &tsBackend{
		log:          log.With("format", FormatMPEGTS),
		src:          src,
		byPID:        make(map[uint16]*tsStream),
		captionIndex: -1,
		firstPTS:     -1,
		contiguous:   true,
	}

	var tail map[uint16]tailUnit
	if src.Seekable() && src.Size() > 0 {
		tail = probeTail(src, src.Size())
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind after tail probe: %w", err)
		}
	}
	b.dmx = mpegts.NewDemuxer(context.Background(), src)

	probe := newTSProbe()
	stalls := 0
	for b.dmx.Offset() < tsProbeBytes && !probe.complete() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := b.dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrStalled) && stalls < maxStallRetries {
			stalls++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
		probe.observe(d)
	}
	if probe.pmt == nil {
		return nil, fmt.Errorf("%w: no PMT in the first %d bytes", ErrUnsupportedFormat, b.dmx.Offset())
	}

	for _, es := range probe.pmt.ElementaryStreams {
		name, typ := tsCodec(es.StreamType)
		if typ == media.None {
			b.log.Debug("skipping unsupported elementary stream", "pid", es.ElementaryPID, "stream_type", es.StreamType)
			continue
		}
		desc := media.StreamDescriptor{
			Index:    len(b.streams),
			Type:     typ,
			Codec:    name,
			Language: es.Language,
		}
		switch typ {
		case media.Video:
			if info, ok := probe.sps[es.ElementaryPID]; ok {
				desc.Width, desc.Height, desc.FrameRate = info.Width, info.Height, info.FrameRate
			}
			if desc.FrameRate <= 0 {
				desc.FrameRate = frameRateFromPTS(probe.videoPTS[es.ElementaryPID])
			}
		case media.Audio:
			if f, ok := probe.adts[es.ElementaryPID]; ok {
				desc.SampleRate, desc.Channels = f.SampleRate, f.Channels
			}
		}
		b.streams = append(b.streams, desc)
		b.byPID[es.ElementaryPID] = &tsStream{desc: desc, pid: es.ElementaryPID, codec: name}
	}
	if len(b.streams) == 0 {
		return nil, ErrNoStreams
	}
	markDefaults(b.streams)

	ref := referenceStream(b.streams)
	for pid, st := range b.byPID {
		if st.desc.Index == ref {
			b.refPID = pid
		}
	}
	if probe.captions && b.byPID[b.refPID] != nil && b.byPID[b.refPID].desc.Type == media.Video {
		b.captionIndex = len(b.streams)
		b.streams = append(b.streams, media.StreamDescriptor{
			Index:   b.captionIndex,
			Type:    media.Subtitle,
			Codec:   codec.CEA608,
			Default: true,
		})
	}

	if preload != nil && preload.StreamIndex() == ref {
		b.index = preload
	} else {
		b.index = seekindex.New(ref)
	}

	for _, d := range probe.units {
		if st := b.byPID[d.PID()]; st != nil {
			if pts, ok := d.PES.PTS(); ok && (b.firstPTS < 0 || pts < b.firstPTS) {
				b.firstPTS = pts
			}
		}
	}
	if b.firstPTS >= 0 {
		for pid, u := range tail {
			if st := b.byPID[pid]; st != nil {
				b.dur = max(b.dur, b.rel(u.pts)+u.duration(st))
			}
		}
	}
	for _, d := range probe.units {
		b.pending = append(b.pending, b.convert(d)...)
	}
	b.log.Debug("probed transport stream", "streams", len(b.streams), "duration", b.dur, "probe_bytes", b.dmx.Offset())
	return b, nil
}

// tailUnit is the last timestamped PES of one PID near the end of the source.
type tailUnit struct {
	pts  int64
	data []byte
}

// duration is how long the unit plays: one frame for video, every ADTS
// frame it carries for AAC.
func (u tailUnit) duration(st *tsStream) time.Duration {
	switch st.desc.Type {
	case media.Video:
		return st.desc.FrameDuration()
	case media.Audio:
		if frames, _ := codec.ParseADTS(u.data); len(frames) > 0 {
			return time.Duration(len(frames)) * frames[0].Duration()
		}
	}
	return 0
}

// probeTail returns the last timestamped PES of each PID in the final part
// of the source.
func probeTail(src byteSource, size int64) map[uint16]tailUnit {
	off := mpegts.AlignOffset(max(0, size-tsTailProbeBytes))
	if _, err := src.Seek(off, io.SeekStart); err != nil {
		return nil
	}
	dmx := mpegts.NewDemuxer(context.Background(), src, mpegts.DemuxerOptStartOffset(off))
	last := make(map[uint16]tailUnit)
	for {
		d, err := dmx.NextData()
		if err != nil {
			return last
		}
		if d.PES == nil {
			continue
		}
		pts, ok := d.PES.PTS()
		if !ok {
			continue
		}
		if prev, seen := last[d.PID()]; !seen || pts > prev.pts {
			last[d.PID()] = tailUnit{pts: pts, data: d.PES.Data}
		}
	}
}

// markDefaults flags the first stream of each type.
func markDefaults(streams []media.StreamDescriptor) {
	seen := map[media.Type]bool{}
	for i := range streams {
		if !seen[streams[i].Type] {
			streams[i].Default = true
			seen[streams[i].Type] = true
		}
	}
}

// referenceStream is the stream whose keyframes anchor seeking: the first
// video stream, else the first audio stream.
func referenceStream(streams []media.StreamDescriptor) int {
	for _, t := range []media.Type{media.Video, media.Audio} {
		for _, s := range streams {
			if s.Type == t {
				return s.Index
			}
		}
	}
	return -1
}

// rel converts a 90 kHz timestamp to a duration from the first timestamp,
// unwrapping the 33-bit counter.
func (b *tsBackend) rel(pts int64) time.Duration {
	v := pts - b.firstPTS
	if v < -pts33/2 {
		v += pts33
	}
	return time.Duration(v * 100000 / 9)
}

// convert turns a PES unit into packets, adding a caption packet when the
// access unit carries caption SEI. Reference keyframes are indexed.
func (b *tsBackend) convert(d *mpegts.DemuxerData) []*media.Packet {
	st := b.byPID[d.PID()]
	if st == nil || d.PES == nil {
		return nil
	}
	pts, ok := d.PES.PTS()
	if !ok {
		return nil
	}
	dts, _ := d.PES.DTS()
	p := &media.Packet{
		StreamIndex: st.desc.Index,
		Type:        st.desc.Type,
		PTS:         b.rel(pts),
		DTS:         b.rel(dts),
		Data:        d.PES.Data,
		Pos:         d.Offset(),
		Seq:         b.seq,
	}
	b.seq++
	out := []*media.Packet{p}

	switch st.desc.Type {
	case media.Video:
		p.Duration = st.desc.FrameDuration()
		au, err := codec.InspectAccessUnit(st.codec, p.Data)
		p.Keyframe = (err == nil && au.Keyframe) || (d.FirstPacket != nil && d.FirstPacket.Header.RandomAccessIndicator)
		if b.captionIndex >= 0 && st.pid == b.refPID && len(au.SEI) > 0 {
			out = append(out, &media.Packet{
				StreamIndex: b.captionIndex,
				Type:        media.Subtitle,
				PTS:         p.PTS,
				DTS:         p.DTS,
				Data:        codec.AnnexB(au.SEI...),
				Keyframe:    true,
				Pos:         p.Pos,
				Seq:         p.Seq,
			})
		}
	case media.Audio:
		p.Keyframe = true
		if frames, _ := codec.ParseADTS(p.Data); len(frames) > 0 {
			p.Duration = time.Duration(len(frames)) * frames[0].Duration()
		}
	}

	if st.pid == b.refPID && p.Keyframe {
		if b.index.Add(seekindex.Entry{PTS: p.PTS, Offset: p.Pos, Seq: p.Seq}) && !b.contiguous {
			b.gapped = true
		}
	}
	return out
}

func (b *tsBackend) format() string                       { return FormatMPEGTS }
func (b *tsBackend) streamList() []media.StreamDescriptor { return b.streams }
func (b *tsBackend) duration() time.Duration              { return b.dur }
func (b *tsBackend) seekable() bool                       { return b.src.Seekable() }
func (b *tsBackend) seekIndex() *seekindex.Index          { return b.index }
func (b *tsBackend) close() error                         { return b.src.Close() }

func (b *tsBackend) startTime() time.Duration {
	if b.firstPTS < 0 {
		return 0
	}
	return time.Duration(b.firstPTS * 100000 / 9)
}

func (b *tsBackend) read(ctx context.Context) (*media.Packet, error) {
	for {
		if len(b.pending) > 0 {
			p := b.pending[0]
			b.pending[0] = nil
			b.pending = b.pending[1:]
			return p, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := b.dmx.NextData()
		switch {
		case errors.Is(err, io.EOF):
			if b.contiguous && !b.gapped && !b.index.Complete() {
				b.index.MarkComplete()
				b.log.Debug("seek index complete", "entries", b.index.Len())
			}
			return nil, io.EOF
		case errors.Is(err, ErrStalled):
			return nil, ErrStalled
		case err != nil:
			return nil, &ReadError{Pos: b.dmx.Offset(), Err: err}
		}
		if d.PES != nil {
			b.pending = append(b.pending, b.convert(d)...)
		}
	}
}

// position moves the source and demuxer to off and drops buffered units.
func (b *tsBackend) position(off int64) error {
	if _, err := b.src.Seek(off, io.SeekStart); err != nil {
		return err
	}
	b.dmx.Reset(off)
	clear(b.pending)
	b.pending = b.pending[:0]
	return nil
}

type keyframePos struct {
	pts time.Duration
	off int64
}

// nextData reads the next unit, riding out a bounded number of stalls.
func (b *tsBackend) nextData(ctx context.Context) (*mpegts.DemuxerData, error) {
	for stalls := 0; ; stalls++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := b.dmx.NextData()
		if errors.Is(err, ErrStalled) && stalls < maxStallRetries {
			continue
		}
		return d, err
	}
}

// scan reads forward from off and returns the last reference keyframe at
// or before t. When none precedes t, first is the first keyframe seen.
func (b *tsBackend) scan(ctx context.Context, off int64, t time.Duration) (last, first keyframePos, found, sawAny bool, err error) {
	if err := b.position(off); err != nil {
		return last, first, false, false, err
	}
	for {
		d, err := b.nextData(ctx)
		if errors.Is(err, io.EOF) {
			return last, first, found, sawAny, nil
		}
		if err != nil {
			return last, first, found, sawAny, err
		}
		if d.PES == nil || d.PID() != b.refPID {
			continue
		}
		pkts := b.convert(d)
		if len(pkts) == 0 {
			continue
		}
		p := pkts[0]
		if p.PTS > t && found {
			return last, first, true, true, nil
		}
		if !p.Keyframe {
			continue
		}
		kf := keyframePos{pts: p.PTS, off: p.Pos}
		if !sawAny {
			first, sawAny = kf, true
		}
		if p.PTS > t {
			return last, first, false, true, nil
		}
		last, found = kf, true
	}
}

func (b *tsBackend) seek(ctx context.Context, t time.Duration) (time.Duration, error) {
	if !b.src.Seekable() {
		return 0, ErrNotSeekable
	}
	if t <= 0 {
		if err := b.position(0); err != nil {
			return 0, err
		}
		if b.gapped {
			b.index = seekindex.New(b.index.StreamIndex())
			b.gapped = false
		}
		b.contiguous = true
		return 0, nil
	}
	b.contiguous = false

	start := int64(0)
	var backoff int64 = mpegts.PacketSize * 1024
	e, indexed := b.index.FindNearest(t)
	if indexed {
		start = e.Offset
	}
	if !b.index.Complete() && b.dur > 0 && b.src.Size() > 0 {
		// The partial index may end long before t; a byte estimate
		// beyond its last entry shortens the scan.
		bytesPerSec := float64(b.src.Size()) / b.dur.Seconds()
		backoff = max(backoff, int64(2*bytesPerSec))
		est := int64(bytesPerSec*t.Seconds()) - int64(bytesPerSec)
		if est > start {
			start = mpegts.AlignOffset(min(est, b.src.Size()))
		}
	}

	for {
		last, first, found, sawAny, err := b.scan(ctx, start, t)
		if err != nil {
			return 0, err
		}
		target := last
		if !found {
			if start > 0 {
				start = mpegts.AlignOffset(max(start-backoff, 0))
				backoff *= 2
				continue
			}
			if !sawAny {
				return 0, errors.New("no keyframe in source")
			}
			target = first
		}
		if err := b.position(target.off); err != nil {
			return 0, err
		}
		b.log.Debug("seek landed", "target", t, "keyframe", target.pts, "offset", target.off)
		return target.pts, nil
	}
}
