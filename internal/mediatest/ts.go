// Package mediatest generates synthetic media for tests: MPEG-TS files with
// H.264 video, AAC audio and CEA-608 captions whose timing and keyframe
// layout are known exactly.
package mediatest

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/spf13/afero"
	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/mpegts"
)

// Fixed PIDs of generated streams.
const (
	PMTPID   = 0x1000
	VideoPID = 0x100
	AudioPID = 0x101
)

// Stream describes a synthetic transport stream.
type Stream struct {
	Duration time.Duration
	// FrameRate of the video stream; zero disables video.
	FrameRate     int
	GOP           int
	Width, Height int
	// SampleRate of the AAC stream; zero disables audio.
	SampleRate int
	Channels   int
	Captions   bool
	// CorruptAudioEvery replaces the payload of every Nth audio PES with
	// bytes that carry no ADTS sync word.
	CorruptAudioEvery int
	// StartPTS is the first timestamp in 90 kHz ticks.
	StartPTS int64
}

// Default returns a 10 second 25 fps stream with one keyframe per second and
// 48 kHz stereo audio.
func Default() Stream {
	return Stream{
		Duration:   10 * time.Second,
		FrameRate:  25,
		GOP:        25,
		Width:      320,
		Height:     240,
		SampleRate: 48000,
		Channels:   2,
		StartPTS:   90000,
	}
}

type unit struct {
	pts   int64
	video bool
	data  []byte
	key   bool
}

// VideoFrames returns the number of video frames the stream holds.
func (s Stream) VideoFrames() int {
	if s.FrameRate == 0 {
		return 0
	}
	return int(s.Duration * time.Duration(s.FrameRate) / time.Second)
}

// AudioFrames returns the number of AAC frames the stream holds.
func (s Stream) AudioFrames() int {
	if s.SampleRate == 0 {
		return 0
	}
	return int(s.Duration * time.Duration(s.SampleRate) / time.Second / codec.SamplesPerAACFrame)
}

// Keyframes returns the presentation times of every keyframe relative to
// the stream start.
func (s Stream) Keyframes() []time.Duration {
	var out []time.Duration
	for i := 0; i < s.VideoFrames(); i += max(s.GOP, 1) {
		out = append(out, time.Duration(i)*time.Second/time.Duration(s.FrameRate))
	}
	return out
}

func (s Stream) units() []unit {
	var units []unit
	if n := s.VideoFrames(); n > 0 {
		sps := H264SPS(s.Width, s.Height, s.FrameRate)
		for i := range n {
			key := i%max(s.GOP, 1) == 0
			var sei []byte
			if s.Captions {
				cc := captionScript[i%len(captionScript)]
				sei = CaptionSEI(cc[0], cc[1])
			}
			units = append(units, unit{
				pts:   s.StartPTS + int64(i)*90000/int64(s.FrameRate),
				video: true,
				key:   key,
				data:  H264AccessUnit(sps, key, i, sei),
			})
		}
	}
	for j := range s.AudioFrames() {
		raw := make([]byte, 24)
		binary.BigEndian.PutUint32(raw, uint32(j))
		frame, _ := codec.WrapADTS(s.SampleRate, s.Channels, raw)
		if s.CorruptAudioEvery > 0 && (j+1)%s.CorruptAudioEvery == 0 {
			frame = make([]byte, len(frame))
		}
		units = append(units, unit{
			pts:  s.StartPTS + int64(j)*codec.SamplesPerAACFrame*90000/int64(s.SampleRate),
			data: frame,
		})
	}
	sort.SliceStable(units, func(a, b int) bool { return units[a].pts < units[b].pts })
	return units
}

// TS renders the stream as MPEG-TS bytes. PAT and PMT precede every video
// keyframe (and the first audio unit of an audio-only stream).
func (s Stream) TS() []byte {
	var out []byte
	var patCC, pmtCC, videoCC, audioCC byte
	tables := func() {
		out = append(out, Packetize(PSI(PAT()), 0, &patCC)...)
		out = append(out, Packetize(PSI(PMT(s)), PMTPID, &pmtCC)...)
	}
	for i, u := range s.units() {
		if u.video {
			if u.key {
				tables()
			}
			out = append(out, Packetize(PES(0xE0, u.pts, -1, u.data), VideoPID, &videoCC)...)
			continue
		}
		if i == 0 {
			tables()
		}
		out = append(out, Packetize(PES(0xC0, u.pts, -1, u.data), AudioPID, &audioCC)...)
	}
	return out
}

// WriteFile writes the stream's TS rendering to path on fs.
func WriteFile(fs afero.Fs, path string, s Stream) error {
	return afero.WriteFile(fs, path, s.TS(), 0o644)
}

// PAT returns a PAT section announcing program 1 on PMTPID.
func PAT() []byte {
	data := make([]byte, 12+4)
	data[0] = 0x00
	data[1], data[2] = 0xB0, 13
	data[4] = 1
	data[5] = 0xC1
	binary.BigEndian.PutUint16(data[8:], 1)
	binary.BigEndian.PutUint16(data[10:], 0xE000|PMTPID)
	binary.BigEndian.PutUint32(data[12:], mpegts.CRC32(data[:12]))
	return data
}

// PMT returns the PMT section for s.
func PMT(s Stream) []byte {
	var es []byte
	pcr := uint16(AudioPID)
	if s.FrameRate > 0 {
		pcr = VideoPID
		es = append(es, mpegts.StreamTypeH264, 0xE0|VideoPID>>8, VideoPID&0xFF, 0xF0, 0x00)
	}
	if s.SampleRate > 0 {
		es = append(es, mpegts.StreamTypeAAC, 0xE0|AudioPID>>8, AudioPID&0xFF, 0xF0, 0x06,
			0x0A, 0x04, 'e', 'n', 'g', 0x00)
	}
	sectionLength := 9 + len(es) + 4
	data := []byte{
		0x02, 0xB0 | byte(sectionLength>>8), byte(sectionLength),
		0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE0 | byte(pcr>>8), byte(pcr), 0xF0, 0x00,
	}
	data = append(data, es...)
	return binary.BigEndian.AppendUint32(data, mpegts.CRC32(data))
}

// PSI prefixes a section with a zero pointer field.
func PSI(section []byte) []byte {
	return append([]byte{0x00}, section...)
}

func encodeTimestamp(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte(v>>29&0x0E) | 0x01,
		byte(v >> 22),
		byte(v>>14&0xFE) | 0x01,
		byte(v >> 7),
		byte(v<<1&0xFE) | 0x01,
	}
}

// PES builds a PES packet. A negative dts omits the DTS; video stream IDs
// use an unbounded length.
func PES(streamID byte, pts, dts int64, data []byte) []byte {
	flags, opt := byte(0x80), encodeTimestamp(0x02, pts)
	if dts >= 0 {
		flags = 0xC0
		opt = append(encodeTimestamp(0x03, pts), encodeTimestamp(0x01, dts)...)
	}
	length := 3 + len(opt) + len(data)
	if streamID >= 0xE0 && streamID <= 0xEF || length > 0xFFFF {
		length = 0
	}
	out := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x84, flags, byte(len(opt))}
	out = append(out, opt...)
	return append(out, data...)
}

// Packetize splits a payload unit into 188-byte TS packets on pid, padding
// the last packet with an adaptation field.
func Packetize(unit []byte, pid uint16, cc *byte) []byte {
	var out []byte
	first := true
	for off := 0; off < len(unit); {
		var pkt [mpegts.PacketSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if first {
			pkt[1] |= 0x40
			first = false
		}
		pkt[3] = 0x10 | *cc&0x0F
		*cc = (*cc + 1) & 0x0F

		remaining := len(unit) - off
		capacity := mpegts.PacketSize - 4
		if remaining >= capacity {
			copy(pkt[4:], unit[off:off+capacity])
			off += capacity
			out = append(out, pkt[:]...)
			continue
		}
		stuff := capacity - remaining
		pkt[3] |= 0x20
		pkt[4] = byte(stuff - 1)
		if stuff > 1 {
			pkt[5] = 0x00
			for i := 6; i < 4+stuff; i++ {
				pkt[i] = 0xFF
			}
		}
		copy(pkt[4+stuff:], unit[off:])
		off = len(unit)
		out = append(out, pkt[:]...)
	}
	return out
}
