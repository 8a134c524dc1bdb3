package mpegts

import (
	"encoding/binary"
	"io"
)

type pmtEntry struct {
	streamType uint8
	pid        uint16
	language   string
}

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F)
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

// makeStuffedPacket places payload at the end of the packet behind an
// adaptation field, the way a muxer terminates a short unit.
func makeStuffedPacket(pid uint16, cc uint8, pusi, rai bool, payload []byte) []byte {
	buf := makePacket(pid, cc, pusi, nil)
	stuff := PacketSize - 4 - len(payload)
	buf[3] |= 0x20
	buf[4] = byte(stuff - 1)
	if stuff > 1 {
		if rai {
			buf[5] = 0x40
		}
		for i := 6; i < 4+stuff; i++ {
			buf[i] = 0xFF
		}
	}
	copy(buf[4+stuff:], payload)
	return buf
}

func withPointer(section []byte) []byte {
	return append([]byte{0x00}, section...)
}

func buildPAT(tsID uint16, programs []struct{ num, pid uint16 }) []byte {
	sectionLength := 5 + 4*len(programs) + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPAT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(data[3:], tsID)
	data[5] = 0xC1
	off := 8
	for _, p := range programs {
		binary.BigEndian.PutUint16(data[off:], p.num)
		data[off+2] = 0xE0 | byte(p.pid>>8)&0x1F
		data[off+3] = byte(p.pid)
		off += 4
	}
	binary.BigEndian.PutUint32(data[off:], CRC32(data[:off]))
	return data
}

func buildPMT(programNum, pcrPID uint16, streams []pmtEntry) []byte {
	esLen := 0
	for _, s := range streams {
		esLen += 5
		if s.language != "" {
			esLen += 6
		}
	}
	sectionLength := 9 + esLen + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPMT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(data[3:], programNum)
	data[5] = 0xC1
	data[8] = 0xE0 | byte(pcrPID>>8)&0x1F
	data[9] = byte(pcrPID)
	data[10] = 0xF0
	off := 12
	for _, s := range streams {
		data[off] = s.streamType
		data[off+1] = 0xE0 | byte(s.pid>>8)&0x1F
		data[off+2] = byte(s.pid)
		data[off+3] = 0xF0
		off += 5
		if s.language != "" {
			data[off-1] = 6
			data[off] = descriptorLanguage
			data[off+1] = 4
			copy(data[off+2:], s.language)
			off += 6
		}
	}
	binary.BigEndian.PutUint32(data[off:], CRC32(data[:off]))
	return data
}

func encodePTS(marker byte, value int64) []byte {
	return []byte{
		marker<<4 | byte((value>>29)&0x0E) | 0x01,
		byte(value >> 22),
		byte((value>>14)&0xFE) | 0x01,
		byte(value >> 7),
		byte((value<<1)&0xFE) | 0x01,
	}
}

func buildPES(streamID byte, pts, dts int64, data []byte) []byte {
	var opt []byte
	flags := byte(0)
	switch {
	case pts >= 0 && dts >= 0:
		flags = 3
		opt = append(encodePTS(0x03, pts), encodePTS(0x01, dts)...)
	case pts >= 0:
		flags = 2
		opt = encodePTS(0x02, pts)
	}
	length := 3 + len(opt) + len(data)
	if streamID == 0xE0 {
		length = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(length >> 8), byte(length), 0x80, flags << 6, byte(len(opt))}
	buf = append(buf, opt...)
	return append(buf, data...)
}

// flakyReader hands out at most chunk bytes per Read and fails once after
// failAfter bytes have been consumed.
type flakyReader struct {
	data      []byte
	chunk     int
	failAfter int
	read      int
	failed    bool
	err       error
}

func (r *flakyReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	limit := min(len(p), r.chunk, len(r.data))
	if !r.failed {
		if r.read >= r.failAfter {
			r.failed = true
			return 0, r.err
		}
		limit = min(limit, r.failAfter-r.read)
	}
	copy(p, r.data[:limit])
	r.data = r.data[limit:]
	r.read += limit
	return limit, nil
}
