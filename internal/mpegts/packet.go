package mpegts

import (
	"bytes"
	"fmt"
)

const (
	// PacketSize is the length of a transport stream packet.
	PacketSize = 188
	syncByte   = 0x47
)

func parsePacket(buf []byte, offset int64) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{Offset: offset}
	p.Header.TransportErrorIndicator = buf[1]&0x80 != 0
	p.Header.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.Header.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.Header.HasAdaptationField = buf[3]&0x20 != 0
	p.Header.HasPayload = buf[3]&0x10 != 0
	p.Header.ContinuityCounter = buf[3] & 0x0F

	pos := 4
	if p.Header.HasAdaptationField {
		afLen := int(buf[pos])
		if afLen > 0 {
			p.Header.DiscontinuityIndicator = buf[pos+1]&0x80 != 0
			p.Header.RandomAccessIndicator = buf[pos+1]&0x40 != 0
		}
		pos += 1 + afLen
		if pos > PacketSize {
			pos = PacketSize
		}
	}

	if p.Header.HasPayload && pos < PacketSize {
		p.Payload = make([]byte, PacketSize-pos)
		copy(p.Payload, buf[pos:])
	}
	return p, nil
}

// resyncIndex returns the index of the next plausible sync byte after the
// first byte of buf, or -1.
func resyncIndex(buf []byte) int {
	if len(buf) < 2 {
		return -1
	}
	i := bytes.IndexByte(buf[1:], syncByte)
	if i < 0 {
		return -1
	}
	return i + 1
}

// AlignOffset rounds off down to a packet boundary.
func AlignOffset(off int64) int64 {
	if off <= 0 {
		return 0
	}
	return off - off%PacketSize
}
