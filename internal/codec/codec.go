// Package codec parses the elementary-stream structures the engine needs
// without decoding pictures or samples: H.264/H.265 NAL units, sequence
// parameter sets and AAC ADTS framing.
package codec

import "errors"

// Codec names used in stream descriptors and decoder registration.
const (
	H264   = "h264"
	H265   = "h265"
	AAC    = "aac"
	CEA608 = "cea-608"
)

// ErrShortData is returned when a bitstream ends before a required field.
var ErrShortData = errors.New("codec: bitstream too short")

// bitReader reads MSB-first bit fields. The first read past the end sets
// err and every later read returns zero, so parsers check err once.
type bitReader struct {
	data []byte
	pos  int
	bit  int
	err  error
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) flag() bool { return br.u(1) == 1 }

func (br *bitReader) u(n int) uint {
	var v uint
	for range n {
		if br.err != nil {
			return 0
		}
		if br.pos >= len(br.data) {
			br.err = ErrShortData
			return 0
		}
		v = v<<1 | uint(br.data[br.pos]>>(7-br.bit)&1)
		if br.bit++; br.bit == 8 {
			br.bit = 0
			br.pos++
		}
	}
	return v
}

// ue reads an unsigned Exp-Golomb code.
func (br *bitReader) ue() uint {
	zeros := 0
	for br.u(1) == 0 {
		if br.err != nil {
			return 0
		}
		if zeros++; zeros > 31 {
			br.err = ErrShortData
			return 0
		}
	}
	if zeros == 0 {
		return 0
	}
	return 1<<zeros - 1 + br.u(zeros)
}

// se reads a signed Exp-Golomb code.
func (br *bitReader) se() int {
	v := br.ue()
	if v%2 == 0 {
		return -int(v / 2)
	}
	return int((v + 1) / 2)
}

func (br *bitReader) skipScalingList(size int) {
	last, next := 8, 8
	for range size {
		if next != 0 {
			next = (last + br.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// unescapeRBSP strips emulation prevention bytes (00 00 03 -> 00 00).
func unescapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// EscapeRBSP inserts emulation prevention bytes so payload can be carried
// inside a NAL unit.
func EscapeRBSP(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}
