package codec

import (
	"errors"
	"fmt"
	"time"
)

// SamplesPerAACFrame is the number of PCM samples one AAC-LC frame decodes to.
const SamplesPerAACFrame = 1024

// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("invalid ADTS header")

// AAC sampling frequency index table (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AACFrame is one ADTS frame (header and payload).
type AACFrame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the frame's playback duration.
func (f AACFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return SamplesPerAACFrame * time.Second / time.Duration(f.SampleRate)
}

// ParseADTS splits an ADTS byte stream into frames. Bytes before a sync
// word are skipped; a truncated final frame is dropped.
func ParseADTS(data []byte) ([]AACFrame, error) {
	var frames []AACFrame
	for off := 0; len(data)-off >= 7; {
		if data[off] != 0xFF || data[off+1]&0xF0 != 0xF0 {
			off++
			continue
		}
		headerSize := 7
		if data[off+1]&0x01 == 0 {
			headerSize = 9 // CRC present
		}
		srIdx := int(data[off+2]>>2) & 0x0F
		if srIdx >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		channels := int(data[off+2]&0x01)<<2 | int(data[off+3]>>6)
		frameLen := int(data[off+3]&0x03)<<11 | int(data[off+4])<<3 | int(data[off+5]>>5)
		if frameLen < headerSize || off+frameLen > len(data) {
			break
		}
		frames = append(frames, AACFrame{
			Data:       data[off : off+frameLen],
			SampleRate: aacSampleRates[srIdx],
			Channels:   channels,
		})
		off += frameLen
	}
	return frames, nil
}

// SampleRateIndex returns the ADTS sampling frequency index for rate.
func SampleRateIndex(rate int) (int, error) {
	for i, r := range aacSampleRates {
		if r == rate {
			return i, nil
		}
	}
	return 0, fmt.Errorf("codec: unsupported AAC sample rate %d", rate)
}

// ADTSHeader builds a 7-byte AAC-LC ADTS header (no CRC) for a raw frame
// of payloadLen bytes.
func ADTSHeader(sampleRate, channels, payloadLen int) ([]byte, error) {
	idx, err := SampleRateIndex(sampleRate)
	if err != nil {
		return nil, err
	}
	frameLen := payloadLen + 7
	if frameLen > 0x1FFF {
		return nil, fmt.Errorf("codec: AAC frame of %d bytes exceeds ADTS limit", frameLen)
	}
	const profile = 1 // AAC LC, written as profile-1
	return []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, no CRC
		byte(profile<<6 | idx<<2 | (channels>>2)&0x01),
		byte((channels&0x03)<<6 | frameLen>>11),
		byte(frameLen >> 3),
		byte((frameLen&0x07)<<5 | 0x1F),
		0xFC,
	}, nil
}

// WrapADTS prepends an ADTS header to a raw AAC frame.
func WrapADTS(sampleRate, channels int, raw []byte) ([]byte, error) {
	hdr, err := ADTSHeader(sampleRate, channels, len(raw))
	if err != nil {
		return nil, err
	}
	return append(hdr, raw...), nil
}
