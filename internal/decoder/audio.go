package decoder

import (
	"errors"
	"fmt"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/media"
)

type aacDecoder struct {
	desc media.StreamDescriptor
}

// NewAAC returns a decoder that splits ADTS packets into one block per AAC
// frame.
func NewAAC(desc media.StreamDescriptor, _ Options) (Decoder, error) {
	return &aacDecoder{desc: desc}, nil
}

func (d *aacDecoder) Decode(pkt *media.Packet) ([]*media.Block, error) {
	frames, err := codec.ParseADTS(pkt.Data)
	if len(frames) == 0 {
		if err == nil {
			err = errors.New("no ADTS frames")
		}
		return nil, fmt.Errorf("%w: %w", ErrCorruptPacket, err)
	}

	blocks := make([]*media.Block, 0, len(frames))
	start := pkt.PTS
	for _, f := range frames {
		dur := f.Duration()
		blocks = append(blocks, &media.Block{
			StreamIndex: pkt.StreamIndex,
			Type:        media.Audio,
			Start:       start,
			Duration:    dur,
			Data:        f.Data,
			Format:      "adts",
			SampleRate:  f.SampleRate,
			Channels:    f.Channels,
			Samples:     codec.SamplesPerAACFrame,
		})
		start += dur
	}
	return blocks, nil
}

func (d *aacDecoder) Flush() {}

func (d *aacDecoder) Close() error { return nil }
