package decoder

import (
	"fmt"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/media"
)

// videoDecoder validates Annex B access units and forwards them as blocks
// carrying the coded picture. Pixel reconstruction is left to the sink.
type videoDecoder struct {
	desc     media.StreamDescriptor
	width    int
	height   int
	awaitKey bool
}

// NewVideo returns the pass-through decoder for H.264 and H.265 streams.
func NewVideo(desc media.StreamDescriptor, _ Options) (Decoder, error) {
	if desc.Codec != codec.H264 && desc.Codec != codec.H265 {
		return nil, fmt.Errorf("%w: %q is not video", ErrUnsupported, desc.Codec)
	}
	return &videoDecoder{desc: desc, width: desc.Width, height: desc.Height, awaitKey: true}, nil
}

func (d *videoDecoder) Decode(pkt *media.Packet) ([]*media.Block, error) {
	au, err := codec.InspectAccessUnit(d.desc.Codec, pkt.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPacket, err)
	}
	if au.SPS != nil {
		parse := codec.ParseSPS
		if d.desc.Codec == codec.H265 {
			parse = codec.ParseHEVCSPS
		}
		if info, err := parse(au.SPS); err == nil {
			d.width, d.height = info.Width, info.Height
		}
	}
	keyframe := au.Keyframe || pkt.Keyframe
	if d.awaitKey {
		if !keyframe {
			return nil, nil
		}
		d.awaitKey = false
	}
	return []*media.Block{{
		StreamIndex: pkt.StreamIndex,
		Type:        media.Video,
		Start:       pkt.PTS,
		Duration:    pkt.Duration,
		Data:        pkt.Data,
		Format:      "annexb",
		Width:       d.width,
		Height:      d.height,
		Keyframe:    keyframe,
	}}, nil
}

// Flush makes the decoder wait for the next keyframe, as after a seek.
func (d *videoDecoder) Flush() { d.awaitKey = true }

func (d *videoDecoder) Close() error { return nil }
