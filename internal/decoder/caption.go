package decoder

import (
	"github.com/zsiec/ccx"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/media"
)

// captionDecoder turns caption-bearing SEI NAL units into subtitle cues for
// one CEA-608 channel or CEA-708 service.
type captionDecoder struct {
	opts     Options
	channel  int
	cea608   map[int]*ccx.CEA608Decoder
	cea708   map[int]*ccx.CEA708Service
	dtvccBuf []byte

	packets     int64
	lastCtrl    [2][2]byte
	lastWasCtrl [2]bool
	lastCtrlPkt [2]int64
}

// NewCaption returns the CEA-608/708 caption decoder. Packets carry Annex B
// SEI NAL units.
func NewCaption(_ media.StreamDescriptor, opts Options) (Decoder, error) {
	d := &captionDecoder{opts: opts, channel: opts.CaptionChannel}
	if d.channel < 1 || d.channel > 12 {
		d.channel = 1
	}
	d.reset()
	return d, nil
}

func (d *captionDecoder) reset() {
	d.cea608 = map[int]*ccx.CEA608Decoder{}
	for ch := 1; ch <= 4; ch++ {
		d.cea608[ch] = ccx.NewCEA608Decoder()
	}
	d.cea708 = map[int]*ccx.CEA708Service{}
	for svc := 1; svc <= 6; svc++ {
		d.cea708[svc] = ccx.NewCEA708Service()
	}
	d.dtvccBuf = d.dtvccBuf[:0]
	d.lastWasCtrl = [2]bool{}
}

func (d *captionDecoder) Decode(pkt *media.Packet) ([]*media.Block, error) {
	d.packets++
	var blocks []*media.Block
	emit := func(channel int, text string) {
		if channel != d.channel || text == "" {
			return
		}
		blocks = append(blocks, &media.Block{
			StreamIndex: pkt.StreamIndex,
			Type:        media.Subtitle,
			Start:       pkt.PTS,
			Duration:    d.opts.CueDuration,
			Text:        text,
			Format:      "text",
		})
	}

	for _, nal := range codec.ParseAnnexB(pkt.Data) {
		cd := ccx.ExtractCaptions(nal.Data)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			cc1, cc2 := pair.Data[0], pair.Data[1]
			f := pair.Field
			if f < 0 || f > 1 {
				continue
			}
			// Control codes are transmitted twice; act on the first copy.
			if cc1 >= 0x10 && cc1 <= 0x1F {
				cp := [2]byte{cc1, cc2}
				if d.lastWasCtrl[f] && d.lastCtrl[f] == cp && d.packets-d.lastCtrlPkt[f] <= 2 {
					d.lastWasCtrl[f] = false
					continue
				}
				d.lastCtrl[f] = cp
				d.lastWasCtrl[f] = true
				d.lastCtrlPkt[f] = d.packets
			} else {
				d.lastWasCtrl[f] = false
			}
			if dec := d.cea608[pair.Channel]; dec != nil {
				emit(pair.Channel, dec.Decode(cc1, cc2))
			}
		}
		for _, t := range cd.DTVCC {
			if t.Start {
				d.drainDTVCC(emit)
				d.dtvccBuf = d.dtvccBuf[:0]
			}
			d.dtvccBuf = append(d.dtvccBuf, t.Data[0], t.Data[1])
		}
	}
	return blocks, nil
}

func (d *captionDecoder) drainDTVCC(emit func(int, string)) {
	if len(d.dtvccBuf) < 1 {
		return
	}
	size := ccx.DTVCCPacketSize(d.dtvccBuf[0])
	if len(d.dtvccBuf) < size {
		return
	}
	for _, block := range ccx.ParseDTVCCPacket(d.dtvccBuf[:size]) {
		svc := d.cea708[block.ServiceNum]
		if svc == nil {
			continue
		}
		if svc.ProcessBlock(block.Data) {
			emit(block.ServiceNum+6, svc.DisplayText())
		}
	}
	d.dtvccBuf = d.dtvccBuf[size:]
}

func (d *captionDecoder) Flush() { d.reset() }

func (d *captionDecoder) Close() error { return nil }
