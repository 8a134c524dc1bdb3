package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

var errFlaky = errors.New("flaky")

// syntheticStream returns PAT, PMT and n video/audio PES pairs, one packet
// each, with PTS advancing by 3000 ticks.
func syntheticStream(n int) []byte {
	var buf bytes.Buffer
	buf.Write(makeStuffedPacket(pidPAT, 0, true, false,
		withPointer(buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}}))))
	buf.Write(makeStuffedPacket(0x1000, 0, true, false,
		withPointer(buildPMT(1, 0x100, []pmtEntry{{StreamTypeH264, 0x100, ""}, {StreamTypeAAC, 0x101, ""}}))))
	for i := range n {
		pts := int64(i) * 3000
		cc := uint8(i)
		buf.Write(makeStuffedPacket(0x100, cc, true, i == 0, buildPES(0xE0, pts, -1, []byte{0, 0, 0, 1, 0x65})))
		buf.Write(makeStuffedPacket(0x101, cc, true, false, buildPES(0xC0, pts, -1, []byte{0xFF, 0xF1})))
	}
	return buf.Bytes()
}

type collected struct {
	pat, pmt  int
	videoPTS  []int64
	audioPTS  []int64
	videoOffs []int64
}

func collect(t *testing.T, dmx *Demuxer) collected {
	t.Helper()
	var c collected
	for {
		data, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			return c
		}
		if err != nil {
			t.Fatal(err)
		}
		switch {
		case data.PAT != nil:
			c.pat++
		case data.PMT != nil:
			c.pmt++
		case data.PES != nil:
			pts, _ := data.PES.PTS()
			if data.PID() == 0x100 {
				c.videoPTS = append(c.videoPTS, pts)
				c.videoOffs = append(c.videoOffs, data.Offset())
			} else {
				c.audioPTS = append(c.audioPTS, pts)
			}
		}
	}
}

func TestDemuxer_Synthetic(t *testing.T) {
	t.Parallel()
	dmx := NewDemuxer(context.Background(), bytes.NewReader(syntheticStream(4)))
	c := collect(t, dmx)

	if c.pat != 1 || c.pmt != 1 {
		t.Errorf("tables: got PAT=%d PMT=%d, want 1 each", c.pat, c.pmt)
	}
	if len(c.videoPTS) != 4 || len(c.audioPTS) != 4 {
		t.Fatalf("PES: got video=%d audio=%d, want 4 each", len(c.videoPTS), len(c.audioPTS))
	}
	for i, pts := range c.videoPTS {
		if pts != int64(i)*3000 {
			t.Errorf("video PTS %d: got %d, want %d", i, pts, i*3000)
		}
		// PAT, PMT, then two packets per pair.
		if want := int64(2+2*i) * PacketSize; c.videoOffs[i] != want {
			t.Errorf("video offset %d: got %d, want %d", i, c.videoOffs[i], want)
		}
	}
}

func TestDemuxer_ResyncAfterGarbage(t *testing.T) {
	t.Parallel()
	stream := syntheticStream(3)
	garbage := []byte{0x00, 0x12, 0x34, 0x56, 0x78}
	input := append(append([]byte{}, stream[:2*PacketSize]...), garbage...)
	input = append(input, stream[2*PacketSize:]...)

	dmx := NewDemuxer(context.Background(), bytes.NewReader(input))
	c := collect(t, dmx)
	if len(c.videoPTS) != 3 {
		t.Fatalf("video PES: got %d, want 3", len(c.videoPTS))
	}
	if dmx.Resyncs() == 0 {
		t.Error("expected at least one resync")
	}
	if want := int64(2*PacketSize + len(garbage)); c.videoOffs[0] != want {
		t.Errorf("first video offset: got %d, want %d", c.videoOffs[0], want)
	}
}

func TestDemuxer_TransientErrorResumes(t *testing.T) {
	t.Parallel()
	r := &flakyReader{data: syntheticStream(3), chunk: 100, failAfter: 3*PacketSize + 50, err: errFlaky}
	dmx := NewDemuxer(context.Background(), r)

	var pes int
	var sawErr bool
	for {
		data, err := dmx.NextData()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errFlaky) {
			sawErr = true
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		if data.PES != nil {
			pes++
		}
	}
	if !sawErr {
		t.Error("expected the transient error to surface")
	}
	if pes != 6 {
		t.Errorf("PES after resume: got %d, want 6", pes)
	}
}

func TestDemuxer_ResetAfterSeek(t *testing.T) {
	t.Parallel()
	stream := syntheticStream(6)
	r := bytes.NewReader(stream)
	dmx := NewDemuxer(context.Background(), r)

	// Read until the PMT is known.
	for {
		data, err := dmx.NextData()
		if err != nil {
			t.Fatal(err)
		}
		if data.PMT != nil {
			break
		}
	}

	off := int64(2+2*4) * PacketSize
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	dmx.Reset(off)
	if dmx.Offset() != off {
		t.Errorf("offset: got %d, want %d", dmx.Offset(), off)
	}

	c := collect(t, dmx)
	if len(c.videoPTS) != 2 || c.videoPTS[0] != 4*3000 {
		t.Fatalf("video after reset: got %v, want [12000 15000]", c.videoPTS)
	}
	if c.videoOffs[0] != off {
		t.Errorf("video offset: got %d, want %d", c.videoOffs[0], off)
	}
}

func TestDemuxer_StartOffset(t *testing.T) {
	t.Parallel()
	dmx := NewDemuxer(context.Background(), bytes.NewReader(nil), DemuxerOptStartOffset(940))
	if dmx.Offset() != 940 {
		t.Errorf("offset: got %d, want 940", dmx.Offset())
	}
}

func TestDemuxer_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dmx := NewDemuxer(ctx, bytes.NewReader(syntheticStream(1)))
	if _, err := dmx.NextData(); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestDemuxer_PacketsParser(t *testing.T) {
	t.Parallel()
	var seen int
	parser := func(ps []*Packet) ([]*DemuxerData, bool, error) {
		if ps[0].Header.PID == 0x101 {
			seen++
			return nil, true, nil
		}
		return nil, false, nil
	}
	dmx := NewDemuxer(context.Background(), bytes.NewReader(syntheticStream(2)), DemuxerOptPacketsParser(parser))
	c := collect(t, dmx)
	if seen != 2 || len(c.audioPTS) != 0 {
		t.Errorf("parser: saw %d audio units, demuxer emitted %d", seen, len(c.audioPTS))
	}
	if len(c.videoPTS) != 2 {
		t.Errorf("video: got %d, want 2", len(c.videoPTS))
	}
}
