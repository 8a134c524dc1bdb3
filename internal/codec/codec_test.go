package codec_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/marquee/internal/codec"
	"github.com/zsiec/marquee/internal/mediatest"
)

func TestParseSPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		w, h, fps int
	}{
		{320, 240, 25},
		{1920, 1088, 30},
		{640, 480, 0},
	}
	for _, tt := range tests {
		info, err := codec.ParseSPS(mediatest.H264SPS(tt.w, tt.h, tt.fps))
		if err != nil {
			t.Fatalf("%dx%d: %v", tt.w, tt.h, err)
		}
		if info.Width != tt.w || info.Height != tt.h {
			t.Errorf("size: got %dx%d, want %dx%d", info.Width, info.Height, tt.w, tt.h)
		}
		if info.FrameRate != float64(tt.fps) {
			t.Errorf("frame rate: got %v, want %d", info.FrameRate, tt.fps)
		}
		if info.ProfileIDC != 66 || info.CodecString() != "avc1.42C01E" {
			t.Errorf("profile: got %d %s", info.ProfileIDC, info.CodecString())
		}
	}
}

func TestParseSPS_Truncated(t *testing.T) {
	t.Parallel()
	sps := mediatest.H264SPS(320, 240, 25)
	if _, err := codec.ParseSPS(sps[:5]); !errors.Is(err, codec.ErrShortData) {
		t.Errorf("got %v, want ErrShortData", err)
	}
}

func TestParseAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{0, 0, 0, 1, 0x67, 0xAA, 0, 0, 1, 0x68, 0xBB, 0, 0, 0, 1, 0x65, 0xCC, 0xDD}
	units := codec.ParseAnnexB(data)
	if len(units) != 3 {
		t.Fatalf("units: got %d, want 3", len(units))
	}
	wantTypes := []byte{codec.NALTypeSPS, codec.NALTypePPS, codec.NALTypeIDR}
	for i, u := range units {
		if u.Type != wantTypes[i] {
			t.Errorf("unit %d type: got %d, want %d", i, u.Type, wantTypes[i])
		}
	}
	if !bytes.Equal(units[2].Data, []byte{0x65, 0xCC, 0xDD}) {
		t.Errorf("last unit: got %x", units[2].Data)
	}
}

func TestInspectAccessUnit(t *testing.T) {
	t.Parallel()
	sps := mediatest.H264SPS(320, 240, 25)
	key, err := codec.InspectAccessUnit(codec.H264, mediatest.H264AccessUnit(sps, true, 0, mediatest.CaptionSEI(0x14, 0x20)))
	if err != nil {
		t.Fatal(err)
	}
	if !key.Keyframe || key.SPS == nil || key.PPS == nil || len(key.SEI) != 1 {
		t.Errorf("keyframe AU: got %+v", key)
	}

	delta, err := codec.InspectAccessUnit(codec.H264, mediatest.H264AccessUnit(sps, false, 1, nil))
	if err != nil {
		t.Fatal(err)
	}
	if delta.Keyframe || delta.SPS != nil {
		t.Errorf("delta AU: got %+v", delta)
	}

	if _, err := codec.InspectAccessUnit(codec.H264, []byte{1, 2, 3, 4}); err == nil {
		t.Error("expected error for data without NAL units")
	}
	if _, err := codec.InspectAccessUnit(codec.AAC, nil); err == nil {
		t.Error("expected error for audio codec")
	}
}

func TestInspectAccessUnit_HEVC(t *testing.T) {
	t.Parallel()
	// VPS, CRA slice.
	data := []byte{0, 0, 0, 1, 0x40, 0x01, 0x0C, 0, 0, 0, 1, 0x2A, 0x01, 0xAF}
	au, err := codec.InspectAccessUnit(codec.H265, data)
	if err != nil {
		t.Fatal(err)
	}
	if !au.Keyframe || au.VPS == nil {
		t.Errorf("got %+v, want keyframe with VPS", au)
	}
}

func TestAVCCToAnnexB(t *testing.T) {
	t.Parallel()
	avcc := []byte{0, 0, 0, 2, 0x65, 0x01, 0, 0, 0, 1, 0x06}
	got, err := codec.AVCCToAnnexB(avcc, []byte{0x67, 0x42})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 1, 0x67, 0x42, 0, 0, 0, 1, 0x65, 0x01, 0, 0, 0, 1, 0x06}
	if !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}
	if _, err := codec.AVCCToAnnexB([]byte{0, 0, 0, 9, 1}); err == nil {
		t.Error("expected error for overlong NAL length")
	}
}

func TestADTSRoundTrip(t *testing.T) {
	t.Parallel()
	var stream []byte
	for i := range 3 {
		frame, err := codec.WrapADTS(44100, 2, bytes.Repeat([]byte{byte(i)}, 10+i))
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, frame...)
	}
	frames, err := codec.ParseADTS(append([]byte{0x00, 0x12}, stream...))
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("frames: got %d, want 3", len(frames))
	}
	for i, f := range frames {
		if f.SampleRate != 44100 || f.Channels != 2 {
			t.Errorf("frame %d: got %d Hz %d ch", i, f.SampleRate, f.Channels)
		}
		if len(f.Data) != 7+10+i {
			t.Errorf("frame %d length: got %d, want %d", i, len(f.Data), 17+i)
		}
	}
	if d := frames[0].Duration(); d != 23219954*time.Nanosecond {
		t.Errorf("duration: got %v", d)
	}
}

func TestParseADTS_InvalidRate(t *testing.T) {
	t.Parallel()
	bad := []byte{0xFF, 0xF1, 0x3C, 0x80, 0x01, 0x1F, 0xFC}
	if _, err := codec.ParseADTS(bad); !errors.Is(err, codec.ErrInvalidADTS) {
		t.Errorf("got %v, want ErrInvalidADTS", err)
	}
	if _, err := codec.WrapADTS(12345, 2, nil); err == nil {
		t.Error("expected unsupported rate error")
	}
}
