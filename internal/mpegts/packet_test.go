package mpegts

import "testing"

func TestParsePacket(t *testing.T) {
	t.Parallel()
	buf := makePacket(0x100, 5, true, []byte{0x01, 0x02, 0x03})
	buf[1] |= 0x80

	p, err := parsePacket(buf, 376)
	if err != nil {
		t.Fatal(err)
	}
	if p.Header.PID != 0x100 {
		t.Errorf("PID: got %#x, want %#x", p.Header.PID, 0x100)
	}
	if p.Header.ContinuityCounter != 5 {
		t.Errorf("CC: got %d, want 5", p.Header.ContinuityCounter)
	}
	if !p.Header.PayloadUnitStartIndicator || !p.Header.TransportErrorIndicator {
		t.Errorf("flags: got PUSI=%v TEI=%v, want both set", p.Header.PayloadUnitStartIndicator, p.Header.TransportErrorIndicator)
	}
	if p.Offset != 376 {
		t.Errorf("offset: got %d, want 376", p.Offset)
	}
	if len(p.Payload) != PacketSize-4 || p.Payload[2] != 0x03 {
		t.Errorf("payload: got len %d", len(p.Payload))
	}
}

func TestParsePacket_AdaptationField(t *testing.T) {
	t.Parallel()
	buf := makeStuffedPacket(0x101, 0, true, true, []byte{0xAA, 0xBB})
	p, err := parsePacket(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Header.HasAdaptationField || !p.Header.RandomAccessIndicator {
		t.Errorf("adaptation: got AF=%v RAI=%v", p.Header.HasAdaptationField, p.Header.RandomAccessIndicator)
	}
	if len(p.Payload) != 2 || p.Payload[0] != 0xAA {
		t.Errorf("payload: got %x, want aabb", p.Payload)
	}
}

func TestParsePacket_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		buf  []byte
	}{
		{"short", make([]byte, 100)},
		{"bad sync", make([]byte, PacketSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parsePacket(tt.buf, 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestResyncIndex(t *testing.T) {
	t.Parallel()
	if got := resyncIndex([]byte{0x47, 0x00, 0x12, 0x47}); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	if got := resyncIndex([]byte{0x47, 0x00}); got != -1 {
		t.Errorf("got %d, want -1", got)
	}
}

func TestAlignOffset(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want int64 }{{-5, 0}, {0, 0}, {187, 0}, {188, 188}, {1000, 940}}
	for _, tt := range tests {
		if got := AlignOffset(tt.in); got != tt.want {
			t.Errorf("AlignOffset(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func FuzzParsePacket(f *testing.F) {
	seed := makePacket(0, 0, true, nil)
	f.Add(seed)
	f.Add(makeStuffedPacket(0x100, 3, false, true, []byte{1, 2, 3}))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != PacketSize {
			return
		}
		parsePacket(data, 0) // must not panic
	})
}
