package codec

import "testing"

func TestBitReader(t *testing.T) {
	t.Parallel()
	// 1 | 010 (ue=1) | 011 (ue=2) | 00100 (ue=3 -> se=+2) | pad
	br := newBitReader([]byte{0b10100110, 0b01000000})
	if got := br.u(1); got != 1 {
		t.Errorf("u(1): got %d, want 1", got)
	}
	if got := br.ue(); got != 1 {
		t.Errorf("ue: got %d, want 1", got)
	}
	if got := br.ue(); got != 2 {
		t.Errorf("ue: got %d, want 2", got)
	}
	if got := br.se(); got != 2 {
		t.Errorf("se: got %d, want 2", got)
	}
	if br.err != nil {
		t.Fatalf("unexpected error: %v", br.err)
	}
	br.u(16)
	if br.err != ErrShortData {
		t.Errorf("err: got %v, want ErrShortData", br.err)
	}
	if got := br.u(4); got != 0 {
		t.Errorf("read after error: got %d, want 0", got)
	}
}

func TestRBSPEscapeRoundTrip(t *testing.T) {
	t.Parallel()
	raw := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x05, 0x00, 0x00, 0x03}
	esc := EscapeRBSP(raw)
	if len(esc) != len(raw)+3 {
		t.Errorf("escaped length: got %d, want %d", len(esc), len(raw)+3)
	}
	if got := unescapeRBSP(esc); string(got) != string(raw) {
		t.Errorf("round trip: got %x, want %x", got, raw)
	}
}
