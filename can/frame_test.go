package can

import (
	"bytes"
	"testing"
)

func TestFrameTruncatesPayload(t *testing.T) {
	f := NewFrame(0x200, bytes.Repeat([]byte{0xAA}, 12))
	if f.Length != 8 {
		t.Fatalf("length = %d, want 8", f.Length)
	}
	if len(f.Payload()) != 8 {
		t.Fatalf("payload = %d bytes, want 8", len(f.Payload()))
	}
}

func TestRawADCRoundTrip(t *testing.T) {
	for _, raw := range []uint16{0, 1, 0x1FFE, 0x7FFF, 0xFFFF} {
		f := EncodeRawADC(IDLeftRawADC, raw)
		got, ok := DecodeRawADC(f)
		if !ok || got != raw {
			t.Fatalf("round trip of %d: got %d ok=%v", raw, got, ok)
		}
	}
}

func TestDecodeRawADCShortFrame(t *testing.T) {
	if _, ok := DecodeRawADC(NewFrame(IDLeftRawADC, []byte{0x01})); ok {
		t.Fatal("1-byte frame must not decode")
	}
}

func TestDecodeRawADCIsLittleEndian(t *testing.T) {
	f := NewFrame(IDRightRawADC, []byte{0x34, 0x12})
	got, ok := DecodeRawADC(f)
	if !ok || got != 0x1234 {
		t.Fatalf("got 0x%04X, want 0x1234", got)
	}
}

func TestSystemStatusRoundTrip(t *testing.T) {
	in := SystemStatus{Status: 2, ErrorFlags: 0x81, ADCMode: 1}
	got, ok := DecodeSystemStatus(EncodeSystemStatus(in))
	if !ok || got != in {
		t.Fatalf("got %+v ok=%v, want %+v", got, ok, in)
	}
	if _, ok := DecodeSystemStatus(NewFrame(IDSystemStatus, []byte{1, 2})); ok {
		t.Fatal("2-byte status frame must not decode")
	}
}

func TestIDSetsDisjoint(t *testing.T) {
	for id := uint32(0); id <= 0x7FF; id++ {
		if IsReceiveID(id) && IsTransmitID(id) {
			t.Fatalf("0x%03X is in both ID sets", id)
		}
	}
}
