package can

import (
	"bytes"
	"testing"
)

func TestMarshalFrame(t *testing.T) {
	f := NewFrame(0x040, []byte{0x01})
	if got := marshalFrame(f); !bytes.Equal(got, []byte("t040101\r")) {
		t.Fatalf("marshal = %q", got)
	}

	empty := NewFrame(0x044, nil)
	if got := marshalFrame(empty); !bytes.Equal(got, []byte("t0440\r")) {
		t.Fatalf("marshal empty = %q", got)
	}
}

func TestUnmarshalFrame(t *testing.T) {
	f, ok := unmarshalFrame([]byte("t2002FF1F"))
	if !ok {
		t.Fatal("record should parse")
	}
	if f.ID != 0x200 || f.Length != 2 {
		t.Fatalf("frame = %+v", f)
	}
	raw, ok := DecodeRawADC(f)
	if !ok || raw != 0x1FFF {
		t.Fatalf("raw = 0x%04X, want 0x1FFF", raw)
	}
}

func TestUnmarshalRoundTrip(t *testing.T) {
	in := NewFrame(0x401, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	rec := marshalFrame(in)
	// Strip the trailing '\r' the way the read loop does.
	out, ok := unmarshalFrame(rec[:len(rec)-1])
	if !ok || out != in {
		t.Fatalf("round trip: got %+v ok=%v, want %+v", out, ok, in)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte("z"),             // command ack
		[]byte("V1013"),         // version reply
		[]byte("t20"),           // truncated header
		[]byte("t200"),          // no DLC
		[]byte("t2009"),         // DLC out of range
		[]byte("t2002FF"),       // payload shorter than DLC
		[]byte("t2002GGGG"),     // non-hex payload
		[]byte("tXYZ2FFFF"),     // non-hex ID
		[]byte("T00000200200"),  // extended frames unsupported
	}
	for _, rec := range cases {
		if _, ok := unmarshalFrame(rec); ok {
			t.Errorf("record %q should not parse", rec)
		}
	}
}

func TestBitrateCode(t *testing.T) {
	cases := map[int]string{
		10000:   "0",
		125000:  "4",
		250000:  "5",
		500000:  "6",
		1000000: "8",
		0:       "6", // default
		42:      "6",
	}
	for bitrate, want := range cases {
		if got := bitrateCode(bitrate); got != want {
			t.Errorf("bitrateCode(%d) = %q, want %q", bitrate, got, want)
		}
	}
}
