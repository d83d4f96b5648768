package models

import "testing"

func TestParseSide(t *testing.T) {
	cases := map[string]Side{"left": SideLeft, "Left": SideLeft, "L": SideLeft,
		"right": SideRight, "Right": SideRight, "R": SideRight}
	for in, want := range cases {
		got, ok := ParseSide(in)
		if !ok || got != want {
			t.Errorf("ParseSide(%q) = %v ok=%v", in, got, ok)
		}
	}
	if _, ok := ParseSide("center"); ok {
		t.Error("ParseSide accepted unknown value")
	}
}

func TestParseADCMode(t *testing.T) {
	if m, ok := ParseADCMode("ads1115"); !ok || m != ADCADS1115 {
		t.Errorf("got %v ok=%v", m, ok)
	}
	if m, ok := ParseADCMode("internal"); !ok || m != ADCInternal {
		t.Errorf("got %v ok=%v", m, ok)
	}
	if _, ok := ParseADCMode("sar"); ok {
		t.Error("ParseADCMode accepted unknown value")
	}
}

func TestInRange(t *testing.T) {
	cases := []struct {
		mode ADCMode
		raw  float64
		want bool
	}{
		{ADCInternal, 0, true},
		{ADCInternal, 8190, true},
		{ADCInternal, 8191, false},
		{ADCInternal, -1, false},
		{ADCADS1115, -32768, true},
		{ADCADS1115, 32767, true},
		{ADCADS1115, 32768, false},
	}
	for _, c := range cases {
		if got := c.mode.InRange(c.raw); got != c.want {
			t.Errorf("%s.InRange(%v) = %v, want %v", c.mode, c.raw, got, c.want)
		}
	}
}
