package models

import "time"

// Side identifies one of the two load-sensing channels of the suspension PCB.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// ParseSide maps a wire/API string to a Side.
func ParseSide(v string) (Side, bool) {
	switch v {
	case "left", "Left", "L":
		return SideLeft, true
	case "right", "Right", "R":
		return SideRight, true
	}
	return SideLeft, false
}

// ADCMode identifies which analog front-end produced a sample. The internal
// ADC is 12-bit unsigned with both channels combined (0..8190); the external
// ADS1115 is 16-bit signed. The canonical ADS1115 range used everywhere is
// -32768..32767.
type ADCMode int

const (
	ADCInternal ADCMode = iota
	ADCADS1115
)

func (m ADCMode) String() string {
	if m == ADCInternal {
		return "internal"
	}
	return "ads1115"
}

// ParseADCMode maps a wire/API string to an ADCMode.
func ParseADCMode(v string) (ADCMode, bool) {
	switch v {
	case "internal", "Internal":
		return ADCInternal, true
	case "ads1115", "ADS1115":
		return ADCADS1115, true
	}
	return ADCInternal, false
}

const (
	InternalADCMin = 0
	InternalADCMax = 8190

	ADS1115Min = -32768
	ADS1115Max = 32767
)

// InRange reports whether raw is a plausible reading for the mode.
func (m ADCMode) InRange(raw float64) bool {
	if m == ADCInternal {
		return raw >= InternalADCMin && raw <= InternalADCMax
	}
	return raw >= ADS1115Min && raw <= ADS1115Max
}

// RawSample is one decoded ADC reading, produced once by the protocol service
// and consumed once by the weight processor.
type RawSample struct {
	Side      Side
	RawADC    float64
	Timestamp time.Time
}
