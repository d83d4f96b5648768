package can

import "encoding/binary"

// Semantic CAN IDs, protocol v0.7.
const (
	// Receive set
	IDLeftRawADC    uint32 = 0x200
	IDRightRawADC   uint32 = 0x201
	IDSystemStatus  uint32 = 0x300
	IDBootStatus    uint32 = 0x310

	// Transmit set
	IDStartLeft      uint32 = 0x040
	IDStartRight     uint32 = 0x041
	IDStopAll        uint32 = 0x044
	IDSwitchInternal uint32 = 0x030
	IDSwitchADS1115  uint32 = 0x031
	IDRequestStatus  uint32 = 0x032
	IDRequestBoot    uint32 = 0x033
	IDEnterBoot      uint32 = 0x034
	IDFirmwareChunk  uint32 = 0x400
	IDFirmwareHeader uint32 = 0x401
)

// RateCode selects the telemetry stream rate on the device.
type RateCode byte

const (
	Rate100Hz RateCode = 0x01
	Rate500Hz RateCode = 0x02
	Rate1kHz  RateCode = 0x03
	Rate1Hz   RateCode = 0x05
)

// Frame is one CAN frame with up to 8 data bytes.
type Frame struct {
	ID     uint32
	Data   [8]byte
	Length int
}

// NewFrame builds a frame from a payload slice, truncating past 8 bytes.
func NewFrame(id uint32, payload []byte) Frame {
	f := Frame{ID: id}
	f.Length = copy(f.Data[:], payload)
	return f
}

// Payload returns the valid portion of the data field.
func (f Frame) Payload() []byte {
	if f.Length < 0 || f.Length > 8 {
		return nil
	}
	return f.Data[:f.Length]
}

// IsReceiveID reports membership in the semantic receive set.
func IsReceiveID(id uint32) bool {
	switch id {
	case IDLeftRawADC, IDRightRawADC, IDSystemStatus, IDBootStatus:
		return true
	}
	return false
}

// IsTransmitID reports membership in the semantic transmit set.
func IsTransmitID(id uint32) bool {
	switch id {
	case IDStartLeft, IDStartRight, IDStopAll,
		IDSwitchInternal, IDSwitchADS1115, IDRequestStatus,
		IDRequestBoot, IDEnterBoot, IDFirmwareChunk, IDFirmwareHeader:
		return true
	}
	return false
}

// DecodeRawADC extracts the 2-byte little-endian unsigned ADC value of a
// left/right telemetry frame.
func DecodeRawADC(f Frame) (uint16, bool) {
	if f.Length < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(f.Data[:2]), true
}

// EncodeRawADC builds a telemetry frame (used by the simulator).
func EncodeRawADC(id uint32, raw uint16) Frame {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], raw)
	return NewFrame(id, b[:])
}

// SystemStatus is the decoded payload of a 0x300 frame: byte0 device status
// (0..3), byte1 error flags, byte2 active ADC mode.
type SystemStatus struct {
	Status     byte
	ErrorFlags byte
	ADCMode    byte
}

// DecodeSystemStatus extracts the status triple of a 0x300 frame.
func DecodeSystemStatus(f Frame) (SystemStatus, bool) {
	if f.Length < 3 {
		return SystemStatus{}, false
	}
	return SystemStatus{
		Status:     f.Data[0],
		ErrorFlags: f.Data[1],
		ADCMode:    f.Data[2],
	}, true
}

// EncodeSystemStatus builds a status frame (used by the simulator).
func EncodeSystemStatus(st SystemStatus) Frame {
	return NewFrame(IDSystemStatus, []byte{st.Status, st.ErrorFlags, st.ADCMode})
}
