package firmware

import (
	"encoding/binary"

	"github.com/shubhamavl/suspensionpcb-can-go/can"
)

// BootStatus is the device-reported bootloader state machine:
// Idle -> InProgress(percent) -> Success | Failure(code).
type BootStatus byte

const (
	BootIdle BootStatus = iota
	BootInProgress
	BootSuccess
	BootFailure
)

func (b BootStatus) String() string {
	switch b {
	case BootInProgress:
		return "in_progress"
	case BootSuccess:
		return "success"
	case BootFailure:
		return "failure"
	}
	return "idle"
}

// BootStatusInfo is one decoded bootloader status frame. Detail carries the
// verification percentage while in progress, or the error code on failure.
type BootStatusInfo struct {
	Status BootStatus
	Detail uint32
}

// DecodeBootStatus decodes a bootloader status frame: byte0 the status
// enum, bytes 1-4 a little-endian 32-bit detail.
func DecodeBootStatus(f can.Frame) (BootStatusInfo, bool) {
	if f.ID != can.IDBootStatus || f.Length < 5 {
		return BootStatusInfo{}, false
	}
	st := BootStatus(f.Data[0])
	if st > BootFailure {
		return BootStatusInfo{}, false
	}
	return BootStatusInfo{
		Status: st,
		Detail: binary.LittleEndian.Uint32(f.Data[1:5]),
	}, true
}
