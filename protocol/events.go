package protocol

import (
	"time"

	"github.com/shubhamavl/suspensionpcb-can-go/can"
	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

// Direction tags a message event by semantic ID-set membership.
type Direction string

const (
	DirectionRX           Direction = "rx"
	DirectionTX           Direction = "tx"
	DirectionUnclassified Direction = "unclassified"
)

// Classify maps a frame ID onto its direction tag. Frames outside both sets
// are forwarded as unclassified, not rejected.
func Classify(id uint32) Direction {
	switch {
	case can.IsReceiveID(id):
		return DirectionRX
	case can.IsTransmitID(id):
		return DirectionTX
	}
	return DirectionUnclassified
}

// MessageEvent is emitted for every frame crossing the service, in either
// direction.
type MessageEvent struct {
	Frame     can.Frame
	Direction Direction
	Timestamp time.Time
}

// RawDataEvent is one decoded per-side ADC reading.
type RawDataEvent struct {
	Side      models.Side
	RawADC    uint16
	Timestamp time.Time
}

// StatusEvent is the decoded system-status triple.
type StatusEvent struct {
	Status     byte
	ErrorFlags byte
	ADCMode    models.ADCMode
	Timestamp  time.Time
}

// handlers bundles the registered subscriber callbacks. The struct is
// treated as immutable and swapped whole so dispatch never holds the
// service lock while user code runs.
type handlers struct {
	message    func(MessageEvent)
	rawData    func(RawDataEvent)
	status     func(StatusEvent)
	timeout    func()
	bootStatus func(can.Frame)
}
