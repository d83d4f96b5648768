package can

// Config selects and parameterizes one physical or simulated channel.
type Config struct {
	// Channel is the adapter-specific channel name, e.g. a serial device path
	// for the SLCAN adapter or "sim" for the simulator.
	Channel string
	// Baud is the serial line rate for serial-backed adapters.
	Baud int
	// Bitrate is the CAN bus bitrate in bit/s.
	Bitrate int
}

// FrameHandler receives every frame the adapter reads. It runs on the
// adapter's I/O context and must not block.
type FrameHandler func(f Frame)

// Adapter is the transport contract the protocol service consumes. Exactly
// one handler is active at a time; SetFrameHandler must be called before
// Connect.
type Adapter interface {
	Connect(cfg Config) error
	Disconnect()
	Send(f Frame) error
	SetFrameHandler(fn FrameHandler)

	// AvailableOptions lists channels this adapter can open, for
	// multi-channel adapters. May be empty.
	AvailableOptions() []string
}
