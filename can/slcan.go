package can

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	goserial "github.com/tarm/serial"

	"github.com/shubhamavl/suspensionpcb-can-go/logging"
)

const (
	slcanReadTimeout = 300 * time.Millisecond
	defaultBaud      = 115200
)

// SLCAN drives a serial-line CAN (LAWICEL style) USB adapter. Frames are
// exchanged as ASCII records terminated by '\r'; a background goroutine owns
// the read side and dispatches decoded frames to the registered handler.
type SLCAN struct {
	mu      sync.Mutex
	port    *goserial.Port
	handler FrameHandler
	done    chan struct{}
	wg      sync.WaitGroup

	logger logging.Logger
}

// NewSLCAN instantiates an SLCAN adapter. A nil logger is replaced by a
// no-op one.
func NewSLCAN(logger logging.Logger) *SLCAN {
	if logger == nil {
		logger = &logging.NullLogger{}
	}
	return &SLCAN{logger: logger}
}

// SetFrameHandler registers the receive callback. Must be called before
// Connect.
func (a *SLCAN) SetFrameHandler(fn FrameHandler) {
	a.mu.Lock()
	a.handler = fn
	a.mu.Unlock()
}

// Connect opens the serial device and puts the adapter on the bus.
func (a *SLCAN) Connect(cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.port != nil {
		return fmt.Errorf("already connected")
	}
	if strings.TrimSpace(cfg.Channel) == "" {
		return fmt.Errorf("missing serial channel")
	}
	baud := cfg.Baud
	if baud <= 0 {
		baud = defaultBaud
	}

	sc := &goserial.Config{
		Name:        cfg.Channel,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: slcanReadTimeout,
	}
	port, err := goserial.OpenPort(sc)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.Channel, err)
	}

	// Close a possibly-open channel, set bitrate, open.
	_, _ = port.Write([]byte("C\r"))
	if _, err := port.Write([]byte("S" + bitrateCode(cfg.Bitrate) + "\r")); err != nil {
		_ = port.Close()
		return fmt.Errorf("set bitrate: %w", err)
	}
	if _, err := port.Write([]byte("O\r")); err != nil {
		_ = port.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	a.port = port
	a.done = make(chan struct{})
	a.wg.Add(1)
	go a.readLoop(port, a.done)
	a.logger.Infof("slcan: connected on %s (baud %d)", cfg.Channel, baud)
	return nil
}

// Disconnect closes the channel and releases the serial device. Idempotent.
func (a *SLCAN) Disconnect() {
	a.mu.Lock()
	port := a.port
	done := a.done
	a.port = nil
	a.done = nil
	a.mu.Unlock()

	if port == nil {
		return
	}
	close(done)
	_, _ = port.Write([]byte("C\r"))
	_ = port.Close()
	a.wg.Wait()
	a.logger.Info("slcan: disconnected")
}

// Send marshals and writes one frame.
func (a *SLCAN) Send(f Frame) error {
	a.mu.Lock()
	port := a.port
	a.mu.Unlock()
	if port == nil {
		return fmt.Errorf("not connected")
	}
	if _, err := port.Write(marshalFrame(f)); err != nil {
		return fmt.Errorf("write frame 0x%03X: %w", f.ID, err)
	}
	return nil
}

// AvailableOptions lists serial device candidates on this host.
func (a *SLCAN) AvailableOptions() []string {
	return serialCandidates()
}

func (a *SLCAN) readLoop(port *goserial.Port, done chan struct{}) {
	defer a.wg.Done()

	buf := make([]byte, 256)
	var acc []byte
	for {
		select {
		case <-done:
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			// tarm/serial returns io.EOF on read timeout; keep polling
			// until Disconnect closes the done channel.
			select {
			case <-done:
				return
			default:
				continue
			}
		}
		acc = append(acc, buf[:n]...)
		for {
			idx := indexByte(acc, '\r')
			if idx < 0 {
				break
			}
			rec := acc[:idx]
			acc = acc[idx+1:]
			f, ok := unmarshalFrame(rec)
			if !ok {
				continue
			}
			a.mu.Lock()
			h := a.handler
			a.mu.Unlock()
			if h != nil {
				h(f)
			}
		}
		// Guard against a runaway record with no terminator.
		if len(acc) > 1024 {
			acc = acc[:0]
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// marshalFrame renders an 11-bit data frame as "tIIILDD...\r".
func marshalFrame(f Frame) []byte {
	out := make([]byte, 0, 6+2*f.Length)
	out = append(out, 't')
	out = append(out, []byte(fmt.Sprintf("%03X%1X", f.ID&0x7FF, f.Length))...)
	out = append(out, []byte(strings.ToUpper(hex.EncodeToString(f.Payload())))...)
	out = append(out, '\r')
	return out
}

// unmarshalFrame parses one SLCAN record; non-frame records ('z', version
// replies, error markers) are skipped.
func unmarshalFrame(rec []byte) (Frame, bool) {
	if len(rec) < 5 || rec[0] != 't' {
		return Frame{}, false
	}
	var id uint32
	if _, err := fmt.Sscanf(string(rec[1:4]), "%03X", &id); err != nil {
		return Frame{}, false
	}
	dlc := int(rec[4] - '0')
	if dlc < 0 || dlc > 8 || len(rec) < 5+2*dlc {
		return Frame{}, false
	}
	data, err := hex.DecodeString(string(rec[5 : 5+2*dlc]))
	if err != nil {
		return Frame{}, false
	}
	return NewFrame(id, data), true
}

func bitrateCode(bitrate int) string {
	switch bitrate {
	case 10000:
		return "0"
	case 20000:
		return "1"
	case 50000:
		return "2"
	case 100000:
		return "3"
	case 125000:
		return "4"
	case 250000:
		return "5"
	case 1000000:
		return "8"
	default:
		// 500k is the device default.
		return "6"
	}
}
