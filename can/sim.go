package can

import (
	"encoding/binary"
	"math/rand"
	"sync"
	"time"
)

// Device status values reported in byte0 of a system-status frame.
const (
	SimStatusIdle      byte = 0
	SimStatusStreaming byte = 1
)

// Simulator is a timer-driven in-process device. It honors the transmit set
// (stream start/stop, ADC mode switch, status and bootloader requests,
// firmware transfer) and emits plausible per-side telemetry so the whole
// stack runs without hardware.
type Simulator struct {
	mu      sync.Mutex
	handler FrameHandler
	done    chan struct{}
	wg      sync.WaitGroup

	streaming  bool
	leftActive bool
	rate       RateCode
	adcMode    byte // 0 internal, 1 ads1115

	// baselines per (side, mode); indexed [side][mode]
	base [2][2]float64
	// Noise is the +- amplitude added to every emitted sample.
	noise float64

	// firmware state
	fwExpected int
	fwReceived int

	rnd *rand.Rand
}

// NewSimulator instantiates a simulator with steady default baselines.
func NewSimulator() *Simulator {
	s := &Simulator{
		noise: 2,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.base[0][0], s.base[1][0] = 2100, 2300 // internal
	s.base[0][1], s.base[1][1] = 5200, 5600 // ads1115
	return s
}

// SetBaseline overrides the emitted baseline for one (side, mode) pair,
// side 0=left 1=right, mode 0=internal 1=ads1115.
func (s *Simulator) SetBaseline(side, mode int, v float64) {
	s.mu.Lock()
	s.base[side&1][mode&1] = v
	s.mu.Unlock()
}

// SetNoise overrides the +- noise amplitude.
func (s *Simulator) SetNoise(v float64) {
	s.mu.Lock()
	s.noise = v
	s.mu.Unlock()
}

func (s *Simulator) SetFrameHandler(fn FrameHandler) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

func (s *Simulator) Connect(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.tickLoop(s.done)
	return nil
}

func (s *Simulator) Disconnect() {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.streaming = false
	s.mu.Unlock()
	if done == nil {
		return
	}
	close(done)
	s.wg.Wait()
}

func (s *Simulator) AvailableOptions() []string { return []string{"sim"} }

// Send reacts to transmit-set frames the way the device firmware would.
func (s *Simulator) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch f.ID {
	case IDStartLeft, IDStartRight:
		s.streaming = true
		s.leftActive = f.ID == IDStartLeft
		s.rate = Rate100Hz
		if f.Length >= 1 {
			s.rate = RateCode(f.Data[0])
		}
	case IDStopAll:
		s.streaming = false
	case IDSwitchInternal:
		s.adcMode = 0
		s.emitStatusLocked()
	case IDSwitchADS1115:
		s.adcMode = 1
		s.emitStatusLocked()
	case IDRequestStatus:
		s.emitStatusLocked()
	case IDRequestBoot:
		s.emitBootLocked(0, 0) // Idle
	case IDEnterBoot:
		s.streaming = false
		s.fwExpected = 0
		s.fwReceived = 0
		s.emitBootLocked(0, 0)
	case IDFirmwareHeader:
		if f.Length >= 4 {
			size := int(binary.LittleEndian.Uint32(f.Data[:4]))
			s.fwExpected = (size + 7) / 8
			s.fwReceived = 0
			s.emitBootLocked(1, 0) // InProgress 0%
		}
	case IDFirmwareChunk:
		if s.fwExpected > 0 {
			s.fwReceived++
			pct := uint32(s.fwReceived * 100 / s.fwExpected)
			if s.fwReceived >= s.fwExpected {
				s.emitBootLocked(2, 0) // Success
			} else {
				s.emitBootLocked(1, pct)
			}
		}
	}
	return nil
}

func (s *Simulator) emitStatusLocked() {
	status := SimStatusIdle
	if s.streaming {
		status = SimStatusStreaming
	}
	s.emitLocked(EncodeSystemStatus(SystemStatus{Status: status, ErrorFlags: 0, ADCMode: s.adcMode}))
}

func (s *Simulator) emitBootLocked(status byte, detail uint32) {
	payload := make([]byte, 5)
	payload[0] = status
	binary.LittleEndian.PutUint32(payload[1:5], detail)
	s.emitLocked(NewFrame(IDBootStatus, payload))
}

// emitLocked dispatches asynchronously so the handler never runs under the
// simulator lock.
func (s *Simulator) emitLocked(f Frame) {
	h := s.handler
	if h == nil {
		return
	}
	go h(f)
}

func (s *Simulator) tickLoop(done chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(s.interval())
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			s.mu.Lock()
			if !s.streaming {
				s.mu.Unlock()
				continue
			}
			side := 1
			id := IDRightRawADC
			if s.leftActive {
				side = 0
				id = IDLeftRawADC
			}
			v := s.base[side][s.adcMode&1] + (s.rnd.Float64()*2-1)*s.noise
			if v < 0 {
				v = 0
			}
			h := s.handler
			s.mu.Unlock()
			if h != nil {
				h(EncodeRawADC(id, uint16(v)))
			}
			t.Reset(s.interval())
		}
	}
}

func (s *Simulator) interval() time.Duration {
	s.mu.Lock()
	r := s.rate
	s.mu.Unlock()
	switch r {
	case Rate500Hz:
		return 2 * time.Millisecond
	case Rate1kHz:
		return time.Millisecond
	case Rate1Hz:
		return time.Second
	default:
		return 10 * time.Millisecond
	}
}
