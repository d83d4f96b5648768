package protocol

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shubhamavl/suspensionpcb-can-go/can"
	"github.com/shubhamavl/suspensionpcb-can-go/logging"
	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

const watchdogPoll = 50 * time.Millisecond

// Service owns one transport adapter and maps semantic message IDs onto
// typed requests and events. Frames arrive on the adapter's I/O context;
// decoding and dispatch stay fast, deferring slow work to subscribers.
type Service struct {
	adapter can.Adapter
	logger  logging.Logger

	mu        sync.Mutex
	connected bool
	done      chan struct{}
	wg        sync.WaitGroup

	streams streamSet

	handlers atomic.Pointer[handlers]

	timeout      atomic.Int64 // nanoseconds; 0 disables the watchdog
	lastRx       atomic.Int64 // unix nanos of the last received frame
	timeoutFired atomic.Bool

	framesRx atomic.Uint64
	framesTx atomic.Uint64
}

// NewService wires a service to its adapter. The adapter must not be
// connected yet; the service registers itself as the frame handler.
func NewService(adapter can.Adapter, logger logging.Logger) *Service {
	if logger == nil {
		logger = &logging.NullLogger{}
	}
	s := &Service{adapter: adapter, logger: logger}
	s.handlers.Store(&handlers{})
	s.timeout.Store(int64(2 * time.Second))
	adapter.SetFrameHandler(s.onFrame)
	return s
}

// Connect opens the adapter, resets statistics and begins listening. It
// never panics; failures come back as (false, message).
func (s *Service) Connect(cfg can.Config) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return false, "already connected"
	}
	if err := s.adapter.Connect(cfg); err != nil {
		return false, fmt.Sprintf("adapter connect failed: %v", err)
	}
	s.framesRx.Store(0)
	s.framesTx.Store(0)
	s.timeoutFired.Store(false)
	s.lastRx.Store(time.Now().UnixNano())
	s.streams.stopAll()

	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.watchdog(s.done)
	s.connected = true
	s.logger.Infof("protocol: connected (channel %q)", cfg.Channel)
	return true, ""
}

// Disconnect stops supervision and closes the adapter. Idempotent.
func (s *Service) Disconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	done := s.done
	s.done = nil
	s.mu.Unlock()

	close(done)
	s.wg.Wait()
	s.streams.stopAll()
	s.adapter.Disconnect()
	s.logger.Info("protocol: disconnected")
}

// IsConnected reports whether the adapter is open.
func (s *Service) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// StartLeftStream starts left-side telemetry at the given rate, stopping
// the right stream first; the two sides are mutually exclusive on the
// device.
func (s *Service) StartLeftStream(rate can.RateCode) bool {
	return s.startStream(models.SideLeft, can.IDStartLeft, rate)
}

// StartRightStream starts right-side telemetry at the given rate.
func (s *Service) StartRightStream(rate can.RateCode) bool {
	return s.startStream(models.SideRight, can.IDStartRight, rate)
}

func (s *Service) startStream(side models.Side, id uint32, rate can.RateCode) bool {
	if s.streams.needsStop(side) {
		if !s.send(can.NewFrame(can.IDStopAll, nil)) {
			return false
		}
	}
	if !s.send(can.NewFrame(id, []byte{byte(rate)})) {
		return false
	}
	s.streams.markStarting(side)
	s.timeoutFired.Store(false)
	s.lastRx.Store(time.Now().UnixNano())
	return true
}

// StopAllStreams stops both telemetry streams.
func (s *Service) StopAllStreams() bool {
	if !s.send(can.NewFrame(can.IDStopAll, nil)) {
		return false
	}
	s.streams.stopAll()
	return true
}

// StreamState returns one side's stream state.
func (s *Service) StreamState(side models.Side) StreamState {
	return s.streams.get(side)
}

// SwitchToInternalADC requests the internal 12-bit front-end; confirmation
// arrives later via a system-status event.
func (s *Service) SwitchToInternalADC() bool {
	return s.send(can.NewFrame(can.IDSwitchInternal, nil))
}

// SwitchToADS1115 requests the external 16-bit front-end.
func (s *Service) SwitchToADS1115() bool {
	return s.send(can.NewFrame(can.IDSwitchADS1115, nil))
}

// RequestSystemStatus asks the device for a status frame.
func (s *Service) RequestSystemStatus() bool {
	return s.send(can.NewFrame(can.IDRequestStatus, nil))
}

// RequestBootloaderInfo asks the bootloader for its status.
func (s *Service) RequestBootloaderInfo() bool {
	return s.send(can.NewFrame(can.IDRequestBoot, nil))
}

// RequestEnterBootloader asks the device to reboot into its bootloader.
func (s *Service) RequestEnterBootloader() bool {
	if !s.StopAllStreams() {
		return false
	}
	return s.send(can.NewFrame(can.IDEnterBoot, nil))
}

// SendFrame transmits an arbitrary frame (used by the firmware transfer).
func (s *Service) SendFrame(f can.Frame) error {
	if !s.send(f) {
		return fmt.Errorf("send frame 0x%03X failed", f.ID)
	}
	return nil
}

// SetTimeout configures the silence watchdog and re-arms it.
func (s *Service) SetTimeout(d time.Duration) {
	s.timeout.Store(int64(d))
	s.timeoutFired.Store(false)
	s.lastRx.Store(time.Now().UnixNano())
}

// Stats returns received/transmitted frame counts since Connect.
func (s *Service) Stats() (rx, tx uint64) {
	return s.framesRx.Load(), s.framesTx.Load()
}

// SetMessageHandler subscribes to every frame crossing the service.
func (s *Service) SetMessageHandler(fn func(MessageEvent)) {
	s.updateHandlers(func(h *handlers) { h.message = fn })
}

// SetRawDataHandler subscribes to decoded per-side ADC readings.
func (s *Service) SetRawDataHandler(fn func(RawDataEvent)) {
	s.updateHandlers(func(h *handlers) { h.rawData = fn })
}

// SetStatusHandler subscribes to decoded system-status frames.
func (s *Service) SetStatusHandler(fn func(StatusEvent)) {
	s.updateHandlers(func(h *handlers) { h.status = fn })
}

// SetTimeoutHandler subscribes to data-timeout events. Remediation policy
// (stopping streams, reconnecting) is the subscriber's job.
func (s *Service) SetTimeoutHandler(fn func()) {
	s.updateHandlers(func(h *handlers) { h.timeout = fn })
}

// SetBootStatusHandler subscribes to raw bootloader status frames; decoding
// lives in the firmware package.
func (s *Service) SetBootStatusHandler(fn func(can.Frame)) {
	s.updateHandlers(func(h *handlers) { h.bootStatus = fn })
}

func (s *Service) updateHandlers(mutate func(*handlers)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *s.handlers.Load()
	mutate(&next)
	s.handlers.Store(&next)
}

func (s *Service) send(f can.Frame) bool {
	if err := s.adapter.Send(f); err != nil {
		s.logger.Warnf("protocol: send 0x%03X: %v", f.ID, err)
		return false
	}
	s.framesTx.Add(1)
	h := s.handlers.Load()
	if h.message != nil {
		h.message(MessageEvent{Frame: f, Direction: Classify(f.ID), Timestamp: time.Now()})
	}
	return true
}

// onFrame runs on the adapter's I/O context. It resets the watchdog,
// classifies and decodes, then dispatches to subscribers without holding
// any service lock.
func (s *Service) onFrame(f can.Frame) {
	now := time.Now()
	s.lastRx.Store(now.UnixNano())
	s.timeoutFired.Store(false)
	s.framesRx.Add(1)

	h := s.handlers.Load()
	if h.message != nil {
		h.message(MessageEvent{Frame: f, Direction: Classify(f.ID), Timestamp: now})
	}

	switch f.ID {
	case can.IDLeftRawADC, can.IDRightRawADC:
		raw, ok := can.DecodeRawADC(f)
		if !ok {
			s.logger.Debugf("protocol: short telemetry frame 0x%03X len=%d", f.ID, f.Length)
			return
		}
		side := models.SideLeft
		if f.ID == can.IDRightRawADC {
			side = models.SideRight
		}
		s.streams.confirm(side)
		if h.rawData != nil {
			h.rawData(RawDataEvent{Side: side, RawADC: raw, Timestamp: now})
		}
	case can.IDSystemStatus:
		st, ok := can.DecodeSystemStatus(f)
		if !ok {
			return
		}
		mode := models.ADCInternal
		if st.ADCMode != 0 {
			mode = models.ADCADS1115
		}
		if h.status != nil {
			h.status(StatusEvent{Status: st.Status, ErrorFlags: st.ErrorFlags, ADCMode: mode, Timestamp: now})
		}
	case can.IDBootStatus:
		if h.bootStatus != nil {
			h.bootStatus(f)
		}
	}
}

// watchdog raises exactly one data-timeout event when the bus stays silent
// beyond the configured duration while a stream is active; it re-arms on
// the next frame or on SetTimeout.
func (s *Service) watchdog(done chan struct{}) {
	defer s.wg.Done()
	t := time.NewTicker(watchdogPoll)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			d := time.Duration(s.timeout.Load())
			if d <= 0 || !s.streams.anyActive() || s.timeoutFired.Load() {
				continue
			}
			last := time.Unix(0, s.lastRx.Load())
			if time.Since(last) < d {
				continue
			}
			if !s.timeoutFired.CompareAndSwap(false, true) {
				continue
			}
			s.logger.Warnf("protocol: data timeout after %v of silence", d)
			if h := s.handlers.Load(); h.timeout != nil {
				h.timeout()
			}
		}
	}
}
