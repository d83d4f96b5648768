package protocol

import (
	"sync"
	"testing"
	"time"

	"github.com/shubhamavl/suspensionpcb-can-go/can"
	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

// fakeAdapter records sent frames and lets tests inject received ones.
type fakeAdapter struct {
	mu        sync.Mutex
	sent      []can.Frame
	handler   can.FrameHandler
	connected bool
	sendErr   error
}

func (a *fakeAdapter) Connect(cfg can.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = true
	return nil
}

func (a *fakeAdapter) Disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
}

func (a *fakeAdapter) Send(f can.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return a.sendErr
	}
	a.sent = append(a.sent, f)
	return nil
}

func (a *fakeAdapter) SetFrameHandler(fn can.FrameHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = fn
}

func (a *fakeAdapter) AvailableOptions() []string { return nil }

func (a *fakeAdapter) inject(f can.Frame) {
	a.mu.Lock()
	h := a.handler
	a.mu.Unlock()
	h(f)
}

func (a *fakeAdapter) sentIDs() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]uint32, len(a.sent))
	for i, f := range a.sent {
		ids[i] = f.ID
	}
	return ids
}

func newTestService(t *testing.T) (*Service, *fakeAdapter) {
	t.Helper()
	a := &fakeAdapter{}
	s := NewService(a, nil)
	if ok, msg := s.Connect(can.Config{Channel: "test"}); !ok {
		t.Fatalf("connect failed: %s", msg)
	}
	t.Cleanup(s.Disconnect)
	return s, a
}

func TestConnectDisconnectIdempotent(t *testing.T) {
	s, a := newTestService(t)
	if ok, _ := s.Connect(can.Config{}); ok {
		t.Fatal("second Connect should be rejected")
	}
	s.Disconnect()
	s.Disconnect()
	if a.connected {
		t.Fatal("adapter should be closed")
	}
	if ok, _ := s.Connect(can.Config{}); !ok {
		t.Fatal("reconnect after Disconnect should succeed")
	}
}

func TestStartStreamSendsRate(t *testing.T) {
	s, a := newTestService(t)
	if !s.StartLeftStream(can.Rate500Hz) {
		t.Fatal("start failed")
	}
	ids := a.sentIDs()
	if len(ids) != 1 || ids[0] != can.IDStartLeft {
		t.Fatalf("sent = %v, want [0x040]", ids)
	}
	if got := a.sent[0].Data[0]; got != byte(can.Rate500Hz) {
		t.Fatalf("rate byte = 0x%02X, want 0x%02X", got, can.Rate500Hz)
	}
	if st := s.StreamState(models.SideLeft); st != StreamStarting {
		t.Fatalf("state = %v, want starting", st)
	}
}

func TestStreamConfirmedByTelemetry(t *testing.T) {
	s, a := newTestService(t)
	s.StartLeftStream(can.Rate100Hz)
	a.inject(can.EncodeRawADC(can.IDLeftRawADC, 1234))
	if st := s.StreamState(models.SideLeft); st != StreamRunning {
		t.Fatalf("state = %v, want running", st)
	}
}

func TestStreamsMutuallyExclusive(t *testing.T) {
	s, a := newTestService(t)
	s.StartLeftStream(can.Rate100Hz)
	a.inject(can.EncodeRawADC(can.IDLeftRawADC, 1))

	if !s.StartRightStream(can.Rate100Hz) {
		t.Fatal("right start failed")
	}
	ids := a.sentIDs()
	// Left start, stop-all, right start.
	want := []uint32{can.IDStartLeft, can.IDStopAll, can.IDStartRight}
	if len(ids) != len(want) {
		t.Fatalf("sent = %#x, want %#x", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("sent[%d] = 0x%03X, want 0x%03X", i, ids[i], want[i])
		}
	}
	if st := s.StreamState(models.SideLeft); st != StreamStopped {
		t.Fatalf("left state = %v, want stopped", st)
	}
	if st := s.StreamState(models.SideRight); st != StreamStarting {
		t.Fatalf("right state = %v, want starting", st)
	}
}

func TestStopAllStreams(t *testing.T) {
	s, a := newTestService(t)
	s.StartRightStream(can.Rate1kHz)
	a.inject(can.EncodeRawADC(can.IDRightRawADC, 9))
	if !s.StopAllStreams() {
		t.Fatal("stop failed")
	}
	if s.StreamState(models.SideLeft) != StreamStopped || s.StreamState(models.SideRight) != StreamStopped {
		t.Fatal("both streams should be stopped")
	}
}

func TestRawDataDispatch(t *testing.T) {
	s, a := newTestService(t)
	var got []RawDataEvent
	var mu sync.Mutex
	s.SetRawDataHandler(func(e RawDataEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	a.inject(can.EncodeRawADC(can.IDLeftRawADC, 4095))
	a.inject(can.EncodeRawADC(can.IDRightRawADC, 100))
	// Short frame is dropped, not dispatched.
	a.inject(can.NewFrame(can.IDLeftRawADC, []byte{0x01}))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].Side != models.SideLeft || got[0].RawADC != 4095 {
		t.Fatalf("event 0 = %+v", got[0])
	}
	if got[1].Side != models.SideRight || got[1].RawADC != 100 {
		t.Fatalf("event 1 = %+v", got[1])
	}
}

func TestStatusDispatch(t *testing.T) {
	s, a := newTestService(t)
	var got StatusEvent
	done := make(chan struct{})
	s.SetStatusHandler(func(e StatusEvent) {
		got = e
		close(done)
	})

	a.inject(can.EncodeSystemStatus(can.SystemStatus{Status: 1, ErrorFlags: 0x04, ADCMode: 1}))
	<-done
	if got.Status != 1 || got.ErrorFlags != 0x04 || got.ADCMode != models.ADCADS1115 {
		t.Fatalf("status = %+v", got)
	}
}

func TestMessageEventsBothDirections(t *testing.T) {
	s, a := newTestService(t)
	var mu sync.Mutex
	var dirs []Direction
	s.SetMessageHandler(func(e MessageEvent) {
		mu.Lock()
		dirs = append(dirs, e.Direction)
		mu.Unlock()
	})

	s.RequestSystemStatus()
	a.inject(can.EncodeRawADC(can.IDLeftRawADC, 1))
	a.inject(can.NewFrame(0x7FF, nil)) // unknown ID still forwarded

	mu.Lock()
	defer mu.Unlock()
	want := []Direction{DirectionTX, DirectionRX, DirectionUnclassified}
	if len(dirs) != len(want) {
		t.Fatalf("dirs = %v, want %v", dirs, want)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Fatalf("dirs[%d] = %v, want %v", i, dirs[i], want[i])
		}
	}
}

func TestEnterBootloaderStopsStreamsFirst(t *testing.T) {
	s, a := newTestService(t)
	s.StartLeftStream(can.Rate100Hz)
	if !s.RequestEnterBootloader() {
		t.Fatal("enter bootloader failed")
	}
	ids := a.sentIDs()
	want := []uint32{can.IDStartLeft, can.IDStopAll, can.IDEnterBoot}
	if len(ids) != len(want) {
		t.Fatalf("sent = %#x, want %#x", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("sent[%d] = 0x%03X, want 0x%03X", i, ids[i], want[i])
		}
	}
}

func TestBootStatusForwardedRaw(t *testing.T) {
	s, a := newTestService(t)
	var got can.Frame
	done := make(chan struct{})
	s.SetBootStatusHandler(func(f can.Frame) {
		got = f
		close(done)
	})
	a.inject(can.NewFrame(can.IDBootStatus, []byte{2, 0, 0, 0, 0}))
	<-done
	if got.ID != can.IDBootStatus || got.Data[0] != 2 {
		t.Fatalf("boot frame = %+v", got)
	}
}

func TestStatsCountFrames(t *testing.T) {
	s, a := newTestService(t)
	s.RequestSystemStatus()
	s.SwitchToADS1115()
	a.inject(can.EncodeRawADC(can.IDLeftRawADC, 1))
	rx, tx := s.Stats()
	if rx != 1 || tx != 2 {
		t.Fatalf("stats rx=%d tx=%d, want 1/2", rx, tx)
	}
}

func TestSendFailureReported(t *testing.T) {
	a := &fakeAdapter{sendErr: errSend}
	s := NewService(a, nil)
	if ok, _ := s.Connect(can.Config{}); !ok {
		t.Fatal("connect failed")
	}
	defer s.Disconnect()
	if s.StartLeftStream(can.Rate100Hz) {
		t.Fatal("start should fail when the adapter rejects the frame")
	}
	if s.StreamState(models.SideLeft) != StreamStopped {
		t.Fatal("failed start must not change stream state")
	}
	if err := s.SendFrame(can.NewFrame(can.IDFirmwareChunk, nil)); err == nil {
		t.Fatal("SendFrame should surface the adapter error")
	}
}

var errSend = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "bus off" }

func TestTimeoutFiresExactlyOnce(t *testing.T) {
	s, a := newTestService(t)
	fired := make(chan struct{}, 8)
	s.SetTimeoutHandler(func() { fired <- struct{}{} })

	s.StartLeftStream(can.Rate100Hz)
	s.SetTimeout(60 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}

	// No repeat while the bus stays silent.
	select {
	case <-fired:
		t.Fatal("timeout fired twice without an intervening frame")
	case <-time.After(250 * time.Millisecond):
	}

	// A frame re-arms the watchdog.
	a.inject(can.EncodeRawADC(can.IDLeftRawADC, 7))
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not re-arm after traffic resumed")
	}
}

func TestNoTimeoutWithoutActiveStream(t *testing.T) {
	s, _ := newTestService(t)
	fired := make(chan struct{}, 1)
	s.SetTimeoutHandler(func() { fired <- struct{}{} })
	s.SetTimeout(30 * time.Millisecond)

	select {
	case <-fired:
		t.Fatal("watchdog must stay quiet while no stream is active")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		id   uint32
		want Direction
	}{
		{can.IDLeftRawADC, DirectionRX},
		{can.IDRightRawADC, DirectionRX},
		{can.IDSystemStatus, DirectionRX},
		{can.IDBootStatus, DirectionRX},
		{can.IDStartLeft, DirectionTX},
		{can.IDStopAll, DirectionTX},
		{can.IDFirmwareChunk, DirectionTX},
		{0x123, DirectionUnclassified},
	}
	for _, c := range cases {
		if got := Classify(c.id); got != c.want {
			t.Errorf("Classify(0x%03X) = %v, want %v", c.id, got, c.want)
		}
	}
}
