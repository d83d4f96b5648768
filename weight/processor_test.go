package weight

import (
	"math"
	"testing"
	"time"

	"github.com/shubhamavl/suspensionpcb-can-go/calib"
	"github.com/shubhamavl/suspensionpcb-can-go/models"
	"github.com/shubhamavl/suspensionpcb-can-go/tare"
)

func testCalibration(t *testing.T, side models.Side, mode models.ADCMode, slope float64) *calib.Calibration {
	t.Helper()
	c, err := calib.FitMultiplePoints(side, mode, calib.FitLinear, []calib.Point{
		{Number: 1, KnownWeightKg: 0, BothModesCaptured: true},
		{Number: 2, KnownWeightKg: 100 * slope, InternalADC: 100, ADS1115ADC: 100, BothModesCaptured: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// waitSnapshot polls until the side's snapshot carries the expected raw value
// or the deadline passes.
func waitSnapshot(t *testing.T, get func() Snapshot, raw float64) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := get(); s.RawADC == raw {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("snapshot with raw %v never appeared", raw)
	return Snapshot{}
}

func TestProcessorZeroBeforeFirstSample(t *testing.T) {
	p := NewProcessor(nil)
	if s := p.LatestLeft(); s != (Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", s)
	}
	if s := p.LatestRight(); s != (Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", s)
	}
}

func TestProcessorPipeline(t *testing.T) {
	p := NewProcessor(nil)
	p.SetCalibration(models.SideLeft, models.ADCInternal, testCalibration(t, models.SideLeft, models.ADCInternal, 2))

	tares := tare.NewManager()
	tares.Tare(models.SideLeft, 10, models.ADCInternal)
	p.SetTareManager(tares)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	p.EnqueueRawData(models.SideLeft, 50)
	s := waitSnapshot(t, p.LatestLeft, 50)
	if s.CalibratedKg != 100 {
		t.Fatalf("calibrated = %v, want 100", s.CalibratedKg)
	}
	if s.TaredKg != 90 {
		t.Fatalf("tared = %v, want 90", s.TaredKg)
	}
	if s.Timestamp.IsZero() {
		t.Fatal("snapshot timestamp not set")
	}

	// Right side is independent and uncalibrated.
	p.EnqueueRawData(models.SideRight, 50)
	r := waitSnapshot(t, p.LatestRight, 50)
	if r.CalibratedKg != 0 || r.TaredKg != 0 {
		t.Fatalf("uncalibrated side should read 0, got %+v", r)
	}
}

func TestProcessorADCModeSelectsCalibration(t *testing.T) {
	p := NewProcessor(nil)
	p.SetCalibration(models.SideLeft, models.ADCInternal, testCalibration(t, models.SideLeft, models.ADCInternal, 1))
	p.SetCalibration(models.SideLeft, models.ADCADS1115, testCalibration(t, models.SideLeft, models.ADCADS1115, 3))

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	p.EnqueueRawData(models.SideLeft, 10)
	if s := waitSnapshot(t, p.LatestLeft, 10); s.CalibratedKg != 10 {
		t.Fatalf("internal mode calibrated = %v, want 10", s.CalibratedKg)
	}

	p.SetADCMode(models.SideLeft, models.ADCADS1115)
	p.EnqueueRawData(models.SideLeft, 20)
	if s := waitSnapshot(t, p.LatestLeft, 20); s.CalibratedKg != 60 {
		t.Fatalf("ads1115 mode calibrated = %v, want 60", s.CalibratedKg)
	}
}

func TestProcessorFilterResetBreaksMemory(t *testing.T) {
	p := NewProcessor(nil)
	p.SetCalibration(models.SideLeft, models.ADCInternal, testCalibration(t, models.SideLeft, models.ADCInternal, 1))
	p.ConfigureFilter(FilterConfig{Type: FilterEMA, Alpha: 0.5, Enabled: true})

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	p.EnqueueRawData(models.SideLeft, 100)
	waitSnapshot(t, p.LatestLeft, 100)
	p.EnqueueRawData(models.SideLeft, 200)
	s := waitSnapshot(t, p.LatestLeft, 200)
	if math.Abs(s.TaredKg-150) > 1e-9 {
		t.Fatalf("filtered = %v, want 150", s.TaredKg)
	}

	p.ResetFilters()
	p.EnqueueRawData(models.SideLeft, 40)
	s = waitSnapshot(t, p.LatestLeft, 40)
	if s.TaredKg != 40 {
		t.Fatalf("post-reset filtered = %v, want passthrough 40", s.TaredKg)
	}
}

func TestProcessorDropsWhenStopped(t *testing.T) {
	p := NewProcessor(nil)
	// Loop not started: the queue fills, then samples are dropped.
	for i := 0; i < queueDepth+10; i++ {
		p.EnqueueRawData(models.SideLeft, float64(i))
	}
	if got := p.Dropped(); got != 10 {
		t.Fatalf("dropped = %d, want 10", got)
	}
}

func TestProcessorStartStopLifecycle(t *testing.T) {
	p := NewProcessor(nil)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err == nil {
		t.Fatal("second Start should fail while running")
	}
	p.Stop()
	p.Stop() // idempotent
	if err := p.Start(); err != nil {
		t.Fatalf("restart after Stop failed: %v", err)
	}
	p.Stop()
}

func TestProcessorConcurrentReaders(t *testing.T) {
	p := NewProcessor(nil)
	p.SetCalibration(models.SideLeft, models.ADCInternal, testCalibration(t, models.SideLeft, models.ADCInternal, 2))
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	stop := make(chan struct{})
	errs := make(chan string, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := p.LatestLeft()
			// Each snapshot must be internally consistent.
			if s.CalibratedKg != s.RawADC*2 {
				select {
				case errs <- "torn snapshot observed":
				default:
				}
				return
			}
		}
	}()

	for i := 0; i < 500; i++ {
		p.EnqueueRawData(models.SideLeft, float64(i))
		if i%50 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	time.Sleep(10 * time.Millisecond)
	close(stop)

	select {
	case msg := <-errs:
		t.Fatal(msg)
	default:
	}
}
