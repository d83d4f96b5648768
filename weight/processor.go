package weight

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shubhamavl/suspensionpcb-can-go/calib"
	"github.com/shubhamavl/suspensionpcb-can-go/logging"
	"github.com/shubhamavl/suspensionpcb-can-go/models"
	"github.com/shubhamavl/suspensionpcb-can-go/tare"
)

const queueDepth = 256

// Snapshot is the latest processed value for one side. Instances are
// immutable once published; readers always observe a complete value.
type Snapshot struct {
	RawADC       float64
	CalibratedKg float64
	TaredKg      float64
	Timestamp    time.Time
}

// procConfig is the immutable configuration the processing loop reads per
// sample. Writers build a copy and swap the pointer.
type procConfig struct {
	cals    [2][2]*calib.Calibration // [side][mode]
	tares   *tare.Manager
	modes   [2]models.ADCMode
	filter  FilterConfig
	fltrGen uint64
}

// Processor consumes per-side raw ADC samples from the protocol receive
// path, applies calibration, filter and tare, and publishes a lock-free
// latest-value snapshot per side. Multiple producers may enqueue
// concurrently; one loop processes.
type Processor struct {
	queue chan models.RawSample

	cfgMu sync.Mutex // serializes configuration writers
	cfg   atomic.Pointer[procConfig]

	left  atomic.Pointer[Snapshot]
	right atomic.Pointer[Snapshot]

	dropped atomic.Uint64

	runMu sync.Mutex
	done  chan struct{}
	wg    sync.WaitGroup

	logger logging.Logger
}

// NewProcessor instantiates a stopped processor with no calibration, no
// tare manager and filtering disabled.
func NewProcessor(logger logging.Logger) *Processor {
	if logger == nil {
		logger = &logging.NullLogger{}
	}
	p := &Processor{
		queue:  make(chan models.RawSample, queueDepth),
		logger: logger,
	}
	p.cfg.Store(&procConfig{filter: FilterConfig{Type: FilterNone}})
	return p
}

// EnqueueRawData hands one raw sample to the processing loop without
// blocking; when the queue is full the sample is dropped.
func (p *Processor) EnqueueRawData(side models.Side, rawADC float64) {
	s := models.RawSample{Side: side, RawADC: rawADC, Timestamp: time.Now()}
	select {
	case p.queue <- s:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns the number of samples discarded due to backpressure.
func (p *Processor) Dropped() uint64 { return p.dropped.Load() }

// SetCalibration installs the calibration for one (side, mode) pair; it
// takes effect on subsequently processed samples.
func (p *Processor) SetCalibration(side models.Side, mode models.ADCMode, c *calib.Calibration) {
	p.updateConfig(func(c2 *procConfig) {
		c2.cals[side&1][mode&1] = c
	})
}

// SetTareManager installs the tare baselines consulted by the pipeline.
func (p *Processor) SetTareManager(t *tare.Manager) {
	p.updateConfig(func(c *procConfig) { c.tares = t })
}

// SetADCMode records which analog front-end is active for a side so tare
// and calibration lookups match the samples being produced.
func (p *Processor) SetADCMode(side models.Side, mode models.ADCMode) {
	p.updateConfig(func(c *procConfig) { c.modes[side&1] = mode })
}

// ConfigureFilter replaces the filter configuration. Existing filter memory
// is cleared so the new settings are not blended with old state.
func (p *Processor) ConfigureFilter(cfg FilterConfig) {
	p.updateConfig(func(c *procConfig) {
		c.filter = cfg
		c.fltrGen++
	})
}

// ResetFilters clears filter memory. Required after a tare or calibration
// change, otherwise the filtered signal is discontinuous.
func (p *Processor) ResetFilters() {
	p.updateConfig(func(c *procConfig) { c.fltrGen++ })
}

func (p *Processor) updateConfig(mutate func(*procConfig)) {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	next := *p.cfg.Load()
	mutate(&next)
	p.cfg.Store(&next)
}

// Start launches the processing loop.
func (p *Processor) Start() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.done != nil {
		return fmt.Errorf("already running")
	}
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.loop(p.done)
	return nil
}

// Stop terminates the processing loop. Idempotent.
func (p *Processor) Stop() {
	p.runMu.Lock()
	done := p.done
	p.done = nil
	p.runMu.Unlock()
	if done == nil {
		return
	}
	close(done)
	p.wg.Wait()
}

// LatestLeft returns the most recent left-side snapshot, zeroed before the
// first sample. Safe from any goroutine at any time.
func (p *Processor) LatestLeft() Snapshot { return load(&p.left) }

// LatestRight returns the most recent right-side snapshot.
func (p *Processor) LatestRight() Snapshot { return load(&p.right) }

func load(ptr *atomic.Pointer[Snapshot]) Snapshot {
	if s := ptr.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

func (p *Processor) loop(done chan struct{}) {
	defer p.wg.Done()

	var filters [2]filterState
	var lastGen uint64

	for {
		select {
		case <-done:
			return
		case s := <-p.queue:
			cfg := p.cfg.Load()
			if cfg.fltrGen != lastGen {
				filters[0].reset()
				filters[1].reset()
				lastGen = cfg.fltrGen
			}
			p.process(cfg, &filters[s.Side&1], s)
		}
	}
}

func (p *Processor) process(cfg *procConfig, flt *filterState, s models.RawSample) {
	mode := cfg.modes[s.Side&1]

	calibrated := 0.0
	if c := cfg.cals[s.Side&1][mode&1]; c != nil {
		calibrated = c.RawToKg(s.RawADC)
	}

	filtered := flt.apply(cfg.filter, calibrated)

	tared := filtered
	if cfg.tares != nil {
		tared = cfg.tares.Apply(s.Side, mode, filtered)
	}

	snap := &Snapshot{
		RawADC:       s.RawADC,
		CalibratedKg: calibrated,
		TaredKg:      tared,
		Timestamp:    s.Timestamp,
	}
	if s.Side == models.SideLeft {
		p.left.Store(snap)
	} else {
		p.right.Store(snap)
	}
}
