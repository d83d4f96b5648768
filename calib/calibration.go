package calib

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

// FitMode selects how a calibration maps raw ADC to kg.
type FitMode string

const (
	// FitLinear is one ordinary least-squares line over all points.
	FitLinear FitMode = "linear"
	// FitPiecewise interpolates linearly between consecutive points. It
	// trades smoothness for point-exactness near sensor saturation.
	FitPiecewise FitMode = "piecewise"
)

// Segment is one piecewise-linear span between two consecutive points,
// ordered by raw ADC value.
type Segment struct {
	RawLo     float64 `json:"rawLo"`
	RawHi     float64 `json:"rawHi"`
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// Calibration is the raw-ADC -> kg mapping for one (side, ADC mode) pair.
// Both the regression line and the piecewise segments are derived from the
// same point set, so switching FitMode needs no recapture. An invalid
// calibration evaluates to 0 kg rather than failing.
type Calibration struct {
	Side    models.Side    `json:"side"`
	ADCMode models.ADCMode `json:"adcMode"`
	Mode    FitMode        `json:"mode"`

	Slope     float64   `json:"slope"`
	Intercept float64   `json:"intercept"`
	Segments  []Segment `json:"segments,omitempty"`

	Points []Point `json:"points"`

	R2              float64 `json:"r2"`
	MaxErrorPercent float64 `json:"maxErrorPercent"`
	Valid           bool    `json:"valid"`
}

// NewInvalid returns the uncalibrated placeholder for a (side, mode) pair.
func NewInvalid(side models.Side, mode models.ADCMode) *Calibration {
	return &Calibration{Side: side, ADCMode: mode, Mode: FitLinear}
}

// FitMultiplePoints fits a calibration from captured points. Points that do
// not have both modes captured are skipped. With two or more usable points
// an ordinary least-squares line is fitted and piecewise segments are built
// alongside it; with exactly one usable point the line goes through the
// origin (slope = kg/raw), which requires raw != 0.
func FitMultiplePoints(side models.Side, adcMode models.ADCMode, fitMode FitMode, points []Point) (*Calibration, error) {
	raws, kgs := usablePairs(adcMode, points)
	if len(raws) == 0 {
		return nil, fmt.Errorf("no usable calibration points (need both modes captured)")
	}

	c := &Calibration{
		Side:    side,
		ADCMode: adcMode,
		Mode:    fitMode,
		Points:  append([]Point(nil), points...),
	}

	if len(raws) == 1 {
		if raws[0] == 0 {
			return nil, fmt.Errorf("single-point fit requires a non-zero raw ADC value")
		}
		c.Slope = kgs[0] / raws[0]
		c.Intercept = 0
		c.R2 = 1
		c.MaxErrorPercent = 0
		c.Valid = c.Slope != 0
		return c, nil
	}

	intercept, slope := stat.LinearRegression(raws, kgs, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return nil, fmt.Errorf("degenerate point set: all raw values identical")
	}
	c.Slope = slope
	c.Intercept = intercept
	c.R2 = stat.RSquared(raws, kgs, nil, intercept, slope)
	c.MaxErrorPercent = maxErrorPercent(raws, kgs, slope, intercept)
	c.Segments = buildSegments(raws, kgs)
	c.Valid = slope != 0
	return c, nil
}

// BuildSegmentsFromPoints recomputes the piecewise segments from the stored
// point set, e.g. after switching FitMode.
func (c *Calibration) BuildSegmentsFromPoints() {
	raws, kgs := usablePairs(c.ADCMode, c.Points)
	c.Segments = buildSegments(raws, kgs)
}

// RawToKg evaluates the active mapping. Invalid calibrations degrade to 0.
func (c *Calibration) RawToKg(raw float64) float64 {
	if c == nil || !c.Valid {
		return 0
	}
	if c.Mode == FitPiecewise && len(c.Segments) > 0 {
		return evalPiecewise(c.Segments, raw)
	}
	return c.Slope*raw + c.Intercept
}

// EquationString renders the active mapping for display.
func (c *Calibration) EquationString() string {
	if c == nil || !c.Valid {
		return "uncalibrated"
	}
	if c.Mode == FitPiecewise && len(c.Segments) > 0 {
		return fmt.Sprintf("piecewise, %d segments over raw [%g, %g]",
			len(c.Segments), c.Segments[0].RawLo, c.Segments[len(c.Segments)-1].RawHi)
	}
	return fmt.Sprintf("kg = %.6g * raw + %.6g", c.Slope, c.Intercept)
}

func usablePairs(adcMode models.ADCMode, points []Point) (raws, kgs []float64) {
	ads := adcMode == models.ADCADS1115
	for _, p := range points {
		if !p.BothModesCaptured {
			continue
		}
		raws = append(raws, p.RawFor(ads))
		kgs = append(kgs, p.KnownWeightKg)
	}
	return raws, kgs
}

func maxErrorPercent(raws, kgs []float64, slope, intercept float64) float64 {
	worst := 0.0
	for i := range raws {
		if kgs[i] == 0 {
			continue
		}
		pred := slope*raws[i] + intercept
		pct := math.Abs(pred-kgs[i]) / math.Abs(kgs[i]) * 100
		if pct > worst {
			worst = pct
		}
	}
	return worst
}

type rawKg struct{ raw, kg float64 }

func buildSegments(raws, kgs []float64) []Segment {
	if len(raws) < 2 {
		return nil
	}
	pairs := make([]rawKg, len(raws))
	for i := range raws {
		pairs[i] = rawKg{raws[i], kgs[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].raw < pairs[j].raw })

	segs := make([]Segment, 0, len(pairs)-1)
	for i := 0; i+1 < len(pairs); i++ {
		lo, hi := pairs[i], pairs[i+1]
		if hi.raw == lo.raw {
			continue
		}
		slope := (hi.kg - lo.kg) / (hi.raw - lo.raw)
		segs = append(segs, Segment{
			RawLo:     lo.raw,
			RawHi:     hi.raw,
			Slope:     slope,
			Intercept: lo.kg - slope*lo.raw,
		})
	}
	return segs
}

// evalPiecewise evaluates the matching segment; outside the outer points it
// extrapolates with the nearest segment's slope.
func evalPiecewise(segs []Segment, raw float64) float64 {
	if raw <= segs[0].RawLo {
		s := segs[0]
		return s.Slope*raw + s.Intercept
	}
	for _, s := range segs {
		if raw <= s.RawHi {
			return s.Slope*raw + s.Intercept
		}
	}
	s := segs[len(segs)-1]
	return s.Slope*raw + s.Intercept
}
