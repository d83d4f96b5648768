package calib

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const captureInterval = 5 * time.Millisecond

// CaptureOptions parameterizes one averaged-ADC capture burst.
type CaptureOptions struct {
	// SampleCount is the target number of samples; sampling also stops when
	// Duration elapses, whichever comes first.
	SampleCount int
	Duration    time.Duration

	// UseMedian selects the median instead of the mean as AveragedValue.
	UseMedian bool

	// RemoveOutliers drops samples beyond OutlierThreshold standard
	// deviations from the mean before final statistics.
	RemoveOutliers   bool
	OutlierThreshold float64

	// MaxStdDev is the stability limit for the final standard deviation.
	MaxStdDev float64
}

// CaptureResult is the ephemeral outcome of one capture burst; it feeds the
// construction of a single calibration point.
type CaptureResult struct {
	AveragedValue     float64
	Mean              float64
	Median            float64
	StandardDeviation float64
	SampleCount       int
	OutliersRemoved   int
	IsStable          bool
}

// CaptureAveragedADC samples getCurrentADC until either the sample count or
// the duration is reached, invoking progress per sample. Cancellation
// between samples is honored without corrupting already-collected data: a
// partial result is returned alongside ctx.Err() when at least one sample
// was taken.
func CaptureAveragedADC(
	ctx context.Context,
	opts CaptureOptions,
	getCurrentADC func() float64,
	progress func(current, total int),
) (CaptureResult, error) {
	if getCurrentADC == nil {
		return CaptureResult{}, fmt.Errorf("missing ADC source")
	}
	if opts.SampleCount <= 0 {
		return CaptureResult{}, fmt.Errorf("sample count must be > 0")
	}

	deadline := time.Time{}
	if opts.Duration > 0 {
		deadline = time.Now().Add(opts.Duration)
	}

	samples := make([]float64, 0, opts.SampleCount)
	for len(samples) < opts.SampleCount {
		select {
		case <-ctx.Done():
			if len(samples) == 0 {
				return CaptureResult{}, ctx.Err()
			}
			return summarize(samples, opts), ctx.Err()
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		samples = append(samples, getCurrentADC())
		if progress != nil {
			progress(len(samples), opts.SampleCount)
		}
		time.Sleep(captureInterval)
	}

	if len(samples) == 0 {
		return CaptureResult{}, fmt.Errorf("capture window elapsed before any sample was taken")
	}
	return summarize(samples, opts), nil
}

func summarize(samples []float64, opts CaptureOptions) CaptureResult {
	kept := samples
	removed := 0
	if opts.RemoveOutliers && len(samples) > 2 && opts.OutlierThreshold > 0 {
		mean := stat.Mean(samples, nil)
		sd := stat.StdDev(samples, nil)
		if sd > 0 {
			trimmed := make([]float64, 0, len(samples))
			for _, v := range samples {
				if math.Abs(v-mean) <= opts.OutlierThreshold*sd {
					trimmed = append(trimmed, v)
				}
			}
			if len(trimmed) > 0 {
				removed = len(samples) - len(trimmed)
				kept = trimmed
			}
		}
	}

	mean := stat.Mean(kept, nil)
	sd := 0.0
	if len(kept) > 1 {
		sd = stat.StdDev(kept, nil)
	}
	med := median(kept)

	res := CaptureResult{
		Mean:              mean,
		Median:            med,
		StandardDeviation: sd,
		SampleCount:       len(kept),
		OutliersRemoved:   removed,
		IsStable:          sd <= opts.MaxStdDev,
	}
	if opts.UseMedian {
		res.AveragedValue = med
	} else {
		res.AveragedValue = mean
	}
	return res
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}
