package weight

// FilterType selects the smoothing applied to calibrated values.
type FilterType string

const (
	FilterNone FilterType = "none"
	FilterEMA  FilterType = "ema"
	FilterSMA  FilterType = "sma"
)

// FilterConfig is the runtime filter configuration. Changes take effect on
// subsequently processed samples and are not retroactive.
type FilterConfig struct {
	Type       FilterType
	Alpha      float64
	WindowSize int
	Enabled    bool
}

// filterState is the per-side smoothing memory, owned exclusively by the
// processing loop.
type filterState struct {
	hasPrev bool
	prev    float64
	window  []float64
}

func (s *filterState) reset() {
	s.hasPrev = false
	s.prev = 0
	s.window = s.window[:0]
}

// apply runs one value through the configured filter.
func (s *filterState) apply(cfg FilterConfig, x float64) float64 {
	if !cfg.Enabled {
		return x
	}
	switch cfg.Type {
	case FilterEMA:
		alpha := cfg.Alpha
		if alpha <= 0 || alpha > 1 {
			alpha = 1
		}
		if !s.hasPrev {
			s.prev = x
			s.hasPrev = true
			return x
		}
		s.prev = alpha*x + (1-alpha)*s.prev
		return s.prev
	case FilterSMA:
		n := cfg.WindowSize
		if n <= 1 {
			return x
		}
		s.window = append(s.window, x)
		if len(s.window) > n {
			s.window = s.window[1:]
		}
		sum := 0.0
		for _, v := range s.window {
			sum += v
		}
		return sum / float64(len(s.window))
	default:
		return x
	}
}
