package calib

// Point is one captured calibration point. Raw values are recorded for both
// ADC modes; the point only contributes to a fit once both have been
// captured (or supplied via manual entry).
type Point struct {
	Number           int     `json:"number"`
	KnownWeightKg    float64 `json:"knownWeightKg"`
	InternalADC      float64 `json:"internalAdc"`
	ADS1115ADC       float64 `json:"ads1115Adc"`
	BothModesCaptured bool   `json:"bothModesCaptured"`
}

// RawFor returns the raw value recorded for the given ADC mode.
func (p Point) RawFor(ads1115 bool) float64 {
	if ads1115 {
		return p.ADS1115ADC
	}
	return p.InternalADC
}
