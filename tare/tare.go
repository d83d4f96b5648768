package tare

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

// Baseline is the zero-offset record for one (side, ADC mode) pair. An
// untared pair contributes 0 to the tared weight.
type Baseline struct {
	IsTared    bool    `json:"isTared"`
	BaselineKg float64 `json:"baselineKg"`
}

type key struct {
	side models.Side
	mode models.ADCMode
}

// Manager holds the four (side, mode) tare baselines. All methods are safe
// for concurrent use; the weight processor only reads, configuration calls
// only write.
type Manager struct {
	mu sync.RWMutex
	m  map[key]Baseline
}

// NewManager returns a manager with all four pairs untared.
func NewManager() *Manager {
	return &Manager{m: make(map[key]Baseline, 4)}
}

// Tare records the current calibrated weight as the zero baseline for
// exactly the given (side, mode) pair.
func (t *Manager) Tare(side models.Side, currentCalibratedKg float64, mode models.ADCMode) {
	t.mu.Lock()
	t.m[key{side, mode}] = Baseline{IsTared: true, BaselineKg: currentCalibratedKg}
	t.mu.Unlock()
}

// Reset clears the baseline for the given (side, mode) pair.
func (t *Manager) Reset(side models.Side, mode models.ADCMode) {
	t.mu.Lock()
	delete(t.m, key{side, mode})
	t.mu.Unlock()
}

// IsTared reports whether the pair has a baseline.
func (t *Manager) IsTared(side models.Side, mode models.ADCMode) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[key{side, mode}].IsTared
}

// GetBaselineKg returns the pair's baseline, 0 when untared.
func (t *Manager) GetBaselineKg(side models.Side, mode models.ADCMode) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b := t.m[key{side, mode}]
	if !b.IsTared {
		return 0
	}
	return b.BaselineKg
}

// Apply subtracts the pair's baseline from a calibrated weight.
func (t *Manager) Apply(side models.Side, mode models.ADCMode, calibratedKg float64) float64 {
	return calibratedKg - t.GetBaselineKg(side, mode)
}

type fileRecord struct {
	Side     string   `json:"side"`
	ADCMode  string   `json:"adcMode"`
	Baseline Baseline `json:"baseline"`
}

var allPairs = []key{
	{models.SideLeft, models.ADCInternal},
	{models.SideLeft, models.ADCADS1115},
	{models.SideRight, models.ADCInternal},
	{models.SideRight, models.ADCADS1115},
}

// SaveToFile persists all four pairs together.
func (t *Manager) SaveToFile(path string) error {
	t.mu.RLock()
	records := make([]fileRecord, 0, len(allPairs))
	for _, k := range allPairs {
		records = append(records, fileRecord{
			Side:     k.side.String(),
			ADCMode:  k.mode.String(),
			Baseline: t.m[k],
		})
	}
	t.mu.RUnlock()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadFromFile replaces all pairs from a persisted file. A missing file
// leaves everything untared and is not an error.
func (t *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var records []fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.m = make(map[key]Baseline, 4)
	for _, r := range records {
		side, ok1 := models.ParseSide(r.Side)
		mode, ok2 := models.ParseADCMode(r.ADCMode)
		if !ok1 || !ok2 {
			continue
		}
		t.m[key{side, mode}] = r.Baseline
	}
	return nil
}
