package calib

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

// Store persists one calibration file per (side, ADC mode) pair.
type Store struct {
	dir string
}

// NewStore roots a store at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create calibration dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(side models.Side, mode models.ADCMode) string {
	return filepath.Join(s.dir, fmt.Sprintf("calibration_%s_%s.json", side, mode))
}

// Save writes the calibration for its (side, mode) key.
func (s *Store) Save(c *Calibration) error {
	if c == nil {
		return fmt.Errorf("nil calibration")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(c.Side, c.ADCMode), data, 0644)
}

// Load reads the calibration for a (side, mode) key. A missing file is the
// uncalibrated state, not an error.
func (s *Store) Load(side models.Side, mode models.ADCMode) (*Calibration, error) {
	data, err := os.ReadFile(s.path(side, mode))
	if os.IsNotExist(err) {
		return NewInvalid(side, mode), nil
	}
	if err != nil {
		return nil, err
	}
	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path(side, mode), err)
	}
	return &c, nil
}

// Delete removes the persisted calibration; deleting a missing file is a
// no-op.
func (s *Store) Delete(side models.Side, mode models.ADCMode) error {
	err := os.Remove(s.path(side, mode))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
