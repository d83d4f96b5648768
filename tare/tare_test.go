package tare

import (
	"path/filepath"
	"testing"

	"github.com/shubhamavl/suspensionpcb-can-go/models"
)

func TestTarePairIndependence(t *testing.T) {
	m := NewManager()
	m.Tare(models.SideLeft, 12.5, models.ADCInternal)

	if !m.IsTared(models.SideLeft, models.ADCInternal) {
		t.Fatal("left/internal should be tared")
	}
	if m.IsTared(models.SideLeft, models.ADCADS1115) {
		t.Fatal("left/ads1115 must be unaffected")
	}
	if m.IsTared(models.SideRight, models.ADCInternal) {
		t.Fatal("right/internal must be unaffected")
	}

	if got := m.Apply(models.SideLeft, models.ADCInternal, 20); got != 7.5 {
		t.Fatalf("tared weight = %v, want 7.5", got)
	}
	if got := m.Apply(models.SideRight, models.ADCInternal, 20); got != 20 {
		t.Fatalf("untared pair must pass calibrated weight through, got %v", got)
	}
}

func TestTareReset(t *testing.T) {
	m := NewManager()
	m.Tare(models.SideRight, 3, models.ADCADS1115)
	m.Reset(models.SideRight, models.ADCADS1115)

	if m.IsTared(models.SideRight, models.ADCADS1115) {
		t.Fatal("reset should clear the baseline")
	}
	if got := m.GetBaselineKg(models.SideRight, models.ADCADS1115); got != 0 {
		t.Fatalf("baseline after reset = %v, want 0", got)
	}
}

func TestTareRetareReplacesBaseline(t *testing.T) {
	m := NewManager()
	m.Tare(models.SideLeft, 5, models.ADCInternal)
	m.Tare(models.SideLeft, 8, models.ADCInternal)
	if got := m.GetBaselineKg(models.SideLeft, models.ADCInternal); got != 8 {
		t.Fatalf("baseline = %v, want 8", got)
	}
}

func TestTareNegativeBaseline(t *testing.T) {
	m := NewManager()
	m.Tare(models.SideLeft, -2, models.ADCADS1115)
	if got := m.Apply(models.SideLeft, models.ADCADS1115, 1); got != 3 {
		t.Fatalf("tared weight = %v, want 3", got)
	}
}

func TestTareSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tare.json")

	m := NewManager()
	m.Tare(models.SideLeft, 1.25, models.ADCInternal)
	m.Tare(models.SideRight, -0.5, models.ADCADS1115)
	if err := m.SaveToFile(path); err != nil {
		t.Fatal(err)
	}

	loaded := NewManager()
	if err := loaded.LoadFromFile(path); err != nil {
		t.Fatal(err)
	}
	if got := loaded.GetBaselineKg(models.SideLeft, models.ADCInternal); got != 1.25 {
		t.Fatalf("left/internal baseline = %v, want 1.25", got)
	}
	if got := loaded.GetBaselineKg(models.SideRight, models.ADCADS1115); got != -0.5 {
		t.Fatalf("right/ads1115 baseline = %v, want -0.5", got)
	}
	if loaded.IsTared(models.SideLeft, models.ADCADS1115) {
		t.Fatal("untared pair must stay untared after load")
	}
}

func TestTareLoadMissingFile(t *testing.T) {
	m := NewManager()
	if err := m.LoadFromFile(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if m.IsTared(models.SideLeft, models.ADCInternal) {
		t.Fatal("load of missing file must leave everything untared")
	}
}
