package zcurve

import (
	"context"
	"math"
	"testing"

	"repliscope/internal/errors"
)

func newTestFitter() *Fitter {
	return NewFitter(DefaultConfig())
}

// TestFitDegenerateSamples covers inputs the model must reject
func TestFitDegenerateSamples(t *testing.T) {
	fitter := newTestFitter()
	ctx := context.Background()

	tests := []struct {
		name    string
		pValues []float64
	}{
		{"empty sample", nil},
		{"nothing significant", []float64{0.50, 0.61, 0.72, 0.83, 0.94}},
		{"below minimum count", []float64{0.001, 0.002, 0.40, 0.50}},
		{"single value", []float64{0.01}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := fitter.Fit(ctx, test.pValues)
			if err == nil {
				t.Fatalf("Expected degenerate fit for %s", test.name)
			}
			if !errors.IsDegenerateFit(err) {
				t.Errorf("Expected DEGENERATE_FIT code, got %s", errors.GetCode(err))
			}
		})
	}
}

// TestFitStrongEvidence tests a sample of very small p-values
func TestFitStrongEvidence(t *testing.T) {
	fitter := newTestFitter()

	pValues := make([]float64, 30)
	for i := range pValues {
		pValues[i] = 1e-8
	}

	coeffs, err := fitter.Fit(context.Background(), pValues)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if coeffs.ERR < 0.8 {
		t.Errorf("Expected high ERR for uniformly tiny p-values, got %f", coeffs.ERR)
	}
	if coeffs.EDR > coeffs.ERR+1e-9 {
		t.Errorf("Expected EDR <= ERR, got EDR=%f ERR=%f", coeffs.EDR, coeffs.ERR)
	}
}

// TestFitJustSignificant tests a sample hugging the threshold
func TestFitJustSignificant(t *testing.T) {
	fitter := newTestFitter()

	pValues := make([]float64, 30)
	for i := range pValues {
		pValues[i] = 0.049
	}

	coeffs, err := fitter.Fit(context.Background(), pValues)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if coeffs.ERR > 0.5 {
		t.Errorf("Expected low ERR for just-significant sample, got %f", coeffs.ERR)
	}
	if coeffs.EDR > coeffs.ERR+1e-9 {
		t.Errorf("Expected EDR <= ERR, got EDR=%f ERR=%f", coeffs.EDR, coeffs.ERR)
	}
}

// TestFitCoefficientRanges checks bounds on a mixed realistic sample
func TestFitCoefficientRanges(t *testing.T) {
	fitter := newTestFitter()

	pValues := []float64{0.001, 0.004, 0.012, 0.020, 0.031, 0.045, 0.049, 0.30, 0.62, 0.88}

	coeffs, err := fitter.Fit(context.Background(), pValues)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if coeffs.ERR <= 0 || coeffs.ERR > 1 {
		t.Errorf("ERR out of range: %f", coeffs.ERR)
	}
	if coeffs.EDR <= 0 || coeffs.EDR > 1 {
		t.Errorf("EDR out of range: %f", coeffs.EDR)
	}
}

// TestFitDeterminism verifies bit-identical repeat fits
func TestFitDeterminism(t *testing.T) {
	fitter := newTestFitter()
	ctx := context.Background()

	pValues := []float64{0.003, 0.017, 0.026, 0.044, 0.21, 0.48}

	first, err := fitter.Fit(ctx, pValues)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, err := fitter.Fit(ctx, pValues)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if first.ERR != second.ERR || first.EDR != second.EDR {
		t.Errorf("Fit not deterministic: %+v vs %+v", first, second)
	}
}

// TestFitHandlesZeroPValue ensures reported p = 0 does not blow up
func TestFitHandlesZeroPValue(t *testing.T) {
	fitter := newTestFitter()

	pValues := []float64{0, 0, 0, 0.01, 0.02}

	coeffs, err := fitter.Fit(context.Background(), pValues)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.IsNaN(coeffs.ERR) || math.IsNaN(coeffs.EDR) {
		t.Errorf("Expected finite coefficients, got %+v", coeffs)
	}
}

// TestFitMinimumBoundary tests exactly MinSignificant significant values
func TestFitMinimumBoundary(t *testing.T) {
	config := DefaultConfig()
	config.MinSignificant = 3
	fitter := NewFitter(config)

	pValues := []float64{0.01, 0.02, 0.03, 0.70}

	if _, err := fitter.Fit(context.Background(), pValues); err != nil {
		t.Fatalf("Expected fit at the minimum boundary, got %v", err)
	}
}

// TestNewFitterDefaults verifies zero-value config falls back to defaults
func TestNewFitterDefaults(t *testing.T) {
	fitter := NewFitter(Config{})

	if fitter.config.Alpha != 0.05 {
		t.Errorf("Expected default alpha, got %f", fitter.config.Alpha)
	}
	if fitter.config.MinSignificant != 3 {
		t.Errorf("Expected default minimum, got %d", fitter.config.MinSignificant)
	}
	if len(fitter.config.ComponentMeans) == 0 {
		t.Error("Expected default component grid")
	}
}
