package zcurve

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"repliscope/domain/estimate"
	"repliscope/internal/errors"
	"repliscope/ports"
)

// Config holds the fit settings.
type Config struct {
	// Alpha is the two-sided significance threshold on the p scale.
	Alpha float64
	// MinSignificant is the fewest significant results a fit accepts.
	MinSignificant int
	// ComponentMeans is the fixed grid of mixture component means on the
	// z scale. Weights are estimated; means and unit scale are not.
	ComponentMeans []float64
	// ZCap censors extreme z-scores. Values beyond it carry no extra
	// information about power and would underflow the densities.
	ZCap          float64
	MaxIterations int
	Tolerance     float64
}

// DefaultConfig returns the standard fit settings.
func DefaultConfig() Config {
	return Config{
		Alpha:          0.05,
		MinSignificant: 3,
		ComponentMeans: []float64{0, 1, 2, 3, 4, 5, 6},
		ZCap:           6.0,
		MaxIterations:  500,
		Tolerance:      1e-6,
	}
}

// Fitter estimates replication coefficients by fitting a finite mixture of
// truncated folded normals to the significant portion of a z-transformed
// p-value sample. Expectation-maximization over fixed component means
// yields mixture weights; ERR and EDR follow from the component powers.
// The fit is a pure function of its input sample.
type Fitter struct {
	config Config
}

// NewFitter creates a fitter, filling unset config fields with defaults.
func NewFitter(config Config) *Fitter {
	defaults := DefaultConfig()
	if config.Alpha <= 0 || config.Alpha >= 1 {
		config.Alpha = defaults.Alpha
	}
	if config.MinSignificant < 1 {
		config.MinSignificant = defaults.MinSignificant
	}
	if len(config.ComponentMeans) == 0 {
		config.ComponentMeans = defaults.ComponentMeans
	}
	if config.ZCap <= 0 {
		config.ZCap = defaults.ZCap
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.Tolerance <= 0 {
		config.Tolerance = defaults.Tolerance
	}
	return &Fitter{config: config}
}

var _ ports.CurveFitterPort = (*Fitter)(nil)

// Fit estimates {ERR, EDR} from independent p-values.
func (f *Fitter) Fit(ctx context.Context, pValues []float64) (estimate.Coefficients, error) {
	if len(pValues) == 0 {
		return estimate.Coefficients{}, errors.DegenerateFit("empty sample")
	}

	zCrit := distuv.UnitNormal.Quantile(1 - f.config.Alpha/2)

	significant := f.significantZScores(pValues, zCrit)
	if len(significant) < f.config.MinSignificant {
		return estimate.Coefficients{}, errors.DegenerateFitf(
			"%d significant of %d values, need at least %d",
			len(significant), len(pValues), f.config.MinSignificant)
	}

	weights, err := f.fitWeights(significant, zCrit)
	if err != nil {
		return estimate.Coefficients{}, err
	}

	powers := f.componentPowers(zCrit)

	// ERR weights the component powers as estimated, i.e. conditional on
	// selection. EDR rescales each weight by 1/power to recover the
	// untruncated population, which reduces to a harmonic form.
	errRate := 0.0
	inversePowerMass := 0.0
	for j, w := range weights {
		errRate += w * powers[j]
		inversePowerMass += w / powers[j]
	}
	edr := 1.0 / inversePowerMass

	return estimate.Coefficients{ERR: errRate, EDR: edr}, nil
}

// significantZScores converts two-sided p-values to absolute z-scores and
// keeps those beyond the significance threshold, censored at ZCap.
func (f *Fitter) significantZScores(pValues []float64, zCrit float64) []float64 {
	const pFloor = 1e-15 // keeps the quantile finite for reported p = 0

	zs := make([]float64, 0, len(pValues))
	for _, p := range pValues {
		if p < pFloor {
			p = pFloor
		}
		z := distuv.UnitNormal.Quantile(1 - p/2)
		if z <= zCrit {
			continue
		}
		if z > f.config.ZCap {
			z = f.config.ZCap
		}
		zs = append(zs, z)
	}
	return zs
}

// componentPowers returns P(|Z| > zCrit) for Z ~ N(mean, 1) per component.
func (f *Fitter) componentPowers(zCrit float64) []float64 {
	powers := make([]float64, len(f.config.ComponentMeans))
	for j, mean := range f.config.ComponentMeans {
		powers[j] = 1 - distuv.UnitNormal.CDF(zCrit-mean) + distuv.UnitNormal.CDF(-zCrit-mean)
	}
	return powers
}

// fitWeights runs EM over the truncated folded-normal mixture.
func (f *Fitter) fitWeights(zs []float64, zCrit float64) ([]float64, error) {
	k := len(f.config.ComponentMeans)
	n := len(zs)
	powers := f.componentPowers(zCrit)

	// Density of component j at observed |z|, given selection at zCrit:
	// folded normal mass at z renormalized by the component's power.
	densities := make([][]float64, n)
	for i, z := range zs {
		densities[i] = make([]float64, k)
		for j, mean := range f.config.ComponentMeans {
			folded := normalPDF(z-mean) + normalPDF(z+mean)
			densities[i][j] = folded / powers[j]
		}
	}

	weights := make([]float64, k)
	for j := range weights {
		weights[j] = 1.0 / float64(k)
	}

	responsibilities := make([]float64, k)
	prevLogLikelihood := math.Inf(-1)

	for iter := 0; iter < f.config.MaxIterations; iter++ {
		logLikelihood := 0.0
		accumulated := make([]float64, k)

		for i := 0; i < n; i++ {
			total := 0.0
			for j := 0; j < k; j++ {
				responsibilities[j] = weights[j] * densities[i][j]
				total += responsibilities[j]
			}
			if total <= 0 || math.IsNaN(total) {
				return nil, errors.DegenerateFit("mixture density vanished")
			}
			logLikelihood += math.Log(total)
			for j := 0; j < k; j++ {
				accumulated[j] += responsibilities[j] / total
			}
		}

		for j := 0; j < k; j++ {
			weights[j] = accumulated[j] / float64(n)
		}

		if math.IsNaN(logLikelihood) || math.IsInf(logLikelihood, 1) {
			return nil, errors.DegenerateFit("likelihood not finite")
		}
		if math.Abs(logLikelihood-prevLogLikelihood) < f.config.Tolerance {
			break
		}
		prevLogLikelihood = logLikelihood
	}

	return weights, nil
}

func normalPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
