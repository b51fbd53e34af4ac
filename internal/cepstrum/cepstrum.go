// Package cepstrum converts spectral envelope frames to and from compact
// mel-cepstral coefficient vectors.
//
// The forward transform takes the logarithm of the magnitude spectrum,
// resamples it onto an all-pass-warped frequency axis, and projects it onto
// a truncated cosine basis. The inverse evaluates the cosine series back at
// the warped positions of the linear bins. For envelope-smooth spectra the
// pair is a near-inverse.
//
// The warp factor is tied to the analysis sample rate: 0.55 approximates the
// mel scale at 16 kHz. Changing the analysis rate requires choosing a
// matching warp; the two must travel together through configuration.
package cepstrum

import (
	"fmt"
	"math"
)

const (
	// DefaultOrder is the mel-cepstral order: vectors carry Order+1
	// coefficients c[0..Order].
	DefaultOrder = 24

	// DefaultWarp is the all-pass warping factor matched to 16 kHz analysis.
	DefaultWarp = 0.55

	// logGuard is added to magnitudes before the logarithm. Callers must not
	// feed raw linear magnitude into the cosine projection themselves; the
	// floor is part of the transform's contract.
	logGuard = 1e-8
)

// Coder performs the forward and inverse mel-cepstral transform for spectral
// frames of a fixed bin count. Safe for concurrent use; all state is
// read-only after construction.
type Coder struct {
	order int
	warp  float64
	bins  int

	// srcPos[j] is the fractional linear-axis bin sampled for warped bin j.
	srcPos []float64

	// warped[k] is the warped angular frequency of linear bin k.
	warped []float64
}

// NewCoder builds a coder for spectral frames of the given bin count.
// Order must be positive and small relative to bins; warp must lie in (-1, 1).
func NewCoder(order int, warp float64, bins int) (*Coder, error) {
	if order <= 0 || order >= bins-1 {
		return nil, fmt.Errorf("cepstrum: order %d out of range (0, %d)", order, bins-1)
	}
	if warp <= -1 || warp >= 1 {
		return nil, fmt.Errorf("cepstrum: warp %v out of range (-1, 1)", warp)
	}
	if bins < 2 {
		return nil, fmt.Errorf("cepstrum: need at least 2 bins, got %d", bins)
	}

	c := &Coder{
		order:  order,
		warp:   warp,
		bins:   bins,
		srcPos: make([]float64, bins),
		warped: make([]float64, bins),
	}
	k := float64(bins - 1)
	for j := range bins {
		omega := math.Pi * float64(j) / k
		c.srcPos[j] = warpFrequency(omega, -warp) / math.Pi * k
		c.warped[j] = warpFrequency(omega, warp)
	}
	return c, nil
}

// Order returns the cepstral order; vectors have Order()+1 coefficients.
func (c *Coder) Order() int { return c.order }

// Warp returns the all-pass warping factor.
func (c *Coder) Warp() float64 { return c.warp }

// Bins returns the expected spectral frame length.
func (c *Coder) Bins() int { return c.bins }

// ToMelCepstrum converts one linear magnitude spectral frame into an
// order+1 mel-cepstral coefficient vector.
func (c *Coder) ToMelCepstrum(frame []float64) ([]float64, error) {
	if len(frame) != c.bins {
		return nil, fmt.Errorf("cepstrum: frame has %d bins, coder expects %d", len(frame), c.bins)
	}

	// Log magnitude, resampled onto the warped axis.
	logMag := make([]float64, c.bins)
	for k, v := range frame {
		logMag[k] = math.Log(v + logGuard)
	}
	warpedLog := make([]float64, c.bins)
	for j := range warpedLog {
		warpedLog[j] = lerpAt(logMag, c.srcPos[j])
	}

	// Cosine projection with trapezoid end weights; the basis is orthogonal
	// on this grid, which is what makes the inverse exact for band-limited
	// log spectra.
	k := float64(c.bins - 1)
	mc := make([]float64, c.order+1)
	for m := 0; m <= c.order; m++ {
		var sum float64
		for j, v := range warpedLog {
			w := 1.0
			if j == 0 || j == c.bins-1 {
				w = 0.5
			}
			sum += w * v * math.Cos(math.Pi*float64(m)*float64(j)/k)
		}
		mc[m] = sum / k
	}
	return mc, nil
}

// ToSpectralEnvelope reconstructs a linear magnitude spectral frame from a
// mel-cepstral vector produced by [Coder.ToMelCepstrum].
func (c *Coder) ToSpectralEnvelope(mc []float64) ([]float64, error) {
	if len(mc) != c.order+1 {
		return nil, fmt.Errorf("cepstrum: vector has %d coefficients, coder expects %d", len(mc), c.order+1)
	}

	out := make([]float64, c.bins)
	for k := range out {
		logMag := mc[0]
		for m := 1; m <= c.order; m++ {
			logMag += 2 * mc[m] * math.Cos(float64(m)*c.warped[k])
		}
		v := math.Exp(logMag) - logGuard
		if v < 0 {
			v = 0
		}
		out[k] = v
	}
	return out, nil
}

// warpFrequency maps an angular frequency in [0, π] through the first-order
// all-pass warping with factor alpha. Positive alpha stretches low
// frequencies; the map with -alpha is its exact inverse.
func warpFrequency(omega, alpha float64) float64 {
	return omega + 2*math.Atan2(alpha*math.Sin(omega), 1-alpha*math.Cos(omega))
}

// lerpAt linearly interpolates values at a fractional index, clamping to the
// slice bounds.
func lerpAt(values []float64, pos float64) float64 {
	if pos <= 0 {
		return values[0]
	}
	last := len(values) - 1
	if pos >= float64(last) {
		return values[last]
	}
	i := int(pos)
	frac := pos - float64(i)
	return values[i]*(1-frac) + values[i+1]*frac
}
