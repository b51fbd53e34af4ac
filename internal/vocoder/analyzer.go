package vocoder

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"voxmorph/pkg/audio"
)

// logFloor is added to power values before taking logarithms so that silent
// frames degrade to a tiny flat spectrum instead of -Inf.
const logFloor = 1e-12

// lifterCutoff is the cepstral smoothing cutoff in quefrency bins. Keeping
// only the low quefrencies strips the pitch harmonics from the magnitude
// spectrum, leaving the envelope.
const lifterCutoff = 64

// Analyzer decomposes waveforms into frame-aligned F0, spectral envelope,
// and aperiodicity. It is stateless apart from reusable scratch buffers and
// is therefore not safe for concurrent use; create one per goroutine.
type Analyzer struct {
	fft    *fourier.FFT
	window []float64

	// windowGain converts windowed FFT magnitudes back to amplitude units.
	windowGain float64

	frame []float64
	spec  []complex128
	logs  []float64
	ceps  []complex128
}

// NewAnalyzer returns an analyzer with the fixed 16 kHz / 5 ms configuration.
func NewAnalyzer() *Analyzer {
	window := hann(fftSize)
	var sum float64
	for _, w := range window {
		sum += w
	}
	return &Analyzer{
		fft:        fourier.NewFFT(fftSize),
		window:     window,
		windowGain: 2 / sum,
		frame:      make([]float64, fftSize),
		spec:       make([]complex128, specBins),
		logs:       make([]float64, fftSize),
		ceps:       make([]complex128, specBins),
	}
}

// Analyze decomposes w into its parametric representation. The waveform must
// already be at the 16 kHz analysis rate and at least [MinSamples] long.
//
// Degenerate input (all-zero or clipped-flat) does not fail: it produces an
// unvoiced contour and a near-silent envelope.
func (a *Analyzer) Analyze(w audio.Waveform) (Analysis, error) {
	if w.Rate != SampleRate {
		return Analysis{}, fmt.Errorf("vocoder: analyze expects %d Hz input, got %d Hz", SampleRate, w.Rate)
	}
	if len(w.Samples) < MinSamples {
		return Analysis{}, fmt.Errorf("%w: %d samples, need at least %d",
			ErrInsufficientAudio, len(w.Samples), MinSamples)
	}

	frames := FrameCount(len(w.Samples))
	out := Analysis{
		F0:           a.f0Contour(w.Samples),
		Spectrogram:  make([][]float64, frames),
		Aperiodicity: make([][]float64, frames),
	}

	for i := range frames {
		mag := a.magnitudeSpectrum(w.Samples, i*hopSize)
		out.Spectrogram[i] = a.smoothEnvelope(mag)
		out.Aperiodicity[i] = bandAperiodicity(mag, out.F0[i])
	}
	return out, nil
}

// magnitudeSpectrum computes the Hann-windowed amplitude spectrum of the
// frame centered at the given sample position. The returned slice is owned
// by the caller.
func (a *Analyzer) magnitudeSpectrum(samples []float64, center int) []float64 {
	extractFrame(samples, center, a.frame)
	for j := range a.frame {
		a.frame[j] *= a.window[j]
	}
	a.fft.Coefficients(a.spec, a.frame)

	mag := make([]float64, specBins)
	for k := range mag {
		mag[k] = cmplx.Abs(a.spec[k]) * a.windowGain
	}
	return mag
}

// smoothEnvelope removes pitch harmonics from a magnitude spectrum by
// cepstral liftering: log magnitude, real cepstrum, low-quefrency cut,
// back to the linear magnitude domain. The result is strictly positive.
func (a *Analyzer) smoothEnvelope(mag []float64) []float64 {
	// Even-symmetric log spectrum so the cepstrum is real.
	for k := range specBins {
		a.logs[k] = 0.5 * math.Log(mag[k]*mag[k]+logFloor)
	}
	for k := 1; k < specBins-1; k++ {
		a.logs[fftSize-k] = a.logs[k]
	}
	a.fft.Coefficients(a.ceps, a.logs)

	// Lifter: keep quefrencies below the cutoff, discard the rest.
	for q := range a.ceps {
		if q < lifterCutoff {
			a.ceps[q] = complex(real(a.ceps[q]), 0)
		} else {
			a.ceps[q] = 0
		}
	}
	a.fft.Sequence(a.logs, a.ceps)

	env := make([]float64, specBins)
	for k := range env {
		env[k] = math.Exp(a.logs[k] / fftSize)
	}
	return env
}

// bandAperiodicity estimates a noise-versus-periodic ratio per analysis band
// from the band's spectral flatness. A pure tone has flatness near 0, white
// noise near 1. Unvoiced frames are fully aperiodic by definition.
func bandAperiodicity(mag []float64, f0 float64) []float64 {
	ap := make([]float64, BandCount)
	if f0 == 0 {
		for b := range ap {
			ap[b] = 1
		}
		return ap
	}
	for b := range ap {
		lo, hi := bandEdges[b], bandEdges[b+1]
		var logSum, linSum float64
		n := float64(hi - lo)
		for k := lo; k < hi; k++ {
			p := mag[k]*mag[k] + logFloor
			logSum += math.Log(p)
			linSum += p
		}
		flatness := math.Exp(logSum/n) / (linSum / n)
		ap[b] = clamp01(math.Sqrt(flatness))
	}
	return ap
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// hann returns a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
