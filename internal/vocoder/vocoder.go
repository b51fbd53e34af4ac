// Package vocoder decomposes a mono waveform into a parametric speech
// representation — fundamental-frequency contour, per-frame spectral
// envelope, and band-wise aperiodicity — and reconstructs a waveform from
// that representation.
//
// Analysis runs at a fixed internal rate of 16 kHz with a 5 ms frame period.
// All three analysis products are frame-aligned: one entry per frame on the
// same implicit time axis. The analyzer and synthesizer are pure and
// deterministic; identical input always yields identical output.
package vocoder

import (
	"errors"
	"time"
)

const (
	// SampleRate is the fixed internal analysis rate in Hz. The cepstral
	// warp factor used downstream is tuned to this rate; see package cepstrum.
	SampleRate = 16000

	// FramePeriod is the spacing between analysis frames.
	FramePeriod = 5 * time.Millisecond

	// MinSamples is the hard lower bound on input length (0.1 s at 16 kHz).
	// Shorter inputs are rejected with [ErrInsufficientAudio].
	MinSamples = 1600

	// BandCount is the number of aperiodicity analysis bands.
	BandCount = 5

	// hopSize is FramePeriod expressed in samples at SampleRate.
	hopSize = 80

	// fftSize is the analysis/synthesis FFT length.
	fftSize = 1024

	// specBins is the number of spectral envelope bins per frame.
	specBins = fftSize/2 + 1
)

var (
	// ErrInsufficientAudio reports input below the minimum analyzable length.
	ErrInsufficientAudio = errors.New("vocoder: input below minimum analyzable length")

	// ErrDimensionMismatch reports frame-aligned structures that disagree in
	// shape. This is always a caller bug and is never recovered internally.
	ErrDimensionMismatch = errors.New("vocoder: dimension mismatch between frame-aligned structures")
)

// bandEdges maps the five aperiodicity bands onto spectral bins:
// 0–1 kHz, 1–2 kHz, 2–4 kHz, 4–6 kHz, 6–8 kHz at the 16 kHz analysis rate.
var bandEdges = [BandCount + 1]int{0, 64, 128, 256, 384, specBins}

// Analysis is the frame-aligned decomposition of one waveform.
type Analysis struct {
	// F0 holds the per-frame fundamental frequency in Hz, 0 for unvoiced frames.
	F0 []float64

	// Spectrogram holds one smoothed magnitude spectrum of specBins values
	// per frame. All values are strictly positive.
	Spectrogram [][]float64

	// Aperiodicity holds one vector of BandCount band aperiodicity ratios in
	// [0, 1] per frame. 1 means fully noise-like, 0 fully periodic.
	Aperiodicity [][]float64
}

// Frames returns the number of analysis frames.
func (a Analysis) Frames() int { return len(a.F0) }

// SpectralBins returns the number of bins in each spectral envelope frame.
func SpectralBins() int { return specBins }

// FrameCount returns the number of frames the analyzer produces for a signal
// of n samples at the analysis rate: ceil(n / hop).
func FrameCount(n int) int { return (n + hopSize - 1) / hopSize }
