package vocoder

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"

	"voxmorph/pkg/audio"
)

// synthSeed fixes the noise generator so synthesis is deterministic for
// identical inputs.
const synthSeed = 0x766f786d

// Synthesizer reconstructs a waveform from an [Analysis]. The inverse of
// [Analyzer.Analyze]: output duration is frameCount * FramePeriod.
//
// Not safe for concurrent use; create one per goroutine.
type Synthesizer struct {
	fft    *fourier.FFT
	window []float64

	spec  []complex128
	grain []float64
}

// NewSynthesizer returns a synthesizer matching the analyzer's fixed
// 16 kHz / 5 ms configuration.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{
		fft:    fourier.NewFFT(fftSize),
		window: hann(fftSize),
		spec:   make([]complex128, specBins),
		grain:  make([]float64, fftSize),
	}
}

// Synthesize reconstructs audio from the frame-aligned analysis a. Voiced
// frames are rendered as a pulse train shaped by the spectral envelope,
// mixed with band-weighted noise according to the aperiodicity; unvoiced
// frames are pure shaped noise. A shape disagreement between the three
// structures returns [ErrDimensionMismatch]; it is never repaired.
func (s *Synthesizer) Synthesize(a Analysis) (audio.Waveform, error) {
	if err := validateShape(a); err != nil {
		return audio.Waveform{}, err
	}

	frames := a.Frames()
	n := frames * hopSize
	// Margin on both sides for grain overlap; trimmed before returning.
	buf := make([]float64, n+2*fftSize)
	offset := fftSize

	rng := rand.New(rand.NewPCG(synthSeed, 0))

	s.addNoise(buf, offset, a, rng)
	s.addPulses(buf, offset, a)

	out := audio.Waveform{Samples: make([]float64, n), Rate: SampleRate}
	copy(out.Samples, buf[offset:offset+n])
	return out, nil
}

// addNoise overlap-adds one random-phase noise grain per frame, shaped by
// the envelope and weighted by the band aperiodicity.
func (s *Synthesizer) addNoise(buf []float64, offset int, a Analysis, rng *rand.Rand) {
	// Rough COLA compensation for a Hann window hopped far below its length.
	scale := float64(hopSize) / (0.5 * fftSize)

	for i := range a.Frames() {
		env := a.Spectrogram[i]
		ap := a.Aperiodicity[i]
		for k := range specBins {
			mag := env[k] * bandWeight(ap, k)
			phase := 2 * math.Pi * rng.Float64()
			s.spec[k] = cmplx.Rect(mag, phase)
		}
		s.spec[0] = complex(real(s.spec[0]), 0)
		s.spec[specBins-1] = complex(real(s.spec[specBins-1]), 0)

		s.fft.Sequence(s.grain, s.spec)
		center := offset + i*hopSize
		for j := range fftSize {
			v := s.grain[j] / fftSize * s.window[j] * scale
			buf[center-fftSize/2+j] += v
		}
	}
}

// addPulses walks the F0 contour sample by sample, placing one zero-phase
// envelope response per glottal pulse. The response magnitude is the
// periodic complement of the band aperiodicity.
func (s *Synthesizer) addPulses(buf []float64, offset int, a Analysis) {
	frames := a.Frames()
	n := frames * hopSize

	phase := 0.0
	for t := range n {
		f0 := a.F0[t/hopSize]
		if f0 <= 0 {
			phase = 0
			continue
		}
		phase += f0 / SampleRate
		if phase < 1 {
			continue
		}
		phase -= 1

		i := t / hopSize
		env := a.Spectrogram[i]
		ap := a.Aperiodicity[i]
		for k := range specBins {
			w := bandWeight(ap, k)
			s.spec[k] = complex(env[k]*math.Sqrt(1-w*w), 0)
		}
		s.fft.Sequence(s.grain, s.spec)

		// Pulse amplitude ~ period/2 so harmonic amplitudes match the envelope.
		amp := (SampleRate / f0) / 2
		center := offset + t
		half := fftSize / 2
		for j := -half; j < half; j++ {
			v := s.grain[(j+fftSize)%fftSize] / fftSize
			buf[center+j] += v * amp * s.window[j+half]
		}
	}
}

// bandWeight returns the aperiodicity weight for spectral bin k under the
// piecewise-constant band layout.
func bandWeight(ap []float64, k int) float64 {
	for b := range BandCount {
		if k < bandEdges[b+1] {
			return ap[b]
		}
	}
	return ap[BandCount-1]
}

func validateShape(a Analysis) error {
	frames := len(a.F0)
	if frames == 0 {
		return fmt.Errorf("%w: empty analysis", ErrDimensionMismatch)
	}
	if len(a.Spectrogram) != frames || len(a.Aperiodicity) != frames {
		return fmt.Errorf("%w: f0=%d frames, spectrogram=%d, aperiodicity=%d",
			ErrDimensionMismatch, frames, len(a.Spectrogram), len(a.Aperiodicity))
	}
	for i := range frames {
		if len(a.Spectrogram[i]) != specBins {
			return fmt.Errorf("%w: spectrogram frame %d has %d bins, want %d",
				ErrDimensionMismatch, i, len(a.Spectrogram[i]), specBins)
		}
		if len(a.Aperiodicity[i]) != BandCount {
			return fmt.Errorf("%w: aperiodicity frame %d has %d bands, want %d",
				ErrDimensionMismatch, i, len(a.Aperiodicity[i]), BandCount)
		}
	}
	return nil
}
