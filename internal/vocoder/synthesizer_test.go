package vocoder_test

import (
	"errors"
	"math"
	"testing"

	"voxmorph/internal/vocoder"
)

// flatAnalysis builds a synthetic analysis with the given frame count, a
// constant F0, a smooth single-bump envelope, and moderate aperiodicity.
func flatAnalysis(frames int, f0 float64) vocoder.Analysis {
	bins := vocoder.SpectralBins()
	a := vocoder.Analysis{
		F0:           make([]float64, frames),
		Spectrogram:  make([][]float64, frames),
		Aperiodicity: make([][]float64, frames),
	}
	for i := range frames {
		a.F0[i] = f0
		env := make([]float64, bins)
		for k := range env {
			x := float64(k-80) / 40
			env[k] = 1e-4 + 0.5*math.Exp(-x*x)
		}
		a.Spectrogram[i] = env
		ap := make([]float64, vocoder.BandCount)
		for b := range ap {
			ap[b] = 0.3
		}
		a.Aperiodicity[i] = ap
	}
	return a
}

func TestSynthesizeDuration(t *testing.T) {
	t.Parallel()
	s := vocoder.NewSynthesizer()
	const frames = 200

	w, err := s.Synthesize(flatAnalysis(frames, 150))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	wantSamples := frames * int(vocoder.FramePeriod.Seconds()*vocoder.SampleRate)
	if len(w.Samples) != wantSamples {
		t.Errorf("got %d samples, want %d", len(w.Samples), wantSamples)
	}
	if w.Rate != vocoder.SampleRate {
		t.Errorf("rate = %d, want %d", w.Rate, vocoder.SampleRate)
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	t.Parallel()
	a := flatAnalysis(120, 220)

	w1, err := vocoder.NewSynthesizer().Synthesize(a)
	if err != nil {
		t.Fatal(err)
	}
	w2, err := vocoder.NewSynthesizer().Synthesize(a)
	if err != nil {
		t.Fatal(err)
	}
	for i := range w1.Samples {
		if w1.Samples[i] != w2.Samples[i] {
			t.Fatalf("sample %d differs between identical runs", i)
		}
	}
}

func TestSynthesizeProducesSignal(t *testing.T) {
	t.Parallel()
	s := vocoder.NewSynthesizer()
	w, err := s.Synthesize(flatAnalysis(200, 150))
	if err != nil {
		t.Fatal(err)
	}
	var energy float64
	for _, v := range w.Samples {
		energy += v * v
	}
	if energy == 0 {
		t.Error("synthesized waveform is silent")
	}
}

func TestSynthesizeDimensionMismatch(t *testing.T) {
	t.Parallel()
	s := vocoder.NewSynthesizer()

	t.Run("frame count disagreement", func(t *testing.T) {
		a := flatAnalysis(50, 150)
		a.Spectrogram = a.Spectrogram[:49]
		if _, err := s.Synthesize(a); !errors.Is(err, vocoder.ErrDimensionMismatch) {
			t.Fatalf("err = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("wrong bin count", func(t *testing.T) {
		a := flatAnalysis(50, 150)
		a.Spectrogram[10] = a.Spectrogram[10][:100]
		if _, err := s.Synthesize(a); !errors.Is(err, vocoder.ErrDimensionMismatch) {
			t.Fatalf("err = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("wrong band count", func(t *testing.T) {
		a := flatAnalysis(50, 150)
		a.Aperiodicity[3] = a.Aperiodicity[3][:2]
		if _, err := s.Synthesize(a); !errors.Is(err, vocoder.ErrDimensionMismatch) {
			t.Fatalf("err = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("empty analysis", func(t *testing.T) {
		if _, err := s.Synthesize(vocoder.Analysis{}); !errors.Is(err, vocoder.ErrDimensionMismatch) {
			t.Fatalf("err = %v, want ErrDimensionMismatch", err)
		}
	})
}

func TestAnalyzeSynthesizeRoundTripLength(t *testing.T) {
	t.Parallel()
	an, err := vocoder.NewAnalyzer().Analyze(sine(220, 1.5))
	if err != nil {
		t.Fatal(err)
	}
	w, err := vocoder.NewSynthesizer().Synthesize(an)
	if err != nil {
		t.Fatal(err)
	}
	src := int(1.5 * vocoder.SampleRate)
	// Framing rounds up to a whole number of frame periods.
	if len(w.Samples) < src || len(w.Samples) >= src+80 {
		t.Errorf("round trip: %d samples for %d input", len(w.Samples), src)
	}
}
