package vocoder_test

import (
	"errors"
	"math"
	"testing"

	"voxmorph/internal/vocoder"
	"voxmorph/pkg/audio"
)

func sine(freq float64, seconds float64) audio.Waveform {
	n := int(seconds * vocoder.SampleRate)
	w := audio.Waveform{Samples: make([]float64, n), Rate: vocoder.SampleRate}
	for i := range w.Samples {
		w.Samples[i] = 0.6 * math.Sin(2*math.Pi*freq*float64(i)/vocoder.SampleRate)
	}
	return w
}

func TestAnalyzeFrameAlignment(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	w := sine(220, 1.25)

	an, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	wantFrames := vocoder.FrameCount(len(w.Samples))
	if an.Frames() != wantFrames {
		t.Errorf("frames = %d, want %d", an.Frames(), wantFrames)
	}
	if len(an.Spectrogram) != an.Frames() || len(an.Aperiodicity) != an.Frames() {
		t.Errorf("misaligned outputs: f0=%d spec=%d ap=%d",
			an.Frames(), len(an.Spectrogram), len(an.Aperiodicity))
	}
	for i := range an.Frames() {
		if len(an.Spectrogram[i]) != vocoder.SpectralBins() {
			t.Fatalf("frame %d: %d bins, want %d", i, len(an.Spectrogram[i]), vocoder.SpectralBins())
		}
		if len(an.Aperiodicity[i]) != vocoder.BandCount {
			t.Fatalf("frame %d: %d bands, want %d", i, len(an.Aperiodicity[i]), vocoder.BandCount)
		}
	}
}

func TestAnalyzeRejectsShortInput(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	w := audio.Waveform{Samples: make([]float64, 800), Rate: vocoder.SampleRate}

	_, err := a.Analyze(w)
	if !errors.Is(err, vocoder.ErrInsufficientAudio) {
		t.Fatalf("err = %v, want ErrInsufficientAudio", err)
	}
}

func TestAnalyzeRejectsWrongRate(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	w := audio.Waveform{Samples: make([]float64, 44100), Rate: 44100}

	if _, err := a.Analyze(w); err == nil {
		t.Fatal("expected error for non-16kHz input, got nil")
	}
}

func TestAnalyzeSineF0(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	an, err := a.Analyze(sine(220, 2))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// Interior frames of a steady tone should be voiced near 220 Hz.
	voiced := 0
	for i := 20; i < an.Frames()-20; i++ {
		f0 := an.F0[i]
		if f0 == 0 {
			continue
		}
		voiced++
		if f0 < 200 || f0 > 240 {
			t.Fatalf("frame %d: f0 = %.1f Hz, want near 220", i, f0)
		}
	}
	if voiced < an.Frames()/2 {
		t.Errorf("only %d of %d frames voiced", voiced, an.Frames())
	}
}

func TestAnalyzeF0AvoidsSubharmonics(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()

	// A harmonic-rich tone correlates near 1.0 at every multiple of its
	// period; the lag search must still land on the fundamental, not an
	// octave or two below it.
	const f0 = 180.0
	n := 2 * vocoder.SampleRate
	w := audio.Waveform{Samples: make([]float64, n), Rate: vocoder.SampleRate}
	for i := range w.Samples {
		for h := 1; h <= 5; h++ {
			w.Samples[i] += math.Sin(2*math.Pi*f0*float64(h)*float64(i)/vocoder.SampleRate) / float64(h*h)
		}
		w.Samples[i] *= 0.3
	}

	an, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for i := 20; i < an.Frames()-20; i++ {
		got := an.F0[i]
		if got == 0 {
			continue
		}
		if got < f0*0.9 || got > f0*1.1 {
			t.Fatalf("frame %d: f0 = %.1f Hz, want near %.0f (subharmonic pick)", i, got, f0)
		}
	}
}

func TestAnalyzeSilenceIsUnvoiced(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	w := audio.Waveform{Samples: make([]float64, vocoder.SampleRate), Rate: vocoder.SampleRate}

	an, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("silence must not fail analysis: %v", err)
	}
	for i, f0 := range an.F0 {
		if f0 != 0 {
			t.Fatalf("frame %d: f0 = %v for silent input", i, f0)
		}
	}
	// Degenerate input degrades to a near-silent but finite, positive envelope.
	for i, frame := range an.Spectrogram {
		for k, v := range frame {
			if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("frame %d bin %d: envelope value %v", i, k, v)
			}
		}
	}
}

func TestAperiodicityBounds(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	// Two partials keep the signal deterministic while spreading energy
	// across bands.
	w := sine(180, 1)
	for i := range w.Samples {
		w.Samples[i] += 0.2 * math.Sin(2*math.Pi*2500*float64(i)/vocoder.SampleRate)
	}

	an, err := a.Analyze(w)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for i, frame := range an.Aperiodicity {
		for b, v := range frame {
			if v < 0 || v > 1 {
				t.Fatalf("frame %d band %d: aperiodicity %v outside [0,1]", i, b, v)
			}
		}
	}
}

func TestAperiodicityTonalBandIsLow(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	an, err := a.Analyze(sine(220, 1))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	// The band containing the tone should read clearly more periodic than 1.
	mid := an.Frames() / 2
	if got := an.Aperiodicity[mid][0]; got > 0.6 {
		t.Errorf("band 0 aperiodicity = %v for a pure tone, want < 0.6", got)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	t.Parallel()
	w := sine(300, 1)
	a1, err := vocoder.NewAnalyzer().Analyze(w)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := vocoder.NewAnalyzer().Analyze(w)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a1.F0 {
		if a1.F0[i] != a2.F0[i] {
			t.Fatalf("frame %d: f0 differs between runs", i)
		}
		for k := range a1.Spectrogram[i] {
			if a1.Spectrogram[i][k] != a2.Spectrogram[i][k] {
				t.Fatalf("frame %d bin %d: envelope differs between runs", i, k)
			}
		}
	}
}

func TestEnvelopeTracksSpectralPeak(t *testing.T) {
	t.Parallel()
	a := vocoder.NewAnalyzer()
	an, err := a.Analyze(sine(1000, 1))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	mid := an.Spectrogram[an.Frames()/2]
	peakBin := 0
	for k, v := range mid {
		if v > mid[peakBin] {
			peakBin = k
		}
	}
	// 1 kHz falls on bin 64 at a 1024-point FFT over 16 kHz. Envelope
	// smoothing spreads the peak; allow a generous neighbourhood.
	if peakBin < 56 || peakBin > 72 {
		t.Errorf("envelope peak at bin %d, want near 64", peakBin)
	}
}
