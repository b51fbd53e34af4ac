package morph_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"voxmorph/internal/cepstrum"
	"voxmorph/internal/morph"
	"voxmorph/internal/timbre"
	"voxmorph/internal/vocoder"
	"voxmorph/pkg/audio"
)

// harmonicVoice synthesises a tone with the given fundamental and per-harmonic
// rolloff exponent, which controls the spectral tilt.
func harmonicVoice(f0 float64, rolloff float64, seconds float64) audio.Waveform {
	n := int(seconds * vocoder.SampleRate)
	samples := make([]float64, n)
	for i := range samples {
		t := float64(i) / vocoder.SampleRate
		for h := 1; h <= 6; h++ {
			samples[i] += math.Sin(2*math.Pi*f0*float64(h)*t) / math.Pow(float64(h), rolloff)
		}
		samples[i] *= 0.25
	}
	return audio.Waveform{Samples: samples, Rate: vocoder.SampleRate}
}

func buildTemplate(t *testing.T, samples ...audio.Waveform) timbre.Template {
	t.Helper()
	b, err := timbre.NewBuilder(timbre.Options{})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	tpl, err := b.Build(context.Background(), samples)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tpl
}

func newEngine(t *testing.T, opts morph.Options) *morph.Engine {
	t.Helper()
	e, err := morph.NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// meanCepstrum analyses w and returns its time-averaged mel-cepstrum.
func meanCepstrum(t *testing.T, w audio.Waveform) []float64 {
	t.Helper()
	analysis, err := vocoder.NewAnalyzer().Analyze(w)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	coder, err := cepstrum.NewCoder(cepstrum.DefaultOrder, cepstrum.DefaultWarp, vocoder.SpectralBins())
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}
	mean := make([]float64, cepstrum.DefaultOrder+1)
	for _, frame := range analysis.Spectrogram {
		mc, err := coder.ToMelCepstrum(frame)
		if err != nil {
			t.Fatalf("ToMelCepstrum: %v", err)
		}
		for m, v := range mc {
			mean[m] += v
		}
	}
	for m := range mean {
		mean[m] /= float64(analysis.Frames())
	}
	return mean
}

// cepstralDistance is the Euclidean distance between two coefficient vectors,
// ignoring the energy term so that level differences do not dominate.
func cepstralDistance(a, b []float64) float64 {
	var sum float64
	for m := 1; m < len(a); m++ {
		d := a[m] - b[m]
		sum += d * d
	}
	return math.Sqrt(sum)
}

func TestMorph_LengthAndRate(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(150, 1, 2)
	tpl := buildTemplate(t, harmonicVoice(300, 3, 1))
	e := newEngine(t, morph.Options{})

	out, err := e.Morph(context.Background(), target, tpl, 0.4)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}
	if out.Rate != vocoder.SampleRate {
		t.Errorf("rate = %d, want %d", out.Rate, vocoder.SampleRate)
	}
	src := len(target.Samples)
	if len(out.Samples) < src || len(out.Samples) >= src+80 {
		t.Errorf("length = %d, want within [%d, %d)", len(out.Samples), src, src+80)
	}
}

func TestMorph_PeakNormalized(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(150, 1, 1)
	tpl := buildTemplate(t, harmonicVoice(250, 2, 1))
	e := newEngine(t, morph.Options{})

	out, err := e.Morph(context.Background(), target, tpl, 0.4)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}
	peak := audio.MaxAbs(out.Samples)
	if math.Abs(peak-0.9) > 1e-9 {
		t.Errorf("peak = %v, want 0.9", peak)
	}
}

func TestMorph_Deterministic(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(150, 1, 1)
	tpl := buildTemplate(t, harmonicVoice(250, 2, 1))
	e := newEngine(t, morph.Options{})

	first, err := e.Morph(context.Background(), target, tpl, 0.4)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}
	second, err := e.Morph(context.Background(), target, tpl, 0.4)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}
	for i := range first.Samples {
		if first.Samples[i] != second.Samples[i] {
			t.Fatalf("sample %d differs between identical morphs", i)
		}
	}
}

func TestMorph_StrengthPullsTowardTemplate(t *testing.T) {
	t.Parallel()
	// Target and template with clearly different spectral tilt.
	target := harmonicVoice(150, 1, 2)
	tpl := buildTemplate(t, harmonicVoice(300, 3, 2))
	e := newEngine(t, morph.Options{})

	outputs := make(map[float64]audio.Waveform)
	distances := make(map[float64]float64)
	for _, strength := range []float64{0.0, 0.5, 1.0} {
		out, err := e.Morph(context.Background(), target, tpl, strength)
		if err != nil {
			t.Fatalf("Morph(strength=%v): %v", strength, err)
		}
		outputs[strength] = out
		distances[strength] = cepstralDistance(meanCepstrum(t, out), tpl.Coefficients)
	}

	if distances[0.0] >= distances[1.0] {
		t.Errorf("full morph should land closer to the template: d(0)=%v, d(1)=%v",
			distances[0.0], distances[1.0])
	}
	if distances[0.5] >= distances[1.0] {
		t.Errorf("half morph should land closer to the template than no morph: d(0.5)=%v, d(1)=%v",
			distances[0.5], distances[1.0])
	}

	// Strength 1.0 keeps the target's own timbre: resynthesis is the only
	// distortion, so the output should sit far closer to the target's cepstra
	// than to the template's.
	identity := cepstralDistance(meanCepstrum(t, outputs[1.0]), meanCepstrum(t, target))
	if identity > 1.0 {
		t.Errorf("strength 1.0 drifted from the target timbre: distance %v", identity)
	}
	if identity >= distances[1.0] {
		t.Errorf("strength 1.0 output closer to template (%v) than to target (%v)",
			distances[1.0], identity)
	}
}

func TestMorph_PreservesPitchContour(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(150, 1, 2)
	tpl := buildTemplate(t, harmonicVoice(300, 3, 1))
	e := newEngine(t, morph.Options{})

	out, err := e.Morph(context.Background(), target, tpl, 0.2)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}

	analysis, err := vocoder.NewAnalyzer().Analyze(out)
	if err != nil {
		t.Fatalf("Analyze output: %v", err)
	}
	// Interior voiced frames should still track the target's 150 Hz, not the
	// template speaker's 300 Hz.
	var voiced, near int
	for i := 10; i < analysis.Frames()-10; i++ {
		f0 := analysis.F0[i]
		if f0 == 0 {
			continue
		}
		voiced++
		if f0 > 130 && f0 < 170 {
			near++
		}
	}
	if voiced == 0 {
		t.Fatal("no voiced frames in morphed output")
	}
	if ratio := float64(near) / float64(voiced); ratio < 0.8 {
		t.Errorf("only %.0f%% of voiced frames near 150 Hz", ratio*100)
	}
}

func TestMorph_StrengthOutOfRange(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(150, 1, 1)
	tpl := buildTemplate(t, harmonicVoice(250, 2, 1))
	e := newEngine(t, morph.Options{})

	for _, strength := range []float64{-0.1, 1.1} {
		if _, err := e.Morph(context.Background(), target, tpl, strength); err == nil {
			t.Errorf("Morph(strength=%v): expected error, got nil", strength)
		}
	}
}

func TestMorph_TemplateOrderMismatch(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(150, 1, 1)
	e := newEngine(t, morph.Options{})

	tpl := timbre.Template{Coefficients: make([]float64, 11), SampleCount: 1}
	_, err := e.Morph(context.Background(), target, tpl, 0.4)
	if !errors.Is(err, vocoder.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestMorph_ShortTarget(t *testing.T) {
	t.Parallel()
	tpl := buildTemplate(t, harmonicVoice(250, 2, 1))
	e := newEngine(t, morph.Options{})

	short := audio.Waveform{Samples: make([]float64, 800), Rate: vocoder.SampleRate}
	_, err := e.Morph(context.Background(), short, tpl, 0.4)
	if !errors.Is(err, vocoder.ErrInsufficientAudio) {
		t.Fatalf("err = %v, want ErrInsufficientAudio", err)
	}
}

func TestMorph_OutputResample(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(150, 1, 1)
	tpl := buildTemplate(t, harmonicVoice(250, 2, 1))
	e := newEngine(t, morph.Options{OutputRate: 48000})

	out, err := e.Morph(context.Background(), target, tpl, 0.4)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}
	if out.Rate != 48000 {
		t.Errorf("rate = %d, want 48000", out.Rate)
	}
	want := 3 * len(target.Samples)
	if len(out.Samples) < want-300 || len(out.Samples) > want+300 {
		t.Errorf("length = %d, want about %d", len(out.Samples), want)
	}
}

func TestMorph_ForeignTargetRate(t *testing.T) {
	t.Parallel()
	target := audio.Resample(harmonicVoice(150, 1, 1), 44100)
	tpl := buildTemplate(t, harmonicVoice(250, 2, 1))
	e := newEngine(t, morph.Options{})

	out, err := e.Morph(context.Background(), target, tpl, 0.4)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}
	if out.Rate != vocoder.SampleRate {
		t.Errorf("rate = %d, want %d", out.Rate, vocoder.SampleRate)
	}
}

func TestMorph_EndToEnd(t *testing.T) {
	t.Parallel()
	target := harmonicVoice(140, 1, 5)
	refs := []audio.Waveform{
		harmonicVoice(220, 2.5, 2),
		harmonicVoice(260, 2.5, 2),
		harmonicVoice(300, 2.5, 2),
	}
	tpl := buildTemplate(t, refs...)
	if tpl.SampleCount != 3 {
		t.Fatalf("SampleCount = %d, want 3", tpl.SampleCount)
	}

	e := newEngine(t, morph.Options{})
	out, err := e.Morph(context.Background(), target, tpl, 0.4)
	if err != nil {
		t.Fatalf("Morph: %v", err)
	}
	src := len(target.Samples)
	if len(out.Samples) < src || len(out.Samples) >= src+80 {
		t.Errorf("length = %d, want within [%d, %d)", len(out.Samples), src, src+80)
	}
	for i, s := range out.Samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			t.Fatalf("sample %d is not finite", i)
		}
	}
}
