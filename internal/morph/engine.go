// Package morph blends a speaker's timbre template into a target voice
// track. The target is decomposed by the vocoder, its per-frame spectral
// envelopes are pulled toward the template in the mel-cepstral domain, and
// the result is resynthesised with the target's original pitch contour and
// aperiodicity intact.
package morph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxmorph/internal/cepstrum"
	"voxmorph/internal/observe"
	"voxmorph/internal/timbre"
	"voxmorph/internal/vocoder"
	"voxmorph/pkg/audio"
)

// outputPeak is the normalisation target for morphed audio, leaving ~1 dB of
// headroom below full scale.
const outputPeak = 0.9

// ErrNumericDegeneracy is returned when resynthesis produces no finite
// samples at all. It indicates a degenerate template or analysis rather than
// a caller mistake.
var ErrNumericDegeneracy = errors.New("morph: synthesis produced no finite samples")

// Options configures an [Engine].
type Options struct {
	// Order is the mel-cepstral order. 0 means [cepstrum.DefaultOrder].
	// Must match the order of the templates passed to Morph.
	Order int

	// Warp is the all-pass warping factor. 0 means [cepstrum.DefaultWarp].
	Warp float64

	// OutputRate is the sample rate of morphed output. 0 keeps the 16 kHz
	// processing rate.
	OutputRate int

	// Metrics receives morph counters and stage durations. Nil means
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Engine morphs target tracks toward timbre templates. It is safe for
// concurrent use; per-call analysis state is allocated per invocation.
type Engine struct {
	coder      *cepstrum.Coder
	outputRate int
	metrics    *observe.Metrics
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Order == 0 {
		opts.Order = cepstrum.DefaultOrder
	}
	if opts.Warp == 0 {
		opts.Warp = cepstrum.DefaultWarp
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}
	if opts.OutputRate < 0 {
		return nil, fmt.Errorf("morph: invalid output rate %d", opts.OutputRate)
	}

	coder, err := cepstrum.NewCoder(opts.Order, opts.Warp, vocoder.SpectralBins())
	if err != nil {
		return nil, fmt.Errorf("morph: %w", err)
	}
	return &Engine{
		coder:      coder,
		outputRate: opts.OutputRate,
		metrics:    opts.Metrics,
	}, nil
}

// Morph blends tpl into target with the given strength and returns the
// resynthesised waveform.
//
// Strength is the identity-preservation factor in [0, 1]: each frame's
// cepstrum becomes strength·original + (1−strength)·template, so 1 leaves
// the target untouched and 0 replaces its envelope entirely.
//
// The target's pitch contour and aperiodicity pass through unchanged. Output
// is scrubbed of non-finite samples and peak-normalised; a fully non-finite
// result returns [ErrNumericDegeneracy].
func (e *Engine) Morph(ctx context.Context, target audio.Waveform, tpl timbre.Template, strength float64) (audio.Waveform, error) {
	start := time.Now()
	out, err := e.morph(ctx, target, tpl, strength)
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordMorph(ctx, time.Since(start), status)
	return out, err
}

func (e *Engine) morph(ctx context.Context, target audio.Waveform, tpl timbre.Template, strength float64) (audio.Waveform, error) {
	if strength < 0 || strength > 1 {
		return audio.Waveform{}, fmt.Errorf("morph: strength %.3f is out of range [0, 1]", strength)
	}
	if tpl.Order() != e.coder.Order() {
		return audio.Waveform{}, fmt.Errorf("morph: template order %d does not match engine order %d: %w",
			tpl.Order(), e.coder.Order(), vocoder.ErrDimensionMismatch)
	}

	if target.Rate != vocoder.SampleRate {
		target = audio.Resample(target, vocoder.SampleRate)
	}

	analysisStart := time.Now()
	analysis, err := vocoder.NewAnalyzer().Analyze(target)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("morph: analyze target: %w", err)
	}
	e.metrics.AnalysisDuration.Record(ctx, time.Since(analysisStart).Seconds())

	if err := ctx.Err(); err != nil {
		return audio.Waveform{}, err
	}

	blended, err := e.blendFrames(analysis.Spectrogram, tpl.Coefficients, strength)
	if err != nil {
		return audio.Waveform{}, err
	}
	analysis.Spectrogram = blended

	if err := ctx.Err(); err != nil {
		return audio.Waveform{}, err
	}

	synthStart := time.Now()
	out, err := vocoder.NewSynthesizer().Synthesize(analysis)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("morph: synthesize: %w", err)
	}
	e.metrics.SynthesisDuration.Record(ctx, time.Since(synthStart).Seconds())

	scrubbed := audio.Sanitize(out.Samples)
	if len(out.Samples) > 0 && scrubbed == len(out.Samples) {
		return audio.Waveform{}, fmt.Errorf("morph: %w", ErrNumericDegeneracy)
	}
	audio.PeakNormalize(out.Samples, outputPeak)

	if e.outputRate != 0 && e.outputRate != out.Rate {
		out = audio.Resample(out, e.outputRate)
	}
	return out, nil
}

// blendFrames moves every spectral frame toward the template in the
// mel-cepstral domain and reconstructs the envelopes.
func (e *Engine) blendFrames(spectrogram [][]float64, template []float64, strength float64) ([][]float64, error) {
	blended := make([][]float64, len(spectrogram))
	for i, frame := range spectrogram {
		mc, err := e.coder.ToMelCepstrum(frame)
		if err != nil {
			return nil, fmt.Errorf("morph: frame %d: %w", i, err)
		}
		for m := range mc {
			mc[m] = strength*mc[m] + (1-strength)*template[m]
		}
		env, err := e.coder.ToSpectralEnvelope(mc)
		if err != nil {
			return nil, fmt.Errorf("morph: frame %d: %w", i, err)
		}
		blended[i] = env
	}
	return blended, nil
}
