// Package audio provides the waveform value type and the shared numeric
// utilities of the voxmorph pipeline: sample-rate conversion, channel
// downmixing, peak normalization, and non-finite sample scrubbing.
//
// All functions are pure except where documented as in-place. A [Waveform]
// is plain value data; no function retains a reference to its input.
package audio

import (
	"math"
	"time"
)

// Waveform is a decoded mono audio signal: float samples plus the rate they
// were sampled at. The pipeline core only ever sees mono data — multi-channel
// input is downmixed at the decoding boundary before a Waveform is built.
type Waveform struct {
	// Samples holds the signal in the nominal range [-1, 1]. Values outside
	// that range are tolerated; normalization handles them.
	Samples []float64

	// Rate is the sample rate in Hz. Must be positive for a valid waveform.
	Rate int
}

// Duration returns the length of the waveform in time.
func (w Waveform) Duration() time.Duration {
	if w.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.Rate) * float64(time.Second))
}

// Empty reports whether the waveform carries no samples or no valid rate.
func (w Waveform) Empty() bool {
	return len(w.Samples) == 0 || w.Rate <= 0
}

// Clone returns a deep copy of the waveform.
func (w Waveform) Clone() Waveform {
	out := Waveform{Samples: make([]float64, len(w.Samples)), Rate: w.Rate}
	copy(out.Samples, w.Samples)
	return out
}

// Downmix reduces interleaved multi-channel samples to a mono waveform by
// averaging the channels of each frame. Mono input is copied unchanged.
// Trailing samples that do not fill a whole frame are dropped.
func Downmix(interleaved []float64, channels, rate int) Waveform {
	if channels <= 1 {
		out := Waveform{Samples: make([]float64, len(interleaved)), Rate: rate}
		copy(out.Samples, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	samples := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		samples[i] = sum / float64(channels)
	}
	return Waveform{Samples: samples, Rate: rate}
}

// Resample converts w to the given sample rate using linear interpolation.
// Linear interpolation is sufficient for voice material at the rates this
// pipeline works with. When the rate already matches, or either rate is
// invalid, a copy of the input is returned.
func Resample(w Waveform, rate int) Waveform {
	if w.Rate <= 0 || rate <= 0 || w.Rate == rate || len(w.Samples) < 2 {
		out := w.Clone()
		if rate > 0 && len(w.Samples) < 2 {
			out.Rate = rate
		}
		return out
	}

	srcSamples := len(w.Samples)
	dstSamples := int(int64(srcSamples) * int64(rate) / int64(w.Rate))
	if dstSamples == 0 {
		return Waveform{Rate: rate}
	}

	out := make([]float64, dstSamples)
	ratio := float64(w.Rate) / float64(rate)
	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := w.Samples[srcIdx]
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = w.Samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return Waveform{Samples: out, Rate: rate}
}

// Sanitize replaces every NaN or infinite sample with 0, in place. Returns
// the number of samples replaced.
func Sanitize(samples []float64) int {
	replaced := 0
	for i, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			samples[i] = 0
			replaced++
		}
	}
	return replaced
}

// MaxAbs returns the largest absolute sample value, or 0 for an empty slice.
func MaxAbs(samples []float64) float64 {
	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	return peak
}

// PeakNormalize scales samples in place so the maximum absolute value equals
// peak. An all-zero signal is left untouched so that silence stays silence.
func PeakNormalize(samples []float64, peak float64) {
	maxAbs := MaxAbs(samples)
	if maxAbs == 0 {
		return
	}
	gain := peak / maxAbs
	for i := range samples {
		samples[i] *= gain
	}
}

// RMS returns the root-mean-square level of samples, or 0 for an empty slice.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
