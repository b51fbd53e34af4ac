package vocoder

import "math"

// Pitch search bounds. 60–400 Hz covers speech and most sung vocals.
const (
	f0Floor = 60.0
	f0Ceil  = 400.0

	// pitchWindow is the correlation window length in samples (40 ms).
	// It must exceed twice the longest candidate lag.
	pitchWindow = 640

	// voicingThreshold is the minimum normalized autocorrelation peak for a
	// frame to count as voiced.
	voicingThreshold = 0.30

	// silenceRMS is the level below which a frame is treated as silent and
	// reported unvoiced without running the correlation search.
	silenceRMS = 1e-5

	// octaveBias is the per-sample penalty applied to longer candidate lags.
	// A periodic signal correlates near 1.0 at every multiple of its period,
	// so without the bias floating-point noise can pick 2x or 3x the true
	// lag. Per draft-vos-silk-01 section 2.1.2.5.
	octaveBias = 0.001
)

// f0Contour estimates the per-frame fundamental frequency of samples.
// Unvoiced and silent frames yield 0. Never panics on silence or constant
// signals; energy guards keep every division defined.
func (a *Analyzer) f0Contour(samples []float64) []float64 {
	frames := FrameCount(len(samples))
	f0 := make([]float64, frames)

	minLag := int(math.Floor(SampleRate / f0Ceil))
	maxLag := int(math.Floor(SampleRate/f0Floor)) + 1
	buf := make([]float64, pitchWindow)

	for i := range frames {
		center := i * hopSize
		extractFrame(samples, center, buf)

		if frameRMS(buf) < silenceRMS {
			continue
		}
		lag, clarity := bestPitchLag(buf, minLag, maxLag)
		if clarity < voicingThreshold || lag <= 0 {
			continue
		}
		f0[i] = SampleRate / lag
	}
	return f0
}

// bestPitchLag runs a normalized autocorrelation search over [minLag, maxLag]
// and returns the interpolated peak lag and its correlation value. Longer
// lags are scored with a short-lag bias so the fundamental wins over its
// subharmonics. A lag of 0 means no defined peak (degenerate energy).
func bestPitchLag(buf []float64, minLag, maxLag int) (lag float64, clarity float64) {
	n := len(buf)
	if maxLag >= n/2 {
		maxLag = n/2 - 1
	}
	if maxLag <= minLag {
		return 0, 0
	}

	corr := make([]float64, maxLag+1)
	bestLag, bestScore := 0, 0.0
	for tau := minLag; tau <= maxLag; tau++ {
		span := n - tau
		var cross, e0, e1 float64
		for t := range span {
			cross += buf[t] * buf[t+tau]
			e0 += buf[t] * buf[t]
			e1 += buf[t+tau] * buf[t+tau]
		}
		denom := math.Sqrt(e0 * e1)
		if denom == 0 {
			continue
		}
		corr[tau] = cross / denom
		score := corr[tau] * (1 - octaveBias*float64(tau-minLag))
		if score > bestScore {
			bestScore = score
			bestLag = tau
		}
	}
	if bestLag == 0 {
		return 0, 0
	}

	refined := float64(bestLag)
	if bestLag > minLag && bestLag < maxLag {
		refined += parabolicOffset(corr[bestLag-1], corr[bestLag], corr[bestLag+1])
	}
	return refined, corr[bestLag]
}

// parabolicOffset refines a discrete peak position by fitting a parabola
// through the peak and its neighbours. The result is in (-0.5, 0.5).
func parabolicOffset(left, center, right float64) float64 {
	denom := left - 2*center + right
	if denom == 0 {
		return 0
	}
	offset := 0.5 * (left - right) / denom
	if offset > 0.5 || offset < -0.5 {
		return 0
	}
	return offset
}

// extractFrame copies a window of len(dst) samples centered at center into
// dst, zero-padding outside the signal bounds.
func extractFrame(samples []float64, center int, dst []float64) {
	half := len(dst) / 2
	for j := range dst {
		idx := center - half + j
		if idx >= 0 && idx < len(samples) {
			dst[j] = samples[idx]
		} else {
			dst[j] = 0
		}
	}
}

func frameRMS(buf []float64) float64 {
	var sum float64
	for _, s := range buf {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(buf)))
}
