package timbre

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"voxmorph/internal/cepstrum"
	"voxmorph/internal/observe"
	"voxmorph/internal/vocoder"
	"voxmorph/pkg/audio"
)

// ErrNoUsableSamples is returned by [Builder.Build] when every reference
// sample was rejected (too short, outside the duration limits, or failed
// analysis).
var ErrNoUsableSamples = errors.New("timbre: no usable reference samples")

// errSampleTooLong marks samples rejected for exceeding the duration cap.
var errSampleTooLong = errors.New("sample exceeds maximum duration")

// Options configures a [Builder].
type Options struct {
	// Order is the mel-cepstral order. 0 means [cepstrum.DefaultOrder].
	Order int

	// Warp is the all-pass warping factor. 0 means [cepstrum.DefaultWarp].
	Warp float64

	// Workers caps concurrent sample analysis. 0 means one per CPU.
	Workers int

	// CacheSize is the LRU capacity for memoized templates. 0 disables
	// caching.
	CacheSize int

	// MinSampleSeconds and MaxSampleSeconds bound usable sample durations.
	// Samples outside the bounds are skipped with a warning. Zero disables
	// the respective bound (the vocoder's own minimum still applies).
	MinSampleSeconds float64
	MaxSampleSeconds float64

	// Metrics receives build counters and durations. Nil means
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Builder turns sets of reference samples into timbre templates. It is safe
// for concurrent use.
type Builder struct {
	order   int
	workers int
	minSecs float64
	maxSecs float64
	coder   *cepstrum.Coder
	cache   *lru.Cache[string, Template]
	metrics *observe.Metrics
}

// NewBuilder creates a Builder with the given options.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.Order == 0 {
		opts.Order = cepstrum.DefaultOrder
	}
	if opts.Warp == 0 {
		opts.Warp = cepstrum.DefaultWarp
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.DefaultMetrics()
	}

	coder, err := cepstrum.NewCoder(opts.Order, opts.Warp, vocoder.SpectralBins())
	if err != nil {
		return nil, fmt.Errorf("timbre: %w", err)
	}

	b := &Builder{
		order:   opts.Order,
		workers: opts.Workers,
		minSecs: opts.MinSampleSeconds,
		maxSecs: opts.MaxSampleSeconds,
		coder:   coder,
		metrics: opts.Metrics,
	}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, Template](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("timbre: create cache: %w", err)
		}
		b.cache = cache
	}
	return b, nil
}

// reduction is the per-sample intermediate: the time-mean cepstrum of one
// reference sample, tagged with its content digest for order-independent
// aggregation.
type reduction struct {
	digest string
	mean   []float64
}

// Build analyses every reference sample concurrently and returns the
// equal-weight average of their per-sample mean cepstra. Samples that are too
// short or fail analysis are skipped with a warning; if all samples are
// skipped, Build returns [ErrNoUsableSamples].
//
// The result depends only on the content of the sample set, not on its order:
// identical sets yield bit-identical templates.
func (b *Builder) Build(ctx context.Context, samples []audio.Waveform) (Template, error) {
	start := time.Now()
	tpl, err := b.build(ctx, samples)
	status := "ok"
	if err != nil {
		status = "error"
	}
	b.metrics.RecordTemplateBuild(ctx, time.Since(start), status)
	return tpl, err
}

func (b *Builder) build(ctx context.Context, samples []audio.Waveform) (Template, error) {
	if len(samples) == 0 {
		return Template{}, fmt.Errorf("timbre: build: %w", ErrNoUsableSamples)
	}

	digests := make([]string, len(samples))
	for i, s := range samples {
		digests[i] = waveformDigest(s)
	}
	key := setFingerprint(digests)

	if b.cache != nil {
		if tpl, ok := b.cache.Get(key); ok {
			b.metrics.TemplateCacheHits.Add(ctx, 1)
			return tpl, nil
		}
	}

	results := make([]*reduction, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			red, err := b.reduceSample(gctx, samples[i], digests[i])
			if err != nil {
				// A cancelled context fails the build; anything else only
				// skips the one sample.
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				slog.Warn("skipping reference sample",
					"index", i,
					"duration", samples[i].Duration(),
					"reason", err,
				)
				b.metrics.RecordSampleSkipped(gctx, skipReason(err))
				return nil
			}
			results[i] = red
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Template{}, fmt.Errorf("timbre: build: %w", err)
	}

	usable := results[:0]
	for _, r := range results {
		if r != nil {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		return Template{}, fmt.Errorf("timbre: build: %w", ErrNoUsableSamples)
	}

	// Aggregate in digest order so the template is independent of the order
	// the caller supplied the samples in.
	sort.Slice(usable, func(i, j int) bool { return usable[i].digest < usable[j].digest })

	coeffs := make([]float64, b.order+1)
	for _, r := range usable {
		for m, v := range r.mean {
			coeffs[m] += v
		}
	}
	inv := 1.0 / float64(len(usable))
	for m := range coeffs {
		coeffs[m] *= inv
	}

	tpl := Template{Coefficients: coeffs, SampleCount: len(usable)}
	if b.cache != nil {
		b.cache.Add(key, tpl)
	}
	return tpl, nil
}

// reduceSample resamples, analyses, and time-averages one reference sample.
func (b *Builder) reduceSample(ctx context.Context, w audio.Waveform, digest string) (*reduction, error) {
	dur := w.Duration().Seconds()
	if b.minSecs > 0 && dur < b.minSecs {
		return nil, fmt.Errorf("sample is %.2fs, below the %.0fs minimum: %w", dur, b.minSecs, vocoder.ErrInsufficientAudio)
	}
	if b.maxSecs > 0 && dur > b.maxSecs {
		return nil, fmt.Errorf("sample is %.2fs, above the %.0fs maximum: %w", dur, b.maxSecs, errSampleTooLong)
	}

	if w.Rate != vocoder.SampleRate {
		w = audio.Resample(w, vocoder.SampleRate)
	}

	analyzer := vocoder.NewAnalyzer()
	analysis, err := analyzer.Analyze(w)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mean := make([]float64, b.order+1)
	for _, frame := range analysis.Spectrogram {
		mc, err := b.coder.ToMelCepstrum(frame)
		if err != nil {
			return nil, err
		}
		for m, v := range mc {
			mean[m] += v
		}
	}
	inv := 1.0 / float64(len(analysis.Spectrogram))
	for m := range mean {
		mean[m] *= inv
	}
	return &reduction{digest: digest, mean: mean}, nil
}

// waveformDigest returns a hex SHA-256 over the waveform's rate and raw
// sample bits.
func waveformDigest(w audio.Waveform) string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(w.Rate))
	h.Write(buf[:])
	for _, s := range w.Samples {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(s))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// setFingerprint combines per-sample digests into one order-independent cache
// key.
func setFingerprint(digests []string) string {
	sorted := make([]string, len(digests))
	copy(sorted, digests)
	sort.Strings(sorted)

	h := sha256.New()
	for _, d := range sorted {
		h.Write([]byte(d))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// skipReason maps a sample rejection error to a low-cardinality metric label.
func skipReason(err error) string {
	switch {
	case errors.Is(err, vocoder.ErrInsufficientAudio):
		return "too-short"
	case errors.Is(err, errSampleTooLong):
		return "too-long"
	default:
		return "analysis-failed"
	}
}
