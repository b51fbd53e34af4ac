// Package server exposes the morphing pipeline over HTTP.
//
// Endpoints:
//
//   - POST /v1/morph — multipart form with a "target" WAV, one or more
//     "sample" WAVs, and an optional "strength" field. Responds with the
//     morphed audio as a 16-bit mono WAV.
//   - GET /healthz, /readyz — liveness and readiness probes.
//   - GET /metrics — Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxmorph/internal/config"
	"voxmorph/internal/health"
	"voxmorph/internal/morph"
	"voxmorph/internal/observe"
	"voxmorph/internal/timbre"
	"voxmorph/internal/vocoder"
	"voxmorph/internal/wavio"
	"voxmorph/pkg/audio"
)

const (
	// maxUploadBytes caps the multipart form size. Sized for a 300 s stereo
	// target plus ten 30 s samples at 48 kHz 16-bit with container overhead.
	maxUploadBytes = 256 << 20

	// shutdownTimeout bounds the graceful drain on shutdown.
	shutdownTimeout = 10 * time.Second
)

// Server handles HTTP morph requests. Construct with [New].
type Server struct {
	cfg     *config.Config
	builder *timbre.Builder
	engine  *morph.Engine
	metrics *observe.Metrics
}

// New creates a Server from an already-wired builder and engine.
func New(cfg *config.Config, builder *timbre.Builder, engine *morph.Engine, metrics *observe.Metrics) *Server {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Server{
		cfg:     cfg,
		builder: builder,
		engine:  engine,
		metrics: metrics,
	}
}

// Handler returns the full route tree wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/morph", s.handleMorph)
	mux.Handle("GET /metrics", promhttp.Handler())

	h := health.New(
		health.Probe("engine", func() error {
			if s.engine == nil {
				return errors.New("morph engine not initialised")
			}
			return nil
		}),
		health.Probe("templates", func() error {
			if s.builder == nil {
				return errors.New("template builder not initialised")
			}
			return nil
		}),
	)
	h.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// Run serves HTTP on the configured listen address until ctx is cancelled,
// then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// handleMorph implements POST /v1/morph.
func (s *Server) handleMorph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	target, err := s.formWaveform(r.MultipartForm, "target")
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if max := s.cfg.Limits.MaxTargetSeconds; max > 0 && target.Duration().Seconds() > max {
		httpError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("target is %.1fs, longer than the %.0fs maximum", target.Duration().Seconds(), max))
		return
	}

	samples, err := s.formSamples(r.MultipartForm)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	strength, err := s.formStrength(ctx, r.FormValue("strength"))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	tpl, err := s.builder.Build(ctx, samples)
	if err != nil {
		if errors.Is(err, timbre.ErrNoUsableSamples) {
			httpError(w, http.StatusUnprocessableEntity, "no usable reference samples")
			return
		}
		log.Error("template build failed", "error", err)
		httpError(w, http.StatusInternalServerError, "template build failed")
		return
	}

	out, err := s.engine.Morph(ctx, target, tpl, strength)
	if err != nil {
		switch {
		case errors.Is(err, vocoder.ErrInsufficientAudio):
			httpError(w, http.StatusUnprocessableEntity, "target audio is too short")
		case errors.Is(err, vocoder.ErrDimensionMismatch):
			httpError(w, http.StatusUnprocessableEntity, "template is incompatible with this server's cepstral order")
		case errors.Is(err, morph.ErrNumericDegeneracy):
			log.Error("morph degenerated", "error", err)
			httpError(w, http.StatusInternalServerError, "synthesis produced no usable audio")
		default:
			log.Error("morph failed", "error", err)
			httpError(w, http.StatusInternalServerError, "morph failed")
		}
		return
	}

	data, err := wavio.Bytes(out)
	if err != nil {
		log.Error("wav encoding failed", "error", err)
		httpError(w, http.StatusInternalServerError, "encoding failed")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Warn("writing response failed", "error", err)
	}
}

// formWaveform decodes the single WAV file uploaded under name.
func (s *Server) formWaveform(form *multipart.Form, name string) (audio.Waveform, error) {
	files := form.File[name]
	if len(files) == 0 {
		return audio.Waveform{}, fmt.Errorf("missing %q file", name)
	}
	if len(files) > 1 {
		return audio.Waveform{}, fmt.Errorf("expected exactly one %q file, got %d", name, len(files))
	}
	return decodePart(files[0])
}

// formSamples decodes all WAV files uploaded under "sample".
func (s *Server) formSamples(form *multipart.Form) ([]audio.Waveform, error) {
	files := form.File["sample"]
	if len(files) == 0 {
		return nil, errors.New(`missing "sample" files`)
	}
	samples := make([]audio.Waveform, 0, len(files))
	for _, fh := range files {
		w, err := decodePart(fh)
		if err != nil {
			return nil, err
		}
		samples = append(samples, w)
	}
	return samples, nil
}

// formStrength parses the strength field, applying the configured default and
// clamping out-of-range values with a warning.
func (s *Server) formStrength(ctx context.Context, raw string) (float64, error) {
	if raw == "" {
		return s.cfg.Morph.DefaultStrength, nil
	}
	strength, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid strength %q", raw)
	}
	min, max := s.cfg.Morph.MinStrength, s.cfg.Morph.MaxStrength
	if strength < min {
		observe.Logger(ctx).Warn("clamping strength to configured minimum", "requested", strength, "min", min)
		return min, nil
	}
	if strength > max {
		observe.Logger(ctx).Warn("clamping strength to configured maximum", "requested", strength, "max", max)
		return max, nil
	}
	return strength, nil
}

// decodePart opens one multipart file header and decodes it as WAV.
func decodePart(fh *multipart.FileHeader) (audio.Waveform, error) {
	f, err := fh.Open()
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("open %q: %w", fh.Filename, err)
	}
	defer f.Close()

	w, err := wavio.Read(f)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("decode %q: %w", fh.Filename, err)
	}
	return w, nil
}

// httpError writes a JSON error body with the given status.
func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "{%q:%q}\n", "error", msg)
}
