// Command voxmorph is the entry point for the voice timbre morphing toolkit.
//
// Subcommands:
//
//	analyze        print vocoder analysis statistics for a WAV file
//	build-template build a timbre template from reference WAV files
//	morph          morph a target WAV toward a timbre template
//	serve          run the HTTP morphing service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"voxmorph/internal/config"
	"voxmorph/internal/morph"
	"voxmorph/internal/observe"
	"voxmorph/internal/server"
	"voxmorph/internal/timbre"
	"voxmorph/internal/vocoder"
	"voxmorph/internal/wavio"
	"voxmorph/pkg/audio"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}

	var err error
	switch args[0] {
	case "analyze":
		err = runAnalyze(args[1:])
	case "build-template":
		err = runBuildTemplate(args[1:])
	case "morph":
		err = runMorph(args[1:])
	case "serve":
		err = runServe(args[1:])
	case "-h", "--help", "help":
		usage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "voxmorph: unknown command %q\n", args[0])
		usage()
		return 2
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "voxmorph: %s: %v\n", errorKind(err), err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: voxmorph <command> [flags]

commands:
  analyze        print vocoder analysis statistics for a WAV file
  build-template build a timbre template from reference WAV files
  morph          morph a target WAV toward a timbre template
  serve          run the HTTP morphing service

run "voxmorph <command> -h" for command flags
`)
}

// ── analyze ──────────────────────────────────────────────────────────────────

func runAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	in := fs.String("in", "", "input WAV file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("analyze: -in is required")
	}

	w, err := wavio.ReadFile(*in)
	if err != nil {
		return err
	}
	if w.Rate != vocoder.SampleRate {
		w = audio.Resample(w, vocoder.SampleRate)
	}

	analysis, err := vocoder.NewAnalyzer().Analyze(w)
	if err != nil {
		return err
	}

	var voiced int
	var f0Sum float64
	for _, f0 := range analysis.F0 {
		if f0 > 0 {
			voiced++
			f0Sum += f0
		}
	}
	meanF0 := 0.0
	if voiced > 0 {
		meanF0 = f0Sum / float64(voiced)
	}

	fmt.Printf("file:          %s\n", *in)
	fmt.Printf("duration:      %.2fs\n", w.Duration().Seconds())
	fmt.Printf("frames:        %d (%.0f ms hop)\n", analysis.Frames(), vocoder.FramePeriod.Seconds()*1000)
	fmt.Printf("voiced frames: %d (%.0f%%)\n", voiced, 100*float64(voiced)/float64(analysis.Frames()))
	fmt.Printf("mean F0:       %.1f Hz\n", meanF0)
	fmt.Printf("spectral bins: %d\n", vocoder.SpectralBins())
	return nil
}

// ── build-template ───────────────────────────────────────────────────────────

func runBuildTemplate(args []string) error {
	fs := flag.NewFlagSet("build-template", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML configuration file")
	out := fs.String("out", "template.json", "output template file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("build-template: at least one reference WAV is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	samples := make([]audio.Waveform, 0, fs.NArg())
	for _, path := range fs.Args() {
		w, err := wavio.ReadFile(path)
		if err != nil {
			return err
		}
		samples = append(samples, w)
	}

	builder, err := newBuilder(cfg)
	if err != nil {
		return err
	}
	tpl, err := builder.Build(context.Background(), samples)
	if err != nil {
		return err
	}
	if err := tpl.SaveFile(*out); err != nil {
		return err
	}

	slog.Info("template written",
		"path", *out,
		"samples_used", tpl.SampleCount,
		"samples_given", len(samples),
		"order", tpl.Order(),
	)
	return nil
}

// ── morph ────────────────────────────────────────────────────────────────────

func runMorph(args []string) error {
	fs := flag.NewFlagSet("morph", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML configuration file")
	targetPath := fs.String("target", "", "target WAV file")
	templatePath := fs.String("template", "", "timbre template JSON (from build-template)")
	out := fs.String("out", "morphed.wav", "output WAV file")
	strength := fs.Float64("strength", 0, "identity preservation factor (0 = config default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *targetPath == "" {
		return errors.New("morph: -target is required")
	}
	if *templatePath == "" && fs.NArg() == 0 {
		return errors.New("morph: provide -template or reference WAVs as arguments")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	target, err := wavio.ReadFile(*targetPath)
	if err != nil {
		return err
	}
	if max := cfg.Limits.MaxTargetSeconds; max > 0 && target.Duration().Seconds() > max {
		return fmt.Errorf("morph: target is %.1fs, longer than the %.0fs maximum", target.Duration().Seconds(), max)
	}

	var tpl timbre.Template
	if *templatePath != "" {
		tpl, err = timbre.LoadFile(*templatePath)
		if err != nil {
			return err
		}
	} else {
		samples := make([]audio.Waveform, 0, fs.NArg())
		for _, path := range fs.Args() {
			w, err := wavio.ReadFile(path)
			if err != nil {
				return err
			}
			samples = append(samples, w)
		}
		builder, err := newBuilder(cfg)
		if err != nil {
			return err
		}
		tpl, err = builder.Build(context.Background(), samples)
		if err != nil {
			return err
		}
	}

	s := *strength
	if s == 0 {
		s = cfg.Morph.DefaultStrength
	}
	if s < cfg.Morph.MinStrength {
		slog.Warn("clamping strength to configured minimum", "requested", s, "min", cfg.Morph.MinStrength)
		s = cfg.Morph.MinStrength
	} else if s > cfg.Morph.MaxStrength {
		slog.Warn("clamping strength to configured maximum", "requested", s, "max", cfg.Morph.MaxStrength)
		s = cfg.Morph.MaxStrength
	}

	// With no configured output rate, match the target file's own rate.
	outputRate := cfg.Morph.OutputRate
	if outputRate == 0 {
		outputRate = target.Rate
	}
	engine, err := morph.NewEngine(morph.Options{
		Order:      cfg.Analysis.CepstrumOrder,
		Warp:       cfg.Analysis.Warp,
		OutputRate: outputRate,
	})
	if err != nil {
		return err
	}

	result, err := engine.Morph(context.Background(), target, tpl, s)
	if err != nil {
		return err
	}
	if err := wavio.WriteFile(*out, result); err != nil {
		return err
	}

	slog.Info("morph written",
		"path", *out,
		"duration", result.Duration(),
		"rate", result.Rate,
		"strength", s,
	)
	return nil
}

// ── serve ────────────────────────────────────────────────────────────────────

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found — copy configs/example.yaml to get started", *configPath)
		}
		return err
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("voxmorph starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxmorph"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()

	builder, err := newBuilder(cfg)
	if err != nil {
		return err
	}
	engine, err := morph.NewEngine(morph.Options{
		Order:      cfg.Analysis.CepstrumOrder,
		Warp:       cfg.Analysis.Warp,
		OutputRate: cfg.Morph.OutputRate,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	srv := server.New(cfg, builder, engine, metrics)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// ── Shared wiring ─────────────────────────────────────────────────────────────

// loadConfig reads the config file when a path is given and falls back to
// built-in defaults otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newBuilder(cfg *config.Config) (*timbre.Builder, error) {
	return timbre.NewBuilder(timbre.Options{
		Order:            cfg.Analysis.CepstrumOrder,
		Warp:             cfg.Analysis.Warp,
		Workers:          cfg.Template.Workers,
		CacheSize:        cfg.Template.CacheSize,
		MinSampleSeconds: cfg.Limits.SampleMinSeconds,
		MaxSampleSeconds: cfg.Limits.SampleMaxSeconds,
	})
}

// errorKind maps well-known pipeline errors to short labels for CLI output.
func errorKind(err error) string {
	switch {
	case errors.Is(err, vocoder.ErrInsufficientAudio):
		return "insufficient-audio"
	case errors.Is(err, vocoder.ErrDimensionMismatch):
		return "dimension-mismatch"
	case errors.Is(err, timbre.ErrNoUsableSamples):
		return "no-usable-samples"
	case errors.Is(err, morph.ErrNumericDegeneracy):
		return "numeric-degeneracy"
	default:
		return "error"
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
