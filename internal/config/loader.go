package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultWarp is the warping factor matched to the 16 kHz processing rate.
const defaultWarp = 0.55

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: run with defaults.
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields whose documented meaning is "use the
// default". Decoding overwrites struct fields that the YAML sets explicitly
// to zero, so defaults are re-applied after decode.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = def.Server.ListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Analysis.CepstrumOrder == 0 {
		cfg.Analysis.CepstrumOrder = def.Analysis.CepstrumOrder
	}
	if cfg.Analysis.Warp == 0 {
		cfg.Analysis.Warp = def.Analysis.Warp
	}
	if cfg.Morph.DefaultStrength == 0 {
		cfg.Morph.DefaultStrength = def.Morph.DefaultStrength
	}
	if cfg.Morph.MinStrength == 0 {
		cfg.Morph.MinStrength = def.Morph.MinStrength
	}
	if cfg.Morph.MaxStrength == 0 {
		cfg.Morph.MaxStrength = def.Morph.MaxStrength
	}
	if cfg.Limits.MaxTargetSeconds == 0 {
		cfg.Limits.MaxTargetSeconds = def.Limits.MaxTargetSeconds
	}
	if cfg.Limits.SampleMinSeconds == 0 {
		cfg.Limits.SampleMinSeconds = def.Limits.SampleMinSeconds
	}
	if cfg.Limits.SampleMaxSeconds == 0 {
		cfg.Limits.SampleMaxSeconds = def.Limits.SampleMaxSeconds
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Analysis
	if cfg.Analysis.CepstrumOrder < 1 {
		errs = append(errs, fmt.Errorf("analysis.cepstrum_order %d must be at least 1", cfg.Analysis.CepstrumOrder))
	}
	if cfg.Analysis.Warp <= -1 || cfg.Analysis.Warp >= 1 {
		errs = append(errs, fmt.Errorf("analysis.warp %.3f is out of range (-1, 1)", cfg.Analysis.Warp))
	} else if cfg.Analysis.Warp != defaultWarp {
		slog.Warn("analysis.warp differs from the value matched to the 16 kHz processing rate; templates built with other warp values are incompatible",
			"warp", cfg.Analysis.Warp,
			"default", defaultWarp,
		)
	}

	// Template
	if cfg.Template.Workers < 0 {
		errs = append(errs, fmt.Errorf("template.workers %d must not be negative", cfg.Template.Workers))
	}
	if cfg.Template.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("template.cache_size %d must not be negative", cfg.Template.CacheSize))
	}

	// Morph
	if cfg.Morph.MinStrength < 0 || cfg.Morph.MinStrength > 1 {
		errs = append(errs, fmt.Errorf("morph.min_strength %.2f is out of range [0, 1]", cfg.Morph.MinStrength))
	}
	if cfg.Morph.MaxStrength < 0 || cfg.Morph.MaxStrength > 1 {
		errs = append(errs, fmt.Errorf("morph.max_strength %.2f is out of range [0, 1]", cfg.Morph.MaxStrength))
	}
	if cfg.Morph.MinStrength > cfg.Morph.MaxStrength {
		errs = append(errs, fmt.Errorf("morph.min_strength %.2f exceeds morph.max_strength %.2f", cfg.Morph.MinStrength, cfg.Morph.MaxStrength))
	}
	if cfg.Morph.DefaultStrength < cfg.Morph.MinStrength || cfg.Morph.DefaultStrength > cfg.Morph.MaxStrength {
		errs = append(errs, fmt.Errorf("morph.default_strength %.2f is outside [min_strength, max_strength] = [%.2f, %.2f]",
			cfg.Morph.DefaultStrength, cfg.Morph.MinStrength, cfg.Morph.MaxStrength))
	}
	if cfg.Morph.OutputRate < 0 {
		errs = append(errs, fmt.Errorf("morph.output_rate %d must not be negative", cfg.Morph.OutputRate))
	}
	if cfg.Morph.OutputRate > 0 && cfg.Morph.OutputRate < 8000 {
		slog.Warn("morph.output_rate is below 8 kHz; output audio will be severely band-limited",
			"output_rate", cfg.Morph.OutputRate,
		)
	}

	// Limits
	if cfg.Limits.MaxTargetSeconds < 0 {
		errs = append(errs, fmt.Errorf("limits.max_target_seconds %.1f must not be negative", cfg.Limits.MaxTargetSeconds))
	}
	if cfg.Limits.SampleMinSeconds < 0 {
		errs = append(errs, fmt.Errorf("limits.sample_min_seconds %.1f must not be negative", cfg.Limits.SampleMinSeconds))
	}
	if cfg.Limits.SampleMaxSeconds > 0 && cfg.Limits.SampleMinSeconds > cfg.Limits.SampleMaxSeconds {
		errs = append(errs, fmt.Errorf("limits.sample_min_seconds %.1f exceeds limits.sample_max_seconds %.1f",
			cfg.Limits.SampleMinSeconds, cfg.Limits.SampleMaxSeconds))
	}

	return errors.Join(errs...)
}
