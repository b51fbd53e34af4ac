// Package config provides the configuration schema and loader for the
// voxmorph voice morphing service.
package config

// LogLevel controls log verbosity for the voxmorph server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxmorph.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Template TemplateConfig `yaml:"template"`
	Morph    MorphConfig    `yaml:"morph"`
	Limits   LimitsConfig   `yaml:"limits"`
}

// ServerConfig holds network and logging settings for the voxmorph server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AnalysisConfig holds parameters for the cepstral representation used by
// template building and morphing.
type AnalysisConfig struct {
	// CepstrumOrder is the number of mel-cepstral coefficients beyond the
	// energy term. Higher orders capture finer spectral detail at the cost of
	// noisier templates. 0 means the default of 24.
	CepstrumOrder int `yaml:"cepstrum_order"`

	// Warp is the all-pass frequency warping factor in (-1, 1). The default
	// of 0.55 approximates the mel scale at a 16 kHz processing rate; change
	// it only together with a different processing rate.
	Warp float64 `yaml:"warp"`
}

// TemplateConfig holds settings for timbre template construction.
type TemplateConfig struct {
	// Workers caps the number of reference samples analysed concurrently.
	// 0 means one worker per CPU.
	Workers int `yaml:"workers"`

	// CacheSize is the number of built templates memoized in the LRU cache.
	// 0 disables caching.
	CacheSize int `yaml:"cache_size"`
}

// MorphConfig holds defaults and bounds for morph strength and output format.
type MorphConfig struct {
	// DefaultStrength is the identity-preservation factor used when a request
	// does not specify one. 0 means the default of 0.4.
	DefaultStrength float64 `yaml:"default_strength"`

	// MinStrength and MaxStrength bound the strength accepted from clients.
	// Requests outside the range are clamped with a warning. Zero values mean
	// the defaults of 0.1 and 0.8.
	MinStrength float64 `yaml:"min_strength"`
	MaxStrength float64 `yaml:"max_strength"`

	// OutputRate is the sample rate of morphed output audio in Hz.
	// 0 means the 16 kHz processing rate, skipping the final resample.
	OutputRate int `yaml:"output_rate"`
}

// LimitsConfig bounds the size of audio accepted from clients.
type LimitsConfig struct {
	// MaxTargetSeconds is the longest target track accepted for morphing.
	// 0 means the default of 300.
	MaxTargetSeconds float64 `yaml:"max_target_seconds"`

	// SampleMinSeconds and SampleMaxSeconds bound individual reference sample
	// durations. Samples outside the range are skipped during template
	// builds. Zero values mean the defaults of 3 and 30.
	SampleMinSeconds float64 `yaml:"sample_min_seconds"`
	SampleMaxSeconds float64 `yaml:"sample_max_seconds"`
}

// Default returns a Config populated with production defaults. Loading a file
// overrides only the fields the file sets.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Analysis: AnalysisConfig{
			CepstrumOrder: 24,
			Warp:          0.55,
		},
		Template: TemplateConfig{
			CacheSize: 32,
		},
		Morph: MorphConfig{
			DefaultStrength: 0.4,
			MinStrength:     0.1,
			MaxStrength:     0.8,
			OutputRate:      48000,
		},
		Limits: LimitsConfig{
			MaxTargetSeconds: 300,
			SampleMinSeconds: 3,
			SampleMaxSeconds: 30,
		},
	}
}
