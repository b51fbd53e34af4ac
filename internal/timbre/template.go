// Package timbre builds speaker timbre templates from reference voice
// samples. A template is the time-averaged mel-cepstral envelope of a
// speaker's voice, suitable for blending into other voices with the morph
// engine.
package timbre

import (
	"encoding/json"
	"fmt"
	"os"
)

// Template is a compact timbre fingerprint: one mel-cepstral coefficient
// vector averaged over all voiced and unvoiced frames of every usable
// reference sample.
type Template struct {
	// Coefficients holds order+1 mel-cepstral coefficients. Index 0 carries
	// the average log energy; higher indices carry progressively finer
	// spectral shape.
	Coefficients []float64 `json:"coefficients"`

	// SampleCount is the number of reference samples that contributed to the
	// average.
	SampleCount int `json:"sample_count"`
}

// Order returns the mel-cepstral order of the template (one less than the
// coefficient count), or -1 for an empty template.
func (t Template) Order() int {
	return len(t.Coefficients) - 1
}

// SaveFile writes the template as JSON to path.
func (t Template) SaveFile(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("timbre: encode template: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("timbre: write template %q: %w", path, err)
	}
	return nil
}

// LoadFile reads a JSON template from path.
func LoadFile(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("timbre: read template %q: %w", path, err)
	}
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("timbre: decode template %q: %w", path, err)
	}
	if len(t.Coefficients) == 0 {
		return Template{}, fmt.Errorf("timbre: template %q has no coefficients", path)
	}
	return t, nil
}
