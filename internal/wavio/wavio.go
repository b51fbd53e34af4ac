// Package wavio reads and writes RIFF/WAVE files, converting between PCM
// containers and the float64 waveforms used by the processing pipeline.
//
// Decoding accepts any PCM bit depth and channel count the wav package
// supports; multi-channel input is downmixed to mono by channel averaging.
// Encoding always produces 16-bit mono PCM.
package wavio

import (
	"fmt"
	"io"
	"math"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"voxmorph/pkg/audio"
)

// Read decodes a WAV stream into a mono [audio.Waveform]. Samples are scaled
// to [-1, 1] according to the source bit depth.
func Read(r io.ReadSeeker) (audio.Waveform, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return audio.Waveform{}, fmt.Errorf("wavio: not a valid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("wavio: decode pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 || buf.Format.SampleRate < 1 {
		return audio.Waveform{}, fmt.Errorf("wavio: missing or invalid format chunk")
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth < 8 || bitDepth > 32 {
		return audio.Waveform{}, fmt.Errorf("wavio: unsupported bit depth %d", bitDepth)
	}

	// 8-bit WAV is unsigned (0..255); deeper depths are signed two's
	// complement.
	bias := 0.0
	if bitDepth == 8 {
		bias = 128
	}
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	interleaved := make([]float64, len(buf.Data))
	for i, s := range buf.Data {
		interleaved[i] = (float64(s) - bias) * scale
	}

	return audio.Downmix(interleaved, buf.Format.NumChannels, buf.Format.SampleRate), nil
}

// ReadFile decodes the WAV file at path into a mono [audio.Waveform].
func ReadFile(path string) (audio.Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("wavio: open %q: %w", path, err)
	}
	defer f.Close()

	w, err := Read(f)
	if err != nil {
		return audio.Waveform{}, fmt.Errorf("wavio: read %q: %w", path, err)
	}
	return w, nil
}

// Write encodes w as 16-bit mono PCM WAV to ws. Samples outside [-1, 1] are
// clipped.
func Write(ws io.WriteSeeker, w audio.Waveform) error {
	if w.Empty() {
		return fmt.Errorf("wavio: empty waveform")
	}
	if w.Rate < 1 {
		return fmt.Errorf("wavio: invalid sample rate %d", w.Rate)
	}

	data := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		v := math.Round(s * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		data[i] = int(v)
	}

	enc := wav.NewEncoder(ws, w.Rate, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: w.Rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("wavio: encode pcm: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wavio: finalize wav: %w", err)
	}
	return nil
}

// WriteFile encodes w as a 16-bit mono PCM WAV file at path.
func WriteFile(path string, w audio.Waveform) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavio: create %q: %w", path, err)
	}

	if err := Write(f, w); err != nil {
		f.Close()
		return fmt.Errorf("wavio: write %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("wavio: close %q: %w", path, err)
	}
	return nil
}
