package wavio

import (
	"fmt"
	"io"

	"voxmorph/pkg/audio"
)

// bufferSeeker is an in-memory [io.WriteSeeker]. The wav encoder seeks back
// to patch chunk sizes after writing the sample data, which rules out a plain
// bytes.Buffer.
type bufferSeeker struct {
	buf []byte
	pos int
}

func (b *bufferSeeker) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.buf) {
		if need > cap(b.buf) {
			grown := make([]byte, need, 2*need)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:need]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *bufferSeeker) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("wavio: invalid seek whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("wavio: negative seek position %d", pos)
	}
	b.pos = int(pos)
	return pos, nil
}

// Bytes encodes w as a 16-bit mono PCM WAV held entirely in memory. Useful
// for HTTP responses.
func Bytes(w audio.Waveform) ([]byte, error) {
	var bs bufferSeeker
	if err := Write(&bs, w); err != nil {
		return nil, err
	}
	return bs.buf, nil
}
