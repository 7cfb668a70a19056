// Package decode implements the external file-decoding collaborator:
// it must deliver interleaved stereo float32 PCM plus a sample rate.
// The core never decodes audio itself.
package decode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"

	"github.com/kestrel-audio/mixcore/internal/audio"
)

// Decoder turns a file path into a Buffer. Implementations are free to
// shell out, use a native library, or fabricate synthetic content for
// tests.
type Decoder interface {
	Decode(path string) (*audio.Buffer, error)
}

// FFmpegDecoder shells out to the system ffmpeg binary, exactly as the
// corpus's satindergrewal-InfiniteRadio decoder does, but requesting
// 32-bit float PCM instead of 16-bit integer so the resulting Buffer
// matches the core's float32 sample model without a lossy round trip.
type FFmpegDecoder struct {
	SampleRate int    // target sample rate; ffmpeg resamples if the source differs
	BinPath    string // ffmpeg binary to exec; empty means "ffmpeg" on PATH
}

// NewFFmpegDecoder returns a decoder that resamples every source to
// sampleRate, matching whatever the engine was initialized with, and shells
// out to "ffmpeg" on PATH. Set BinPath on the returned decoder to point at a
// specific binary.
func NewFFmpegDecoder(sampleRate int) *FFmpegDecoder {
	return &FFmpegDecoder{SampleRate: sampleRate}
}

// Decode runs ffmpeg to produce raw interleaved stereo float32 PCM at
// d.SampleRate and wraps it in an audio.Buffer.
func (d *FFmpegDecoder) Decode(path string) (*audio.Buffer, error) {
	bin := d.BinPath
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.Command(bin,
		"-i", path,
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ar", fmt.Sprintf("%d", d.SampleRate),
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("decode: ffmpeg %s: %w: %s", path, err, stderr.String())
	}

	raw := stdout.Bytes()
	if len(raw)%4 != 0 {
		raw = raw[:len(raw)-len(raw)%4]
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}

	return audio.NewBuffer(samples, d.SampleRate)
}
