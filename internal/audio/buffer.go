// Package audio implements the mixing core: the sample buffer, per-deck
// playback state, the three-band EQ, and the two-channel crossfading
// mixer.
package audio

import "fmt"

// Buffer is an immutable block of interleaved stereo float32 PCM at a
// fixed sample rate. It is the unit a Deck loads and plays from.
type Buffer struct {
	samples    []float32 // interleaved L,R,L,R...
	sampleRate int
	frames     int
}

// NewBuffer wraps samples as a Buffer. samples must contain a whole
// number of stereo frames (len(samples) even) and sampleRate must be
// positive.
func NewBuffer(samples []float32, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: sample rate must be positive, got %d", sampleRate)
	}
	if len(samples)%2 != 0 {
		return nil, fmt.Errorf("audio: samples must contain whole stereo frames, got %d values", len(samples))
	}
	return &Buffer{
		samples:    samples,
		sampleRate: sampleRate,
		frames:     len(samples) / 2,
	}, nil
}

// SampleRate returns the buffer's fixed sample rate.
func (b *Buffer) SampleRate() int { return b.sampleRate }

// Frames returns the number of stereo frames in the buffer.
func (b *Buffer) Frames() int { return b.frames }

// FrameAt returns the left and right samples at the given frame index.
// Callers must ensure 0 <= frame < b.Frames().
func (b *Buffer) FrameAt(frame int) (l, r float32) {
	i := frame * 2
	return b.samples[i], b.samples[i+1]
}

// Raw returns the underlying interleaved sample slice. Callers must not
// mutate it: Buffer is shared across decks and goroutines under the
// assumption of immutability.
func (b *Buffer) Raw() []float32 { return b.samples }
