package audio

import (
	"math"
	"sync/atomic"
)

// Mixer combines the two decks' output into a single stereo stream using
// an equal-power crossfade, then soft-clips the result. It holds no
// deck references: Mix depends only on its inputs and the crossfader
// position, and is called once per frame by the engine after the sync
// manager has updated the slave deck's transport for the block.
//
// crossfade is written by SetCrossfade from the control thread and read
// by gains/Mix from the audio thread, so it is an atomic.Uint64 like
// Deck's scalar parameters rather than a plain float64.
type Mixer struct {
	crossfade atomic.Uint64 // 0 = full deck A, 1 = full deck B, math.Float64bits
}

// NewMixer returns a Mixer at the fully-A crossfade position.
func NewMixer() *Mixer {
	m := &Mixer{}
	storeF64(&m.crossfade, 0)
	return m
}

// SetCrossfade sets the crossfader position, clamped to [0, 1].
func (m *Mixer) SetCrossfade(x float64) {
	storeF64(&m.crossfade, clamp(x, 0, 1))
}

// Crossfade returns the current crossfader position.
func (m *Mixer) Crossfade() float64 { return loadF64(&m.crossfade) }

// gains returns the equal-power gain pair for the current crossfade
// position: g_a = cos(x*pi/2), g_b = sin(x*pi/2), so g_a^2+g_b^2 == 1
// for any x, keeping perceived loudness constant through the fade.
func (m *Mixer) gains() (ga, gb float64) {
	theta := loadF64(&m.crossfade) * math.Pi / 2
	return math.Cos(theta), math.Sin(theta)
}

// Mix blends one stereo frame from each deck and returns the soft-clipped
// stereo output frame.
func (m *Mixer) Mix(aL, aR, bL, bR float32) (l, r float32) {
	ga, gb := m.gains()
	mixL := ga*float64(aL) + gb*float64(bL)
	mixR := ga*float64(aR) + gb*float64(bR)
	return float32(SoftClip(mixL)), float32(SoftClip(mixR))
}

// SoftClip bounds x to [-1, 1]: identity for |x| <= 1 and saturated at
// sgn(x) beyond, so the output is continuous and monotonic in x (with a
// change only in slope at ±1) and never exceeds unity magnitude. Beyond
// ±1 the output is flat; there is no exponential knee.
func SoftClip(x float64) float64 {
	if x >= -1 && x <= 1 {
		return x
	}
	if x > 0 {
		return 1
	}
	return -1
}
