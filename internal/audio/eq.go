package audio

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

const (
	eqLowFreq  = 250.0  // low/mid crossover, Hz
	eqHighFreq = 3200.0 // mid/high crossover, Hz
	eqShelfQ   = 0.707  // Butterworth Q, matches design.LowShelf/HighShelf's own default shape
	eqMidQ     = 0.9
)

// gainToDB converts a linear gain (1.0 = unity) to decibels for the
// underlying shelf/peak filter designers, which are parameterized in dB.
func gainToDB(gain float64) float64 {
	if gain <= 0 {
		return -96 // effectively silence, avoids -Inf propagating into the filter design math
	}
	return 20 * math.Log10(gain)
}

// ThreeBandEQ is a per-channel low/mid/high shelf-peak-shelf cascade.
// Unlike a naive "sum three bandpass outputs and divide by three"
// design, each band here is a proper shelving/peaking section designed
// with design.LowShelf/design.Peak/design.HighShelf, so at unity gain
// (1, 1, 1) the cascade is close to an identity filter rather than
// attenuating the passthrough signal.
// ThreeBandEQ's gains and chain are set from the control thread
// (Deck.SetEQLow/Mid/High) and read from the audio thread
// (Deck.Read → ProcessSample), so both are held behind atomics rather
// than plain fields, the same pattern Deck itself uses for its scalar
// parameters.
type ThreeBandEQ struct {
	sampleRate float64
	low, mid, high atomic.Uint64 // linear gains, math.Float64bits

	chain atomic.Pointer[biquad.Chain]
}

// NewThreeBandEQ builds an EQ for one channel at the given sample rate,
// starting at unity gain on all three bands.
func NewThreeBandEQ(sampleRate float64) (*ThreeBandEQ, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: eq sample rate must be positive, got %f", sampleRate)
	}
	eq := &ThreeBandEQ{sampleRate: sampleRate}
	storeF64(&eq.low, 1)
	storeF64(&eq.mid, 1)
	storeF64(&eq.high, 1)
	eq.rebuild()
	return eq, nil
}

// rebuild builds a fresh chain from the current gains and swaps it in
// with a single atomic store, rather than mutating the chain ProcessSample
// is concurrently reading. Every gain change and Reset goes through this,
// so the audio thread never observes a chain instance being mutated out
// from under it.
func (eq *ThreeBandEQ) rebuild() {
	low, mid, high := loadF64(&eq.low), loadF64(&eq.mid), loadF64(&eq.high)
	coeffs := []biquad.Coefficients{
		design.LowShelf(eqLowFreq, gainToDB(low), eqShelfQ, eq.sampleRate),
		design.Peak((eqLowFreq+eqHighFreq)/2, gainToDB(mid), eqMidQ, eq.sampleRate),
		design.HighShelf(eqHighFreq, gainToDB(high), eqShelfQ, eq.sampleRate),
	}
	eq.chain.Store(biquad.NewChain(coeffs))
}

// SetLow, SetMid, SetHigh set a band's linear gain (1.0 = unity, 0.0 =
// fully cut). Values are not clamped: a caller passing a gain above the
// deck's own boost ceiling is a caller bug, not a filter concern.
func (eq *ThreeBandEQ) SetLow(gain float64) { storeF64(&eq.low, gain); eq.rebuild() }
func (eq *ThreeBandEQ) SetMid(gain float64) { storeF64(&eq.mid, gain); eq.rebuild() }
func (eq *ThreeBandEQ) SetHigh(gain float64) { storeF64(&eq.high, gain); eq.rebuild() }

// Low, Mid, High return the current linear gains.
func (eq *ThreeBandEQ) Low() float64  { return loadF64(&eq.low) }
func (eq *ThreeBandEQ) Mid() float64  { return loadF64(&eq.mid) }
func (eq *ThreeBandEQ) High() float64 { return loadF64(&eq.high) }

// ProcessSample filters one sample through the low/mid/high cascade.
func (eq *ThreeBandEQ) ProcessSample(x float64) float64 {
	return eq.chain.Load().ProcessSample(x)
}

// Reset clears the cascade's filter state, used on deck Load so a newly
// loaded track does not carry over stale filter memory from the previous
// one (Deck.Seek does not reset the EQ). Implemented as a rebuild,
// not an in-place chain.Reset(), so it can never race with a concurrent
// ProcessSample call on the chain instance currently in use.
func (eq *ThreeBandEQ) Reset() {
	eq.rebuild()
}
