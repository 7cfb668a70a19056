package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/kestrel-audio/mixcore/internal/tempo"
)

const (
	// TempoIdentityEpsilon and PitchIdentityEpsilon bound the fast path:
	// within these tolerances of identity, read bypasses the filter
	// entirely so the filter's internal latency cannot perturb sync
	// phase.
	TempoIdentityEpsilon = 0.001 // 0.1% of 1.0
	PitchIdentityEpsilon = 0.1   // semitones

	// FilterChunkFrames is the block size pushed into the filter on the
	// filtered read path.
	FilterChunkFrames = 4096

	MinTempo = 0.5
	MaxTempo = 2.0
	MinPitch = -12.0
	MaxPitch = 12.0
	MaxEQGain = 2.0
)

// ensureCap returns buf if it already has capacity for n elements,
// re-sliced to length n; otherwise it allocates a new backing array sized
// for n and returns that instead. Growth is expected to happen at most
// once per buffer in steady-state use (the caller settles on a stable
// tempo/pitch and request size), after which this never allocates again.
func ensureCap(buf []float64, n int) []float64 {
	if cap(buf) < n {
		buf = make([]float64, n)
	}
	return buf[:n]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EndOfTrackFunc is invoked once, from the audio callback, when a deck's
// read exhausts its buffer and the deck transitions to paused.
type EndOfTrackFunc func(deckID int)

// Deck is one of the two playback units. Parameter setters are lock-free
// atomics read directly by the audio callback; load/seek/play(at) are
// serialized against read by mu, a mutex held only long enough to swap a
// handful of scalars and clear the filter.
type Deck struct {
	id         int
	sampleRate int

	mu     sync.Mutex
	buffer *Buffer
	cursor int64 // next source frame to feed the filter

	playing atomic.Bool

	tempoRatio   atomic.Uint64 // math.Float64bits
	pitchSemis   atomic.Uint64
	volume       atomic.Uint64
	bpm          atomic.Uint64
	beatOffsetS  atomic.Uint64

	filterL, filterR tempo.Filter
	eqL, eqR         *ThreeBandEQ

	// Scratch buffers for the filtered read path (see readFilteredPath).
	// filterSrcL/R are fixed at FilterChunkFrames capacity and never grow.
	// filterOutL/R are grown once, the first time a request needs more
	// than their current capacity, and reused at that size from then on:
	// after warmup the filtered path performs no allocation.
	filterSrcL, filterSrcR []float64
	filterOutL, filterOutR []float64

	onEndOfTrack EndOfTrackFunc
}

// NewDeck constructs a deck at the given engine sample rate. filterL and
// filterR are the per-channel streaming tempo/pitch filters; passing the
// default tempo.StreamingFilter is the normal case, but the interface
// lets tests substitute a deterministic stub.
func NewDeck(id, sampleRate int, filterL, filterR tempo.Filter) (*Deck, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: deck sample rate must be positive, got %d", sampleRate)
	}
	eqL, err := NewThreeBandEQ(float64(sampleRate))
	if err != nil {
		return nil, err
	}
	eqR, err := NewThreeBandEQ(float64(sampleRate))
	if err != nil {
		return nil, err
	}
	d := &Deck{
		id:         id,
		sampleRate: sampleRate,
		filterL:    filterL,
		filterR:    filterR,
		eqL:        eqL,
		eqR:        eqR,
		filterSrcL: make([]float64, FilterChunkFrames),
		filterSrcR: make([]float64, FilterChunkFrames),
	}
	d.tempoRatio.Store(math.Float64bits(1.0))
	d.volume.Store(math.Float64bits(1.0))
	return d, nil
}

// ID returns the deck's identity.
func (d *Deck) ID() int { return d.id }

// EngineSampleRate returns the fixed sample rate this deck was
// constructed with.
func (d *Deck) EngineSampleRate() int { return d.sampleRate }

// SetOnEndOfTrack registers the notification invoked when this deck's
// read exhausts its buffer. Not safe to call concurrently with Read.
func (d *Deck) SetOnEndOfTrack(fn EndOfTrackFunc) { d.onEndOfTrack = fn }

// Load replaces any loaded buffer, resets the cursor, clears the filter,
// and leaves the deck paused. Fails if the buffer's rate does not match
// the deck's configured sample rate.
func (d *Deck) Load(buf *Buffer) error {
	if buf == nil {
		return fmt.Errorf("audio: load: buffer is nil")
	}
	if buf.SampleRate() != d.sampleRate {
		return fmt.Errorf("audio: load: buffer sample rate %d does not match engine rate %d", buf.SampleRate(), d.sampleRate)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing.Store(false)
	d.buffer = buf
	d.cursor = 0
	d.filterL.Clear()
	d.filterR.Clear()
	d.eqL.Reset()
	d.eqR.Reset()
	return nil
}

// Unload drops the loaded buffer and pauses the deck.
func (d *Deck) Unload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing.Store(false)
	d.buffer = nil
	d.cursor = 0
}

// Play resumes from the current cursor without clearing filter state.
func (d *Deck) Play() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffer == nil {
		return
	}
	d.playing.Store(true)
}

// PlayAt sets the cursor and clears the filter before raising the
// playing flag, atomically with respect to read: a concurrent read
// observes either the old cursor with the old filter state, or the new
// cursor with a cleared filter, never a mix.
func (d *Deck) PlayAt(startFrame int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffer == nil {
		return
	}
	d.cursor = clampFrame(startFrame, d.buffer.Frames())
	d.filterL.Clear()
	d.filterR.Clear()
	d.playing.Store(true)
}

// Pause leaves the cursor where it is.
func (d *Deck) Pause() {
	d.playing.Store(false)
}

// Stop resets the cursor to 0 and clears the filter.
func (d *Deck) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing.Store(false)
	d.cursor = 0
	d.filterL.Clear()
	d.filterR.Clear()
}

// Seek converts seconds to a source frame, clamps it to [0, total], sets
// the cursor, and clears the filter. A click is acceptable and expected.
func (d *Deck) Seek(seconds float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffer == nil {
		return
	}
	frame := int64(math.Round(seconds * float64(d.sampleRate)))
	d.cursor = clampFrame(frame, d.buffer.Frames())
	d.filterL.Clear()
	d.filterR.Clear()
}

func clampFrame(f int64, total int) int64 {
	if f < 0 {
		return 0
	}
	if f > int64(total) {
		return int64(total)
	}
	return f
}

// Cursor returns the current source frame cursor.
func (d *Deck) Cursor() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

// SetCursor sets the cursor directly (used by the sync manager's
// align_now/play_synced math) without clearing the filter; callers that
// also need the filter's buffered output discarded should call
// ClearFilter, or use PlayAt or Seek, which clear it.
func (d *Deck) SetCursor(frame int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffer == nil {
		d.cursor = 0
		return
	}
	d.cursor = clampFrame(frame, d.buffer.Frames())
}

// ClearFilter clears both channel filters. Exposed for the sync
// manager's align_now, which forces a filter clear on its one-shot seek.
func (d *Deck) ClearFilter() {
	d.filterL.Clear()
	d.filterR.Clear()
}

// PositionSeconds returns the cursor expressed in seconds.
func (d *Deck) PositionSeconds() float64 {
	return float64(d.Cursor()) / float64(d.sampleRate)
}

// DurationSeconds returns the loaded buffer's length in seconds, or 0 if
// no buffer is loaded.
func (d *Deck) DurationSeconds() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buffer == nil {
		return 0
	}
	return float64(d.buffer.Frames()) / float64(d.sampleRate)
}

// IsPlaying reports the deck's playing flag.
func (d *Deck) IsPlaying() bool { return d.playing.Load() }

// HasBuffer reports whether a buffer is loaded.
func (d *Deck) HasBuffer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer != nil
}

// Buffer returns the loaded buffer, or nil if none is loaded. Analysis
// collaborators read the buffer directly rather than through Read, since
// they operate on the whole track rather than the live cursor.
func (d *Deck) Buffer() *Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer
}

// --- Atomically-updated scalar parameters ---

func loadF64(a *atomic.Uint64) float64  { return math.Float64frombits(a.Load()) }
func storeF64(a *atomic.Uint64, v float64) { a.Store(math.Float64bits(v)) }

func (d *Deck) SetTempo(ratio float64) { storeF64(&d.tempoRatio, clamp(ratio, MinTempo, MaxTempo)) }
func (d *Deck) Tempo() float64         { return loadF64(&d.tempoRatio) }

func (d *Deck) SetPitch(semitones float64) { storeF64(&d.pitchSemis, clamp(semitones, MinPitch, MaxPitch)) }
func (d *Deck) Pitch() float64             { return loadF64(&d.pitchSemis) }

func (d *Deck) SetVolume(v float64) { storeF64(&d.volume, clamp(v, 0, 1)) }
func (d *Deck) Volume() float64     { return loadF64(&d.volume) }

func (d *Deck) SetBPM(bpm float64) { storeF64(&d.bpm, bpm) }
func (d *Deck) BPM() float64       { return loadF64(&d.bpm) }

func (d *Deck) SetBeatOffset(seconds float64) { storeF64(&d.beatOffsetS, seconds) }
func (d *Deck) BeatOffset() float64           { return loadF64(&d.beatOffsetS) }

func (d *Deck) SetEQLow(g float64)  { d.eqL.SetLow(clamp(g, 0, MaxEQGain)); d.eqR.SetLow(clamp(g, 0, MaxEQGain)) }
func (d *Deck) SetEQMid(g float64)  { d.eqL.SetMid(clamp(g, 0, MaxEQGain)); d.eqR.SetMid(clamp(g, 0, MaxEQGain)) }
func (d *Deck) SetEQHigh(g float64) { d.eqL.SetHigh(clamp(g, 0, MaxEQGain)); d.eqR.SetHigh(clamp(g, 0, MaxEQGain)) }

func (d *Deck) EQLow() float64  { return d.eqL.Low() }
func (d *Deck) EQMid() float64  { return d.eqL.Mid() }
func (d *Deck) EQHigh() float64 { return d.eqL.High() }

// Read writes exactly frames stereo frames into dest (len(dest) must be
// frames*2) and returns frames. dest is always fully written: silence
// where there is nothing else to write, so the mixer can rely on a
// fixed-length result regardless of deck state.
func (d *Deck) Read(dest []float32, frames int) int {
	for i := range dest {
		dest[i] = 0
	}
	if !d.playing.Load() {
		return frames
	}

	d.mu.Lock()
	buf := d.buffer
	if buf == nil {
		d.mu.Unlock()
		return frames
	}

	tempoRatio := loadF64(&d.tempoRatio)
	pitchSemis := loadF64(&d.pitchSemis)
	fastPath := math.Abs(tempoRatio-1.0) <= TempoIdentityEpsilon && math.Abs(pitchSemis) <= PitchIdentityEpsilon

	written := 0
	if fastPath {
		written = d.readFastPath(buf, dest, frames)
	} else {
		written = d.readFilteredPath(buf, dest, frames, tempoRatio, pitchSemis)
	}
	exhausted := d.cursor >= int64(buf.Frames())
	d.mu.Unlock()

	if exhausted {
		wasPlaying := d.playing.CompareAndSwap(true, false)
		if wasPlaying && d.onEndOfTrack != nil {
			d.onEndOfTrack(d.id)
		}
	}

	volume := loadF64(&d.volume)
	for i := 0; i < written; i++ {
		l := d.eqL.ProcessSample(float64(dest[i*2]))
		r := d.eqR.ProcessSample(float64(dest[i*2+1]))
		dest[i*2] = float32(l * volume)
		dest[i*2+1] = float32(r * volume)
	}
	return frames
}

// readFastPath must be called with d.mu held. It copies directly from
// the source buffer, bypassing the filter entirely so no filter latency
// perturbs sample-exact sync.
func (d *Deck) readFastPath(buf *Buffer, dest []float32, frames int) int {
	available := buf.Frames() - int(d.cursor)
	n := frames
	if n > available {
		n = available
	}
	if n <= 0 {
		return 0
	}
	src := buf.Raw()
	base := int(d.cursor) * 2
	copy(dest[:n*2], src[base:base+n*2])
	d.cursor += int64(n)
	return n
}

// readFilteredPath must be called with d.mu held. It pulls fixed-size
// chunks from the source into the streaming filter until enough output
// is available, then drains frames worth of output.
func (d *Deck) readFilteredPath(buf *Buffer, dest []float32, frames int, tempoRatio, pitchSemis float64) int {
	_ = d.filterL.SetTempo(tempoRatio)
	_ = d.filterR.SetTempo(tempoRatio)
	_ = d.filterL.SetPitchSemitones(pitchSemis)
	_ = d.filterR.SetPitchSemitones(pitchSemis)

	// MinTempo caps how much a single input chunk can expand on output, so
	// frames plus two chunks' worth of headroom always covers the worst
	// case overshoot from the final chunk of the loop below.
	outCap := frames + 2*FilterChunkFrames
	d.filterOutL = ensureCap(d.filterOutL, outCap)
	d.filterOutR = ensureCap(d.filterOutR, outCap)
	outL := d.filterOutL[:0]
	outR := d.filterOutR[:0]

	for len(outL) < frames {
		available := buf.Frames() - int(d.cursor)
		if available <= 0 {
			break
		}
		chunk := FilterChunkFrames
		if chunk > available {
			chunk = available
		}
		srcL := d.filterSrcL[:chunk]
		srcR := d.filterSrcR[:chunk]
		src := buf.Raw()
		base := int(d.cursor) * 2
		for i := 0; i < chunk; i++ {
			srcL[i] = float64(src[base+i*2])
			srcR[i] = float64(src[base+i*2+1])
		}
		d.cursor += int64(chunk)

		// filterL.Process/filterR.Process may themselves allocate a
		// fresh result slice when tempo/pitch are off identity; see
		// tempo.StreamingFilter.Process for why that residual
		// allocation can't be eliminated without forking algo-dsp.
		outL = append(outL, d.filterL.Process(srcL)...)
		outR = append(outR, d.filterR.Process(srcR)...)
	}
	d.filterOutL = outL
	d.filterOutR = outR

	n := len(outL)
	if n > frames {
		n = frames
	}
	for i := 0; i < n; i++ {
		dest[i*2] = float32(outL[i])
		dest[i*2+1] = float32(outR[i])
	}
	return n
}
