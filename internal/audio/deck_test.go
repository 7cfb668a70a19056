package audio

import (
	"testing"
)

// stubFilter is an identity Filter used to isolate deck behaviour from
// the real streaming tempo/pitch filter in tests that don't exercise
// the filtered path's DSP.
type stubFilter struct{}

func (stubFilter) SetTempo(float64) error         { return nil }
func (stubFilter) SetPitchSemitones(float64) error { return nil }
func (stubFilter) Process(input []float64) []float64 {
	out := make([]float64, len(input))
	copy(out, input)
	return out
}
func (stubFilter) Clear() {}

func newTestDeck(t *testing.T, sampleRate int) *Deck {
	t.Helper()
	d, err := NewDeck(0, sampleRate, stubFilter{}, stubFilter{})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func sineBuffer(t *testing.T, frames, sampleRate int) *Buffer {
	t.Helper()
	samples := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		v := float32(i%100) / 100.0
		samples[i*2] = v
		samples[i*2+1] = -v
	}
	buf, err := NewBuffer(samples, sampleRate)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestDeckReadSilenceWhenNotPlaying(t *testing.T) {
	d := newTestDeck(t, 44100)
	dest := make([]float32, 20)
	n := d.Read(dest, 10)
	if n != 10 {
		t.Errorf("Read returned %d, want 10", n)
	}
	for i, v := range dest {
		if v != 0 {
			t.Errorf("dest[%d] = %v, want 0 (silence)", i, v)
		}
	}
}

func TestDeckReadAlwaysFullLength(t *testing.T) {
	d := newTestDeck(t, 44100)
	buf := sineBuffer(t, 5, 44100)
	if err := d.Load(buf); err != nil {
		t.Fatal(err)
	}
	d.Play()
	dest := make([]float32, 20) // request more frames than exist
	n := d.Read(dest, 10)
	if n != 10 {
		t.Errorf("Read returned %d, want 10 (always full length)", n)
	}
}

func TestDeckFastPathBitIdentity(t *testing.T) {
	d := newTestDeck(t, 44100)
	buf := sineBuffer(t, 100, 44100)
	if err := d.Load(buf); err != nil {
		t.Fatal(err)
	}
	d.Play()

	dest := make([]float32, 20)
	d.Read(dest, 10)

	src := buf.Raw()
	for i := 0; i < 20; i++ {
		if dest[i] != src[i] {
			t.Errorf("fast path dest[%d] = %v, want bit-identical %v", i, dest[i], src[i])
		}
	}
}

func TestDeckCursorInvariantAfterOperations(t *testing.T) {
	d := newTestDeck(t, 44100)
	buf := sineBuffer(t, 1000, 44100)
	if err := d.Load(buf); err != nil {
		t.Fatal(err)
	}
	d.Play()
	dest := make([]float32, 200)
	d.Read(dest, 100)
	d.Seek(-5) // must clamp to 0
	if c := d.Cursor(); c < 0 || c > int64(buf.Frames()) {
		t.Errorf("cursor out of range after seek: %d", c)
	}
	d.Seek(1000) // beyond end, must clamp to total
	if c := d.Cursor(); c != int64(buf.Frames()) {
		t.Errorf("cursor = %d, want clamp to %d", c, buf.Frames())
	}
	d.SetTempo(10) // out of range, must clamp
	if d.Tempo() > MaxTempo {
		t.Errorf("tempo = %v, want clamped to %v", d.Tempo(), MaxTempo)
	}
	d.SetPitch(-100)
	if d.Pitch() < MinPitch {
		t.Errorf("pitch = %v, want clamped to %v", d.Pitch(), MinPitch)
	}
}

func TestDeckPauseLeavesCursor(t *testing.T) {
	d := newTestDeck(t, 44100)
	buf := sineBuffer(t, 1000, 44100)
	if err := d.Load(buf); err != nil {
		t.Fatal(err)
	}
	d.Play()
	dest := make([]float32, 200)
	d.Read(dest, 100)
	before := d.Cursor()
	d.Pause()
	d.Read(dest, 100) // paused, should not advance
	if d.Cursor() != before {
		t.Errorf("cursor advanced while paused: %d != %d", d.Cursor(), before)
	}
}

func TestDeckStopResetsCursor(t *testing.T) {
	d := newTestDeck(t, 44100)
	buf := sineBuffer(t, 1000, 44100)
	if err := d.Load(buf); err != nil {
		t.Fatal(err)
	}
	d.Play()
	dest := make([]float32, 200)
	d.Read(dest, 100)
	d.Stop()
	if d.Cursor() != 0 {
		t.Errorf("cursor after stop = %d, want 0", d.Cursor())
	}
	if d.IsPlaying() {
		t.Error("deck still playing after stop")
	}
}

func TestDeckEndOfTrackNotifiedOnce(t *testing.T) {
	d := newTestDeck(t, 44100)
	buf := sineBuffer(t, 50, 44100)
	if err := d.Load(buf); err != nil {
		t.Fatal(err)
	}
	count := 0
	d.SetOnEndOfTrack(func(int) { count++ })
	d.Play()

	dest := make([]float32, 200)
	d.Read(dest, 100) // exhausts the 50-frame buffer
	d.Read(dest, 100) // deck now paused, must not notify again
	if count != 1 {
		t.Errorf("end-of-track notified %d times, want 1", count)
	}
}

func TestDeckLoadRejectsMismatchedSampleRate(t *testing.T) {
	d := newTestDeck(t, 44100)
	buf := sineBuffer(t, 10, 48000)
	if err := d.Load(buf); err == nil {
		t.Error("expected error loading a buffer at the wrong sample rate")
	}
}

// clearCountingFilter is a stubFilter that counts its Clear calls.
type clearCountingFilter struct {
	stubFilter
	clears *int
}

func (f clearCountingFilter) Clear() { *f.clears++ }

func TestDeckPlayAtClearsFilterAtomically(t *testing.T) {
	clears := 0
	d, err := NewDeck(0, 44100, clearCountingFilter{clears: &clears}, clearCountingFilter{clears: &clears})
	if err != nil {
		t.Fatal(err)
	}
	buf := sineBuffer(t, 1000, 44100)
	if err := d.Load(buf); err != nil {
		t.Fatal(err)
	}
	before := clears
	d.PlayAt(500)
	if got := clears - before; got != 2 {
		t.Errorf("PlayAt cleared %d filters, want 2 (left and right)", got)
	}
	if d.Cursor() != 500 {
		t.Errorf("cursor after PlayAt = %d, want 500", d.Cursor())
	}
	if !d.IsPlaying() {
		t.Error("deck should be playing after PlayAt")
	}
}
