package engine

import (
	"testing"
	"time"

	"github.com/kestrel-audio/mixcore/internal/audio"
	"github.com/kestrel-audio/mixcore/internal/device"
)

type stubDecoder struct {
	buf *audio.Buffer
	err error
}

func (s stubDecoder) Decode(path string) (*audio.Buffer, error) {
	return s.buf, s.err
}

func newSilenceBuffer(t *testing.T, frames, rate int) *audio.Buffer {
	t.Helper()
	buf, err := audio.NewBuffer(make([]float32, frames*2), rate)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestEngineInitStartStop(t *testing.T) {
	buf := newSilenceBuffer(t, 1000, 44100)
	e := New(stubDecoder{buf: buf})
	if status := e.Init(44100, 256, device.NewSoftwareClock()); status != audio.StatusOK {
		t.Fatalf("Init status = %v", status)
	}
	if status := e.Init(44100, 256, device.NewSoftwareClock()); status != audio.StatusAlreadyInitialized {
		t.Errorf("second Init status = %v, want already_initialized", status)
	}
	if status := e.Start(); status != audio.StatusOK {
		t.Fatalf("Start status = %v", status)
	}
	time.Sleep(20 * time.Millisecond)
	e.Stop()
	e.Shutdown()
}

func TestEngineRejectsUnknownDeck(t *testing.T) {
	e := New(stubDecoder{})
	e.Init(44100, 256, device.NewSoftwareClock())
	if status := e.Play(5); status != audio.StatusInvalidArgument {
		t.Errorf("Play(5) status = %v, want invalid_argument", status)
	}
}

func TestEngineOperationsBeforeInit(t *testing.T) {
	e := New(stubDecoder{})
	if status := e.Play(0); status != audio.StatusNotInitialized {
		t.Errorf("Play before init = %v, want not_initialized", status)
	}
}

func TestEngineLoadDecodeFailure(t *testing.T) {
	e := New(stubDecoder{err: errDecodeFail})
	e.Init(44100, 256, device.NewSoftwareClock())
	if status := e.Load(0, "missing.wav"); status != audio.StatusDecodeFailed {
		t.Errorf("Load status = %v, want decode_failed", status)
	}
}

func TestEngineNotifiesPositionAndEndOfTrack(t *testing.T) {
	buf := newSilenceBuffer(t, 64, 8000) // short buffer, small callback count exhausts it fast
	e := New(stubDecoder{buf: buf})
	e.Init(8000, 32, device.NewSoftwareClock())

	eot := make(chan int, 1)
	e.SetOnEndOfTrack(func(deckID int) { eot <- deckID })
	pos := make(chan int, 1)
	e.SetOnPosition(func(deckID int, seconds float64) {
		select {
		case pos <- deckID:
		default:
		}
	})

	e.Load(0, "tone.wav")
	e.Play(0)
	e.Start()
	defer e.Stop()

	select {
	case id := <-eot:
		if id != 0 {
			t.Errorf("end-of-track deck id = %d, want 0", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for end-of-track notification")
	}
	select {
	case <-pos:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for position notification")
	}
}

func TestSetCrossfaderClampsThroughEngine(t *testing.T) {
	e := New(stubDecoder{})
	e.Init(44100, 256, device.NewSoftwareClock())
	if status := e.SetCrossfader(0.5); status != audio.StatusOK {
		t.Errorf("SetCrossfader status = %v", status)
	}
	if status := e.SetCrossfader(1.5); status != audio.StatusOK {
		t.Errorf("SetCrossfader(1.5) status = %v", status)
	}
	if got := e.mixer.Crossfade(); got != 1 {
		t.Errorf("crossfader after SetCrossfader(1.5) = %v, want clamped to 1", got)
	}
}

func TestAnalyzeBPMRequiresLoadedBuffer(t *testing.T) {
	e := New(stubDecoder{})
	e.Init(44100, 256, device.NewSoftwareClock())
	if _, status := e.AnalyzeBPM(0); status != audio.StatusInvalidArgument {
		t.Errorf("AnalyzeBPM on empty deck = %v, want invalid_argument", status)
	}
}

func TestAnalyzeBeatOffsetRejectsNonPositiveBPM(t *testing.T) {
	buf := newSilenceBuffer(t, 44100*4, 44100)
	e := New(stubDecoder{buf: buf})
	e.Init(44100, 256, device.NewSoftwareClock())
	e.Load(0, "tone.wav")
	if _, status := e.AnalyzeBeatOffset(0, 0); status != audio.StatusInvalidArgument {
		t.Errorf("AnalyzeBeatOffset with bpm=0 = %v, want invalid_argument", status)
	}
}

func TestAnalyzeBPMOnLoadedDeckReturnsNonNegative(t *testing.T) {
	buf := newSilenceBuffer(t, 44100*4, 44100)
	e := New(stubDecoder{buf: buf})
	e.Init(44100, 256, device.NewSoftwareClock())
	e.Load(0, "tone.wav")
	bpm, status := e.AnalyzeBPM(0)
	if status != audio.StatusOK {
		t.Fatalf("AnalyzeBPM status = %v", status)
	}
	if bpm < 0 {
		t.Errorf("AnalyzeBPM = %v, want >= 0", bpm)
	}
}

func TestSetTempoRejectsOutOfRange(t *testing.T) {
	e := New(stubDecoder{})
	e.Init(44100, 256, device.NewSoftwareClock())
	if status := e.SetTempo(0, 5.0); status != audio.StatusInvalidArgument {
		t.Errorf("SetTempo(5.0) status = %v, want invalid_argument", status)
	}
}

type decodeErr struct{}

func (decodeErr) Error() string { return "decode failed" }

var errDecodeFail = decodeErr{}
