// Package engine implements the command surface and the audio callback
// that drives the two decks, the mixer, and the sync manager. It owns
// exactly one output stream and translates internal errors into the
// core's status-code vocabulary at its boundary.
package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrel-audio/mixcore/internal/analysis"
	"github.com/kestrel-audio/mixcore/internal/audio"
	"github.com/kestrel-audio/mixcore/internal/beatsync"
	"github.com/kestrel-audio/mixcore/internal/decode"
	"github.com/kestrel-audio/mixcore/internal/device"
	"github.com/kestrel-audio/mixcore/internal/tempo"
)

const numDecks = 2

// positionNotifyEveryNCallbacks is chosen so that at a typical
// buffer_size/sample_rate period the position callback fires roughly
// every 100ms, per spec.
const positionNotifyEveryNCallbacks = 4

// notifyDroppedLogInterval is how often drainNotifications checks for and
// logs a nonzero notifyDropped count.
const notifyDroppedLogInterval = 5 * time.Second

// PositionFunc is invoked from the audio thread's notification drain
// goroutine, never directly from the callback.
type PositionFunc func(deckID int, seconds float64)

// EndOfTrackFunc is invoked from the notification drain goroutine when a
// deck exhausts its buffer.
type EndOfTrackFunc func(deckID int)

type notification struct {
	kind     notifyKind
	deckID   int
	position float64
}

type notifyKind int

const (
	notifyPosition notifyKind = iota
	notifyEndOfTrack
)

// Engine owns the two decks, the mixer, the sync manager, and the
// output device. It is the sole translator between internal errors and
// audio.Status.
type Engine struct {
	mu sync.Mutex

	sampleRate int
	bufferSize int
	decoder    decode.Decoder
	analyzer   analysis.Analyzer

	decks map[int]*audio.Deck
	mixer *beatsyncMixer
	sync  *beatsync.Manager

	dev device.Device

	// scratchA/scratchB are the callback's per-deck read buffers,
	// preallocated at Init to the configured buffer size so the audio
	// thread never allocates in steady state.
	scratchA, scratchB []float32

	callbackCount int64

	notifyCh   chan notification
	notifyStop chan struct{}
	notifyWG   sync.WaitGroup

	// notifyDropped counts notifications postNotification couldn't queue.
	// It is incremented from the audio thread (which must not log) and
	// drained/logged by drainNotifications, off-thread.
	notifyDropped atomic.Uint64

	onPosition   PositionFunc
	onEndOfTrack EndOfTrackFunc

	started bool
}

// beatsyncMixer is a thin alias avoiding a naming collision between
// package audio's Mixer type and this file's local variable naming.
type beatsyncMixer = audio.Mixer

// New constructs an uninitialized Engine. Call Init before Start.
func New(decoder decode.Decoder) *Engine {
	return &Engine{decoder: decoder, analyzer: analysis.NewOnsetAutocorrelationAnalyzer()}
}

// SetAnalyzer overrides the default BPM/beat-offset analyzer.
func (e *Engine) SetAnalyzer(a analysis.Analyzer) { e.analyzer = a }

// Init constructs the decks/mixer/sync manager at sampleRate and records
// dev as the output device without opening it: the audio host is
// initialized and the stream opened by Start, through dev.Open. dev is
// the device.Device to drive the engine with — the real
// hardware device or device.SoftwareClock for headless use.
func (e *Engine) Init(sampleRate, bufferSize int, dev device.Device) audio.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decks != nil {
		return audio.StatusAlreadyInitialized
	}
	if sampleRate <= 0 || bufferSize <= 0 {
		return audio.StatusInvalidArgument
	}
	if dev == nil {
		return audio.StatusNoDevice
	}

	e.sampleRate = sampleRate
	e.bufferSize = bufferSize
	e.dev = dev
	e.decks = make(map[int]*audio.Deck, numDecks)
	for id := 0; id < numDecks; id++ {
		filterL, err := tempo.NewStreamingFilter(float64(sampleRate))
		if err != nil {
			return audio.StatusInternalError
		}
		filterR, err := tempo.NewStreamingFilter(float64(sampleRate))
		if err != nil {
			return audio.StatusInternalError
		}
		d, err := audio.NewDeck(id, sampleRate, filterL, filterR)
		if err != nil {
			return audio.StatusInternalError
		}
		deckID := id
		d.SetOnEndOfTrack(func(id int) { e.postNotification(notification{kind: notifyEndOfTrack, deckID: id}) })
		e.decks[deckID] = d
	}
	e.mixer = audio.NewMixer()
	e.sync = beatsync.NewManager()
	e.scratchA = make([]float32, bufferSize*2)
	e.scratchB = make([]float32, bufferSize*2)

	e.notifyCh = make(chan notification, 256)
	e.notifyStop = make(chan struct{})
	return audio.StatusOK
}

// Start opens the output stream and begins invoking the audio callback.
func (e *Engine) Start() audio.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.decks == nil {
		return audio.StatusNotInitialized
	}
	if e.started {
		return audio.StatusOK
	}
	if err := e.dev.Open(e.sampleRate, e.bufferSize, e.callback); err != nil {
		return audio.StatusNoDevice
	}
	e.notifyWG.Add(1)
	go e.drainNotifications()
	e.started = true
	return audio.StatusOK
}

// Stop closes the output stream and blocks until the driver has
// drained.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.dev.Close()
	close(e.notifyStop)
	e.notifyWG.Wait()
	e.started = false
}

// Shutdown stops the engine (if running) and releases all resources.
func (e *Engine) Shutdown() {
	e.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decks = nil
}

// callback is invoked by the device once per buffer. It must never
// allocate on the steady-state fast path, never block beyond the
// per-deck mutex, and never fail: any anomaly yields silence.
func (e *Engine) callback(out []float32, frames int) {
	e.sync.Update(e.decks, float64(e.sampleRate))

	a := e.scratchA[:frames*2]
	b := e.scratchB[:frames*2]
	e.decks[0].Read(a, frames)
	e.decks[1].Read(b, frames)

	for i := 0; i < frames; i++ {
		l, r := e.mixer.Mix(a[i*2], a[i*2+1], b[i*2], b[i*2+1])
		out[i*2] = l
		out[i*2+1] = r
	}

	e.callbackCount++
	if e.callbackCount%positionNotifyEveryNCallbacks == 0 {
		for id, d := range e.decks {
			e.postNotification(notification{kind: notifyPosition, deckID: id, position: d.PositionSeconds()})
		}
	}
}

// postNotification never blocks and never logs: it runs synchronously
// from the audio thread's callback (directly, or via a deck's
// end-of-track callback), where spec.md §5 forbids I/O of any kind. A
// full queue just increments notifyDropped; drainNotifications, running
// off-thread, is what reports drops.
func (e *Engine) postNotification(n notification) {
	select {
	case e.notifyCh <- n:
	default:
		e.notifyDropped.Add(1)
	}
}

func (e *Engine) drainNotifications() {
	defer e.notifyWG.Done()
	ticker := time.NewTicker(notifyDroppedLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.notifyStop:
			return
		case n := <-e.notifyCh:
			switch n.kind {
			case notifyPosition:
				if e.onPosition != nil {
					e.onPosition(n.deckID, n.position)
				}
			case notifyEndOfTrack:
				if e.onEndOfTrack != nil {
					e.onEndOfTrack(n.deckID)
				}
			}
		case <-ticker.C:
			if dropped := e.notifyDropped.Swap(0); dropped > 0 {
				log.Printf("engine: notification queue full, dropped %d notification(s)", dropped)
			}
		}
	}
}

// SetOnPosition registers the position-update notification.
func (e *Engine) SetOnPosition(fn PositionFunc) { e.onPosition = fn }

// SetOnEndOfTrack registers the end-of-track notification.
func (e *Engine) SetOnEndOfTrack(fn EndOfTrackFunc) { e.onEndOfTrack = fn }

func (e *Engine) deck(id int) (*audio.Deck, audio.Status) {
	if e.decks == nil {
		return nil, audio.StatusNotInitialized
	}
	d, ok := e.decks[id]
	if !ok {
		return nil, audio.StatusInvalidArgument
	}
	return d, audio.StatusOK
}

// Load forwards path to the decoder and loads the resulting buffer.
func (e *Engine) Load(deckID int, path string) audio.Status {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	buf, err := e.decoder.Decode(path)
	if err != nil {
		log.Printf("engine: decode %q for deck %d: %v", path, deckID, err)
		return audio.StatusDecodeFailed
	}
	if err := d.Load(buf); err != nil {
		return audio.StatusInvalidArgument
	}
	return audio.StatusOK
}

func (e *Engine) Unload(deckID int) audio.Status {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	d.Unload()
	return audio.StatusOK
}

func (e *Engine) Play(deckID int) audio.Status {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	d.Play()
	return audio.StatusOK
}

// PlaySynced plays deckID synced to masterID via the sync manager.
func (e *Engine) PlaySynced(deckID, masterID int) audio.Status {
	slave, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	master, status := e.deck(masterID)
	if status != audio.StatusOK {
		return status
	}
	if err := e.sync.PlaySynced(slave, master); err != nil {
		return audio.StatusInvalidArgument
	}
	return audio.StatusOK
}

func (e *Engine) Pause(deckID int) audio.Status {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	d.Pause()
	return audio.StatusOK
}

func (e *Engine) StopDeck(deckID int) audio.Status {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	d.Stop()
	return audio.StatusOK
}

func (e *Engine) SetPosition(deckID int, seconds float64) audio.Status {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	d.Seek(seconds)
	return audio.StatusOK
}

func (e *Engine) GetPosition(deckID int) (float64, audio.Status) {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return 0, status
	}
	return d.PositionSeconds(), audio.StatusOK
}

func (e *Engine) GetDuration(deckID int) (float64, audio.Status) {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return 0, status
	}
	return d.DurationSeconds(), audio.StatusOK
}

func (e *Engine) IsPlaying(deckID int) (bool, audio.Status) {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return false, status
	}
	return d.IsPlaying(), audio.StatusOK
}

func (e *Engine) SetVolume(deckID int, v float64) audio.Status {
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetVolume(v) })
}

func (e *Engine) SetTempo(deckID int, ratio float64) audio.Status {
	if ratio < audio.MinTempo || ratio > audio.MaxTempo {
		return audio.StatusInvalidArgument
	}
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetTempo(ratio) })
}

func (e *Engine) SetPitch(deckID int, semitones float64) audio.Status {
	if semitones < audio.MinPitch || semitones > audio.MaxPitch {
		return audio.StatusInvalidArgument
	}
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetPitch(semitones) })
}

func (e *Engine) SetBPM(deckID int, bpm float64) audio.Status {
	if bpm <= 0 {
		return audio.StatusInvalidArgument
	}
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetBPM(bpm) })
}

func (e *Engine) GetBPM(deckID int) (float64, audio.Status) {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return 0, status
	}
	return d.BPM(), audio.StatusOK
}

func (e *Engine) SetBeatOffset(deckID int, seconds float64) audio.Status {
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetBeatOffset(seconds) })
}

// AnalyzeBPM estimates the loaded track's tempo. It does not store the
// result on the deck; callers pass it to SetBPM themselves. Returns 0
// if the deck has no loaded buffer.
func (e *Engine) AnalyzeBPM(deckID int) (float64, audio.Status) {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return 0, status
	}
	buf := d.Buffer()
	if buf == nil {
		return 0, audio.StatusInvalidArgument
	}
	return e.analyzer.AnalyzeBPM(buf), audio.StatusOK
}

// AnalyzeBeatOffset estimates the seconds-offset of the loaded track's
// first downbeat, given a bpm from AnalyzeBPM or a manual estimate.
func (e *Engine) AnalyzeBeatOffset(deckID int, bpm float64) (float64, audio.Status) {
	if bpm <= 0 {
		return 0, audio.StatusInvalidArgument
	}
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return 0, status
	}
	buf := d.Buffer()
	if buf == nil {
		return 0, audio.StatusInvalidArgument
	}
	return e.analyzer.AnalyzeBeatOffset(buf, bpm), audio.StatusOK
}

func (e *Engine) SetEQLow(deckID int, gain float64) audio.Status {
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetEQLow(gain) })
}

func (e *Engine) SetEQMid(deckID int, gain float64) audio.Status {
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetEQMid(gain) })
}

func (e *Engine) SetEQHigh(deckID int, gain float64) audio.Status {
	return e.withDeck(deckID, func(d *audio.Deck) { d.SetEQHigh(gain) })
}

func (e *Engine) withDeck(deckID int, fn func(*audio.Deck)) audio.Status {
	d, status := e.deck(deckID)
	if status != audio.StatusOK {
		return status
	}
	fn(d)
	return audio.StatusOK
}

// SetCrossfader sets the mixer's crossfader position.
func (e *Engine) SetCrossfader(x float64) audio.Status {
	if e.mixer == nil {
		return audio.StatusNotInitialized
	}
	e.mixer.SetCrossfade(x)
	return audio.StatusOK
}

// SetPhaseCorrection configures the sync manager's optional steady-state
// phase corrector: whether it runs, how often (in callbacks), and the
// largest single nudge it may apply (in seconds).
func (e *Engine) SetPhaseCorrection(enabled bool, everyNCallbacks int, maxSeconds float64) audio.Status {
	if e.sync == nil {
		return audio.StatusNotInitialized
	}
	e.sync.SetPhaseCorrection(enabled, everyNCallbacks)
	e.sync.SetMaxPhaseCorrectionSeconds(maxSeconds)
	return audio.StatusOK
}

func (e *Engine) SyncEnable(slaveID, masterID int) audio.Status {
	if e.sync == nil {
		return audio.StatusNotInitialized
	}
	if _, status := e.deck(slaveID); status != audio.StatusOK {
		return status
	}
	if _, status := e.deck(masterID); status != audio.StatusOK {
		return status
	}
	if err := e.sync.Enable(slaveID, masterID); err != nil {
		return audio.StatusInvalidArgument
	}
	return audio.StatusOK
}

func (e *Engine) SyncDisable(id int) audio.Status {
	if e.sync == nil {
		return audio.StatusNotInitialized
	}
	e.sync.Disable(id)
	return audio.StatusOK
}

func (e *Engine) SyncAlignNow(slaveID, masterID int) audio.Status {
	slave, status := e.deck(slaveID)
	if status != audio.StatusOK {
		return status
	}
	master, status := e.deck(masterID)
	if status != audio.StatusOK {
		return status
	}
	if err := e.sync.AlignNow(slave, master); err != nil {
		return audio.StatusInvalidArgument
	}
	return audio.StatusOK
}
