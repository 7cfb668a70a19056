// Package beatsync implements the sync manager: a single optional
// master/slave relation between two decks, tempo matching on every
// audio callback, and one-shot phase alignment operations. It takes
// deck references as parameters to every operation rather than holding
// a global engine singleton, so the core stays free of a global.
package beatsync

import (
	"fmt"
	"math"

	"github.com/kestrel-audio/mixcore/internal/audio"
)

// State is a sync slot's position in the enable/align/disable state
// machine described by the relation's lifecycle.
type State int

const (
	Idle State = iota
	Armed
	Aligned
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Aligned:
		return "aligned"
	default:
		return "unknown"
	}
}

// MaxPhaseCorrectionSeconds bounds a single steady-state phase nudge so
// it never produces an audible discontinuity.
const MaxPhaseCorrectionSeconds = 0.050

// Manager holds at most one slave/master relation. Never both decks
// enslaved simultaneously: enabling a new relation replaces any prior
// one outright.
type Manager struct {
	state    State
	slaveID  int
	masterID int

	phaseCorrectionEnabled    bool
	phaseCorrectionEveryN     int
	maxPhaseCorrectionSeconds float64
	callbackCount             int
	seekInFlight              bool
}

// NewManager returns a disabled sync manager.
func NewManager() *Manager {
	return &Manager{state: Idle, phaseCorrectionEveryN: 200, maxPhaseCorrectionSeconds: MaxPhaseCorrectionSeconds}
}

// SetPhaseCorrection enables or disables the optional steady-state
// closed-loop phase corrector and its callback interval.
func (m *Manager) SetPhaseCorrection(enabled bool, everyNCallbacks int) {
	m.phaseCorrectionEnabled = enabled
	if everyNCallbacks > 0 {
		m.phaseCorrectionEveryN = everyNCallbacks
	}
}

// SetMaxPhaseCorrectionSeconds overrides the per-correction bound
// MaxPhaseCorrectionSeconds defaults to. seconds <= 0 leaves the current
// bound unchanged.
func (m *Manager) SetMaxPhaseCorrectionSeconds(seconds float64) {
	if seconds > 0 {
		m.maxPhaseCorrectionSeconds = seconds
	}
}

// Enabled reports whether a relation is currently armed or aligned.
func (m *Manager) Enabled() bool { return m.state != Idle }

// State returns the sync slot's current state.
func (m *Manager) State() State { return m.state }

// Slave and Master return the current relation's deck ids. Only
// meaningful when Enabled().
func (m *Manager) Slave() int  { return m.slaveID }
func (m *Manager) Master() int { return m.masterID }

// Enable records the master/slave relation. No immediate side effect on
// deck state; Update begins matching tempo on the next callback.
func (m *Manager) Enable(slaveID, masterID int) error {
	if slaveID == masterID {
		return fmt.Errorf("beatsync: slave and master must differ, got %d", slaveID)
	}
	m.slaveID = slaveID
	m.masterID = masterID
	m.state = Armed
	return nil
}

// Disable clears the relation if id is the recorded slave.
func (m *Manager) Disable(id int) {
	if m.state != Idle && m.slaveID == id {
		m.state = Idle
	}
}

// framesPerBeat returns round(60 * rate / bpm).
func framesPerBeat(rate float64, bpm float64) float64 {
	return math.Round(60 * rate / bpm)
}

// BeatPhase returns the fractional position within a beat, in [0, 1),
// for a source frame position given the track's beat offset and BPM.
func BeatPhase(frame int64, offsetSeconds, bpm float64, rate float64) float64 {
	fpb := framesPerBeat(rate, bpm)
	if fpb <= 0 {
		return 0
	}
	offsetFrames := math.Round(offsetSeconds * rate)
	rel := math.Mod(float64(frame)-offsetFrames, fpb)
	if rel < 0 {
		rel += fpb
	}
	return rel / fpb
}

// AlignNow is an immediate one-shot alignment: sets the slave's tempo
// ratio to master_bpm/slave_bpm and sets the slave's cursor so its
// current beat phase equals the master's, forcing a filter clear (a
// click is acceptable on this seek).
func (m *Manager) AlignNow(slave, master *audio.Deck) error {
	if slave == nil || master == nil {
		return fmt.Errorf("beatsync: align_now: deck is nil")
	}
	slaveBPM, masterBPM := slave.BPM(), master.BPM()
	if slaveBPM <= 0 || masterBPM <= 0 {
		return fmt.Errorf("beatsync: align_now: both decks require analyzed BPM, got slave=%v master=%v", slaveBPM, masterBPM)
	}
	rate := slaveSampleRate(slave)
	if rate == 0 {
		return fmt.Errorf("beatsync: align_now: cannot determine sample rate")
	}

	m.seekInFlight = true
	defer func() { m.seekInFlight = false }()

	slave.SetTempo(masterBPM / slaveBPM)

	masterPhase := BeatPhase(master.Cursor(), master.BeatOffset(), masterBPM, rate)
	fpb := framesPerBeat(rate, slaveBPM)
	slaveOffsetFrames := math.Round(slave.BeatOffset() * rate)

	currentBeatIndex := math.Floor((float64(slave.Cursor()) - slaveOffsetFrames) / fpb)
	target := slaveOffsetFrames + currentBeatIndex*fpb + masterPhase*fpb
	slave.SetCursor(int64(math.Round(target)))
	slave.ClearFilter()

	m.slaveID = slave.ID()
	m.masterID = master.ID()
	m.state = Aligned
	return nil
}

// PlaySynced chooses a start cursor for the slave such that its first
// downbeat emerges from the output at the same wall-clock moment as the
// master's next downbeat, then plays the slave from that position.
func (m *Manager) PlaySynced(slave, master *audio.Deck) error {
	if slave == nil || master == nil {
		return fmt.Errorf("beatsync: play_synced: deck is nil")
	}
	slaveBPM, masterBPM := slave.BPM(), master.BPM()
	if slaveBPM <= 0 || masterBPM <= 0 {
		return fmt.Errorf("beatsync: play_synced: both decks require analyzed BPM, got slave=%v master=%v", slaveBPM, masterBPM)
	}
	rate := slaveSampleRate(slave)
	if rate == 0 {
		return fmt.Errorf("beatsync: play_synced: cannot determine sample rate")
	}

	spbM := 60.0 / masterBPM
	spbS := 60.0 / slaveBPM
	r := masterBPM / slaveBPM

	masterPosSeconds := master.PositionSeconds()
	tNext := math.Mod(masterPosSeconds-master.BeatOffset(), spbM)
	if tNext < 0 {
		tNext += spbM
	}
	tNext = spbM - tNext
	if tNext == spbM {
		tNext = 0
	}

	startSeconds := slave.BeatOffset() - tNext*r
	for startSeconds < 0 {
		startSeconds += spbS
	}

	startFrame := int64(math.Round(startSeconds * rate))
	slave.SetTempo(r)
	slave.PlayAt(startFrame)

	m.slaveID = slave.ID()
	m.masterID = master.ID()
	m.state = Aligned
	return nil
}

// Update is called from the audio callback before mixing. If sync is
// enabled and both decks are playing, it writes the slave's tempo ratio
// to master_bpm/slave_bpm and, if enabled, applies a bounded steady-
// state phase correction. It is a no-op while a seek/align is in
// flight, and transitions Aligned back to Armed if either deck pauses.
func (m *Manager) Update(decks map[int]*audio.Deck, rate float64) {
	if m.state == Idle || m.seekInFlight {
		return
	}
	slave, sOk := decks[m.slaveID]
	master, mOk := decks[m.masterID]
	if !sOk || !mOk {
		return
	}
	if !slave.IsPlaying() || !master.IsPlaying() {
		if m.state == Aligned {
			m.state = Armed
		}
		return
	}
	m.state = Aligned

	slaveBPM, masterBPM := slave.BPM(), master.BPM()
	if slaveBPM > 0 && masterBPM > 0 {
		slave.SetTempo(masterBPM / slaveBPM)
	}

	if !m.phaseCorrectionEnabled {
		return
	}
	m.callbackCount++
	if m.callbackCount%m.phaseCorrectionEveryN != 0 {
		return
	}
	if slaveBPM <= 0 || masterBPM <= 0 || rate <= 0 {
		return
	}

	masterPhase := BeatPhase(master.Cursor(), master.BeatOffset(), masterBPM, rate)
	slavePhase := BeatPhase(slave.Cursor(), slave.BeatOffset(), slaveBPM, rate)
	diff := masterPhase - slavePhase
	if diff > 0.5 {
		diff -= 1
	} else if diff <= -0.5 {
		diff += 1
	}

	fpb := framesPerBeat(rate, slaveBPM)
	correctionFrames := diff * fpb
	maxFrames := m.maxPhaseCorrectionSeconds * rate
	if correctionFrames > maxFrames {
		correctionFrames = maxFrames
	} else if correctionFrames < -maxFrames {
		correctionFrames = -maxFrames
	}
	if correctionFrames == 0 {
		return
	}
	slave.SetCursor(slave.Cursor() + int64(math.Round(correctionFrames)))
}

func slaveSampleRate(d *audio.Deck) float64 {
	return float64(d.EngineSampleRate())
}
