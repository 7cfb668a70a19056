// Package analysis implements the BPM and beat-offset analysis
// collaborator: given a decoded buffer, estimate a tempo in beats per
// minute and the offset in seconds of the first downbeat. The core only
// consumes the result through set_bpm/set_beat_offset; it never
// analyzes audio itself.
package analysis

import (
	"math"

	"github.com/kestrel-audio/mixcore/internal/audio"
)

// Analyzer estimates BPM and beat offset from a decoded buffer.
type Analyzer interface {
	AnalyzeBPM(buf *audio.Buffer) float64
	AnalyzeBeatOffset(buf *audio.Buffer, bpm float64) float64
}

const (
	minBPM = 70.0
	maxBPM = 180.0

	envelopeHopFrames = 256 // ~5.8ms at 44.1kHz, matches typical onset-envelope hop sizes
)

// OnsetAutocorrelationAnalyzer estimates tempo from the autocorrelation
// of a half-wave-rectified onset envelope (the positive first difference
// of a hop-wise RMS energy envelope): a modest but real estimator, not a
// stand-in.
type OnsetAutocorrelationAnalyzer struct{}

// NewOnsetAutocorrelationAnalyzer returns the default analyzer.
func NewOnsetAutocorrelationAnalyzer() *OnsetAutocorrelationAnalyzer {
	return &OnsetAutocorrelationAnalyzer{}
}

func monoEnvelope(buf *audio.Buffer) []float64 {
	raw := buf.Raw()
	frames := buf.Frames()
	hops := frames / envelopeHopFrames
	if hops < 2 {
		return nil
	}
	env := make([]float64, hops)
	for h := 0; h < hops; h++ {
		sum := 0.0
		base := h * envelopeHopFrames
		for i := 0; i < envelopeHopFrames; i++ {
			l := float64(raw[(base+i)*2])
			r := float64(raw[(base+i)*2+1])
			mono := (l + r) / 2
			sum += mono * mono
		}
		env[h] = math.Sqrt(sum / float64(envelopeHopFrames))
	}
	// Onset strength: half-wave rectified first difference.
	onset := make([]float64, len(env))
	for i := 1; i < len(env); i++ {
		d := env[i] - env[i-1]
		if d > 0 {
			onset[i] = d
		}
	}
	return onset
}

// AnalyzeBPM implements Analyzer via autocorrelation of the onset
// envelope, picking the lag with peak correlation whose implied tempo
// falls within a typical dance-music range.
func (a *OnsetAutocorrelationAnalyzer) AnalyzeBPM(buf *audio.Buffer) float64 {
	if buf == nil {
		return 0
	}
	onset := monoEnvelope(buf)
	if onset == nil {
		return 0
	}
	hopRate := float64(buf.SampleRate()) / float64(envelopeHopFrames)

	minLag := int(hopRate * 60.0 / maxBPM)
	maxLag := int(hopRate * 60.0 / minBPM)
	if maxLag >= len(onset) {
		maxLag = len(onset) - 1
	}
	if minLag < 1 {
		minLag = 1
	}
	if minLag >= maxLag {
		return 0
	}

	bestLag := minLag
	bestScore := -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		score := 0.0
		for i := lag; i < len(onset); i++ {
			score += onset[i] * onset[i-lag]
		}
		if score > bestScore {
			bestScore = score
			bestLag = lag
		}
	}
	if bestScore <= 0 {
		return 0
	}
	return 60.0 * hopRate / float64(bestLag)
}

// AnalyzeBeatOffset implements Analyzer by locating the strongest onset
// within the first bar (4 beats) at the given bpm.
func (a *OnsetAutocorrelationAnalyzer) AnalyzeBeatOffset(buf *audio.Buffer, bpm float64) float64 {
	if buf == nil || bpm <= 0 {
		return 0
	}
	onset := monoEnvelope(buf)
	if onset == nil {
		return 0
	}
	hopRate := float64(buf.SampleRate()) / float64(envelopeHopFrames)
	barHops := int(4 * 60.0 / bpm * hopRate)
	if barHops > len(onset) {
		barHops = len(onset)
	}
	if barHops == 0 {
		return 0
	}
	bestIdx := 0
	bestVal := onset[0]
	for i := 1; i < barHops; i++ {
		if onset[i] > bestVal {
			bestVal = onset[i]
			bestIdx = i
		}
	}
	return float64(bestIdx) / hopRate
}
