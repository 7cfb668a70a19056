// Command mixcore-demo wires the mixing core to real audio output: two
// decks, the engine, and a device.LevelMeterSink that logs the mixed
// output's level so the pipeline can be observed without a network
// transport. It is host-side demonstration code, not part of the core.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kestrel-audio/mixcore/internal/config"
	"github.com/kestrel-audio/mixcore/internal/decode"
	"github.com/kestrel-audio/mixcore/internal/device"
	"github.com/kestrel-audio/mixcore/internal/engine"
)

func main() {
	cfg := config.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	decoder := decode.NewFFmpegDecoder(cfg.SampleRate)
	decoder.BinPath = cfg.FFmpegPath
	eng := engine.New(decoder)

	meter := device.NewLevelMeterSink(200)
	defer meter.Close()
	dev := device.NewTap(chooseDevice(), meter)

	if status := eng.Init(cfg.SampleRate, cfg.BufferSize, dev); status != 0 {
		log.Fatalf("engine init failed: %s", status)
	}
	eng.SetPhaseCorrection(cfg.PhaseCorrectionEnabled, cfg.PhaseCorrectionEveryNCalls, cfg.PhaseCorrectionMaxSeconds)
	eng.SetOnPosition(func(deckID int, seconds float64) {
		log.Printf("deck %d position: %.2fs", deckID, seconds)
	})
	eng.SetOnEndOfTrack(func(deckID int) {
		log.Printf("deck %d end of track", deckID)
	})

	if path := os.Getenv("MIXCORE_DEMO_TRACK"); path != "" {
		loadAndAnalyze(eng, 0, path)
	}

	if status := eng.Start(); status != 0 {
		log.Fatalf("engine start failed: %s", status)
	}
	defer eng.Shutdown()

	<-ctx.Done()
	log.Println("shutting down")
}

// loadAndAnalyze loads a track onto deckID, runs BPM/beat-offset analysis
// on it, seeds the deck's sync parameters from the result, and starts
// playback. It exists so the demo exercises Engine.AnalyzeBPM and
// AnalyzeBeatOffset end to end without a network control surface.
func loadAndAnalyze(eng *engine.Engine, deckID int, path string) {
	if status := eng.Load(deckID, path); status != 0 {
		log.Printf("load deck %d: %s", deckID, status)
		return
	}
	bpm, status := eng.AnalyzeBPM(deckID)
	if status != 0 {
		log.Printf("analyze bpm deck %d: %s", deckID, status)
		eng.Play(deckID)
		return
	}
	log.Printf("deck %d analyzed bpm: %.1f", deckID, bpm)
	offset, status := eng.AnalyzeBeatOffset(deckID, bpm)
	if status != 0 {
		log.Printf("analyze beat offset deck %d: %s", deckID, status)
		eng.Play(deckID)
		return
	}
	eng.SetBPM(deckID, bpm)
	eng.SetBeatOffset(deckID, offset)
	log.Printf("deck %d beat offset: %.3fs", deckID, offset)
	eng.Play(deckID)
}

// chooseDevice prefers the real low-latency device; a production host
// would fall back to device.SoftwareClock only when no hardware output
// is available, but that probe is left to the deployment environment
// (MIXCORE_SOFTWARE_CLOCK=1 forces it for containers/CI).
func chooseDevice() device.Device {
	if os.Getenv("MIXCORE_SOFTWARE_CLOCK") != "" {
		return device.NewSoftwareClock()
	}
	return device.NewMalgoDevice()
}
