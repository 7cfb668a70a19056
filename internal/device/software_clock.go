package device

import (
	"context"
	"sync"
	"time"
)

// SoftwareClock drives the engine callback on a ticker instead of real
// hardware, at the period buffer_size/sample_rate implies. It backs the
// demo when no audio hardware is available and gives tests a
// deterministic callback source. Adapted from the corpus's
// ticker-plus-context frame-pacing loop shape (satindergrewal
// InfiniteRadio's Pipeline.Run), generalized from "decode and crossfade
// tracks on a timer" to "invoke an arbitrary per-period callback".
type SoftwareClock struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSoftwareClock returns an unopened software clock device.
func NewSoftwareClock() *SoftwareClock {
	return &SoftwareClock{}
}

// Open starts a goroutine that invokes cb once per period into a
// scratch buffer, discarding the output (there is no real speaker to
// write to). Tests that need to observe the output should wrap cb.
func (s *SoftwareClock) Open(sampleRate, bufferSize int, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	period := time.Duration(bufferSize) * time.Second / time.Duration(sampleRate)
	scratch := make([]float32, bufferSize*2)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cb(scratch, bufferSize)
			}
		}
	}()
	return nil
}

// Close stops the goroutine and waits for it to exit.
func (s *SoftwareClock) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
