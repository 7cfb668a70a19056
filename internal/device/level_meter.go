package device

import (
	"log"
	"math"
	"sync"
	"sync/atomic"
)

// levelSample is one peak/RMS reading queued for the drain goroutine.
type levelSample struct {
	peak, rms float64
}

// LevelMeterSink is a non-network debug Sink: it tracks the peak and RMS
// amplitude of whatever passes through Push and periodically logs a
// summary line, instead of shipping the audio anywhere. It exists so a
// host command can observe the mixed output without standing up a
// broadcast transport.
//
// Push runs on whatever thread drives the wrapped device (malgo's
// real-time data callback, or the software clock's ticker goroutine), so
// it must never log directly — logging is I/O and blocks on a mutex
// internally. Instead Push queues a sample onto levelCh (dropping it if
// the drain goroutine is behind) and a dedicated goroutine, started in
// NewLevelMeterSink, does the actual log.Printf, mirroring
// engine.Engine's notifyCh/drainNotifications split between the audio
// thread and its notification consumer.
type LevelMeterSink struct {
	logEvery int
	count    atomic.Uint64

	levelCh chan levelSample
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewLevelMeterSink returns a sink that logs a level summary every
// logEvery calls to Push. logEvery <= 0 defaults to 100.
func NewLevelMeterSink(logEvery int) *LevelMeterSink {
	if logEvery <= 0 {
		logEvery = 100
	}
	s := &LevelMeterSink{
		logEvery: logEvery,
		levelCh:  make(chan levelSample, 4),
		stop:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *LevelMeterSink) drain() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case lv := <-s.levelCh:
			log.Printf("meter: peak=%.4f rms=%.4f", lv.peak, lv.rms)
		}
	}
}

// Close stops the drain goroutine, waiting for it to exit.
func (s *LevelMeterSink) Close() {
	close(s.stop)
	s.wg.Wait()
}

func (s *LevelMeterSink) Push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	var peak float64
	var sumSq float64
	for _, v := range samples {
		a := math.Abs(float64(v))
		if a > peak {
			peak = a
		}
		sumSq += float64(v) * float64(v)
	}
	n := s.count.Add(1)
	if int(n)%s.logEvery != 0 {
		return
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	select {
	case s.levelCh <- levelSample{peak: peak, rms: rms}:
	default:
		// Drain goroutine is behind; drop rather than block the caller's
		// real-time thread.
	}
}
