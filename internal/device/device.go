// Package device implements the engine's output-stream abstraction: a
// real low-latency hardware device via malgo, and a software clock that
// drives the same callback contract without touching hardware, for
// headless and test use.
package device

// Callback is the engine's audio callback: it must fill out (a
// frames*2 stereo float32 region) and must not block, allocate beyond
// what its own internal buffers require, or fail.
type Callback func(out []float32, frames int)

// Device is the output-stream abstraction the engine drives. Open binds
// the callback and starts delivery at sampleRate with the given
// buffer size (in frames); Close stops delivery and blocks until
// drained.
type Device interface {
	Open(sampleRate, bufferSize int, cb Callback) error
	Close()
}
