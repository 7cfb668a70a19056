package device

// Sink receives a copy of every buffer the engine writes to the output
// device. It exists so a monitor stream can observe the mixed output
// without the engine or core knowing anything about network transport.
type Sink interface {
	Push(samples []float32)
}

// Tap wraps a Device, copying every callback's output to a Sink right
// after the engine callback has filled it and before control returns to
// the underlying device (which then writes it out, or, in the
// SoftwareClock case, discards it).
type Tap struct {
	inner Device
	sink  Sink
}

// NewTap returns a Device that forwards to inner but also feeds every
// buffer to sink.
func NewTap(inner Device, sink Sink) *Tap {
	return &Tap{inner: inner, sink: sink}
}

// Open implements Device.
func (t *Tap) Open(sampleRate, bufferSize int, cb Callback) error {
	wrapped := func(out []float32, frames int) {
		cb(out, frames)
		t.sink.Push(out[:frames*2])
	}
	return t.inner.Open(sampleRate, bufferSize, wrapped)
}

// Close implements Device.
func (t *Tap) Close() { t.inner.Close() }
