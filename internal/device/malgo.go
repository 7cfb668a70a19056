package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tphakala/malgo"
)

// MalgoDevice drives the engine callback from a real low-latency
// playback stream via miniaudio (through the malgo bindings). It requests
// the platform's lowest-latency backend (PreferredBackend), or miniaudio's
// own default selection on platforms without one; if the requested
// backend cannot open a device, Open returns an error and does not try
// another backend.
type MalgoDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewMalgoDevice returns an unopened device. Open binds it to a live
// output stream.
func NewMalgoDevice() *MalgoDevice {
	return &MalgoDevice{}
}

// Open initializes the audio host, opens a stereo float32 output stream
// at sampleRate with bufferSize frames per period, and starts it. The
// engine callback cb is invoked from miniaudio's own audio thread.
func (m *MalgoDevice) Open(sampleRate, bufferSize int, cb Callback) error {
	backend := PreferredBackend()
	var backends []malgo.Backend
	if backend != malgo.BackendNull {
		backends = []malgo.Backend{backend}
	}

	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return fmt.Errorf("device: init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 2
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(bufferSize)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Periods = 3

	out := make([]float32, bufferSize*2)
	dataCallback := func(outputBuffer, _ []byte, frameCount uint32) {
		frames := int(frameCount)
		if frames > bufferSize {
			frames = bufferSize
		}
		cb(out[:frames*2], frames)
		writeFloat32LE(outputBuffer, out[:frames*2])
	}

	dev, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: dataCallback})
	if err != nil {
		ctx.Free()
		return fmt.Errorf("device: init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		ctx.Free()
		return fmt.Errorf("device: start playback device: %w", err)
	}

	m.ctx = ctx
	m.device = dev
	return nil
}

// Close stops and uninitializes the stream, blocking until drained.
func (m *MalgoDevice) Close() {
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		m.ctx.Free()
		m.ctx = nil
	}
}

func writeFloat32LE(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:i*4+4], math.Float32bits(s))
	}
}
