package device

import (
	"runtime"

	"github.com/tphakala/malgo"
)

// PreferredBackend returns the lowest-latency backend malgo exposes for
// the current platform: WASAPI on Windows, CoreAudio on macOS, ALSA on
// Linux. miniaudio (the library malgo binds) has no ASIO backend, so
// these are its closest equivalents to a driver preference list headed
// by ASIO.
func PreferredBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}
