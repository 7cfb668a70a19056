package audio

import "testing"

func TestEqualPowerCrossfadeConservesPower(t *testing.T) {
	m := NewMixer()
	for i := 0; i <= 100; i++ {
		x := float64(i) / 100.0
		m.SetCrossfade(x)
		ga, gb := m.gains()
		power := ga*ga + gb*gb
		if diff := power - 1.0; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("crossfade power at x=%v = %v, want 1 within 1e-6", x, power)
		}
	}
}

func TestMixEndpoints(t *testing.T) {
	m := NewMixer()
	m.SetCrossfade(0)
	l, r := m.Mix(0.5, -0.5, 0.9, -0.9)
	if l != 0.5 || r != -0.5 {
		t.Errorf("at crossfade=0, Mix = (%v, %v), want deck A unmodified", l, r)
	}

	m.SetCrossfade(1)
	l, r = m.Mix(0.5, -0.5, 0.9, -0.9)
	if float64(l) < 0.899 || float64(l) > 0.901 {
		t.Errorf("at crossfade=1, Mix left = %v, want ~0.9", l)
	}
}

func TestSetCrossfadeClamps(t *testing.T) {
	m := NewMixer()
	m.SetCrossfade(-1)
	if m.Crossfade() != 0 {
		t.Errorf("Crossfade() = %v, want clamped to 0", m.Crossfade())
	}
	m.SetCrossfade(2)
	if m.Crossfade() != 1 {
		t.Errorf("Crossfade() = %v, want clamped to 1", m.Crossfade())
	}
}

func TestSoftClipMonotonicAndBounded(t *testing.T) {
	prev := SoftClip(-3.0)
	for x := -3.0; x <= 3.0; x += 0.05 {
		v := SoftClip(x)
		if v < prev {
			t.Errorf("SoftClip not monotonic at x=%v: %v < %v", x, v, prev)
		}
		if v > 1 || v < -1 {
			t.Errorf("SoftClip(%v) = %v, exceeds unity magnitude", x, v)
		}
		prev = v
	}
}

func TestSoftClipIdentityInRange(t *testing.T) {
	for _, x := range []float64{-1, -0.5, 0, 0.5, 1} {
		if SoftClip(x) != x {
			t.Errorf("SoftClip(%v) = %v, want identity within [-1,1]", x, SoftClip(x))
		}
	}
}
