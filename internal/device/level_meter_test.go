package device

import "testing"

func TestLevelMeterSinkLogsEveryN(t *testing.T) {
	s := NewLevelMeterSink(2)
	defer s.Close()
	s.Push([]float32{0.5, -0.5})
	if s.count.Load() != 1 {
		t.Errorf("count = %d, want 1", s.count.Load())
	}
	s.Push([]float32{0.25, -0.25})
	if s.count.Load() != 2 {
		t.Errorf("count = %d, want 2", s.count.Load())
	}
}

func TestLevelMeterSinkIgnoresEmptyPush(t *testing.T) {
	s := NewLevelMeterSink(1)
	defer s.Close()
	s.Push(nil)
	if s.count.Load() != 0 {
		t.Errorf("count = %d, want 0 after empty push", s.count.Load())
	}
}

func TestNewLevelMeterSinkDefaultsLogEvery(t *testing.T) {
	s := NewLevelMeterSink(0)
	defer s.Close()
	if s.logEvery != 100 {
		t.Errorf("logEvery = %d, want 100 default", s.logEvery)
	}
}
