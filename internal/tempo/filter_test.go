package tempo

import (
	"math"
	"testing"
)

func TestNewStreamingFilterRejectsBadRate(t *testing.T) {
	if _, err := NewStreamingFilter(0); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestIdentityProcessPassesThrough(t *testing.T) {
	f, err := NewStreamingFilter(44100)
	if err != nil {
		t.Fatal(err)
	}
	input := make([]float64, 512)
	for i := range input {
		input[i] = math.Sin(float64(i) * 0.05)
	}
	out := f.Process(input)
	if len(out) != len(input) {
		t.Fatalf("identity output length = %d, want %d", len(out), len(input))
	}
	for i := range input {
		if out[i] != input[i] {
			t.Fatalf("identity output[%d] = %v, want %v", i, out[i], input[i])
		}
	}
}

func TestSetTempoChangesOutputLength(t *testing.T) {
	f, err := NewStreamingFilter(44100)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.SetTempo(1.5); err != nil {
		t.Fatal(err)
	}
	input := make([]float64, 4096)
	for i := range input {
		input[i] = math.Sin(float64(i) * 0.05)
	}
	out := f.Process(input)
	if len(out) == len(input) {
		t.Error("expected tempo change to alter output length relative to input")
	}
}

func TestSetTempoRejectsNonPositive(t *testing.T) {
	f, _ := NewStreamingFilter(44100)
	if err := f.SetTempo(0); err == nil {
		t.Error("expected error for zero tempo ratio")
	}
	if err := f.SetTempo(-1); err == nil {
		t.Error("expected error for negative tempo ratio")
	}
}

func TestClearDoesNotPanic(t *testing.T) {
	f, _ := NewStreamingFilter(44100)
	f.SetTempo(1.2)
	f.Process(make([]float64, 1024))
	f.Clear()
}
