package sensor

import (
	"math"
	"testing"
)

func TestSyntheticStaysWithinJitterBand(t *testing.T) {
	s := NewSynthetic("temperature", 21.0, 1.5, 1)

	for i := 0; i < 1000; i++ {
		r, err := s.Sample()
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if r.Kind != "temperature" {
			t.Fatalf("kind = %q", r.Kind)
		}
		if math.Abs(r.Value-21.0) > 1.5 {
			t.Fatalf("value %f outside jitter band", r.Value)
		}
	}
}

func TestSyntheticSeedIsDeterministic(t *testing.T) {
	a := NewSynthetic("humidity", 55, 5, 42)
	b := NewSynthetic("humidity", 55, 5, 42)

	for i := 0; i < 10; i++ {
		ra, _ := a.Sample()
		rb, _ := b.Sample()
		if ra.Value != rb.Value {
			t.Fatalf("same seed diverged at sample %d: %f vs %f", i, ra.Value, rb.Value)
		}
	}
}

func TestSyntheticZeroJitterIsConstant(t *testing.T) {
	s := NewSynthetic("temperature", 21.0, 0, 7)
	for i := 0; i < 5; i++ {
		r, _ := s.Sample()
		if r.Value != 21.0 {
			t.Fatalf("value = %f, want exactly the base", r.Value)
		}
	}
}
