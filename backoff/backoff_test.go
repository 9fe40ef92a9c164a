package backoff_test

import (
	"testing"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/backoff"
)

func TestConstantDelay(t *testing.T) {
	s := backoff.NewConstant(250 * time.Millisecond)
	for _, attempt := range []int{1, 2, 10, 100} {
		if got := s.Delay(attempt); got != 250*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want 250ms", attempt, got)
		}
	}
}

func TestLinearDelay(t *testing.T) {
	s := backoff.NewLinear(100*time.Millisecond, 350*time.Millisecond)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		350 * time.Millisecond, // capped
		350 * time.Millisecond,
	}
	for i, w := range want {
		if got := s.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestLinearNoCapWhenMaxZero(t *testing.T) {
	s := backoff.NewLinear(time.Second, 0)
	if got := s.Delay(100); got != 100*time.Second {
		t.Errorf("Delay(100) = %v, want 100s", got)
	}
}

func TestExponentialDelay(t *testing.T) {
	s := backoff.NewExponential(100*time.Millisecond, time.Second)
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second,
	}
	for i, w := range want {
		if got := s.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExponentialWithJitterBounds(t *testing.T) {
	s := backoff.NewExponentialWithJitter(100*time.Millisecond, time.Second)
	for attempt := 1; attempt <= 8; attempt++ {
		ceiling := 100 * time.Millisecond << (attempt - 1)
		if ceiling > time.Second {
			ceiling = time.Second
		}
		for i := 0; i < 50; i++ {
			got := s.Delay(attempt)
			if got < 0 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want within [0, %v]", attempt, got, ceiling)
			}
		}
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if s == nil {
		t.Fatal("DefaultStrategy returned nil")
	}
	if got := s.Delay(1); got < 0 || got > time.Second {
		t.Errorf("Delay(1) = %v, want within [0, 1s]", got)
	}
}
