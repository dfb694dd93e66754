package transport

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoffDelay_Doubling(t *testing.T) {
	cfg := Config{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 800 * time.Millisecond,
	}
	rng := rand.New(rand.NewSource(1))

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, expected := range want {
		attempt := i + 1
		got := backoffDelay(cfg, attempt, rng)
		if got != expected {
			t.Errorf("attempt %d: expected %v, got %v", attempt, expected, got)
		}
	}
}

func TestBackoffDelay_JitterBounds(t *testing.T) {
	cfg := Config{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 100 * time.Millisecond,
		ReconnectJitter:   0.5,
	}
	rng := rand.New(rand.NewSource(42))

	lo := 50 * time.Millisecond
	hi := 150 * time.Millisecond
	for i := 0; i < 500; i++ {
		got := backoffDelay(cfg, 1, rng)
		if got < lo || got > hi {
			t.Fatalf("sample %d: delay %v outside [%v, %v]", i, got, lo, hi)
		}
	}
}

func TestBackoffDelay_NeverNegative(t *testing.T) {
	cfg := Config{
		ReconnectDelay:    time.Millisecond,
		MaxReconnectDelay: time.Millisecond,
		ReconnectJitter:   1.0,
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		if got := backoffDelay(cfg, 1, rng); got < 0 {
			t.Fatalf("sample %d: negative delay %v", i, got)
		}
	}
}
