package ratelimit

import (
	"errors"
	"testing"
)

func TestAllow_ConsumesBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("agent-a"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if err := l.Allow("agent-a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("4th request error = %v, want ErrRateLimited", err)
	}
}

func TestAllow_BucketsAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("agent-a"); err != nil {
		t.Fatalf("agent-a: %v", err)
	}
	if err := l.Allow("agent-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("agent-a should be limited")
	}
	if err := l.Allow("agent-b"); err != nil {
		t.Errorf("agent-b must have its own bucket: %v", err)
	}
}

func TestAllow_ZeroRateIsUnlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("agent-a"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i+1, err)
		}
	}
}

func TestAllow_BurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 2})

	if err := l.Allow("agent-a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("agent-a"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("agent-a"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
}
