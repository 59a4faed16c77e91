package agent

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("limits are per key")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	defer rl.Stop()

	if !rl.Allow("a") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("second request should be limited")
	}
	time.Sleep(40 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("request after the window should be allowed")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(5, time.Millisecond)
	rl.Stop()

	rl.Allow("a")
	time.Sleep(5 * time.Millisecond)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.requests["a"]; ok {
		t.Fatal("expired key should be evicted")
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Stop()
	rl.Stop()
}
