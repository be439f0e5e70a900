package internal

import (
	"testing"
	"time"
)

func TestRateLimiterEnforcesLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatal("fourth request should be rejected")
	}
	// Other keys are tracked independently.
	if !limiter.Allow("10.0.0.2") {
		t.Fatal("different key should be allowed")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	limiter := NewRateLimiter(1, 10*time.Millisecond)

	if !limiter.Allow("k") {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow("k") {
		t.Fatal("second immediate request should be rejected")
	}
	time.Sleep(20 * time.Millisecond)
	if !limiter.Allow("k") {
		t.Fatal("request after the window should be allowed")
	}
}
