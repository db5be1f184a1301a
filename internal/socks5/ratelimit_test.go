package socks5

import "testing"

func TestIPRateLimiter_AllowsWithinBurst(t *testing.T) {
	l := newIPRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("allow() call %d should succeed within burst", i)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("allow() should reject once burst is exhausted")
	}
}

func TestIPRateLimiter_IsolatesBySourceIP(t *testing.T) {
	l := newIPRateLimiter(1, 1)

	if !l.allow("10.0.0.1") {
		t.Fatal("first request from 10.0.0.1 should be allowed")
	}
	if l.allow("10.0.0.1") {
		t.Fatal("second immediate request from the same IP should be rejected")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("a different source IP must have its own independent bucket")
	}
}
