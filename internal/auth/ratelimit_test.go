package auth

import "testing"

func TestLoginLimiterBurst(t *testing.T) {
	// 1 sustained per minute, burst of 3: the 4th immediate attempt is denied.
	l := NewLoginLimiter(1, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("attempt %d within burst denied", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("attempt beyond burst allowed")
	}
}

func TestLoginLimiterPerIPIsolation(t *testing.T) {
	l := NewLoginLimiter(1, 1)
	if !l.Allow("10.0.0.1") {
		t.Fatal("first attempt denied")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("second attempt from same IP allowed")
	}
	if !l.Allow("10.0.0.2") {
		t.Fatal("other IP throttled by the first IP's bucket")
	}
}
