package ratelimit

import (
	"context"
	"testing"
	"time"

	"trading-core/internal/model"
)

func TestLimiter_AllowConsumesBurstThenBlocks(t *testing.T) {
	l := NewLimiter(map[string]model.RateLimit{
		"place": {RPS: 1, Burst: 2},
	})

	if !l.Allow("acct1", "place") {
		t.Fatal("expected first call to be allowed")
	}
	if !l.Allow("acct1", "place") {
		t.Fatal("expected second call to consume remaining burst")
	}
	if l.Allow("acct1", "place") {
		t.Fatal("expected third call to be throttled")
	}
}

func TestLimiter_SeparateBucketsPerAccount(t *testing.T) {
	l := NewLimiter(map[string]model.RateLimit{
		"place": {RPS: 1, Burst: 1},
	})

	if !l.Allow("acct1", "place") {
		t.Fatal("expected acct1's first call to be allowed")
	}
	if !l.Allow("acct2", "place") {
		t.Fatal("expected acct2 to have its own independent bucket")
	}
}

func TestLimiter_UndeclaredOperationFallsBackUnrestricted(t *testing.T) {
	l := NewLimiter(map[string]model.RateLimit{
		"place": {RPS: 1, Burst: 1},
	})
	for i := 0; i < 100; i++ {
		if !l.Allow("acct1", "unknown-op") {
			t.Fatalf("expected undeclared operation to stay unrestricted, blocked at call %d", i)
		}
	}
}

func TestLimiter_WaitRespectsContextCancellation(t *testing.T) {
	l := NewLimiter(map[string]model.RateLimit{
		"place": {RPS: 1, Burst: 1},
	})
	l.Allow("acct1", "place") // drain the single token

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "acct1", "place"); err == nil {
		t.Fatal("expected Wait to return an error once the context deadline passes")
	}
}
