package ratelimit

import (
	"context"
	"testing"
	"time"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

// clock is a fixed, manually advanced time source.
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*MemoryLimiter, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter()
	l.now = c.now
	return l, c
}

var perMinute5 = Rule{Name: "low", MaxRequests: 5, Window: time.Minute}

// ─── CheckLimit ─────────────────────────────────────────────────────────────

func TestCheckLimit_BudgetExhaustion(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
		if err != nil {
			t.Fatalf("CheckLimit %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.Remaining != 5-(i+1) {
			t.Errorf("request %d: remaining = %d, want %d", i, res.Remaining, 5-(i+1))
		}
	}

	res, err := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if res.Allowed {
		t.Fatal("sixth request must be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want %v", res.RetryAfter, time.Minute)
	}
}

func TestCheckLimit_WindowSlides(t *testing.T) {
	l, c := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	}
	if res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{}); res.Allowed {
		t.Fatal("budget should be exhausted")
	}

	c.advance(61 * time.Second)
	res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if !res.Allowed {
		t.Fatal("window expiry must refill the budget")
	}
	if res.Remaining != 4 {
		t.Errorf("remaining = %d, want 4", res.Remaining)
	}
}

func TestCheckLimit_IdentifiersIsolated(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	}
	res, _ := l.CheckLimit(ctx, "user-2", perMinute5, CheckContext{})
	if !res.Allowed {
		t.Fatal("one identifier's exhaustion must not affect another")
	}
}

func TestCheckLimit_DeniedRequestDoesNotConsume(t *testing.T) {
	l, c := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	}
	// Hammering while denied must not extend the wait.
	for i := 0; i < 10; i++ {
		l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	}

	c.advance(61 * time.Second)
	res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if !res.Allowed {
		t.Fatal("denied requests must not consume budget")
	}
}

// ─── Blocks ─────────────────────────────────────────────────────────────────

func TestBlock_DeniesOutright(t *testing.T) {
	l, c := newTestLimiter()
	ctx := context.Background()

	if err := l.Block(ctx, "attacker", 10*time.Minute); err != nil {
		t.Fatalf("Block: %v", err)
	}

	blocked, err := l.IsBlocked(ctx, "attacker")
	if err != nil || !blocked {
		t.Fatalf("IsBlocked = %v, %v; want true", blocked, err)
	}

	res, _ := l.CheckLimit(ctx, "attacker", perMinute5, CheckContext{})
	if res.Allowed {
		t.Fatal("blocked identifier must be denied")
	}
	if res.RetryAfter != 10*time.Minute {
		t.Errorf("retry after = %v, want 10m", res.RetryAfter)
	}

	c.advance(11 * time.Minute)
	if blocked, _ := l.IsBlocked(ctx, "attacker"); blocked {
		t.Error("block must expire")
	}
	if res, _ := l.CheckLimit(ctx, "attacker", perMinute5, CheckContext{}); !res.Allowed {
		t.Error("expired block must not deny")
	}
}

func TestUnblock_Idempotent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.Block(ctx, "user-1", time.Hour)
	if err := l.Unblock(ctx, "user-1"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if blocked, _ := l.IsBlocked(ctx, "user-1"); blocked {
		t.Error("unblocked identifier still blocked")
	}
	// Never-blocked identifier unblocks cleanly.
	if err := l.Unblock(ctx, "ghost"); err != nil {
		t.Fatalf("Unblock of absent identifier: %v", err)
	}
}

// ─── Applied limits ─────────────────────────────────────────────────────────

func TestApplyLimit_StricterRuleWins(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	if err := l.ApplyLimit(ctx, "user-1", 2, time.Minute, time.Hour); err != nil {
		t.Fatalf("ApplyLimit: %v", err)
	}

	for i := 0; i < 2; i++ {
		res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
		if !res.Allowed {
			t.Fatalf("request %d should pass the applied limit", i)
		}
		if res.Limit != 2 {
			t.Errorf("limit = %d, want the applied 2", res.Limit)
		}
	}
	res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if res.Allowed {
		t.Fatal("applied limit of 2 must deny the third request")
	}
}

func TestApplyLimit_LooserRuleIgnored(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.ApplyLimit(ctx, "user-1", 50, time.Minute, time.Hour)
	res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if res.Limit != 5 {
		t.Errorf("limit = %d, the tier rule should stay in force", res.Limit)
	}
}

func TestApplyLimit_Expires(t *testing.T) {
	l, c := newTestLimiter()
	ctx := context.Background()

	l.ApplyLimit(ctx, "user-1", 1, time.Minute, 10*time.Minute)
	l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{}); res.Allowed {
		t.Fatal("applied limit should deny")
	}

	c.advance(11 * time.Minute)
	res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if !res.Allowed || res.Limit != 5 {
		t.Errorf("expired applied limit should restore the tier rule, got %+v", res)
	}
}

func TestRemoveLimit_Idempotent(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.ApplyLimit(ctx, "user-1", 1, time.Minute, time.Hour)
	if err := l.RemoveLimit(ctx, "user-1"); err != nil {
		t.Fatalf("RemoveLimit: %v", err)
	}
	res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if res.Limit != 5 {
		t.Errorf("removed limit still applied: %+v", res)
	}
	if err := l.RemoveLimit(ctx, "ghost"); err != nil {
		t.Fatalf("RemoveLimit of absent subject: %v", err)
	}
}

// ─── Counters ───────────────────────────────────────────────────────────────

func TestGetRemainingAndReset(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})

	remaining, err := l.GetRemainingRequests(ctx, "user-1", perMinute5)
	if err != nil {
		t.Fatalf("GetRemainingRequests: %v", err)
	}
	if remaining != 3 {
		t.Errorf("remaining = %d, want 3", remaining)
	}

	if err := l.ResetCounter(ctx, "user-1", perMinute5); err != nil {
		t.Fatalf("ResetCounter: %v", err)
	}
	remaining, _ = l.GetRemainingRequests(ctx, "user-1", perMinute5)
	if remaining != 5 {
		t.Errorf("after reset remaining = %d, want 5", remaining)
	}
}

func TestIncrementCounter(t *testing.T) {
	l, _ := newTestLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.IncrementCounter(ctx, "user-1", perMinute5); err != nil {
			t.Fatalf("IncrementCounter: %v", err)
		}
	}
	res, _ := l.CheckLimit(ctx, "user-1", perMinute5, CheckContext{})
	if res.Allowed {
		t.Fatal("incremented counter must count against the budget")
	}
}
