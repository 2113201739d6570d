package ratelimit

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

var redisNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newRedisLimiter(t *testing.T) (*RedisLimiter, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := NewRedisLimiter(db)
	l.now = func() time.Time { return redisNow }
	return l, mock
}

func checkExpectations(t *testing.T, mock redismock.ClientMock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet redis expectations: %v", err)
	}
}

// ─── CheckLimit ─────────────────────────────────────────────────────────────

func TestRedisCheckLimit_AllowedConsumesSlot(t *testing.T) {
	l, mock := newRedisLimiter(t)
	rule := Rule{Name: "low", MaxRequests: 5, Window: time.Minute}

	key := "aegis:ratelimit:low:user-1"
	windowStart := strconv.FormatInt(redisNow.Add(-time.Minute).Unix(), 10)
	nowUnix := strconv.FormatInt(redisNow.Unix(), 10)

	mock.ExpectExists("aegis:blocked:user-1").SetVal(0)
	mock.ExpectGet("aegis:applied:user-1").RedisNil()
	mock.ExpectZCount(key, windowStart, nowUnix).SetVal(2)
	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(key, "0", windowStart).SetVal(0)
	mock.Regexp().ExpectZAdd(key, &redis.Z{
		Score:  float64(redisNow.Unix()),
		Member: `\d+:[0-9a-f-]+`,
	}).SetVal(1)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectTxPipelineExec()

	res, err := l.CheckLimit(context.Background(), "user-1", rule, CheckContext{})
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if !res.Allowed {
		t.Fatal("request below the limit must be allowed")
	}
	if res.Remaining != 2 {
		t.Errorf("remaining = %d, want 2", res.Remaining)
	}
	checkExpectations(t, mock)
}

func TestRedisCheckLimit_AtLimitDenied(t *testing.T) {
	l, mock := newRedisLimiter(t)
	rule := Rule{Name: "low", MaxRequests: 5, Window: time.Minute}

	key := "aegis:ratelimit:low:user-1"
	windowStart := strconv.FormatInt(redisNow.Add(-time.Minute).Unix(), 10)
	nowUnix := strconv.FormatInt(redisNow.Unix(), 10)

	mock.ExpectExists("aegis:blocked:user-1").SetVal(0)
	mock.ExpectGet("aegis:applied:user-1").RedisNil()
	mock.ExpectZCount(key, windowStart, nowUnix).SetVal(5)

	res, err := l.CheckLimit(context.Background(), "user-1", rule, CheckContext{})
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if res.Allowed {
		t.Fatal("request at the limit must be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want 1m", res.RetryAfter)
	}
	checkExpectations(t, mock)
}

func TestRedisCheckLimit_BlockedShortCircuits(t *testing.T) {
	l, mock := newRedisLimiter(t)
	rule := Rule{Name: "low", MaxRequests: 5, Window: time.Minute}

	mock.ExpectExists("aegis:blocked:attacker").SetVal(1)
	mock.ExpectTTL("aegis:blocked:attacker").SetVal(30 * time.Second)

	res, err := l.CheckLimit(context.Background(), "attacker", rule, CheckContext{})
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if res.Allowed {
		t.Fatal("blocked identifier must be denied")
	}
	if res.RetryAfter != 30*time.Second {
		t.Errorf("retry after = %v, want 30s", res.RetryAfter)
	}
	checkExpectations(t, mock)
}

func TestRedisCheckLimit_AppliedLimitOverrides(t *testing.T) {
	l, mock := newRedisLimiter(t)
	rule := Rule{Name: "low", MaxRequests: 5, Window: time.Minute}

	applied := Rule{Name: "applied:user-1", MaxRequests: 2, Window: time.Minute}
	data, _ := json.Marshal(applied)

	key := "aegis:ratelimit:applied:user-1:user-1"
	windowStart := strconv.FormatInt(redisNow.Add(-time.Minute).Unix(), 10)
	nowUnix := strconv.FormatInt(redisNow.Unix(), 10)

	mock.ExpectExists("aegis:blocked:user-1").SetVal(0)
	mock.ExpectGet("aegis:applied:user-1").SetVal(string(data))
	mock.ExpectZCount(key, windowStart, nowUnix).SetVal(2)

	res, err := l.CheckLimit(context.Background(), "user-1", rule, CheckContext{})
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	if res.Allowed {
		t.Fatal("applied limit of 2 must deny")
	}
	if res.Limit != 2 {
		t.Errorf("limit = %d, want the applied 2", res.Limit)
	}
	checkExpectations(t, mock)
}

// ─── Enforcement surface ────────────────────────────────────────────────────

func TestRedisBlockAndUnblock(t *testing.T) {
	l, mock := newRedisLimiter(t)

	mock.ExpectSet("aegis:blocked:attacker", "1", 10*time.Minute).SetVal("OK")
	if err := l.Block(context.Background(), "attacker", 10*time.Minute); err != nil {
		t.Fatalf("Block: %v", err)
	}

	mock.ExpectDel("aegis:blocked:attacker").SetVal(1)
	if err := l.Unblock(context.Background(), "attacker"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	checkExpectations(t, mock)
}

func TestRedisApplyAndRemoveLimit(t *testing.T) {
	l, mock := newRedisLimiter(t)

	rule := Rule{Name: "applied:user-1", MaxRequests: 10, Window: time.Minute}
	data, _ := json.Marshal(rule)

	mock.ExpectSet("aegis:applied:user-1", data, time.Hour).SetVal("OK")
	if err := l.ApplyLimit(context.Background(), "user-1", 10, time.Minute, time.Hour); err != nil {
		t.Fatalf("ApplyLimit: %v", err)
	}

	mock.ExpectDel("aegis:applied:user-1").SetVal(1)
	if err := l.RemoveLimit(context.Background(), "user-1"); err != nil {
		t.Fatalf("RemoveLimit: %v", err)
	}
	checkExpectations(t, mock)
}

func TestRedisResetCounter(t *testing.T) {
	l, mock := newRedisLimiter(t)

	mock.ExpectDel("aegis:ratelimit:low:user-1").SetVal(1)
	rule := Rule{Name: "low", MaxRequests: 5, Window: time.Minute}
	if err := l.ResetCounter(context.Background(), "user-1", rule); err != nil {
		t.Fatalf("ResetCounter: %v", err)
	}
	checkExpectations(t, mock)
}

func TestRedisGetRemainingRequests(t *testing.T) {
	l, mock := newRedisLimiter(t)
	rule := Rule{Name: "low", MaxRequests: 5, Window: time.Minute}

	windowStart := strconv.FormatInt(redisNow.Add(-time.Minute).Unix(), 10)
	nowUnix := strconv.FormatInt(redisNow.Unix(), 10)
	mock.ExpectZCount("aegis:ratelimit:low:user-1", windowStart, nowUnix).SetVal(3)

	remaining, err := l.GetRemainingRequests(context.Background(), "user-1", rule)
	if err != nil {
		t.Fatalf("GetRemainingRequests: %v", err)
	}
	if remaining != 2 {
		t.Errorf("remaining = %d, want 2", remaining)
	}
	checkExpectations(t, mock)
}
