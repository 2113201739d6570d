package core

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ─── IP validation ──────────────────────────────────────────────────────────

func TestValidateIPAddress(t *testing.T) {
	valid := []string{"203.0.113.7", "198.51.100.1", "2001:db8::1"}
	for _, ip := range valid {
		if err := validateIPAddress(ip); err != nil {
			t.Errorf("validateIPAddress(%q) = %v, want nil", ip, err)
		}
	}

	invalid := map[string]string{
		"not-an-ip":       "invalid",
		"":                "invalid",
		"0.0.0.0":         "unspecified",
		"::":              "unspecified",
		"224.0.0.1":       "multicast",
		"127.0.0.1":       "loopback",
		"::1":             "loopback",
		"255.255.255.255": "broadcast",
	}
	for ip, fragment := range invalid {
		err := validateIPAddress(ip)
		if err == nil {
			t.Errorf("validateIPAddress(%q) should fail", ip)
			continue
		}
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("validateIPAddress(%q) = %v, want %q in message", ip, err, fragment)
		}
	}
}

// ─── BlockIPHandler ─────────────────────────────────────────────────────────

func TestBlockIPHandler(t *testing.T) {
	enf := &fakeEnforcer{}
	h := &BlockIPHandler{Enforcer: enf}

	action := ResponseAction{
		Type:   ActionBlockIP,
		Params: BlockIPParams{IP: "203.0.113.7", Duration: time.Hour},
	}
	if err := h.Execute(context.Background(), action); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if enf.blocks != 1 {
		t.Errorf("blocks = %d, want 1", enf.blocks)
	}

	if err := h.Rollback(context.Background(), action); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if enf.unblocks != 1 {
		t.Errorf("unblocks = %d, want 1", enf.unblocks)
	}
}

func TestBlockIPHandler_RefusesProtectedAddresses(t *testing.T) {
	enf := &fakeEnforcer{}
	h := &BlockIPHandler{Enforcer: enf}

	err := h.Execute(context.Background(), ResponseAction{
		Type:   ActionBlockIP,
		Params: BlockIPParams{IP: "127.0.0.1", Duration: time.Hour},
	})
	if err == nil {
		t.Fatal("loopback must be refused")
	}
	if enf.blocks != 0 {
		t.Error("enforcer must not be reached for a refused address")
	}
}

func TestBlockIPHandler_WrongParams(t *testing.T) {
	h := &BlockIPHandler{Enforcer: &fakeEnforcer{}}
	err := h.Execute(context.Background(), ResponseAction{
		Type:   ActionBlockIP,
		Params: NotifyParams{Recipient: "victim"},
	})
	if err == nil || !strings.Contains(err.Error(), "unexpected params") {
		t.Fatalf("expected params mismatch, got %v", err)
	}
}

// ─── RateLimitHandler ───────────────────────────────────────────────────────

func TestRateLimitHandler(t *testing.T) {
	enf := &fakeEnforcer{}
	h := &RateLimitHandler{Enforcer: enf}

	action := ResponseAction{
		Type: ActionApplyLimit,
		Params: RateLimitParams{
			Subject:     "user-42",
			MaxRequests: 10,
			Window:      time.Minute,
			Duration:    time.Hour,
		},
	}
	if err := h.Execute(context.Background(), action); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if enf.limits != 1 {
		t.Errorf("limits = %d, want 1", enf.limits)
	}

	if err := h.Rollback(context.Background(), action); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if enf.removes != 1 {
		t.Errorf("removes = %d, want 1", enf.removes)
	}
}

// ─── NotifyHandler ──────────────────────────────────────────────────────────

func TestNotifyHandler_NilNotifierIsNoOp(t *testing.T) {
	h := &NotifyHandler{}
	err := h.Execute(context.Background(), ResponseAction{
		Type:   ActionNotify,
		Params: NotifyParams{Recipient: "ops", Template: "alert", Priority: 2},
	})
	if err != nil {
		t.Fatalf("nil notifier must succeed: %v", err)
	}
}

func TestNotifyHandler_PropagatesFailure(t *testing.T) {
	h := &NotifyHandler{Notifier: failingNotifier{}}
	err := h.Execute(context.Background(), ResponseAction{
		Type:   ActionNotify,
		Params: NotifyParams{Recipient: "ops", Template: "alert", Priority: 2},
	})
	if err == nil {
		t.Fatal("notifier failure must propagate")
	}
}

// ─── MonitorHandler ─────────────────────────────────────────────────────────

func TestMonitorHandler_RegisterAndRemove(t *testing.T) {
	watches := NewWatchTable()
	h := &MonitorHandler{Watches: watches}

	action := ResponseAction{
		Type: ActionMonitorMetric,
		Params: MonitorParams{
			Metric:    "request_rate",
			Threshold: 100,
			Window:    5 * time.Minute,
		},
	}
	if err := h.Execute(context.Background(), action); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	active := watches.Active()
	if len(active) != 1 || active[0].Metric != "request_rate" {
		t.Fatalf("expected one request_rate watch, got %v", active)
	}
	if active[0].Threshold != 100 {
		t.Errorf("threshold = %v, want 100", active[0].Threshold)
	}

	if err := h.Rollback(context.Background(), action); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(watches.Active()) != 0 {
		t.Error("rollback must remove the watch")
	}

	// Removing again is a no-op.
	if err := h.Rollback(context.Background(), action); err != nil {
		t.Fatalf("repeated Rollback: %v", err)
	}
}

func TestWatchTable_RegisterRefreshes(t *testing.T) {
	watches := NewWatchTable()
	watches.Register(MetricWatch{Metric: "error_rate", Threshold: 1})
	watches.Register(MetricWatch{Metric: "error_rate", Threshold: 5})

	active := watches.Active()
	if len(active) != 1 {
		t.Fatalf("expected one watch, got %d", len(active))
	}
	if active[0].Threshold != 5 {
		t.Errorf("refresh lost: threshold = %v", active[0].Threshold)
	}
}

// ─── DefaultHandlers ────────────────────────────────────────────────────────

func TestDefaultHandlers_CoverEveryActionType(t *testing.T) {
	handlers := DefaultHandlers(zerolog.Nop(), &fakeEnforcer{}, nil, nil, nil)
	for _, typ := range []ActionType{
		ActionBlockIP, ActionApplyLimit, ActionAnalyzeLogs,
		ActionNotify, ActionAuditLog, ActionMonitorMetric,
	} {
		if handlers[typ] == nil {
			t.Errorf("no handler for %s", typ)
		}
	}
}
