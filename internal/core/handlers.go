package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// handlers.go — concrete ActionHandler implementations.
//
// Handlers act only through collaborator interfaces so the executor stays
// testable and the enforcement backend (memory, Redis) is swappable.
// ---------------------------------------------------------------------------

// Enforcer is the collaborator that applies blocks and secondary limits.
// The rate limiter implementations satisfy it.
type Enforcer interface {
	Block(ctx context.Context, identifier string, d time.Duration) error
	Unblock(ctx context.Context, identifier string) error
	ApplyLimit(ctx context.Context, subject string, maxRequests int, window, d time.Duration) error
	RemoveLimit(ctx context.Context, subject string) error
}

// Notifier delivers a user-facing notification. Notification channels
// satisfy it through NotifyUser.
type Notifier interface {
	NotifyUser(ctx context.Context, recipient, template string, priority int) error
}

// validateIPAddress rejects addresses that should never be blocked.
func validateIPAddress(ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("invalid IP address: %q", ip)
	}
	if parsed.IsUnspecified() {
		return fmt.Errorf("cannot target unspecified address: %q", ip)
	}
	if parsed.IsMulticast() {
		return fmt.Errorf("cannot target multicast address: %q", ip)
	}
	if parsed.IsLoopback() {
		return fmt.Errorf("cannot target loopback address: %q", ip)
	}
	if parsed.Equal(net.IPv4bcast) {
		return fmt.Errorf("cannot target broadcast address: %q", ip)
	}
	return nil
}

// BlockIPHandler blocks a source address via the enforcer. Rollback
// ("unblock") is idempotent: unblocking a never-blocked address succeeds.
type BlockIPHandler struct {
	Enforcer Enforcer
}

func (h *BlockIPHandler) Execute(ctx context.Context, action ResponseAction) error {
	p, ok := action.Params.(BlockIPParams)
	if !ok {
		return fmt.Errorf("block_ip: unexpected params %T", action.Params)
	}
	if err := validateIPAddress(p.IP); err != nil {
		return err
	}
	return h.Enforcer.Block(ctx, p.IP, p.Duration)
}

func (h *BlockIPHandler) Rollback(ctx context.Context, action ResponseAction) error {
	p, ok := action.Params.(BlockIPParams)
	if !ok {
		return fmt.Errorf("block_ip: unexpected params %T", action.Params)
	}
	return h.Enforcer.Unblock(ctx, p.IP)
}

// RateLimitHandler applies a secondary, response-driven limit. Rollback
// ("remove_limit") is idempotent.
type RateLimitHandler struct {
	Enforcer Enforcer
}

func (h *RateLimitHandler) Execute(ctx context.Context, action ResponseAction) error {
	p, ok := action.Params.(RateLimitParams)
	if !ok {
		return fmt.Errorf("apply_rate_limit: unexpected params %T", action.Params)
	}
	return h.Enforcer.ApplyLimit(ctx, p.Subject, p.MaxRequests, p.Window, p.Duration)
}

func (h *RateLimitHandler) Rollback(ctx context.Context, action ResponseAction) error {
	p, ok := action.Params.(RateLimitParams)
	if !ok {
		return fmt.Errorf("apply_rate_limit: unexpected params %T", action.Params)
	}
	return h.Enforcer.RemoveLimit(ctx, p.Subject)
}

// LogAnalysisHandler records a retrospective analysis request on the audit
// bus for the investigation tooling to pick up. Nothing to undo.
type LogAnalysisHandler struct {
	Logger zerolog.Logger
	Bus    *EventBus
}

func (h *LogAnalysisHandler) Execute(_ context.Context, action ResponseAction) error {
	p, ok := action.Params.(LogAnalysisParams)
	if !ok {
		return fmt.Errorf("analyze_logs: unexpected params %T", action.Params)
	}
	h.Logger.Info().
		Str("subject", p.Subject).
		Dur("lookback", p.Lookback).
		Strs("patterns", p.Patterns).
		Msg("log analysis requested")
	if h.Bus != nil {
		return h.Bus.Publish("aegis.investigations.requested", map[string]interface{}{
			"subject":  p.Subject,
			"lookback": p.Lookback.String(),
			"patterns": p.Patterns,
		})
	}
	return nil
}

func (h *LogAnalysisHandler) Rollback(context.Context, ResponseAction) error { return nil }

// NotifyHandler delivers user/operator notifications through the notifier.
type NotifyHandler struct {
	Notifier Notifier
}

func (h *NotifyHandler) Execute(ctx context.Context, action ResponseAction) error {
	p, ok := action.Params.(NotifyParams)
	if !ok {
		return fmt.Errorf("notify: unexpected params %T", action.Params)
	}
	if h.Notifier == nil {
		return nil
	}
	return h.Notifier.NotifyUser(ctx, p.Recipient, p.Template, p.Priority)
}

func (h *NotifyHandler) Rollback(context.Context, ResponseAction) error { return nil }

// AuditLogHandler writes the audit record to the structured log and the
// audit bus.
type AuditLogHandler struct {
	Logger zerolog.Logger
	Bus    *EventBus
}

func (h *AuditLogHandler) Execute(_ context.Context, action ResponseAction) error {
	p, ok := action.Params.(AuditParams)
	if !ok {
		return fmt.Errorf("audit_log: unexpected params %T", action.Params)
	}
	ev := h.Logger.Info().Str("event", p.Event)
	for k, v := range p.Fields {
		ev = ev.Str(k, v)
	}
	ev.Msg("audit record")

	if h.Bus != nil {
		return h.Bus.Publish("aegis.audit."+p.Event, p.Fields)
	}
	return nil
}

func (h *AuditLogHandler) Rollback(context.Context, ResponseAction) error { return nil }

// MetricWatch is one forward-looking threshold registered by a monitoring
// action.
type MetricWatch struct {
	Metric     string        `json:"metric"`
	Threshold  float64       `json:"threshold"`
	Window     time.Duration `json:"window"`
	Registered time.Time     `json:"registered"`
}

// WatchTable holds active metric watches. Monitoring actions register
// thresholds here; the metrics layer consults it.
type WatchTable struct {
	mu      sync.RWMutex
	watches map[string]MetricWatch
}

// NewWatchTable creates an empty watch table.
func NewWatchTable() *WatchTable {
	return &WatchTable{watches: make(map[string]MetricWatch)}
}

// Register adds or refreshes a watch.
func (w *WatchTable) Register(watch MetricWatch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watches[watch.Metric] = watch
}

// Remove drops a watch; removing an absent watch is a no-op.
func (w *WatchTable) Remove(metric string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches, metric)
}

// Active returns a snapshot of current watches.
func (w *WatchTable) Active() []MetricWatch {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]MetricWatch, 0, len(w.watches))
	for _, watch := range w.watches {
		out = append(out, watch)
	}
	return out
}

// MonitorHandler registers metric thresholds to watch going forward.
type MonitorHandler struct {
	Watches *WatchTable
}

func (h *MonitorHandler) Execute(_ context.Context, action ResponseAction) error {
	p, ok := action.Params.(MonitorParams)
	if !ok {
		return fmt.Errorf("monitor_metric: unexpected params %T", action.Params)
	}
	h.Watches.Register(MetricWatch{
		Metric:     p.Metric,
		Threshold:  p.Threshold,
		Window:     p.Window,
		Registered: time.Now().UTC(),
	})
	return nil
}

func (h *MonitorHandler) Rollback(_ context.Context, action ResponseAction) error {
	if p, ok := action.Params.(MonitorParams); ok {
		h.Watches.Remove(p.Metric)
	}
	return nil
}

// DefaultHandlers wires the built-in handler set, one per action type.
func DefaultHandlers(logger zerolog.Logger, enforcer Enforcer, notifier Notifier, bus *EventBus, watches *WatchTable) map[ActionType]ActionHandler {
	if watches == nil {
		watches = NewWatchTable()
	}
	return map[ActionType]ActionHandler{
		ActionBlockIP:       &BlockIPHandler{Enforcer: enforcer},
		ActionApplyLimit:    &RateLimitHandler{Enforcer: enforcer},
		ActionAnalyzeLogs:   &LogAnalysisHandler{Logger: logger, Bus: bus},
		ActionNotify:        &NotifyHandler{Notifier: notifier},
		ActionAuditLog:      &AuditLogHandler{Logger: logger, Bus: bus},
		ActionMonitorMetric: &MonitorHandler{Watches: watches},
	}
}
