// Package ratelimit provides the sliding-window rate limiters consumed by
// the request-path bridge and the response action handlers.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Rule describes one rate limit: a request budget over a rolling window.
type Rule struct {
	Name                  string        `json:"name"`
	MaxRequests           int           `json:"max_requests"`
	Window                time.Duration `json:"window"`
	EnableAttackDetection bool          `json:"enable_attack_detection"`
}

// Result is the outcome of one limit check.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetTime  time.Time     `json:"reset_time"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// CheckContext carries the identifying request context threaded through a
// limit check. All fields are optional.
type CheckContext struct {
	UserID    string `json:"user_id,omitempty"`
	Role      string `json:"role,omitempty"`
	IP        string `json:"ip,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// RateLimiter is the external limiter contract. Implementations must
// tolerate concurrent calls for the same identifier with atomic semantics.
type RateLimiter interface {
	CheckLimit(ctx context.Context, identifier string, rule Rule, rc CheckContext) (Result, error)
	IncrementCounter(ctx context.Context, identifier string, rule Rule) error
	GetRemainingRequests(ctx context.Context, identifier string, rule Rule) (int, error)
	ResetCounter(ctx context.Context, identifier string, rule Rule) error
	IsBlocked(ctx context.Context, identifier string) (bool, error)

	// Enforcement surface used by response actions.
	Block(ctx context.Context, identifier string, d time.Duration) error
	Unblock(ctx context.Context, identifier string) error
	ApplyLimit(ctx context.Context, subject string, maxRequests int, window, d time.Duration) error
	RemoveLimit(ctx context.Context, subject string) error
}

// appliedLimit is a secondary, response-driven limit overriding the tier
// rule for one subject until it expires.
type appliedLimit struct {
	rule    Rule
	expires time.Time
}

// MemoryLimiter is a process-local sliding-window limiter. Suitable for
// tests and single-instance deployments; multi-instance deployments use
// the Redis limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	blocked map[string]time.Time
	applied map[string]appliedLimit
	now     func() time.Time
}

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string][]time.Time),
		blocked: make(map[string]time.Time),
		applied: make(map[string]appliedLimit),
		now:     time.Now,
	}
}

func key(identifier string, rule Rule) string {
	return rule.Name + ":" + identifier
}

// effectiveRule returns the stricter of the tier rule and any secondary
// limit applied to the identifier.
func (l *MemoryLimiter) effectiveRule(identifier string, rule Rule) Rule {
	if a, ok := l.applied[identifier]; ok {
		if l.now().Before(a.expires) && a.rule.MaxRequests < rule.MaxRequests {
			return a.rule
		}
		if !l.now().Before(a.expires) {
			delete(l.applied, identifier)
		}
	}
	return rule
}

// prune drops window entries older than the rolling window.
func prune(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && entries[i].Before(cutoff) {
		i++
	}
	return entries[i:]
}

// CheckLimit atomically checks and consumes one request against the rule.
func (l *MemoryLimiter) CheckLimit(_ context.Context, identifier string, rule Rule, _ CheckContext) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.blocked[identifier]; ok {
		if now.Before(until) {
			return Result{
				Allowed:    false,
				Limit:      rule.MaxRequests,
				Remaining:  0,
				ResetTime:  until,
				RetryAfter: until.Sub(now),
			}, nil
		}
		delete(l.blocked, identifier)
	}

	rule = l.effectiveRule(identifier, rule)
	k := key(identifier, rule)
	entries := prune(l.windows[k], now.Add(-rule.Window))

	if len(entries) >= rule.MaxRequests {
		l.windows[k] = entries
		reset := entries[0].Add(rule.Window)
		return Result{
			Allowed:    false,
			Limit:      rule.MaxRequests,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: reset.Sub(now),
		}, nil
	}

	entries = append(entries, now)
	l.windows[k] = entries
	return Result{
		Allowed:   true,
		Limit:     rule.MaxRequests,
		Remaining: rule.MaxRequests - len(entries),
		ResetTime: now.Add(rule.Window),
	}, nil
}

func (l *MemoryLimiter) IncrementCounter(_ context.Context, identifier string, rule Rule) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(identifier, rule)
	l.windows[k] = append(prune(l.windows[k], l.now().Add(-rule.Window)), l.now())
	return nil
}

func (l *MemoryLimiter) GetRemainingRequests(_ context.Context, identifier string, rule Rule) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(identifier, rule)
	used := len(prune(l.windows[k], l.now().Add(-rule.Window)))
	remaining := rule.MaxRequests - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *MemoryLimiter) ResetCounter(_ context.Context, identifier string, rule Rule) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key(identifier, rule))
	return nil
}

func (l *MemoryLimiter) IsBlocked(_ context.Context, identifier string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.blocked[identifier]
	if !ok {
		return false, nil
	}
	if l.now().After(until) {
		delete(l.blocked, identifier)
		return false, nil
	}
	return true, nil
}

// Block denies an identifier outright until the duration elapses.
func (l *MemoryLimiter) Block(_ context.Context, identifier string, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked[identifier] = l.now().Add(d)
	return nil
}

// Unblock lifts a block. Unblocking a never-blocked identifier succeeds,
// which keeps rollback idempotent.
func (l *MemoryLimiter) Unblock(_ context.Context, identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocked, identifier)
	return nil
}

// ApplyLimit installs a secondary, response-driven limit for a subject.
func (l *MemoryLimiter) ApplyLimit(_ context.Context, subject string, maxRequests int, window, d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applied[subject] = appliedLimit{
		rule: Rule{
			Name:        "applied:" + subject,
			MaxRequests: maxRequests,
			Window:      window,
		},
		expires: l.now().Add(d),
	}
	return nil
}

// RemoveLimit drops a secondary limit. Removing an absent limit succeeds.
func (l *MemoryLimiter) RemoveLimit(_ context.Context, subject string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.applied, subject)
	return nil
}
