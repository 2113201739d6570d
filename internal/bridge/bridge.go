package bridge

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/pixelatedempathy/aegis/internal/core"
	"github.com/pixelatedempathy/aegis/internal/ratelimit"
)

// ---------------------------------------------------------------------------
// bridge.go — RateLimitingBridge.
//
// The bridge sits in the request path: it applies bypass rules, consults
// the external rate limiter, and on a violation (or near-violation)
// synthesizes a threat signal for the orchestrator. Any internal failure
// fails open: the request is treated as allowed.
// ---------------------------------------------------------------------------

// ResponseOrchestrator is the slice of the orchestrator the bridge needs.
type ResponseOrchestrator interface {
	OrchestrateResponse(ctx context.Context, data core.ThreatData) (*core.ThreatResponse, error)
}

// Result is the outcome of one bridged check.
type Result struct {
	RateLimit      ratelimit.Result     `json:"rate_limit"`
	Response       *core.ThreatResponse `json:"response,omitempty"`
	ShouldBlock    bool                 `json:"should_block"`
	Bypassed       bool                 `json:"bypassed"`
	ThreatDetected bool                 `json:"threat_detected"`
}

// Config carries bridge tunables.
type Config struct {
	// Rules is the severity-tiered rule table. Checks without a richer
	// policy use the low tier.
	Rules map[string]ratelimit.Rule
	// NearLimitRatio is the consumed/limit ratio above which an allowed
	// request still triggers a background orchestration. Zero means the
	// default of 0.8.
	NearLimitRatio float64
	Bypass         BypassRules
}

// bypassRule is the effectively-unlimited rule bypassed requests are
// recorded against, so the check is observable but never binding.
var bypassRule = ratelimit.Rule{
	Name:        "bypass",
	MaxRequests: 1_000_000,
	Window:      time.Minute,
}

// Bridge is the rate-limiting bridge.
type Bridge struct {
	logger  zerolog.Logger
	limiter ratelimit.RateLimiter
	orch    ResponseOrchestrator
	cfg     Config
	metrics *core.Metrics

	// NearLimitHook, when set, observes background near-limit
	// orchestrations after they finish. Test/ops side channel.
	NearLimitHook func(*core.ThreatResponse)
}

// New creates a bridge. metrics may be nil.
func New(logger zerolog.Logger, limiter ratelimit.RateLimiter, orch ResponseOrchestrator, cfg Config, metrics *core.Metrics) *Bridge {
	if cfg.NearLimitRatio <= 0 {
		cfg.NearLimitRatio = 0.8
	}
	if cfg.Rules == nil {
		cfg.Rules = map[string]ratelimit.Rule{}
	}
	return &Bridge{
		logger:  logger.With().Str("component", "rate_limit_bridge").Logger(),
		limiter: limiter,
		orch:    orch,
		cfg:     cfg,
		metrics: metrics,
	}
}

// selectRule picks the rule for a non-bypassed check. No severity hint is
// threaded in from callers today, so this defaults to the low tier.
func (b *Bridge) selectRule() ratelimit.Rule {
	if rule, ok := b.cfg.Rules["low"]; ok {
		return rule
	}
	return ratelimit.Rule{Name: "low", MaxRequests: 100, Window: time.Minute}
}

// Check runs the bridged rate-limit check for one request.
func (b *Bridge) Check(ctx context.Context, identifier string, rc ratelimit.CheckContext) Result {
	bypassed := b.cfg.Bypass.Matches(rc)
	rule := b.selectRule()
	if bypassed {
		rule = bypassRule
	}

	// The check is always recorded against the limiter, bypassed or not.
	rlResult, err := b.limiter.CheckLimit(ctx, identifier, rule, rc)
	if err != nil {
		return b.failOpen(identifier, rule, err)
	}

	if bypassed {
		b.observe("bypassed")
		return Result{RateLimit: rlResult, Bypassed: true}
	}

	if !rlResult.Allowed {
		resp, err := b.handleViolation(ctx, identifier, rule, rlResult, rc)
		if err != nil {
			return b.failOpen(identifier, rule, err)
		}
		b.observe("blocked")
		return Result{
			RateLimit:      rlResult,
			Response:       resp,
			ShouldBlock:    true,
			ThreatDetected: resp != nil,
		}
	}

	// Allowed but close to the limit: escalate in the background without
	// delaying the caller. Failures here are logged and swallowed.
	consumed := rlResult.Limit - rlResult.Remaining
	if rlResult.Limit > 0 && float64(consumed)/float64(rlResult.Limit) > b.cfg.NearLimitRatio {
		go b.escalateNearLimit(identifier, rlResult, rc)
	}

	b.observe("allowed")
	return Result{RateLimit: rlResult}
}

// handleViolation synthesizes a threat signal for a limit violation and
// pushes any response-driven rate limits back onto the limiter.
func (b *Bridge) handleViolation(ctx context.Context, identifier string, rule ratelimit.Rule, rl ratelimit.Result, rc ratelimit.CheckContext) (*core.ThreatResponse, error) {
	violations := rl.Limit - rl.Remaining + 1

	severity := core.SeverityHigh
	if rule.EnableAttackDetection && violations >= 2*rl.Limit {
		severity = core.SeverityCritical
	}

	data := core.NewThreatData(identifier, severity)
	data.RiskFactors[core.FactorViolationCount] = float64(violations)
	data.RiskFactors[core.FactorFrequency] = float64(violations)
	data.Metadata["user_id"] = rc.UserID
	data.Metadata["ip"] = rc.IP
	data.Metadata["endpoint"] = rc.Endpoint
	data.Metadata["user_agent"] = rc.UserAgent
	data.Metadata["rule"] = rule.Name

	resp, err := b.orch.OrchestrateResponse(ctx, data)
	if err != nil {
		return nil, err
	}

	// Secondary, response-driven limits take effect immediately.
	for _, action := range resp.Actions {
		if action.Type != core.ActionApplyLimit {
			continue
		}
		if p, ok := action.Params.(core.RateLimitParams); ok {
			if err := b.limiter.ApplyLimit(ctx, p.Subject, p.MaxRequests, p.Window, p.Duration); err != nil {
				b.logger.Warn().Err(err).Str("subject", p.Subject).Msg("failed to push response-driven limit")
			}
		}
	}

	b.logger.Warn().
		Str("identifier", identifier).
		Int("violations", violations).
		Str("response_id", resp.ResponseID).
		Msg("rate limit violation orchestrated")
	return resp, nil
}

// escalateNearLimit fires a best-effort medium-severity orchestration for
// an identifier approaching its limit.
func (b *Bridge) escalateNearLimit(identifier string, rl ratelimit.Result, rc ratelimit.CheckContext) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data := core.NewThreatData(identifier, core.SeverityMedium)
	data.RiskFactors[core.FactorFrequency] = float64(rl.Limit - rl.Remaining)
	data.Metadata["user_id"] = rc.UserID
	data.Metadata["ip"] = rc.IP
	data.Metadata["endpoint"] = rc.Endpoint
	data.Metadata["near_limit"] = "true"

	resp, err := b.orch.OrchestrateResponse(ctx, data)
	if err != nil {
		b.logger.Warn().Err(err).Str("identifier", identifier).Msg("near-limit orchestration failed")
		return
	}
	if b.metrics != nil {
		b.metrics.NearLimitTotal.Inc()
	}
	b.logger.Info().
		Str("identifier", identifier).
		Str("response_id", resp.ResponseID).
		Msg("near-limit escalation orchestrated")

	if b.NearLimitHook != nil {
		b.NearLimitHook(resp)
	}
}

// failOpen turns any internal bridge failure into an allow decision.
func (b *Bridge) failOpen(identifier string, rule ratelimit.Rule, err error) Result {
	b.logger.Error().Err(err).Str("identifier", identifier).Msg("bridge error, failing open")
	b.observe("fail_open")
	return Result{
		RateLimit: ratelimit.Result{
			Allowed:   true,
			Limit:     rule.MaxRequests,
			Remaining: rule.MaxRequests,
			ResetTime: time.Now().Add(rule.Window),
		},
	}
}

func (b *Bridge) observe(outcome string) {
	if b.metrics != nil {
		b.metrics.ObserveBridgeCheck(outcome)
	}
}
