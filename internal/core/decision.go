package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// decision.go — DecisionEngine: raw signal → ThreatAnalysis.
//
// Analyze must never fail on malformed input: missing numeric fields
// default to 0, unknown severity labels default to low, and a scorer
// error falls back to the deterministic weighted sum.
// ---------------------------------------------------------------------------

// Well-known risk factor names recognized by the feature normalizer.
const (
	FactorAnomalyScore        = "anomaly_score"
	FactorFrequency           = "frequency"
	FactorViolationCount      = "violation_count"
	FactorUserRisk            = "user_risk"
	FactorIPRisk              = "ip_risk"
	FactorBehavioralDeviation = "behavioral_deviation"
	FactorTemporalDeviation   = "temporal_deviation"
	FactorGeographicDeviation = "geographic_deviation"
	FactorPatternNovelty      = "pattern_novelty"
)

// DecisionEngine wraps a RiskScorer and produces full threat analyses.
type DecisionEngine struct {
	logger   zerolog.Logger
	scorer   RiskScorer
	fallback *WeightedScorer
}

// NewDecisionEngine creates an engine around the given scorer. A nil scorer
// selects the deterministic default.
func NewDecisionEngine(logger zerolog.Logger, scorer RiskScorer) *DecisionEngine {
	fallback := NewWeightedScorer()
	if scorer == nil {
		scorer = fallback
	}
	return &DecisionEngine{
		logger:   logger.With().Str("component", "decision_engine").Logger(),
		scorer:   scorer,
		fallback: fallback,
	}
}

// Analyze derives a ThreatAnalysis from a raw signal. It is deterministic
// given the same scorer and never returns an error.
func (e *DecisionEngine) Analyze(ctx context.Context, data ThreatData) ThreatAnalysis {
	fv := e.featurize(data)

	risk, confidence, err := e.scorer.Score(ctx, fv)
	if err != nil {
		e.logger.Warn().Err(err).Str("threat_id", data.ThreatID).Msg("scorer failed, using weighted fallback")
		risk, confidence, _ = e.fallback.Score(ctx, fv)
	}

	impact := data.Impact
	if impact <= 0 {
		impact = risk * 100
	}
	if impact > 100 {
		impact = 100
	}

	return ThreatAnalysis{
		ThreatID:           data.ThreatID,
		Severity:           data.Severity,
		EstimatedImpact:    impact,
		Confidence:         clamp01(confidence),
		RiskFactors:        data.RiskFactors,
		RecommendedActions: recommendActions(data, risk),
		Patterns:           detectPatterns(data),
		AnalyzedAt:         time.Now().UTC(),
	}
}

// featurize normalizes the heterogeneous signal into a fixed-size vector.
// Frequency-style factors are squashed into [0, 1]; everything missing is 0.
func (e *DecisionEngine) featurize(data ThreatData) FeatureVector {
	freq := data.Factor(FactorFrequency)
	if v := data.Factor(FactorViolationCount); v > freq {
		freq = v
	}

	return FeatureVector{
		AnomalyScore:        clamp01(data.Factor(FactorAnomalyScore)),
		Frequency:           squash(freq, 20),
		SeverityOrdinal:     float64(data.Severity) / float64(SeverityCritical),
		Impact:              clamp01(data.Impact / 100),
		UserRisk:            clamp01(data.Factor(FactorUserRisk)),
		IPRisk:              clamp01(data.Factor(FactorIPRisk)),
		BehavioralDeviation: clamp01(data.Factor(FactorBehavioralDeviation)),
		TemporalDeviation:   clamp01(data.Factor(FactorTemporalDeviation)),
		GeographicDeviation: clamp01(data.Factor(FactorGeographicDeviation)),
		PatternNovelty:      clamp01(data.Factor(FactorPatternNovelty)),
	}
}

// squash maps a raw count onto [0, 1] with saturation at the given ceiling.
func squash(v, ceiling float64) float64 {
	if v <= 0 {
		return 0
	}
	if v >= ceiling {
		return 1
	}
	return v / ceiling
}

func recommendActions(data ThreatData, risk float64) []string {
	actions := make([]string, 0, 4)
	if data.Factor(FactorViolationCount) > 0 {
		actions = append(actions, "throttle_source")
	}
	if risk >= 0.7 || data.Severity >= SeverityHigh {
		actions = append(actions, "block_source")
	}
	if data.Factor(FactorPatternNovelty) > 0.5 {
		actions = append(actions, "analyze_logs")
	}
	actions = append(actions, "audit")
	return actions
}

func detectPatterns(data ThreatData) []string {
	patterns := make([]string, 0, 3)
	if data.Factor(FactorViolationCount) >= 5 {
		patterns = append(patterns, "sustained_rate_abuse")
	}
	if data.Factor(FactorGeographicDeviation) > 0.5 {
		patterns = append(patterns, "geographic_anomaly")
	}
	if data.Factor(FactorTemporalDeviation) > 0.5 {
		patterns = append(patterns, "off_hours_activity")
	}
	return patterns
}
