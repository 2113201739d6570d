package core

// ---------------------------------------------------------------------------
// strategy.go — ResponseStrategySelector: ThreatAnalysis → ResponseStrategy.
//
// Pure function over the analysis and a configured per-severity impact
// threshold table. Comparisons are strict greater-than: a boundary value
// falls into the lower tier.
// ---------------------------------------------------------------------------

// ResponseType is the primary kind of response a strategy calls for.
type ResponseType string

const (
	ResponseBlock       ResponseType = "block"
	ResponseRateLimit   ResponseType = "rate_limit"
	ResponseAlert       ResponseType = "alert"
	ResponseInvestigate ResponseType = "investigate"
	ResponseEscalate    ResponseType = "escalate"
)

// ResponseStrategy describes what kind of response to mount and how urgent
// it is. Derived flags follow from the escalation level alone.
type ResponseStrategy struct {
	PrimaryType          ResponseType `json:"primary_type"`
	EscalationLevel      int          `json:"escalation_level"` // 1..4
	RequiresHumanReview  bool         `json:"requires_human_review"`
	AutoExecute          bool         `json:"auto_execute"`
	NotificationPriority int          `json:"notification_priority"`
}

// ImpactThresholds is the per-severity impact threshold table. An analysis
// whose estimated impact exceeds a threshold is promoted to that tier even
// when its severity label alone would not reach it.
type ImpactThresholds struct {
	Critical float64 `yaml:"critical" json:"critical"`
	High     float64 `yaml:"high" json:"high"`
	Medium   float64 `yaml:"medium" json:"medium"`
}

// DefaultImpactThresholds returns the standard table.
func DefaultImpactThresholds() ImpactThresholds {
	return ImpactThresholds{Critical: 90, High: 70, Medium: 40}
}

// SelectStrategy evaluates the tier rules in first-match order:
// critical severity or impact > critical ⇒ block at level 4; high or
// impact > high ⇒ rate_limit at level 3; medium or impact > medium ⇒
// investigate at level 2; everything else alerts at level 1.
func SelectStrategy(a ThreatAnalysis, t ImpactThresholds) ResponseStrategy {
	var (
		primary ResponseType
		level   int
	)

	switch {
	case a.Severity == SeverityCritical || a.EstimatedImpact > t.Critical:
		primary, level = ResponseBlock, 4
	case a.Severity == SeverityHigh || a.EstimatedImpact > t.High:
		primary, level = ResponseRateLimit, 3
	case a.Severity == SeverityMedium || a.EstimatedImpact > t.Medium:
		primary, level = ResponseInvestigate, 2
	default:
		primary, level = ResponseAlert, 1
	}

	return ResponseStrategy{
		PrimaryType:          primary,
		EscalationLevel:      level,
		RequiresHumanReview:  level >= 3,
		AutoExecute:          level <= 2,
		NotificationPriority: level,
	}
}
