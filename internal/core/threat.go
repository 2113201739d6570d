package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of a threat signal.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "low"
	}
}

// ParseSeverity maps a label to a Severity. Unknown labels fall back to low
// so malformed signals never abort the pipeline.
func ParseSeverity(s string) Severity {
	switch s {
	case "medium", "MEDIUM":
		return SeverityMedium
	case "high", "HIGH":
		return SeverityHigh
	case "critical", "CRITICAL":
		return SeverityCritical
	default:
		return SeverityLow
	}
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseSeverity(str)
	return nil
}

// ThreatData is the raw suspicious-activity signal entering the pipeline.
// It is created once (by the request path or a background detector) and
// never mutated afterwards.
type ThreatData struct {
	ThreatID    string             `json:"threat_id"`
	Source      string             `json:"source"`
	Severity    Severity           `json:"severity"`
	Timestamp   time.Time          `json:"timestamp"`
	RiskFactors map[string]float64 `json:"risk_factors,omitempty"`
	Impact      float64            `json:"impact,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// NewThreatData creates a signal with a generated ID and current timestamp.
func NewThreatData(source string, severity Severity) ThreatData {
	return ThreatData{
		ThreatID:    uuid.New().String(),
		Source:      source,
		Severity:    severity,
		Timestamp:   time.Now().UTC(),
		RiskFactors: make(map[string]float64),
		Metadata:    make(map[string]string),
	}
}

// Factor returns a named risk factor, defaulting to 0 when absent.
func (d ThreatData) Factor(name string) float64 {
	if d.RiskFactors == nil {
		return 0
	}
	return d.RiskFactors[name]
}

// ThreatAnalysis is the derived assessment of a signal. It is a pure
// function of ThreatData given the same scorer, and is never persisted
// on its own.
type ThreatAnalysis struct {
	ThreatID           string             `json:"threat_id"`
	Severity           Severity           `json:"severity"`
	EstimatedImpact    float64            `json:"estimated_impact"` // 0–100
	Confidence         float64            `json:"confidence"`       // 0–1
	RiskFactors        map[string]float64 `json:"risk_factors,omitempty"`
	RecommendedActions []string           `json:"recommended_actions,omitempty"`
	Patterns           []string           `json:"patterns,omitempty"`
	AnalyzedAt         time.Time          `json:"analyzed_at"`
}
