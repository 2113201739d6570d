package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// action.go — ResponseAction model and the ActionGenerator.
//
// Parameters are a tagged variant per action type, validated at
// construction rather than read defensively at execution time.
// ---------------------------------------------------------------------------

// ActionType enumerates the kinds of response actions.
type ActionType string

const (
	ActionBlockIP       ActionType = "block_ip"
	ActionApplyLimit    ActionType = "apply_rate_limit"
	ActionAnalyzeLogs   ActionType = "analyze_logs"
	ActionNotify        ActionType = "notify"
	ActionAuditLog      ActionType = "audit_log"
	ActionMonitorMetric ActionType = "monitor_metric"
)

// Rollback strategy names understood by the action handlers.
const (
	RollbackUnblock     = "unblock"
	RollbackRemoveLimit = "remove_limit"
)

// ActionParams is the tagged parameter variant carried by a ResponseAction.
// Each variant holds only the fields its action needs.
type ActionParams interface {
	Kind() ActionType
	Validate() error
}

// BlockIPParams configures an IP block.
type BlockIPParams struct {
	IP       string        `json:"ip"`
	Duration time.Duration `json:"duration"`
}

func (p BlockIPParams) Kind() ActionType { return ActionBlockIP }
func (p BlockIPParams) Validate() error {
	if p.IP == "" {
		return fmt.Errorf("block_ip: missing ip")
	}
	if p.Duration <= 0 {
		return fmt.Errorf("block_ip: duration must be positive")
	}
	return nil
}

// RateLimitParams configures a secondary, response-driven rate limit.
type RateLimitParams struct {
	Subject     string        `json:"subject"`
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
	Duration    time.Duration `json:"duration"`
}

func (p RateLimitParams) Kind() ActionType { return ActionApplyLimit }
func (p RateLimitParams) Validate() error {
	if p.Subject == "" {
		return fmt.Errorf("apply_rate_limit: missing subject")
	}
	if p.MaxRequests <= 0 || p.Window <= 0 {
		return fmt.Errorf("apply_rate_limit: limit and window must be positive")
	}
	return nil
}

// LogAnalysisParams configures a retrospective log sweep.
type LogAnalysisParams struct {
	Subject  string        `json:"subject"`
	Lookback time.Duration `json:"lookback"`
	Patterns []string      `json:"patterns,omitempty"`
}

func (p LogAnalysisParams) Kind() ActionType { return ActionAnalyzeLogs }
func (p LogAnalysisParams) Validate() error {
	if p.Lookback <= 0 {
		return fmt.Errorf("analyze_logs: lookback must be positive")
	}
	return nil
}

// NotifyParams configures a user/operator notification.
type NotifyParams struct {
	Recipient string `json:"recipient"`
	Template  string `json:"template"`
	Priority  int    `json:"priority"`
}

func (p NotifyParams) Kind() ActionType { return ActionNotify }
func (p NotifyParams) Validate() error {
	if p.Recipient == "" {
		return fmt.Errorf("notify: missing recipient")
	}
	return nil
}

// AuditParams configures the always-present audit record.
type AuditParams struct {
	Event  string            `json:"event"`
	Fields map[string]string `json:"fields,omitempty"`
}

func (p AuditParams) Kind() ActionType { return ActionAuditLog }
func (p AuditParams) Validate() error {
	if p.Event == "" {
		return fmt.Errorf("audit_log: missing event")
	}
	return nil
}

// MonitorParams configures a forward-looking metric watch.
type MonitorParams struct {
	Metric    string        `json:"metric"`
	Threshold float64       `json:"threshold"`
	Window    time.Duration `json:"window"`
}

func (p MonitorParams) Kind() ActionType { return ActionMonitorMetric }
func (p MonitorParams) Validate() error {
	if p.Metric == "" {
		return fmt.Errorf("monitor_metric: missing metric")
	}
	if p.Window <= 0 {
		return fmt.Errorf("monitor_metric: window must be positive")
	}
	return nil
}

// ResponseAction is one unit of work in a ThreatResponse. Higher priority
// runs earlier; actions sharing a priority value form one execution tier.
type ResponseAction struct {
	ActionID         string        `json:"action_id"`
	Type             ActionType    `json:"type"`
	Target           string        `json:"target"`
	Params           ActionParams  `json:"params"`
	Priority         int           `json:"priority"`
	Timeout          time.Duration `json:"timeout"`
	RollbackStrategy string        `json:"rollback_strategy,omitempty"`
	ValidationRules  []string      `json:"validation_rules,omitempty"`
}

// UnmarshalJSON decodes the tagged params variant by action type, so
// persisted responses round-trip through the stores.
func (a *ResponseAction) UnmarshalJSON(data []byte) error {
	type alias ResponseAction
	aux := struct {
		*alias
		Params json.RawMessage `json:"params"`
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Params) == 0 || string(aux.Params) == "null" {
		return nil
	}

	switch a.Type {
	case ActionBlockIP:
		var p BlockIPParams
		if err := json.Unmarshal(aux.Params, &p); err != nil {
			return err
		}
		a.Params = p
	case ActionApplyLimit:
		var p RateLimitParams
		if err := json.Unmarshal(aux.Params, &p); err != nil {
			return err
		}
		a.Params = p
	case ActionAnalyzeLogs:
		var p LogAnalysisParams
		if err := json.Unmarshal(aux.Params, &p); err != nil {
			return err
		}
		a.Params = p
	case ActionNotify:
		var p NotifyParams
		if err := json.Unmarshal(aux.Params, &p); err != nil {
			return err
		}
		a.Params = p
	case ActionAuditLog:
		var p AuditParams
		if err := json.Unmarshal(aux.Params, &p); err != nil {
			return err
		}
		a.Params = p
	case ActionMonitorMetric:
		var p MonitorParams
		if err := json.Unmarshal(aux.Params, &p); err != nil {
			return err
		}
		a.Params = p
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Validate checks the action invariants: positive timeout, a usable ID,
// and well-formed parameters.
func (a ResponseAction) Validate() error {
	if a.ActionID == "" {
		return fmt.Errorf("action %s: missing action id", a.Type)
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("action %s: timeout must be positive", a.Type)
	}
	if a.Params == nil {
		return fmt.Errorf("action %s: missing params", a.Type)
	}
	if a.Params.Kind() != a.Type {
		return fmt.Errorf("action %s: params are for %s", a.Type, a.Params.Kind())
	}
	return a.Params.Validate()
}

// ValidateActions checks every action and enforces per-response ID
// uniqueness.
func ValidateActions(actions []ResponseAction) error {
	seen := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, dup := seen[a.ActionID]; dup {
			return fmt.Errorf("duplicate action id %q", a.ActionID)
		}
		seen[a.ActionID] = struct{}{}
	}
	return nil
}

// SortActions orders a list priority-descending with a stable sort, so
// equal-priority ties retain generation order.
func SortActions(actions []ResponseAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority > actions[j].Priority
	})
}

// ActionGeneratorConfig carries the tunable parts of action generation.
type ActionGeneratorConfig struct {
	BlockDuration    time.Duration `yaml:"block_duration" json:"block_duration"`
	SecondaryLimit   int           `yaml:"secondary_limit" json:"secondary_limit"`
	SecondaryWindow  time.Duration `yaml:"secondary_window" json:"secondary_window"`
	LogLookback      time.Duration `yaml:"log_lookback" json:"log_lookback"`
	DefaultTimeout   time.Duration `yaml:"default_timeout" json:"default_timeout"`
	SecurityContact  string        `yaml:"security_contact" json:"security_contact"`
}

// DefaultActionGeneratorConfig returns sane defaults.
func DefaultActionGeneratorConfig() ActionGeneratorConfig {
	return ActionGeneratorConfig{
		BlockDuration:   time.Hour,
		SecondaryLimit:  10,
		SecondaryWindow: time.Minute,
		LogLookback:     24 * time.Hour,
		DefaultTimeout:  30 * time.Second,
		SecurityContact: "security-oncall",
	}
}

// ActionGenerator builds the ordered action list for a strategy.
type ActionGenerator struct {
	cfg ActionGeneratorConfig
}

// NewActionGenerator creates a generator with the given configuration.
func NewActionGenerator(cfg ActionGeneratorConfig) *ActionGenerator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	return &ActionGenerator{cfg: cfg}
}

// Priorities per action class. Primary actions outrank supporting ones so
// containment lands before notification and monitoring.
const (
	priorityBlock   = 100
	priorityLimit   = 90
	priorityAnalyze = 60
	priorityNotify  = 40
	priorityAudit   = 20
	priorityMonitor = 10
)

// Generate builds exactly one primary action shaped by the strategy's
// primary type, the supporting actions (notification when the priority
// warrants it, always an audit record), and forward-looking monitoring.
// The returned list is sorted priority-descending with a stable sort.
func (g *ActionGenerator) Generate(strategy ResponseStrategy, analysis ThreatAnalysis, data ThreatData) ([]ResponseAction, error) {
	actions := make([]ResponseAction, 0, 5)
	target := data.Metadata["ip"]
	if target == "" {
		target = data.Source
	}
	subject := data.Metadata["user_id"]
	if subject == "" {
		subject = target
	}

	switch strategy.PrimaryType {
	case ResponseBlock:
		actions = append(actions, ResponseAction{
			ActionID:         uuid.New().String(),
			Type:             ActionBlockIP,
			Target:           target,
			Params:           BlockIPParams{IP: target, Duration: g.cfg.BlockDuration},
			Priority:         priorityBlock,
			Timeout:          g.cfg.DefaultTimeout,
			RollbackStrategy: RollbackUnblock,
			ValidationRules:  []string{"valid_ip", "not_allowlisted"},
		})
	case ResponseRateLimit:
		actions = append(actions, ResponseAction{
			ActionID: uuid.New().String(),
			Type:     ActionApplyLimit,
			Target:   subject,
			Params: RateLimitParams{
				Subject:     subject,
				MaxRequests: g.cfg.SecondaryLimit,
				Window:      g.cfg.SecondaryWindow,
				Duration:    g.cfg.BlockDuration,
			},
			Priority:         priorityLimit,
			Timeout:          g.cfg.DefaultTimeout,
			RollbackStrategy: RollbackRemoveLimit,
			ValidationRules:  []string{"positive_limit"},
		})
	case ResponseInvestigate:
		actions = append(actions, ResponseAction{
			ActionID: uuid.New().String(),
			Type:     ActionAnalyzeLogs,
			Target:   subject,
			Params: LogAnalysisParams{
				Subject:  subject,
				Lookback: g.cfg.LogLookback,
				Patterns: analysis.Patterns,
			},
			Priority: priorityAnalyze,
			Timeout:  2 * g.cfg.DefaultTimeout,
			// No rollback: a log sweep has nothing to undo.
		})
	case ResponseAlert, ResponseEscalate:
		actions = append(actions, ResponseAction{
			ActionID: uuid.New().String(),
			Type:     ActionNotify,
			Target:   g.cfg.SecurityContact,
			Params: NotifyParams{
				Recipient: g.cfg.SecurityContact,
				Template:  string(strategy.PrimaryType),
				Priority:  strategy.NotificationPriority,
			},
			Priority: priorityNotify,
			Timeout:  g.cfg.DefaultTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown primary response type %q", strategy.PrimaryType)
	}

	// Supporting: user notification when the strategy is noisy enough.
	if strategy.NotificationPriority >= 2 && strategy.PrimaryType != ResponseAlert && strategy.PrimaryType != ResponseEscalate {
		actions = append(actions, ResponseAction{
			ActionID: uuid.New().String(),
			Type:     ActionNotify,
			Target:   subject,
			Params: NotifyParams{
				Recipient: subject,
				Template:  "account_activity",
				Priority:  strategy.NotificationPriority,
			},
			Priority: priorityNotify,
			Timeout:  g.cfg.DefaultTimeout,
		})
	}

	// Supporting: the audit record is always present.
	actions = append(actions, ResponseAction{
		ActionID: uuid.New().String(),
		Type:     ActionAuditLog,
		Target:   analysis.ThreatID,
		Params: AuditParams{
			Event: fmt.Sprintf("threat_response_%s", strategy.PrimaryType),
			Fields: map[string]string{
				"threat_id": analysis.ThreatID,
				"severity":  analysis.Severity.String(),
				"source":    data.Source,
			},
		},
		Priority: priorityAudit,
		Timeout:  g.cfg.DefaultTimeout,
	})

	// Monitoring: watch the subject's request rate going forward.
	actions = append(actions, ResponseAction{
		ActionID: uuid.New().String(),
		Type:     ActionMonitorMetric,
		Target:   subject,
		Params: MonitorParams{
			Metric:    "request_rate:" + subject,
			Threshold: float64(g.cfg.SecondaryLimit),
			Window:    g.cfg.SecondaryWindow,
		},
		Priority: priorityMonitor,
		Timeout:  g.cfg.DefaultTimeout,
	})

	SortActions(actions)
	if err := ValidateActions(actions); err != nil {
		return nil, err
	}
	return actions, nil
}
