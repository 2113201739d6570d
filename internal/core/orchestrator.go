package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// orchestrator.go — response orchestration and the persisted state machine.
//
// Status moves pending → executing → {completed | failed} → rolled_back.
// No edge leaves rolled_back, and rollback is only ever a distinct,
// explicit call. Every transition is persisted before the next step
// proceeds: a crash mid-execution leaves a durable, reconcilable
// executing record instead of a silently lost one.
// ---------------------------------------------------------------------------

// ResponseStatus is the state-machine field of a ThreatResponse.
type ResponseStatus string

const (
	StatusPending    ResponseStatus = "pending"
	StatusExecuting  ResponseStatus = "executing"
	StatusCompleted  ResponseStatus = "completed"
	StatusFailed     ResponseStatus = "failed"
	StatusRolledBack ResponseStatus = "rolled_back"
)

var validTransitions = map[ResponseStatus]map[ResponseStatus]bool{
	StatusPending:    {StatusExecuting: true},
	StatusExecuting:  {StatusCompleted: true, StatusFailed: true},
	StatusCompleted:  {StatusRolledBack: true},
	StatusFailed:     {StatusRolledBack: true},
	StatusRolledBack: {},
}

// CanTransition reports whether from → to is a legal status edge.
func CanTransition(from, to ResponseStatus) bool {
	return validTransitions[from][to]
}

// ThreatResponse is the persisted record of one orchestrated response.
// It is owned exclusively by the Orchestrator instance that created it.
type ThreatResponse struct {
	ResponseID      string            `json:"response_id"`
	ThreatID        string            `json:"threat_id"`
	ResponseType    ResponseType      `json:"response_type"`
	Severity        Severity          `json:"severity"`
	Actions         []ResponseAction  `json:"actions"`
	Confidence      float64           `json:"confidence"`
	EstimatedImpact float64           `json:"estimated_impact"`
	Status          ResponseStatus    `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Results         []ExecutionResult `json:"results,omitempty"`
	RollbackResults []ExecutionResult `json:"rollback_results,omitempty"`
	Strategy        ResponseStrategy  `json:"strategy"`
}

func (r *ThreatResponse) clone() *ThreatResponse {
	out := *r
	out.Actions = append([]ResponseAction(nil), r.Actions...)
	out.Results = append([]ExecutionResult(nil), r.Results...)
	out.RollbackResults = append([]ExecutionResult(nil), r.RollbackResults...)
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// ThreatIntelligenceService provides raw threat records for manual
// escalation. External collaborator; never consulted on the hot path.
type ThreatIntelligenceService interface {
	GetThreat(ctx context.Context, threatID string) (map[string]interface{}, error)
}

// responseRecord is one entry in the orchestrator's audit ring buffer.
type responseRecord struct {
	ResponseID string         `json:"response_id"`
	ThreatID   string         `json:"threat_id"`
	Type       ResponseType   `json:"type"`
	Severity   Severity       `json:"severity"`
	Status     ResponseStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
}

// OrchestratorConfig carries orchestration tunables.
type OrchestratorConfig struct {
	Thresholds ImpactThresholds `yaml:"thresholds" json:"thresholds"`
	// Cooldown damps repeat auto-executions for one source. Zero disables.
	Cooldown   time.Duration `yaml:"cooldown" json:"cooldown"`
	MaxRecords int           `yaml:"max_records" json:"max_records"`
}

// DefaultOrchestratorConfig returns sane defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Thresholds: DefaultImpactThresholds(),
		Cooldown:   time.Minute,
		MaxRecords: 1000,
	}
}

// Orchestrator composes the decision pipeline, executor, store, and
// fan-out, and owns the ThreatResponse state machine.
type Orchestrator struct {
	logger    zerolog.Logger
	cfg       OrchestratorConfig
	engine    *DecisionEngine
	generator *ActionGenerator
	executor  *ConcurrentActionExecutor
	store     ThreatResponseStore
	fanout    *Fanout
	intel     ThreatIntelligenceService
	bus       *EventBus
	metrics   *Metrics

	mu        sync.Mutex
	cooldowns map[string]time.Time
	records   []responseRecord
}

// NewOrchestrator wires the orchestrator. intel, bus, and metrics may be
// nil; store, engine, generator, and executor are required.
func NewOrchestrator(
	logger zerolog.Logger,
	cfg OrchestratorConfig,
	engine *DecisionEngine,
	generator *ActionGenerator,
	executor *ConcurrentActionExecutor,
	store ThreatResponseStore,
	fanout *Fanout,
	intel ThreatIntelligenceService,
	bus *EventBus,
	metrics *Metrics,
) *Orchestrator {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 1000
	}
	return &Orchestrator{
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		cfg:       cfg,
		engine:    engine,
		generator: generator,
		executor:  executor,
		store:     store,
		fanout:    fanout,
		intel:     intel,
		bus:       bus,
		metrics:   metrics,
		cooldowns: make(map[string]time.Time),
		records:   make([]responseRecord, 0, 256),
	}
}

// OrchestrateResponse runs the full pipeline for one signal: analysis,
// strategy, action generation, validation, persistence, and (when the
// strategy allows it) execution. Only persistence failures propagate.
func (o *Orchestrator) OrchestrateResponse(ctx context.Context, data ThreatData) (*ThreatResponse, error) {
	start := time.Now()

	if data.Source == "" {
		return nil, fmt.Errorf("%w: threat data has no source", ErrValidation)
	}
	if data.ThreatID == "" {
		data.ThreatID = uuid.New().String()
	}
	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now().UTC()
	}

	analysis := o.engine.Analyze(ctx, data)
	strategy := SelectStrategy(analysis, o.cfg.Thresholds)

	actions, err := o.generator.Generate(strategy, analysis, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	resp := &ThreatResponse{
		ResponseID:      uuid.New().String(),
		ThreatID:        data.ThreatID,
		ResponseType:    strategy.PrimaryType,
		Severity:        analysis.Severity,
		Actions:         actions,
		Confidence:      analysis.Confidence,
		EstimatedImpact: analysis.EstimatedImpact,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
		Metadata:        map[string]string{"source": data.Source},
		Strategy:        strategy,
	}
	for k, v := range data.Metadata {
		resp.Metadata[k] = v
	}

	onCooldown := o.onCooldown(data.Source)
	if onCooldown {
		resp.Metadata["cooldown"] = "true"
	}

	// The pending record is durable before any side-effecting action runs.
	if err := o.store.Insert(ctx, resp); err != nil {
		return nil, &PersistenceError{Op: "insert", Err: err}
	}
	o.record(resp)
	o.publishTransition(resp)

	o.logger.Info().
		Str("response_id", resp.ResponseID).
		Str("threat_id", resp.ThreatID).
		Str("type", string(strategy.PrimaryType)).
		Int("escalation", strategy.EscalationLevel).
		Bool("auto_execute", strategy.AutoExecute).
		Bool("cooldown", onCooldown).
		Msg("threat response created")

	if strategy.AutoExecute && !onCooldown {
		if err := o.execute(ctx, resp); err != nil {
			return nil, err
		}
		o.setCooldown(data.Source)
	}

	o.fanout.Dispatch(ctx, resp, resp.Results)

	if o.metrics != nil {
		o.metrics.OrchestrationSeconds.Observe(time.Since(start).Seconds())
	}
	return resp, nil
}

// ExecuteResponse runs a pending response that was not auto-executed
// (human review paths call this after approval).
func (o *Orchestrator) ExecuteResponse(ctx context.Context, responseID string) (*ThreatResponse, error) {
	resp, err := o.store.Find(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusPending {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, resp.Status, StatusExecuting)
	}
	if err := o.execute(ctx, resp); err != nil {
		return nil, err
	}
	o.fanout.Dispatch(ctx, resp, resp.Results)
	return resp, nil
}

// execute moves the response through executing to its terminal status.
// The response completes iff every execution result succeeded.
func (o *Orchestrator) execute(ctx context.Context, resp *ThreatResponse) error {
	if err := o.transition(ctx, resp, StatusExecuting); err != nil {
		return err
	}

	resp.Results = o.executor.ExecuteActions(ctx, resp.Actions)

	terminal := StatusCompleted
	if !AllSucceeded(resp.Results) {
		terminal = StatusFailed
	}
	now := time.Now().UTC()
	resp.CompletedAt = &now

	if err := o.transition(ctx, resp, terminal); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.ObserveResponse(terminal)
	}

	o.logger.Info().
		Str("response_id", resp.ResponseID).
		Str("status", string(terminal)).
		Int("actions", len(resp.Actions)).
		Msg("threat response executed")
	return nil
}

// RollbackResponse undoes an executed response. It is idempotent: rolling
// back an already rolled-back response returns it unchanged with no error.
func (o *Orchestrator) RollbackResponse(ctx context.Context, responseID string) (*ThreatResponse, error) {
	resp, err := o.store.Find(ctx, responseID)
	if err != nil {
		return nil, err
	}

	if resp.Status == StatusRolledBack {
		return resp, nil
	}
	if !CanTransition(resp.Status, StatusRolledBack) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, resp.Status, StatusRolledBack)
	}

	resp.RollbackResults = o.executor.RollbackActions(ctx, resp.Actions)
	if err := o.transition(ctx, resp, StatusRolledBack); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.ObserveResponse(StatusRolledBack)
	}

	o.logger.Info().
		Str("response_id", resp.ResponseID).
		Int("actions", len(resp.Actions)).
		Msg("threat response rolled back")

	o.fanout.Dispatch(ctx, resp, resp.RollbackResults)
	return resp, nil
}

// EscalateThreat orchestrates a response for a known threat record pulled
// from the threat-intelligence service. Manual escalation entry point.
func (o *Orchestrator) EscalateThreat(ctx context.Context, threatID string) (*ThreatResponse, error) {
	if o.intel == nil {
		return nil, fmt.Errorf("no threat intelligence service configured")
	}
	raw, err := o.intel.GetThreat(ctx, threatID)
	if err != nil {
		return nil, fmt.Errorf("fetching threat %s: %w", threatID, err)
	}

	data := NewThreatData("manual_escalation", SeverityHigh)
	data.ThreatID = threatID
	if sev, ok := raw["severity"].(string); ok {
		data.Severity = ParseSeverity(sev)
	}
	if src, ok := raw["source"].(string); ok && src != "" {
		data.Source = src
	}
	if impact, ok := raw["impact"].(float64); ok {
		data.Impact = impact
	}
	for k, v := range raw {
		if f, ok := v.(float64); ok && k != "impact" {
			data.RiskFactors[k] = f
		}
	}

	return o.OrchestrateResponse(ctx, data)
}

// transition applies a status edge and persists it before returning.
func (o *Orchestrator) transition(ctx context.Context, resp *ThreatResponse, to ResponseStatus) error {
	if !CanTransition(resp.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, resp.Status, to)
	}
	resp.Status = to
	if err := o.store.Update(ctx, resp); err != nil {
		return &PersistenceError{Op: "update", Err: err}
	}
	o.record(resp)
	o.publishTransition(resp)
	return nil
}

func (o *Orchestrator) publishTransition(resp *ThreatResponse) {
	if o.bus == nil {
		return
	}
	subject := fmt.Sprintf("aegis.responses.%s.%s", resp.ResponseType, resp.Status)
	if err := o.bus.Publish(subject, resp); err != nil {
		o.logger.Warn().Err(err).Str("response_id", resp.ResponseID).Msg("failed to publish response transition")
	}
}

func (o *Orchestrator) onCooldown(source string) bool {
	if o.cfg.Cooldown == 0 {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.cooldowns[source]
	return ok && time.Since(last) < o.cfg.Cooldown
}

func (o *Orchestrator) setCooldown(source string) {
	if o.cfg.Cooldown == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cooldowns[source] = time.Now()
}

func (o *Orchestrator) record(resp *ThreatResponse) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.records) >= o.cfg.MaxRecords {
		o.records = o.records[o.cfg.MaxRecords/10:]
	}
	o.records = append(o.records, responseRecord{
		ResponseID: resp.ResponseID,
		ThreatID:   resp.ThreatID,
		Type:       resp.ResponseType,
		Severity:   resp.Severity,
		Status:     resp.Status,
		Timestamp:  time.Now().UTC(),
	})
}

// Find returns a persisted response by ID.
func (o *Orchestrator) Find(ctx context.Context, responseID string) (*ThreatResponse, error) {
	return o.store.Find(ctx, responseID)
}

// List returns recent persisted responses.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*ThreatResponse, error) {
	return o.store.List(ctx, limit)
}

// Stats returns summary statistics for the orchestrator.
func (o *Orchestrator) Stats() map[string]interface{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	byStatus := make(map[string]int)
	byType := make(map[string]int)
	for _, r := range o.records {
		byStatus[string(r.Status)]++
		byType[string(r.Type)]++
	}
	return map[string]interface{}{
		"total_records":    len(o.records),
		"by_status":        byStatus,
		"by_type":          byType,
		"active_cooldowns": len(o.cooldowns),
	}
}
