package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ---------------------------------------------------------------------------
// notify.go — notification/integration fan-out.
//
// Fan-out is fire-and-forget: failures are logged and swallowed, never
// propagated, and never block the orchestration. Webhook delivery retries
// with exponential backoff behind a per-channel circuit breaker so a dead
// endpoint cannot soak up the retry budget.
// ---------------------------------------------------------------------------

// NotificationChannel receives the outcome of an orchestration.
type NotificationChannel interface {
	Name() string
	Notify(ctx context.Context, resp *ThreatResponse, results []ExecutionResult) error
}

// IntegrationEndpoint mirrors NotificationChannel for machine consumers
// (SIEM, ticketing). Same fire-and-forget semantics.
type IntegrationEndpoint interface {
	Name() string
	Deliver(ctx context.Context, resp *ThreatResponse, results []ExecutionResult) error
}

// Fanout dispatches a completed orchestration to every channel and
// endpoint, best-effort.
type Fanout struct {
	logger    zerolog.Logger
	channels  []NotificationChannel
	endpoints []IntegrationEndpoint
}

// NewFanout builds a dispatcher over the configured channels/endpoints.
func NewFanout(logger zerolog.Logger, channels []NotificationChannel, endpoints []IntegrationEndpoint) *Fanout {
	return &Fanout{
		logger:    logger.With().Str("component", "notification_fanout").Logger(),
		channels:  channels,
		endpoints: endpoints,
	}
}

// Dispatch notifies everything. Every failure is logged and swallowed.
func (f *Fanout) Dispatch(ctx context.Context, resp *ThreatResponse, results []ExecutionResult) {
	for _, ch := range f.channels {
		if err := ch.Notify(ctx, resp, results); err != nil {
			f.logger.Warn().Err(err).
				Str("channel", ch.Name()).
				Str("response_id", resp.ResponseID).
				Msg("notification channel failed")
		}
	}
	for _, ep := range f.endpoints {
		if err := ep.Deliver(ctx, resp, results); err != nil {
			f.logger.Warn().Err(err).
				Str("endpoint", ep.Name()).
				Str("response_id", resp.ResponseID).
				Msg("integration endpoint failed")
		}
	}
}

// NotifyUser satisfies the Notifier collaborator used by notification
// actions. Transport specifics live outside this core, so the default
// records the notification on the structured log.
func (f *Fanout) NotifyUser(_ context.Context, recipient, template string, priority int) error {
	f.logger.Info().
		Str("recipient", recipient).
		Str("template", template).
		Int("priority", priority).
		Msg("user notification dispatched")
	return nil
}

// LogChannel writes orchestration outcomes to the structured log.
type LogChannel struct {
	Logger zerolog.Logger
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Notify(_ context.Context, resp *ThreatResponse, results []ExecutionResult) error {
	c.Logger.Info().
		Str("response_id", resp.ResponseID).
		Str("threat_id", resp.ThreatID).
		Str("status", string(resp.Status)).
		Str("type", string(resp.ResponseType)).
		Int("actions", len(resp.Actions)).
		Int("results", len(results)).
		Msg("threat response outcome")
	return nil
}

// WebhookChannel posts JSON payloads to an external URL with retries and
// a circuit breaker.
type WebhookChannel struct {
	name     string
	url      string
	template string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewWebhookChannel creates a webhook channel. template selects the payload
// shape: "slack" or "generic".
func NewWebhookChannel(logger zerolog.Logger, name, url, template string) *WebhookChannel {
	return &WebhookChannel{
		name:     name,
		url:      url,
		template: template,
		client:   &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		logger:         logger.With().Str("component", "webhook_channel").Str("channel", name).Logger(),
		maxRetries:     3,
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

func (c *WebhookChannel) Name() string { return c.name }

func (c *WebhookChannel) Notify(ctx context.Context, resp *ThreatResponse, results []ExecutionResult) error {
	payload := FormatPayload(c.template, resp, results)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.post(ctx, data)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if err == gobreaker.ErrOpenState {
			// The breaker is open; retrying now cannot help.
			return fmt.Errorf("webhook %s: circuit open", c.name)
		}
		if attempt < c.maxRetries {
			c.backoff(ctx, attempt)
		}
	}
	return fmt.Errorf("webhook %s: %w", c.name, lastErr)
}

func (c *WebhookChannel) post(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aegis-notifier/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) backoff(ctx context.Context, attempt int) {
	delay := time.Duration(float64(c.initialBackoff) * math.Pow(2, float64(attempt)))
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// BusEndpoint publishes orchestration outcomes to the audit bus.
type BusEndpoint struct {
	Bus *EventBus
}

func (e *BusEndpoint) Name() string { return "audit_bus" }

func (e *BusEndpoint) Deliver(_ context.Context, resp *ThreatResponse, results []ExecutionResult) error {
	return e.Bus.Publish(fmt.Sprintf("aegis.responses.%s.%s", resp.ResponseType, resp.Status), map[string]interface{}{
		"response": resp,
		"results":  results,
	})
}

// FormatPayload shapes a notification payload for the named template.
// Unknown templates fall back to generic.
func FormatPayload(template string, resp *ThreatResponse, results []ExecutionResult) map[string]interface{} {
	switch template {
	case "slack":
		emoji := ":white_check_mark:"
		if resp.Status != StatusCompleted {
			emoji = ":rotating_light:"
		}
		return map[string]interface{}{
			"text": fmt.Sprintf("%s threat response %s — %s severity, %d actions, status %s",
				emoji, resp.ResponseID, resp.Severity, len(resp.Actions), resp.Status),
		}
	default:
		return map[string]interface{}{
			"source":      "aegis-orchestrator",
			"response_id": resp.ResponseID,
			"threat_id":   resp.ThreatID,
			"type":        resp.ResponseType,
			"severity":    resp.Severity.String(),
			"status":      resp.Status,
			"actions":     len(resp.Actions),
			"results":     results,
			"timestamp":   time.Now().UTC(),
		}
	}
}
