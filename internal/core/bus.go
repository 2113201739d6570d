package core

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// bus.go — NATS JetStream audit bus.
//
// Every persisted state transition and execution record is published to
// aegis.responses.> so external consumers (SIEM forwarders, dashboards)
// can follow orchestration without coupling to the store. Single-binary
// deployments can run an embedded server.
// ---------------------------------------------------------------------------

// BusConfig holds NATS event bus settings.
type BusConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
	DataDir  string `yaml:"data_dir"`
	Port     int    `yaml:"port"`
}

// EventBus wraps NATS JetStream for audit event publishing.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger

	mu        sync.Mutex
	published int64
	failed    int64
}

// NewEventBus connects to NATS (starting an embedded server first when
// configured) and ensures the audit stream exists.
func NewEventBus(cfg BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger: logger.With().Str("component", "event_bus").Logger(),
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}
		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}
		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}
		ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}
		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if cfg.Embedded {
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.Port)
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	streamCfg := &nats.StreamConfig{
		Name:      "AEGIS_RESPONSES",
		Subjects:  []string{"aegis.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	if _, err := js.AddStream(streamCfg); err != nil {
		// Stream may exist with a different config from a previous version.
		if _, updateErr := js.UpdateStream(streamCfg); updateErr != nil {
			return nil, fmt.Errorf("creating/updating audit stream: %w (original: %v)", updateErr, err)
		}
	}

	bus.logger.Info().Str("url", url).Msg("audit bus connected")
	return bus, nil
}

// Publish serializes v and publishes it on the given subject.
func (b *EventBus) Publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		b.count(false)
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	if _, err := b.js.Publish(subject, data); err != nil {
		b.count(false)
		return fmt.Errorf("publishing %s: %w", subject, err)
	}
	b.count(true)
	return nil
}

func (b *EventBus) count(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.published++
	} else {
		b.failed++
	}
}

// Stats returns publish counters.
func (b *EventBus) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"events_published": b.published,
		"events_failed":    b.failed,
	}
}

// Close drains the connection and stops the embedded server if present.
func (b *EventBus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
	if b.ns != nil {
		b.ns.Shutdown()
	}
	b.logger.Info().Msg("audit bus closed")
}
