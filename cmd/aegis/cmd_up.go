package main

// ---------------------------------------------------------------------------
// cmd_up.go — start the aegis orchestration engine
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/pixelatedempathy/aegis/internal/api"
	"github.com/pixelatedempathy/aegis/internal/bridge"
	"github.com/pixelatedempathy/aegis/internal/core"
	"github.com/pixelatedempathy/aegis/internal/ratelimit"
)

func buildLogger(cfg *core.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger
}

func cmdUp(args []string) {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	configPath := fs.String("config", "configs/default.yaml", "Config file path")
	logLevel := fs.String("log-level", "", "Log level override: debug, info, warn, error")
	dryRun := fs.Bool("dry-run", false, "Validate config, then exit")
	quiet := fs.Bool("quiet", false, "Suppress banner and non-essential output")
	fs.BoolVar(quiet, "q", false, "Suppress banner and non-essential output")
	noColor := fs.Bool("no-color", false, "Disable color output")
	fs.Parse(args)

	*configPath = envConfig(*configPath)

	if *noColor {
		os.Setenv("NO_COLOR", "1")
	}

	if !*quiet {
		fmt.Fprint(os.Stderr, bannerText())
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *dryRun {
		fmt.Fprintf(os.Stdout, "%s Config valid. %d rate limit tiers, redis %v, bus %v.\n",
			green("✓"), len(cfg.RateLimits), cfg.Redis.Enabled, cfg.Bus.Enabled)
		os.Exit(0)
	}

	if !cfg.AuthEnabled() && !*quiet {
		fmt.Fprintf(os.Stderr, "%s No API keys configured. Set api_keys in config or AEGIS_API_KEY env var.\n", yellow("⚠"))
	}

	logger := buildLogger(cfg)

	// Event bus (embedded NATS JetStream unless pointed elsewhere)
	var bus *core.EventBus
	if cfg.Bus.Enabled {
		bus, err = core.NewEventBus(cfg.Bus, logger)
		if err != nil {
			errorf("starting event bus: %v", err)
		}
	}

	// Storage and rate limiting: Redis when enabled, in-memory otherwise
	var (
		store   core.ThreatResponseStore
		limiter ratelimit.RateLimiter
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store = core.NewRedisResponseStore(client, cfg.Redis.Retention)
		limiter = ratelimit.NewRedisLimiter(client)
	} else {
		store = core.NewMemoryStore()
		limiter = ratelimit.NewMemoryLimiter()
	}

	registry := prometheus.NewRegistry()
	metrics := core.NewMetrics(registry)

	// Notification fan-out
	channels := []core.NotificationChannel{}
	if cfg.Notifications.EnableConsole {
		channels = append(channels, &core.LogChannel{Logger: logger})
	}
	for _, wh := range cfg.Notifications.Webhooks {
		channels = append(channels, core.NewWebhookChannel(logger, wh.Name, wh.URL, wh.Template))
	}
	endpoints := []core.IntegrationEndpoint{}
	if bus != nil {
		endpoints = append(endpoints, &core.BusEndpoint{Bus: bus})
	}
	fanout := core.NewFanout(logger, channels, endpoints)

	// Decision pipeline and executor
	engine := core.NewDecisionEngine(logger, core.NewWeightedScorer())
	generator := core.NewActionGenerator(cfg.Actions)
	watches := core.NewWatchTable()
	handlers := core.DefaultHandlers(logger, limiter, fanout, bus, watches)
	executor := core.NewConcurrentActionExecutor(logger, handlers, cfg.Executor.MaxConcurrent, metrics)

	orch := core.NewOrchestrator(logger, cfg.Orchestrator, engine, generator, executor,
		store, fanout, nil, bus, metrics)

	// Rate limiting bridge
	rules := make(map[string]ratelimit.Rule, len(cfg.RateLimits))
	for tier, rc := range cfg.RateLimits {
		rules[tier] = ratelimit.Rule{
			Name:                  tier,
			MaxRequests:           rc.MaxRequests,
			Window:                rc.Window,
			EnableAttackDetection: rc.EnableAttackDetection,
		}
	}
	br := bridge.New(logger, limiter, orch, bridge.Config{
		Rules:  rules,
		Bypass: bridge.NewBypassRules(cfg.Bypass.AllowedRoles, cfg.Bypass.AllowedIPRanges, cfg.Bypass.AllowedEndpoints),
	}, metrics)

	srv := api.NewServer(logger, cfg, orch, br, registry)
	if err := srv.Start(); err != nil {
		errorf("starting API server: %v", err)
	}

	if !*quiet {
		backend := "memory"
		if cfg.Redis.Enabled {
			backend = "redis"
		}
		fmt.Fprintf(os.Stderr, "%s aegis running, API on :%d, %s backend\n",
			green("✓"), cfg.Server.Port, backend)
		fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop\n", dim("▸"))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	if !*quiet {
		fmt.Fprintf(os.Stderr, "\n%s Received %s, shutting down...\n", dim("▸"), sig)
	}

	srv.Stop()
	if bus != nil {
		bus.Close()
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "%s aegis stopped.\n", green("✓"))
	}
}
